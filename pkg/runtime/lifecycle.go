package runtime

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/containust/containust/pkg/ctsterr"
	"github.com/containust/containust/pkg/id"
	"github.com/containust/containust/pkg/isolation"
	"github.com/containust/containust/pkg/state"
)

// gracePeriod is how long a graceful stop waits between SIGTERM and
// SIGKILL (spec.md §4.5 "Shutdown": "waits up to 10 s, then SIGKILLs").
const gracePeriod = 10 * time.Second

// metricsSampleInterval is how often a Running container's cgroup
// metrics are sampled (spec.md §4.5 "Runtime engine": "metrics
// sampling").
const metricsSampleInterval = 5 * time.Second

// StopContainer implements spec.md §4.5 "Shutdown": graceful stop
// signals SIGTERM and waits up to gracePeriod, force skips the grace
// period and kills immediately. Either way it tears down the
// backend-owned resources and marks the state record Stopped.
func (e *Engine) StopContainer(ctx context.Context, cid id.ContainerID, force bool) error {
	e.mu.Lock()
	delete(e.running, cid) // stop the restart supervisor before signalling, if any
	e.mu.Unlock()

	if err := e.backend.Stop(ctx, cid, force); err != nil {
		return err
	}

	if !force {
		e.waitForExit(ctx, cid, gracePeriod)
	}

	if err := e.backend.Remove(ctx, cid); err != nil {
		e.log.WithError(err).WithField("id", cid).Warn("failed to remove container resources during shutdown")
	}

	return e.states.Update(cid, state.StateStopped, 0, time.Now())
}

// waitForExit blocks until cid's entry process is no longer running or
// timeout elapses, preferring the backend's Waiter if it implements
// one, otherwise polling List().
func (e *Engine) waitForExit(ctx context.Context, cid id.ContainerID, timeout time.Duration) {
	if waiter, ok := e.backend.(isolation.Waiter); ok {
		done := make(chan struct{})
		go func() {
			waiter.Wait(ctx, cid)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			e.backend.Stop(ctx, cid, true)
		}
		return
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		records, err := e.backend.List(ctx)
		if err == nil && !containsID(records, cid) {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	e.backend.Stop(ctx, cid, true)
}

func containsID(records []isolation.Record, cid id.ContainerID) bool {
	for _, r := range records {
		if r.ID == cid {
			return true
		}
	}
	return false
}

// Exec delegates to the backend (spec.md §4.5 "Exec").
func (e *Engine) Exec(ctx context.Context, cid id.ContainerID, cmd []string, stdout, stderr io.Writer) error {
	rec, err := e.states.FindByNameOrIDPrefix(string(cid))
	if err == nil && rec.State != state.StateRunning {
		return ctsterr.New(ctsterr.KindInvalidState, "R005", "exec requires a Running container")
	}
	return e.backend.Exec(ctx, cid, cmd, stdout, stderr)
}

// Logs delegates to the backend (spec.md §4.4 "logs(id) → text").
func (e *Engine) Logs(ctx context.Context, cid id.ContainerID) (string, error) {
	return e.backend.Logs(ctx, cid)
}

// supervise watches a Running container and applies its restart
// policy on exit (spec.md §4.5 "Restart policy"). It exits once the
// container is no longer tracked (removed via StopContainer) or the
// policy declines to restart.
func (e *Engine) supervise(ctx context.Context, cid id.ContainerID) {
	for {
		e.mu.Lock()
		tracked, ok := e.running[cid]
		e.mu.Unlock()
		if !ok {
			return
		}

		exitCode := e.waitForExitCode(ctx, cid)
		unhealthy := !runHealthProbe(ctx, e.backend, cid, tracked.def.Health, e.log).healthy

		e.mu.Lock()
		tracked, stillTracked := e.running[cid]
		e.mu.Unlock()
		if !stillTracked {
			return
		}

		ev := eventExitZero
		next := state.StateStopped
		if exitCode != 0 || unhealthy {
			ev = eventExitNonZero
			next = state.StateFailed
		}
		if _, err := nextState(state.StateRunning, ev); err != nil {
			e.log.WithError(err).WithField("id", cid).Warn("unexpected state machine transition on exit")
		}
		_ = e.states.Update(cid, next, 0, time.Now())
		e.bus.publish(Event{StateChange: &StateChange{ID: cid, Name: tracked.name, From: state.StateRunning, To: next, At: time.Now()}})

		if !shouldRestart(tracked.def.Restart, exitCode, unhealthy) {
			e.mu.Lock()
			delete(e.running, cid)
			e.mu.Unlock()
			return
		}

		tracked.backoff = nextBackoff(tracked.backoff)
		e.log.WithFields(logrus.Fields{"id": cid, "backoff": tracked.backoff}).Info("restarting component")
		select {
		case <-time.After(tracked.backoff):
		case <-ctx.Done():
			return
		}

		if _, err := e.backend.Start(ctx, cid); err != nil {
			e.log.WithError(err).WithField("id", cid).Error("restart failed to start container")
		}
	}
}

// sampleMetrics periodically publishes a MetricsUpdate for cid until it
// leaves e.running or ctx is cancelled. It is a no-op loop when the
// backend doesn't implement isolation.Metricer, so callers can spawn it
// unconditionally the same way supervise is always spawned.
func (e *Engine) sampleMetrics(ctx context.Context, cid id.ContainerID) {
	metricer, ok := e.backend.(isolation.Metricer)
	if !ok {
		return
	}

	ticker := time.NewTicker(metricsSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.mu.Lock()
			_, tracked := e.running[cid]
			e.mu.Unlock()
			if !tracked {
				return
			}
			cpuUsageUsec, memoryBytes, err := metricer.Metrics(cid)
			if err != nil {
				continue
			}
			e.bus.publish(Event{MetricsUpdate: &MetricsUpdate{
				ID: cid, CPUUsageUsec: cpuUsageUsec, MemoryBytes: memoryBytes, At: time.Now(),
			}})
		case <-ctx.Done():
			return
		}
	}
}

// WaitAll blocks until every id in ids has left Running (reached
// Stopped or Failed), or ctx is cancelled. It reports whether every
// container ended in Stopped (as opposed to Failed) — the CLI's `run`
// verb (without -d) uses this to decide its own exit code.
func (e *Engine) WaitAll(ctx context.Context, ids []id.ContainerID) (allStopped bool, err error) {
	allStopped = true
	for _, cid := range ids {
		for {
			rec, ferr := e.states.FindByNameOrIDPrefix(string(cid))
			if ferr != nil {
				return false, ferr
			}
			if rec.State == state.StateStopped || rec.State == state.StateFailed {
				if rec.State == state.StateFailed {
					allStopped = false
				}
				break
			}
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}
	return allStopped, nil
}

// waitForExitCode blocks until cid's entry process exits, preferring
// the backend's Waiter and otherwise polling List() (in which case the
// exit code is unknowable and reported as 1, matching the on-failure
// policy's non-zero-exit trigger).
func (e *Engine) waitForExitCode(ctx context.Context, cid id.ContainerID) int {
	if waiter, ok := e.backend.(isolation.Waiter); ok {
		code, err := waiter.Wait(ctx, cid)
		if err != nil {
			return 1
		}
		return code
	}
	for {
		records, err := e.backend.List(ctx)
		if err == nil && !containsID(records, cid) {
			return 1
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return 1
		}
	}
}
