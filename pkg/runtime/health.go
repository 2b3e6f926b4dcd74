package runtime

import (
	"bytes"
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/containust/containust/pkg/compose"
	"github.com/containust/containust/pkg/id"
	"github.com/containust/containust/pkg/isolation"
)

// healthResult is what runHealthProbe reports back to the phase
// coordinator: whether the component reached healthy, or exhausted
// its retries.
type healthResult struct {
	healthy bool
}

// runHealthProbe implements spec.md §4.5 step 5: "enter starting probe
// phase for start_period; afterwards, poll at interval with per-run
// timeout; declare healthy on first success, unhealthy after retries
// consecutive failures." A component with no HealthProbe is
// immediately healthy (spec.md §4.5 step 6: "or immediately when no
// probe").
func runHealthProbe(ctx context.Context, backend isolation.Backend, cid id.ContainerID, probe *compose.HealthProbe, log *logrus.Logger) healthResult {
	if probe == nil {
		return healthResult{healthy: true}
	}

	select {
	case <-time.After(probe.StartPeriod):
	case <-ctx.Done():
		return healthResult{healthy: false}
	}

	failures := 0
	ticker := time.NewTicker(probe.Interval)
	defer ticker.Stop()

	for {
		if runOneProbe(ctx, backend, cid, probe) {
			return healthResult{healthy: true}
		}
		failures++
		log.WithFields(logrus.Fields{"id": cid, "failures": failures}).Debug("health probe failed")
		if failures >= probe.Retries {
			return healthResult{healthy: false}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return healthResult{healthy: false}
		}
	}
}

// runOneProbe execs probe.Command inside the container with a timeout
// and reports success.
func runOneProbe(ctx context.Context, backend isolation.Backend, cid id.ContainerID, probe *compose.HealthProbe) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probe.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	err := backend.Exec(probeCtx, cid, probe.Command, &stdout, &stderr)
	return err == nil
}
