// Package runtime drives deployments end-to-end: it consults the
// planner for phases, materialises images, invokes the isolation
// backend for each component in phase order, records state
// transitions, and propagates readiness gating (spec.md §4.5
// "Runtime engine"). Structurally grounded on ORCA's
// pkg/scheduler/scheduler.go for the mutex-guarded-struct-with-logger
// shape; the phase/health/restart algorithms themselves are built
// directly from spec.md §4.5 and §4.7, which have no equivalent in
// ORCA (ORCA schedules already-running services, it doesn't bring up
// namespaced processes phase by phase).
package runtime

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/containust/containust/pkg/compose"
	"github.com/containust/containust/pkg/ctsterr"
	"github.com/containust/containust/pkg/graph"
	"github.com/containust/containust/pkg/hash"
	"github.com/containust/containust/pkg/id"
	"github.com/containust/containust/pkg/image"
	"github.com/containust/containust/pkg/isolation"
	"github.com/containust/containust/pkg/state"
)

// Options bundles engine dependencies (spec.md §4.5 "Contract").
type Options struct {
	Backend    isolation.Backend
	Store      *image.Store
	State      *state.Index
	Planner    *graph.Planner
	SecretsDir string
	DataDir    string
	Log        *logrus.Logger
}

// Engine coordinates every phase of a deployment's lifecycle.
type Engine struct {
	backend    isolation.Backend
	store      *image.Store
	states     *state.Index
	planner    *graph.Planner
	secretsDir string
	dataDir    string
	log        *logrus.Logger

	mu      sync.Mutex
	running map[id.ContainerID]*trackedContainer
	bus     eventBus
}

// trackedContainer is the engine-side bookkeeping kept per deployed
// component for the lifetime of the process (spec.md Design Notes
// "the engine is cache-less with respect to running containers" — this
// map is rebuilt fresh on every process start, never persisted).
type trackedContainer struct {
	name    string
	def     *compose.ComponentDef
	backoff time.Duration
}

// New returns an Engine wired to opts' dependencies.
func New(opts Options) *Engine {
	log := opts.Log
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		backend:    opts.Backend,
		store:      opts.Store,
		states:     opts.State,
		planner:    opts.Planner,
		secretsDir: opts.SecretsDir,
		dataDir:    opts.DataDir,
		log:        log,
		running:    map[id.ContainerID]*trackedContainer{},
	}
}

// Events returns a channel of every StateChange/MetricsUpdate the
// engine publishes. The channel is buffered and non-blocking on the
// send side; a slow consumer misses events rather than stalling the
// engine.
func (e *Engine) Events() <-chan Event {
	return e.bus.subscribe(64)
}

// DeployResult is what Deploy reports back to the caller.
type DeployResult struct {
	Started []id.ContainerID
	Failed  string // component name that failed, empty on success
}

// Deploy brings up every component of comp phase by phase (spec.md
// §4.5 "Startup"). A component reaching Failed during its own phase
// halts the deployment and rolls back everything already started, in
// reverse phase order.
func (e *Engine) Deploy(ctx context.Context, comp *compose.Composition) (*DeployResult, error) {
	plan, err := e.planner.Plan(comp)
	if err != nil {
		return nil, err
	}
	graph.ApplyInjection(comp, plan)

	result := &DeployResult{}
	var startedPhases [][]id.ContainerID

	for _, phase := range plan.Phases {
		phaseIDs, failedName, err := e.runPhase(ctx, comp, phase)
		startedPhases = append(startedPhases, phaseIDs)
		result.Started = append(result.Started, phaseIDs...)
		if err != nil {
			result.Failed = failedName
			e.log.WithFields(logrus.Fields{"component": failedName, "error": err}).Error("component failed during startup, rolling back")
			e.rollback(ctx, startedPhases)
			return result, ctsterr.Wrap(ctsterr.KindInvalidState, "R001", fmt.Sprintf("deployment failed at component %q", failedName), err)
		}
	}
	return result, nil
}

// runPhase starts every component in phase concurrently and blocks
// until each reaches Running (and healthy, if probed) or Failed
// (spec.md §4.5: "A phase completes when every component in it is
// Running and (if probed) healthy").
func (e *Engine) runPhase(ctx context.Context, comp *compose.Composition, phase []string) ([]id.ContainerID, string, error) {
	type outcome struct {
		name string
		cid  id.ContainerID
		err  error
	}
	results := make(chan outcome, len(phase))
	var wg sync.WaitGroup
	for _, name := range phase {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			cid, err := e.startComponent(ctx, comp, name)
			results <- outcome{name: name, cid: cid, err: err}
		}(name)
	}
	wg.Wait()
	close(results)

	var ids []id.ContainerID
	var firstFailure string
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
				firstFailure = r.name
			}
			continue
		}
		ids = append(ids, r.cid)
	}
	return ids, firstFailure, firstErr
}

// startComponent runs spec.md §4.5's per-component startup sequence:
// resolve layers, resolve interpolation, create, start, probe, record.
func (e *Engine) startComponent(ctx context.Context, comp *compose.Composition, name string) (id.ContainerID, error) {
	def := comp.Components[name]
	cid := id.NewContainerID()
	log := e.log.WithFields(logrus.Fields{"component": name, "id": cid})

	resolved, err := e.resolveComponent(comp, def)
	if err != nil {
		return cid, err
	}

	img, err := e.store.ResolveImage([]string{resolved.Image}, hash.ContentHash{})
	if err != nil {
		return cid, err
	}
	layerPaths, err := e.store.LayerPaths(img)
	if err != nil {
		return cid, err
	}

	if err := e.states.Insert(state.Record{
		ID: cid, Name: name, State: state.StateCreated, Image: resolved.Image,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}); err != nil {
		return cid, err
	}

	cfg := isolation.Config{
		ID:          cid,
		Name:        name,
		LayerPaths:  layerPaths,
		Command:     resolved.Command,
		Entrypoint:  resolved.Entrypoint,
		WorkingDir:  resolved.WorkingDir,
		User:        resolved.User,
		Hostname:    resolved.Hostname,
		Env:         resolved.Env,
		ReadOnly:    def.ReadOnly,
		Network:     def.Network,
		Resources:   isolation.Resources(def.Resources),
		Mounts:      toMounts(def.Volumes),
		PortForward: toPortForwards(def.Ports),
		StateDir:    e.dataDir + "/containers/" + string(cid),
	}

	if _, err := e.backend.Create(ctx, cfg); err != nil {
		e.markFailed(cid, name, err, log)
		return cid, err
	}
	pid, err := e.backend.Start(ctx, cid)
	if err != nil {
		e.markFailed(cid, name, err, log)
		return cid, err
	}

	health := runHealthProbe(ctx, e.backend, cid, def.Health, e.log)
	if !health.healthy {
		err := ctsterr.New(ctsterr.KindInvalidState, "R001", fmt.Sprintf("component %q failed its health probe", name))
		e.markFailed(cid, name, err, log)
		return cid, err
	}

	if err := e.states.Update(cid, state.StateRunning, pid, time.Now()); err != nil {
		return cid, err
	}
	e.bus.publish(Event{StateChange: &StateChange{ID: cid, Name: name, From: state.StateCreated, To: state.StateRunning, At: time.Now()}})

	e.mu.Lock()
	e.running[cid] = &trackedContainer{name: name, def: def}
	e.mu.Unlock()

	// Every started component gets a supervisor, even Restart: never
	// ones — supervise reaps the exit and records Stopped/Failed itself
	// exactly once before shouldRestart declines to restart it, which
	// is how a plain one-shot command's state ever leaves Running.
	go e.supervise(ctx, cid)
	go e.sampleMetrics(ctx, cid)

	log.Info("component started")
	return cid, nil
}

func (e *Engine) markFailed(cid id.ContainerID, name string, cause error, log *logrus.Entry) {
	if err := e.states.Update(cid, state.StateFailed, 0, time.Now()); err != nil {
		log.WithError(err).Warn("failed to record Failed state")
	}
	e.bus.publish(Event{StateChange: &StateChange{ID: cid, Name: name, From: state.StateCreated, To: state.StateFailed, At: time.Now()}})
}

// resolvedComponent holds every interpolatable string field of a
// ComponentDef after `${ns.field}` substitution (spec.md §4.1 "Inside
// any string value, ${ns.field} forms are recognised"), ready to build
// an isolation.Config from.
type resolvedComponent struct {
	Image      string
	Command    []string
	Entrypoint []string
	WorkingDir string
	User       string
	Hostname   string
	Env        []string
}

// resolveComponent runs every interpolatable field of def through
// compose.ResolveString against the same resolver, so image,
// command/entrypoint, working directory, user, hostname, and
// environment values all see secrets, host env vars, and other
// components' runtime-resolved addresses consistently (spec.md §4.5
// step 2, §4.5 "Secrets", §4.2 "Auto-injection").
func (e *Engine) resolveComponent(comp *compose.Composition, def *compose.ComponentDef) (*resolvedComponent, error) {
	resolve := func(kind compose.NamespaceKind, ns, field string) (string, error) {
		switch kind {
		case compose.NSSecret:
			secret, err := resolveSecret(field, e.secretsDir)
			if err != nil {
				return "", err
			}
			return secret.Value, nil
		case compose.NSEnv:
			return os.Getenv(field), nil
		case compose.NSComponent:
			tgt, ok := comp.Components[ns]
			if !ok {
				return "", ctsterr.New(ctsterr.KindConfig, "", fmt.Sprintf("interpolation refers to undefined component %q", ns))
			}
			endpoint := graph.ComponentEndpoint(tgt, ns)
			switch field {
			case "host":
				return endpoint.Host, nil
			case "port":
				return endpoint.Port, nil
			case "connection_string":
				return endpoint.ConnectionString, nil
			default:
				return "", ctsterr.New(ctsterr.KindConfig, "", fmt.Sprintf("component %q has no interpolatable field %q", ns, field))
			}
		default:
			return "", ctsterr.New(ctsterr.KindConfig, "", fmt.Sprintf("unknown interpolation namespace kind for %q.%q", ns, field))
		}
	}

	rs := func(field, s string) (string, error) {
		out, err := compose.ResolveString(s, comp.Components, resolve)
		if err != nil {
			return "", ctsterr.Wrap(ctsterr.KindConfig, "", fmt.Sprintf("failed to resolve %s", field), err)
		}
		return out, nil
	}
	rsAll := func(field string, ss []string) ([]string, error) {
		out := make([]string, len(ss))
		for i, s := range ss {
			resolved, err := rs(field, s)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	}

	resolvedImage, err := rs("image", def.Image)
	if err != nil {
		return nil, err
	}
	workingDir, err := rs("working_dir", def.WorkingDir)
	if err != nil {
		return nil, err
	}
	user, err := rs("user", def.User)
	if err != nil {
		return nil, err
	}
	hostname, err := rs("hostname", def.Hostname)
	if err != nil {
		return nil, err
	}
	command, err := rsAll("command", def.Command)
	if err != nil {
		return nil, err
	}
	entrypoint, err := rsAll("entrypoint", def.Entrypoint)
	if err != nil {
		return nil, err
	}

	var env []string
	for key, val := range def.Environment {
		resolved, err := rs(fmt.Sprintf("environment variable %q", key), val)
		if err != nil {
			return nil, err
		}
		env = append(env, key+"="+resolved)
	}

	return &resolvedComponent{
		Image:      resolvedImage,
		Command:    command,
		Entrypoint: entrypoint,
		WorkingDir: workingDir,
		User:       user,
		Hostname:   hostname,
		Env:        env,
	}, nil
}

func toMounts(vols []compose.Volume) []isolation.Mount {
	out := make([]isolation.Mount, len(vols))
	for i, v := range vols {
		out[i] = isolation.Mount{HostPath: v.HostPath, ContainerPath: v.ContainerPath}
	}
	return out
}

func toPortForwards(ports []compose.Port) []isolation.PortForward {
	out := make([]isolation.PortForward, len(ports))
	for i, p := range ports {
		out[i] = isolation.PortForward{HostPort: p.Host, ContainerPort: p.Container}
	}
	return out
}

// rollback stops and removes everything started in startedPhases, in
// reverse phase order (spec.md §4.5: "initiates rollback (stop
// everything already started, in reverse phase order)").
func (e *Engine) rollback(ctx context.Context, startedPhases [][]id.ContainerID) {
	for i := len(startedPhases) - 1; i >= 0; i-- {
		for _, cid := range startedPhases[i] {
			if err := e.StopContainer(ctx, cid, true); err != nil {
				e.log.WithError(err).WithField("id", cid).Warn("rollback: failed to stop container")
			}
		}
	}
}
