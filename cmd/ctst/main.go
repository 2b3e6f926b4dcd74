// Command ctst is containust's single external interface: a
// daemon-less CLI that parses a composition, materialises images,
// drives the isolation backend, and tracks state, all inside one
// process invocation (spec.md §6 "External interfaces"). Structurally
// grounded on ORCA's cmd/orcacli/main.go: a cobra root command with
// persistent global flags and one file per verb, though this CLI talks
// directly to an in-process pkg/runtime.Engine rather than an HTTP
// client, since there is no server to talk to.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/docker/pkg/reexec"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/containust/containust/pkg/compose"
	ctstconfig "github.com/containust/containust/pkg/config"
	"github.com/containust/containust/pkg/ctsterr"
	"github.com/containust/containust/pkg/graph"
	"github.com/containust/containust/pkg/image"
	"github.com/containust/containust/pkg/isolation"
	"github.com/containust/containust/pkg/isolation/native"
	"github.com/containust/containust/pkg/isolation/vm"
	ctstruntime "github.com/containust/containust/pkg/runtime"
	"github.com/containust/containust/pkg/state"
	"github.com/containust/containust/pkg/statusapi"
)

// Exit codes, spec.md §6.
const (
	exitSuccess          = 0
	exitGeneralFailure   = 1
	exitUsage            = 2
	exitPermissionDenied = 3
	exitResourceNotFound = 4
)

var (
	flagOffline   bool
	flagStateFile string
)

func main() {
	// Every re-exec dispatch (container init, namespace-join exec) must
	// be checked before any of this process's own flag parsing or
	// goroutines start, per docker/docker/pkg/reexec's contract.
	if reexec.Init() {
		return
	}

	root := &cobra.Command{
		Use:   "ctst",
		Short: "containust: a daemon-less, single-node Linux container engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&flagOffline, "offline", false, "forbid network image/import fetches")
	root.PersistentFlags().StringVar(&flagStateFile, "state-file", "", "path to the state index file (default .containust/state.json)")

	root.AddCommand(
		newBuildCmd(),
		newPlanCmd(),
		newRunCmd(),
		newPsCmd(),
		newExecCmd(),
		newStopCmd(),
		newImagesCmd(),
		newLogsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "containust: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// usageError marks a command-line usage mistake (spec.md §6 exit code
// 2), distinct from a failure that occurred while carrying out an
// otherwise well-formed command.
type usageError string

func (e usageError) Error() string { return string(e) }

// exitCodeFor maps a returned error to spec.md §6's exit code table.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case ctsterr.Is(err, ctsterr.KindPermission):
		return exitPermissionDenied
	case ctsterr.Is(err, ctsterr.KindNotFound):
		return exitResourceNotFound
	default:
		if _, ok := err.(usageError); ok {
			return exitUsage
		}
		return exitGeneralFailure
	}
}

// env holds every dependency a verb needs, built fresh for each
// invocation since containust has no daemon to keep them alive between
// commands.
type env struct {
	cfg     *ctstconfig.Config
	log     *logrus.Logger
	store   *image.Store
	states  *state.Index
	planner *graph.Planner
	backend isolation.Backend
	engine  *ctstruntime.Engine
}

// newEnv loads configuration, applies the --offline/--state-file
// overrides, and wires every package's dependencies into one struct.
func newEnv() (*env, error) {
	cfg, err := ctstconfig.Load("")
	if err != nil {
		return nil, err
	}
	if flagOffline {
		cfg.Engine.Offline = true
	}
	if flagStateFile != "" {
		cfg.Storage.StateFile = flagStateFile
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, ctsterr.Wrap(ctsterr.KindConfig, "", "invalid log level", err)
	}
	log.SetLevel(level)
	if cfg.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{})
	}

	store, err := image.NewStore(filepath.Join(cfg.Storage.DataDir, "images"), cfg.Engine.Offline, log)
	if err != nil {
		return nil, err
	}
	states, err := state.Open(cfg.Storage.StateFile, log)
	if err != nil {
		return nil, err
	}
	planner := graph.NewPlanner(log)

	backend := selectBackend(cfg, log)
	eng := ctstruntime.New(ctstruntime.Options{
		Backend:    backend,
		Store:      store,
		State:      states,
		Planner:    planner,
		SecretsDir: cfg.Engine.SecretsDir,
		DataDir:    cfg.Storage.DataDir,
		Log:        log,
	})

	return &env{cfg: cfg, log: log, store: store, states: states, planner: planner, backend: backend, engine: eng}, nil
}

// startStatusAPI starts the optional read-only status HTTP endpoint
// (SPEC_FULL.md's supplemented status API) when cfg.Status.Enabled,
// serving until ctx is cancelled. It is a no-op otherwise, so callers
// can invoke it unconditionally from any long-running verb's bootstrap.
func (e *env) startStatusAPI(ctx context.Context) {
	if !e.cfg.Status.Enabled {
		return
	}
	srv := statusapi.New(e.engine, e.states, e.log)
	go func() {
		if err := srv.ListenAndServe(ctx, e.cfg.Status.Listen); err != nil {
			e.log.WithError(err).Warn("status API server exited with an error")
		}
	}()
}

// selectBackend implements spec.md §4.4's automatic selection: native
// when /proc and /sys/fs/cgroup exist (native.New on a non-Linux GOOS
// builds to a stub whose IsAvailable always reports false), otherwise
// the VM-mediated backend when an emulator is on PATH.
func selectBackend(cfg *ctstconfig.Config, log *logrus.Logger) isolation.Backend {
	nativeBackend := native.New(filepath.Join(cfg.Storage.DataDir, "cgroup"), log)
	vmBackend := vm.New(filepath.Join(cfg.Storage.DataDir, "vm.sock"), nil, log)
	return isolation.Select(isolation.Candidates{Native: nativeBackend, VM: vmBackend})
}

// loadComposition parses and validates the composition file at path.
func loadComposition(path string, offline bool) (*compose.Composition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, ctsterr.WithPath(ctsterr.KindIO, "", "failed to read composition file", path, err)
	}
	resolver := compose.NewFSResolver(filepath.Dir(path), offline, "")
	comp, diags := compose.Analyze(path, string(src), resolver)
	if diags.HasErrors() {
		return nil, ctsterr.Wrap(ctsterr.KindConfig, "", fmt.Sprintf("composition %q failed validation", path), diags)
	}
	return comp, nil
}
