package runtime

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containust/containust/pkg/compose"
	"github.com/containust/containust/pkg/graph"
	"github.com/containust/containust/pkg/id"
	"github.com/containust/containust/pkg/image"
	"github.com/containust/containust/pkg/isolation"
	"github.com/containust/containust/pkg/state"
)

// fakeBackend is an in-memory isolation.Backend used to exercise the
// engine's phase/health/state-transition logic without real
// namespaces or cgroups.
type fakeBackend struct {
	mu         sync.Mutex
	created    map[id.ContainerID]isolation.Config
	started    map[id.ContainerID]bool
	failCreate map[string]bool // component name -> fail Create
	execOK     bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		created:    map[id.ContainerID]isolation.Config{},
		started:    map[id.ContainerID]bool{},
		failCreate: map[string]bool{},
		execOK:     true,
	}
}

func (f *fakeBackend) Create(ctx context.Context, cfg isolation.Config) (id.ContainerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate[cfg.Name] {
		return "", assertErr("forced create failure for " + cfg.Name)
	}
	f.created[cfg.ID] = cfg
	return cfg.ID, nil
}

func (f *fakeBackend) Start(ctx context.Context, cid id.ContainerID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[cid] = true
	return 4242, nil
}

func (f *fakeBackend) Stop(ctx context.Context, cid id.ContainerID, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.started, cid)
	return nil
}

func (f *fakeBackend) Exec(ctx context.Context, cid id.ContainerID, cmd []string, stdout, stderr io.Writer) error {
	if !f.execOK {
		return assertErr("exec failed")
	}
	if stdout != nil {
		stdout.Write([]byte("ok"))
	}
	return nil
}

func (f *fakeBackend) Remove(ctx context.Context, cid id.ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.created, cid)
	return nil
}

func (f *fakeBackend) Logs(ctx context.Context, cid id.ContainerID) (string, error) {
	return "log output", nil
}

func (f *fakeBackend) List(ctx context.Context) ([]isolation.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []isolation.Record
	for cid := range f.started {
		out = append(out, isolation.Record{ID: cid, PID: 4242})
	}
	return out, nil
}

func (f *fakeBackend) IsAvailable() bool { return true }

type assertErr string

func (e assertErr) Error() string { return string(e) }

func newTestEngine(t *testing.T, backend isolation.Backend) (*Engine, *compose.Composition) {
	t.Helper()
	dataDir := t.TempDir()
	layerDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(layerDir, "app.txt"), []byte("hi"), 0o644))

	store, err := image.NewStore(filepath.Join(dataDir, "images"), true, nil)
	require.NoError(t, err)
	idx, err := state.Open(filepath.Join(dataDir, "state.json"), nil)
	require.NoError(t, err)
	planner := graph.NewPlanner(logrus.New())

	eng := New(Options{
		Backend: backend,
		Store:   store,
		State:   idx,
		Planner: planner,
		DataDir: dataDir,
		Log:     logrus.New(),
	})

	comp := &compose.Composition{
		Components: map[string]*compose.ComponentDef{
			"web": {
				Name:        "web",
				Image:       "file://" + layerDir,
				Command:     []string{"/bin/sh"},
				Environment: map[string]string{},
				Restart:     "never",
			},
		},
		ComponentOrder: []string{"web"},
	}
	return eng, comp
}

func TestEngine_Deploy_Success(t *testing.T) {
	backend := newFakeBackend()
	eng, comp := newTestEngine(t, backend)

	result, err := eng.Deploy(context.Background(), comp)
	require.NoError(t, err)
	require.Len(t, result.Started, 1)
	assert.Empty(t, result.Failed)

	records, err := eng.states.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, state.StateRunning, records[0].State)
}

func TestEngine_Deploy_CreateFailure_MarksFailedAndRollsBack(t *testing.T) {
	backend := newFakeBackend()
	backend.failCreate["web"] = true
	eng, comp := newTestEngine(t, backend)

	result, err := eng.Deploy(context.Background(), comp)
	require.Error(t, err)
	assert.Equal(t, "web", result.Failed)

	records, err := eng.states.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, state.StateFailed, records[0].State)
}

func TestEngine_Deploy_TwoIndependentComponents(t *testing.T) {
	backend := newFakeBackend()
	eng, comp := newTestEngine(t, backend)
	comp.Components["cache"] = &compose.ComponentDef{
		Name:        "cache",
		Image:       comp.Components["web"].Image,
		Command:     []string{"/bin/sh"},
		Environment: map[string]string{},
		Restart:     "never",
	}
	comp.ComponentOrder = append(comp.ComponentOrder, "cache")

	result, err := eng.Deploy(context.Background(), comp)
	require.NoError(t, err)
	assert.Len(t, result.Started, 2)
}

func TestEngine_Exec_DelegatesToBackend(t *testing.T) {
	backend := newFakeBackend()
	eng, comp := newTestEngine(t, backend)
	result, err := eng.Deploy(context.Background(), comp)
	require.NoError(t, err)

	var stdout bytes.Buffer
	err = eng.Exec(context.Background(), result.Started[0], []string{"echo", "hi"}, &stdout, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", stdout.String())
}

func TestEngine_StopContainer_MarksStopped(t *testing.T) {
	backend := newFakeBackend()
	eng, comp := newTestEngine(t, backend)
	result, err := eng.Deploy(context.Background(), comp)
	require.NoError(t, err)

	require.NoError(t, eng.StopContainer(context.Background(), result.Started[0], true))

	rec, err := eng.states.FindByNameOrIDPrefix("web")
	require.NoError(t, err)
	assert.Equal(t, state.StateStopped, rec.State)
}

func TestEngine_Events_PublishesStateChange(t *testing.T) {
	backend := newFakeBackend()
	eng, comp := newTestEngine(t, backend)
	events := eng.Events()

	_, err := eng.Deploy(context.Background(), comp)
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.NotNil(t, ev.StateChange)
		assert.Equal(t, state.StateRunning, ev.StateChange.To)
	case <-time.After(time.Second):
		t.Fatal("expected a StateChange event")
	}
}

func TestEngine_ResolveComponent_InterpolatesEveryField(t *testing.T) {
	backend := newFakeBackend()
	eng, comp := newTestEngine(t, backend)
	comp.Components["web"].Hostname = "${env.HOST}"
	comp.Components["web"].WorkingDir = "${secret.workdir}"
	comp.Components["web"].User = "${db.host}"
	comp.Components["web"].Command = []string{"connect", "${db.connection_string}"}
	comp.Components["web"].Environment["DB_ADDR"] = "${db.host}:${db.port}"
	pgDir := filepath.Join(t.TempDir(), "postgres")
	require.NoError(t, os.MkdirAll(pgDir, 0o755))
	comp.Components["db"] = &compose.ComponentDef{
		Name:    "db",
		Image:   "file://" + pgDir,
		Ports:   []compose.Port{{Host: 5432, Container: 5432}},
		Restart: "never",
	}
	comp.ComponentOrder = append(comp.ComponentOrder, "db")

	t.Setenv("CONTAINUST_SECRET_WORKDIR", "/srv/app")
	t.Setenv("HOST", "web-host")

	result, err := eng.Deploy(context.Background(), comp)
	require.NoError(t, err)

	var webID id.ContainerID
	for _, cid := range result.Started {
		if cfg := backend.created[cid]; cfg.Name == "web" {
			webID = cid
		}
	}
	require.NotEmpty(t, webID)

	cfg := backend.created[webID]
	assert.Equal(t, "web-host", cfg.Hostname)
	assert.Equal(t, "/srv/app", cfg.WorkingDir)
	assert.Equal(t, "db", cfg.User)
	assert.Equal(t, []string{"connect", "postgres://db:5432"}, cfg.Command)
	assert.Contains(t, cfg.Env, "DB_ADDR=db:5432")
}

func TestEngine_ResolveComponent_UndefinedComponentReferenceErrors(t *testing.T) {
	backend := newFakeBackend()
	eng, comp := newTestEngine(t, backend)
	comp.Components["web"].Hostname = "${ghost.host}"

	result, err := eng.Deploy(context.Background(), comp)
	require.Error(t, err)
	assert.Equal(t, "web", result.Failed)
}
