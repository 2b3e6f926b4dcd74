package sdk

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containust/containust/pkg/graph"
	"github.com/containust/containust/pkg/image"
	"github.com/containust/containust/pkg/runtime"
	"github.com/containust/containust/pkg/state"
)

func TestContainerBuilder_RequiresImage(t *testing.T) {
	_, err := NewContainerBuilder("web").Build()
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestContainerBuilder_BuildsComponentDef(t *testing.T) {
	def, err := NewContainerBuilder("web").
		Image("file:///opt/images/alpine").
		Command("/bin/sh", "-c", "echo hi").
		Env("APP_NAME", "web").
		MemoryLimit(128 * 1024 * 1024).
		CPUShares(1024).
		ReadonlyRootfs(true).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "web", def.Name)
	assert.Equal(t, "file:///opt/images/alpine", def.Image)
	assert.Equal(t, "web", def.Environment["APP_NAME"])
	assert.Equal(t, uint64(128*1024*1024), def.Resources.MemoryBytes)
	assert.True(t, def.ReadOnly)
}

func TestGraphResolver_LoadCtst_DeploymentOrder(t *testing.T) {
	dir := t.TempDir()
	ctstPath := filepath.Join(dir, "app.ctst")
	src := `COMPONENT db {
  image = "file:///opt/images/postgres"
}
COMPONENT web {
  image = "file:///opt/images/app"
}
CONNECT web -> db`
	require.NoError(t, os.WriteFile(ctstPath, []byte(src), 0o644))

	r := NewGraphResolver(true)
	require.NoError(t, r.LoadCtst(ctstPath))

	order, err := r.DeploymentOrder()
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, "db", order[0])
	assert.Equal(t, "web", order[1])
}

func TestGraphResolver_LoadCtst_MissingFile(t *testing.T) {
	r := NewGraphResolver(true)
	err := r.LoadCtst(filepath.Join(t.TempDir(), "nonexistent.ctst"))
	assert.Error(t, err)
}

func TestGraphResolver_DeploymentOrder_BeforeLoad(t *testing.T) {
	r := NewGraphResolver(true)
	_, err := r.DeploymentOrder()
	assert.Error(t, err)
}

func TestEventListener_Watch_FiltersByID(t *testing.T) {
	dataDir := t.TempDir()
	store, err := image.NewStore(filepath.Join(dataDir, "images"), true, nil)
	require.NoError(t, err)
	idx, err := state.Open(filepath.Join(dataDir, "state.json"), nil)
	require.NoError(t, err)
	eng := runtime.New(runtime.Options{
		Store:   store,
		State:   idx,
		Planner: graph.NewPlanner(logrus.New()),
		DataDir: dataDir,
		Log:     logrus.New(),
	})

	listener := NewEventListener(eng).Watch("wanted")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var seen []runtime.Event
	listener.Subscribe(ctx, func(ev runtime.Event) { seen = append(seen, ev) })
	assert.Empty(t, seen, "no events were published, so none should have been delivered")
}
