package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

func newTestServer(t *testing.T) (*Server, *state.Index) {
	t.Helper()
	dataDir := t.TempDir()
	store, err := image.NewStore(filepath.Join(dataDir, "images"), true, nil)
	require.NoError(t, err)
	idx, err := state.Open(filepath.Join(dataDir, "state.json"), nil)
	require.NoError(t, err)
	planner := graph.NewPlanner(logrus.New())

	eng := runtime.New(runtime.Options{
		Store:   store,
		State:   idx,
		Planner: planner,
		DataDir: dataDir,
		Log:     logrus.New(),
	})
	return New(eng, idx, logrus.New()), idx
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListContainersHandler_Empty(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/containers", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestGetContainerHandler_Found(t *testing.T) {
	s, idx := newTestServer(t)
	require.NoError(t, idx.Insert(state.Record{
		ID: "abc123", Name: "web", State: state.StateRunning,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	req := httptest.NewRequest("GET", "/containers/web", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got state.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, state.StateRunning, got.State)
}

func TestGetContainerHandler_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/containers/nope", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListenAndServe_ShutsDownOnContextCancel(t *testing.T) {
	s, _ := newTestServer(t)
	ln, err := LoopbackListener()
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, addr) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not shut down after context cancel")
	}
}
