package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/synccore/internal/adapter"
	"github.com/hyperengineering/synccore/internal/adapter/adaptertest"
	"github.com/hyperengineering/synccore/internal/checkpoint"
	"github.com/hyperengineering/synccore/internal/executor"
	"github.com/hyperengineering/synccore/internal/model"
	"github.com/hyperengineering/synccore/internal/store"
	"github.com/hyperengineering/synccore/internal/syncengine"
)

func newTestEngine(t *testing.T) *syncengine.Engine {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	registry := adapter.NewRegistry()
	registry.Register(adaptertest.New(model.SourceLibrary))

	cfg := syncengine.Config{
		Executor: executor.Config{
			Concurrency: 2,
			TaskTimeout: 5 * time.Second,
			MaxRetries:  1,
			RetryDelay:  time.Millisecond,
			Backoff:     2,
			HighWater:   100,
			LowWater:    10,
		},
		Checkpoint:              checkpoint.Config{Interval: 1},
		DefaultConflictStrategy: model.StrategyPreferRemote,
	}

	e := syncengine.New(s, registry, nil, nil, cfg)
	require.NoError(t, e.Initialize(context.Background()))
	return e
}

func TestHandler_StatusReturnsIdleBeforeAnySync(t *testing.T) {
	h := NewHandler(newTestEngine(t))
	rr := httptest.NewRecorder()
	h.Status(rr, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, syncengine.StateIdle, resp.Status)
}

func TestHandler_SessionReturnsNotFoundWhenNoneActive(t *testing.T) {
	h := NewHandler(newTestEngine(t))
	rr := httptest.NewRecorder()
	h.Session(rr, httptest.NewRequest(http.MethodGet, "/v1/session", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandler_PendingChangesReturnsEmptyArray(t *testing.T) {
	h := NewHandler(newTestEngine(t))
	rr := httptest.NewRecorder()
	h.PendingChanges(rr, httptest.NewRequest(http.MethodGet, "/v1/changes/pending", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, "[]", rr.Body.String())
}

func TestHandler_ConflictsReturnsEmptyArray(t *testing.T) {
	h := NewHandler(newTestEngine(t))
	rr := httptest.NewRecorder()
	h.Conflicts(rr, httptest.NewRequest(http.MethodGet, "/v1/conflicts", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, "[]", rr.Body.String())
}

func TestRouter_RoutesStatusEndpoint(t *testing.T) {
	h := NewHandler(newTestEngine(t))
	r := NewRouter(h)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
