package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/logging"
)

func TestCollector_ObservesHooks(t *testing.T) {
	log := logging.New(nil, "silent")
	hm := hooks.NewManager(log)
	c := NewCollector(log)
	c.Attach(hm)
	ctx := context.Background()

	hm.Emit(ctx, hooks.EventInvocationStarted, map[string]any{"agent": "analyst", "status": "started"})
	hm.Emit(ctx, hooks.EventInvocationStarted, map[string]any{"agent": "critic", "status": "started"})
	assert.Equal(t, 2.0, testutil.ToFloat64(c.inFlight))

	hm.Emit(ctx, hooks.EventInvocationCompleted, map[string]any{"agent": "analyst", "status": "completed", "duration_ms": int64(1500)})
	hm.Emit(ctx, hooks.EventInvocationFailed, map[string]any{"agent": "critic", "status": "failed", "duration_ms": int64(20)})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocationsTotal.WithLabelValues("analyst", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocationsTotal.WithLabelValues("critic", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.invocationDuration))

	hm.Emit(ctx, hooks.EventHandoffTracked, map[string]any{"context_preserved": true})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.handoffsTotal.WithLabelValues("true")))

	hm.Emit(ctx, hooks.EventParallelStarted, map[string]any{"strategy": "vote"})
	hm.Emit(ctx, hooks.EventConflictDetected, nil)
	hm.Emit(ctx, hooks.EventConflictResolved, nil)
	hm.Emit(ctx, hooks.EventCatalogReloaded, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.parallelTotal.WithLabelValues("vote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conflictsTotal.WithLabelValues("detected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conflictsTotal.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.catalogReloads))
}

func TestCollector_ObserveRPC(t *testing.T) {
	c := NewCollector(logging.New(nil, "silent"))
	c.ObserveRPC("agent.invoke", "", 10*time.Millisecond)
	c.ObserveRPC("agent.invoke", "not_found", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.rpcTotal.WithLabelValues("agent.invoke", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rpcTotal.WithLabelValues("agent.invoke", "not_found")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(logging.New(nil, "silent"))
	c.ObserveRPC("catalog.get", "", time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	n, err := testutil.GatherAndCount(c.Registry(), "conductor_rpc_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	body := new(strings.Builder)
	_, err = io.Copy(body, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `conductor_rpc_requests_total{code="ok",method="catalog.get"} 1`)
	assert.Contains(t, body.String(), "go_goroutines")
}
