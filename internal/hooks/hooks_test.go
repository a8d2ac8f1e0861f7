package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/logging"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func TestManager_On_And_Emit(t *testing.T) {
	m := testManager()

	var called bool
	m.On(EventGatewayStart, "test", func(_ context.Context, p Payload) error {
		called = true
		assert.Equal(t, EventGatewayStart, p.Event)
		return nil
	})

	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.True(t, called)
}

func TestManager_Emit_MultipleHandlersInOrder(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventInvocationStarted, "first", func(_ context.Context, _ Payload) error {
		order = append(order, "first")
		return nil
	})
	m.On(EventInvocationStarted, "second", func(_ context.Context, _ Payload) error {
		order = append(order, "second")
		return nil
	})

	m.Emit(context.Background(), EventInvocationStarted, nil)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestManager_Emit_WithData(t *testing.T) {
	m := testManager()

	var gotData map[string]any
	m.On(EventHandoffTracked, "test", func(_ context.Context, p Payload) error {
		gotData = p.Data
		return nil
	})

	m.Emit(context.Background(), EventHandoffTracked, map[string]any{
		"from": "analyst",
		"to":   "implementer",
	})

	assert.Equal(t, "analyst", gotData["from"])
	assert.Equal(t, "implementer", gotData["to"])
}

func TestManager_Emit_HandlerError(t *testing.T) {
	m := testManager()

	var secondCalled bool
	m.On(EventGatewayStart, "failing", func(_ context.Context, _ Payload) error {
		return errors.New("handler broke")
	})
	m.On(EventGatewayStart, "second", func(_ context.Context, _ Payload) error {
		secondCalled = true
		return nil
	})

	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.True(t, secondCalled)
}

func TestManager_NilAndEmpty(t *testing.T) {
	var nilManager *Manager
	nilManager.Emit(context.Background(), EventGatewayStop, nil)
	nilManager.EmitAsync(context.Background(), EventGatewayStop, nil)

	testManager().Emit(context.Background(), EventGatewayStop, nil)
}

func TestManager_Off_KeepsOthers(t *testing.T) {
	m := testManager()

	var removed, kept int
	m.On(EventGatewayStart, "remove-me", func(_ context.Context, _ Payload) error {
		removed++
		return nil
	})
	m.On(EventGatewayStart, "keep-me", func(_ context.Context, _ Payload) error {
		kept++
		return nil
	})

	m.Off(EventGatewayStart, "remove-me")
	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, kept)
}

func TestManager_EmitAsync(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	for _, name := range []string{"async1", "async2"} {
		m.On(EventConflictDetected, name, func(_ context.Context, _ Payload) error {
			count.Add(1)
			wg.Done()
			return nil
		})
	}

	m.EmitAsync(context.Background(), EventConflictDetected, nil)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers did not complete in time")
	}
	assert.Equal(t, int32(2), count.Load())
}

func TestManager_OnAll_CountAndEvents(t *testing.T) {
	m := testManager()
	m.OnAll("audit", func(_ context.Context, _ Payload) error { return nil })
	m.On(EventGatewayStart, "extra", func(_ context.Context, _ Payload) error { return nil })

	assert.Equal(t, 2, m.Count(EventGatewayStart))
	assert.Equal(t, 1, m.Count(EventInvocationFailed))
	assert.Len(t, m.Events(), len(AllEvents))
	assert.Equal(t, EventCatalogReloaded, m.Events()[0])
}

func TestCommandHandler_ReceivesPayload(t *testing.T) {
	out := filepath.Join(t.TempDir(), "payload.json")
	h := CommandHandler(config.HookEntry{Command: `cat > "` + out + `"; echo "$CONDUCTOR_EVENT" >> "` + out + `.event"`})

	err := h(context.Background(), Payload{Event: EventInvocationCompleted, Data: map[string]any{"agent": "analyst"}})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var p Payload
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, EventInvocationCompleted, p.Event)
	assert.Equal(t, "analyst", p.Data["agent"])

	event, err := os.ReadFile(out + ".event")
	require.NoError(t, err)
	assert.Equal(t, EventInvocationCompleted+"\n", string(event))
}

func TestCommandHandler_FailureAndTimeout(t *testing.T) {
	err := CommandHandler(config.HookEntry{Command: "echo nope >&2; exit 2"})(context.Background(), Payload{Event: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	start := time.Now()
	err = CommandHandler(config.HookEntry{Command: "sleep 5", Timeout: 50})(context.Background(), Payload{Event: "x"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRegisterConfig(t *testing.T) {
	m := testManager()
	n := RegisterConfig(m, config.HooksConfig{
		InvocationFailed: []config.HookEntry{{Command: "true"}, {Command: "  "}},
		GatewayStart:     []config.HookEntry{{Command: "true"}},
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, m.Count(EventInvocationFailed))
	assert.Equal(t, 1, m.Count(EventGatewayStart))
	assert.Equal(t, 0, m.Count(EventHandoffTracked))
}
