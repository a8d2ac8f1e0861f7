package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/conductor/internal/config"
)

const defaultCommandTimeout = 10 * time.Second

// CommandHandler returns a Handler that runs entry.Command through sh with the
// JSON payload on stdin and CONDUCTOR_EVENT set in the environment.
func CommandHandler(entry config.HookEntry) Handler {
	timeout := defaultCommandTimeout
	if entry.Timeout > 0 {
		timeout = time.Duration(entry.Timeout) * time.Millisecond
	}

	return func(ctx context.Context, p Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", entry.Command)
		cmd.Stdin = bytes.NewReader(body)
		cmd.Env = append(cmd.Environ(), "CONDUCTOR_EVENT="+p.Event)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("hook %q: %w: %s", entry.Command, err, msg)
			}
			return fmt.Errorf("hook %q: %w", entry.Command, err)
		}
		return nil
	}
}

// RegisterConfig registers the command hooks declared in cfg and returns how
// many were registered. Each command runs in its own goroutine.
func RegisterConfig(m *Manager, cfg config.HooksConfig) int {
	byEvent := map[string][]config.HookEntry{
		EventInvocationStarted:   cfg.InvocationStarted,
		EventInvocationCompleted: cfg.InvocationCompleted,
		EventInvocationFailed:    cfg.InvocationFailed,
		EventHandoffTracked:      cfg.HandoffTracked,
		EventParallelStarted:     cfg.ParallelStarted,
		EventConflictDetected:    cfg.ConflictDetected,
		EventConflictResolved:    cfg.ConflictResolved,
		EventCatalogReloaded:     cfg.CatalogReloaded,
		EventGatewayStart:        cfg.GatewayStart,
		EventGatewayStop:         cfg.GatewayStop,
	}

	n := 0
	for _, event := range AllEvents {
		for i, entry := range byEvent[event] {
			if strings.TrimSpace(entry.Command) == "" {
				continue
			}
			m.On(event, fmt.Sprintf("config:%s:%d", event, i), asyncHandler(CommandHandler(entry), m))
			n++
		}
	}
	return n
}

// asyncHandler runs h in its own goroutine so a slow command never blocks a
// state transition. Failures are logged by m.
func asyncHandler(h Handler, m *Manager) Handler {
	return func(ctx context.Context, p Payload) error {
		go func() {
			if err := h(ctx, p); err != nil {
				m.log.Warn().Err(err).Str("event", p.Event).Msg("command hook failed")
			}
		}()
		return nil
	}
}
