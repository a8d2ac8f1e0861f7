package store

import (
	"context"
	"fmt"

	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/domain"
	"github.com/soyeahso/conductor/internal/logging"
)

// Ledger persists coordinator records. Every getter returns a
// *domain.NotFoundError for unknown ids.
type Ledger interface {
	SaveInvocation(ctx context.Context, rec domain.InvocationRecord) error
	GetInvocation(ctx context.Context, id string) (domain.InvocationRecord, error)
	ListInvocations(ctx context.Context, status domain.InvocationStatus) ([]domain.InvocationRecord, error)

	SaveHandoff(ctx context.Context, rec domain.HandoffRecord) error
	GetHandoff(ctx context.Context, id string) (domain.HandoffRecord, error)
	ListHandoffs(ctx context.Context, filter domain.HandoffFilter) ([]domain.HandoffRecord, error)

	SaveParallel(ctx context.Context, rec domain.ParallelExecutionRecord) error
	GetParallel(ctx context.Context, id string) (domain.ParallelExecutionRecord, error)
	ListParallel(ctx context.Context) ([]domain.ParallelExecutionRecord, error)

	Close() error
}

// OpenLedger opens the ledger selected by cfg.Driver.
func OpenLedger(cfg config.StoreConfig, log *logging.Logger) (Ledger, error) {
	switch cfg.Driver {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		db, err := Open(path, log)
		if err != nil {
			return nil, err
		}
		return NewSQLiteLedger(db), nil
	case "memory":
		return NewMemoryLedger(), nil
	default:
		return nil, &config.ConfigError{Message: fmt.Sprintf("store.driver: unknown driver %q", cfg.Driver)}
	}
}
