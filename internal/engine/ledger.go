package engine

import (
	"context"
	"log/slog"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/artpar/stackship/internal/shell/store"
)

// Recorder observes a run as it moves through its stages.
type Recorder interface {
	RunStarted(ctx context.Context, run *domain.Run) error
	StageChanged(ctx context.Context, run *domain.Run, t domain.Transition) error
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(context.Context, *domain.Run) error { return nil }

func (nopRecorder) StageChanged(context.Context, *domain.Run, domain.Transition) error { return nil }

// LedgerRecorder writes runs and their transitions to a store.
type LedgerRecorder struct {
	store  store.Store
	logger *slog.Logger
}

// NewLedgerRecorder creates a recorder backed by s.
func NewLedgerRecorder(s store.Store, logger *slog.Logger) *LedgerRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerRecorder{
		store:  s,
		logger: logger.With("component", "ledger"),
	}
}

// RunStarted inserts the run row.
func (l *LedgerRecorder) RunStarted(ctx context.Context, run *domain.Run) error {
	return l.store.CreateRun(ctx, run)
}

// StageChanged updates the run row and appends the transition atomically.
func (l *LedgerRecorder) StageChanged(ctx context.Context, run *domain.Run, t domain.Transition) error {
	// The run may be failing because ctx was cancelled; the ledger still
	// has to see the final stage.
	ctx = context.WithoutCancel(ctx)
	err := l.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateRun(ctx, run); err != nil {
			return err
		}
		return tx.RecordTransition(ctx, t)
	})
	if err != nil {
		return err
	}
	l.logger.Debug("transition recorded", "run_id", run.ID, "from", t.From, "to", t.To)
	return nil
}
