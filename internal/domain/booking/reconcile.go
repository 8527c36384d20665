package booking

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/docslot/docslot/internal/platform/db"
	"github.com/docslot/docslot/internal/platform/metrics"
)

// Reconciler restores the ledger invariant: a slot is reserved exactly when
// a live appointment holds it.
type Reconciler struct {
	rec    LedgerReconciler
	tx     db.Transactor
	logger zerolog.Logger
}

func NewReconciler(store Store, tx db.Transactor, logger zerolog.Logger) *Reconciler {
	return &Reconciler{rec: store.Reconciler, tx: tx, logger: logger}
}

type ReconcileReport struct {
	Released int `json:"released"`
	Reserved int `json:"reserved"`
}

// Run releases orphan reservations first so that a slot held by a stale
// reservation can be handed back to its live appointment.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if rep.Released, err = r.rec.ReleaseOrphans(ctx); err != nil {
			return err
		}
		rep.Reserved, err = r.rec.RestoreMissing(ctx)
		return err
	})
	if err != nil {
		return ReconcileReport{}, err
	}

	metrics.ReconcileRepairs.WithLabelValues("released").Add(float64(rep.Released))
	metrics.ReconcileRepairs.WithLabelValues("reserved").Add(float64(rep.Reserved))
	if rep.Released > 0 || rep.Reserved > 0 {
		r.logger.Info().Int("released", rep.Released).Int("reserved", rep.Reserved).Msg("slot ledger repaired")
	}
	return rep, nil
}

// Task adapts Run to the cron runner.
func (r *Reconciler) Task(ctx context.Context) error {
	_, err := r.Run(ctx)
	return err
}
