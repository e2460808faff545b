// Package reconcile retries the agenda write-back ("realizado") for completed
// consultations whose finalize left it pending or failed. It never touches
// patients, medical records or consultation status.
package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Samoo1234/clinica-sub000/internal/consultation"
)

// Lister returns completed consultations still waiting for the agenda
// status, oldest first.
type Lister interface {
	ListPendingExternalSync(ctx context.Context, limit, maxAttempts int) ([]consultation.Consultation, error)
}

// Syncer runs finalize step 4 for one consultation and records the attempt.
type Syncer interface {
	SyncExternalStatus(ctx context.Context, c *consultation.Consultation) consultation.StepOutcome
}

type Options struct {
	BatchSize   int
	MaxAttempts int
	Log         zerolog.Logger
}

// Run processes one batch. Failures per consultation are logged and do not
// stop the rest; only a listing failure is returned as an error.
func Run(ctx context.Context, lister Lister, syncer Syncer, opts Options) (synced, failed int, err error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	log := opts.Log.With().Str("component", "reconcile").Logger()
	if lister == nil || syncer == nil {
		log.Warn().Msg("lister or syncer is nil, skipping")
		return 0, 0, nil
	}

	rows, err := lister.ListPendingExternalSync(ctx, opts.BatchSize, opts.MaxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending external sync: %w", err)
	}
	for i := range rows {
		if ctx.Err() != nil {
			return synced, failed, ctx.Err()
		}
		c := &rows[i]
		out := syncer.SyncExternalStatus(ctx, c)
		switch out.Outcome {
		case consultation.OutcomeFailed:
			failed++
			log.Warn().Str("consultation_id", c.ID.String()).Int("attempts", c.ExternalSync.Attempts+1).
				Str("error", out.Error).Msg("agenda status still not updated")
		case consultation.OutcomeDone, consultation.OutcomeAlreadyDone:
			synced++
			log.Info().Str("consultation_id", c.ID.String()).Msg("agenda status updated")
		}
	}
	return synced, failed, nil
}
