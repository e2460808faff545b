package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Samoo1234/clinica-sub000/internal/consultation"
)

type mockLister struct {
	rows       []consultation.Consultation
	err        error
	limit, max int
}

func (m *mockLister) ListPendingExternalSync(_ context.Context, limit, maxAttempts int) ([]consultation.Consultation, error) {
	m.limit, m.max = limit, maxAttempts
	return m.rows, m.err
}

type mockSyncer struct {
	calls []uuid.UUID
	fail  map[uuid.UUID]bool
}

func (m *mockSyncer) SyncExternalStatus(_ context.Context, c *consultation.Consultation) consultation.StepOutcome {
	m.calls = append(m.calls, c.ID)
	if m.fail[c.ID] {
		return consultation.StepOutcome{Step: consultation.StepExternalStatus, Outcome: consultation.OutcomeFailed, Error: "timeout"}
	}
	return consultation.StepOutcome{Step: consultation.StepExternalStatus, Outcome: consultation.OutcomeDone}
}

func pendingRow() consultation.Consultation {
	appt := "ag-" + uuid.NewString()[:8]
	return consultation.Consultation{
		ID:            uuid.New(),
		AppointmentID: &appt,
		Status:        consultation.StatusCompleted,
		ExternalSync:  consultation.ExternalSync{Status: consultation.SyncFailed, Attempts: 1},
	}
}

func TestRun_NilDeps(t *testing.T) {
	synced, failed, err := Run(context.Background(), nil, nil, Options{Log: zerolog.Nop()})
	if synced != 0 || failed != 0 || err != nil {
		t.Errorf("nil deps: got synced=%d failed=%d err=%v, want 0,0,nil", synced, failed, err)
	}
}

func TestRun_ListerError(t *testing.T) {
	lister := &mockLister{err: errors.New("db error")}
	_, _, err := Run(context.Background(), lister, &mockSyncer{}, Options{Log: zerolog.Nop()})
	if err == nil {
		t.Fatal("lister error: want error, got nil")
	}
}

func TestRun_Defaults(t *testing.T) {
	lister := &mockLister{}
	_, _, _ = Run(context.Background(), lister, &mockSyncer{}, Options{Log: zerolog.Nop()})
	if lister.limit != 100 || lister.max != 10 {
		t.Errorf("defaults: got limit=%d max=%d, want 100,10", lister.limit, lister.max)
	}
}

func TestRun_CountsSyncedAndFailed(t *testing.T) {
	rows := []consultation.Consultation{pendingRow(), pendingRow(), pendingRow()}
	lister := &mockLister{rows: rows}
	syncer := &mockSyncer{fail: map[uuid.UUID]bool{rows[1].ID: true}}

	synced, failed, err := Run(context.Background(), lister, syncer, Options{BatchSize: 50, MaxAttempts: 5, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if synced != 2 || failed != 1 {
		t.Errorf("got synced=%d failed=%d, want 2,1", synced, failed)
	}
	if len(syncer.calls) != 3 {
		t.Errorf("syncer calls: got %d, want 3", len(syncer.calls))
	}
	if lister.limit != 50 || lister.max != 5 {
		t.Errorf("options not forwarded: limit=%d max=%d", lister.limit, lister.max)
	}
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lister := &mockLister{rows: []consultation.Consultation{pendingRow()}}
	syncer := &mockSyncer{}
	_, _, err := Run(ctx, lister, syncer, Options{Log: zerolog.Nop()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
	if len(syncer.calls) != 0 {
		t.Errorf("syncer called %d times after cancel", len(syncer.calls))
	}
}
