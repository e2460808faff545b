package repo

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditEvent struct {
	Action       string
	ActorRole    string
	ActorID      string
	ResourceType string
	ResourceID   *uuid.UUID
	PatientID    *uuid.UUID
	RequestID    string
	IP           string
	UserAgent    string
	Metadata     interface{}
}

func CreateAuditEvent(ctx context.Context, pool *pgxpool.Pool, ev AuditEvent) error {
	var meta []byte
	if ev.Metadata != nil {
		var err error
		if meta, err = json.Marshal(ev.Metadata); err != nil {
			return err
		}
	}
	_, err := pool.Exec(ctx, `
		INSERT INTO audit_events (
			action, actor_role, actor_id, resource_type, resource_id, patient_id,
			request_id, ip, user_agent, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		ev.Action, nullIfEmptyText(ev.ActorRole), nullIfEmptyText(ev.ActorID), nullIfEmptyText(ev.ResourceType), ev.ResourceID, ev.PatientID,
		nullIfEmptyText(ev.RequestID), nullIfEmptyText(ev.IP), nullIfEmptyText(ev.UserAgent), meta,
	)
	return classify("audit_events.Insert", err)
}

// AuditEventsByResource lists the trail of one resource, oldest first.
func AuditEventsByResource(ctx context.Context, pool *pgxpool.Pool, resourceType string, resourceID uuid.UUID) ([]AuditEvent, error) {
	rows, err := pool.Query(ctx, `
		SELECT action, COALESCE(actor_role, ''), COALESCE(actor_id, ''), COALESCE(resource_type, ''), resource_id, patient_id,
		       COALESCE(request_id, ''), COALESCE(ip, ''), COALESCE(user_agent, ''), metadata
		FROM audit_events WHERE resource_type = $1 AND resource_id = $2 ORDER BY created_at, id
	`, resourceType, resourceID)
	if err != nil {
		return nil, classify("audit_events.ByResource", err)
	}
	defer rows.Close()
	var out []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var meta []byte
		if err := rows.Scan(&ev.Action, &ev.ActorRole, &ev.ActorID, &ev.ResourceType, &ev.ResourceID, &ev.PatientID,
			&ev.RequestID, &ev.IP, &ev.UserAgent, &meta); err != nil {
			return nil, classify("audit_events.ByResource", err)
		}
		if len(meta) > 0 {
			ev.Metadata = json.RawMessage(meta)
		}
		out = append(out, ev)
	}
	return out, classify("audit_events.ByResource", rows.Err())
}

func nullIfEmptyText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// AuditLog adapts CreateAuditEvent to the api auditor.
type AuditLog struct {
	Pool *pgxpool.Pool
}

func (a AuditLog) Record(ctx context.Context, ev AuditEvent) error {
	return CreateAuditEvent(ctx, a.Pool, ev)
}
