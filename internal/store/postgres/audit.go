package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gyaneshwarpardhi/docrules/internal/audit"
)

// AuditSink writes scheduled batch records to audit_log.
type AuditSink struct {
	db *sql.DB
}

func NewAuditSink(db *sql.DB) *AuditSink {
	return &AuditSink{db: db}
}

var _ audit.Sink = (*AuditSink)(nil)

func (s *AuditSink) LogScheduledRuleBatch(ctx context.Context, b audit.Batch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (event_type, node_id, node_name, username, details,
			processed, succeeded, failed, duration_ms, manual, event_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()))
	`, b.EventType(), b.RuleID, b.RuleName, b.Actor, b.Details(),
		b.Processed, b.Succeeded, b.Failed, b.DurationMs, b.Manual, nullableTime(b))
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

func nullableTime(b audit.Batch) sql.NullTime {
	if b.At.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: b.At, Valid: true}
}
