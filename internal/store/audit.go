package store

import (
	"context"
	"fmt"
	"time"
)

// RunRecord is one pipeline run in the audit log.
type RunRecord struct {
	RequestID      string
	UserID         string
	ConversationID string
	Route          string
	GuardReason    string
	FallbackKind   string
	Approved       bool
	Duration       time.Duration
	CreatedAt      time.Time
}

// RecordRun appends a pipeline run to the audit log.
func (s *Store) RecordRun(ctx context.Context, r *RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (request_id, user_id, conversation_id, route, guard_reason, fallback_kind, approved, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.UserID, r.ConversationID, r.Route, r.GuardReason,
		r.FallbackKind, r.Approved, r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent audit entries, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, user_id, conversation_id, route, guard_reason, fallback_kind, approved, duration_ms, created_at
		 FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var ms int64
		if err := rows.Scan(&r.RequestID, &r.UserID, &r.ConversationID, &r.Route,
			&r.GuardReason, &r.FallbackKind, &r.Approved, &ms, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
