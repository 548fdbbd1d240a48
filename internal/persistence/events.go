// Copyright 2025 James Ross
package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AppendEvent writes an append-only JobEvent row, never mutated
// afterward. Within one job, events are totally ordered by
// (event_time, id): the UTC wall-clock time taken at insert, with the
// autoincrement id as a tiebreaker. If an audit logger was
// installed via SetAuditLogger, the event is mirrored there too.
func (s *Store) AppendEvent(ctx context.Context, jobID, eventType, message, payload string) error {
	eventTime := time.Now().UTC()
	err := s.withLockRetry(ctx, "append_event", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO job_events (job_id, event_type, message, payload, event_time)
			VALUES (?, ?, ?, ?, ?)`,
			jobID, eventType, message, payload, eventTime,
		)
		return err
	})
	if err == nil && s.audit != nil {
		s.audit.Info(eventType,
			zap.String("job_id", jobID),
			zap.String("message", message),
			zap.String("payload", payload),
			zap.Time("event_time", eventTime),
		)
	}
	return err
}

// ListEvents returns a Job's event log in (event_time, id) order.
func (s *Store) ListEvents(ctx context.Context, jobID string) ([]*JobEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, event_type, message, payload, event_time
		FROM job_events WHERE job_id = ? ORDER BY event_time ASC, id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*JobEvent
	for rows.Next() {
		var e JobEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.EventType, &e.Message, &e.Payload, &e.EventTime); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
