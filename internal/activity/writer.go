package activity

import (
	"context"
	"database/sql"
	"time"
)

// Writer appends to the activity log. Entries are append-only: they surface
// both successes and best-effort failures to operators and are never mutated.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, eventType, message string, agentID *string) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	query := `INSERT INTO activity(ts,event_type,message,agent_id) VALUES (?,?,?,?)`
	if tx != nil {
		_, err := tx.ExecContext(ctx, query, ts, eventType, message, nullableStringPtr(agentID))
		return err
	}
	_, err := w.DB.ExecContext(ctx, query, ts, eventType, message, nullableStringPtr(agentID))
	return err
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
