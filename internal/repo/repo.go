package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"lockerline/internal/domain"
)

// Repo is the sqlite-backed event log. The UNIQUE index on event_id is the
// dedup index; it commits atomically with the record itself, so a failed
// insert leaves the ID unaccepted.
type Repo struct {
	DB *sql.DB
}

func (r Repo) Append(ctx context.Context, ev domain.Event) (bool, error) {
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO events(event_id,occurred_at,locker_id,type,payload_json) VALUES (?,?,?,?,?)`,
		ev.EventID, ev.OccurredAt, ev.LockerID, string(ev.Type), string(data))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return false, nil
		}
		return false, fmt.Errorf("append event: %w", err)
	}
	return true, nil
}

func (r Repo) LoadAll(ctx context.Context) ([]domain.Event, error) {
	return r.query(ctx, `SELECT event_id,occurred_at,locker_id,type,payload_json FROM events ORDER BY seq`)
}

func (r Repo) LoadByLocker(ctx context.Context, lockerID string) ([]domain.Event, error) {
	return r.query(ctx, `SELECT event_id,occurred_at,locker_id,type,payload_json FROM events WHERE locker_id=? ORDER BY seq`, lockerID)
}

func (r Repo) query(ctx context.Context, q string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var ev domain.Event
		var payload string
		if err := rows.Scan(&ev.EventID, &ev.OccurredAt, &ev.LockerID, &ev.Type, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for event %s: %w", ev.EventID, err)
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}
