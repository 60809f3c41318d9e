package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded by the API.
const (
	TypeGenerated = "documents.generated"
	TypeRejected  = "documents.rejected"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Event is one audit record. Payloads carry metadata only, never intake
// values or document bytes.
type Event struct {
	ID        int64        `json:"id"`
	TS        string       `json:"ts"`
	Type      string       `json:"type"`
	RequestID string       `json:"request_id,omitempty"`
	Subject   string       `json:"subject,omitempty"`
	Success   bool         `json:"success"`
	Payload   EventPayload `json:"payload"`
}

func (w Writer) Append(ctx context.Context, evtType, requestID, subject string, success bool, payload EventPayload) (Event, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,request_id,subject,success,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, nullable(requestID), nullable(subject), success, string(data))
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	id, _ := res.LastInsertId()
	return Event{ID: id, TS: ts, Type: evtType, RequestID: requestID, Subject: subject, Success: success, Payload: payload}, nil
}

// Latest returns up to n events, newest first.
func (w Writer) Latest(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		n = 20
	}
	return w.query(ctx, `SELECT id,ts,type,request_id,subject,success,payload_json FROM events ORDER BY id DESC LIMIT ?`, n)
}

// After returns up to n events with an id greater than cursor, oldest first.
func (w Writer) After(ctx context.Context, cursor int64, n int) ([]Event, error) {
	if n <= 0 {
		n = 100
	}
	return w.query(ctx, `SELECT id,ts,type,request_id,subject,success,payload_json FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, cursor, n)
}

// LatestID returns the id of the newest event, or 0 for an empty log.
func (w Writer) LatestID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := w.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, fmt.Errorf("latest event id: %w", err)
	}
	return id.Int64, nil
}

func (w Writer) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := w.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var (
			e                  Event
			requestID, subject sql.NullString
			payload            string
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &requestID, &subject, &e.Success, &payload); err != nil {
			return nil, err
		}
		e.RequestID = requestID.String
		e.Subject = subject.String
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode event %d payload: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
