package events_test

import (
	"context"
	"testing"
	"time"

	"filingkit/internal/db"
	"filingkit/internal/events"
	"filingkit/internal/migrate"
)

func TestAppendAndLatest(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	w := events.Writer{DB: conn, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}

	if _, err := w.Append(ctx, events.TypeRejected, "req-1", "", false, events.EventPayload{"error": "invalid intake"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	evt, err := w.Append(ctx, events.TypeGenerated, "req-2", "svc", true, events.EventPayload{"forms": []string{"ss4", "articles"}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if evt.ID == 0 || evt.TS != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected event: %+v", evt)
	}

	got, err := w.Latest(ctx, 10)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != events.TypeGenerated || got[0].RequestID != "req-2" || !got[0].Success || got[0].Subject != "svc" {
		t.Fatalf("newest event = %+v", got[0])
	}
	if got[1].Success || got[1].Subject != "" || got[1].Payload["error"] != "invalid intake" {
		t.Fatalf("oldest event = %+v", got[1])
	}
	if one, _ := w.Latest(ctx, 1); len(one) != 1 {
		t.Fatalf("limit not applied")
	}
}

func TestAfterAndLatestID(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	w := events.Writer{DB: conn}

	id, err := w.LatestID(ctx)
	if err != nil || id != 0 {
		t.Fatalf("empty log: id=%d err=%v", id, err)
	}
	var ids []int64
	for i := 0; i < 3; i++ {
		evt, err := w.Append(ctx, events.TypeGenerated, "", "", true, nil)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		ids = append(ids, evt.ID)
	}
	if id, _ := w.LatestID(ctx); id != ids[2] {
		t.Fatalf("latest id = %d, want %d", id, ids[2])
	}
	got, err := w.After(ctx, ids[0], 10)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(got) != 2 || got[0].ID != ids[1] || got[1].ID != ids[2] {
		t.Fatalf("after = %+v", got)
	}
	if got, _ := w.After(ctx, 0, 1); len(got) != 1 || got[0].ID != ids[0] {
		t.Fatalf("limited after = %+v", got)
	}
}
