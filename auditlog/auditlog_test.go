package auditlog

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/snapexport/dbopen"
)

func openLog(t *testing.T) *Log {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db)
}

func TestRecordAndRecent(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()

	l.Record(ctx, Event{OpID: "exp_1", Kind: "png", Region: "poll-detail", Name: "poll-results",
		Path: "/out/poll-results.png", Success: true, Canvases: 1, Width: 1600, Height: 1200,
		Duration: 1500 * time.Millisecond, At: time.Unix(1000, 0)})
	l.Record(ctx, Event{OpID: "exp_2", Kind: "pdf", Region: "missing", Name: "poll-results",
		Error: "target not found", At: time.Unix(2000, 0)})

	got, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events: got %d, want 2", len(got))
	}
	if got[0].OpID != "exp_2" || got[0].Success || got[0].Error != "target not found" {
		t.Errorf("newest: got %+v", got[0])
	}
	if got[1].Duration != 1500*time.Millisecond || got[1].Width != 1600 || !got[1].Success {
		t.Errorf("oldest: got %+v", got[1])
	}
}

func TestCleanup(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()
	l.Record(ctx, Event{OpID: "old", Kind: "png", Region: "r", Name: "n", At: time.Now().Add(-48 * time.Hour)})
	l.Record(ctx, Event{OpID: "new", Kind: "png", Region: "r", Name: "n"})

	n, err := l.Cleanup(ctx, 1)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted: got %d, want 1", n)
	}
	got, _ := l.Recent(ctx, 0)
	if len(got) != 1 || got[0].OpID != "new" {
		t.Errorf("remaining: got %+v", got)
	}
}

func TestRecord_NilLogIsNoop(t *testing.T) {
	var l *Log
	l.Record(context.Background(), Event{OpID: "x"})
}
