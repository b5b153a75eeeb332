package recorder

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T, keep int) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "sub", "dash.db"), keep)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSnapshotArchiveAndPrune(t *testing.T) {
	ctx := context.Background()
	r := openTemp(t, 3)

	if _, err := r.LatestSnapshot(ctx); err != ErrNoSnapshot {
		t.Fatalf("empty archive got %v want ErrNoSnapshot", err)
	}
	base := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 5; i++ {
		snap := StoredSnapshot{FetchedAt: base.Add(time.Duration(i) * time.Second), Raw: []byte(fmt.Sprintf(`{"n":%d}`, i))}
		if err := r.RecordSnapshot(ctx, snap); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	latest, err := r.LatestSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(latest.Raw) != `{"n":4}` || !latest.FetchedAt.Equal(base.Add(4*time.Second)) {
		t.Fatalf("latest got %s at %v", latest.Raw, latest.FetchedAt)
	}
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("kept %d snapshots want 3", n)
	}
}

func TestAccessTrail(t *testing.T) {
	ctx := context.Background()
	r := openTemp(t, 10)

	events := []AccessEvent{
		{SessionID: "s1", Outcome: OutcomeLookupFailed, Detail: "timeout"},
		{SessionID: "s1", Outcome: OutcomePasswordDenied},
		{SessionID: "s1", Outcome: OutcomePasswordOK},
		{SessionID: "s2", IP: "203.0.113.7", Outcome: OutcomeIPMatch},
	}
	for _, e := range events {
		if err := r.RecordAccess(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := r.RecentAccess(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Outcome != OutcomeIPMatch || got[0].IP != "203.0.113.7" || got[1].Outcome != OutcomePasswordOK {
		t.Fatalf("recent got %+v", got)
	}
	if got[0].At.IsZero() {
		t.Fatal("timestamp defaulted to now")
	}
}

func TestNoopRecorder(t *testing.T) {
	n := NewNoopRecorder()
	if _, err := n.LatestSnapshot(context.Background()); err != ErrNoSnapshot {
		t.Fatalf("got %v", err)
	}
	var _ Recorder = n
}
