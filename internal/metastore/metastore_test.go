package metastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DefaultConfig(filepath.Join(t.TempDir(), "meta.db")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(t *testing.T, s *Store, op Op) {
	t.Helper()
	if err := s.Record(&op); err != nil {
		t.Fatalf("Record: %v", err)
	}
}

func TestRecordAndCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	record(t, s, Op{Command: "GET", Cube: "sales", Status: "ok"})
	record(t, s, Op{Command: "GET", Cube: "sales", Status: "ok"})
	record(t, s, Op{Command: "SET", Cube: "sales", Status: "error", Error: "shape mismatch"})
	record(t, s, Op{Command: "PING", Status: "ok"})

	counts, err := s.CommandCounts(ctx)
	if err != nil {
		t.Fatalf("CommandCounts: %v", err)
	}
	if counts["GET"] != 2 || counts["SET"] != 1 || counts["PING"] != 1 {
		t.Errorf("counts = %v", counts)
	}

	errs, err := s.ErrorCount(ctx)
	if err != nil {
		t.Fatalf("ErrorCount: %v", err)
	}
	if errs != 1 {
		t.Errorf("ErrorCount = %d, want 1", errs)
	}
}

func TestTopCubes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		record(t, s, Op{Command: "GET", Cube: "busy", Status: "ok"})
	}
	record(t, s, Op{Command: "GET", Cube: "quiet", Status: "error", Error: "not found"})
	record(t, s, Op{Command: "PING", Status: "ok"}) // no cube, excluded

	top, err := s.TopCubes(ctx, 10)
	if err != nil {
		t.Fatalf("TopCubes: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("TopCubes returned %d rows, want 2", len(top))
	}
	if top[0].Cube != "busy" || top[0].Ops != 3 || top[0].Errors != 0 {
		t.Errorf("top[0] = %+v", top[0])
	}
	if top[1].Cube != "quiet" || top[1].Errors != 1 {
		t.Errorf("top[1] = %+v", top[1])
	}
}

func TestPruneBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	record(t, s, Op{TimestampMs: now - 10_000, Command: "GET", Status: "ok"})
	record(t, s, Op{TimestampMs: now, Command: "GET", Status: "ok"})

	removed, err := s.PruneBefore(ctx, now-5_000)
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	counts, err := s.CommandCounts(ctx)
	if err != nil {
		t.Fatalf("CommandCounts: %v", err)
	}
	if counts["GET"] != 1 {
		t.Errorf("counts after prune = %v", counts)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	s, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	record(t, s, Op{Command: "GET", Status: "ok"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	counts, err := s.CommandCounts(context.Background())
	if err != nil {
		t.Fatalf("CommandCounts: %v", err)
	}
	if counts["GET"] != 1 {
		t.Errorf("counts after reopen = %v", counts)
	}
}
