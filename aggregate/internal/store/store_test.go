package store

import (
	"context"
	"testing"
	"time"

	"github.com/iswhat/raytv/dbopen"
	_ "modernc.org/sqlite"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	return New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

// WHAT: the latest snapshot round-trips; older ones are pruned past the keep
// limit.
func TestSaveAndLatest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		if err := s.Save(ctx, at, []byte{byte('a' + i)}, 2); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	payload, at, ok, err := s.Latest(ctx)
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if string(payload) != "e" {
		t.Fatalf("payload = %q, want newest", payload)
	}
	if !at.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("generatedAt = %v", at)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_snapshots`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("rows = %d, want 2 after pruning", count)
	}
}

func TestLatest_Empty(t *testing.T) {
	s := openStore(t)
	_, _, ok, err := s.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if ok {
		t.Fatal("empty store must report ok=false")
	}
}
