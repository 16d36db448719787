package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/novik133/novasearch/internal/classify"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := OpenReadWrite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(path string, size int64) FileRecord {
	return FileRecord{
		Path:         path,
		Filename:     filepath.Base(path),
		Size:         size,
		ModifiedTime: time.Now().Unix(),
		FileType:     classify.Regular,
		IndexedTime:  time.Now().Unix(),
	}
}

func mustApply(t *testing.T, s *Store, ops ...Op) {
	t.Helper()
	if err := s.ApplyBatch(context.Background(), ops); err != nil {
		t.Fatalf("apply batch: %v", err)
	}
}

func TestOpenReadOnlyMissing(t *testing.T) {
	_, err := OpenReadOnly(filepath.Join(t.TempDir(), "absent.db"))
	if !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("expected ErrNotAvailable, got %v", err)
	}
}

func TestReadOnlySessionRejectsWrites(t *testing.T) {
	rw := openTemp(t)
	mustApply(t, rw, Upsert(rec("/data/a.txt", 1)))

	ro, err := OpenReadOnly(rw.Path())
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer ro.Close()

	if err := ro.ApplyBatch(context.Background(), []Op{Delete("/data/a.txt")}); err == nil {
		t.Error("expected read-only apply to fail")
	}
	if err := ro.RecordLaunch(context.Background(), "/data/a.txt"); err == nil {
		t.Error("expected read-only launch to fail")
	}

	results, err := ro.Query(context.Background(), "a", 10)
	if err != nil {
		t.Fatalf("read-only query: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result via read-only session, got %d", len(results))
	}
}

func TestSchemaTooNew(t *testing.T) {
	s := openTemp(t)
	if err := s.SetMeta(context.Background(), metaSchemaVersion, "99"); err != nil {
		t.Fatal(err)
	}
	path := s.Path()
	s.Close()

	_, err := OpenReadWrite(path)
	if !errors.Is(err, ErrSchemaTooNew) {
		t.Fatalf("expected ErrSchemaTooNew, got %v", err)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := openTemp(t)
	r := rec("/data/a.txt", 100)

	mustApply(t, s, Upsert(r))
	mustApply(t, s, Upsert(r))

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 row after duplicate upsert, got %d", n)
	}
}

func TestApplyBatchTwiceSameState(t *testing.T) {
	s := openTemp(t)
	batch := []Op{
		Upsert(rec("/data/a.txt", 1)),
		Upsert(rec("/data/b.txt", 2)),
		Delete("/data/c.txt"),
	}
	if err := s.ApplyBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	n, _ := s.Count(context.Background())
	if n != 2 {
		t.Errorf("expected 2 rows after applying batch twice, got %d", n)
	}
}

func TestDeleteBeforeUpsertAtSamePath(t *testing.T) {
	s := openTemp(t)
	mustApply(t, s, Upsert(rec("/data/a.txt", 1)))

	// A delete and a re-create of the same path in one batch nets to the
	// new row regardless of slice order.
	mustApply(t, s, Upsert(rec("/data/a.txt", 42)), Delete("/data/a.txt"))

	results, err := s.Query(context.Background(), "a.txt", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Size != 42 {
		t.Fatalf("expected single surviving row with size 42, got %+v", results)
	}
}

func TestRenamePreservesUsage(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	mustApply(t, s, Upsert(rec("/data/a.txt", 100)))
	for i := 0; i < 3; i++ {
		if err := s.RecordLaunch(ctx, "/data/a.txt"); err != nil {
			t.Fatal(err)
		}
	}

	mustApply(t, s, Rename("/data/a.txt", rec("/data/a2.txt", 100)))

	results, err := s.Query(ctx, "a2.txt", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one row for a2.txt, got %d", len(results))
	}
	if results[0].Size != 100 {
		t.Errorf("expected size 100 carried through rename, got %d", results[0].Size)
	}
	if results[0].LaunchCount != 3 {
		t.Errorf("expected launch count 3 preserved across rename, got %d", results[0].LaunchCount)
	}

	old, err := s.Query(ctx, "a.txt", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range old {
		if r.Path == "/data/a.txt" {
			t.Error("old path still present after rename")
		}
	}
}

func TestRenameMissingSourceUpserts(t *testing.T) {
	s := openTemp(t)
	mustApply(t, s, Rename("/data/ghost.txt", rec("/data/real.txt", 5)))

	n, _ := s.Count(context.Background())
	if n != 1 {
		t.Errorf("expected rename of unknown source to upsert, got %d rows", n)
	}
}

func TestRecordLaunch(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	mustApply(t, s, Upsert(rec("/data/a.txt", 1)))

	for i := 0; i < 5; i++ {
		if err := s.RecordLaunch(ctx, "/data/a.txt"); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.LaunchCount(ctx, "/data/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("expected 5 launches recorded, got %d", n)
	}

	// Unindexed path is a silent no-op.
	if err := s.RecordLaunch(ctx, "/data/missing.txt"); err != nil {
		t.Errorf("launch of unindexed path should be a no-op, got %v", err)
	}
}

func TestUsageCascadesOnDelete(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	mustApply(t, s, Upsert(rec("/data/a.txt", 1)))
	if err := s.RecordLaunch(ctx, "/data/a.txt"); err != nil {
		t.Fatal(err)
	}
	mustApply(t, s, Delete("/data/a.txt"))

	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM usage_stats`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected usage row removed with its file, found %d", n)
	}
}

func TestQueryRankingTiers(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	mustApply(t, s,
		Upsert(rec("/files/document.txt", 1)),
		Upsert(rec("/files/Document.pdf", 1)),
		Upsert(rec("/files/my_document.doc", 1)),
	)
	for i := 0; i < 5; i++ {
		if err := s.RecordLaunch(ctx, "/files/my_document.doc"); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.Query(ctx, "document", 10)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, len(results))
	for i, r := range results {
		got[i] = r.Filename
	}
	// Tier precedes usage: both prefix matches rank above the heavily
	// launched substring match.
	want := []string{"document.txt", "Document.pdf", "my_document.doc"}
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ranking order = %v, want %v", got, want)
		}
	}
}

func TestQueryExactTierWinsCaseInsensitively(t *testing.T) {
	s := openTemp(t)
	mustApply(t, s,
		Upsert(rec("/files/Notes", 1)),
		Upsert(rec("/files/sub/notes.txt", 1)),
	)

	results, err := s.Query(context.Background(), "notes", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Filename != "Notes" {
		t.Errorf("expected case-insensitive exact match first, got %q", results[0].Filename)
	}
}

func TestQueryUsageBreaksTiesWithinTier(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	mustApply(t, s,
		Upsert(rec("/files/report-a.txt", 1)),
		Upsert(rec("/files/report-b.txt", 1)),
	)
	for i := 0; i < 2; i++ {
		if err := s.RecordLaunch(ctx, "/files/report-b.txt"); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.Query(ctx, "report", 10)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Filename != "report-b.txt" {
		t.Errorf("expected launch count to rank report-b.txt first, got %q", results[0].Filename)
	}
}

func TestQueryEmptyAndLimit(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	for _, p := range []string{"/f/a1.txt", "/f/a2.txt", "/f/a3.txt"} {
		mustApply(t, s, Upsert(rec(p, 1)))
	}

	results, err := s.Query(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("empty query must return no rows, got %d", len(results))
	}

	results, err = s.Query(ctx, "a", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("expected limit 2 honored, got %d", len(results))
	}

	// Non-positive limit falls back to the default cap.
	results, err = s.Query(ctx, "a", -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("expected all 3 under default limit, got %d", len(results))
	}
}

func TestVacuumStale(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	mustApply(t, s,
		Upsert(rec("/keep/a.txt", 1)),
		Upsert(rec("/keep/sub/b.txt", 1)),
		Upsert(rec("/gone/c.txt", 1)),
	)

	n, err := s.VacuumStale(ctx, []string{"/keep"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 stale row vacuumed, got %d", n)
	}
	count, _ := s.Count(ctx)
	if count != 2 {
		t.Errorf("expected 2 rows remaining, got %d", count)
	}
}

func TestDeleteWhere(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	mustApply(t, s,
		Upsert(rec("/data/src/main.go", 1)),
		Upsert(rec("/data/node_modules/x.js", 1)),
	)

	doomed, err := s.DeleteWhere(ctx, func(path string) bool {
		return classify.ExcludeMatches(path, []string{"node_modules"})
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(doomed) != 1 || doomed[0] != "/data/node_modules/x.js" {
		t.Errorf("expected the excluded row deleted, got %v", doomed)
	}
}

func TestPathsUnder(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	mustApply(t, s,
		Upsert(rec("/data/dir/a.txt", 1)),
		Upsert(rec("/data/dir/sub/b.txt", 1)),
		Upsert(rec("/data/dirx/c.txt", 1)),
	)

	paths, err := s.PathsUnder(ctx, "/data/dir")
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Errorf("expected 2 paths under /data/dir, got %v", paths)
	}
}

func TestBasenameConsistency(t *testing.T) {
	s := openTemp(t)
	r := rec("/data/sub/report.pdf", 1)
	r.Filename = "wrong-name" // the store derives filename from path
	mustApply(t, s, Upsert(r))

	results, err := s.Query(context.Background(), "report", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Filename != "report.pdf" {
		t.Fatalf("expected filename derived from path, got %+v", results)
	}
}
