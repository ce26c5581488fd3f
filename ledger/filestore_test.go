package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempLedger(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "processed_vods.json")
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := tempLedger(t)
	ctx := context.Background()

	fs, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	rec := Record{VODID: "v1", Title: "Stream A", Status: StatusDiscovered, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := fs.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Reopen simulates a restart; the record must survive.
	fs2, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok, err := fs2.Get(ctx, "v1")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if got.Title != "Stream A" || got.Status != StatusDiscovered {
		t.Errorf("record mismatch after reopen: %+v", got)
	}
}

func TestFileStorePersistsEveryUpsert(t *testing.T) {
	path := tempLedger(t)
	ctx := context.Background()
	fs, _ := OpenFileStore(path)

	rec := Record{VODID: "v1", Status: StatusDiscovered, UpdatedAt: time.Now()}
	if err := fs.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Status = StatusDownloading
	if err := fs.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ledger file missing after upsert: %v", err)
	}
	var onDisk map[string]Record
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("ledger file not valid JSON: %v", err)
	}
	if onDisk["v1"].Status != StatusDownloading {
		t.Errorf("on-disk status = %s, want downloading", onDisk["v1"].Status)
	}
}

func TestFileStoreCorruptRecovery(t *testing.T) {
	path := tempLedger(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	fs, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore on corrupt file: %v", err)
	}
	snap, _ := fs.Snapshot(context.Background())
	if len(snap) != 0 {
		t.Errorf("expected empty ledger after corrupt recovery, got %d records", len(snap))
	}

	// Corrupt document must be preserved under a backup name.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if strings.Contains(e.Name(), ".corrupt.") {
			found = true
		}
	}
	if !found {
		t.Error("no backup of corrupt ledger found")
	}
}

func TestFileStoreRejectsInvalidRecord(t *testing.T) {
	fs, _ := OpenFileStore(tempLedger(t))
	bad := Record{VODID: "v1", Status: StatusUploaded} // uploaded without video id
	if err := fs.Upsert(context.Background(), bad); err == nil {
		t.Fatal("Upsert accepted uploaded record without youtube_video_id")
	}
}

func TestFileStoreIsProcessedAndSummary(t *testing.T) {
	ctx := context.Background()
	fs, _ := OpenFileStore(tempLedger(t))
	now := time.Now()
	recs := []Record{
		{VODID: "a", Status: StatusUploaded, YouTubeVideoID: "yt-a", UpdatedAt: now},
		{VODID: "b", Status: StatusFailed, LastError: "timeout", UpdatedAt: now},
		{VODID: "c", Status: StatusDiscovered, UpdatedAt: now},
		{VODID: "d", Status: StatusDownloaded, LocalPath: "/tmp/d.mp4", UpdatedAt: now},
	}
	for _, r := range recs {
		if err := fs.Upsert(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	for id, want := range map[string]bool{"a": true, "b": false, "c": false, "missing": false} {
		if got, _ := fs.IsProcessed(ctx, id); got != want {
			t.Errorf("IsProcessed(%s) = %v, want %v", id, got, want)
		}
	}

	sum, _ := fs.Summary(ctx)
	if sum.Total != 4 || sum.Uploaded != 1 || sum.Failed != 1 || sum.Discovered != 1 || sum.InFlight != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestFileStoreSnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	fs, _ := OpenFileStore(tempLedger(t))
	_ = fs.Upsert(ctx, Record{VODID: "v1", Status: StatusDiscovered, UpdatedAt: time.Now()})

	snap, _ := fs.Snapshot(ctx)
	r := snap["v1"]
	r.Status = StatusFailed
	snap["v1"] = r

	got, _, _ := fs.Get(ctx, "v1")
	if got.Status != StatusDiscovered {
		t.Error("mutating a snapshot leaked into the store")
	}
}
