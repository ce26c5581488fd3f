package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vodarchiver/vodarchiver/config"
	"github.com/vodarchiver/vodarchiver/downloader"
	"github.com/vodarchiver/vodarchiver/ledger"
	"github.com/vodarchiver/vodarchiver/twitchapi"
)

type fakeLister struct {
	videos []twitchapi.VideoMeta
	err    error
	calls  int
}

func (f *fakeLister) ListChannelVideos(ctx context.Context, channel string, first int) ([]twitchapi.VideoMeta, error) {
	f.calls++
	return f.videos, f.err
}

type fakeDownloader struct {
	dir       string
	calls     map[string]int
	failIDs   map[string]bool
	deleted   []string
	deleteErr error
}

func newFakeDownloader(t *testing.T) *fakeDownloader {
	t.Helper()
	return &fakeDownloader{dir: t.TempDir(), calls: map[string]int{}, failIDs: map[string]bool{}}
}

func (f *fakeDownloader) Download(ctx context.Context, req downloader.Request) (string, error) {
	f.calls[req.VODID]++
	if f.failIDs[req.VODID] {
		return "", errors.New("yt-dlp exited 1")
	}
	path := filepath.Join(f.dir, req.VODID+"_test.mp4")
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeDownloader) Delete(path string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, path)
	return os.Remove(path)
}

type fakeUploader struct {
	calls   map[string]int
	failIDs map[string]bool
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{calls: map[string]int{}, failIDs: map[string]bool{}}
}

func (f *fakeUploader) Upload(ctx context.Context, path string, rec ledger.Record) (string, error) {
	f.calls[rec.VODID]++
	if f.failIDs[rec.VODID] {
		return "", errors.New("quota exceeded")
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("upload source missing: %w", err)
	}
	return "yt-" + rec.VODID, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		TwitchChannel:   "testchannel",
		YTPrivacyStatus: "unlisted",
		PollInterval:    time.Hour,
		DownloadDir:     t.TempDir(),
	}
}

func testStore(t *testing.T) *ledger.FileStore {
	t.Helper()
	st, err := ledger.OpenFileStore(filepath.Join(t.TempDir(), "ledger.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func video(id, title string) twitchapi.VideoMeta {
	return twitchapi.VideoMeta{
		ID:        id,
		Title:     title,
		URL:       "https://www.twitch.tv/videos/" + id,
		CreatedAt: "2024-03-01T12:00:00Z",
		Duration:  "1h2m3s",
	}
}

func TestRunCycleArchivesNewVOD(t *testing.T) {
	lister := &fakeLister{videos: []twitchapi.VideoMeta{video("101", "First Stream")}}
	dl := newFakeDownloader(t)
	up := newFakeUploader()
	store := testStore(t)
	p := New(testConfig(t), store, lister, dl, up)

	sum, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if sum.Discovered != 1 || sum.Downloaded != 1 || sum.Uploaded != 1 || sum.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	rec, ok, err := store.Get(context.Background(), "101")
	if err != nil || !ok {
		t.Fatalf("record not found: ok=%v err=%v", ok, err)
	}
	if rec.Status != ledger.StatusUploaded {
		t.Fatalf("status = %s, want uploaded", rec.Status)
	}
	if rec.YouTubeVideoID != "yt-101" {
		t.Fatalf("youtube id = %q", rec.YouTubeVideoID)
	}
	if rec.Duration != 3723 {
		t.Fatalf("duration = %d, want 3723", rec.Duration)
	}
}

func TestRunCycleSecondPassIsNoOp(t *testing.T) {
	lister := &fakeLister{videos: []twitchapi.VideoMeta{video("101", "First Stream")}}
	dl := newFakeDownloader(t)
	up := newFakeUploader()
	p := New(testConfig(t), testStore(t), lister, dl, up)

	ctx := context.Background()
	if _, err := p.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	sum, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if sum.Discovered != 0 || sum.Downloaded != 0 || sum.Uploaded != 0 {
		t.Fatalf("second cycle did work: %+v", sum)
	}
	if dl.calls["101"] != 1 {
		t.Fatalf("download called %d times, want 1", dl.calls["101"])
	}
	if up.calls["101"] != 1 {
		t.Fatalf("upload called %d times, want 1", up.calls["101"])
	}
}

func TestRunCycleListingFailureAbortsWithoutLedgerWrites(t *testing.T) {
	lister := &fakeLister{err: errors.New("helix 500")}
	store := testStore(t)
	p := New(testConfig(t), store, lister, newFakeDownloader(t), newFakeUploader())

	_, err := p.RunCycle(context.Background())
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchError", err)
	}
	sum, err := store.Summary(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 0 {
		t.Fatalf("ledger has %d records after aborted cycle", sum.Total)
	}
}

func TestRunCycleOneFailureDoesNotBlockOthers(t *testing.T) {
	lister := &fakeLister{videos: []twitchapi.VideoMeta{
		video("101", "Good"),
		video("102", "Bad"),
		video("103", "Also Good"),
	}}
	dl := newFakeDownloader(t)
	dl.failIDs["102"] = true
	up := newFakeUploader()
	store := testStore(t)
	p := New(testConfig(t), store, lister, dl, up)

	sum, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if sum.Uploaded != 2 || sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 2 uploaded 1 failed", sum)
	}

	rec, _, _ := store.Get(context.Background(), "102")
	if rec.Status != ledger.StatusFailed {
		t.Fatalf("102 status = %s, want failed", rec.Status)
	}
	if rec.LastError == "" {
		t.Fatal("102 has no last_error")
	}
	for _, id := range []string{"101", "103"} {
		rec, _, _ := store.Get(context.Background(), id)
		if rec.Status != ledger.StatusUploaded {
			t.Fatalf("%s status = %s, want uploaded", id, rec.Status)
		}
	}
}

func TestRunCycleRetriesFailedRecords(t *testing.T) {
	lister := &fakeLister{videos: []twitchapi.VideoMeta{video("101", "Flaky")}}
	dl := newFakeDownloader(t)
	dl.failIDs["101"] = true
	up := newFakeUploader()
	store := testStore(t)
	p := New(testConfig(t), store, lister, dl, up)

	ctx := context.Background()
	if _, err := p.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	rec, _, _ := store.Get(ctx, "101")
	if rec.Status != ledger.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}

	delete(dl.failIDs, "101")
	sum, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if sum.Uploaded != 1 {
		t.Fatalf("retry did not upload: %+v", sum)
	}
	rec, _, _ = store.Get(ctx, "101")
	if rec.Status != ledger.StatusUploaded || rec.LastError != "" {
		t.Fatalf("record after retry: %+v", rec)
	}
}

func TestRunCycleResumesFromDownloadedAfterCrash(t *testing.T) {
	dl := newFakeDownloader(t)
	up := newFakeUploader()
	store := testStore(t)
	ctx := context.Background()

	// Simulate a crash after download: a downloaded record whose local file
	// is still on disk.
	path := filepath.Join(dl.dir, "101_test.mp4")
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(ctx, ledger.Record{
		VODID:     "101",
		Title:     "Interrupted",
		URL:       "https://www.twitch.tv/videos/101",
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Status:    ledger.StatusDownloaded,
		LocalPath: path,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	lister := &fakeLister{videos: []twitchapi.VideoMeta{video("101", "Interrupted")}}
	p := New(testConfig(t), store, lister, dl, up)

	sum, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if dl.calls["101"] != 0 {
		t.Fatalf("re-downloaded an already downloaded vod (%d calls)", dl.calls["101"])
	}
	if sum.Uploaded != 1 {
		t.Fatalf("summary = %+v, want 1 uploaded", sum)
	}
	rec, _, _ := store.Get(ctx, "101")
	if rec.Status != ledger.StatusUploaded {
		t.Fatalf("status = %s, want uploaded", rec.Status)
	}
}

func TestRunCycleRedownloadsWhenLocalFileMissing(t *testing.T) {
	dl := newFakeDownloader(t)
	up := newFakeUploader()
	store := testStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, ledger.Record{
		VODID:     "101",
		Title:     "Gone",
		URL:       "https://www.twitch.tv/videos/101",
		Status:    ledger.StatusDownloaded,
		LocalPath: filepath.Join(dl.dir, "101_missing.mp4"),
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	p := New(testConfig(t), store, &fakeLister{}, dl, up)
	sum, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if dl.calls["101"] != 1 {
		t.Fatalf("download calls = %d, want 1", dl.calls["101"])
	}
	if sum.Uploaded != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRunCycleDeleteAfterUpload(t *testing.T) {
	lister := &fakeLister{videos: []twitchapi.VideoMeta{video("101", "Cleanup")}}
	dl := newFakeDownloader(t)
	up := newFakeUploader()
	store := testStore(t)
	cfg := testConfig(t)
	cfg.DeleteAfterUpload = true
	p := New(cfg, store, lister, dl, up)

	ctx := context.Background()
	if _, err := p.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(dl.deleted) != 1 {
		t.Fatalf("deleted %d files, want 1", len(dl.deleted))
	}
	if _, err := os.Stat(dl.deleted[0]); !os.IsNotExist(err) {
		t.Fatalf("local file still present: %v", err)
	}
	rec, _, _ := store.Get(ctx, "101")
	if rec.LocalPath != "" {
		t.Fatalf("local_path = %q, want empty after cleanup", rec.LocalPath)
	}
	if rec.Status != ledger.StatusUploaded {
		t.Fatalf("status = %s", rec.Status)
	}
}

func TestRunCycleUploadedRecordsNeverReprocessed(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.Upsert(ctx, ledger.Record{
		VODID:          "101",
		Title:          "Done",
		Status:         ledger.StatusUploaded,
		YouTubeVideoID: "yt-existing",
		UpdatedAt:      time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	lister := &fakeLister{videos: []twitchapi.VideoMeta{video("101", "Done")}}
	dl := newFakeDownloader(t)
	up := newFakeUploader()
	p := New(testConfig(t), store, lister, dl, up)

	if _, err := p.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if dl.calls["101"] != 0 || up.calls["101"] != 0 {
		t.Fatalf("uploaded record touched: dl=%d up=%d", dl.calls["101"], up.calls["101"])
	}
	rec, _, _ := store.Get(ctx, "101")
	if rec.YouTubeVideoID != "yt-existing" {
		t.Fatalf("youtube id changed: %q", rec.YouTubeVideoID)
	}
}

func TestRunCycleProcessesOldestFirst(t *testing.T) {
	newer := video("202", "Newer")
	newer.CreatedAt = "2024-03-02T12:00:00Z"
	lister := &fakeLister{videos: []twitchapi.VideoMeta{newer, video("101", "Older")}}
	dl := newFakeDownloader(t)
	store := testStore(t)

	var order []string
	up := &orderUploader{order: &order}
	p := New(testConfig(t), store, lister, dl, up)

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(order) != 2 || order[0] != "101" || order[1] != "202" {
		t.Fatalf("upload order = %v, want [101 202]", order)
	}
}

type orderUploader struct {
	order *[]string
}

func (o *orderUploader) Upload(ctx context.Context, path string, rec ledger.Record) (string, error) {
	*o.order = append(*o.order, rec.VODID)
	return "yt-" + rec.VODID, nil
}

func TestUploadDescription(t *testing.T) {
	rec := ledger.Record{
		VODID:     "101",
		URL:       "https://www.twitch.tv/videos/101",
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:  3723,
	}
	got := uploadDescription(rec)
	want := "Archived from Twitch: https://www.twitch.tv/videos/101\n\n" +
		"Original stream date: 2024-03-01T12:00:00Z\nDuration: 1h2m3s\n\n" +
		"---\nAutomatically archived from Twitch VOD."
	if got != want {
		t.Fatalf("description mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestUploadTitleDatePrefix(t *testing.T) {
	rec := ledger.Record{Title: "Speedrun", CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	if got := uploadTitle(rec); got != "[2024-03-01] Speedrun" {
		t.Fatalf("title = %q", got)
	}
	if got := uploadTitle(ledger.Record{Title: "NoDate"}); got != "NoDate" {
		t.Fatalf("title = %q", got)
	}
}
