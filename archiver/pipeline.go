// Package archiver drives the poll → dedup → download → upload → mark-done
// pipeline. One cycle runs at a time and records are processed strictly
// sequentially; every stage transition is persisted to the ledger before the
// next stage starts, so an interrupted pipeline resumes where it left off.
package archiver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/vodarchiver/vodarchiver/config"
	"github.com/vodarchiver/vodarchiver/downloader"
	"github.com/vodarchiver/vodarchiver/ledger"
	"github.com/vodarchiver/vodarchiver/telemetry"
	"github.com/vodarchiver/vodarchiver/twitchapi"
)

const listPageSize = 20

// VODLister is the Twitch collaborator.
type VODLister interface {
	ListChannelVideos(ctx context.Context, channel string, first int) ([]twitchapi.VideoMeta, error)
}

// Downloader is the yt-dlp collaborator.
type Downloader interface {
	Download(ctx context.Context, req downloader.Request) (string, error)
	Delete(path string) error
}

// Uploader is the YouTube collaborator.
type Uploader interface {
	Upload(ctx context.Context, path string, rec ledger.Record) (string, error)
}

// Activity describes the record currently being worked on.
type Activity struct {
	VODID     string        `json:"vod_id"`
	Title     string        `json:"title"`
	Stage     ledger.Status `json:"stage"`
	StartedAt time.Time     `json:"started_at"`
}

// CycleSummary reports one polling cycle.
type CycleSummary struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Discovered int       `json:"discovered"`
	Downloaded int       `json:"downloaded"`
	Uploaded   int       `json:"uploaded"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// Pipeline owns the working set for one channel. Construct with New.
type Pipeline struct {
	cfg    *config.Config
	store  ledger.Store
	twitch VODLister
	dl     Downloader
	up     Uploader

	startedAt time.Time
	current   atomic.Pointer[Activity]
	lastCycle atomic.Pointer[CycleSummary]
}

func New(cfg *config.Config, store ledger.Store, twitch VODLister, dl Downloader, up Uploader) *Pipeline {
	telemetry.Init()
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		twitch:    twitch,
		dl:        dl,
		up:        up,
		startedAt: time.Now(),
	}
}

// Current returns the in-flight activity, or nil when the pipeline is idle.
// Safe for concurrent use by the status reporter.
func (p *Pipeline) Current() *Activity { return p.current.Load() }

// LastCycle returns the most recent cycle summary, or nil before the first
// cycle completes.
func (p *Pipeline) LastCycle() *CycleSummary { return p.lastCycle.Load() }

// Uptime reports how long the pipeline has been running.
func (p *Pipeline) Uptime() time.Duration { return time.Since(p.startedAt) }

// Run polls at the configured interval until ctx is cancelled. Cycles never
// overlap: the ticker is only consulted after the previous cycle finishes, so
// a tick that fires mid-cycle is coalesced rather than run concurrently.
func (p *Pipeline) Run(ctx context.Context) {
	slog.Info("archiver starting",
		slog.String("channel", p.cfg.TwitchChannel),
		slog.Duration("poll_interval", p.cfg.PollInterval))
	p.cycle(ctx)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("archiver stopped")
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Pipeline) cycle(ctx context.Context) {
	summary, err := p.RunCycle(ctx)
	if err != nil {
		slog.Warn("cycle aborted", slog.Any("err", err))
		return
	}
	if summary.Discovered+summary.Downloaded+summary.Uploaded+summary.Failed > 0 {
		slog.Info("cycle complete",
			slog.Int("discovered", summary.Discovered),
			slog.Int("downloaded", summary.Downloaded),
			slog.Int("uploaded", summary.Uploaded),
			slog.Int("failed", summary.Failed),
			slog.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)))
	}
}

// RunCycle executes one full poll-download-upload pass. A listing failure
// aborts the cycle before any ledger write; every other failure is contained
// to the record it occurred on.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleSummary, error) {
	summary := CycleSummary{StartedAt: time.Now()}
	telemetry.CyclesRun.Inc()
	defer func() {
		summary.FinishedAt = time.Now()
		telemetry.CycleDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
		p.lastCycle.Store(&summary)
		p.current.Store(nil)
	}()

	videos, err := p.twitch.ListChannelVideos(ctx, p.cfg.TwitchChannel, listPageSize)
	if err != nil {
		telemetry.CyclesFailed.Inc()
		ferr := &FetchError{Err: err}
		summary.Error = ferr.Error()
		return summary, ferr
	}

	for _, v := range videos {
		if _, ok, err := p.store.Get(ctx, v.ID); err != nil {
			summary.Error = err.Error()
			return summary, err
		} else if ok {
			// Re-discovery is a no-op regardless of state; failed records
			// are retried from the ledger side below.
			continue
		}
		created, _ := time.Parse(time.RFC3339, v.CreatedAt)
		rec := ledger.Record{
			VODID:     v.ID,
			Title:     v.Title,
			URL:       v.URL,
			CreatedAt: created,
			Duration:  twitchapi.ParseDuration(v.Duration),
			Status:    ledger.StatusDiscovered,
			UpdatedAt: time.Now().UTC(),
		}
		if err := p.store.Upsert(ctx, rec); err != nil {
			slog.Error("failed to record discovered vod", slog.String("vod_id", v.ID), slog.Any("err", err))
			continue
		}
		telemetry.VODsDiscovered.Inc()
		summary.Discovered++
		slog.Info("discovered new vod", slog.String("vod_id", v.ID), slog.String("title", v.Title))
	}

	pending, err := p.pendingRecords(ctx)
	if err != nil {
		summary.Error = err.Error()
		return summary, err
	}
	telemetry.SetPending(len(pending))

	for _, rec := range pending {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		p.processRecord(ctx, rec, &summary)
	}

	if n, err := p.countPending(ctx); err == nil {
		telemetry.SetPending(n)
	}
	return summary, nil
}

// pendingRecords selects every record that has not reached uploaded, oldest
// first. Besides discovered and failed records this includes in-flight
// statuses left behind by a crash; those resume from the stage their
// persisted state allows.
func (p *Pipeline) pendingRecords(ctx context.Context) ([]ledger.Record, error) {
	snap, err := p.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Record, 0, len(snap))
	for _, rec := range snap {
		if rec.Status != ledger.StatusUploaded {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].VODID < out[j].VODID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (p *Pipeline) countPending(ctx context.Context) (int, error) {
	sum, err := p.store.Summary(ctx)
	if err != nil {
		return 0, err
	}
	return sum.Total - sum.Uploaded, nil
}

// processRecord runs one record through the remaining stages. Failures never
// escape: the record is marked failed with the error text and the cycle moves
// on to the next record.
func (p *Pipeline) processRecord(ctx context.Context, rec ledger.Record, summary *CycleSummary) {
	logger := slog.Default().With(slog.String("vod_id", rec.VODID), slog.String("component", "archiver"))

	path, ok := p.ensureDownloaded(ctx, &rec, summary, logger)
	if !ok {
		return
	}
	if !p.upload(ctx, &rec, path, summary, logger) {
		return
	}
	p.cleanupLocal(ctx, &rec, logger)
}

// ensureDownloaded returns a usable local file for the record, downloading if
// the persisted state does not already point at one.
func (p *Pipeline) ensureDownloaded(ctx context.Context, rec *ledger.Record, summary *CycleSummary, logger *slog.Logger) (string, bool) {
	// A crash between download and upload leaves a downloaded/uploading
	// record with a good local file; re-use it instead of re-downloading.
	if rec.LocalPath != "" && fileExists(rec.LocalPath) {
		return rec.LocalPath, true
	}

	p.setStage(ctx, rec, ledger.StatusDownloading, logger)
	start := time.Now()
	path, err := p.dl.Download(ctx, downloader.Request{
		VODID:     rec.VODID,
		URL:       vodURL(rec),
		Title:     rec.Title,
		Channel:   p.cfg.TwitchChannel,
		CreatedAt: rec.CreatedAt,
	})
	if err != nil {
		telemetry.DownloadsFailed.Inc()
		p.fail(ctx, rec, &DownloadError{VODID: rec.VODID, Err: err}, summary, logger)
		return "", false
	}
	telemetry.DownloadsSucceeded.Inc()
	telemetry.DownloadDuration.Observe(time.Since(start).Seconds())
	logger.Info("download complete", slog.String("path", path), slog.Duration("took", time.Since(start)))

	rec.LocalPath = path
	rec.Status = ledger.StatusDownloaded
	rec.LastError = ""
	rec.UpdatedAt = time.Now().UTC()
	if err := p.store.Upsert(ctx, *rec); err != nil {
		p.fail(ctx, rec, fmt.Errorf("persist downloaded state: %w", err), summary, logger)
		return "", false
	}
	summary.Downloaded++
	return path, true
}

func (p *Pipeline) upload(ctx context.Context, rec *ledger.Record, path string, summary *CycleSummary, logger *slog.Logger) bool {
	p.setStage(ctx, rec, ledger.StatusUploading, logger)
	start := time.Now()
	videoID, err := p.up.Upload(ctx, path, *rec)
	if err != nil {
		telemetry.UploadsFailed.Inc()
		p.fail(ctx, rec, &UploadError{VODID: rec.VODID, Err: err}, summary, logger)
		return false
	}
	telemetry.UploadsSucceeded.Inc()
	telemetry.UploadDuration.Observe(time.Since(start).Seconds())

	rec.YouTubeVideoID = videoID
	rec.Status = ledger.StatusUploaded
	rec.LastError = ""
	rec.UpdatedAt = time.Now().UTC()
	if err := p.store.Upsert(ctx, *rec); err != nil {
		// Upload succeeded but the result could not be persisted; leave the
		// record as-is so the failure is visible rather than silently lost.
		logger.Error("failed to persist uploaded state", slog.Any("err", err))
		rec.YouTubeVideoID = ""
		p.fail(ctx, rec, fmt.Errorf("persist uploaded state: %w", err), summary, logger)
		return false
	}
	summary.Uploaded++
	logger.Info("vod archived", slog.String("youtube_video_id", videoID), slog.Duration("upload_took", time.Since(start)))
	return true
}

// cleanupLocal deletes the downloaded file after a successful upload when
// configured. Deletion failure is logged but never reverts the record:
// upload success is authoritative.
func (p *Pipeline) cleanupLocal(ctx context.Context, rec *ledger.Record, logger *slog.Logger) {
	if !p.cfg.DeleteAfterUpload || rec.LocalPath == "" {
		return
	}
	if err := p.dl.Delete(rec.LocalPath); err != nil {
		logger.Warn("failed to delete local file after upload", slog.String("path", rec.LocalPath), slog.Any("err", err))
		return
	}
	logger.Info("deleted local file after upload", slog.String("path", rec.LocalPath))
	rec.LocalPath = ""
	rec.UpdatedAt = time.Now().UTC()
	if err := p.store.Upsert(ctx, *rec); err != nil {
		logger.Warn("failed to persist cleared local path", slog.Any("err", err))
	}
}

// setStage advances the record's status and persists it, publishing the
// in-flight activity for the status reporter. Persist errors here are logged
// and tolerated; the stage itself decides whether progress is usable.
func (p *Pipeline) setStage(ctx context.Context, rec *ledger.Record, stage ledger.Status, logger *slog.Logger) {
	if !rec.Status.CanTransition(stage) {
		logger.Warn("unexpected stage transition", slog.String("from", string(rec.Status)), slog.String("to", string(stage)))
	}
	rec.Status = stage
	rec.UpdatedAt = time.Now().UTC()
	if err := p.store.Upsert(ctx, *rec); err != nil {
		logger.Warn("failed to persist stage", slog.String("stage", string(stage)), slog.Any("err", err))
	}
	p.current.Store(&Activity{VODID: rec.VODID, Title: rec.Title, Stage: stage, StartedAt: time.Now()})
}

func (p *Pipeline) fail(ctx context.Context, rec *ledger.Record, cause error, summary *CycleSummary, logger *slog.Logger) {
	logger.Error("record failed", slog.Any("err", cause))
	rec.Status = ledger.StatusFailed
	rec.LastError = cause.Error()
	rec.UpdatedAt = time.Now().UTC()
	if err := p.store.Upsert(ctx, *rec); err != nil {
		logger.Error("failed to persist failure", slog.Any("err", err))
	}
	summary.Failed++
}

func vodURL(rec *ledger.Record) string {
	if rec.URL != "" {
		return rec.URL
	}
	return "https://www.twitch.tv/videos/" + rec.VODID
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir() && fi.Size() > 0
}
