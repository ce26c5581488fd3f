// Package ledger persists per-VOD processing state. The ledger is the single
// source of truth for which VODs have been archived: every pipeline stage
// persists its result before moving on, so a crash at any point loses at most
// the stage in flight.
package ledger

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a VOD record. It only advances forward,
// except that any in-flight state may drop to StatusFailed and failed records
// are retried from the download stage on the next cycle.
type Status string

const (
	StatusDiscovered  Status = "discovered"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusUploading   Status = "uploading"
	StatusUploaded    Status = "uploaded"
	StatusFailed      Status = "failed"
)

var statusRank = map[Status]int{
	StatusDiscovered:  0,
	StatusDownloading: 1,
	StatusDownloaded:  2,
	StatusUploading:   3,
	StatusUploaded:    4,
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusFailed
}

// CanTransition reports whether moving from s to next respects the forward-only
// state machine. Failed records may re-enter any non-terminal stage.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if next == StatusFailed {
		return s != StatusUploaded
	}
	if s == StatusFailed {
		return next != StatusUploaded
	}
	return statusRank[next] >= statusRank[s]
}

// Record is one ledger entry, keyed by the Twitch VOD ID. Records are never
// deleted; the ledger is an append-mostly audit trail.
type Record struct {
	VODID          string    `json:"vod_id"`
	Title          string    `json:"title"`
	URL            string    `json:"url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Duration       int       `json:"duration_seconds,omitempty"`
	Status         Status    `json:"status"`
	YouTubeVideoID string    `json:"youtube_video_id,omitempty"`
	LocalPath      string    `json:"local_path,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate checks the invariants every persisted record must hold.
func (r Record) Validate() error {
	if r.VODID == "" {
		return fmt.Errorf("record missing vod_id")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("record %s has unknown status %q", r.VODID, r.Status)
	}
	if r.Status == StatusUploaded && r.YouTubeVideoID == "" {
		return fmt.Errorf("record %s uploaded without youtube_video_id", r.VODID)
	}
	if r.Status != StatusUploaded && r.YouTubeVideoID != "" {
		return fmt.Errorf("record %s has youtube_video_id but status %s", r.VODID, r.Status)
	}
	return nil
}

// Summary is a count of ledger records by status, used by the status reporter.
type Summary struct {
	Total      int `json:"total"`
	Discovered int `json:"discovered"`
	InFlight   int `json:"in_flight"`
	Uploaded   int `json:"uploaded"`
	Failed     int `json:"failed"`
}

func (s *Summary) add(st Status) {
	s.Total++
	switch st {
	case StatusDiscovered:
		s.Discovered++
	case StatusUploaded:
		s.Uploaded++
	case StatusFailed:
		s.Failed++
	default:
		s.InFlight++
	}
}
