package ledger

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusDiscovered, StatusDownloading, true},
		{StatusDownloading, StatusDownloaded, true},
		{StatusDownloaded, StatusUploading, true},
		{StatusUploading, StatusUploaded, true},
		{StatusDownloading, StatusFailed, true},
		{StatusUploading, StatusFailed, true},
		{StatusFailed, StatusDownloading, true},
		{StatusFailed, StatusDownloaded, true},
		{StatusUploaded, StatusDownloading, false},
		{StatusUploaded, StatusFailed, false},
		{StatusFailed, StatusUploaded, false},
		{StatusUploaded, StatusUploaded, true},
		{Status("bogus"), StatusFailed, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRecordValidate(t *testing.T) {
	base := Record{VODID: "v1", Title: "Stream A", Status: StatusDiscovered, UpdatedAt: time.Now()}
	if err := base.Validate(); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}

	noID := base
	noID.VODID = ""
	if err := noID.Validate(); err == nil {
		t.Error("record without vod_id accepted")
	}

	// uploaded iff youtube_video_id is set, both directions
	uploaded := base
	uploaded.Status = StatusUploaded
	if err := uploaded.Validate(); err == nil {
		t.Error("uploaded record without youtube_video_id accepted")
	}
	uploaded.YouTubeVideoID = "yt123"
	if err := uploaded.Validate(); err != nil {
		t.Errorf("uploaded record with youtube_video_id rejected: %v", err)
	}
	sneaky := base
	sneaky.YouTubeVideoID = "yt123"
	if err := sneaky.Validate(); err == nil {
		t.Error("non-uploaded record with youtube_video_id accepted")
	}
}
