package archiver

import (
	"context"
	"fmt"
	"time"

	"github.com/vodarchiver/vodarchiver/config"
	"github.com/vodarchiver/vodarchiver/ledger"
	"github.com/vodarchiver/vodarchiver/youtubeapi"
)

// YouTubeUploader adapts the youtubeapi package to the pipeline's Uploader
// interface, building title, description and tags from the ledger record.
type YouTubeUploader struct {
	Service *youtubeapi.Service
	Cfg     *config.Config
}

func (u *YouTubeUploader) Upload(ctx context.Context, path string, rec ledger.Record) (string, error) {
	svc, err := u.Service.Client(ctx)
	if err != nil {
		return "", fmt.Errorf("youtube client: %w", err)
	}
	return youtubeapi.UploadVideo(ctx, svc, youtubeapi.UploadRequest{
		Path:        path,
		Title:       uploadTitle(rec),
		Description: uploadDescription(rec),
		Privacy:     u.Cfg.YTPrivacyStatus,
		Tags:        []string{"Twitch", "VOD", "Archive", u.Cfg.TwitchChannel},
	})
}

// uploadTitle prefixes the stream date when the title does not already carry
// one, so the channel page sorts sensibly.
func uploadTitle(rec ledger.Record) string {
	if rec.CreatedAt.IsZero() {
		return rec.Title
	}
	return fmt.Sprintf("[%s] %s", rec.CreatedAt.Format("2006-01-02"), rec.Title)
}

func uploadDescription(rec ledger.Record) string {
	created := ""
	if !rec.CreatedAt.IsZero() {
		created = rec.CreatedAt.Format(time.RFC3339)
	}
	return fmt.Sprintf(
		"Archived from Twitch: %s\n\nOriginal stream date: %s\nDuration: %s\n\n---\nAutomatically archived from Twitch VOD.",
		rec.URL, created, formatDuration(rec.Duration))
}

func formatDuration(seconds int) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
