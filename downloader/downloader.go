// Package downloader retrieves Twitch VODs to local disk by shelling out to
// yt-dlp. Downloads use a stable output path so yt-dlp's own .part resume
// works across restarts, and a finished file found on disk short-circuits the
// download entirely.
package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	repeatedWhitespace   = regexp.MustCompile(`\s+`)
)

// mediaExtensions are the suffixes a finished download may carry.
var mediaExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".ts": true, ".flv": true,
}

// Request identifies one VOD to fetch.
type Request struct {
	VODID     string
	URL       string
	Title     string
	Channel   string
	CreatedAt time.Time
}

// Client shells out to yt-dlp. The zero value is not usable; set Dir.
type Client struct {
	Dir               string
	Timeout           time.Duration // zero means no per-download timeout
	MinFreeBytes      int64         // headroom to preserve on the volume
	EstimatedVODBytes int64         // worst-case size used for the preflight check
	Command           string        // binary name, overridable in tests
}

func (c *Client) command() string {
	if c.Command != "" {
		return c.Command
	}
	return "yt-dlp"
}

func (c *Client) estimated() int64 {
	if c.EstimatedVODBytes > 0 {
		return c.EstimatedVODBytes
	}
	return 10 << 30 // long streams can reach 10 GiB
}

// SanitizeFilename strips characters that are invalid in filenames, collapses
// whitespace, and caps the length.
func SanitizeFilename(title string) string {
	s := invalidFilenameChars.ReplaceAllString(title, "")
	s = repeatedWhitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		s = strings.TrimSpace(s[:200])
	}
	return s
}

// filenameBase prefers "<channel> VOD - MM-DD-YYYY" when the stream date is
// known, falling back to the sanitized title.
func filenameBase(req Request) string {
	if req.Channel != "" && !req.CreatedAt.IsZero() {
		return fmt.Sprintf("%s VOD - %s", req.Channel, req.CreatedAt.Format("01-02-2006"))
	}
	return SanitizeFilename(req.Title)
}

// findExisting returns a previously finished non-empty media file for the VOD.
func findExisting(dir, vodID string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	prefix := vodID + "_"
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if !mediaExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		if fi, err := e.Info(); err == nil && fi.Size() > 0 {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}

// Download fetches the VOD and returns the local file path.
func (c *Client) Download(ctx context.Context, req Request) (string, error) {
	if req.VODID == "" || req.URL == "" {
		return "", fmt.Errorf("download request missing vod id or url")
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	if existing := findExisting(c.Dir, req.VODID); existing != "" {
		slog.Info("found existing file, skipping download",
			slog.String("vod_id", req.VODID), slog.String("path", existing))
		return existing, nil
	}

	if err := checkDiskSpace(c.Dir, c.estimated(), c.MinFreeBytes); err != nil {
		return "", err
	}

	out := filepath.Join(c.Dir, fmt.Sprintf("%s_%s.mp4", req.VODID, filenameBase(req)))
	args := []string{
		"--continue", // resume partial downloads
		"--retries", "10",
		"--fragment-retries", "10",
		"--concurrent-fragments", "10",
		"--no-playlist",
		"--no-progress",
		"-f", "best",
		"-o", out,
		req.URL,
	}
	// Prefer aria2c when available for robustness on direct HTTP downloads.
	if _, err := exec.LookPath("aria2c"); err == nil {
		args = append([]string{
			"--external-downloader", "aria2c",
			"--downloader-args", "aria2c:-x16 -s16 -k1M --file-allocation=none",
		}, args...)
	}

	dlCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		dlCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	slog.Info("downloading vod",
		slog.String("vod_id", req.VODID),
		slog.String("url", req.URL),
		slog.String("out", out))
	cmd := exec.CommandContext(dlCtx, c.command(), args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if dlCtx.Err() != nil {
			return "", fmt.Errorf("%s: %w", c.command(), dlCtx.Err())
		}
		return "", fmt.Errorf("%s: %w: %s", c.command(), err, tail(string(output), 512))
	}

	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		// yt-dlp may adjust the extension when the source container differs.
		if found := findExisting(c.Dir, req.VODID); found != "" {
			return found, nil
		}
		return "", fmt.Errorf("download finished but %s is missing or empty", out)
	}
	return out, nil
}

// Delete removes a downloaded file.
func (c *Client) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
