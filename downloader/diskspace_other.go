//go:build !unix

package downloader

// Non-unix platforms skip the preflight; yt-dlp surfaces disk errors itself.
func checkDiskSpace(dir string, estimated, minFree int64) error { return nil }
