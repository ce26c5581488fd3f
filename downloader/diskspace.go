//go:build unix

package downloader

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkDiskSpace fails when the volume holding dir cannot fit an estimated
// download while preserving minFree headroom.
func checkDiskSpace(dir string, estimated, minFree int64) error {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		// Treat an unreadable filesystem as not blocking: yt-dlp will fail
		// with a clearer error if the disk really is unusable.
		return nil
	}
	free := int64(st.Bavail) * int64(st.Bsize)
	if free < minFree {
		return fmt.Errorf("insufficient disk space: %.2f GiB free, need at least %.2f GiB headroom",
			gib(free), gib(minFree))
	}
	if free < estimated+minFree {
		return fmt.Errorf("insufficient disk space: %.2f GiB free, need %.2f GiB for download plus headroom",
			gib(free), gib(estimated+minFree))
	}
	return nil
}

func gib(n int64) float64 { return float64(n) / (1 << 30) }
