package archiver

import "fmt"

// FetchError wraps a failure to list VODs from Twitch. It aborts the current
// cycle with no ledger writes; the next scheduled cycle retries.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch vod list: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// DownloadError marks a single record's download failure.
type DownloadError struct {
	VODID string
	Err   error
}

func (e *DownloadError) Error() string { return fmt.Sprintf("download vod %s: %v", e.VODID, e.Err) }
func (e *DownloadError) Unwrap() error { return e.Err }

// UploadError marks a single record's upload failure.
type UploadError struct {
	VODID string
	Err   error
}

func (e *UploadError) Error() string { return fmt.Sprintf("upload vod %s: %v", e.VODID, e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }
