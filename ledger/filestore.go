package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps the whole ledger as one JSON document on disk. Writes go
// through a temp file and rename so a crash mid-write never truncates the
// ledger, and concurrent readers (the status reporter) never observe a
// half-written document.
type FileStore struct {
	path string

	mu      sync.RWMutex
	records map[string]Record
}

// OpenFileStore loads the ledger at path, creating an empty one if the file
// does not exist. A document that exists but fails to parse is preserved under
// a backup name and replaced with an empty ledger; a warning is logged so the
// data loss is never silent. The returned error wraps ErrCorrupt only when
// even the backup rename fails.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, records: map[string]Record{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	if len(data) == 0 {
		return fs, nil
	}
	var recs map[string]Record
	if jsonErr := json.Unmarshal(data, &recs); jsonErr != nil {
		backup := fmt.Sprintf("%s.corrupt.%s", path, time.Now().UTC().Format("20060102T150405Z"))
		if err := os.Rename(path, backup); err != nil {
			return nil, fmt.Errorf("%w: %s (backup failed: %v)", ErrCorrupt, jsonErr, err)
		}
		slog.Warn("ledger unparseable, starting empty",
			slog.String("path", path),
			slog.String("backup", backup),
			slog.Any("err", jsonErr))
		return fs, nil
	}
	for id, r := range recs {
		if r.VODID == "" {
			r.VODID = id
		}
		fs.records[id] = r
	}
	return fs, nil
}

func (fs *FileStore) Upsert(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	prev, existed := fs.records[rec.VODID]
	fs.records[rec.VODID] = rec
	if err := fs.persistLocked(); err != nil {
		// Roll back the in-memory copy so memory and disk stay in sync.
		if existed {
			fs.records[rec.VODID] = prev
		} else {
			delete(fs.records, rec.VODID)
		}
		return err
	}
	return nil
}

func (fs *FileStore) Get(ctx context.Context, id string) (Record, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	r, ok := fs.records[id]
	return r, ok, nil
}

func (fs *FileStore) Snapshot(ctx context.Context) (map[string]Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make(map[string]Record, len(fs.records))
	for id, r := range fs.records {
		out[id] = r
	}
	return out, nil
}

func (fs *FileStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	r, ok := fs.records[id]
	return ok && r.Status == StatusUploaded, nil
}

func (fs *FileStore) Summary(ctx context.Context) (Summary, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var s Summary
	for _, r := range fs.records {
		s.add(r.Status)
	}
	return s, nil
}

func (fs *FileStore) Close() error { return nil }

// persistLocked writes the full document atomically. Callers hold fs.mu.
func (fs *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(fs.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	dir := filepath.Dir(fs.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
