package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// PGStore is the Postgres ledger backend, for installations archiving a large
// back catalog where a single JSON document gets unwieldy. Durability per
// mutation comes from the database; the Store contract is otherwise identical
// to FileStore.
type PGStore struct {
	db *sql.DB
}

// OpenPGStore connects to Postgres and applies the idempotent schema.
func OpenPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres ledger: %w", err)
	}
	pg := &PGStore{db: db}
	if err := pg.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return pg, nil
}

func (pg *PGStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vods (
			vod_id TEXT PRIMARY KEY,
			title TEXT,
			url TEXT,
			created_at TIMESTAMPTZ,
			duration_seconds INTEGER DEFAULT 0,
			status TEXT NOT NULL,
			youtube_video_id TEXT,
			local_path TEXT,
			last_error TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			raw TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vods_status ON vods(status)`,
	}
	for i, s := range stmts {
		if _, err := pg.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("ledger migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

func (pg *PGStore) Upsert(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := pg.db.ExecContext(ctx, `INSERT INTO vods
		(vod_id, title, url, created_at, duration_seconds, status, youtube_video_id, local_path, last_error, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,''),NULLIF($9,''),$10)
		ON CONFLICT (vod_id) DO UPDATE SET
			title=EXCLUDED.title,
			url=EXCLUDED.url,
			created_at=EXCLUDED.created_at,
			duration_seconds=EXCLUDED.duration_seconds,
			status=EXCLUDED.status,
			youtube_video_id=EXCLUDED.youtube_video_id,
			local_path=EXCLUDED.local_path,
			last_error=EXCLUDED.last_error,
			updated_at=EXCLUDED.updated_at`,
		rec.VODID, rec.Title, rec.URL, rec.CreatedAt, rec.Duration,
		string(rec.Status), rec.YouTubeVideoID, rec.LocalPath, rec.LastError, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert vod %s: %w", rec.VODID, err)
	}
	return nil
}

func (pg *PGStore) Get(ctx context.Context, id string) (Record, bool, error) {
	row := pg.db.QueryRowContext(ctx, `SELECT vod_id, title, COALESCE(url,''), created_at,
		COALESCE(duration_seconds,0), status, COALESCE(youtube_video_id,''),
		COALESCE(local_path,''), COALESCE(last_error,''), updated_at
		FROM vods WHERE vod_id=$1`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get vod %s: %w", id, err)
	}
	return rec, true, nil
}

func (pg *PGStore) Snapshot(ctx context.Context) (map[string]Record, error) {
	rows, err := pg.db.QueryContext(ctx, `SELECT vod_id, title, COALESCE(url,''), created_at,
		COALESCE(duration_seconds,0), status, COALESCE(youtube_video_id,''),
		COALESCE(local_path,''), COALESCE(last_error,''), updated_at FROM vods`)
	if err != nil {
		return nil, fmt.Errorf("snapshot ledger: %w", err)
	}
	defer rows.Close()
	out := map[string]Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out[rec.VODID] = rec
	}
	return out, rows.Err()
}

func (pg *PGStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	var n int
	err := pg.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM vods WHERE vod_id=$1 AND status=$2`, id, string(StatusUploaded)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is processed %s: %w", id, err)
	}
	return n > 0, nil
}

func (pg *PGStore) Summary(ctx context.Context) (Summary, error) {
	rows, err := pg.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM vods GROUP BY status`)
	if err != nil {
		return Summary{}, fmt.Errorf("ledger summary: %w", err)
	}
	defer rows.Close()
	var s Summary
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return Summary{}, err
		}
		for i := 0; i < n; i++ {
			s.add(Status(st))
		}
	}
	return s, rows.Err()
}

func (pg *PGStore) Close() error { return pg.db.Close() }

type rowScanner interface{ Scan(dest ...any) error }

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var status string
	err := row.Scan(&rec.VODID, &rec.Title, &rec.URL, &rec.CreatedAt, &rec.Duration,
		&status, &rec.YouTubeVideoID, &rec.LocalPath, &rec.LastError, &rec.UpdatedAt)
	rec.Status = Status(status)
	return rec, err
}

// UpsertOAuthToken stores or updates an OAuth token row for a provider.
// Tokens may be encrypted by the caller before storage.
func (pg *PGStore) UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, raw string) error {
	_, err := pg.db.ExecContext(ctx, `INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, raw, updated_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (provider) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			raw=EXCLUDED.raw,
			updated_at=NOW()`, provider, access, refresh, expiry, raw)
	return err
}

// GetOAuthToken retrieves a stored token row; zero values when absent.
func (pg *PGStore) GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, raw string, err error) {
	row := pg.db.QueryRowContext(ctx, `SELECT COALESCE(access_token,''), COALESCE(refresh_token,''),
		COALESCE(expires_at, to_timestamp(0)), COALESCE(raw,'') FROM oauth_tokens WHERE provider=$1`, provider)
	err = row.Scan(&access, &refresh, &expiry, &raw)
	if err == sql.ErrNoRows {
		return "", "", time.Time{}, "", nil
	}
	return access, refresh, expiry, raw, err
}
