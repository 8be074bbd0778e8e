package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgxQuerier is the subset of *pgxpool.Pool the Postgres store needs.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const live = `(expires_at IS NULL OR expires_at > now())`

const schemaSQL = `CREATE TABLE IF NOT EXISTS kv_records (
    record_key TEXT PRIMARY KEY,
    fields     JSONB NOT NULL DEFAULT '{}'::jsonb,
    expires_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS kv_records_expires_at_idx ON kv_records (expires_at)`

const (
	setFieldSQL = `INSERT INTO kv_records (record_key, fields)
    VALUES ($1, jsonb_build_object($2::text, $3::text))
    ON CONFLICT (record_key) DO UPDATE SET
        fields = CASE WHEN kv_records.expires_at <= now() THEN EXCLUDED.fields ELSE kv_records.fields || EXCLUDED.fields END,
        expires_at = CASE WHEN kv_records.expires_at <= now() THEN NULL ELSE kv_records.expires_at END`
	getFieldSQL  = `SELECT fields ? $2, COALESCE(fields->>$2, '') FROM kv_records WHERE record_key = $1 AND ` + live
	getFieldsSQL = `SELECT fields::text FROM kv_records WHERE record_key = $1 AND ` + live
	existsSQL    = `SELECT EXISTS (SELECT 1 FROM kv_records WHERE record_key = $1 AND ` + live + `)`
	deleteSQL    = `DELETE FROM kv_records WHERE record_key = $1 AND ` + live
	expireSQL    = `UPDATE kv_records SET expires_at = now() + $2::bigint * interval '1 millisecond' WHERE record_key = $1 AND ` + live
	ttlSQL       = `SELECT (EXTRACT(EPOCH FROM expires_at - now()) * 1000)::bigint FROM kv_records WHERE record_key = $1 AND expires_at IS NOT NULL AND ` + live
	scanSQL      = `SELECT record_key FROM kv_records WHERE starts_with(record_key, $1) AND ` + live + ` ORDER BY record_key`
	putAlwaysSQL = `INSERT INTO kv_records (record_key, fields, expires_at)
    VALUES ($1, $2::jsonb, now() + $3::bigint * interval '1 millisecond')
    ON CONFLICT (record_key) DO UPDATE SET fields = EXCLUDED.fields, expires_at = EXCLUDED.expires_at`
	putIfAbsentSQL = putAlwaysSQL + `
    WHERE kv_records.expires_at <= now()`
	putIfPresentSQL = `UPDATE kv_records SET fields = $2::jsonb, expires_at = now() + $3::bigint * interval '1 millisecond'
    WHERE record_key = $1 AND ` + live
	compareAndDeleteSQL = `DELETE FROM kv_records WHERE record_key = $1 AND fields->>$2 = $3 AND ` + live
	sweepSQL            = `DELETE FROM kv_records WHERE expires_at <= now()`
)

// Postgres implements Store on a single kv_records table holding each
// record's fields as JSONB. Every operation is one statement, so the
// conditional writes rely on row locking and ON CONFLICT for atomicity.
type Postgres struct {
	db      pgxQuerier
	timeout time.Duration
}

// NewPostgres wraps a pool. A non-positive timeout selects DefaultTimeout.
func NewPostgres(db pgxQuerier, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Postgres{db: db, timeout: timeout}
}

func (p *Postgres) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

// EnsureSchema creates the kv_records table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return unavailable("ensure_schema", "", err)
	}
	return nil
}

func (p *Postgres) SetField(ctx context.Context, key, field, value string) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	if _, err := p.db.Exec(ctx, setFieldSQL, key, field, value); err != nil {
		return unavailable("set_field", key, err)
	}
	return nil
}

func (p *Postgres) GetField(ctx context.Context, key, field string) (string, bool, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	var (
		present bool
		val     string
	)
	err := p.db.QueryRow(ctx, getFieldSQL, key, field).Scan(&present, &val)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get_field", key, err)
	}
	return val, present, nil
}

func (p *Postgres) GetFields(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	var raw string
	err := p.db.QueryRow(ctx, getFieldsSQL, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, unavailable("get_fields", key, err)
	}
	fields := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, unavailable("get_fields", key, err)
	}
	return fields, nil
}

func (p *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	var exists bool
	if err := p.db.QueryRow(ctx, existsSQL, key).Scan(&exists); err != nil {
		return false, unavailable("exists", key, err)
	}
	return exists, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	tag, err := p.db.Exec(ctx, deleteSQL, key)
	if err != nil {
		return false, unavailable("delete", key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	tag, err := p.db.Exec(ctx, expireSQL, key, ttl.Milliseconds())
	if err != nil {
		return false, unavailable("expire", key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	var ms int64
	err := p.db.QueryRow(ctx, ttlSQL, key).Scan(&ms)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("ttl", key, err)
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

func (p *Postgres) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	rows, err := p.db.Query(ctx, scanSQL, prefix)
	if err != nil {
		return nil, unavailable("scan", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, unavailable("scan", prefix, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scan", prefix, err)
	}
	return keys, nil
}

func (p *Postgres) PutRecord(ctx context.Context, key string, fields map[string]string, ttl time.Duration, mode PutMode) (bool, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	payload, err := json.Marshal(fields)
	if err != nil {
		return false, err
	}

	query := putAlwaysSQL
	switch mode {
	case PutIfAbsent:
		query = putIfAbsentSQL
	case PutIfPresent:
		query = putIfPresentSQL
	}

	// NULL propagates through the interval arithmetic to a NULL expires_at.
	var ttlMillis any
	if ttl > 0 {
		ttlMillis = ttl.Milliseconds()
	}
	tag, err := p.db.Exec(ctx, query, key, string(payload), ttlMillis)
	if err != nil {
		return false, unavailable("put_"+mode.String(), key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) CompareAndDelete(ctx context.Context, key, field, expected string) (bool, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	tag, err := p.db.Exec(ctx, compareAndDeleteSQL, key, field, expected)
	if err != nil {
		return false, unavailable("compare_and_delete", key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	if err := p.db.Ping(ctx); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

// Sweep deletes expired rows. Reads already ignore them; this only reclaims
// space.
func (p *Postgres) Sweep(ctx context.Context) (int64, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	tag, err := p.db.Exec(ctx, sweepSQL)
	if err != nil {
		return 0, unavailable("sweep", "", err)
	}
	return tag.RowsAffected(), nil
}
