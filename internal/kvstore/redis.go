package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// Redis implements Store on Redis hashes. Conditional writes use
// WATCH/MULTI so a concurrent change to the key aborts the write instead of
// interleaving with it.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedis wraps an existing single-node client. Cluster clients are not
// accepted since SCAN would only walk one shard. A non-positive timeout
// selects DefaultTimeout.
func NewRedis(client *redis.Client, timeout time.Duration) *Redis {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Redis{client: client, timeout: timeout}
}

func (r *Redis) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// SetField runs HSET for one field.
func (r *Redis) SetField(ctx context.Context, key, field, value string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	if err := r.client.HSet(ctx, key, field, value).Err(); err != nil {
		return unavailable("hset", key, err)
	}
	return nil
}

// GetField runs HGET; redis.Nil is reported as absence.
func (r *Redis) GetField(ctx context.Context, key, field string) (string, bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	val, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("hget", key, err)
	}
	return val, true, nil
}

// GetFields runs HGETALL.
func (r *Redis) GetFields(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable("hgetall", key, err)
	}
	return fields, nil
}

// Exists runs EXISTS.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", key, err)
	}
	return n > 0, nil
}

// Delete runs DEL.
func (r *Redis) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, unavailable("del", key, err)
	}
	return n > 0, nil
}

// Expire runs EXPIRE; Redis reports false for a missing key.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	ok, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, unavailable("expire", key, err)
	}
	return ok, nil
}

// TTL runs TTL. Redis answers -2 for a missing key and -1 for a key
// without expiry; both are reported as not ok.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, unavailable("ttl", key, err)
	}
	if d < 0 {
		return 0, false, nil
	}
	return d, true, nil
}

// ScanKeys walks the keyspace with SCAN MATCH prefix*. Keys created or
// removed during the walk may or may not be reported.
func (r *Redis) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	var keys []string
	iter := r.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan", prefix, err)
	}
	return keys, nil
}

// PutRecord replaces the record and its expiry inside MULTI/EXEC. For the
// conditional modes the key is WATCHed; a concurrent modification reports
// false rather than an error.
func (r *Redis) PutRecord(ctx context.Context, key string, fields map[string]string, ttl time.Duration, mode PutMode) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	write := func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		if len(fields) > 0 {
			p.HSet(ctx, key, hashArgs(fields)...)
			if ttl > 0 {
				p.Expire(ctx, key, ttl)
			}
		}
		return nil
	}

	if mode == PutAlways {
		if _, err := r.client.TxPipelined(ctx, write); err != nil {
			return false, unavailable("put", key, err)
		}
		return true, nil
	}

	written := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if (n > 0) == (mode == PutIfAbsent) {
			return nil
		}
		if _, err := tx.TxPipelined(ctx, write); err != nil {
			return err
		}
		written = true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("put_"+mode.String(), key, err)
	}
	return written, nil
}

// CompareAndDelete WATCHes the key, checks the field and deletes inside
// MULTI/EXEC.
func (r *Redis) CompareAndDelete(ctx context.Context, key, field, expected string) (bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	deleted := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.HGet(ctx, key, field).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if val != expected {
			return nil
		}
		var del *redis.IntCmd
		if _, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			del = p.Del(ctx, key)
			return nil
		}); err != nil {
			return err
		}
		deleted = del.Val() > 0
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("compare_and_delete", key, err)
	}
	return deleted, nil
}

// Ping runs PING.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

func hashArgs(fields map[string]string) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
