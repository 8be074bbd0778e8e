// Package kvstore defines the hash-record-with-TTL contract the exchange code
// managers run against, plus Redis, PostgreSQL and in-memory backends.
package kvstore

import (
	"context"
	"time"
)

// PutMode selects the precondition applied by Store.PutRecord.
type PutMode int

const (
	// PutAlways writes the record whether or not it exists.
	PutAlways PutMode = iota
	// PutIfAbsent writes only when no live record exists under the key.
	PutIfAbsent
	// PutIfPresent writes only when a live record already exists under the key.
	PutIfPresent
)

func (m PutMode) String() string {
	switch m {
	case PutIfAbsent:
		return "if_absent"
	case PutIfPresent:
		return "if_present"
	default:
		return "always"
	}
}

// Store is a key-value store of named hash records, each with an optional
// absolute expiry. Expired records are indistinguishable from absent ones.
//
// Implementations bound every call with their own request timeout and report
// transport failures as errors carrying ErrUnavailable. Absence is never an
// error.
type Store interface {
	// SetField sets a single field of the record, creating it if needed.
	SetField(ctx context.Context, key, field, value string) error
	// GetField returns the field value and whether it was present.
	GetField(ctx context.Context, key, field string) (string, bool, error)
	// GetFields returns every field of the record, empty when absent.
	GetFields(ctx context.Context, key string) (map[string]string, error)
	// Exists reports whether a live record is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes the record and reports whether one was removed.
	Delete(ctx context.Context, key string) (bool, error)
	// Expire sets the record to expire ttl from now. It reports false when
	// there is no live record to apply it to.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns the remaining time to live and whether the record exists
	// with an expiry.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
	// ScanKeys lists live record keys starting with prefix. Best effort.
	ScanKeys(ctx context.Context, prefix string) ([]string, error)
	// PutRecord writes all fields and the expiry as one atomic step, subject
	// to mode. It reports whether the write happened. A non-positive ttl
	// stores the record without expiry and clears any previous one.
	PutRecord(ctx context.Context, key string, fields map[string]string, ttl time.Duration, mode PutMode) (bool, error)
	// CompareAndDelete removes the record only while field equals expected,
	// atomically, and reports whether it was removed.
	CompareAndDelete(ctx context.Context, key, field, expected string) (bool, error)
	// Ping checks connectivity with the backing store.
	Ping(ctx context.Context) error
}

// DefaultTimeout bounds a single store call when the backend is not given one.
const DefaultTimeout = 2 * time.Second
