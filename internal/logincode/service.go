// Package logincode binds one reusable login code to each identity.
package logincode

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/paperlogin/paperlogin/internal/codegen"
	"github.com/paperlogin/paperlogin/internal/identity"
	"github.com/paperlogin/paperlogin/internal/kvstore"
	"github.com/paperlogin/paperlogin/internal/logging"
	"github.com/paperlogin/paperlogin/internal/metrics"
)

// Namespace is the key segment for login code records.
const Namespace = "login:"

// CodePlaceholder is replaced by the code in the website URL template.
const CodePlaceholder = "{code}"

// Config carries the login code settings.
type Config struct {
	KeyPrefix   string
	CodeLength  int
	Validity    time.Duration
	URLTemplate string
	MaxAttempts int
}

// Issued describes the code handed to an identity.
type Issued struct {
	Code      string
	Reused    bool
	ExpiresAt time.Time
}

// Manager issues login codes. It keeps no mutable state of its own; every
// invariant lives in the store, so one Manager serves concurrent callers.
//
// Identity to code resolution is a scan over live login records. Two
// concurrent IssueOrReuse calls for the same identity can both miss and both
// mint; the losing code is never returned again and simply expires.
type Manager struct {
	store   kvstore.Store
	gen     *codegen.Generator
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewManager builds a login code manager.
func NewManager(store kvstore.Store, gen *codegen.Generator, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{store: store, gen: gen, cfg: cfg, logger: logger, metrics: m, now: time.Now}
}

// Validity returns how long an issued or refreshed code stays live.
func (m *Manager) Validity() time.Duration { return m.cfg.Validity }

func (m *Manager) prefix() string { return m.cfg.KeyPrefix + Namespace }

func (m *Manager) key(code string) string { return m.prefix() + code }

// IssueOrReuse returns the identity's live login code, refreshing its expiry,
// or mints a new one when none exists.
func (m *Manager) IssueOrReuse(ctx context.Context, id identity.Identity) (Issued, error) {
	if err := id.Validate(); err != nil {
		return Issued{}, err
	}
	log := logging.FromContext(ctx, m.logger)

	code, found, err := m.findExisting(ctx, id.ID)
	if err != nil {
		return Issued{}, m.fail(ctx, "login.scan", err)
	}
	if found {
		applied, err := m.store.Expire(ctx, m.key(code), m.cfg.Validity)
		if err != nil {
			return Issued{}, m.fail(ctx, "login.refresh", err)
		}
		if applied {
			m.metrics.Issued(metrics.NamespaceLogin, true)
			log.Debug("login code reused", slog.String("identity_id", id.ID))
			return Issued{Code: code, Reused: true, ExpiresAt: m.now().Add(m.cfg.Validity)}, nil
		}
		log.Debug("login code expired before refresh", slog.String("identity_id", id.ID))
	}

	fields := id.Fields()
	code, err = m.gen.Mint(ctx, m.cfg.CodeLength, m.cfg.MaxAttempts,
		func(ctx context.Context, code string) (bool, error) {
			return m.store.PutRecord(ctx, m.key(code), fields, m.cfg.Validity, kvstore.PutIfAbsent)
		},
		func(string) {
			m.metrics.Collision(metrics.NamespaceLogin)
			log.Debug("login code collision, regenerating")
		},
	)
	if err != nil {
		if errors.Is(err, codegen.ErrExhausted) {
			log.Error("login code generation exhausted", slog.Int("length", m.cfg.CodeLength), slog.Any("error", err))
			return Issued{}, err
		}
		return Issued{}, m.fail(ctx, "login.issue", err)
	}

	m.metrics.Issued(metrics.NamespaceLogin, false)
	log.Info("login code issued", slog.String("identity_id", id.ID))
	return Issued{Code: code, ExpiresAt: m.now().Add(m.cfg.Validity)}, nil
}

// HasExisting reports whether the identity holds a live login code. It does
// not refresh the code.
func (m *Manager) HasExisting(ctx context.Context, id identity.Identity) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	_, found, err := m.findExisting(ctx, id.ID)
	if err != nil {
		return false, m.fail(ctx, "login.scan", err)
	}
	return found, nil
}

// Lookup resolves a code to the identity it was issued to.
func (m *Manager) Lookup(ctx context.Context, code string) (identity.Identity, bool, error) {
	fields, err := m.store.GetFields(ctx, m.key(code))
	if err != nil {
		return identity.Identity{}, false, m.fail(ctx, "login.lookup", err)
	}
	id, ok := identity.FromFields(fields)
	return id, ok, nil
}

// Invalidate deletes a code before its expiry and reports whether it was
// live.
func (m *Manager) Invalidate(ctx context.Context, code string) (bool, error) {
	deleted, err := m.store.Delete(ctx, m.key(code))
	if err != nil {
		return false, m.fail(ctx, "login.invalidate", err)
	}
	if deleted {
		logging.FromContext(ctx, m.logger).Info("login code invalidated")
	}
	return deleted, nil
}

// DeriveExternalURL substitutes code into the configured website URL. It
// reports false when no template is configured.
func (m *Manager) DeriveExternalURL(code string) (string, bool) {
	if m.cfg.URLTemplate == "" {
		return "", false
	}
	return strings.ReplaceAll(m.cfg.URLTemplate, CodePlaceholder, code), true
}

func (m *Manager) findExisting(ctx context.Context, identityID string) (string, bool, error) {
	keys, err := m.store.ScanKeys(ctx, m.prefix())
	if err != nil {
		return "", false, err
	}
	for _, key := range keys {
		uuid, ok, err := m.store.GetField(ctx, key, identity.FieldUUID)
		if err != nil {
			return "", false, err
		}
		if ok && uuid == identityID {
			return strings.TrimPrefix(key, m.prefix()), true, nil
		}
	}
	return "", false, nil
}

func (m *Manager) fail(ctx context.Context, op string, err error) error {
	m.metrics.StoreFailure(op)
	logging.FromContext(ctx, m.logger).Error("login code store failure", slog.String("operation", op), slog.Any("error", err))
	return err
}
