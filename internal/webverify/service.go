// Package webverify implements the claim/consume handshake that lets the
// website and the application confirm they are talking about the same
// identity.
//
// A web code moves through issued, claimed and consumed, or expires from any
// state before consumption. Consumed and expired are terminal.
package webverify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/paperlogin/paperlogin/internal/codegen"
	"github.com/paperlogin/paperlogin/internal/identity"
	"github.com/paperlogin/paperlogin/internal/kvstore"
	"github.com/paperlogin/paperlogin/internal/logging"
	"github.com/paperlogin/paperlogin/internal/metrics"
)

// Namespace is the key segment for web code records.
const Namespace = "web:"

// Claim outcomes, used for logs and metrics.
const (
	ClaimUnknown   = "unknown"
	ClaimBound     = "bound"
	ClaimRebound   = "rebound"
	ClaimRefreshed = "refreshed"
)

// Config carries the web code settings.
type Config struct {
	KeyPrefix   string
	CodeLength  int
	Validity    time.Duration
	MaxAttempts int
}

// Issued describes a freshly minted web code.
type Issued struct {
	Code      string
	ExpiresAt time.Time
}

// Manager issues and arbitrates web codes. Like logincode.Manager it holds no
// mutable state; single-use consumption relies on the store's atomic
// compare-and-delete.
type Manager struct {
	store   kvstore.Store
	gen     *codegen.Generator
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewManager builds a web verification manager.
func NewManager(store kvstore.Store, gen *codegen.Generator, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{store: store, gen: gen, cfg: cfg, logger: logger, metrics: m, now: time.Now}
}

func (m *Manager) key(code string) string { return m.cfg.KeyPrefix + Namespace + code }

// Issue always mints a new code bound to id.
func (m *Manager) Issue(ctx context.Context, id identity.Identity) (Issued, error) {
	if err := id.Validate(); err != nil {
		return Issued{}, err
	}
	log := logging.FromContext(ctx, m.logger)

	fields := id.Fields()
	code, err := m.gen.Mint(ctx, m.cfg.CodeLength, m.cfg.MaxAttempts,
		func(ctx context.Context, code string) (bool, error) {
			return m.store.PutRecord(ctx, m.key(code), fields, m.cfg.Validity, kvstore.PutIfAbsent)
		},
		func(string) {
			m.metrics.Collision(metrics.NamespaceWeb)
			log.Debug("web code collision, regenerating")
		},
	)
	if err != nil {
		if errors.Is(err, codegen.ErrExhausted) {
			log.Error("web code generation exhausted", slog.Int("length", m.cfg.CodeLength), slog.Any("error", err))
			return Issued{}, err
		}
		return Issued{}, m.fail(ctx, "web.issue", err)
	}

	m.metrics.Issued(metrics.NamespaceWeb, false)
	log.Info("web code issued", slog.String("identity_id", id.ID))
	return Issued{Code: code, ExpiresAt: m.now().Add(m.cfg.Validity)}, nil
}

// Exists reports whether code is a live web code.
func (m *Manager) Exists(ctx context.Context, code string) (bool, error) {
	ok, err := m.store.Exists(ctx, m.key(code))
	if err != nil {
		return false, m.fail(ctx, "web.exists", err)
	}
	return ok, nil
}

// Lookup returns the identity the code is currently bound to.
func (m *Manager) Lookup(ctx context.Context, code string) (identity.Identity, bool, error) {
	fields, err := m.store.GetFields(ctx, m.key(code))
	if err != nil {
		return identity.Identity{}, false, m.fail(ctx, "web.lookup", err)
	}
	id, ok := identity.FromFields(fields)
	return id, ok, nil
}

// Claim binds code to id and refreshes its expiry. A code bound to another
// identity is re-bound to id: whoever supplies the code last owns it. It
// reports false when the code is unknown or vanished mid-claim.
//
// The read of the current binding and the write are separate store calls;
// concurrent claims of one code resolve as last writer wins. The write itself
// only applies to a live record, so a claim racing a consumption or expiry
// never brings the code back.
func (m *Manager) Claim(ctx context.Context, id identity.Identity, code string) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	log := logging.FromContext(ctx, m.logger)
	key := m.key(code)

	exists, err := m.store.Exists(ctx, key)
	if err != nil {
		return false, m.fail(ctx, "web.claim", err)
	}
	if !exists {
		m.metrics.Claim(ClaimUnknown)
		return false, nil
	}

	bound, ok, err := m.store.GetField(ctx, key, identity.FieldUUID)
	if err != nil {
		return false, m.fail(ctx, "web.claim", err)
	}

	outcome := ClaimRefreshed
	var applied bool
	if !ok || bound != id.ID {
		outcome = ClaimBound
		if ok {
			outcome = ClaimRebound
		}
		applied, err = m.store.PutRecord(ctx, key, id.Fields(), m.cfg.Validity, kvstore.PutIfPresent)
	} else {
		applied, err = m.store.Expire(ctx, key, m.cfg.Validity)
	}
	if err != nil {
		return false, m.fail(ctx, "web.claim", err)
	}
	if !applied {
		m.metrics.Claim(ClaimUnknown)
		log.Debug("web code vanished during claim", slog.String("identity_id", id.ID))
		return false, nil
	}

	m.metrics.Claim(outcome)
	attrs := []any{slog.String("identity_id", id.ID), slog.String("outcome", outcome)}
	if outcome == ClaimRebound {
		attrs = append(attrs, slog.String("previous_identity_id", bound))
	}
	log.Info("web code claimed", attrs...)
	return true, nil
}

// ConsumeIfBoundTo deletes code if it is bound to id and reports whether it
// did. A consumed code never validates again.
func (m *Manager) ConsumeIfBoundTo(ctx context.Context, id identity.Identity, code string) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	consumed, err := m.store.CompareAndDelete(ctx, m.key(code), identity.FieldUUID, id.ID)
	if err != nil {
		return false, m.fail(ctx, "web.consume", err)
	}
	m.metrics.Consumption(consumed)
	if consumed {
		logging.FromContext(ctx, m.logger).Info("web code consumed", slog.String("identity_id", id.ID))
	}
	return consumed, nil
}

func (m *Manager) fail(ctx context.Context, op string, err error) error {
	m.metrics.StoreFailure(op)
	logging.FromContext(ctx, m.logger).Error("web code store failure", slog.String("operation", op), slog.Any("error", err))
	return err
}
