// Package codegen mints short, human-typeable exchange codes.
package codegen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Alphabet is the 62-character set codes are drawn from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// CodeExhausted tags a mint that collided on every attempt.
const CodeExhausted = "GENERATION_EXHAUSTED"

// CodeInvalid tags a submitted code containing characters outside Alphabet.
const CodeInvalid = "INVALID_CODE"

// DefaultMaxAttempts bounds minting when the caller does not.
const DefaultMaxAttempts = 5

// ErrExhausted is returned by Mint when every generated code collided with a
// live one.
var ErrExhausted = errors.New("code generation exhausted")

// ErrInvalidCode is wrapped by Check for malformed submitted codes.
var ErrInvalidCode = errors.New("invalid code")

var errCollision = errors.New("code collision")

// Generator draws uniformly random codes from Alphabet.
type Generator struct {
	rand io.Reader
}

// New returns a Generator reading from crypto/rand.
func New() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewWithReader returns a Generator reading from r. Tests only; r must be
// uniformly random for codes to be.
func NewWithReader(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate returns a code of length characters.
func (g *Generator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", length)
	}
	size := big.NewInt(int64(len(Alphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(g.rand, size)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = Alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Valid reports whether code has the given length and only Alphabet
// characters.
func Valid(code string, length int) bool {
	return len(code) == length && wellFormed(code)
}

// Check rejects a submitted code that is empty or uses characters outside
// Alphabet. Length is not checked so codes issued under an earlier length
// setting still resolve.
func Check(code string) error {
	if wellFormed(code) {
		return nil
	}
	return oops.
		In("codegen").
		Code(CodeInvalid).
		With("length", len(code)).
		Wrap(ErrInvalidCode)
}

func wellFormed(code string) bool {
	if code == "" {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// ClaimFunc tries to reserve code and reports whether it was free.
type ClaimFunc func(ctx context.Context, code string) (bool, error)

// Mint generates codes until claim accepts one, up to maxAttempts tries.
// Errors from claim abort immediately; only collisions are retried. When
// every attempt collides the result wraps ErrExhausted. onCollision, if not
// nil, is called for each rejected code.
func (g *Generator) Mint(ctx context.Context, length, maxAttempts int, claim ClaimFunc, onCollision func(code string)) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewConstant(time.Millisecond))

	var minted string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		code, err := g.Generate(length)
		if err != nil {
			return err
		}
		ok, err := claim(ctx, code)
		if err != nil {
			return err
		}
		if !ok {
			if onCollision != nil {
				onCollision(code)
			}
			return retry.RetryableError(errCollision)
		}
		minted = code
		return nil
	})
	if errors.Is(err, errCollision) {
		return "", oops.
			In("codegen").
			Code(CodeExhausted).
			With("attempts", maxAttempts).
			With("length", length).
			Wrap(ErrExhausted)
	}
	if err != nil {
		return "", err
	}
	return minted, nil
}
