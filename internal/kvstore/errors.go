package kvstore

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// CodeUnavailable tags transport and timeout failures of the backing store.
const CodeUnavailable = "STORE_UNAVAILABLE"

// ErrUnavailable is matched by errors.Is for any store transport failure,
// including request timeouts. Callers should treat it as retryable.
var ErrUnavailable = errors.New("kv store unavailable")

func unavailable(op, key string, err error) error {
	return oops.
		In("kvstore").
		Code(CodeUnavailable).
		With("operation", op).
		With("key", key).
		Wrap(fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err))
}

// IsUnavailable reports whether err came from a store transport failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
