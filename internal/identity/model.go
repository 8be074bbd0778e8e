// Package identity describes the in-application actor bound to an exchange
// code and its hash-record encoding.
package identity

import (
	"errors"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// Record field names shared by login and web code records.
const (
	FieldUUID     = "uuid"
	FieldUsername = "username"
	FieldIsOp     = "isOp"
)

// CodeInvalid tags an identity that cannot be bound to a code.
const CodeInvalid = "INVALID_IDENTITY"

// ErrInvalid is matched by errors.Is when an identity lacks an id.
var ErrInvalid = errors.New("invalid identity")

// Identity is a snapshot of the actor at issuance or claim time. It is
// supplied by the caller on every request and never owned by the engine.
type Identity struct {
	ID          string `json:"uuid"`
	DisplayName string `json:"username"`
	Privileged  bool   `json:"is_op"`
}

// Validate checks the identity can be stored.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return oops.Code(CodeInvalid).Wrapf(ErrInvalid, "identity id is required")
	}
	return nil
}

// Fields encodes the identity as a hash record.
func (i Identity) Fields() map[string]string {
	return map[string]string{
		FieldUUID:     i.ID,
		FieldUsername: i.DisplayName,
		FieldIsOp:     strconv.FormatBool(i.Privileged),
	}
}

// FromFields decodes a hash record. It reports false when the record has no
// bound uuid.
func FromFields(fields map[string]string) (Identity, bool) {
	id, ok := fields[FieldUUID]
	if !ok || id == "" {
		return Identity{}, false
	}
	privileged, _ := strconv.ParseBool(fields[FieldIsOp])
	return Identity{
		ID:          id,
		DisplayName: fields[FieldUsername],
		Privileged:  privileged,
	}, true
}
