package command

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/paperlogin/paperlogin/internal/codegen"
	"github.com/paperlogin/paperlogin/internal/kvstore"
)

func TestPlayerMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, genericFailure},
		{"plain", errors.New("boom"), genericFailure},
		{"unknown command", ErrUnknownCommand("fly"), "Unknown command."},
		{"invalid args", ErrInvalidArgs("verify", "/verify <code>"), "Usage: /verify <code>"},
		{"invalid args without usage", ErrInvalidArgs("verify", ""), "Invalid arguments."},
		{"console", ErrNotPlayer("login"), "This command can only be used by players"},
		{"malformed code", codegen.Check("bad-code!"), "Invalid verification code"},
		{"store down", fmt.Errorf("claim: %w", kvstore.ErrUnavailable), genericFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlayerMessage(tt.err))
		})
	}
}
