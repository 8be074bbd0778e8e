package command

import (
	"github.com/samber/oops"

	"github.com/paperlogin/paperlogin/internal/codegen"
	"github.com/paperlogin/paperlogin/internal/kvstore"
)

// Error codes for command dispatch failures.
const (
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeInvalidArgs    = "INVALID_ARGS"
	CodeNotPlayer      = "NOT_PLAYER"
	CodeEmptyInput     = "EMPTY_INPUT"
)

const (
	genericFailure = "Something went wrong. Try again later."
	invalidCode    = "Invalid verification code"
)

// ErrUnknownCommand creates an error for an unknown command.
func ErrUnknownCommand(cmd string) error {
	return oops.Code(CodeUnknownCommand).
		With("command", cmd).
		Errorf("unknown command: %s", cmd)
}

// ErrInvalidArgs creates an error for invalid arguments.
func ErrInvalidArgs(cmd, usage string) error {
	return oops.Code(CodeInvalidArgs).
		With("command", cmd).
		With("usage", usage).
		Errorf("invalid arguments")
}

// ErrNotPlayer creates an error for commands sent from the console.
func ErrNotPlayer(cmd string) error {
	return oops.Code(CodeNotPlayer).
		With("command", cmd).
		Errorf("command %s requires a player", cmd)
}

// PlayerMessage extracts a player-facing message from an error.
func PlayerMessage(err error) string {
	if err == nil || kvstore.IsUnavailable(err) {
		return genericFailure
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return genericFailure
	}

	switch oopsErr.Code() {
	case CodeUnknownCommand:
		return "Unknown command."
	case CodeInvalidArgs:
		if usage, ok := oopsErr.Context()["usage"].(string); ok && usage != "" {
			return "Usage: " + usage
		}
		return "Invalid arguments."
	case CodeNotPlayer:
		return "This command can only be used by players"
	case CodeEmptyInput:
		return "No command provided."
	case codegen.CodeInvalid:
		return invalidCode
	default:
		return genericFailure
	}
}
