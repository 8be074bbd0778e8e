package command

import (
	"strings"

	"github.com/samber/oops"
)

// ParsedCommand represents a parsed command line.
type ParsedCommand struct {
	Name string   // lower-cased command name without the leading slash
	Args []string // whitespace-separated arguments
	Raw  string   // original input
}

// Parse splits a chat line such as "/verify aB3xY9kQ" into name and
// arguments.
func Parse(input string) (*ParsedCommand, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return nil, oops.Code(CodeEmptyInput).Errorf("no command provided")
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if name == "" {
		return nil, oops.Code(CodeEmptyInput).Errorf("no command provided")
	}
	return &ParsedCommand{Name: name, Args: fields[1:], Raw: input}, nil
}
