// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseResult is the outcome of parsing one line of user input.
type ParseResult struct {
	// IsCommand is true when the input starts with /.
	IsCommand bool

	// Command is the matched command, nil when unknown.
	Command *Command

	// CommandName is the raw command token (e.g. "/help").
	CommandName string

	// Args are the parsed arguments.
	Args []string

	// RawInput is the original input.
	RawInput string

	// RawArgs is the unparsed argument portion.
	RawArgs string

	// Error set when the command is unknown or arguments are invalid.
	Error error
}

// Parser turns input lines into commands against a registry.
type Parser struct {
	registry *Registry
}

// NewParser creates a parser over the given registry.
func NewParser(registry *Registry) *Parser {
	return &Parser{registry: registry}
}

// Parse parses one input line. Non-command input returns IsCommand=false
// and is otherwise untouched. Unknown commands and argument violations
// surface on Error with the command name included.
func (p *Parser) Parse(input string) ParseResult {
	input = strings.TrimSpace(input)

	result := ParseResult{RawInput: input}
	if !strings.HasPrefix(input, "/") {
		return result
	}
	result.IsCommand = true

	parts := splitCommandLine(input)
	if len(parts) == 0 {
		return result
	}
	result.CommandName = parts[0]
	if len(parts) > 1 {
		result.Args = parts[1:]
		result.RawArgs = strings.TrimSpace(input[len(result.CommandName):])
	}

	result.Command = p.registry.Get(result.CommandName)
	if result.Command == nil {
		result.Error = fmt.Errorf("%w: %s", ErrUnknownCommand, result.CommandName)
		return result
	}
	result.Error = ValidateArgs(result.Command, result.Args)
	return result
}

// IsCommand reports whether input looks like a slash command.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// ExtractCommandName returns just the command token from input, e.g.
// "/model a b" -> "/model".
func ExtractCommandName(input string) string {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return ""
	}
	if end := strings.IndexFunc(input, unicode.IsSpace); end >= 0 {
		return input[:end]
	}
	return input
}

// splitCommandLine splits input into tokens, honoring single and double
// quotes so arguments may contain spaces.
func splitCommandLine(input string) []string {
	var tokens []string
	var current strings.Builder
	var inSingle, inDouble bool

	for i := 0; i < len(input); i++ {
		char := rune(input[i])

		switch {
		case char == '\'' && !inDouble:
			inSingle = !inSingle

		case char == '"' && !inSingle:
			inDouble = !inDouble

		case char == '\\' && i+1 < len(input) && (inDouble || inSingle):
			next := rune(input[i+1])
			if next == '"' || next == '\'' || next == '\\' {
				current.WriteRune(next)
				i++
			} else {
				current.WriteRune(char)
			}

		case unicode.IsSpace(char) && !inSingle && !inDouble:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}

		default:
			current.WriteRune(char)
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// ValidateArgs checks args against a command's argument definitions.
func ValidateArgs(cmd *Command, args []string) error {
	if cmd == nil {
		return nil
	}

	for i, def := range cmd.Args {
		if def.Required && i >= len(args) {
			return &ValidationError{
				Command:  cmd.Name,
				Arg:      def.Name,
				Message:  "required argument missing",
				Expected: def.Description,
			}
		}

		if i < len(args) && def.Type == ArgTypeEnum && len(def.Values) > 0 {
			valid := false
			for _, v := range def.Values {
				if strings.EqualFold(args[i], v) {
					valid = true
					break
				}
			}
			if !valid {
				return &ValidationError{
					Command:  cmd.Name,
					Arg:      def.Name,
					Message:  "invalid value",
					Got:      args[i],
					Expected: strings.Join(def.Values, ", "),
				}
			}
		}
	}
	return nil
}

// ValidationError reports an argument that does not satisfy a command's
// definition.
type ValidationError struct {
	Command  string
	Arg      string
	Message  string
	Got      string
	Expected string
}

func (e *ValidationError) Error() string {
	msg := e.Command + ": " + e.Message
	if e.Arg != "" {
		msg += " for argument '" + e.Arg + "'"
	}
	if e.Got != "" {
		msg += " (got: " + e.Got + ")"
	}
	if e.Expected != "" {
		msg += " - expected: " + e.Expected
	}
	return msg
}
