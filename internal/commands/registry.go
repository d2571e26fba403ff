// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands provides the slash command system shared by the chat
// surfaces.
package commands

import (
	"errors"
	"sort"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrUnknownCommand is returned when input names a command that is not
// registered. Use errors.Is to detect it on ParseResult.Error.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one slash command.
type Command struct {
	// Name is the primary command name (e.g. "/help").
	Name string

	// Aliases are alternative names (e.g. "/h", "/?").
	Aliases []string

	// Description is shown in help and completion.
	Description string

	// Usage shows argument syntax (e.g. "/model <a,b,c>").
	Usage string

	// Args defines the expected arguments.
	Args []ArgDef

	// Handler executes the command.
	Handler func(ctx *Context, args []string) tea.Cmd

	// Hidden commands do not appear in help.
	Hidden bool

	// Category groups commands in help display.
	Category string
}

// ArgDef defines one argument of a command.
type ArgDef struct {
	Name        string
	Required    bool
	Type        ArgType
	Description string

	// Values for enum arguments.
	Values []string
}

// ArgType indicates what kind of completion an argument wants.
type ArgType int

const (
	ArgTypeString ArgType = iota
	ArgTypeModel
	ArgTypeProfile
	ArgTypeTemplate
	ArgTypeSession
	ArgTypeConfigKey
	ArgTypeEnum
)

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
}

// NewRegistry creates a registry with every built-in command wired.
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
	r.registerBuiltins()
	return r
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

// Get retrieves a command by name or alias, nil if absent.
func (r *Registry) Get(name string) *Command {
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	if cmd, ok := r.aliases[name]; ok {
		return cmd
	}
	return nil
}

// All returns every registered command sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// ByCategory returns visible commands grouped by category, sorted by
// name within each group.
func (r *Registry) ByCategory() map[string][]*Command {
	result := make(map[string][]*Command)
	for _, cmd := range r.All() {
		if cmd.Hidden {
			continue
		}
		category := cmd.Category
		if category == "" {
			category = "General"
		}
		result[category] = append(result[category], cmd)
	}
	return result
}

func (r *Registry) registerBuiltins() {
	// Navigation
	r.Register(&Command{
		Name:        "/help",
		Aliases:     []string{"/h", "/?"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		Args: []ArgDef{
			{Name: "command", Type: ArgTypeString, Description: "Command to describe"},
		},
		Category: "Navigation",
		Handler:  handleHelp,
	})
	r.Register(&Command{
		Name:        "/quit",
		Aliases:     []string{"/q", "/exit"},
		Description: "Exit chorus",
		Usage:       "/quit",
		Category:    "Navigation",
		Handler:     handleQuit,
	})

	// Conversation
	r.Register(&Command{
		Name:        "/new",
		Description: "Start a new conversation",
		Usage:       "/new",
		Category:    "Conversation",
		Handler:     handleNew,
	})
	r.Register(&Command{
		Name:        "/clear",
		Description: "Clear the visible transcript (history is kept)",
		Usage:       "/clear",
		Category:    "Conversation",
		Handler:     handleClear,
	})
	r.Register(&Command{
		Name:        "/save",
		Description: "Save the conversation",
		Usage:       "/save [name]",
		Args: []ArgDef{
			{Name: "name", Type: ArgTypeString, Description: "Optional transcript name"},
		},
		Category: "Conversation",
		Handler:  handleSave,
	})
	r.Register(&Command{
		Name:        "/load",
		Description: "Load a saved conversation",
		Usage:       "/load <id|number>",
		Args: []ArgDef{
			{Name: "id", Type: ArgTypeSession, Description: "Transcript id or list number"},
		},
		Category: "Conversation",
		Handler:  handleLoad,
	})
	r.Register(&Command{
		Name:        "/sessions",
		Aliases:     []string{"/history"},
		Description: "List saved conversations",
		Usage:       "/sessions",
		Category:    "Conversation",
		Handler:     handleSessions,
	})
	r.Register(&Command{
		Name:        "/export",
		Description: "Export the conversation to a file",
		Usage:       "/export [markdown|json|text]",
		Args: []ArgDef{
			{
				Name:        "format",
				Type:        ArgTypeEnum,
				Values:      []string{"markdown", "md", "json", "text", "txt"},
				Description: "Output format (default markdown)",
			},
		},
		Category: "Conversation",
		Handler:  handleExport,
	})
	r.Register(&Command{
		Name:        "/copy",
		Description: "Copy the last response to the clipboard",
		Usage:       "/copy",
		Category:    "Conversation",
		Handler:     handleCopy,
	})

	// Model
	r.Register(&Command{
		Name:        "/models",
		Description: "List known models",
		Usage:       "/models",
		Category:    "Model",
		Handler:     handleModels,
	})
	r.Register(&Command{
		Name:        "/model",
		Aliases:     []string{"/m"},
		Description: "Switch the active model set",
		Usage:       "/model <a,b,c>",
		Args: []ArgDef{
			{Name: "models", Required: true, Type: ArgTypeModel, Description: "Comma or space separated model ids"},
		},
		Category: "Model",
		Handler:  handleModel,
	})
	r.Register(&Command{
		Name:        "/profile",
		Description: "List profiles or switch to one",
		Usage:       "/profile [name]",
		Args: []ArgDef{
			{Name: "name", Type: ArgTypeProfile, Description: "Profile to activate"},
		},
		Category: "Model",
		Handler:  handleProfile,
	})
	r.Register(&Command{
		Name:        "/template",
		Description: "Expand a prompt template into the input",
		Usage:       "/template <name> [key=value ...]",
		Args: []ArgDef{
			{Name: "name", Required: true, Type: ArgTypeTemplate, Description: "Template name"},
			{Name: "values", Type: ArgTypeString, Description: "Placeholder values"},
		},
		Category: "Model",
		Handler:  handleTemplate,
	})

	// Settings
	r.Register(&Command{
		Name:        "/status",
		Description: "Show session status",
		Usage:       "/status",
		Category:    "Settings",
		Handler:     handleStatus,
	})
	r.Register(&Command{
		Name:        "/config",
		Description: "Show or set configuration",
		Usage:       "/config [key] [value]",
		Args: []ArgDef{
			{Name: "key", Type: ArgTypeConfigKey, Description: "Config key (dot notation)"},
			{Name: "value", Type: ArgTypeString, Description: "New value"},
		},
		Category: "Settings",
		Handler:  handleConfig,
	})
}
