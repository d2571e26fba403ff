// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/chorus/internal/conversation"
	"github.com/morganforge/chorus/internal/transcript"
)

// Context gives handlers access to session state. The chat surface
// populates it before executing a command; nil stores simply defer the
// work to the surface via the returned message.
type Context struct {
	// Models is the active model set.
	Models []string

	// Profile is the active profile name, empty for ad hoc selections.
	Profile string

	// LastResponse is the most recent assistant answer, for /copy.
	LastResponse string

	// Transcripts lets /load and /sessions resolve saved conversations
	// in place.
	Transcripts *transcript.Store
}

// Messages produced by command handlers. The chat surface reacts to
// them in its update loop.

// ShowHelpMsg triggers the help display.
type ShowHelpMsg struct {
	// Topic optionally names one command.
	Topic string
}

// NewConversationMsg resets the conversation log.
type NewConversationMsg struct{}

// ClearScreenMsg clears the visible transcript without touching history.
type ClearScreenMsg struct{}

// SaveConversationMsg asks the surface to save the current conversation.
type SaveConversationMsg struct {
	// Name is the optional transcript name.
	Name string
}

// SaveCompleteMsg reports a finished save.
type SaveCompleteMsg struct {
	ID    string
	Error error
}

// TranscriptLoadedMsg carries a loaded conversation.
type TranscriptLoadedMsg struct {
	ID       string
	Messages []conversation.Message
	Error    error
}

// SessionListMsg carries the saved conversation listing. Sessions is nil
// when the handler had no store; the surface lists on its own then.
type SessionListMsg struct {
	Sessions []*transcript.Transcript
	Error    error
}

// ExportConversationMsg asks the surface to export the conversation.
type ExportConversationMsg struct {
	Format string
}

// ExportCompleteMsg reports a finished export.
type ExportCompleteMsg struct {
	Path  string
	Error error
}

// ShowModelsMsg triggers the model listing.
type ShowModelsMsg struct{}

// SetModelsMsg switches the active model set.
type SetModelsMsg struct {
	Models []string
}

// ShowProfilesMsg triggers the profile listing.
type ShowProfilesMsg struct{}

// UseProfileMsg activates a profile.
type UseProfileMsg struct {
	Name string
}

// ApplyTemplateMsg expands a prompt template into the input box.
type ApplyTemplateMsg struct {
	Name   string
	Values map[string]string
}

// CopyToClipboardMsg copies content to the system clipboard.
type CopyToClipboardMsg struct {
	Content string
}

// ShowStatusMsg triggers the status display.
type ShowStatusMsg struct{}

// ShowConfigMsg shows or sets a config value.
type ShowConfigMsg struct {
	Key   string
	Value string
}

// ErrorMsg reports a command error to the user.
type ErrorMsg struct {
	Title   string
	Message string
	Tip     string
}

func handleHelp(ctx *Context, args []string) tea.Cmd {
	topic := ""
	if len(args) > 0 {
		topic = args[0]
	}
	return func() tea.Msg {
		return ShowHelpMsg{Topic: topic}
	}
}

func handleQuit(ctx *Context, args []string) tea.Cmd {
	return tea.Quit
}

func handleNew(ctx *Context, args []string) tea.Cmd {
	return func() tea.Msg {
		return NewConversationMsg{}
	}
}

func handleClear(ctx *Context, args []string) tea.Cmd {
	return func() tea.Msg {
		return ClearScreenMsg{}
	}
}

func handleSave(ctx *Context, args []string) tea.Cmd {
	name := strings.Join(args, " ")
	return func() tea.Msg {
		return SaveConversationMsg{Name: name}
	}
}

func handleLoad(ctx *Context, args []string) tea.Cmd {
	if len(args) == 0 {
		return handleSessions(ctx, nil)
	}

	ref := args[0]
	store := storeFrom(ctx)
	if store == nil {
		return func() tea.Msg {
			return TranscriptLoadedMsg{ID: ref, Error: transcript.ErrTranscriptNotFound}
		}
	}

	return func() tea.Msg {
		var (
			t   *transcript.Transcript
			err error
		)
		// A small number refers to the /sessions listing position.
		if n, convErr := strconv.Atoi(ref); convErr == nil {
			t, err = store.LoadByIndex(n)
		} else {
			t, err = store.Load(ref)
		}
		if err != nil {
			return TranscriptLoadedMsg{ID: ref, Error: err}
		}
		return TranscriptLoadedMsg{ID: t.ID, Messages: t.Messages}
	}
}

func handleSessions(ctx *Context, args []string) tea.Cmd {
	store := storeFrom(ctx)
	if store == nil {
		return func() tea.Msg {
			return SessionListMsg{}
		}
	}
	return func() tea.Msg {
		sessions, err := store.List()
		return SessionListMsg{Sessions: sessions, Error: err}
	}
}

func handleExport(ctx *Context, args []string) tea.Cmd {
	format := "markdown"
	if len(args) > 0 {
		format = strings.ToLower(args[0])
	}
	return func() tea.Msg {
		return ExportConversationMsg{Format: format}
	}
}

func handleCopy(ctx *Context, args []string) tea.Cmd {
	content := ""
	if ctx != nil {
		content = ctx.LastResponse
	}
	if content == "" {
		return func() tea.Msg {
			return ErrorMsg{
				Title:   "Nothing to copy",
				Message: "No response in this conversation yet.",
			}
		}
	}
	return func() tea.Msg {
		return CopyToClipboardMsg{Content: content}
	}
}

func handleModels(ctx *Context, args []string) tea.Cmd {
	return func() tea.Msg {
		return ShowModelsMsg{}
	}
}

func handleModel(ctx *Context, args []string) tea.Cmd {
	models := splitModelList(args)
	if len(models) == 0 {
		return func() tea.Msg {
			return ErrorMsg{
				Title:   "No models given",
				Message: "Usage: /model <a,b,c>",
				Tip:     "Run /models to see what is available.",
			}
		}
	}
	return func() tea.Msg {
		return SetModelsMsg{Models: models}
	}
}

func handleProfile(ctx *Context, args []string) tea.Cmd {
	if len(args) == 0 {
		return func() tea.Msg {
			return ShowProfilesMsg{}
		}
	}
	name := args[0]
	return func() tea.Msg {
		return UseProfileMsg{Name: name}
	}
}

func handleTemplate(ctx *Context, args []string) tea.Cmd {
	if len(args) == 0 {
		return func() tea.Msg {
			return ErrorMsg{
				Title:   "No template named",
				Message: "Usage: /template <name> [key=value ...]",
			}
		}
	}
	name := args[0]
	values := make(map[string]string)
	for _, arg := range args[1:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return func() tea.Msg {
				return ErrorMsg{
					Title:   "Bad template value",
					Message: "Values look like key=value, got: " + arg,
				}
			}
		}
		values[key] = value
	}
	return func() tea.Msg {
		return ApplyTemplateMsg{Name: name, Values: values}
	}
}

func handleStatus(ctx *Context, args []string) tea.Cmd {
	return func() tea.Msg {
		return ShowStatusMsg{}
	}
}

func handleConfig(ctx *Context, args []string) tea.Cmd {
	var key, value string
	if len(args) > 0 {
		key = args[0]
	}
	if len(args) > 1 {
		value = strings.Join(args[1:], " ")
	}
	return func() tea.Msg {
		return ShowConfigMsg{Key: key, Value: value}
	}
}

// splitModelList accepts comma and space separated model ids in any mix.
func splitModelList(args []string) []string {
	var models []string
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				models = append(models, part)
			}
		}
	}
	return models
}

func storeFrom(ctx *Context) *transcript.Store {
	if ctx == nil {
		return nil
	}
	return ctx.Transcripts
}
