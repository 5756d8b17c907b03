// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gate

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

// =============================================================================
// KEY MAP DEFINITION
// =============================================================================

// KeyMap defines the bindings of the re-authentication screen. Prompt
// bindings apply only while a code is being entered.
type KeyMap struct {
	Authenticate key.Binding
	UsePassword  key.Binding
	Background   key.Binding
	Inactive     key.Binding
	Foreground   key.Binding
	Quit         key.Binding

	Submit key.Binding
	Cancel key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Authenticate: key.NewBinding(
			key.WithKeys("s", "enter"),
			key.WithHelp("s", "authenticate"),
		),
		UsePassword: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "use password"),
		),
		Background: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "background"),
		),
		Inactive: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "inactive"),
		),
		Foreground: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "foreground"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "submit code"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc", "ctrl+c"),
			key.WithHelp("esc", "cancel"),
		),
	}
}

// help renders the bindings that apply right now.
func (k KeyMap) help(prompting, lifecycle bool) string {
	var bindings []key.Binding
	if prompting {
		bindings = []key.Binding{k.Submit, k.Cancel}
	} else {
		bindings = []key.Binding{k.Authenticate, k.UsePassword}
		if lifecycle {
			bindings = append(bindings, k.Background, k.Inactive, k.Foreground)
		}
		bindings = append(bindings, k.Quit)
	}

	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		if !b.Enabled() {
			continue
		}
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, "  |  ")
}
