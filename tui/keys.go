package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the studio key bindings. Letter bindings only apply while
// the settings panel is closed, since the inputs take text there.
type KeyMap struct {
	Stream     key.Binding // Start or stop depending on isStreaming.
	Settings   key.Binding
	Close      key.Binding
	Test       key.Binding
	DevConsole key.Binding
	NextField  key.Binding
	PrevField  key.Binding

	// FFmpeg Not Found notice.
	Continue key.Binding
	Download key.Binding

	Quit key.Binding
}

var DefaultKeyMap = KeyMap{
	Stream: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "start/stop stream"),
	),
	Settings: key.NewBinding(
		key.WithKeys("c", "ctrl+o"),
		key.WithHelp("c", "settings"),
	),
	Close: key.NewBinding(
		key.WithKeys("esc", "ctrl+o"),
		key.WithHelp("esc", "close settings"),
	),
	Test: key.NewBinding(
		key.WithKeys("ctrl+t"),
		key.WithHelp("ctrl+t", "test credentials"),
	),
	DevConsole: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "twitch dev console"),
	),
	NextField: key.NewBinding(
		key.WithKeys("tab", "down"),
		key.WithHelp("tab", "next field"),
	),
	PrevField: key.NewBinding(
		key.WithKeys("shift+tab", "up"),
		key.WithHelp("shift+tab", "previous field"),
	),
	Continue: key.NewBinding(
		key.WithKeys("enter", "c", "esc"),
		key.WithHelp("enter", "continue anyway"),
	),
	Download: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "download ffmpeg"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
