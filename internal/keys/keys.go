package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings of the watch view.
type KeyMap struct {
	Quit key.Binding

	// Clear empties the event feed.
	Clear key.Binding

	// Resume re-attaches listeners to tasks left pending by a previous run.
	Resume key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear feed"),
		),
		Resume: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "resume pending"),
		),
	}
}

// ShortHelp returns the bindings shown in the status bar.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit, k.Clear, k.Resume}
}
