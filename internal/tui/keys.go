package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Connect    key.Binding
	Disconnect key.Binding
	AllMax     key.Binding
	AllMin     key.Binding
	SoloStep   key.Binding
	Solo       key.Binding
	Up         key.Binding
	Down       key.Binding
	Max        key.Binding
	Min        key.Binding
	Left       key.Binding
	Right      key.Binding
	Select     key.Binding
	Quit       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Connect:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
		Disconnect: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "disconnect")),
		AllMax:     key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "all max")),
		AllMin:     key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "all min")),
		SoloStep:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "solo step")),
		Solo:       key.NewBinding(key.WithKeys("S"), key.WithHelp("S", "solo")),
		Up:         key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "step up")),
		Down:       key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "step down")),
		Max:        key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "max")),
		Min:        key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "min")),
		Left:       key.NewBinding(key.WithKeys("left"), key.WithHelp("←", "prev")),
		Right:      key.NewBinding(key.WithKeys("right"), key.WithHelp("→", "next")),
		Select: key.NewBinding(
			key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"),
			key.WithHelp("1-9", "select"),
		),
		Quit: key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Connect, k.Disconnect, k.Select, k.Up, k.Down, k.SoloStep, k.Solo, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Connect, k.Disconnect, k.Quit},
		{k.Select, k.Left, k.Right},
		{k.Up, k.Down, k.Max, k.Min},
		{k.AllMax, k.AllMin, k.SoloStep, k.Solo},
	}
}
