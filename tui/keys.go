package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Record    key.Binding
	Pause     key.Binding
	Undo      key.Binding
	Reset     key.Binding
	TempoUp   key.Binding
	TempoDown key.Binding
	Save      key.Binding
	Load      key.Binding
	Export    key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func Key(help string, keyboardKey ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keyboardKey...), key.WithHelp(keyboardKey[0], help))
}

func defaultKeyMap() keyMap {
	return keyMap{
		Record:    key.NewBinding(key.WithKeys(" ", "space"), key.WithHelp("space", "record")),
		Pause:     Key("pause", "p"),
		Undo:      Key("undo", "u"),
		Reset:     Key("reset", "z"),
		TempoUp:   Key("tempo +1", "+", "="),
		TempoDown: Key("tempo -1", "-", "_"),
		Save:      Key("save", "s"),
		Load:      Key("load latest", "l"),
		Export:    Key("export .mid", "e"),
		Help:      Key("more keys", "?"),
		Quit:      Key("quit", "esc", "ctrl+c", "q"),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Record, k.Pause, k.Undo, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Record, k.Pause, k.Undo, k.Reset},
		{k.TempoUp, k.TempoDown},
		{k.Save, k.Load, k.Export},
		{k.Help, k.Quit},
	}
}
