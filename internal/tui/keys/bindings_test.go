package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestHandleEventPrefersView(t *testing.T) {
	r := NewRegistry()
	var got string
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = "global" }})
	r.AddView("chat", "quote", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = "view" }})

	ev := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	if !r.HandleEvent("chat", ev) || got != "view" {
		t.Errorf("chat view: handled by %q", got)
	}
	if !r.HandleEvent("chats", ev) || got != "global" {
		t.Errorf("chats view: handled by %q", got)
	}
	if r.HandleEvent("chats", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("unbound key was handled")
	}
}

func TestMatchesIgnoresModifiedRunes(t *testing.T) {
	a := &Action{Key: tcell.KeyRune, Rune: 'l'}
	if a.Matches(tcell.NewEventKey(tcell.KeyRune, 'l', tcell.ModAlt)) {
		t.Error("alt-l matched l")
	}
	esc := &Action{Key: tcell.KeyEscape}
	if !esc.Matches(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)) {
		t.Error("escape did not match")
	}
}

func TestHints(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal("help", &Action{Key: tcell.KeyRune, Rune: '?', Description: "Help", Visible: true})
	r.AddGlobal("hidden", &Action{Key: tcell.KeyCtrlL, Description: "Redraw"})
	r.AddView("chat", "reply", &Action{Key: tcell.KeyRune, Rune: 'r', Description: "Reply", Visible: true})
	r.AddView("chat", "back", &Action{Key: tcell.KeyEscape, Label: "Esc", Description: "Back", Visible: true})

	hints := r.Hints("chat")
	want := []Hint{{"Esc", "Back"}, {"r", "Reply"}, {"?", "Help"}}
	if len(hints) != len(want) {
		t.Fatalf("hints = %+v", hints)
	}
	for i := range want {
		if hints[i] != want[i] {
			t.Errorf("hints[%d] = %+v, want %+v", i, hints[i], want[i])
		}
	}
}
