package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"q", Command{Name: "q"}},
		{"  Chat  Ana Souza ", Command{Name: "chat", Args: "Ana Souza"}},
		{"reply 2 sounds good", Command{Name: "reply", Args: "2 sounds good"}},
		{`file "/tmp/a b.png" hi`, Command{Name: "file", Args: `"/tmp/a b.png" hi`}},
		{"", Command{}},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.in); got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestChatCommandsAreNotSessionCommands(t *testing.T) {
	for name := range chatCommands {
		if _, ok := sessionCommands[name]; ok {
			t.Errorf("%q is both a chat and a session command", name)
		}
	}
}
