package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matheus3301/wppc/internal/jid"
	chatsync "github.com/matheus3301/wppc/internal/sync"
	"github.com/matheus3301/wppc/internal/tui/ui"
)

// ConversationInfo displays detailed information about a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// Init implements Component.
func (ci *ConversationInfo) Init() {}

// Start implements Component.
func (ci *ConversationInfo) Start() {}

// Stop implements Component.
func (ci *ConversationInfo) Stop() {}

// Hints implements Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// Update renders conversation details. avatar is the picture URL.
func (ci *ConversationInfo) Update(chat chatsync.Chat, avatar string) {
	ci.Clear()
	if chat.ID == "" {
		return
	}

	fg := ui.ColorName(ci.theme.FgColor)
	ct := ui.ColorName(ci.theme.CounterColor)

	chatType := "Direct Message"
	if chat.IsGroup {
		chatType = "Group"
	}
	lastActive := formatTimestamp(chat.Timestamp)
	if lastActive == "" {
		lastActive = "-"
	}
	var flags []string
	if chat.Pinned {
		flags = append(flags, "pinned")
	}
	if chat.Muted {
		flags = append(flags, "muted")
	}
	if chat.Archived {
		flags = append(flags, "archived")
	}
	flagText := "-"
	if len(flags) > 0 {
		flagText = fmt.Sprint(flags)
	}

	name := tview.Escape(sanitizeForTerminal(chat.Title()))
	rows := []struct{ label, value string }{
		{"Name:", name},
		{"Number:", tview.Escape(jid.Clean(chat.ID))},
		{"ID:", tview.Escape(chat.ID)},
		{"Type:", chatType},
		{"Unread:", fmt.Sprint(chat.UnreadCount)},
		{"Last Active:", lastActive},
		{"Flags:", flagText},
		{"Last Message:", tview.Escape(sanitizeForTerminal(chat.Preview(80)))},
		{"Picture:", tview.Escape(avatar)},
	}
	_, _ = fmt.Fprintln(ci)
	for _, r := range rows {
		_, _ = fmt.Fprintf(ci, " [%s::b]%-14s[-:-:-] [%s]%s[-]\n", fg, r.label, ct, r.value)
	}
	ci.SetTitle(fmt.Sprintf(" %s Details ", name))
}
