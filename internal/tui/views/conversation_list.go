package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	chatsync "github.com/matheus3301/wppc/internal/sync"
	"github.com/matheus3301/wppc/internal/tui/ui"
)

const previewWidth = 60

// ListState is what the conversation list shows besides the chats.
type ListState struct {
	Filter    string
	Loading   bool
	Stale     bool
	LoadError string
}

// ConversationList is the main chat list view.
type ConversationList struct {
	*tview.Table
	theme *ui.Theme
	chats []chatsync.Chat
	state ListState
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
	}
}

// Name implements Component.
func (cl *ConversationList) Name() string { return "Conversations" }

// Init implements Component.
func (cl *ConversationList) Init() {}

// Start implements Component.
func (cl *ConversationList) Start() {}

// Stop implements Component.
func (cl *ConversationList) Stop() {}

// Hints implements Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Search"},
		{Key: "d", Description: "Details"},
		{Key: ":", Description: "Command"},
		{Key: "p", Description: "Settings"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
		{Key: "1-9", Description: "Jump", Numeric: true},
	}
}

// Update replaces the rows. chats is already filtered.
func (cl *ConversationList) Update(chats []chatsync.Chat, state ListState) {
	selected := cl.SelectedChat()
	cl.chats = chats
	cl.state = state
	cl.render()
	cl.reselect(selected.ID)
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" ", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	for i, chat := range cl.chats {
		row := i + 1
		name := sanitizeForTerminal(chat.Title())
		color := cl.theme.FgColor
		if chat.UnreadCount > 0 {
			name = fmt.Sprintf("(%d) %s", chat.UnreadCount, name)
			color = cl.theme.UnreadColor
		}
		preview := chat.Preview(previewWidth)
		if chat.Placeholder {
			preview = "Start a new conversation"
		}
		flags := ""
		if chat.Pinned {
			flags += "📌"
		}
		if chat.Muted {
			flags += "🔇"
		}
		if chat.IsGroup {
			flags += "👥"
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(name)).SetExpansion(1).SetTextColor(color))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(preview))).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(formatTimestamp(chat.Timestamp)).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
		cl.SetCell(row, 3, tview.NewTableCell(flags).SetAlign(tview.AlignRight))
	}

	cl.SetTitle(cl.title())
}

func (cl *ConversationList) title() string {
	var title string
	if cl.state.Filter != "" {
		title = fmt.Sprintf(" Conversations (%d) search: %s ", len(cl.chats), tview.Escape(cl.state.Filter))
	} else {
		title = fmt.Sprintf(" Conversations (%d) ", len(cl.chats))
	}
	switch {
	case cl.state.Loading:
		title += "[::d]loading… [-:-:-]"
	case cl.state.LoadError != "":
		title += fmt.Sprintf("[%s]%s [-]", ui.ColorName(cl.theme.FlashErrColor), tview.Escape(cl.state.LoadError))
	case cl.state.Stale:
		title += "[::d]cached [-:-:-]"
	}
	return title
}

func (cl *ConversationList) reselect(id string) {
	if id == "" {
		return
	}
	for i, c := range cl.chats {
		if c.ID == id {
			cl.Select(i+1, 0)
			return
		}
	}
}

// SelectedChat returns the chat under the cursor.
func (cl *ConversationList) SelectedChat() chatsync.Chat {
	row, _ := cl.GetSelection()
	return cl.ChatByIndex(row)
}

// ChatByIndex returns the Nth visible conversation (1-based).
func (cl *ConversationList) ChatByIndex(n int) chatsync.Chat {
	if n < 1 || n > len(cl.chats) {
		return chatsync.Chat{}
	}
	return cl.chats[n-1]
}
