package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	chatsync "github.com/matheus3301/wppc/internal/sync"
	"github.com/matheus3301/wppc/internal/tui/ui"
)

const composeTitle = " Compose (i to focus, :help for commands) "

// ThreadState is the part of the snapshot the thread renders.
type ThreadState struct {
	Chat       chatsync.Chat
	Transcript []chatsync.Message
	Loading    bool
	ReplyTo    *chatsync.Message
}

// MessageThread displays messages and a composer for a single chat.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	chat     chatsync.Chat
	newest   string
	typing   bool
	onSend   func(text string)
	onTyping func(typing bool)
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(composeTitle)
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		text := strings.TrimSpace(composer.GetText())
		if text == "" {
			return
		}
		composer.SetText("")
		mt.onSend(text)
	})
	composer.SetChangedFunc(func(text string) {
		typing := text != "" && !strings.HasPrefix(text, ":")
		if typing != mt.typing {
			mt.typing = typing
			if mt.onTyping != nil {
				mt.onTyping(typing)
			}
		}
	})

	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.chat.ID != "" {
		return sanitizeForTerminal(mt.chat.Title())
	}
	return "Messages"
}

// Init implements Component.
func (mt *MessageThread) Init() {}

// Start implements Component.
func (mt *MessageThread) Start() {}

// Stop implements Component.
func (mt *MessageThread) Stop() {
	mt.composer.SetText("")
}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "r", Description: "Reply"},
		{Key: "m", Description: "Older messages"},
		{Key: "d", Description: "Details"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// SetOnSend sets the callback for composer submissions. Lines starting with
// ':' are passed through unchanged so the caller can run them as commands.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetOnTyping sets the callback run when the user starts or stops typing.
func (mt *MessageThread) SetOnTyping(fn func(typing bool)) {
	mt.onTyping = fn
}

// Update redraws the transcript.
func (mt *MessageThread) Update(st ThreadState) {
	newest := ""
	if n := len(st.Transcript); n > 0 {
		newest = st.Transcript[n-1].ID
	}
	// Follow new messages, but keep the position when older ones are
	// prepended.
	follow := mt.chat.ID != st.Chat.ID || mt.newest != newest
	mt.chat, mt.newest = st.Chat, newest
	mt.messages.SetTitle(mt.title(st))

	mt.messages.Clear()
	if st.Loading && len(st.Transcript) == 0 {
		_, _ = fmt.Fprint(mt.messages, "\n  [::d]Loading messages...[-:-:-]")
	} else if len(st.Transcript) == 0 {
		_, _ = fmt.Fprint(mt.messages, "\n  [::d]No messages yet. Say hi![-:-:-]")
	}
	_, _ = fmt.Fprint(mt.messages, renderTranscript(mt.theme, st.Chat.IsGroup, st.Transcript))

	if st.ReplyTo != nil {
		mt.composer.SetTitle(" Replying to: " + tview.Escape(quoteLine(*st.ReplyTo)) + " (:cancel) ")
	} else {
		mt.composer.SetTitle(composeTitle)
	}
	if follow {
		mt.messages.ScrollToEnd()
	}
}

func (mt *MessageThread) title(st ThreadState) string {
	title := " " + tview.Escape(sanitizeForTerminal(st.Chat.Title())) + " "
	if st.Loading {
		title += "[::d]loading… [-:-:-]"
	}
	return title
}

// renderTranscript formats msgs oldest first. Each message is numbered by
// its position from the newest, the number :reply and :media take.
func renderTranscript(theme *ui.Theme, group bool, msgs []chatsync.Message) string {
	var sb strings.Builder
	byID := make(map[string]chatsync.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}
	for i, m := range msgs {
		n := len(msgs) - i
		sender := m.SenderName
		if sender == "" {
			sender = m.Author
		}
		if !group && sender == "" {
			sender = "Them"
		}
		color := theme.PeerMessageColor
		if m.FromMe {
			sender = "You"
			color = theme.OwnMessageColor
		}

		fmt.Fprintf(&sb, "[::d]#%d[-:-:-] [%s::b]%s[-:-:-] [::d]%s[-:-:-]",
			n, ui.ColorName(color), tview.Escape(sanitizeForTerminal(sender)), formatTimestamp(m.Timestamp))
		if m.FromMe {
			sb.WriteString(" " + ackMark(theme, m.Ack, m.Pending, m.Failed))
		}
		sb.WriteString("\n")

		if m.QuotedID != "" {
			quoted := m.QuotedBody
			if q, ok := byID[m.QuotedID]; ok {
				quoted = quoteLine(q)
			}
			if quoted != "" {
				fmt.Fprintf(&sb, "  [%s]│ %s[-]\n", ui.ColorName(theme.QuoteColor), tview.Escape(sanitizeForTerminal(quoted)))
			}
		}
		for _, line := range strings.Split(messageText(m), "\n") {
			sb.WriteString("  " + tview.Escape(sanitizeForTerminal(line)) + "\n")
		}
		if m.Failed {
			fmt.Fprintf(&sb, "  [%s]Not sent. Type :retry to send again.[-]\n", ui.ColorName(theme.FailedColor))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// messageText is the body shown for m, with a hint for attachments.
func messageText(m chatsync.Message) string {
	if !m.HasMedia() {
		return m.Label()
	}
	text := m.Label()
	if m.Filename != "" {
		text += " " + m.Filename
	}
	if m.Caption != "" {
		text += "\n" + m.Caption
	}
	return text + "  (:media to save)"
}

func quoteLine(m chatsync.Message) string {
	text := strings.Join(strings.Fields(m.Label()), " ")
	if r := []rune(text); len(r) > 60 {
		text = string(r[:59]) + "…"
	}
	return text
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
