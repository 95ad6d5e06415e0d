package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// SessionData holds session information for display.
type SessionData struct {
	Session   string
	Phone     string
	Name      string
	Phase     string
	Connected bool
	Stale     bool
	ChatCount int
	Unread    int
	Uptime    time.Duration
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the session info.
func (si *SessionInfo) Update(data *SessionData) {
	si.Clear()
	if data == nil {
		return
	}

	fg := ColorName(si.theme.FgColor)
	val := ColorName(si.theme.CounterColor)

	phone := data.Phone
	if phone == "" {
		phone = "-"
	}
	if data.Name != "" {
		phone = data.Name + " (" + phone + ")"
	}

	conn := fmt.Sprintf("[%s]online[-]", ColorName(si.theme.OnlineColor))
	if !data.Connected {
		conn = fmt.Sprintf("[%s]offline[-]", ColorName(si.theme.OfflineColor))
	}
	chats := fmt.Sprintf("%d", data.ChatCount)
	if data.Stale {
		chats += " (cached)"
	}

	_, _ = fmt.Fprintf(si,
		"[%s::b]Session:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]Account:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]Phase:[-:-:-]   [%s]%s[-]\n"+
			"[%s::b]Link:[-:-:-]    %s\n"+
			"[%s::b]Chats:[-:-:-]   [%s]%s[-]\n"+
			"[%s::b]Unread:[-:-:-]  [%s]%d[-]\n"+
			"[%s::b]Uptime:[-:-:-]  [%s]%s[-]",
		fg, val, tview.Escape(data.Session),
		fg, val, tview.Escape(phone),
		fg, val, data.Phase,
		fg, conn,
		fg, val, chats,
		fg, val, data.Unread,
		fg, val, formatDuration(data.Uptime),
	)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
