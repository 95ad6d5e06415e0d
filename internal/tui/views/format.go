package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/matheus3301/wppc/internal/tui/ui"
)

// Ack levels reported by the server.
const (
	ackPending = 0
	ackServer  = 1
	ackDevice  = 2
	ackRead    = 3
	ackPlayed  = 4
)

var now = time.Now

// formatTimestamp shows the time for today, the weekday for the last week
// and the date otherwise.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	n := now()
	t = t.In(n.Location())
	y1, m1, d1 := t.Date()
	y2, m2, d2 := n.Date()
	switch {
	case y1 == y2 && m1 == m2 && d1 == d2:
		return t.Format("15:04")
	case n.Sub(t) < 6*24*time.Hour && t.Before(n):
		return t.Format("Mon")
	case y1 == y2:
		return t.Format("02/01")
	default:
		return t.Format("02/01/06")
	}
}

// ackMark is the delivery tick of an own message.
func ackMark(theme *ui.Theme, ack int, pending, failed bool) string {
	switch {
	case failed:
		return tag(theme.FailedColor, "!")
	case pending:
		return tag(theme.PendingColor, "⏱")
	case ack >= ackRead:
		return tag(theme.ReadTickColor, "✓✓")
	case ack == ackDevice:
		return tag(theme.PendingColor, "✓✓")
	case ack == ackServer:
		return tag(theme.PendingColor, "✓")
	default:
		return tag(theme.PendingColor, "·")
	}
}

func tag(c tcell.Color, text string) string {
	return fmt.Sprintf("[%s]%s[-]", ui.ColorName(c), text)
}
