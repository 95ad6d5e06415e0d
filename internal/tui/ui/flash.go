package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/wppc/internal/notify"
)

// FlashBar is the UI component that displays flash notifications.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

// NewFlashBar creates a new flash notification bar.
func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &FlashBar{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders note on the bar, or clears it when ok is false.
func (fb *FlashBar) Update(note notify.Notification, ok bool) {
	fb.Clear()
	if !ok {
		return
	}
	_, _ = fmt.Fprintf(fb, " [%s]%s[-]", ColorName(fb.levelColor(note.Level)), tview.Escape(note.Text))
}

func (fb *FlashBar) levelColor(l notify.Level) tcell.Color {
	switch l {
	case notify.Success:
		return fb.theme.FlashOKColor
	case notify.Warn:
		return fb.theme.FlashWarnColor
	case notify.Error:
		return fb.theme.FlashErrColor
	default:
		return fb.theme.FlashInfoColor
	}
}
