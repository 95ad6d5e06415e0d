package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/wppc/internal/tui/ui"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

// Name implements Component.
func (hv *HelpView) Name() string { return "Help" }

// Init implements Component.
func (hv *HelpView) Init() {}

// Start implements Component.
func (hv *HelpView) Start() { hv.ScrollToBeginning() }

// Stop implements Component.
func (hv *HelpView) Stop() {}

// Hints implements Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

type helpEntry struct{ key, text string }

var helpSections = []struct {
	title   string
	entries []helpEntry
}{
	{"Global Keys", []helpEntry{
		{":", "Command mode"},
		{"Esc", "Cancel / Go back"},
		{"?", "Help"},
		{"Ctrl-L", "Redraw the screen"},
		{"q", "Quit"},
	}},
	{"Conversation List", []helpEntry{
		{"Enter", "Open conversation"},
		{"/", "Search chats and contacts"},
		{"0", "Clear the search"},
		{"1-9", "Jump to Nth chat"},
		{"p", "Settings"},
		{"d", "Conversation details"},
		{"j/k", "Move down / up"},
	}},
	{"Message Thread", []helpEntry{
		{"i", "Focus composer"},
		{"r", "Reply to the newest message"},
		{"m", "Load older messages"},
		{"d", "Conversation details"},
		{"Enter", "Send (in composer)"},
	}},
	{"Conversation Commands", []helpEntry{
		{":reply [n] [text]", "Reply to message #n, or the newest one"},
		{":cancel", "Stop replying"},
		{":file <path> [caption]", "Send a file"},
		{":voice <path>", "Send an audio file as a voice note"},
		{":media [n]", "Save the attachment of message #n"},
		{":more", "Load older messages"},
		{":retry", "Resend the newest failed message"},
		{":delete [n]", "Delete your message #n for everyone"},
	}},
	{"Commands", []helpEntry{
		{":chat <name>", "Open chat by name or number"},
		{":search <query>", "Search cached messages"},
		{":settings", "Profile and session"},
		{":name <text>", "Change your display name"},
		{":about <text>", "Change your about text"},
		{":picture <path>", "Change your profile picture"},
		{":login", "Link this device again"},
		{":close", "Close the session, keep the login"},
		{":qr", "Disconnect and show a new QR code"},
		{":logout", "Unlink this device"},
		{":forcelogout", "Forget the login even if the server fails"},
		{":help / :h", "Show this help"},
		{":quit / :q", "Quit application"},
	}},
}

func (hv *HelpView) render() {
	kc := ui.ColorName(hv.theme.MenuKeyColor)

	width := 0
	for _, s := range helpSections {
		for _, e := range s.entries {
			width = max(width, len(e.key))
		}
	}

	var sb strings.Builder
	for _, s := range helpSections {
		fmt.Fprintf(&sb, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, e := range s.entries {
			pad := strings.Repeat(" ", width-len(e.key))
			fmt.Fprintf(&sb, "  [%s]%s[-:-:-]%s  %s\n", kc, tview.Escape(e.key), pad, e.text)
		}
	}
	_, _ = fmt.Fprint(hv, sb.String())
}
