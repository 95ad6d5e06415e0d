package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	chatsync "github.com/matheus3301/wppc/internal/sync"
	"github.com/matheus3301/wppc/internal/tui/ui"
)

// SessionAction is one of the ways to end or restart the session.
type SessionAction int

const (
	ActionClose SessionAction = iota
	ActionLogout
	ActionForceLogout
	ActionShowQR
)

// Confirmation is the question asked before running the action.
func (a SessionAction) Confirmation() string {
	switch a {
	case ActionClose:
		return "Close the session on the server? The login is kept."
	case ActionLogout:
		return "Log out and unlink this device?"
	case ActionForceLogout:
		return "Force logout? Local credentials and cached chats are deleted even if the server does not answer."
	case ActionShowQR:
		return "Disconnect the phone and show a new QR code?"
	}
	return ""
}

// SettingsHandlers are the callbacks of the settings form.
type SettingsHandlers struct {
	SaveProfile func(name, about string)
	SetPicture  func(path string)
	Session     func(action SessionAction)
}

// SettingsView edits the profile and ends the session.
type SettingsView struct {
	*tview.Form
	theme    *ui.Theme
	handlers SettingsHandlers
}

const (
	fieldName    = "Name"
	fieldAbout   = "About"
	fieldPicture = "Picture file"
)

// NewSettingsView creates the settings form.
func NewSettingsView(theme *ui.Theme) *SettingsView {
	form := tview.NewForm()
	form.SetBorder(true)
	form.SetBorderColor(theme.BorderColor)
	form.SetBackgroundColor(theme.BgColor)
	form.SetTitle(" Settings ")
	form.SetTitleColor(theme.TitleColor)
	form.SetFieldBackgroundColor(tcell.ColorDarkSlateGray)
	form.SetFieldTextColor(theme.FgColor)
	form.SetLabelColor(theme.MenuKeyColor)
	form.SetButtonBackgroundColor(theme.TableCursorBg)
	form.SetButtonTextColor(theme.TableCursorFg)

	sv := &SettingsView{Form: form, theme: theme}

	form.AddInputField(fieldName, "", 40, nil, nil)
	form.AddInputField(fieldAbout, "", 60, nil, nil)
	form.AddInputField(fieldPicture, "", 60, nil, nil)
	form.AddButton("Save profile", func() {
		if sv.handlers.SaveProfile != nil {
			sv.handlers.SaveProfile(sv.text(fieldName), sv.text(fieldAbout))
		}
	})
	form.AddButton("Upload picture", func() {
		if sv.handlers.SetPicture != nil {
			sv.handlers.SetPicture(sv.text(fieldPicture))
		}
	})
	for _, b := range []struct {
		label  string
		action SessionAction
	}{
		{"Close session", ActionClose},
		{"Show QR again", ActionShowQR},
		{"Logout", ActionLogout},
		{"Force logout", ActionForceLogout},
	} {
		form.AddButton(b.label, func() {
			if sv.handlers.Session != nil {
				sv.handlers.Session(b.action)
			}
		})
	}
	return sv
}

// Name implements Component.
func (sv *SettingsView) Name() string { return "Settings" }

// Init implements Component.
func (sv *SettingsView) Init() {}

// Start implements Component.
func (sv *SettingsView) Start() { sv.SetFocus(0) }

// Stop implements Component.
func (sv *SettingsView) Stop() {}

// Hints implements Component.
func (sv *SettingsView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Tab", Description: "Next field"},
		{Key: "Enter", Description: "Press button"},
		{Key: "Esc", Description: "Back"},
	}
}

// SetHandlers installs the form callbacks.
func (sv *SettingsView) SetHandlers(h SettingsHandlers) {
	sv.handlers = h
}

// Load fills the form from the signed-in account.
func (sv *SettingsView) Load(me *chatsync.Contact) {
	name := ""
	if me != nil {
		name = me.Name
		if name == "" {
			name = me.PushName
		}
	}
	sv.setText(fieldName, name)
	sv.setText(fieldAbout, "")
	sv.setText(fieldPicture, "")
}

func (sv *SettingsView) field(label string) *tview.InputField {
	if item := sv.GetFormItemByLabel(label); item != nil {
		if f, ok := item.(*tview.InputField); ok {
			return f
		}
	}
	return nil
}

func (sv *SettingsView) text(label string) string {
	if f := sv.field(label); f != nil {
		return f.GetText()
	}
	return ""
}

func (sv *SettingsView) setText(label, text string) {
	if f := sv.field(label); f != nil {
		f.SetText(text)
	}
}
