package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matheus3301/wppc/internal/bootstrap"
	"github.com/matheus3301/wppc/internal/status"
	"github.com/matheus3301/wppc/internal/tui/ui"
)

// AuthView displays the login progress and the QR code to scan.
type AuthView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewAuthView creates a new auth view.
func NewAuthView(theme *ui.Theme) *AuthView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Link your phone ")
	tv.SetTitleColor(theme.TitleColor)

	return &AuthView{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (av *AuthView) Name() string { return "Login" }

// Init implements Component.
func (av *AuthView) Init() {}

// Start implements Component.
func (av *AuthView) Start() {}

// Stop implements Component.
func (av *AuthView) Stop() {}

// Hints implements Component.
func (av *AuthView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "l", Description: "Login again"},
		{Key: ":", Description: "Command"},
		{Key: "q", Description: "Quit"},
	}
}

// Show renders the screen for phase. qr is drawn while it is present;
// reason explains a failure.
func (av *AuthView) Show(phase status.Phase, qr bootstrap.QR, hasQR bool, reason error) {
	av.Clear()
	if hasQR && (phase == status.AwaitingQR || phase == status.Polling) {
		art, err := qrArt(qr)
		if err == nil {
			_, _ = fmt.Fprintf(av, "\n  Open WhatsApp on your phone, go to Linked devices and scan:\n\n%s\n  [::d]Waiting for the scan...[-:-:-]", art)
			return
		}
		_, _ = fmt.Fprintf(av, "\n\n[%s]Could not draw the QR code: %s[-]\n", ui.ColorName(av.theme.FlashErrColor), tview.Escape(err.Error()))
	}
	_, _ = fmt.Fprintf(av, "\n\n%s", PhaseMessage(phase, reason))
}

func qrArt(qr bootstrap.QR) (string, error) {
	if qr.Code != "" {
		return renderQR(qr.Code)
	}
	return renderQRImage(qr.Image, qr.PNG)
}

// PhaseMessage is the line shown for phase on the login screen.
func PhaseMessage(phase status.Phase, reason error) string {
	switch phase {
	case status.NoCredential:
		return "Not signed in. Press [::b]l[-:-:-] or type [::b]:login[-:-:-] to link this device."
	case status.AwaitingToken:
		return "Starting session..."
	case status.AwaitingQR:
		return "Preparing the QR code..."
	case status.Polling:
		return "Waiting for the phone to confirm..."
	case status.Authenticated:
		return "Signed in. Loading chats..."
	case status.Failed:
		msg := "Login failed."
		if reason != nil {
			msg = "Login failed: " + tview.Escape(reason.Error())
		}
		return msg + "\nPress [::b]l[-:-:-] to try again."
	}
	return string(phase)
}
