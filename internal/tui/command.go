package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/wppc/internal/tui/views"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// sessionCommands maps commands to the session action they confirm.
var sessionCommands = map[string]views.SessionAction{
	"close":       views.ActionClose,
	"logout":      views.ActionLogout,
	"forcelogout": views.ActionForceLogout,
	"qr":          views.ActionShowQR,
}

// chatCommands need an open conversation.
var chatCommands = map[string]bool{
	"reply": true, "cancel": true, "file": true, "voice": true,
	"media": true, "more": true, "retry": true, "delete": true,
}

func (a *App) runCommand(cmd Command) {
	if cmd.Name == "" {
		return
	}
	if chatCommands[cmd.Name] && a.current.ID == "" {
		a.vm.Notifier.Warn(fmt.Sprintf(":%s needs an open conversation", cmd.Name))
		return
	}
	if action, ok := sessionCommands[cmd.Name]; ok {
		a.confirmSession(action)
		return
	}

	switch cmd.Name {
	case "q", "quit":
		a.app.Stop()
	case "h", "help":
		a.push(pageHelp)
	case "login":
		a.login()
	case "settings", "p":
		a.showSettings()
	case "chat", "c":
		a.openByName(cmd.Args)
	case "search", "s":
		a.showSearch(cmd.Args)
	case "name":
		if cmd.Args == "" {
			a.vm.Notifier.Warn("usage: :name <text>")
			return
		}
		a.async("Name updated", func(ctx context.Context) error {
			return a.vm.Profile.Update(ctx, cmd.Args, "")
		})
	case "about":
		if cmd.Args == "" {
			a.vm.Notifier.Warn("usage: :about <text>")
			return
		}
		a.async("About updated", func(ctx context.Context) error {
			return a.vm.Profile.Update(ctx, "", cmd.Args)
		})
	case "picture":
		a.setPicture(cmd.Args)
	case "reply":
		a.run(func() error { return a.vm.Reply(cmd.Args) })
		a.refresh()
		a.app.SetFocus(a.thread.Composer())
	case "cancel":
		a.vm.ClearReply()
		a.refresh()
	case "file":
		a.vm.Notifier.Info("Sending file...")
		a.async("File sent", func(ctx context.Context) error {
			return a.vm.SendFile(ctx, cmd.Args)
		})
	case "voice":
		a.vm.Notifier.Info("Sending voice note...")
		a.async("Voice note sent", func(ctx context.Context) error {
			return a.vm.SendVoice(ctx, cmd.Args)
		})
	case "media":
		go func() {
			saved, err := a.vm.SaveMedia(a.ctx, cmd.Args)
			if err != nil {
				a.vm.Notifier.Error(err.Error())
				return
			}
			a.vm.Notifier.Success(fmt.Sprintf("Saved %s (%s)", saved.Path, saved.HumanSize()))
		}()
	case "more":
		a.loadEarlier()
	case "retry":
		a.run(a.vm.RetryFailed)
	case "delete":
		a.async("Message deleted", func(ctx context.Context) error {
			return a.vm.DeleteMessage(ctx, cmd.Args)
		})
	default:
		a.vm.Notifier.Warn("Unknown command: " + cmd.Name)
	}
}

// openByName opens the first chat matching query.
func (a *App) openByName(query string) {
	if strings.TrimSpace(query) == "" {
		a.vm.Notifier.Warn("usage: :chat <name or number>")
		return
	}
	chat, ok := a.vm.FindChat(query)
	if !ok {
		a.vm.Notifier.Warn(fmt.Sprintf("No chat matches %q", query))
		return
	}
	a.openChat(chat)
}
