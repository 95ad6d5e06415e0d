// Package tui is the terminal interface of the client.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/bus"
	"github.com/matheus3301/wppc/internal/jid"
	"github.com/matheus3301/wppc/internal/status"
	chatsync "github.com/matheus3301/wppc/internal/sync"
	"github.com/matheus3301/wppc/internal/tui/keys"
	"github.com/matheus3301/wppc/internal/tui/model"
	"github.com/matheus3301/wppc/internal/tui/ui"
	"github.com/matheus3301/wppc/internal/tui/views"
)

// Page names.
const (
	pageAuth     = "auth"
	pageChats    = "chats"
	pageChat     = "chat"
	pageSearch   = "search"
	pageDetails  = "details"
	pageHelp     = "help"
	pageSettings = "settings"
	pageConfirm  = "confirm"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	vm       *model.ViewModel
	bus      *bus.Bus
	logger   *zap.Logger
	theme    *ui.Theme
	registry *keys.Registry

	pages    *ui.Pages
	prompt   *ui.Prompt
	flash    *ui.FlashBar
	crumbs   *ui.Crumbs
	menu     *ui.Menu
	info     *ui.SessionInfo
	body     *tview.Flex
	confirm  *tview.Modal
	auth     *views.AuthView
	chats    *views.ConversationList
	thread   *views.MessageThread
	search   *views.SearchView
	details  *views.ConversationInfo
	help     *views.HelpView
	settings *views.SettingsView

	components map[string]ui.Component
	promptOn   bool
	filter     string
	current    chatsync.Chat
	started    time.Time
	dirty      atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(vm *model.ViewModel, b *bus.Bus) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      tview.NewApplication(),
		vm:       vm,
		bus:      b,
		logger:   vm.Logger.Named("tui"),
		theme:    theme,
		registry: keys.NewRegistry(),
		pages:    ui.NewPages(),
		prompt:   ui.NewPrompt(theme),
		flash:    ui.NewFlashBar(theme),
		crumbs:   ui.NewCrumbs(theme),
		menu:     ui.NewMenu(theme),
		info:     ui.NewSessionInfo(theme),
		confirm:  tview.NewModal(),
		auth:     views.NewAuthView(theme),
		chats:    views.NewConversationList(theme),
		thread:   views.NewMessageThread(theme),
		details:  views.NewConversationInfo(theme),
		help:     views.NewHelpView(theme),
		settings: views.NewSettingsView(theme),
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.search = views.NewSearchView(theme, a.chatName)
	a.components = map[string]ui.Component{
		pageAuth:     a.auth,
		pageChats:    a.chats,
		pageChat:     a.thread,
		pageSearch:   a.search,
		pageDetails:  a.details,
		pageHelp:     a.help,
		pageSettings: a.settings,
	}
	for _, c := range a.components {
		c.Init()
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Key: tcell.KeyRune, Rune: 'q',
		Description: "Quit",
		Handler:     a.app.Stop,
	})
	a.registry.AddGlobal("help", &keys.Action{
		Key: tcell.KeyRune, Rune: '?',
		Description: "Help", Visible: true,
		Handler: func() { a.push(pageHelp) },
	})
	a.registry.AddGlobal("command", &keys.Action{
		Key: tcell.KeyRune, Rune: ':',
		Description: "Command", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptCommand) },
	})
	a.registry.AddGlobal("redraw", &keys.Action{
		Key: tcell.KeyCtrlL, Label: "Ctrl-L",
		Description: "Redraw",
		Handler:     func() { a.app.Sync() },
	})

	a.registry.AddView(pageAuth, "login", &keys.Action{
		Key: tcell.KeyRune, Rune: 'l',
		Description: "Login again",
		Handler:     a.login,
	})

	a.registry.AddView(pageChats, "filter", &keys.Action{
		Key: tcell.KeyRune, Rune: '/',
		Description: "Search",
		Handler:     func() { a.showPrompt(ui.PromptFilter) },
	})
	a.registry.AddView(pageChats, "details", &keys.Action{
		Key: tcell.KeyRune, Rune: 'd',
		Description: "Details",
		Handler:     func() { a.showDetails(a.chats.SelectedChat()) },
	})
	a.registry.AddView(pageChats, "settings", &keys.Action{
		Key: tcell.KeyRune, Rune: 'p',
		Description: "Settings",
		Handler:     a.showSettings,
	})
	for n := '1'; n <= '9'; n++ {
		a.registry.AddView(pageChats, "jump"+string(n), &keys.Action{
			Key: tcell.KeyRune, Rune: n,
			Handler: func() {
				if c := a.chats.ChatByIndex(int(n - '0')); c.ID != "" {
					a.openChat(c)
				}
			},
		})
	}
	a.registry.AddView(pageChats, "clear", &keys.Action{
		Key: tcell.KeyRune, Rune: '0',
		Description: "Show all",
		Handler:     func() { a.setFilter("") },
	})

	a.registry.AddView(pageChat, "compose", &keys.Action{
		Key: tcell.KeyRune, Rune: 'i',
		Description: "Compose",
		Handler:     func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.AddView(pageChat, "reply", &keys.Action{
		Key: tcell.KeyRune, Rune: 'r',
		Description: "Reply",
		Handler: func() {
			a.run(func() error { return a.vm.Reply("") })
			a.app.SetFocus(a.thread.Composer())
		},
	})
	a.registry.AddView(pageChat, "more", &keys.Action{
		Key: tcell.KeyRune, Rune: 'm',
		Description: "Older messages",
		Handler:     a.loadEarlier,
	})
	a.registry.AddView(pageChat, "details", &keys.Action{
		Key: tcell.KeyRune, Rune: 'd',
		Description: "Details",
		Handler:     func() { a.showDetails(a.current) },
	})
}

func (a *App) setupCallbacks() {
	a.pages.SetOnChange(func([]string) {
		a.updateCrumbs()
		a.updateMenu()
	})

	a.chats.SetSelectedFunc(func(row, _ int) {
		if c := a.chats.ChatByIndex(row); c.ID != "" {
			a.openChat(c)
		}
	})

	a.thread.SetOnSend(func(text string) {
		if strings.HasPrefix(text, ":") {
			a.runCommand(ParseCommand(text[1:]))
			return
		}
		a.run(func() error { return a.vm.Send(text) })
		go a.vm.Typing(a.ctx, false)
	})
	a.thread.SetOnTyping(func(typing bool) {
		go a.vm.Typing(a.ctx, typing)
	})

	a.search.SetOnQuery(a.searchMessages)
	a.search.Results().SetSelectedFunc(func(_, _ int) {
		chatID, _ := a.search.SelectedResult()
		if chatID == "" {
			return
		}
		chat, ok := a.vm.Engine.State().Chat(chatID)
		if !ok {
			chat = chatsync.Chat{ID: chatID, Name: a.chatName(chatID)}
		}
		a.openChat(chat)
	})

	a.settings.SetHandlers(views.SettingsHandlers{
		SaveProfile: func(name, about string) {
			a.async("Profile updated", func(ctx context.Context) error {
				return a.vm.Profile.Update(ctx, name, about)
			})
		},
		SetPicture: a.setPicture,
		Session:    a.confirmSession,
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		if mode == ui.PromptCommand {
			a.runCommand(ParseCommand(text))
		}
	})
	a.prompt.SetOnChange(func(mode ui.PromptMode, text string) {
		if mode == ui.PromptFilter {
			a.setFilter(text)
		}
	})
	a.prompt.SetOnCancel(func() {
		if a.prompt.Mode() == ui.PromptFilter {
			a.setFilter("")
		}
		a.hidePrompt()
	})
}

func (a *App) setupLayout() {
	logo := ui.NewLogo(a.theme)
	header := tview.NewFlex().
		AddItem(a.info, 0, 2, false).
		AddItem(a.menu, 0, 3, false).
		AddItem(logo, 28, 0, false)

	a.confirm.SetBackgroundColor(a.theme.BgColor)

	a.pages.AddPage(pageAuth, a.auth, true, false)
	a.pages.AddPage(pageChats, a.chats, true, false)
	a.pages.AddPage(pageChat, a.thread, true, false)
	a.pages.AddPage(pageSearch, a.search, true, false)
	a.pages.AddPage(pageDetails, a.details, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)
	a.pages.AddPage(pageSettings, a.settings, true, false)
	a.pages.AddPage(pageConfirm, a.confirm, false, false)

	a.body = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.body, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flash, 1, 0, false)
	a.app.SetRoot(root, true)

	a.app.SetInputCapture(a.handleKey)
}

func (a *App) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	if ev.Key() == tcell.KeyCtrlC {
		a.app.Stop()
		return nil
	}
	if a.promptOn || a.pages.Current() == pageConfirm {
		return ev
	}

	focused := a.app.GetFocus()
	if ev.Key() == tcell.KeyEscape {
		if focused == a.thread.Composer() {
			a.app.SetFocus(a.thread.Messages())
			return nil
		}
		if focused == a.search.Results() {
			a.app.SetFocus(a.search.Input())
			return nil
		}
		a.back()
		return nil
	}
	if ev.Key() == tcell.KeyTab && a.pages.Current() == pageSearch {
		if focused == a.search.Input() {
			a.app.SetFocus(a.search.Results())
		} else {
			a.app.SetFocus(a.search.Input())
		}
		return nil
	}

	// Let text input widgets handle all other keys.
	switch focused.(type) {
	case *tview.InputField, *tview.Button:
		return ev
	}

	if a.registry.HandleEvent(a.pages.Current(), ev) {
		return nil
	}
	return ev
}

// push shows page on top of the current one.
func (a *App) push(page string) {
	if a.pages.Current() == page {
		return
	}
	if c, ok := a.components[a.pages.Current()]; ok {
		c.Stop()
	}
	a.pages.Push(page)
	if c, ok := a.components[page]; ok {
		c.Start()
	}
	a.focusPage(page)
}

// back pops the current page. Leaving the conversation closes it.
func (a *App) back() {
	if a.pages.Depth() <= 1 {
		if a.filter != "" {
			a.setFilter("")
		}
		return
	}
	top := a.pages.Current()
	if c, ok := a.components[top]; ok {
		c.Stop()
	}
	a.pages.Pop()
	if top == pageChat {
		a.vm.CloseChat()
		a.current = chatsync.Chat{}
	}
	if c, ok := a.components[a.pages.Current()]; ok {
		c.Start()
	}
	a.focusPage(a.pages.Current())
	a.refresh()
}

func (a *App) reset(page string) {
	if a.pages.Current() == pageChat || a.current.ID != "" {
		a.vm.CloseChat()
		a.current = chatsync.Chat{}
	}
	a.pages.Reset(page)
	if c, ok := a.components[page]; ok {
		c.Start()
	}
	a.focusPage(page)
}

func (a *App) focusPage(page string) {
	switch page {
	case pageChat:
		a.app.SetFocus(a.thread.Composer())
	case pageSearch:
		a.app.SetFocus(a.search.Input())
	case pageConfirm:
		a.app.SetFocus(a.confirm)
	default:
		if c, ok := a.components[page]; ok {
			a.app.SetFocus(c)
		}
	}
}

func (a *App) updateCrumbs() {
	var names []string
	for _, p := range a.pages.Stack() {
		if c, ok := a.components[p]; ok {
			names = append(names, c.Name())
		}
	}
	a.crumbs.Update(names)
}

func (a *App) updateMenu() {
	var hints []ui.MenuHint
	seen := map[string]bool{}
	if c, ok := a.components[a.pages.Current()]; ok {
		for _, h := range c.Hints() {
			hints = append(hints, h)
			seen[h.Key] = true
		}
	}
	for _, h := range a.registry.Hints("") {
		if !seen[h.Key] {
			hints = append(hints, ui.MenuHint{Key: h.Key, Description: h.Description})
		}
	}
	a.menu.Update(hints)
}

func (a *App) showPrompt(mode ui.PromptMode) {
	if a.promptOn {
		return
	}
	a.promptOn = true
	a.prompt.Activate(mode)
	if mode == ui.PromptFilter {
		a.prompt.SetText(a.filter)
	}
	a.body.AddItem(a.prompt, 3, 0, true)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	if !a.promptOn {
		return
	}
	a.promptOn = false
	a.body.RemoveItem(a.prompt)
	a.focusPage(a.pages.Current())
}

func (a *App) setFilter(q string) {
	a.filter = q
	a.refresh()
}

// openChat shows chat and loads its history in the background.
func (a *App) openChat(chat chatsync.Chat) {
	a.current = chat
	if !a.pages.PopTo(pageChats) {
		a.pages.Reset(pageChats)
	}
	a.push(pageChat)
	a.refresh()
	go func() {
		if err := a.vm.OpenChat(a.ctx, chat.ID); err != nil && a.ctx.Err() == nil {
			a.logger.Warn("open chat failed", zap.String("chat", chat.ID), zap.Error(err))
		}
	}()
}

func (a *App) showDetails(chat chatsync.Chat) {
	if chat.ID == "" {
		return
	}
	a.details.Update(chat, "")
	a.push(pageDetails)
	go func() {
		avatar := a.vm.Avatar(a.ctx, chat)
		a.app.QueueUpdateDraw(func() { a.details.Update(chat, avatar) })
	}()
}

func (a *App) showSettings() {
	a.settings.Load(a.vm.Snapshot().Me)
	a.push(pageSettings)
}

func (a *App) showSearch(query string) {
	a.push(pageSearch)
	if query != "" {
		a.search.SetQuery(query)
		a.searchMessages(query)
	}
}

func (a *App) searchMessages(query string) {
	results, err := a.vm.SearchMessages(query)
	if err != nil {
		a.vm.Notifier.Error("Search failed: " + err.Error())
		return
	}
	a.search.Update(query, results)
	if len(results) > 0 {
		a.app.SetFocus(a.search.Results())
	} else {
		a.vm.Notifier.Info(fmt.Sprintf("No messages match %q", query))
	}
}

func (a *App) loadEarlier() {
	go func() {
		n, err := a.vm.LoadEarlier(a.ctx)
		switch {
		case err != nil:
			a.vm.Notifier.Error(err.Error())
		case n == 0:
			a.vm.Notifier.Info("No older messages")
		}
	}()
}

func (a *App) setPicture(path string) {
	path = strings.TrimSpace(path)
	if path == "" {
		a.vm.Notifier.Warn("Type the path of an image first")
		return
	}
	a.async("Profile picture updated", func(ctx context.Context) error {
		return a.vm.Profile.SetPicture(ctx, path)
	})
}

func (a *App) login() {
	if a.vm.Phase() == status.Authenticated {
		return
	}
	a.vm.Session.Login()
}

// confirmSession asks before ending the session.
func (a *App) confirmSession(action views.SessionAction) {
	a.confirm.ClearButtons()
	a.confirm.SetText(action.Confirmation())
	a.confirm.AddButtons([]string{"Yes", "No"})
	a.confirm.SetDoneFunc(func(_ int, label string) {
		a.pages.Pop()
		a.focusPage(a.pages.Current())
		if label == "Yes" {
			a.endSession(action)
		}
	})
	a.pages.Overlay(pageConfirm)
	a.focusPage(pageConfirm)
}

func (a *App) endSession(action views.SessionAction) {
	// Session notifications are posted by the bootstrapper itself.
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
		defer cancel()
		var err error
		switch action {
		case views.ActionClose:
			err = a.vm.Session.CloseSession(ctx)
		case views.ActionLogout:
			err = a.vm.Session.Logout(ctx)
		case views.ActionForceLogout:
			err = a.vm.Session.ForceLogout(ctx)
		case views.ActionShowQR:
			err = a.vm.Session.DisconnectAndShowQR(ctx)
		}
		if err != nil {
			a.logger.Warn("session action failed", zap.Error(err))
		}
	}()
}

// run reports the error of a quick local action.
func (a *App) run(fn func() error) {
	if err := fn(); err != nil {
		a.vm.Notifier.Error(err.Error())
	}
}

// async runs fn off the UI goroutine and reports the outcome.
func (a *App) async(success string, fn func(ctx context.Context) error) {
	go func() {
		if err := fn(a.ctx); err != nil {
			if a.ctx.Err() == nil {
				a.vm.Notifier.Error(err.Error())
			}
			return
		}
		if success != "" {
			a.vm.Notifier.Success(success)
		}
	}()
}

// chatName resolves a chat id to the name shown for it.
func (a *App) chatName(chatID string) string {
	if c, ok := a.vm.Engine.State().Chat(chatID); ok {
		return c.Title()
	}
	for _, c := range a.vm.Snapshot().Contacts {
		if c.ID == chatID {
			return c.DisplayName()
		}
	}
	return jid.Clean(chatID)
}

// Run starts the TUI application and blocks until it quits.
func (a *App) Run() error {
	events, unsub := a.bus.Subscribe("", 64)
	defer unsub()
	go a.watch(events)

	a.syncPhase(a.vm.Phase())
	a.refresh()
	defer a.cancel()
	return a.app.Run()
}

// watch redraws on every bus event and once a second for timers. Bursts of
// events are folded into a single redraw.
func (a *App) watch(events <-chan bus.Event) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-events:
		case <-ticker.C:
		}
		if a.dirty.Swap(true) {
			continue
		}
		a.app.QueueUpdateDraw(func() {
			a.dirty.Store(false)
			a.syncPhase(a.vm.Phase())
			a.refresh()
		})
	}
}

// syncPhase moves between the login screen and the chats as the session
// phase changes.
func (a *App) syncPhase(phase status.Phase) {
	onAuth := a.pages.Current() == pageAuth
	switch {
	case phase == status.Authenticated && (onAuth || a.pages.Depth() == 0):
		a.reset(pageChats)
	case phase != status.Authenticated && !onAuth && !a.outOfSession():
		a.reset(pageAuth)
	}
}

// outOfSession reports whether the current page makes sense while signed
// out.
func (a *App) outOfSession() bool {
	switch a.pages.Current() {
	case pageHelp, pageConfirm:
		return true
	}
	return false
}

// refresh redraws every view from the current state. It runs on the UI
// goroutine.
func (a *App) refresh() {
	snap := a.vm.Snapshot()
	phase := a.vm.Phase()

	unread := 0
	for _, c := range snap.Chats {
		unread += c.UnreadCount
	}
	data := &ui.SessionData{
		Session:   a.vm.SessionName,
		Phase:     string(phase),
		Connected: snap.Connected && phase == status.Authenticated,
		Stale:     snap.Stale,
		ChatCount: len(snap.Chats),
		Unread:    unread,
		Uptime:    time.Since(a.started),
	}
	if snap.Me != nil {
		data.Phone = jid.Clean(snap.Me.ID)
		data.Name = snap.Me.Name
		if data.Name == "" {
			data.Name = snap.Me.PushName
		}
	}
	a.info.Update(data)

	note, ok := a.vm.Flash()
	a.flash.Update(note, ok)

	if a.pages.Current() == pageAuth {
		qr, hasQR := a.vm.Session.QR()
		a.auth.Show(phase, qr, hasQR, a.vm.Session.Reason())
	}

	a.chats.Update(a.vm.Chats(a.filter), views.ListState{
		Filter:    a.filter,
		Loading:   snap.Loading,
		Stale:     snap.Stale,
		LoadError: snap.LoadError,
	})

	if a.current.ID != "" {
		chat := a.current
		if c, ok := a.vm.Engine.State().Chat(chat.ID); ok {
			chat = c
		}
		st := views.ThreadState{Chat: chat, Loading: snap.LoadingTranscript, ReplyTo: a.vm.ReplyTarget()}
		if snap.ActiveChat == chat.ID {
			st.Transcript = snap.Transcript
		}
		a.thread.Update(st)
	}
	a.updateCrumbs()
	a.updateMenu()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
