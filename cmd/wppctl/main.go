package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/matheus3301/wppc/internal/config"
	"github.com/matheus3301/wppc/internal/jid"
	"github.com/matheus3301/wppc/internal/lock"
	"github.com/matheus3301/wppc/internal/session"
	"github.com/matheus3301/wppc/internal/store"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	cfg, err := config.LoadWithDefaults(session.ConfigPath())
	if err != nil {
		fatal("read config: %v", err)
	}
	sessionName := session.Resolve(*sessionFlag, cfg)
	if err := session.ValidateName(sessionName); err != nil {
		fatal("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		cmdStatus(sessionName, *jsonFlag)
	case "chats":
		cmdChats(sessionName, args[1:], *jsonFlag)
	case "search":
		if len(args) < 2 {
			fatal("usage: wppctl search <query>")
		}
		cmdSearch(sessionName, strings.Join(args[1:], " "), *jsonFlag)
	case "outbox":
		cmdOutbox(sessionName, *jsonFlag)
	case "forget":
		cmdForget(sessionName)
	case "sessions":
		if len(args) >= 2 && args[1] == "list" {
			cmdSessionsList(*jsonFlag)
		} else {
			fatal("usage: wppctl sessions list")
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wppctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status           Show what the session cache holds")
	fmt.Fprintln(os.Stderr, "  chats [n]        List the n most recent cached chats")
	fmt.Fprintln(os.Stderr, "  search <query>   Search cached messages")
	fmt.Fprintln(os.Stderr, "  outbox           Show messages waiting to be sent")
	fmt.Fprintln(os.Stderr, "  forget           Drop stored credentials and cache")
	fmt.Fprintln(os.Stderr, "  sessions list    List known sessions")
}

// openStore opens the session cache read for inspection.
func openStore(name string) *store.DB {
	path := session.DBPath(name)
	if _, err := os.Stat(path); err != nil {
		fatal("session %q has no cache yet (%s)", name, path)
	}
	db, err := store.Open(path)
	if err != nil {
		fatal("%v", err)
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		fatal("%v", err)
	}
	return db
}

// running reports whether a wppc process holds the session lock.
func running(name string) bool {
	l, err := lock.Acquire(session.Dir(name))
	if err != nil {
		var held *lock.HeldError
		return errors.As(err, &held)
	}
	_ = l.Release()
	return false
}

type statusOutput struct {
	Session      string `json:"session"`
	Path         string `json:"path"`
	Running      bool   `json:"running"`
	LoggedIn     bool   `json:"logged_in"`
	ServerName   string `json:"server_session,omitempty"`
	Chats        int64  `json:"chats"`
	Messages     int64  `json:"messages"`
	PendingSends int    `json:"pending_sends"`
}

func cmdStatus(name string, jsonOut bool) {
	db := openStore(name)
	defer func() { _ = db.Close() }()

	out := statusOutput{Session: name, Path: session.Dir(name), Running: running(name)}
	serverName, token, err := db.LoadCredentials()
	if err != nil {
		fatal("%v", err)
	}
	out.LoggedIn = token != ""
	out.ServerName = serverName
	if out.Chats, err = db.ChatCount(); err != nil {
		fatal("%v", err)
	}
	if out.Messages, err = db.MessageCount(); err != nil {
		fatal("%v", err)
	}
	pending, err := db.PendingOutbox()
	if err != nil {
		fatal("%v", err)
	}
	out.PendingSends = len(pending)

	if jsonOut {
		outputJSON(out)
		return
	}
	state := "stopped"
	if out.Running {
		state = "running"
	}
	login := "not logged in"
	if out.LoggedIn {
		login = "logged in as server session " + out.ServerName
	}
	fmt.Printf("Session:  %s (%s)\n", out.Session, state)
	fmt.Printf("Path:     %s\n", out.Path)
	fmt.Printf("Login:    %s\n", login)
	fmt.Printf("Cache:    %s chats, %s messages\n", humanize.Comma(out.Chats), humanize.Comma(out.Messages))
	fmt.Printf("Outbox:   %d pending\n", out.PendingSends)
}

func cmdChats(name string, args []string, jsonOut bool) {
	limit := 20
	if len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &limit); err != nil || limit < 1 {
			fatal("usage: wppctl chats [n]")
		}
	}
	db := openStore(name)
	defer func() { _ = db.Close() }()

	chats, err := db.ListChats(limit)
	if err != nil {
		fatal("%v", err)
	}
	if jsonOut {
		outputJSON(chats)
		return
	}
	if len(chats) == 0 {
		fmt.Println("No cached chats.")
		return
	}
	for _, c := range chats {
		title := c.Name
		if title == "" {
			title = jid.Clean(c.ID)
		}
		when := "-"
		if c.LastMessageAt > 0 {
			when = humanize.Time(time.Unix(c.LastMessageAt, 0))
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
		}
		fmt.Printf("%-28s %-16s %s%s\n", truncate(title, 28), when, truncate(c.LastMessagePreview, 40), unread)
	}
}

func cmdSearch(name, query string, jsonOut bool) {
	db := openStore(name)
	defer func() { _ = db.Close() }()

	results, err := db.SearchMessages(query, "", 50)
	if err != nil {
		fatal("%v", err)
	}
	if jsonOut {
		outputJSON(results)
		return
	}
	if len(results) == 0 {
		fmt.Printf("No cached messages match %q.\n", query)
		return
	}
	for _, r := range results {
		who := r.Message.SenderName
		if r.Message.FromMe {
			who = "me"
		}
		if who == "" {
			who = jid.Clean(r.Message.SenderID)
		}
		at := time.Unix(r.Message.Timestamp, 0).Format("2006-01-02 15:04")
		fmt.Printf("%s  %-16s %-14s %s\n", at, truncate(jid.Clean(r.Message.ChatID), 16), truncate(who, 14), r.Snippet)
	}
}

func cmdOutbox(name string, jsonOut bool) {
	db := openStore(name)
	defer func() { _ = db.Close() }()

	entries, err := db.PendingOutbox()
	if err != nil {
		fatal("%v", err)
	}
	if jsonOut {
		outputJSON(entries)
		return
	}
	if len(entries) == 0 {
		fmt.Println("Outbox is empty.")
		return
	}
	for _, e := range entries {
		fmt.Printf("%-16s %-14s %s\n", truncate(jid.Clean(e.ChatID), 16),
			humanize.Time(time.UnixMilli(e.CreatedAt)), truncate(e.Body, 50))
	}
}

// cmdForget drops what a logout would drop, without the server. It refuses
// while the session is open.
func cmdForget(name string) {
	if running(name) {
		fatal("session %q is open in wppc; use :logout there", name)
	}
	db := openStore(name)
	defer func() { _ = db.Close() }()

	if err := db.ClearCredentials(); err != nil {
		fatal("%v", err)
	}
	if err := db.ClearCache(); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Session %q forgotten. The next start shows a new QR code.\n", name)
}

type sessionEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
}

func cmdSessionsList(jsonOut bool) {
	root := filepath.Join(session.BaseDir(), "sessions")
	dirs, err := os.ReadDir(root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		fatal("%v", err)
	}
	var sessions []sessionEntry
	for _, d := range dirs {
		if !d.IsDir() || session.ValidateName(d.Name()) != nil {
			continue
		}
		sessions = append(sessions, sessionEntry{
			Name:    d.Name(),
			Path:    session.Dir(d.Name()),
			Running: running(d.Name()),
		})
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Name < sessions[j].Name })

	if jsonOut {
		outputJSON(sessions)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, s := range sessions {
		state := "stopped"
		if s.Running {
			state = "running"
		}
		fmt.Printf("%-20s %s (%s)\n", s.Name, s.Path, state)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
