package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/bus"
	"github.com/matheus3301/wppc/internal/jid"
	"github.com/matheus3301/wppc/internal/outbox"
	"github.com/matheus3301/wppc/internal/remote"
	"github.com/matheus3301/wppc/internal/retry"
	"github.com/matheus3301/wppc/internal/status"
	"github.com/matheus3301/wppc/internal/store"
)

const (
	alice = "5511999990001@c.us"
	bob   = "5511999990002@c.us"
	team  = "5511999990003-1600000000@g.us"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fakeRemote serves canned results and records calls.
type fakeRemote struct {
	mu        sync.Mutex
	session   string
	chats     func(call int) ([]remote.Chat, error)
	contacts  func(call int) ([]remote.Contact, error)
	messages  func(chatID string) (remote.MessagePage, error)
	earlier   []remote.Message
	deleteErr error

	chatCalls    int
	contactCalls int
	messageCalls []string
	seen         []string
	deleted      []string
}

func (f *fakeRemote) Binding() remote.Binding {
	return remote.Binding{Session: f.session, Token: "tok"}
}

func (f *fakeRemote) Chats(context.Context) ([]remote.Chat, error) {
	f.mu.Lock()
	f.chatCalls++
	call := f.chatCalls
	f.mu.Unlock()
	if f.chats == nil {
		return nil, nil
	}
	return f.chats(call)
}

func (f *fakeRemote) Contacts(context.Context) ([]remote.Contact, error) {
	f.mu.Lock()
	f.contactCalls++
	call := f.contactCalls
	f.mu.Unlock()
	if f.contacts == nil {
		return nil, nil
	}
	return f.contacts(call)
}

func (f *fakeRemote) Messages(_ context.Context, chatID string) (remote.MessagePage, error) {
	f.mu.Lock()
	f.messageCalls = append(f.messageCalls, chatID)
	f.mu.Unlock()
	if f.messages == nil {
		return remote.MessagePage{}, nil
	}
	return f.messages(chatID)
}

func (f *fakeRemote) EarlierMessages(context.Context, string, bool) ([]remote.Message, error) {
	return f.earlier, nil
}

func (f *fakeRemote) SendSeen(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, chatID)
	return nil
}

func (f *fakeRemote) DeleteMessage(_ context.Context, chatID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, chatID+"/"+messageID)
	return nil
}

// recordingNotifier keeps every notification by level.
type recordingNotifier struct {
	mu    sync.Mutex
	notes map[string][]string
}

func (n *recordingNotifier) add(level, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.notes == nil {
		n.notes = make(map[string][]string)
	}
	n.notes[level] = append(n.notes[level], msg)
}

func (n *recordingNotifier) Info(msg string)    { n.add("info", msg) }
func (n *recordingNotifier) Success(msg string) { n.add("success", msg) }
func (n *recordingNotifier) Warn(msg string)    { n.add("warn", msg) }
func (n *recordingNotifier) Error(msg string)   { n.add("error", msg) }

func (n *recordingNotifier) get(level string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.notes[level])
}

func newTestEngine(t *testing.T, r *fakeRemote) (*Engine, *recordingNotifier, *bus.Bus, *store.DB) {
	t.Helper()
	b := bus.New()
	db := testDB(t)
	n := &recordingNotifier{}
	rc := retry.New(retry.Policy{Base: time.Millisecond, MaxAttempts: 3, RetryEmpty: true}, remote.IsRetryable, zap.NewNop())
	return NewEngine(r, NewState(b), db, rc, n, b, zap.NewNop()), n, b, db
}

func rawID(id string) json.RawMessage {
	data, _ := json.Marshal(id)
	return data
}

func wire(id string) jid.Wire {
	return jid.Wire{Server: "c.us", User: jid.Clean(id), Serialized: id}
}

func sampleChats() []remote.Chat {
	return []remote.Chat{
		{ID: rawID(alice), Name: "Alice", T: 100, Msgs: []remote.Message{{ID: "m0", Body: "older", Type: "chat"}, {ID: "m1", Body: "hi", Type: "chat"}}},
		{ID: json.RawMessage(`{"server":"g.us","user":"5511999990003-1600000000","_serialized":"` + team + `"}`), IsGroup: true, Name: "Team", T: 300},
		{ID: rawID(bob), T: 200},
		{ID: rawID("5511999990004@c.us"), Name: "Archived", Archive: true, T: 400},
		{ID: rawID("123@c.us"), Name: "Broken", T: 500},
	}
}

func sampleContacts() []remote.Contact {
	return []remote.Contact{
		{ID: wire(bob), PushName: "Bobby", IsMyContact: true},
		{ID: wire("5511999990009@c.us"), Name: "Me", IsMe: true},
		{ID: jid.Wire{Server: "lid", User: "123456789012", Serialized: "123456789012@lid"}, Name: "Hidden", IsMyContact: true},
		{ID: wire("5511999990005@c.us"), Name: "Stranger"},
		{ID: wire("5511999990006@c.us"), Name: "Carol", IsMyContact: true},
	}
}

func TestLoadInitialFiltersAndSorts(t *testing.T) {
	r := &fakeRemote{
		chats:    func(int) ([]remote.Chat, error) { return sampleChats(), nil },
		contacts: func(int) ([]remote.Contact, error) { return sampleContacts(), nil },
	}
	e, n, _, db := newTestEngine(t, r)

	if err := e.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	snap := e.State().Snapshot()

	var ids []string
	for _, c := range snap.Chats {
		ids = append(ids, c.ID)
	}
	want := []string{team, bob, alice}
	if !slices.Equal(ids, want) {
		t.Fatalf("chat order = %v, want %v", ids, want)
	}
	if snap.Chats[1].Name != "Bobby" {
		t.Errorf("unnamed chat name = %q, want contact name Bobby", snap.Chats[1].Name)
	}
	if last := snap.Chats[2].LastMessage; last == nil || last.ID != "m1" {
		t.Errorf("last message = %+v, want m1", last)
	}
	if len(snap.Contacts) != 2 {
		t.Errorf("contacts = %d, want 2 (bob, carol)", len(snap.Contacts))
	}
	if snap.Me == nil || snap.Me.Name != "Me" {
		t.Errorf("me = %+v", snap.Me)
	}
	if snap.Loading {
		t.Error("loading flag still set")
	}
	if got := n.get("success"); len(got) != 0 {
		t.Errorf("success notifications on first-try load: %v", got)
	}

	cp, err := db.Checkpoint(CheckpointBulkLoad)
	if err != nil || cp == "" {
		t.Errorf("checkpoint = %q, %v", cp, err)
	}
	count, _ := db.ChatCount()
	if count != 3 {
		t.Errorf("cached chats = %d, want 3", count)
	}
}

func TestLoadInitialRetriesTransientFailures(t *testing.T) {
	r := &fakeRemote{
		chats: func(call int) ([]remote.Chat, error) {
			if call < 3 {
				return nil, &remote.Error{Op: "list chats", Kind: remote.KindTransient, Code: remote.CodeListChatsError}
			}
			return sampleChats(), nil
		},
		contacts: func(int) ([]remote.Contact, error) { return sampleContacts(), nil },
	}
	e, n, _, _ := newTestEngine(t, r)

	if err := e.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if r.chatCalls != 3 {
		t.Errorf("chat calls = %d, want 3", r.chatCalls)
	}
	if len(e.State().Snapshot().Chats) != 3 {
		t.Errorf("chats not installed after retries")
	}
	if got := n.get("success"); len(got) != 1 {
		t.Errorf("success notifications = %v, want one", got)
	}
}

func TestLoadInitialRetriesServerFlaggedFailure(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls[r.URL.Path]++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"error","message":"boom"}`)
	}))
	t.Cleanup(srv.Close)

	b := bus.New()
	client := remote.New(remote.Options{BaseURL: srv.URL + "/api"}, b, zap.NewNop())
	client.Bind("work", "tok")
	t.Cleanup(client.Close)
	n := &recordingNotifier{}
	rc := retry.New(retry.Policy{Base: time.Millisecond, MaxAttempts: 3}, remote.IsRetryable, zap.NewNop())
	e := NewEngine(client, NewState(b), testDB(t), rc, n, b, zap.NewNop())

	if err := e.LoadInitial(context.Background()); err == nil {
		t.Fatal("LoadInitial succeeded against a failing server")
	}
	mu.Lock()
	defer mu.Unlock()
	if got := calls["/api/work/list-chats"]; got != 3 {
		t.Errorf("list-chats calls = %d, want 3", got)
	}
	if got := calls["/api/work/all-contacts"]; got != 3 {
		t.Errorf("all-contacts calls = %d, want 3", got)
	}
	if got := n.get("error"); !slices.Equal(got, []string{"Could not load data after several attempts"}) {
		t.Errorf("errors = %v", got)
	}
}

func TestLoadInitialChatsExhaustedContactsStillLoad(t *testing.T) {
	transient := &remote.Error{Op: "list chats", Kind: remote.KindTransient, StatusCode: 503}
	r := &fakeRemote{
		chats:    func(int) ([]remote.Chat, error) { return nil, transient },
		contacts: func(int) ([]remote.Contact, error) { return sampleContacts(), nil },
	}
	e, n, _, _ := newTestEngine(t, r)

	err := e.LoadInitial(context.Background())
	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", exhausted.Attempts)
	}
	snap := e.State().Snapshot()
	if len(snap.Chats) != 0 {
		t.Errorf("chats = %d, want empty", len(snap.Chats))
	}
	if len(snap.Contacts) != 2 {
		t.Errorf("contacts = %d, want 2", len(snap.Contacts))
	}
	if snap.LoadError == "" {
		t.Error("load error not recorded")
	}
	if got := n.get("error"); len(got) != 1 {
		t.Errorf("error notifications = %v, want one", got)
	}
}

func TestLoadInitialRetriesEmptyListOnce(t *testing.T) {
	r := &fakeRemote{
		chats: func(call int) ([]remote.Chat, error) {
			if call == 1 {
				return nil, nil
			}
			return sampleChats(), nil
		},
	}
	e, _, _, _ := newTestEngine(t, r)

	if err := e.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.chatCalls != 2 {
		t.Errorf("chat calls = %d, want 2", r.chatCalls)
	}
	// Contacts came back empty on both tries; the second result is final.
	if r.contactCalls != 2 {
		t.Errorf("contact calls = %d, want 2", r.contactCalls)
	}
}

func TestSelectChatRejectsInvalidID(t *testing.T) {
	r := &fakeRemote{}
	e, n, _, _ := newTestEngine(t, r)

	err := e.SelectChat(context.Background(), "12345")
	if !errors.Is(err, jid.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if len(r.messageCalls) != 0 {
		t.Errorf("network calls = %v, want none", r.messageCalls)
	}
	if got := n.get("error"); len(got) != 1 {
		t.Errorf("error notifications = %v", got)
	}
	if e.State().ActiveChat() != "" {
		t.Error("invalid chat became active")
	}
}

func TestSelectChatLoadsHistoryAndMarksRead(t *testing.T) {
	r := &fakeRemote{
		messages: func(chatID string) (remote.MessagePage, error) {
			return remote.MessagePage{Messages: []remote.Message{
				{ID: "a1", Body: "one", Type: "chat", T: 10},
				{ID: "a2", Body: "two", Type: "chat", T: 20},
				{ID: "a2", Body: "two", Type: "chat", T: 20},
			}}, nil
		},
	}
	e, _, _, db := newTestEngine(t, r)
	e.State().SetChats([]Chat{{ID: alice, Name: "Alice", UnreadCount: 4}}, false)

	if err := e.SelectChat(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	snap := e.State().Snapshot()
	if snap.ActiveChat != alice {
		t.Errorf("active = %q", snap.ActiveChat)
	}
	if len(snap.Transcript) != 2 {
		t.Errorf("transcript = %d messages, want 2", len(snap.Transcript))
	}
	if snap.LoadingTranscript {
		t.Error("loading flag still set")
	}
	if snap.Chats[0].UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", snap.Chats[0].UnreadCount)
	}
	if !slices.Equal(r.seen, []string{alice}) {
		t.Errorf("seen = %v", r.seen)
	}
	msgs, _ := db.ListMessages(alice, 0, 10)
	if len(msgs) != 2 {
		t.Errorf("cached messages = %d, want 2", len(msgs))
	}
}

func TestSelectChatNotFound(t *testing.T) {
	r := &fakeRemote{
		messages: func(string) (remote.MessagePage, error) { return remote.MessagePage{NotFound: true}, nil },
	}
	e, n, _, _ := newTestEngine(t, r)
	e.State().SetChats([]Chat{{ID: alice, UnreadCount: 2}}, false)

	if err := e.SelectChat(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	snap := e.State().Snapshot()
	if len(snap.Transcript) != 0 || snap.LoadingTranscript {
		t.Errorf("transcript = %v loading = %v", snap.Transcript, snap.LoadingTranscript)
	}
	if snap.Chats[0].UnreadCount != 2 {
		t.Errorf("unread reset on a chat that failed to load")
	}
	if got := n.get("warn"); len(got) != 1 {
		t.Errorf("warn notifications = %v", got)
	}
	if len(r.seen) != 0 {
		t.Errorf("seen sent for missing chat")
	}
}

func TestSelectChatErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth", &remote.Error{Op: "get messages", Kind: remote.KindAuth, StatusCode: 401}, "Authentication error. Please log in again."},
		{"other", &remote.Error{Op: "get messages", Kind: remote.KindFatal, StatusCode: 400}, "Could not load messages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRemote{
				messages: func(string) (remote.MessagePage, error) { return remote.MessagePage{}, tt.err },
			}
			e, n, _, _ := newTestEngine(t, r)
			if err := e.SelectChat(context.Background(), bob); err == nil {
				t.Fatal("expected error")
			}
			if got := n.get("error"); !slices.Equal(got, []string{tt.want}) {
				t.Errorf("errors = %v, want %q", got, tt.want)
			}
			if e.State().Snapshot().LoadingTranscript {
				t.Error("loading flag still set")
			}
		})
	}
}

func TestIngestMessageUpdatesChatList(t *testing.T) {
	e, n, _, _ := newTestEngine(t, &fakeRemote{})
	e.State().SetChats([]Chat{{ID: alice, Name: "Alice"}, {ID: bob, Name: "Bob"}}, false)

	e.IngestMessage(remote.Message{ID: "x1", Body: "yo", Type: "chat", ChatID: rawID(bob), SenderName: "Bob", T: 50})
	e.IngestMessage(remote.Message{ID: "x2", Body: "mine", Type: "chat", FromMe: true, ChatID: rawID(bob), T: 60})

	snap := e.State().Snapshot()
	if snap.Chats[0].ID != bob {
		t.Fatalf("first chat = %q, want %q", snap.Chats[0].ID, bob)
	}
	if snap.Chats[0].UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 (own message not counted)", snap.Chats[0].UnreadCount)
	}
	if snap.Chats[0].LastMessage.ID != "x2" {
		t.Errorf("last message = %q", snap.Chats[0].LastMessage.ID)
	}
	if got := n.get("info"); !slices.Equal(got, []string{"New message from Bob"}) {
		t.Errorf("info = %v", got)
	}
}

func TestIngestMessageUnknownChatIsNotAdded(t *testing.T) {
	e, _, _, _ := newTestEngine(t, &fakeRemote{})
	e.State().SetChats([]Chat{{ID: alice}}, false)

	e.IngestMessage(remote.Message{ID: "x1", Body: "hey", ChatID: rawID(bob)})
	if n := len(e.State().Snapshot().Chats); n != 1 {
		t.Errorf("chats = %d, want 1", n)
	}
}

func TestIngestMessageAppendsToOpenChat(t *testing.T) {
	r := &fakeRemote{
		messages: func(string) (remote.MessagePage, error) {
			return remote.MessagePage{Messages: []remote.Message{{ID: "a1", Body: "one", T: 10}}}, nil
		},
	}
	e, _, _, _ := newTestEngine(t, r)
	e.State().SetChats([]Chat{{ID: alice}}, false)
	if err := e.SelectChat(context.Background(), alice); err != nil {
		t.Fatal(err)
	}

	e.IngestMessage(remote.Message{ID: "a2", Body: "two", ChatID: rawID(alice), T: 20})
	e.IngestMessage(remote.Message{ID: "a2", Body: "two", ChatID: rawID(alice), T: 20})
	e.IngestMessage(remote.Message{ID: "b1", Body: "elsewhere", ChatID: rawID(bob), T: 30})

	snap := e.State().Snapshot()
	var ids []string
	for _, m := range snap.Transcript {
		ids = append(ids, m.ID)
	}
	if !slices.Equal(ids, []string{"a1", "a2"}) {
		t.Errorf("transcript = %v", ids)
	}
	if snap.Chats[0].UnreadCount != 0 {
		t.Errorf("unread grew on the open chat")
	}
}

func TestSelectChatKeepsMessagesArrivingWhileLoading(t *testing.T) {
	r := &fakeRemote{}
	e, _, _, _ := newTestEngine(t, r)
	e.State().SetChats([]Chat{{ID: alice}}, false)
	r.messages = func(string) (remote.MessagePage, error) {
		e.IngestMessage(remote.Message{ID: "live1", Body: "just now", ChatID: rawID(alice), T: 30})
		return remote.MessagePage{Messages: []remote.Message{
			{ID: "a1", Body: "one", T: 10},
			{ID: "a2", Body: "two", T: 20},
		}}, nil
	}

	if err := e.SelectChat(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, m := range e.State().Snapshot().Transcript {
		ids = append(ids, m.ID)
	}
	if !slices.Equal(ids, []string{"a1", "a2", "live1"}) {
		t.Errorf("transcript = %v", ids)
	}
}

func TestSelectChatShowsCachedTranscriptWhileLoading(t *testing.T) {
	r := &fakeRemote{}
	e, _, _, db := newTestEngine(t, r)
	if err := db.UpsertMessages([]store.Message{
		{ChatID: alice, MsgID: "c2", Body: "second", MessageType: "chat", Timestamp: 6},
		{ChatID: alice, MsgID: "c1", Body: "first", MessageType: "chat", Timestamp: 5},
	}); err != nil {
		t.Fatal(err)
	}
	var during Snapshot
	r.messages = func(string) (remote.MessagePage, error) {
		during = e.State().Snapshot()
		return remote.MessagePage{Messages: []remote.Message{{ID: "a1", Body: "fresh", T: 10}}}, nil
	}

	if err := e.SelectChat(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	if !during.LoadingTranscript || len(during.Transcript) != 2 ||
		during.Transcript[0].ID != "c1" || during.Transcript[1].Body != "second" {
		t.Errorf("transcript while loading = %+v", during.Transcript)
	}
	snap := e.State().Snapshot()
	if len(snap.Transcript) != 1 || snap.Transcript[0].ID != "a1" {
		t.Errorf("transcript = %+v, want fetched history only", snap.Transcript)
	}
}

func TestSelectChatFailureKeepsCachedTranscript(t *testing.T) {
	r := &fakeRemote{
		messages: func(string) (remote.MessagePage, error) {
			return remote.MessagePage{}, &remote.Error{Op: "get messages", Kind: remote.KindTransient, StatusCode: 503}
		},
	}
	e, _, _, db := newTestEngine(t, r)
	if err := db.UpsertMessage(&store.Message{ChatID: bob, MsgID: "c1", Body: "cached", Timestamp: 5}); err != nil {
		t.Fatal(err)
	}

	if err := e.SelectChat(context.Background(), bob); err == nil {
		t.Fatal("expected error")
	}
	snap := e.State().Snapshot()
	if snap.LoadingTranscript {
		t.Error("loading flag still set")
	}
	if len(snap.Transcript) != 1 || snap.Transcript[0].Body != "cached" {
		t.Errorf("transcript = %+v, want cached message", snap.Transcript)
	}
}

func TestIngestAck(t *testing.T) {
	e, _, _, _ := newTestEngine(t, &fakeRemote{})
	e.State().SetChats([]Chat{{ID: alice, LastMessage: &Message{ID: "m1", Ack: 1}}}, false)

	e.IngestAck(remote.Ack{ID: "m1", Ack: 3})
	e.IngestAck(remote.Ack{ID: "m1", Ack: 2})

	if got := e.State().Snapshot().Chats[0].LastMessage.Ack; got != 3 {
		t.Errorf("ack = %d, want 3", got)
	}
}

func TestEngineIgnoresOtherSessions(t *testing.T) {
	e, _, b, _ := newTestEngine(t, &fakeRemote{session: "work"})
	e.State().SetChats([]Chat{{ID: alice}, {ID: bob}}, false)
	e.Start(context.Background())
	defer e.Stop()

	ch, unsub := b.Subscribe(bus.KindStateChanged, 16)
	defer unsub()

	b.Emit(bus.KindRemoteMessage, remote.MessageEvent{Session: "old", Message: remote.Message{ID: "o1", ChatID: rawID(bob)}})
	b.Emit(bus.KindRemoteMessage, remote.MessageEvent{Session: "work", Message: remote.Message{ID: "w1", ChatID: rawID(alice)}})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state.changed")
	}
	snap := e.State().Snapshot()
	if snap.Chats[0].LastMessage == nil || snap.Chats[0].LastMessage.ID != "w1" {
		t.Errorf("current session message not applied: %+v", snap.Chats[0])
	}
	if snap.Chats[1].LastMessage != nil {
		t.Errorf("message from previous session applied: %+v", snap.Chats[1])
	}
}

func TestEngineConnectionLost(t *testing.T) {
	e, n, b, _ := newTestEngine(t, &fakeRemote{session: "work"})
	e.Start(context.Background())
	defer e.Stop()

	ch, unsub := b.Subscribe(bus.KindStateChanged, 16)
	defer unsub()

	b.Emit(bus.KindRemoteConnection, remote.ConnectionEvent{Session: "work", Connected: true})
	b.Emit(bus.KindRemoteConnection, remote.ConnectionEvent{Session: "work", Connected: false})

	for range 2 {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for state.changed")
		}
	}
	if got := n.get("error"); len(got) != 1 {
		t.Errorf("error notifications = %v", got)
	}
}

func TestEngineAppliesOutboxUpdates(t *testing.T) {
	e, _, b, _ := newTestEngine(t, &fakeRemote{})
	e.State().SetChats([]Chat{{ID: alice}}, false)
	e.State().BeginSelect(alice, nil)
	e.State().FinishSelect(alice, nil, true)
	e.Start(context.Background())
	defer e.Stop()

	ch, unsub := b.Subscribe(bus.KindStateChanged, 16)
	defer unsub()

	u := outbox.Update{ChatID: alice, ClientMsgID: "local-1", Body: "hi", Status: outbox.StatusSending, Timestamp: time.Unix(100, 0)}
	b.Emit(bus.KindMessageUpserted, u)
	u.Status = outbox.StatusSent
	u.ServerMsgID = "true_" + alice + "_ABC"
	b.Emit(bus.KindMessageSendAck, u)

	for range 2 {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for state.changed")
		}
	}
	snap := e.State().Snapshot()
	if len(snap.Transcript) != 1 {
		t.Fatalf("transcript = %+v", snap.Transcript)
	}
	if m := snap.Transcript[0]; m.ID != u.ServerMsgID || m.Pending {
		t.Errorf("message = %+v, want renamed and not pending", m)
	}
	if last := snap.Chats[0].LastMessage; last == nil || last.ID != u.ServerMsgID {
		t.Errorf("chat last message = %+v", last)
	}
}

func TestEngineSessionResetClearsCache(t *testing.T) {
	e, _, b, db := newTestEngine(t, &fakeRemote{})
	if err := db.SaveCredentials("work", "tok"); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceChats([]store.Chat{{ID: alice}}); err != nil {
		t.Fatal(err)
	}
	e.State().SetChats([]Chat{{ID: alice}}, false)
	e.Start(context.Background())
	defer e.Stop()

	ch, unsub := b.Subscribe(bus.KindStateChanged, 16)
	defer unsub()
	b.Emit(bus.KindSessionReset, status.SessionReset{Session: "work", ClearCache: true})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state.changed")
	}
	// The cache is cleared right after the state reset; give it a moment.
	deadline := time.Now().Add(time.Second)
	for {
		count, _ := db.ChatCount()
		if count == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cached chats = %d after reset", count)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(e.State().Snapshot().Chats) != 0 {
		t.Error("state not reset")
	}
	if session, _, _ := db.LoadCredentials(); session != "work" {
		t.Error("credentials removed by cache clear")
	}
}

func TestLoadEarlierPrependsNewMessages(t *testing.T) {
	r := &fakeRemote{
		messages: func(string) (remote.MessagePage, error) {
			return remote.MessagePage{Messages: []remote.Message{{ID: "a3", T: 30}}}, nil
		},
		earlier: []remote.Message{{ID: "a1", T: 10}, {ID: "a2", T: 20}, {ID: "a3", T: 30}},
	}
	e, _, _, _ := newTestEngine(t, r)
	if err := e.SelectChat(context.Background(), alice); err != nil {
		t.Fatal(err)
	}

	n, err := e.LoadEarlier(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("added = %d, want 2", n)
	}
	var ids []string
	for _, m := range e.State().Snapshot().Transcript {
		ids = append(ids, m.ID)
	}
	if !slices.Equal(ids, []string{"a1", "a2", "a3"}) {
		t.Errorf("transcript = %v", ids)
	}
}

func TestDeleteMessageDropsFromTranscriptAndCache(t *testing.T) {
	r := &fakeRemote{
		messages: func(string) (remote.MessagePage, error) {
			return remote.MessagePage{Messages: []remote.Message{
				{ID: "a1", Body: "keep", T: 10},
				{ID: "a2", Body: "oops", FromMe: true, T: 20},
			}}, nil
		},
	}
	e, _, _, db := newTestEngine(t, r)
	if err := e.SelectChat(context.Background(), alice); err != nil {
		t.Fatal(err)
	}

	if err := e.DeleteMessage(context.Background(), "a2"); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(r.deleted, []string{alice + "/a2"}) {
		t.Errorf("deleted = %v", r.deleted)
	}
	tr := e.State().Snapshot().Transcript
	if len(tr) != 1 || tr[0].ID != "a1" {
		t.Errorf("transcript = %+v", tr)
	}
	cached, _ := db.ListMessages(alice, 0, 10)
	if len(cached) != 1 || cached[0].MsgID != "a1" {
		t.Errorf("cached = %+v", cached)
	}
}

func TestDeleteMessageFailureKeepsMessage(t *testing.T) {
	r := &fakeRemote{
		messages: func(string) (remote.MessagePage, error) {
			return remote.MessagePage{Messages: []remote.Message{{ID: "a1", FromMe: true, T: 10}}}, nil
		},
		deleteErr: &remote.Error{Op: "delete message", Kind: remote.KindFatal, StatusCode: 400},
	}
	e, _, _, _ := newTestEngine(t, r)
	if err := e.DeleteMessage(context.Background(), "a1"); err == nil {
		t.Fatal("delete without an open chat succeeded")
	}
	if err := e.SelectChat(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteMessage(context.Background(), "a1"); err == nil {
		t.Fatal("expected error")
	}
	if len(e.State().Snapshot().Transcript) != 1 {
		t.Error("message removed although the server refused")
	}
}

func TestWarmMarksCacheStale(t *testing.T) {
	e, _, _, db := newTestEngine(t, &fakeRemote{})
	if err := db.ReplaceChats([]store.Chat{{ID: alice, LastMessageAt: 100, LastMessagePreview: "cached"}}); err != nil {
		t.Fatal(err)
	}
	if err := e.Warm(); err != nil {
		t.Fatal(err)
	}
	snap := e.State().Snapshot()
	if !snap.Stale || len(snap.Chats) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Chats[0].Name != "" {
		t.Errorf("name = %q, want empty fallback", snap.Chats[0].Name)
	}
	if got := snap.Chats[0].Preview(0); got != "cached" {
		t.Errorf("preview = %q", got)
	}
}
