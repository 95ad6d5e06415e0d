package sync

import (
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wppc/internal/bus"
	"github.com/matheus3301/wppc/internal/outbox"
)

// Snapshot is a copy of the shared state at one point in time.
type Snapshot struct {
	Chats      []Chat
	Contacts   []Contact
	Me         *Contact
	ActiveChat string
	Transcript []Message

	Loading           bool
	LoadingTranscript bool
	Connected         bool
	// Stale is set while the chat list comes from the local cache.
	Stale     bool
	LoadError string
}

// Change is the payload of state.changed.
type Change struct {
	Reason string
}

// State is the chat list and active conversation shared by event handlers
// and user actions. Every method runs to completion under one lock and
// announces itself on the bus once the lock is released.
type State struct {
	mu   sync.Mutex
	snap Snapshot
	bus  *bus.Bus

	// cached holds the ids of the transcript entries read from the local
	// cache while the open chat's history is loading.
	cached map[string]struct{}
}

// NewState creates an empty state publishing on b.
func NewState(b *bus.Bus) *State {
	return &State{bus: b}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap
	out.Chats = slices.Clone(s.snap.Chats)
	out.Contacts = slices.Clone(s.snap.Contacts)
	out.Transcript = slices.Clone(s.snap.Transcript)
	if s.snap.Me != nil {
		me := *s.snap.Me
		out.Me = &me
	}
	return out
}

// Chat returns the chat with id.
func (s *State) Chat(id string) (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.chatIndex(id); i >= 0 {
		return s.snap.Chats[i], true
	}
	return Chat{}, false
}

// ActiveChat returns the id of the open chat, or "".
func (s *State) ActiveChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ActiveChat
}

func (s *State) update(reason string, fn func(*Snapshot) bool) bool {
	s.mu.Lock()
	changed := fn(&s.snap)
	s.mu.Unlock()
	if changed {
		s.bus.Emit(bus.KindStateChanged, Change{Reason: reason})
	}
	return changed
}

// chatIndex must be called with s.mu held.
func (s *State) chatIndex(id string) int {
	return slices.IndexFunc(s.snap.Chats, func(c Chat) bool { return c.ID == id })
}

// SetChats replaces the chat list. stale marks a list read from the cache.
func (s *State) SetChats(chats []Chat, stale bool) {
	s.update("chats", func(st *Snapshot) bool {
		st.Chats = slices.Clone(chats)
		st.Stale = stale
		return true
	})
}

// SetContacts replaces the contacts and the signed-in account.
func (s *State) SetContacts(contacts []Contact, me *Contact) {
	s.update("contacts", func(st *Snapshot) bool {
		st.Contacts = slices.Clone(contacts)
		if me != nil {
			cp := *me
			st.Me = &cp
		}
		return true
	})
}

// SetMe replaces the signed-in account.
func (s *State) SetMe(me Contact) {
	s.update("me", func(st *Snapshot) bool {
		st.Me = &me
		return true
	})
}

// SetLoading flags a bulk load in progress.
func (s *State) SetLoading(loading bool) {
	s.update("loading", func(st *Snapshot) bool {
		if st.Loading == loading {
			return false
		}
		st.Loading = loading
		return true
	})
}

// SetLoadError records why the last bulk load failed, or clears it.
func (s *State) SetLoadError(msg string) {
	s.update("load_error", func(st *Snapshot) bool {
		if st.LoadError == msg {
			return false
		}
		st.LoadError = msg
		return true
	})
}

// SetConnected records the phone connection reported by the server and
// returns the previous value.
func (s *State) SetConnected(connected bool) (was bool) {
	s.update("connection", func(st *Snapshot) bool {
		was = st.Connected
		st.Connected = connected
		return was != connected
	})
	return was
}

// BeginSelect opens chat id and marks its transcript loading. cached, oldest
// first, is shown until the fetched history replaces it.
func (s *State) BeginSelect(id string, cached []Message) {
	s.update("select", func(st *Snapshot) bool {
		st.ActiveChat = id
		st.Transcript = dedupe(nil, cached)
		st.LoadingTranscript = true
		s.cached = make(map[string]struct{}, len(cached))
		for _, m := range cached {
			s.cached[m.ID] = struct{}{}
		}
		return true
	})
}

// FinishSelect installs the fetched history of id. Cached entries are
// dropped; messages that arrived while loading are kept after the history.
// markRead zeroes the chat's unread counter. Nothing changes if another chat
// was opened since; the result reports whether the history was installed.
func (s *State) FinishSelect(id string, msgs []Message, markRead bool) bool {
	return s.update("transcript", func(st *Snapshot) bool {
		if st.ActiveChat != id {
			return false
		}
		live := slices.DeleteFunc(slices.Clone(st.Transcript), func(m Message) bool {
			_, ok := s.cached[m.ID]
			return ok
		})
		st.Transcript = dedupe(dedupe(nil, msgs), live)
		st.LoadingTranscript = false
		s.cached = nil
		if markRead {
			if i := s.chatIndex(id); i >= 0 {
				st.Chats[i].UnreadCount = 0
			}
		}
		return true
	})
}

// AbortSelect ends the loading of id without fresh history. Whatever is
// shown, cached entries included, stays.
func (s *State) AbortSelect(id string) {
	s.update("transcript", func(st *Snapshot) bool {
		if st.ActiveChat != id {
			return false
		}
		st.LoadingTranscript = false
		s.cached = nil
		return true
	})
}

// CloseChat clears the active selection.
func (s *State) CloseChat() {
	s.update("close", func(st *Snapshot) bool {
		if st.ActiveChat == "" {
			return false
		}
		st.ActiveChat = ""
		st.Transcript = nil
		st.LoadingTranscript = false
		s.cached = nil
		return true
	})
}

// PrependTranscript adds older messages of id in front of the transcript,
// skipping ids already present. It returns how many were added.
func (s *State) PrependTranscript(id string, older []Message) int {
	added := 0
	s.update("earlier", func(st *Snapshot) bool {
		if st.ActiveChat != id {
			return false
		}
		fresh := dedupe(st.Transcript, older)
		added = len(fresh) - len(st.Transcript)
		if added == 0 {
			return false
		}
		// dedupe appends after existing entries; move the new ones first.
		merged := make([]Message, 0, len(fresh))
		merged = append(merged, fresh[len(st.Transcript):]...)
		merged = append(merged, st.Transcript...)
		st.Transcript = merged
		return true
	})
	return added
}

// Applied reports what ApplyMessage did.
type Applied struct {
	KnownChat bool
	Active    bool
	Duplicate bool
}

// ApplyMessage merges an inbound message. A known chat takes it as its last
// message and moves to the front; its unread counter grows unless the
// message is our own or the chat is open. The open chat's transcript gets it
// appended unless a message with the same id is already there.
func (s *State) ApplyMessage(m Message) Applied {
	var res Applied
	s.update("message", func(st *Snapshot) bool {
		changed := false
		if i := s.chatIndex(m.ChatID); i >= 0 {
			res.KnownChat = true
			chat := st.Chats[i]
			msg := m
			chat.LastMessage = &msg
			if !m.Timestamp.IsZero() {
				chat.Timestamp = m.Timestamp
			}
			if !m.FromMe && st.ActiveChat != m.ChatID {
				chat.UnreadCount++
			}
			st.Chats = slices.Delete(st.Chats, i, i+1)
			st.Chats = slices.Insert(st.Chats, 0, chat)
			changed = true
		}
		if st.ActiveChat == m.ChatID {
			res.Active = true
			if containsID(st.Transcript, m.ID) {
				res.Duplicate = true
			} else {
				st.Transcript = append(st.Transcript, m)
				changed = true
			}
		}
		return changed
	})
	return res
}

// ApplyAck raises the ack level of message id in the transcript and in the
// chat list. It reports whether anything matched.
func (s *State) ApplyAck(id string, ack int) bool {
	return s.update("ack", func(st *Snapshot) bool {
		changed := false
		for i := range st.Transcript {
			if st.Transcript[i].ID == id && st.Transcript[i].Ack < ack {
				st.Transcript[i].Ack = ack
				changed = true
			}
		}
		for i := range st.Chats {
			last := st.Chats[i].LastMessage
			if last != nil && last.ID == id && last.Ack < ack {
				msg := *last
				msg.Ack = ack
				st.Chats[i].LastMessage = &msg
				changed = true
			}
		}
		return changed
	})
}

// ApplyOutbox reflects an outgoing message's progress. Sending shows it
// optimistically, sent swaps the client id for the server's and failed
// flags it.
func (s *State) ApplyOutbox(u outbox.Update) {
	s.update("outbox", func(st *Snapshot) bool {
		switch u.Status {
		case outbox.StatusSending:
			msg := Message{
				ID:        u.ClientMsgID,
				ChatID:    u.ChatID,
				Body:      u.Body,
				Type:      "chat",
				FromMe:    true,
				Timestamp: u.Timestamp,
				QuotedID:  u.QuotedMsgID,
				Pending:   true,
			}
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			changed := false
			if i := s.chatIndex(u.ChatID); i >= 0 {
				chat := st.Chats[i]
				chat.LastMessage = &msg
				chat.Timestamp = msg.Timestamp
				st.Chats = slices.Delete(st.Chats, i, i+1)
				st.Chats = slices.Insert(st.Chats, 0, chat)
				changed = true
			}
			if st.ActiveChat == u.ChatID {
				if i := indexID(st.Transcript, u.ClientMsgID); i >= 0 {
					st.Transcript[i] = msg
				} else {
					st.Transcript = append(st.Transcript, msg)
				}
				changed = true
			}
			return changed

		case outbox.StatusSent:
			changed := false
			if i := indexID(st.Transcript, u.ClientMsgID); i >= 0 {
				if u.ServerMsgID != "" && containsID(st.Transcript, u.ServerMsgID) {
					// The server echo arrived first.
					st.Transcript = slices.Delete(st.Transcript, i, i+1)
				} else {
					st.Transcript[i].Pending = false
					if u.ServerMsgID != "" {
						st.Transcript[i].ID = u.ServerMsgID
					}
				}
				changed = true
			}
			if i := s.chatIndex(u.ChatID); i >= 0 {
				if last := st.Chats[i].LastMessage; last != nil && last.ID == u.ClientMsgID {
					msg := *last
					msg.Pending = false
					if u.ServerMsgID != "" {
						msg.ID = u.ServerMsgID
					}
					st.Chats[i].LastMessage = &msg
					changed = true
				}
			}
			return changed

		case outbox.StatusFailed:
			if i := indexID(st.Transcript, u.ClientMsgID); i >= 0 {
				st.Transcript[i].Pending = false
				st.Transcript[i].Failed = true
				return true
			}
		}
		return false
	})
}

// RemoveMessage drops message id from the transcript of chatID. It reports
// whether the message was shown.
func (s *State) RemoveMessage(chatID, id string) bool {
	return s.update("delete", func(st *Snapshot) bool {
		if st.ActiveChat != chatID {
			return false
		}
		i := indexID(st.Transcript, id)
		if i < 0 {
			return false
		}
		st.Transcript = slices.Delete(st.Transcript, i, i+1)
		return true
	})
}

// Reset forgets everything learned from the server.
func (s *State) Reset() {
	s.update("reset", func(st *Snapshot) bool {
		*st = Snapshot{}
		s.cached = nil
		return true
	})
}

func indexID(msgs []Message, id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(msgs, func(m Message) bool { return m.ID == id })
}

func containsID(msgs []Message, id string) bool {
	return indexID(msgs, id) >= 0
}

// dedupe appends to base the entries of add whose ids are not yet present,
// keeping their order. Messages without an id are always kept.
func dedupe(base, add []Message) []Message {
	seen := make(map[string]struct{}, len(base)+len(add))
	out := slices.Clone(base)
	for _, m := range base {
		if m.ID != "" {
			seen[m.ID] = struct{}{}
		}
	}
	for _, m := range add {
		if m.ID != "" {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		out = append(out, m)
	}
	return out
}
