package sync

import (
	"fmt"
	"strings"

	"github.com/matheus3301/wppc/internal/store"
)

// Search filters chats by query, matching the name or last message text
// without regard to case, or the raw id. Contacts of the user that match by
// name or id and have no chat yet follow as placeholder chats. Neither input
// is modified. An empty query returns chats unchanged.
func Search(chats []Chat, contacts []Contact, query string) []Chat {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return chats
	}

	var out []Chat
	seen := make(map[string]struct{}, len(chats))
	for _, c := range chats {
		seen[c.ID] = struct{}{}
		if chatMatches(c, q) {
			out = append(out, c)
		}
	}
	for _, ct := range contacts {
		if !ct.IsMyContact {
			continue
		}
		if _, ok := seen[ct.ID]; ok {
			continue
		}
		if !strings.Contains(strings.ToLower(ct.DisplayName()), q) && !strings.Contains(ct.ID, q) {
			continue
		}
		seen[ct.ID] = struct{}{}
		out = append(out, Chat{
			ID:          ct.ID,
			Name:        ct.DisplayName(),
			Placeholder: true,
		})
	}
	return out
}

func chatMatches(c Chat, q string) bool {
	if strings.Contains(strings.ToLower(c.Name), q) {
		return true
	}
	if c.LastMessage != nil && strings.Contains(strings.ToLower(c.LastMessage.Body), q) {
		return true
	}
	return strings.Contains(c.ID, q)
}

// Search runs the search overlay against the current state.
func (e *Engine) Search(query string) []Chat {
	snap := e.state.Snapshot()
	return Search(snap.Chats, snap.Contacts, query)
}

// SearchMessages looks query up in the cached messages, optionally within
// one chat.
func (e *Engine) SearchMessages(query, chatID string, limit int) ([]store.SearchResult, error) {
	results, err := e.db.SearchMessages(query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return results, nil
}
