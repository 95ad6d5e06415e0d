// Package jid turns the many identifier shapes the automation server emits
// into one canonical chat identifier and decides whether it can be addressed.
package jid

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// Address markers used by the automation server. They differ from the
// servers the native protocol uses (s.whatsapp.net) and are the only two the
// server accepts on its REST endpoints.
const (
	IndividualServer = types.LegacyUserServer // c.us
	GroupServer      = types.GroupServer      // g.us
)

const (
	minDigits = 10
	maxDigits = 15
)

// ErrInvalid is returned when a raw value cannot be turned into an
// addressable chat identifier.
var ErrInvalid = errors.New("invalid chat identifier")

var (
	addressPattern = regexp.MustCompile(`^[\d-]+@[cg]\.us$`)
	localPattern   = regexp.MustCompile(`^\d+(-\d+)*$`)
)

// Wire is the structured identifier the server attaches to contacts and
// sometimes to messages and chats.
type Wire struct {
	Server     string `json:"server"`
	User       string `json:"user"`
	Serialized string `json:"_serialized"`
}

func (w Wire) String() string {
	if w.Serialized != "" {
		return w.Serialized
	}
	if w.User != "" && w.Server != "" {
		return w.User + "@" + w.Server
	}
	return w.User
}

// Normalize converts raw into a canonical identifier carrying exactly one
// address marker. raw may be a string, a Wire, a map decoded from JSON or the
// raw JSON itself. isGroup decides which marker is appended when raw has none.
// Normalizing an already normalized identifier returns it unchanged.
func Normalize(raw any, isGroup bool) (string, error) {
	id := strings.TrimSpace(canonical(raw))
	if id == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalid)
	}
	if !strings.Contains(id, "@") {
		server := IndividualServer
		if isGroup {
			server = GroupServer
		}
		id = id + "@" + server
	}
	if !IsValid(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, id)
	}
	return id, nil
}

// IsValid reports whether id can be addressed. Individual addresses need a
// local part of 10 to 15 digits. Group addresses are dash-joined digit runs
// whose leading run has the same bounds. Bare identifiers follow the same
// local-part rules.
func IsValid(id string) bool {
	if id == "" {
		return false
	}
	local := id
	group := false
	if strings.Contains(id, "@") {
		if !addressPattern.MatchString(id) {
			return false
		}
		local = Clean(id)
		group = IsGroup(id)
		if !group && strings.Contains(local, "-") {
			return false
		}
	}
	if !localPattern.MatchString(local) {
		return false
	}
	lead, _, _ := strings.Cut(local, "-")
	return len(lead) >= minDigits && len(lead) <= maxDigits
}

// Clean strips the address marker, leaving the local part the server
// expects in message and media paths.
func Clean(id string) string {
	if !strings.Contains(id, "@") {
		return id
	}
	// ParseJID also drops device suffixes ("user:3@lid").
	if parsed, err := types.ParseJID(id); err == nil && parsed.User != "" {
		return parsed.User
	}
	user, _, _ := strings.Cut(id, "@")
	return user
}

// IsGroup reports whether id addresses a group.
func IsGroup(id string) bool {
	return strings.HasSuffix(id, "@"+GroupServer)
}

// IsAlternate reports whether id uses the privacy-preserving alternate
// identifier scheme. Such ids are never stored as contacts.
func IsAlternate(id string) bool {
	_, server, ok := strings.Cut(id, "@")
	return ok && (server == types.HiddenUserServer || server == types.HostedLIDServer)
}

// Digits returns only the decimal digits of id's local part. Avatar lookups
// and phone-number displays use it.
func Digits(id string) string {
	var sb strings.Builder
	for _, r := range Clean(id) {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func canonical(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case Wire:
		return v.String()
	case *Wire:
		if v == nil {
			return ""
		}
		return v.String()
	case map[string]any:
		if s, ok := v["_serialized"].(string); ok {
			return s
		}
		user, _ := v["user"].(string)
		server, _ := v["server"].(string)
		return Wire{User: user, Server: server}.String()
	case json.RawMessage:
		return fromJSON(v)
	case []byte:
		return fromJSON(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func fromJSON(data []byte) string {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 || string(data) == "null" {
		return ""
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ""
		}
		return s
	case '{':
		var w Wire
		if err := json.Unmarshal(data, &w); err != nil {
			return ""
		}
		return w.String()
	default:
		return string(data)
	}
}
