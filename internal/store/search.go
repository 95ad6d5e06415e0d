package store

import (
	"strings"
	"unicode/utf8"
)

const snippetRadius = 32

// SearchMessages finds cached messages whose body contains query, ignoring
// case. chatID narrows the search to one chat when non-empty.
func (db *DB) SearchMessages(query string, chatID string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT id, chat_id, msg_id, sender_id, sender_name, body,
		       message_type, from_me, ack, quoted_msg_id, timestamp
		FROM messages
		WHERE body LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if chatID != "" {
		q += " AND chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ChatID, &r.Message.MsgID,
			&r.Message.SenderID, &r.Message.SenderName, &r.Message.Body,
			&r.Message.MessageType, &r.Message.FromMe, &r.Message.Ack,
			&r.Message.QuotedMsgID, &r.Message.Timestamp,
		); err != nil {
			return nil, err
		}
		r.Snippet = snippet(r.Message.Body, query)
		results = append(results, r)
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet marks the first match of query in body with << >> and trims the
// text around it.
func snippet(body, query string) string {
	idx := strings.Index(strings.ToLower(body), strings.ToLower(query))
	if idx < 0 || len(strings.ToLower(body)) != len(body) {
		return body
	}
	start, end := idx, idx+len(query)
	from := start
	for n := 0; from > 0 && n < snippetRadius; n++ {
		_, size := utf8.DecodeLastRuneInString(body[:from])
		from -= size
	}
	to := end
	for n := 0; to < len(body) && n < snippetRadius; n++ {
		_, size := utf8.DecodeRuneInString(body[to:])
		to += size
	}
	var sb strings.Builder
	if from > 0 {
		sb.WriteString("...")
	}
	sb.WriteString(body[from:start])
	sb.WriteString("<<")
	sb.WriteString(body[start:end])
	sb.WriteString(">>")
	sb.WriteString(body[end:to])
	if to < len(body) {
		sb.WriteString("...")
	}
	return sb.String()
}
