package store

import (
	"fmt"
	"time"
)

const upsertMessage = `
	INSERT INTO messages (chat_id, msg_id, sender_id, sender_name, body, message_type, from_me, ack, quoted_msg_id, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_id, msg_id) DO UPDATE SET
		sender_name = excluded.sender_name,
		body = excluded.body,
		ack = MAX(messages.ack, excluded.ack)`

// UpsertMessage inserts or updates a message (idempotent on chat_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessage,
		m.ChatID, m.MsgID, m.SenderID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Ack, m.QuotedMsgID, m.Timestamp, time.Now().UnixMilli())
	return err
}

// UpsertMessages stores msgs in one transaction.
func (db *DB) UpsertMessages(msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(upsertMessage,
			m.ChatID, m.MsgID, m.SenderID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Ack, m.QuotedMsgID, m.Timestamp, now); err != nil {
			return fmt.Errorf("upsert message %q: %w", m.MsgID, err)
		}
	}
	return tx.Commit()
}

// UpdateMessageAck raises the delivery status of msgID. Lower values never
// overwrite higher ones.
func (db *DB) UpdateMessageAck(msgID string, ack int) error {
	_, err := db.Exec(`UPDATE messages SET ack = MAX(ack, ?) WHERE msg_id = ?`, ack, msgID)
	return err
}

// ListMessages returns up to limit messages of chatID older than beforeTs
// (unix seconds), newest first. beforeTs <= 0 means no upper bound.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().Unix() + 1
	}
	rows, err := db.Query(`
		SELECT id, chat_id, msg_id, sender_id, sender_name, body, message_type, from_me, ack, quoted_msg_id, timestamp
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.MsgID, &m.SenderID, &m.SenderName, &m.Body, &m.MessageType, &m.FromMe, &m.Ack, &m.QuotedMsgID, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// DeleteMessage drops a cached message.
func (db *DB) DeleteMessage(chatID, msgID string) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE chat_id = ? AND msg_id = ?`, chatID, msgID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// RenameMessage replaces the id of a cached message, used once the server
// assigns an id to a message first stored under a client id.
func (db *DB) RenameMessage(chatID, oldID, newID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	// The server may already have echoed the message under its own id.
	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ? AND msg_id = ?`, chatID, newID); err != nil {
		return fmt.Errorf("drop echo: %w", err)
	}
	if _, err := tx.Exec(`UPDATE messages SET msg_id = ? WHERE chat_id = ? AND msg_id = ?`, newID, chatID, oldID); err != nil {
		return fmt.Errorf("rename message: %w", err)
	}
	return tx.Commit()
}
