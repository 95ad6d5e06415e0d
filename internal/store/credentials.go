package store

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	keySession = "wpp_session"
	keyToken   = "wpp_token"
)

// LoadCredentials returns the stored session name and token. Both are empty
// when nothing is stored or only one half survived.
func (db *DB) LoadCredentials() (session, token string, err error) {
	session, err = db.credential(keySession)
	if err != nil {
		return "", "", err
	}
	token, err = db.credential(keyToken)
	if err != nil {
		return "", "", err
	}
	if session == "" || token == "" {
		return "", "", nil
	}
	return session, token, nil
}

func (db *DB) credential(key string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM credentials WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return v, nil
}

// SaveCredentials stores session and token together.
func (db *DB) SaveCredentials(session, token string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for key, value := range map[string]string{keySession: session, keyToken: token} {
		if _, err := tx.Exec(`
			INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// ClearCredentials removes the stored session and token.
func (db *DB) ClearCredentials() error {
	_, err := db.Exec(`DELETE FROM credentials WHERE key IN (?, ?)`, keySession, keyToken)
	return err
}
