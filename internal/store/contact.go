package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ReplaceContacts swaps the cached contacts for contacts in one transaction.
func (db *DB) ReplaceContacts(contacts []Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM contacts`); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, name, push_name, short_name, formatted_name, is_me, is_my_contact, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			c.ID, c.Name, c.PushName, c.ShortName, c.FormattedName, c.IsMe, c.IsMyContact, now); err != nil {
			return fmt.Errorf("insert contact %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListContacts returns every cached contact ordered by id.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`
		SELECT id, name, push_name, short_name, formatted_name, is_me, is_my_contact
		FROM contacts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.PushName, &c.ShortName, &c.FormattedName, &c.IsMe, &c.IsMyContact); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// GetContact returns a contact by id, or nil if it is not cached.
func (db *DB) GetContact(id string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT id, name, push_name, short_name, formatted_name, is_me, is_my_contact
		FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.PushName, &c.ShortName, &c.FormattedName, &c.IsMe, &c.IsMyContact)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
