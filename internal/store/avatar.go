package store

import (
	"database/sql"
	"time"
)

// Avatar returns the cached picture URL of contactID and when it was
// fetched. ok is false when nothing is cached.
func (db *DB) Avatar(contactID string) (url string, fetchedAt time.Time, ok bool, err error) {
	var ms int64
	err = db.QueryRow(`SELECT url, fetched_at FROM avatars WHERE contact_id = ?`, contactID).Scan(&url, &ms)
	if err == sql.ErrNoRows {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, err
	}
	return url, time.UnixMilli(ms), true, nil
}

// PutAvatar caches url as contactID's picture, fetched at.
func (db *DB) PutAvatar(contactID, url string, at time.Time) error {
	_, err := db.Exec(`
		INSERT INTO avatars (contact_id, url, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET url = excluded.url, fetched_at = excluded.fetched_at`,
		contactID, url, at.UnixMilli())
	return err
}

// PruneAvatars removes entries fetched before cutoff.
func (db *DB) PruneAvatars(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM avatars WHERE fetched_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
