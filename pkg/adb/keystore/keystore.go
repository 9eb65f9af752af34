// Package keystore stores which RSA public key fingerprints the bridge has
// been authorized to accept, in a sqlite3 database.
package keystore

import (
	"database/sql"
	"errors"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store records enrolled client key fingerprints.
type Store struct {
	x *sqlx.DB
}

// Open opens (creating if necessary) a sqlite3-backed Store at name.
func Open(name string) (*Store, error) {
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	if _, err := x.Exec(`
		CREATE TABLE IF NOT EXISTS keys (
			fingerprint TEXT PRIMARY KEY NOT NULL,
			comment     TEXT NOT NULL DEFAULT '',
			first_seen  INTEGER NOT NULL,
			last_seen   INTEGER NOT NULL
		)
	`); err != nil {
		x.Close()
		return nil, err
	}
	return &Store{x: x}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.x.Close()
}

// Key is one row of the keystore.
type Key struct {
	Fingerprint string `db:"fingerprint"`
	Comment     string `db:"comment"`
	FirstSeen   int64  `db:"first_seen"`
	LastSeen    int64  `db:"last_seen"`
}

// Lookup returns the stored record for fingerprint, or nil if it has never
// been enrolled.
func (s *Store) Lookup(fingerprint string) (*Key, error) {
	var k Key
	if err := s.x.Get(&k, `SELECT * FROM keys WHERE fingerprint = ?`, fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &k, nil
}

// Enrolled reports whether fingerprint has previously been authorized.
func (s *Store) Enrolled(fingerprint string) (bool, error) {
	k, err := s.Lookup(fingerprint)
	return k != nil, err
}

// Enroll records fingerprint as authorized, updating its comment and
// last_seen time if it's already present.
func (s *Store) Enroll(fingerprint, comment string) error {
	now := time.Now().Unix()
	_, err := s.x.NamedExec(`
		INSERT INTO keys (fingerprint, comment, first_seen, last_seen)
		VALUES (:fingerprint, :comment, :now, :now)
		ON CONFLICT(fingerprint) DO UPDATE SET comment = :comment, last_seen = :now
	`, map[string]any{
		"fingerprint": fingerprint,
		"comment":     comment,
		"now":         now,
	})
	return err
}

// Touch updates fingerprint's last_seen time without changing its comment.
// It is a no-op if fingerprint isn't enrolled.
func (s *Store) Touch(fingerprint string) error {
	_, err := s.x.Exec(`UPDATE keys SET last_seen = ? WHERE fingerprint = ?`, time.Now().Unix(), fingerprint)
	return err
}

// List returns every enrolled key.
func (s *Store) List() ([]Key, error) {
	var ks []Key
	if err := s.x.Select(&ks, `SELECT * FROM keys ORDER BY first_seen`); err != nil {
		return nil, err
	}
	return ks, nil
}

// Revoke removes fingerprint from the store.
func (s *Store) Revoke(fingerprint string) error {
	_, err := s.x.Exec(`DELETE FROM keys WHERE fingerprint = ?`, fingerprint)
	return err
}
