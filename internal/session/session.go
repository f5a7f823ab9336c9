// Package session keeps per-session key/value items, the server-side
// stand-in for a browser's session storage.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"casework/internal/domain"
)

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s Store) now() string {
	if s.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return s.Now().UTC().Format(time.RFC3339)
}

// Get returns the item value and whether it was present.
func (s Store) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM session_items WHERE session_id=? AND item_key=?`, sessionID, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session item %s: %w", key, err)
	}
	return v, true, nil
}

func (s Store) Put(ctx context.Context, sessionID, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO session_items(session_id,item_key,value,updated_at) VALUES (?,?,?,?)
ON CONFLICT(session_id,item_key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		sessionID, key, value, s.now())
	return err
}

func (s Store) Delete(ctx context.Context, sessionID, key string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM session_items WHERE session_id=? AND item_key=?`, sessionID, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session item %s: %w", key, domain.ErrNotFound)
	}
	return nil
}

// Keys lists a session's item keys in lexical order.
func (s Store) Keys(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT item_key FROM session_items WHERE session_id=? ORDER BY item_key ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Clear drops every item of a session.
func (s Store) Clear(ctx context.Context, sessionID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM session_items WHERE session_id=?`, sessionID)
	return err
}

// Scoped binds the store to one session.
func (s Store) Scoped(sessionID string) Scoped {
	return Scoped{store: s, sessionID: sessionID}
}

// Scoped is a single session's view of the store.
type Scoped struct {
	store     Store
	sessionID string
}

func (sc Scoped) Get(ctx context.Context, key string) (string, bool, error) {
	return sc.store.Get(ctx, sc.sessionID, key)
}

func (sc Scoped) Put(ctx context.Context, key, value string) error {
	return sc.store.Put(ctx, sc.sessionID, key, value)
}
