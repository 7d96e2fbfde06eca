package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetUser retrieves a user by username.
func (d *DB) GetUser(username string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u := &User{}
	var expires sql.NullInt64
	err := d.db.QueryRow(
		`SELECT username, pwd_hash, salt, created_ts, expires_ts
		 FROM users WHERE username = ?`, username,
	).Scan(&u.Username, &u.PwdHash, &u.Salt, &u.CreatedTS, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if expires.Valid {
		u.ExpiresTS = &expires.Int64
	}
	return u, nil
}

// UpsertUser inserts u or, for an existing username, replaces the hash, salt
// and expiry while keeping the original created_ts.
func (d *DB) UpsertUser(u *User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(
		`INSERT INTO users (username, pwd_hash, salt, created_ts, expires_ts)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET
		   pwd_hash = excluded.pwd_hash,
		   salt = excluded.salt,
		   expires_ts = excluded.expires_ts`,
		u.Username, u.PwdHash, u.Salt, u.CreatedTS, nullInt64(u.ExpiresTS),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// SetUserExpiry sets or clears (nil) the password expiry of username.
func (d *DB) SetUserExpiry(username string, expiresTS *int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.Exec(
		`UPDATE users SET expires_ts = ? WHERE username = ?`,
		nullInt64(expiresTS), username,
	)
	if err != nil {
		return fmt.Errorf("set user expiry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user expiry rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set user expiry: %w", ErrNotFound)
	}
	return nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
