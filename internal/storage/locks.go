package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// LockRepository manages expiring keys in derivation_locks. It backs both
// the cross-process tree fetch lock and the derivation rate limits, which
// are locks that are never released.
type LockRepository struct {
	db  *DB
	now func() time.Time
}

// NewLockRepository creates a new lock repository
func NewLockRepository(db *DB) *LockRepository {
	return &LockRepository{db: db, now: time.Now}
}

// TryAcquire takes key for holder until ttl elapses. It succeeds when the
// key is absent or its previous holder's lease has expired.
func (r *LockRepository) TryAcquire(key, holder string, ttl time.Duration) (bool, error) {
	now := r.now()
	res, err := r.db.Exec(`
		INSERT INTO derivation_locks (key, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE derivation_locks.expires_at <= ?
	`, key, holder, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Lease is one key to take for TTL.
type Lease struct {
	Key string
	TTL time.Duration
}

// TryAcquireAll takes every lease for holder, or none of them when any key
// is still held.
func (r *LockRepository) TryAcquireAll(holder string, leases []Lease) (bool, error) {
	now := r.now()
	acquired := false
	err := r.db.WithTx(func(tx *sql.Tx) error {
		for _, l := range leases {
			var expiresAt int64
			err := tx.QueryRow("SELECT expires_at FROM derivation_locks WHERE key = ?", l.Key).Scan(&expiresAt)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to read lock %s: %w", l.Key, err)
			}
			if expiresAt > now.UnixMilli() {
				return nil
			}
		}
		for _, l := range leases {
			if _, err := tx.Exec(`
				INSERT INTO derivation_locks (key, holder, expires_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
			`, l.Key, holder, now.Add(l.TTL).UnixMilli()); err != nil {
				return fmt.Errorf("failed to acquire lock %s: %w", l.Key, err)
			}
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// Release drops key if holder still owns it
func (r *LockRepository) Release(key, holder string) error {
	if _, err := r.db.Exec("DELETE FROM derivation_locks WHERE key = ? AND holder = ?", key, holder); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// Holder returns the current holder of key, if its lease is still live
func (r *LockRepository) Holder(key string) (string, bool, error) {
	var holder string
	var expiresAt int64
	err := r.db.QueryRow("SELECT holder, expires_at FROM derivation_locks WHERE key = ?", key).Scan(&holder, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read lock %s: %w", key, err)
	}
	if expiresAt <= r.now().UnixMilli() {
		return "", false, nil
	}
	return holder, true, nil
}

// CleanupExpired removes expired leases
func (r *LockRepository) CleanupExpired() (int64, error) {
	res, err := r.db.Exec("DELETE FROM derivation_locks WHERE expires_at <= ?", r.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up locks: %w", err)
	}
	return res.RowsAffected()
}
