package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"codemap/internal/codemapping"
)

// Bump when treePayload changes shape; older rows are treated as misses.
const treeCacheSchemaVersion uint16 = 1

// treePayload is the msgpack document stored, zstd-compressed, per organization.
type treePayload struct {
	Schema uint16
	Trees  map[string]codemapping.RepoTree
}

// CachedTrees is one organization's cached repository trees
type CachedTrees struct {
	Organization string
	Trees        map[string]codemapping.RepoTree
	FetchedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the entry is past its TTL at now
func (c *CachedTrees) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Shared codec state; only EncodeAll and DecodeAll are called on these.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// TreeCache stores repository trees keyed by organization
type TreeCache struct {
	db  *DB
	now func() time.Time
}

// NewTreeCache creates a new tree cache
func NewTreeCache(db *DB) *TreeCache {
	return &TreeCache{db: db, now: time.Now}
}

// Get returns the cached trees for org, expired or not. Callers decide
// whether a stale entry is usable.
func (c *TreeCache) Get(org string) (*CachedTrees, bool, error) {
	var blob []byte
	var fetchedAt, expiresAt string

	err := c.db.QueryRow(`
		SELECT payload, fetched_at, expires_at
		FROM tree_cache
		WHERE organization = ?
	`, org).Scan(&blob, &fetchedAt, &expiresAt)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("tree cache lookup failed: %w", err)
	}

	payload, err := decodeTrees(blob)
	if err != nil {
		c.db.logger.Warn("Discarding unreadable tree cache entry", "organization", org, "error", err.Error())
		return nil, false, nil
	}
	if payload.Schema != treeCacheSchemaVersion {
		return nil, false, nil
	}

	entry := &CachedTrees{Organization: org, Trees: payload.Trees}
	if entry.FetchedAt, err = time.Parse(time.RFC3339, fetchedAt); err != nil {
		return nil, false, fmt.Errorf("invalid fetched_at format: %w", err)
	}
	if entry.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return nil, false, fmt.Errorf("invalid expires_at format: %w", err)
	}
	return entry, true, nil
}

// Put stores trees for org with the given TTL
func (c *TreeCache) Put(org string, trees map[string]codemapping.RepoTree, ttl time.Duration) error {
	blob, err := encodeTrees(trees)
	if err != nil {
		return err
	}

	now := c.now().UTC()
	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO tree_cache (organization, payload, repo_count, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, org, blob, len(trees), now.Format(time.RFC3339), now.Add(ttl).Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to set tree cache: %w", err)
	}

	c.db.logger.Debug("Cached repository trees",
		"organization", org,
		"repos", len(trees),
		"bytes", len(blob),
	)
	return nil
}

// Invalidate drops the cached trees for org
func (c *TreeCache) Invalidate(org string) error {
	if _, err := c.db.Exec("DELETE FROM tree_cache WHERE organization = ?", org); err != nil {
		return fmt.Errorf("failed to invalidate tree cache: %w", err)
	}
	return nil
}

func encodeTrees(trees map[string]codemapping.RepoTree) ([]byte, error) {
	raw, err := msgpack.Marshal(&treePayload{Schema: treeCacheSchemaVersion, Trees: trees})
	if err != nil {
		return nil, fmt.Errorf("failed to encode trees: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

func decodeTrees(blob []byte) (*treePayload, error) {
	raw, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress trees: %w", err)
	}
	var payload treePayload
	if err := msgpack.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode trees: %w", err)
	}
	return &payload, nil
}
