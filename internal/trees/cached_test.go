package trees

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codemap/internal/codemapping"
	cmerrors "codemap/internal/errors"
	"codemap/internal/storage"
)

type countingProvider struct {
	calls atomic.Int32
	trees map[string]codemapping.RepoTree
	err   error
}

func (c *countingProvider) Trees(_ context.Context, _ string) (map[string]codemapping.RepoTree, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.trees, nil
}

func testTrees(files ...string) map[string]codemapping.RepoTree {
	return map[string]codemapping.RepoTree{
		"acme/web": {Repo: codemapping.RepoAndBranch{Name: "acme/web", Branch: "main"}, Files: files},
	}
}

func openStores(t *testing.T) (*storage.TreeCache, *storage.LockRepository) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "codemap.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewTreeCache(db), storage.NewLockRepository(db)
}

func TestCachedProvider_CachesAcrossCalls(t *testing.T) {
	cache, locks := openStores(t)
	inner := &countingProvider{trees: testTrees("src/app.py")}
	p := NewCachedProvider(inner, cache, locks, CacheOptions{TTL: time.Hour})

	for i := 0; i < 3; i++ {
		trees, err := p.Trees(context.Background(), "acme")
		require.NoError(t, err)
		assert.Equal(t, testTrees("src/app.py"), trees)
	}
	assert.EqualValues(t, 1, inner.calls.Load())

	// The fetch lock is released after a refresh.
	_, held, err := locks.Holder(FetchLockKey("acme"))
	require.NoError(t, err)
	assert.False(t, held)
}

func TestCachedProvider_RefreshesExpiredEntries(t *testing.T) {
	cache, locks := openStores(t)
	require.NoError(t, cache.Put("acme", testTrees("old.py"), -time.Minute))

	inner := &countingProvider{trees: testTrees("new.py")}
	p := NewCachedProvider(inner, cache, locks, CacheOptions{})

	trees, err := p.Trees(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, testTrees("new.py"), trees)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCachedProvider_LockedWithoutStaleCopy(t *testing.T) {
	cache, locks := openStores(t)
	ok, err := locks.TryAcquire(FetchLockKey("acme"), "other-process", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	inner := &countingProvider{trees: testTrees("src/app.py")}
	p := NewCachedProvider(inner, cache, locks, CacheOptions{})

	_, err = p.Trees(context.Background(), "acme")
	require.Error(t, err)
	assert.True(t, cmerrors.HasCode(err, cmerrors.TreesLocked))
	assert.Zero(t, inner.calls.Load())
}

func TestCachedProvider_LockedServesStaleCopy(t *testing.T) {
	cache, locks := openStores(t)
	require.NoError(t, cache.Put("acme", testTrees("stale.py"), -time.Minute))
	ok, err := locks.TryAcquire(FetchLockKey("acme"), "other-process", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	inner := &countingProvider{trees: testTrees("fresh.py")}
	p := NewCachedProvider(inner, cache, locks, CacheOptions{})

	trees, err := p.Trees(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, testTrees("stale.py"), trees)
	assert.Zero(t, inner.calls.Load())
}

func TestCachedProvider_FetchFailure(t *testing.T) {
	t.Run("no stale copy", func(t *testing.T) {
		cache, locks := openStores(t)
		p := NewCachedProvider(&countingProvider{err: errors.New("network down")}, cache, locks, CacheOptions{})

		_, err := p.Trees(context.Background(), "acme")
		require.Error(t, err)
		assert.True(t, cmerrors.HasCode(err, cmerrors.TreesUnavailable))
	})

	t.Run("stale copy", func(t *testing.T) {
		cache, locks := openStores(t)
		require.NoError(t, cache.Put("acme", testTrees("stale.py"), -time.Minute))
		p := NewCachedProvider(&countingProvider{err: errors.New("network down")}, cache, locks, CacheOptions{})

		trees, err := p.Trees(context.Background(), "acme")
		require.NoError(t, err)
		assert.Equal(t, testTrees("stale.py"), trees)
	})
}

type blockingProvider struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	ctxErr  atomic.Value
}

func (b *blockingProvider) Trees(ctx context.Context, _ string) (map[string]codemapping.RepoTree, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	<-b.release
	if err := ctx.Err(); err != nil {
		b.ctxErr.Store(err)
	}
	return testTrees("src/app.py"), nil
}

func TestCachedProvider_CallerCancelDoesNotAbortSharedFetch(t *testing.T) {
	cache, locks := openStores(t)
	inner := &blockingProvider{started: make(chan struct{}), release: make(chan struct{})}
	p := NewCachedProvider(inner, cache, locks, CacheOptions{TTL: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := p.Trees(ctx, "acme")
		first <- err
	}()
	<-inner.started

	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled caller did not return")
	}

	type result struct {
		trees map[string]codemapping.RepoTree
		err   error
	}
	second := make(chan result, 1)
	go func() {
		trees, err := p.Trees(context.Background(), "acme")
		second <- result{trees, err}
	}()
	close(inner.release)

	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, testTrees("src/app.py"), res.trees)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Nil(t, inner.ctxErr.Load(), "the shared fetch saw the first caller's cancellation")
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestStaticProvider(t *testing.T) {
	trees, err := StaticProvider(testTrees("a.py")).Trees(context.Background(), "any")
	require.NoError(t, err)
	assert.Equal(t, testTrees("a.py"), trees)
}
