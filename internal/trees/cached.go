package trees

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"codemap/internal/codemapping"
	cmerrors "codemap/internal/errors"
	"codemap/internal/slogutil"
	"codemap/internal/storage"
)

var tracer = otel.Tracer("codemap/trees")

// FetchLockKey is the derivation_locks key guarding tree fetches for org.
func FetchLockKey(org string) string {
	return "trees:" + org
}

// CachedProvider serves trees from the sqlite tree cache and refreshes them
// from an inner provider. Concurrent refreshes for one organization are
// collapsed in process by singleflight and across processes by a lock.
type CachedProvider struct {
	inner   Provider
	cache   *storage.TreeCache
	locks   *storage.LockRepository
	ttl     time.Duration
	lockTTL time.Duration
	holder  string
	sf      singleflight.Group
	now     func() time.Time
	logger  *slog.Logger
}

// CacheOptions configures a CachedProvider.
type CacheOptions struct {
	TTL     time.Duration
	LockTTL time.Duration
	Logger  *slog.Logger
}

// NewCachedProvider wraps inner with the tree cache.
func NewCachedProvider(inner Provider, cache *storage.TreeCache, locks *storage.LockRepository, opts CacheOptions) *CachedProvider {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slogutil.NewDiscardLogger()
	}
	return &CachedProvider{
		inner:   inner,
		cache:   cache,
		locks:   locks,
		ttl:     opts.TTL,
		lockTTL: opts.LockTTL,
		holder:  uuid.New().String(),
		now:     time.Now,
		logger:  opts.Logger,
	}
}

// Trees implements Provider.
func (p *CachedProvider) Trees(ctx context.Context, org string) (map[string]codemapping.RepoTree, error) {
	ctx, span := tracer.Start(ctx, "trees.fetch", trace.WithAttributes(attribute.String("organization", org)))
	defer span.End()

	entry, found, err := p.cache.Get(org)
	if err != nil {
		p.logger.Warn("Tree cache lookup failed", "organization", org, "error", err.Error())
		entry, found = nil, false
	}
	if found && !entry.Expired(p.now()) {
		span.SetAttributes(attribute.String("cache", "hit"))
		return entry.Trees, nil
	}

	// The refresh is shared, so it must outlive any one caller's ctx.
	ch := p.sf.DoChan(org, func() (interface{}, error) {
		return p.refresh(context.WithoutCancel(ctx), org, entry)
	})
	select {
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return nil, ctx.Err()
	case res := <-ch:
		span.SetAttributes(attribute.String("cache", "miss"), attribute.Bool("shared", res.Shared))
		if res.Err != nil {
			span.RecordError(res.Err)
			return nil, res.Err
		}
		return res.Val.(map[string]codemapping.RepoTree), nil
	}
}

// refresh fetches from the inner provider under the org lock. stale may be
// nil; when set it is served if the lock is taken or the fetch fails.
func (p *CachedProvider) refresh(ctx context.Context, org string, stale *storage.CachedTrees) (map[string]codemapping.RepoTree, error) {
	key := FetchLockKey(org)
	acquired, err := p.locks.TryAcquire(key, p.holder, p.lockTTL)
	if err != nil {
		return nil, cmerrors.Wrap(cmerrors.StorageError, "failed to take tree fetch lock", err)
	}
	if !acquired {
		if stale != nil {
			p.logger.Info("Tree fetch in progress elsewhere, serving stale trees",
				"organization", org,
				"fetched_at", stale.FetchedAt.Format(time.RFC3339),
			)
			return stale.Trees, nil
		}
		return nil, cmerrors.New(cmerrors.TreesLocked, "trees for "+org+" are being fetched by another process")
	}
	defer func() {
		if err := p.locks.Release(key, p.holder); err != nil {
			p.logger.Warn("Failed to release tree fetch lock", "organization", org, "error", err.Error())
		}
	}()

	trees, err := p.inner.Trees(ctx, org)
	if err != nil {
		if stale != nil {
			p.logger.Warn("Tree fetch failed, serving stale trees", "organization", org, "error", err.Error())
			return stale.Trees, nil
		}
		if _, ok := cmerrors.CodeOf(err); ok {
			return nil, err
		}
		return nil, cmerrors.Wrap(cmerrors.TreesUnavailable, "failed to fetch trees for "+org, err)
	}

	if err := p.cache.Put(org, trees, p.ttl); err != nil {
		p.logger.Warn("Failed to cache trees", "organization", org, "error", err.Error())
	}
	return trees, nil
}
