package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zzkt/aqi/internal/client"
	"github.com/zzkt/aqi/internal/models"
	"github.com/zzkt/aqi/internal/observability"
	"github.com/zzkt/aqi/internal/store"
)

// Policy controls how the pipeline uses the store.
//
// With UseCache disabled (the default) every resolve fetches upstream and
// writes the result through, so the store only ever reflects the latest
// outcome. With UseCache enabled a present entry is served as-is, however
// old, and the upstream is consulted only for absent keys.
type Policy struct {
	UseCache      bool
	RefreshPeriod time.Duration
}

// Pipeline resolves place keys to cache entries, orchestrating the store
// and the upstream feed client. It is the single writer to the store:
// every upstream outcome short of a transport failure is recorded, fault
// entries included.
type Pipeline struct {
	client client.FeedClient
	store  store.Store
	policy Policy
	logger *zap.Logger
}

func NewPipeline(client client.FeedClient, store store.Store, policy Policy, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		client: client,
		store:  store,
		policy: policy,
		logger: logger,
	}
}

// CacheEnabled reports whether resolves may be served from the store.
func (p *Pipeline) CacheEnabled() bool {
	return p.policy.UseCache
}

// Store exposes the underlying store for health checks and maintenance.
func (p *Pipeline) Store() store.Store {
	return p.store
}

// loggerFrom extracts the request-scoped logger from ctx, falling back to
// the pipeline's own.
func (p *Pipeline) loggerFrom(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return p.logger
}

// Resolve returns the entry for place after applying the cache policy.
//
// The returned entry and presence flag describe the state visible to the
// caller after the operation. A non-nil error reports a transport failure;
// the store is left untouched in that case and the prior entry, if any,
// accompanies the error so callers can degrade gracefully.
func (p *Pipeline) Resolve(ctx context.Context, place string) (models.Entry, bool, error) {
	key := models.NormalizePlace(place)
	start := time.Now()
	logger := p.loggerFrom(ctx)

	if p.policy.UseCache {
		entry, ok, err := p.store.Get(ctx, key)
		if err != nil {
			// A broken store reads as a miss; the upstream still works.
			observability.StoreErrorsTotal.WithLabelValues("get").Inc()
			logger.Warn("store get failed, treating as miss", zap.String("place", key), zap.Error(err))
		} else if ok {
			observability.CacheHitsTotal.Inc()
			logger.Debug("entry served",
				zap.String("place", key),
				zap.Bool("cached", true),
				zap.Bool("fault", entry.IsFault()),
				zap.Duration("duration", time.Since(start)))
			return entry, true, nil
		} else {
			observability.CacheMissesTotal.Inc()
		}
	}

	entry, err := p.fetchAndStore(ctx, key)
	if err != nil {
		prev, ok, getErr := p.store.Get(ctx, key)
		if getErr != nil {
			observability.StoreErrorsTotal.WithLabelValues("get").Inc()
			return models.Entry{}, false, err
		}
		return prev, ok, err
	}

	logger.Debug("entry served",
		zap.String("place", key),
		zap.Bool("cached", false),
		zap.Bool("fault", entry.IsFault()),
		zap.Duration("duration", time.Since(start)))
	return entry, true, nil
}

// Refresh fetches place upstream and overwrites its store entry,
// regardless of the cache policy. Used by warming and by callers that
// need a fresh observation.
func (p *Pipeline) Refresh(ctx context.Context, place string) (models.Entry, error) {
	return p.fetchAndStore(ctx, models.NormalizePlace(place))
}

// fetchAndStore performs one upstream fetch for key and records the
// outcome. Application-level errors from the feed become stored fault
// entries; only transport failures leave the store untouched.
func (p *Pipeline) fetchAndStore(ctx context.Context, key string) (models.Entry, error) {
	logger := p.loggerFrom(ctx)

	feed, err := p.client.Feed(ctx, key)
	if err != nil {
		observability.FetchesTotal.WithLabelValues("transport_error").Inc()
		logger.Error("feed fetch failed",
			zap.String("place", key),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
		return models.Entry{}, fmt.Errorf("fetch feed for %s: %w", key, err)
	}

	var entry models.Entry
	if feed.OK() {
		observability.FetchesTotal.WithLabelValues("ok").Inc()
		entry = models.ReadingEntry(feed.Reading)
	} else {
		observability.FetchesTotal.WithLabelValues("fault").Inc()
		observability.FaultsCachedTotal.Inc()
		entry = models.FaultEntry("Request error: " + feed.Message)
		logger.Info("feed returned error, caching fault",
			zap.String("place", key),
			zap.String("fault", feed.Message))
	}

	if err := p.store.Put(ctx, key, entry); err != nil {
		// The entry is still good; a write failure only costs reuse.
		observability.StoreErrorsTotal.WithLabelValues("put").Inc()
		logger.Warn("store put failed", zap.String("place", key), zap.Error(err))
	}
	return entry, nil
}
