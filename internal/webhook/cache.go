package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cache fronts a ConfigSource with a short-lived per-project cache so the
// gateway does not hit the store once per event. A miss always repopulates
// from the authoritative source; staleness is bounded by the TTL.
type Cache struct {
	source ConfigSource
	items  *ttlcache.Cache[int64, *ProjectConfig]
}

// NewCache wraps source with a TTL cache. Call Stop when done.
func NewCache(source ConfigSource, ttl time.Duration) *Cache {
	items := ttlcache.New[int64, *ProjectConfig](
		ttlcache.WithTTL[int64, *ProjectConfig](ttl),
		ttlcache.WithDisableTouchOnHit[int64, *ProjectConfig](),
	)
	go items.Start()

	return &Cache{source: source, items: items}
}

// Stop halts the cache's expiry janitor.
func (c *Cache) Stop() {
	c.items.Stop()
}

// ProjectConfig returns the cached configuration for a project, loading it
// from the source on a miss.
func (c *Cache) ProjectConfig(ctx context.Context, projectID int64) (*ProjectConfig, error) {
	if item := c.items.Get(projectID); item != nil {
		return item.Value(), nil
	}

	cfg, err := c.source.ProjectConfig(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project %d config: %w", projectID, err)
	}

	c.items.Set(projectID, cfg, ttlcache.DefaultTTL)
	return cfg, nil
}
