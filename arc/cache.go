package arc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcseal/arcengine/domainkey"
)

// CachedResolver wraps a domainkey.TXTResolver with a Redis-backed TTL
// cache keyed on the exact query name the resolver looks up
// ("selector._domainkey.domain"), so a busy relay doesn't re-resolve the
// same domain key on every instance of a chain it re-verifies. Grounded
// on the teacher pack's reputation service (artpromedia-email), which
// caches JSON-marshaled records in Redis behind a fixed TTL the same way.
type CachedResolver struct {
	client   *redis.Client
	upstream domainkey.TXTResolver
	ttl      time.Duration
}

// NewCachedResolver wraps upstream (domainkey.NewDefaultTXTResolver() if
// nil) with a Redis cache. A zero ttl defaults to 5 minutes.
func NewCachedResolver(client *redis.Client, upstream domainkey.TXTResolver, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if upstream == nil {
		upstream = domainkey.NewDefaultTXTResolver()
	}
	return &CachedResolver{client: client, upstream: upstream, ttl: ttl}
}

// LookupTXT satisfies domainkey.TXTResolver.
func (c *CachedResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	cacheKey := "arc:domainkey:" + name

	if cached, err := c.client.Get(ctx, cacheKey).Result(); err == nil {
		var records []string
		if jsonErr := json.Unmarshal([]byte(cached), &records); jsonErr == nil {
			return records, nil
		}
	}

	records, err := c.upstream.LookupTXT(ctx, name)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(records); err == nil {
		// Best-effort: a cache write failure shouldn't fail the lookup
		// that already succeeded against the upstream resolver.
		c.client.Set(ctx, cacheKey, encoded, c.ttl)
	}

	return records, nil
}
