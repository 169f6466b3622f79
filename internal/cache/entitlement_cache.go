package cache

import (
	"strings"
	"time"

	grantdomain "github.com/smallbiznis/entitle/internal/grant/domain"
	"github.com/smallbiznis/entitle/internal/principal"
	"go.uber.org/fx"
)

// Grants change rarely (provisioning events); usage changes on every
// recorded consumption, so its entries expire much faster.
const (
	defaultLimitTTL = 5 * time.Minute
	defaultUsageTTL = 60 * time.Second
)

// EntitlementCache memoizes resolved limits and usage sums per
// (principal, pool feature code).
//
// Invalidation is an explicit per-key forget, never a cache-wide flush:
// every grant writer must call InvalidateLimit and every usage writer must
// call InvalidateUsage for each affected key before returning.
type EntitlementCache interface {
	GetLimit(p principal.Ref, poolCode string) (grantdomain.Limit, bool)
	SetLimit(p principal.Ref, poolCode string, limit grantdomain.Limit)
	GetUsage(p principal.Ref, poolCode string) (int64, bool)
	SetUsage(p principal.Ref, poolCode string, used int64)

	Invalidator
}

// Invalidator is the write-side obligation carried by grant and usage
// mutation paths.
type Invalidator interface {
	InvalidateLimit(p principal.Ref, poolCode string)
	InvalidateUsage(p principal.Ref, poolCode string)
}

type entitlementCache struct {
	limits   Cache[string, grantdomain.Limit]
	usage    Cache[string, int64]
	limitTTL time.Duration
	usageTTL time.Duration
}

// NewEntitlementCache returns an in-memory cache tuned for the resolution
// hot path.
func NewEntitlementCache() EntitlementCache {
	return &entitlementCache{
		limits:   NewTTLCache[string, grantdomain.Limit](),
		usage:    NewTTLCache[string, int64](),
		limitTTL: defaultLimitTTL,
		usageTTL: defaultUsageTTL,
	}
}

func (c *entitlementCache) GetLimit(p principal.Ref, poolCode string) (grantdomain.Limit, bool) {
	return c.limits.Get(cacheKey(p, poolCode))
}

func (c *entitlementCache) SetLimit(p principal.Ref, poolCode string, limit grantdomain.Limit) {
	c.limits.Set(cacheKey(p, poolCode), limit, c.limitTTL)
}

func (c *entitlementCache) GetUsage(p principal.Ref, poolCode string) (int64, bool) {
	return c.usage.Get(cacheKey(p, poolCode))
}

func (c *entitlementCache) SetUsage(p principal.Ref, poolCode string, used int64) {
	c.usage.Set(cacheKey(p, poolCode), used, c.usageTTL)
}

func (c *entitlementCache) InvalidateLimit(p principal.Ref, poolCode string) {
	c.limits.Delete(cacheKey(p, poolCode))
}

func (c *entitlementCache) InvalidateUsage(p principal.Ref, poolCode string) {
	c.usage.Delete(cacheKey(p, poolCode))
}

func cacheKey(p principal.Ref, poolCode string) string {
	return p.Key() + "|" + strings.ToLower(strings.TrimSpace(poolCode))
}

var Module = fx.Module("cache",
	fx.Provide(
		NewEntitlementCache,
		func(c EntitlementCache) Invalidator { return c },
	),
)
