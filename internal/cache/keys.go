package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const (
	trendingVersionKey = "trending:version"
	trendingKeyFormat  = "trending:v%d:%s:%s:%s:%d"
)

// TrendingVersion returns the current generation of ranked reads. Zero when Redis is
// unavailable or the key was never bumped.
func TrendingVersion(ctx context.Context) int64 {
	if client == nil {
		return 0
	}
	v, err := client.Get(ctx, trendingVersionKey).Result()
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// BumpTrendingVersion orphans every cached ranked read. Stale generations expire by TTL.
func BumpTrendingVersion(ctx context.Context) {
	if client != nil {
		client.Incr(ctx, trendingVersionKey)
	}
}

// TrendingKey names one cached ranked read in the current generation.
func TrendingKey(ctx context.Context, kind, category, timeframe string, limit int) string {
	return fmt.Sprintf(trendingKeyFormat, TrendingVersion(ctx), kind,
		strings.ToLower(category), timeframe, limit)
}
