// Package markets maps esports matches onto their binary markets and
// serves market metadata through a cache with a loader fallback.
package markets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/esports-arb/pkg/cache"
	"go.uber.org/zap"
)

// MarketInfo describes one binary market and the match it settles on.
type MarketInfo struct {
	MarketID   string
	MatchID    string
	TeamAID    string
	TeamBID    string
	YesTokenID string
	NoTokenID  string
	Slug       string
}

// Loader fetches market metadata on a cache miss.
type Loader interface {
	LoadMarket(ctx context.Context, marketID string) (*MarketInfo, error)
}

// Config holds registry dependencies.
type Config struct {
	Cache    cache.Cache
	Loader   Loader // optional; misses fail without one
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// Registry indexes markets by market id and match id.
type Registry struct {
	cache    cache.Cache
	loader   Loader
	cacheTTL time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	byMatch  map[string][]string // match_id -> market_ids
	byMarket map[string]*MarketInfo
}

// New creates a registry.
func New(cfg *Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &Registry{
		cache:    cfg.Cache,
		loader:   cfg.Loader,
		cacheTTL: ttl,
		logger:   cfg.Logger,
		byMatch:  make(map[string][]string),
		byMarket: make(map[string]*MarketInfo),
	}, nil
}

// Register adds a market to the indexes and warms the cache.
func (r *Registry) Register(info *MarketInfo) {
	r.mu.Lock()
	if _, exists := r.byMarket[info.MarketID]; !exists {
		r.byMatch[info.MatchID] = append(r.byMatch[info.MatchID], info.MarketID)
	}
	r.byMarket[info.MarketID] = info
	r.mu.Unlock()

	r.cache.Set(cacheKey(info.MarketID), info, r.cacheTTL)

	r.logger.Info("market-registered",
		zap.String("market_id", info.MarketID),
		zap.String("match_id", info.MatchID),
		zap.String("slug", info.Slug))
}

// GetByMarket resolves market metadata: cache, then local index, then the
// loader.
func (r *Registry) GetByMarket(ctx context.Context, marketID string) (*MarketInfo, error) {
	if v, ok := r.cache.Get(cacheKey(marketID)); ok {
		if info, ok := v.(*MarketInfo); ok {
			return info, nil
		}
	}

	r.mu.RLock()
	info, ok := r.byMarket[marketID]
	r.mu.RUnlock()
	if ok {
		r.cache.Set(cacheKey(marketID), info, r.cacheTTL)
		return info, nil
	}

	if r.loader == nil {
		return nil, fmt.Errorf("market %s not registered", marketID)
	}

	loaded, err := r.loader.LoadMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("load market %s: %w", marketID, err)
	}
	r.Register(loaded)
	return loaded, nil
}

// MarketsForMatch returns the market ids settling on a match.
func (r *Registry) MarketsForMatch(matchID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.byMatch[matchID]))
	copy(out, r.byMatch[matchID])
	return out
}

// Markets returns all registered market ids.
func (r *Registry) Markets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byMarket))
	for id := range r.byMarket {
		out = append(out, id)
	}
	return out
}

func cacheKey(marketID string) string {
	return "market:" + marketID
}
