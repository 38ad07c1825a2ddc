package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
	"github.com/AlexisRellon/JunkHop-development-sub000/pkg/logger"
)

// CachedBidRepository decorates a BidRepository with a short-TTL redis read
// cache for bid detail lookups. Every mutation drops the cached entry, and a
// lost optimistic write drops it too so the retry re-reads committed state
// instead of the stale copy. Cache trouble degrades to the database.
type CachedBidRepository struct {
	inner  domain.BidRepository
	client *redis.Client
	ttl    time.Duration
	log    logger.Logger
}

func NewCachedBidRepository(inner domain.BidRepository, client *redis.Client, ttl time.Duration, log logger.Logger) *CachedBidRepository {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &CachedBidRepository{
		inner:  inner,
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

func bidKey(bidID string) string {
	return fmt.Sprintf("bid:%s", bidID)
}

func (r *CachedBidRepository) Get(ctx context.Context, bidID string) (*domain.Bid, error) {
	key := bidKey(bidID)

	raw, err := r.client.Get(ctx, key).Result()
	if err == nil {
		var bid domain.Bid
		if err := json.Unmarshal([]byte(raw), &bid); err == nil {
			return &bid, nil
		}
		// Unreadable entry; fall through to the database and rewrite it.
	} else if !errors.Is(err, redis.Nil) {
		r.log.Debug("Bid cache read failed", "bid_id", bidID, "error", err)
	}

	bid, err := r.inner.Get(ctx, bidID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(bid); err == nil {
		if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
			r.log.Debug("Bid cache write failed", "bid_id", bidID, "error", err)
		}
	}
	return bid, nil
}

func (r *CachedBidRepository) Create(ctx context.Context, bid *domain.Bid) error {
	if err := r.inner.Create(ctx, bid); err != nil {
		return err
	}
	r.invalidate(ctx, bid.ID)
	return nil
}

func (r *CachedBidRepository) PlaceBid(ctx context.Context, bidID string, expectedVersion int64, amount decimal.Decimal, bidderID string, hist *domain.BidHistory) error {
	err := r.inner.PlaceBid(ctx, bidID, expectedVersion, amount, bidderID, hist)
	if err == nil || errors.Is(err, domain.ErrVersionConflict) {
		r.invalidate(ctx, bidID)
	}
	return err
}

func (r *CachedBidRepository) UpdateDecision(ctx context.Context, bid *domain.Bid) error {
	if err := r.inner.UpdateDecision(ctx, bid); err != nil {
		return err
	}
	r.invalidate(ctx, bid.ID)
	return nil
}

func (r *CachedBidRepository) ClaimForProcessing(ctx context.Context, bidID string, now time.Time) error {
	err := r.inner.ClaimForProcessing(ctx, bidID, now)
	if err == nil {
		r.invalidate(ctx, bidID)
	}
	return err
}

func (r *CachedBidRepository) ListEndedUnprocessed(ctx context.Context, now time.Time, withBidder bool, limit int) ([]*domain.Bid, error) {
	return r.inner.ListEndedUnprocessed(ctx, now, withBidder, limit)
}

func (r *CachedBidRepository) History(ctx context.Context, bidID string) ([]*domain.BidHistory, error) {
	return r.inner.History(ctx, bidID)
}

func (r *CachedBidRepository) invalidate(ctx context.Context, bidID string) {
	if err := r.client.Del(ctx, bidKey(bidID)).Err(); err != nil {
		r.log.Debug("Bid cache invalidation failed", "bid_id", bidID, "error", err)
	}
}
