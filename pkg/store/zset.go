package store

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ScoredMember pairs a sorted-collection member with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// SortedSetStore is the sorted-collection shape over the shared store.
type SortedSetStore struct {
	clients *Clients
}

func NewSortedSetStore(clients *Clients) *SortedSetStore {
	return &SortedSetStore{clients: clients}
}

func (s *SortedSetStore) Add(ctx context.Context, key, member string, score float64) error {
	return s.clients.Master().ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *SortedSetStore) AddBatch(ctx context.Context, key string, members []ScoredMember) error {
	if len(members) == 0 {
		return nil
	}
	zs := make([]redis.Z, 0, len(members))
	for _, m := range members {
		zs = append(zs, redis.Z{Score: m.Score, Member: m.Member})
	}
	return s.clients.Master().ZAdd(ctx, key, zs...).Err()
}

// Highest returns the member with the greatest score, or nil when the
// collection is empty or absent.
func (s *SortedSetStore) Highest(ctx context.Context, cons Consistency, key string) (*string, error) {
	vals, err := s.clients.Pick(cons).ZRevRange(ctx, key, 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return &vals[0], nil
}

// ByScore returns the single member at exactly the given score, or nil.
func (s *SortedSetStore) ByScore(ctx context.Context, cons Consistency, key string, score float64) (*string, error) {
	vals, err := s.clients.Pick(cons).ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   formatScore(score),
		Max:   formatScore(score),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return &vals[0], nil
}

func (s *SortedSetStore) RangeByScore(ctx context.Context, cons Consistency, key string, min, max float64) ([]string, error) {
	return s.clients.Pick(cons).ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
}

func (s *SortedSetStore) RemoveByValue(ctx context.Context, key, member string) error {
	return s.clients.Master().ZRem(ctx, key, member).Err()
}

func (s *SortedSetStore) RemoveByScoreRange(ctx context.Context, key string, min, max float64) error {
	return s.clients.Master().ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err()
}

func (s *SortedSetStore) Size(ctx context.Context, cons Consistency, key string) (int64, error) {
	return s.clients.Pick(cons).ZCard(ctx, key).Result()
}

func (s *SortedSetStore) Clear(ctx context.Context, key string) error {
	return s.clients.Master().Del(ctx, key).Err()
}

func (s *SortedSetStore) SetTTL(ctx context.Context, key string, ttl time.Duration) error {
	return s.clients.Master().PExpire(ctx, key, ttl).Err()
}

// PTTL mirrors StringStore.PTTL for sorted-collection keys.
func (s *SortedSetStore) PTTL(ctx context.Context, cons Consistency, key string) (time.Duration, error) {
	d, err := s.clients.Pick(cons).PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	switch d {
	case -2:
		return 0, ErrNotFound
	case -1:
		return 0, nil
	}
	return d, nil
}

func formatScore(score float64) string {
	if math.IsInf(score, 1) {
		return "+inf"
	}
	if math.IsInf(score, -1) {
		return "-inf"
	}
	return strconv.FormatFloat(score, 'f', -1, 64)
}
