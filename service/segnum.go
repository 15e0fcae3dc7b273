package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"recnode/pkg/store"
)

// SegmentNumberSet tracks the segment sequence numbers persisted for one
// session under a purpose tag, as a sorted collection scored by the number
// itself. The key stays alive only while recording is active; Renew must
// run before expiry.
type SegmentNumberSet struct {
	clients        *store.Clients
	zsets          *store.SortedSetStore
	key            string
	ttl            time.Duration
	renewThreshold time.Duration
}

func NewSegmentNumberSet(clients *store.Clients, sessionId, purposeTag string, ttl, renewThreshold time.Duration) *SegmentNumberSet {
	return &SegmentNumberSet{
		clients:        clients,
		zsets:          store.NewSortedSetStore(clients),
		key:            fmt.Sprintf("live:%s:segments:%s", sessionId, purposeTag),
		ttl:            ttl,
		renewThreshold: renewThreshold,
	}
}

func (s *SegmentNumberSet) Key() string {
	return s.key
}

// SetNum adds a segment number; adding an existing number is a no-op.
func (s *SegmentNumberSet) SetNum(ctx context.Context, num int) error {
	return s.zsets.Add(ctx, s.key, strconv.Itoa(num), float64(num))
}

func (s *SegmentNumberSet) SetNums(ctx context.Context, nums []int) error {
	members := make([]store.ScoredMember, 0, len(nums))
	for _, num := range nums {
		members = append(members, store.ScoredMember{Member: strconv.Itoa(num), Score: float64(num)})
	}
	return s.zsets.AddBatch(ctx, s.key, members)
}

// All returns every number in ascending order.
func (s *SegmentNumberSet) All(ctx context.Context, cons store.Consistency) ([]int, error) {
	members, err := s.zsets.RangeByScore(ctx, cons, s.key, math.Inf(-1), math.Inf(1))
	if err != nil {
		return nil, err
	}
	return parseNums(s.key, members)
}

// Highest returns the greatest number, or nil when the set is empty.
func (s *SegmentNumberSet) Highest(ctx context.Context, cons store.Consistency) (*int, error) {
	member, err := s.zsets.Highest(ctx, cons, s.key)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, nil
	}
	num, err := strconv.Atoi(*member)
	if err != nil {
		return nil, &store.ProtocolError{Op: "highest", Key: s.key, Detail: "non-integer member " + *member}
	}
	return &num, nil
}

func (s *SegmentNumberSet) Range(ctx context.Context, cons store.Consistency, start, end int) ([]int, error) {
	members, err := s.zsets.RangeByScore(ctx, cons, s.key, float64(start), float64(end))
	if err != nil {
		return nil, err
	}
	return parseNums(s.key, members)
}

func (s *SegmentNumberSet) Contains(ctx context.Context, cons store.Consistency, num int) (bool, error) {
	member, err := s.zsets.ByScore(ctx, cons, s.key, float64(num))
	if err != nil {
		return false, err
	}
	return member != nil, nil
}

// Remove deletes a number. With checkReplicaFirst the delete is skipped
// when the replica does not show the member, avoiding deletes driven by
// stale information; the data might then not be deleted on the master,
// which is tolerated.
func (s *SegmentNumberSet) Remove(ctx context.Context, num int, checkReplicaFirst bool) error {
	if checkReplicaFirst {
		exists, err := s.Contains(ctx, store.Replica, num)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
	}
	return s.zsets.RemoveByValue(ctx, s.key, strconv.Itoa(num))
}

func (s *SegmentNumberSet) Size(ctx context.Context, cons store.Consistency) (int64, error) {
	return s.zsets.Size(ctx, cons, s.key)
}

func (s *SegmentNumberSet) Clear(ctx context.Context) error {
	return s.zsets.Clear(ctx, s.key)
}

// Renew refreshes the TTL only when the key has no expiry yet or its
// remaining TTL dropped below the renewal threshold. Refreshing every
// cycle would double the write traffic for nothing.
func (s *SegmentNumberSet) Renew(ctx context.Context) error {
	remaining, err := s.zsets.PTTL(ctx, store.Replica, s.key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if remaining == 0 || remaining < s.renewThreshold {
		return s.zsets.SetTTL(ctx, s.key, s.ttl)
	}
	return nil
}

// Lock returns a distributed lock scoped to this set, used to serialize
// writers deciding whether a segment number is new.
func (s *SegmentNumberSet) Lock() *store.Lock {
	return store.NewLock(s.clients, s.key+":lock")
}

func parseNums(key string, members []string) ([]int, error) {
	nums := make([]int, 0, len(members))
	for _, m := range members {
		num, err := strconv.Atoi(m)
		if err != nil {
			return nil, &store.ProtocolError{Op: "range", Key: key, Detail: "non-integer member " + m}
		}
		nums = append(nums, num)
	}
	return nums, nil
}
