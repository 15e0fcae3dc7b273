package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recnode/entities"
	"recnode/pkg/store"
)

// SegmentStateService manages the per-segment metadata records, slot locks
// and retry counters of one session. Keys follow the
// live:{sessionId}:segment:{num} schema.
type SegmentStateService struct {
	clients            *store.Clients
	strings            *store.StringStore
	sessionId          string
	ttl                time.Duration
	lockLease          time.Duration
	retryParallelLimit int
}

func NewSegmentStateService(clients *store.Clients, sessionId string, ttl, lockLease time.Duration, retryParallelLimit int) *SegmentStateService {
	return &SegmentStateService{
		clients:            clients,
		strings:            store.NewStringStore(clients),
		sessionId:          sessionId,
		ttl:                ttl,
		lockLease:          lockLease,
		retryParallelLimit: retryParallelLimit,
	}
}

func (s *SegmentStateService) segKey(num int) string {
	return fmt.Sprintf("live:%s:segment:%d", s.sessionId, num)
}

func (s *SegmentStateService) lockKey(num, slot int) string {
	return fmt.Sprintf("%s:lock:%d", s.segKey(num), slot)
}

func (s *SegmentStateService) retryKey(num int) string {
	return s.segKey(num) + ":retry"
}

// Get returns the segment record, or nil when absent.
func (s *SegmentStateService) Get(ctx context.Context, cons store.Consistency, num int) (*entities.SegmentState, error) {
	raw, err := s.strings.Get(ctx, cons, s.segKey(num))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.decode(num, raw)
}

// GetBatch returns the records for nums. Missing entries are logged and
// omitted; the result may be shorter than the input.
func (s *SegmentStateService) GetBatch(ctx context.Context, cons store.Consistency, nums []int) ([]*entities.SegmentState, error) {
	keys := make([]string, 0, len(nums))
	for _, num := range nums {
		keys = append(keys, s.segKey(num))
	}
	raws, err := s.strings.MultiGet(ctx, cons, keys)
	if err != nil {
		return nil, err
	}
	out := make([]*entities.SegmentState, 0, len(raws))
	for i, raw := range raws {
		if raw == nil {
			zerolog.Ctx(ctx).Warn().
				Str("session_id", s.sessionId).
				Int("num", nums[i]).
				Msg("segment state missing in batch read")
			continue
		}
		state, err := s.decode(nums[i], *raw)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

// SetIfAbsent creates the segment record once. The false result means a
// record already existed; its timestamps are untouched.
func (s *SegmentStateService) SetIfAbsent(ctx context.Context, state *entities.SegmentState) (bool, error) {
	if state.ParallelLimit == 0 {
		state.ParallelLimit = 1
	}
	now := time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	return s.write(ctx, state, store.SetOptions{IfNotExists: true, TTL: s.ttl})
}

// MarkSuccess records a completed upload: size set, retrying cleared,
// parallel limit back to one, full overwrite with TTL refresh.
func (s *SegmentStateService) MarkSuccess(ctx context.Context, state *entities.SegmentState, sizeBytes int64) (bool, error) {
	state.SizeBytes = &sizeBytes
	state.IsRetrying = false
	state.ParallelLimit = 1
	state.UpdatedAt = time.Now()
	return s.write(ctx, state, store.SetOptions{TTL: s.ttl})
}

// MarkRetrying raises the slot budget so bounded-parallel retries may
// target the segment.
func (s *SegmentStateService) MarkRetrying(ctx context.Context, state *entities.SegmentState) (bool, error) {
	state.IsRetrying = true
	state.ParallelLimit = s.retryParallelLimit
	state.UpdatedAt = time.Now()
	return s.write(ctx, state, store.SetOptions{TTL: s.ttl})
}

// AcquireLock tries slots 0..ParallelLimit-1 in order and returns the
// first free slot, or nil when every slot is held. Each concurrent retrier
// thus occupies a distinct slot, and at most ParallelLimit proceed.
func (s *SegmentStateService) AcquireLock(ctx context.Context, state *entities.SegmentState) (*entities.SegmentLock, error) {
	limit := state.ParallelLimit
	if limit < 1 {
		limit = 1
	}
	for slot := 0; slot < limit; slot++ {
		token := uuid.NewString()
		ok, err := s.strings.Set(ctx, s.lockKey(state.Num, slot), token, store.SetOptions{
			IfNotExists: true,
			TTL:         s.lockLease,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			return &entities.SegmentLock{Token: token, SegmentNum: state.Num, Slot: slot}, nil
		}
	}
	return nil, nil
}

// ReleaseLock frees a slot. The replica is read first to verify the token
// still matches; a differing or missing token surfaces as ErrLockMismatch,
// which signals a stolen or double-released lock.
func (s *SegmentStateService) ReleaseLock(ctx context.Context, lock *entities.SegmentLock) error {
	key := s.lockKey(lock.SegmentNum, lock.Slot)
	stored, err := s.strings.Get(ctx, store.Replica, key)
	if errors.Is(err, store.ErrNotFound) {
		return store.ErrLockMismatch
	}
	if err != nil {
		return err
	}
	if stored != lock.Token {
		return store.ErrLockMismatch
	}
	return s.strings.Delete(ctx, key)
}

func (s *SegmentStateService) IncrementRetryCount(ctx context.Context, num int) (int64, error) {
	return s.strings.Incr(ctx, s.retryKey(num), 1, s.ttl)
}

// GetRetryCount returns 0 when no counter exists.
func (s *SegmentStateService) GetRetryCount(ctx context.Context, cons store.Consistency, num int) (int64, error) {
	raw, err := s.strings.Get(ctx, cons, s.retryKey(num))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &store.ProtocolError{Op: "get", Key: s.retryKey(num), Detail: "non-integer counter"}
	}
	return n, nil
}

func (s *SegmentStateService) ClearRetryCount(ctx context.Context, num int) error {
	return s.strings.Delete(ctx, s.retryKey(num))
}

// Delete removes the segment record, replica-checked first by default so a
// lagging caller cannot delete on false information.
func (s *SegmentStateService) Delete(ctx context.Context, num int, checkReplicaFirst bool) error {
	if checkReplicaFirst {
		exists, err := s.strings.Exists(ctx, store.Replica, s.segKey(num))
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
	}
	return s.strings.Delete(ctx, s.segKey(num))
}

// DeleteAll drains the owning number set, removing every segment record
// and retry counter, then clears the set itself.
func (s *SegmentStateService) DeleteAll(ctx context.Context, set *SegmentNumberSet) error {
	nums, err := set.All(ctx, store.Master)
	if err != nil {
		return err
	}
	for _, num := range nums {
		if err := s.Delete(ctx, num, false); err != nil {
			return err
		}
		if err := s.ClearRetryCount(ctx, num); err != nil {
			return err
		}
	}
	return set.Clear(ctx)
}

func (s *SegmentStateService) write(ctx context.Context, state *entities.SegmentState, opts store.SetOptions) (bool, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return false, err
	}
	return s.strings.Set(ctx, s.segKey(state.Num), string(raw), opts)
}

func (s *SegmentStateService) decode(num int, raw string) (*entities.SegmentState, error) {
	state := &entities.SegmentState{}
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		return nil, &store.ProtocolError{Op: "get", Key: s.segKey(num), Detail: err.Error()}
	}
	return state, nil
}
