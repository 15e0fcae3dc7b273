package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"recnode/entities"
	"recnode/pkg/store"
)

// LiveRecordService manages the top-level record of a recording session,
// stored at live:{id}. Overwrites without an explicit TTL override preserve
// the record's remaining expiry so routine field updates never reset it.
type LiveRecordService struct {
	strings *store.StringStore
	ttl     time.Duration
}

func NewLiveRecordService(clients *store.Clients, ttl time.Duration) *LiveRecordService {
	return &LiveRecordService{
		strings: store.NewStringStore(clients),
		ttl:     ttl,
	}
}

func liveKey(id string) string {
	return fmt.Sprintf("live:%s", id)
}

// Get returns the session record, or nil when absent or expired.
func (s *LiveRecordService) Get(ctx context.Context, cons store.Consistency, id string) (*entities.LiveSessionRecord, error) {
	raw, err := s.strings.Get(ctx, cons, liveKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := &entities.LiveSessionRecord{}
	if err := json.Unmarshal([]byte(raw), record); err != nil {
		return nil, &store.ProtocolError{Op: "get", Key: liveKey(id), Detail: err.Error()}
	}
	return record, nil
}

// Set writes the session record. With ifNotExists the write is conditional
// on absence and carries the full default TTL. An overwrite without a
// ttlOverride first reads the current remaining TTL from the replica and
// reapplies it.
func (s *LiveRecordService) Set(ctx context.Context, record *entities.LiveSessionRecord, ifNotExists bool, ttlOverride *time.Duration) (bool, error) {
	ttl := s.ttl
	switch {
	case ttlOverride != nil:
		ttl = *ttlOverride
	case !ifNotExists:
		remaining, err := s.strings.PTTL(ctx, store.Replica, liveKey(record.ID))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		if err == nil && remaining > 0 {
			ttl = remaining
		}
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	return s.strings.Set(ctx, liveKey(record.ID), string(raw), store.SetOptions{
		IfNotExists: ifNotExists,
		TTL:         ttl,
	})
}

// MarkInvalid flips the record's invalid flag, preserving its TTL. Returns
// false when the record no longer exists. The flag is monotonic; it is
// never reset by normal flow.
func (s *LiveRecordService) MarkInvalid(ctx context.Context, id string) (bool, error) {
	record, err := s.Get(ctx, store.Master, id)
	if err != nil {
		return false, err
	}
	if record == nil {
		zerolog.Ctx(ctx).Warn().Str("session_id", id).Msg("mark invalid on missing session record")
		return false, nil
	}
	invalid := true
	record.IsInvalid = &invalid
	record.UpdatedAt = time.Now()
	return s.Set(ctx, record, false, nil)
}

// Delete removes the session record. With checkReplicaFirst, the delete is
// skipped when the replica does not show the key; a lagging replica may
// then leave a stale master-only entry, which is a tolerated staleness
// window.
func (s *LiveRecordService) Delete(ctx context.Context, id string, checkReplicaFirst bool) error {
	if checkReplicaFirst {
		exists, err := s.strings.Exists(ctx, store.Replica, liveKey(id))
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
	}
	return s.strings.Delete(ctx, liveKey(id))
}
