package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"recnode/entities"
	"recnode/pkg/store"
)

// ByteFetcher fetches a segment's bytes for the tail size check.
type ByteFetcher interface {
	GetBytes(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

// Validator cross-checks externally reported segment descriptors against
// the authoritative segment state of a session and flags the session
// invalid on tamper or drift. It fails closed: any unexpected failure
// during a check is treated as critical.
type Validator struct {
	sessionId    string
	live         *LiveRecordService
	segments     *SegmentStateService
	fetcher      ByteFetcher
	gapThreshold int
	ageThreshold time.Duration
}

func NewValidator(sessionId string, live *LiveRecordService, segments *SegmentStateService, fetcher ByteFetcher, gapThreshold int, ageThreshold time.Duration) *Validator {
	return &Validator{
		sessionId:    sessionId,
		live:         live,
		segments:     segments,
		fetcher:      fetcher,
		gapThreshold: gapThreshold,
		ageThreshold: ageThreshold,
	}
}

// ValidateSegments checks a reported batch against the success set. False
// reports any detected invalidity; the session record is marked invalid
// only for conditions that prove tampering or drift, not for internal
// inconsistencies or caller-contract violations.
func (v *Validator) ValidateSegments(ctx context.Context, reported []entities.SegmentDescriptor, successNums *SegmentNumberSet) bool {
	log := zerolog.Ctx(ctx)
	if len(reported) == 0 {
		log.Error().Str("session_id", v.sessionId).Msg("validate called with empty segment report")
		return false
	}

	highest, err := successNums.Highest(ctx, store.Master)
	if err != nil {
		log.Error().Err(err).Str("session_id", v.sessionId).Msg("failed to read success set")
		return false
	}
	if highest == nil {
		// session initialization, nothing recorded yet
		return true
	}

	sorted := make([]entities.SegmentDescriptor, len(reported))
	copy(sorted, reported)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Num < sorted[j].Num })

	matched, err := successNums.Range(ctx, store.Master, sorted[0].Num, sorted[len(sorted)-1].Num)
	if err != nil {
		log.Error().Err(err).Str("session_id", v.sessionId).Msg("failed to read success range")
		return false
	}

	if len(matched) == 0 {
		gap := sorted[len(sorted)-1].Num - *highest
		if gap > v.gapThreshold {
			log.Warn().
				Str("session_id", v.sessionId).
				Int("highest_success", *highest).
				Int("highest_reported", sorted[len(sorted)-1].Num).
				Int("gap", gap).
				Msg("reported segments beyond gap threshold, marking session invalid")
			v.markInvalid(ctx)
			return false
		}
		// ordinary lag, not tampering
		return true
	}

	matchedSet := make(map[int]struct{}, len(matched))
	for _, num := range matched {
		matchedSet[num] = struct{}{}
	}

	var lastMatched *entities.SegmentState
	for _, desc := range sorted {
		if _, ok := matchedSet[desc.Num]; !ok {
			continue
		}
		state, err := v.segments.Get(ctx, store.Master, desc.Num)
		if err != nil {
			log.Error().Err(err).Str("session_id", v.sessionId).Int("num", desc.Num).Msg("failed to read segment state")
			return false
		}
		if state == nil {
			// success set names a segment without state: an internal bug
			// signal, not proof of tampering
			log.Error().Str("session_id", v.sessionId).Int("num", desc.Num).Msg("segment in success set has no state record")
			return false
		}
		if state.Url != desc.Url || state.DurationSeconds != desc.DurationSeconds || sizeDiffers(state, desc) {
			log.Warn().
				Str("session_id", v.sessionId).
				Int("num", desc.Num).
				Str("reported_url", desc.Url).
				Str("stored_url", state.Url).
				Msg("segment metadata drift, marking session invalid")
			v.markInvalid(ctx)
			return false
		}
		if time.Since(state.CreatedAt) > v.ageThreshold {
			log.Warn().
				Str("session_id", v.sessionId).
				Int("num", desc.Num).
				Time("created_at", state.CreatedAt).
				Msg("segment state older than age threshold, marking session invalid")
			v.markInvalid(ctx)
			return false
		}
		lastMatched = state
	}

	// Byte check on the last matched segment only, to bound request cost.
	if lastMatched != nil && lastMatched.SizeBytes != nil {
		data, err := v.fetcher.GetBytes(ctx, lastMatched.Url, nil)
		if err != nil {
			log.Error().Err(err).Str("session_id", v.sessionId).Int("num", lastMatched.Num).Msg("failed to fetch segment for size check")
			return false
		}
		if int64(len(data)) != *lastMatched.SizeBytes {
			log.Warn().
				Str("session_id", v.sessionId).
				Int("num", lastMatched.Num).
				Int64("stored_size", *lastMatched.SizeBytes).
				Int("actual_size", len(data)).
				Msg("segment size mismatch, marking session invalid")
			v.markInvalid(ctx)
			return false
		}
	}

	return true
}

// ValidateSegment is the fast single-segment check used for incremental
// validation.
func (v *Validator) ValidateSegment(ctx context.Context, num int, successNums *SegmentNumberSet) entities.SegmentInspect {
	log := zerolog.Ctx(ctx)

	contains, err := successNums.Contains(ctx, store.Master, num)
	if err != nil {
		log.Error().Err(err).Str("session_id", v.sessionId).Int("num", num).Msg("failed to check success set")
		return entities.InspectCritical(attrs(num, "error", err.Error()))
	}
	if !contains {
		// not recorded here yet, nothing to dispute
		return entities.InspectOk(nil)
	}

	state, err := v.segments.Get(ctx, store.Master, num)
	if err != nil {
		log.Error().Err(err).Str("session_id", v.sessionId).Int("num", num).Msg("failed to read segment state")
		return entities.InspectCritical(attrs(num, "error", err.Error()))
	}
	if state == nil {
		log.Error().Str("session_id", v.sessionId).Int("num", num).Msg("segment in success set has no state record")
		return entities.InspectCritical(attrs(num, "reason", "missing state"))
	}

	age := time.Since(state.CreatedAt)
	if age > v.ageThreshold {
		log.Warn().
			Str("session_id", v.sessionId).
			Int("num", num).
			Dur("age", age).
			Msg("segment state older than age threshold, marking session invalid")
		v.markInvalid(ctx)
		return entities.InspectCritical(attrs(num, "age", age.String()))
	}

	// known and young, just not confirmed yet; the caller should retry
	return entities.InspectFailed(attrs(num, "age", age.String()))
}

func (v *Validator) markInvalid(ctx context.Context) {
	if _, err := v.live.MarkInvalid(ctx, v.sessionId); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", v.sessionId).Msg("failed to mark session invalid")
	}
}

// sizeDiffers compares sizes only when both sides carry one; a descriptor
// without a size makes no claim.
func sizeDiffers(state *entities.SegmentState, desc entities.SegmentDescriptor) bool {
	if state.SizeBytes == nil || desc.SizeBytes == nil {
		return false
	}
	return *state.SizeBytes != *desc.SizeBytes
}

func attrs(num int, kvs ...string) map[string]any {
	m := map[string]any{"num": fmt.Sprintf("%d", num)}
	for i := 0; i+1 < len(kvs); i += 2 {
		m[kvs[i]] = kvs[i+1]
	}
	return m
}
