package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"recnode/config"
	"recnode/constant"
	"recnode/entities"
	"recnode/pkg/hls"
	"recnode/pkg/store"
)

// ErrMasterPlaylist reports a multi-bitrate playlist where an already
// resolved media playlist was expected. This is an upstream error, fatal
// to the attempt, not a retryable condition.
var ErrMasterPlaylist = errors.New("master playlist where media playlist expected")

// StreamFetcher is the HTTP surface the recording loop needs.
type StreamFetcher interface {
	GetText(ctx context.Context, url string, headers map[string]string) (string, error)
	GetBytes(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

// RequestContext is the in-memory working set of one recording attempt,
// rebuilt per attempt and never persisted.
type RequestContext struct {
	SessionId  string
	StreamUrl  string
	Headers    map[string]string
	BaseUrl    string
	SegmentDir string
	ChannelDir string
}

// Recorder drives one recording session through WAIT, RECORDING and a
// terminal DONE or FAILED. Within a session, segment downloads of one
// playlist interval fan out concurrently; archiving and upload run as
// background tasks joined by the final flush.
type Recorder struct {
	cfg      config.Recording
	record   *entities.LiveSessionRecord
	live     *LiveRecordService
	segments *SegmentStateService
	nums     *SegmentNumberSet
	client   StreamFetcher
	fetcher  PlatformFetcher
	archiver *Archiver
	reqCtx   RequestContext

	state         atomic.Value
	abort         atomic.Bool
	firstInterval bool

	processedMu sync.Mutex
	processed   map[int]struct{}

	rnd *rand.Rand
}

func NewRecorder(
	cfg config.Recording,
	record *entities.LiveSessionRecord,
	live *LiveRecordService,
	segments *SegmentStateService,
	nums *SegmentNumberSet,
	client StreamFetcher,
	fetcher PlatformFetcher,
	archiver *Archiver,
) *Recorder {
	channelDir := filepath.Join(cfg.TempDir, record.ChannelId)
	r := &Recorder{
		cfg:           cfg,
		record:        record,
		live:          live,
		segments:      segments,
		nums:          nums,
		client:        client,
		fetcher:       fetcher,
		archiver:      archiver,
		firstInterval: true,
		processed:     make(map[int]struct{}),
		rnd:           rand.New(rand.NewSource(time.Now().UnixNano())),
		reqCtx: RequestContext{
			SessionId:  record.ID,
			StreamUrl:  record.StreamUrl,
			Headers:    record.Headers,
			BaseUrl:    baseUrlOf(record.StreamUrl),
			SegmentDir: filepath.Join(channelDir, record.VideoName),
			ChannelDir: channelDir,
		},
	}
	r.state.Store(constant.SessionStateWait)
	return r
}

func (r *Recorder) State() constant.SessionState {
	return r.state.Load().(constant.SessionState)
}

func (r *Recorder) NumProcessed() int {
	r.processedMu.Lock()
	defer r.processedMu.Unlock()
	return len(r.processed)
}

// Cancel requests cooperative termination. The loop observes the flag at
// the top of the next interval and still runs the final flush, so buffered
// data is never dropped on cancel.
func (r *Recorder) Cancel() {
	r.abort.Store(true)
}

// Run executes the recording attempt. The final flush runs on every
// terminal transition, FAILED included.
func (r *Recorder) Run(ctx context.Context) error {
	log := zerolog.Ctx(ctx)

	r.state.Store(constant.SessionStateWait)
	live, err := r.waitForLive(ctx)
	if err != nil {
		r.state.Store(constant.SessionStateFailed)
		return err
	}
	if live == nil {
		// wait timed out or cancelled before going live: clean abort,
		// nothing written
		log.Info().Str("session_id", r.reqCtx.SessionId).Msg("stream never went live, aborting attempt")
		r.state.Store(constant.SessionStateDone)
		return nil
	}

	log.Info().
		Str("session_id", r.reqCtx.SessionId).
		Str("channel_id", live.ChannelId).
		Str("live_id", live.LiveId).
		Msg("stream is live, recording")
	r.state.Store(constant.SessionStateRecording)

	if err := os.MkdirAll(r.reqCtx.SegmentDir, os.ModePerm); err != nil {
		r.state.Store(constant.SessionStateFailed)
		return err
	}

	var runErr error
	for {
		if r.abort.Load() {
			log.Info().Str("session_id", r.reqCtx.SessionId).Msg("abort flag observed")
			break
		}
		done, err := r.interval(ctx)
		if err != nil {
			runErr = err
			break
		}
		if done {
			break
		}
		if !r.sleepInterval(ctx) {
			break
		}
	}

	r.finalFlush(ctx)

	if runErr != nil {
		log.Error().Err(runErr).Str("session_id", r.reqCtx.SessionId).Msg("recording failed")
		r.state.Store(constant.SessionStateFailed)
		return runErr
	}
	log.Info().Str("session_id", r.reqCtx.SessionId).Int("segments", r.NumProcessed()).Msg("recording done")
	r.state.Store(constant.SessionStateDone)
	return nil
}

func (r *Recorder) waitForLive(ctx context.Context) (*LiveInfo, error) {
	deadline := time.Now().Add(r.cfg.WaitLiveTimeout)
	for {
		if r.abort.Load() {
			return nil, nil
		}
		info, err := r.fetcher.FetchLiveInfo(ctx, r.record.StreamUrl)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", r.reqCtx.SessionId).Msg("live check failed while waiting")
		} else if info != nil {
			return info, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(time.Second):
		}
	}
}

// interval runs one playlist fetch cycle. The bool result reports a clean
// terminal condition (endlist or confirmed offline).
func (r *Recorder) interval(ctx context.Context) (bool, error) {
	log := zerolog.Ctx(ctx)

	text, err := r.client.GetText(ctx, r.reqCtx.StreamUrl, r.reqCtx.Headers)
	if err != nil {
		// an HTTP failure here may just mean the stream ended; re-resolve
		// liveness before escalating
		info, liveErr := r.fetcher.FetchLiveInfo(ctx, r.record.StreamUrl)
		if liveErr == nil && info == nil {
			log.Info().Str("session_id", r.reqCtx.SessionId).Msg("channel offline after playlist failure, ending stream")
			return true, nil
		}
		return false, err
	}

	pl := hls.Parse(text)
	if pl.IsMaster {
		return false, ErrMasterPlaylist
	}

	if r.firstInterval {
		r.firstInterval = false
		if pl.MapUri != "" {
			if err := r.fetchInitSegment(ctx, pl.MapUri); err != nil {
				log.Error().Err(err).Str("session_id", r.reqCtx.SessionId).Msg("failed to fetch init segment")
			}
		}
	}

	var wg sync.WaitGroup
	var failMu sync.Mutex
	var failures []error
	for _, seg := range pl.Segments {
		if r.isProcessed(seg.Num) {
			continue
		}
		wg.Add(1)
		go func(seg hls.Segment) {
			defer wg.Done()
			if err := r.fetchSegment(ctx, seg); err != nil {
				failMu.Lock()
				failures = append(failures, fmt.Errorf("segment %d: %w", seg.Num, err))
				failMu.Unlock()
			}
		}(seg)
	}
	wg.Wait()

	for _, err := range failures {
		log.Error().Err(err).Str("session_id", r.reqCtx.SessionId).Msg("segment fetch failed")
	}

	if err := r.nums.Renew(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", r.reqCtx.SessionId).Msg("failed to renew success set ttl")
	}

	if r.abort.Load() {
		return true, nil
	}
	return pl.IsEndlist, nil
}

func (r *Recorder) fetchInitSegment(ctx context.Context, mapUri string) error {
	url := resolveUrl(r.reqCtx.BaseUrl, mapUri)
	data, err := r.client.GetBytes(ctx, url, r.reqCtx.Headers)
	if err != nil {
		return err
	}
	return r.persistSegment(ctx, hls.Segment{Num: 0, Uri: mapUri}, url, data)
}

func (r *Recorder) fetchSegment(ctx context.Context, seg hls.Segment) error {
	url := resolveUrl(r.reqCtx.BaseUrl, seg.Uri)

	// retried segments are gated by slot locks so concurrent retriers
	// across processes stay bounded by the segment's parallel limit
	retries, err := r.segments.GetRetryCount(ctx, store.Replica, seg.Num)
	if err != nil {
		return err
	}
	if retries > 0 {
		state, err := r.segments.Get(ctx, store.Master, seg.Num)
		if err != nil {
			return err
		}
		if state != nil {
			lock, err := r.segments.AcquireLock(ctx, state)
			if err != nil {
				return err
			}
			if lock == nil {
				// every slot held elsewhere, try again next interval
				return nil
			}
			defer func() {
				if err := r.segments.ReleaseLock(ctx, lock); err != nil {
					zerolog.Ctx(ctx).Error().Err(err).
						Str("session_id", r.reqCtx.SessionId).
						Int("num", seg.Num).
						Int("slot", lock.Slot).
						Msg("segment lock release failed")
				}
			}()
		}
	}

	data, err := r.client.GetBytes(ctx, url, r.reqCtx.Headers)
	if err != nil {
		r.noteFailure(ctx, seg, url)
		return err
	}
	return r.persistSegment(ctx, seg, url, data)
}

func (r *Recorder) persistSegment(ctx context.Context, seg hls.Segment, url string, data []byte) error {
	path := filepath.Join(r.reqCtx.SegmentDir, fmt.Sprintf("%d.ts", seg.Num))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}

	state := &entities.SegmentState{
		Num:             seg.Num,
		Url:             url,
		DurationSeconds: seg.DurationSeconds,
	}
	if _, err := r.segments.SetIfAbsent(ctx, state); err != nil {
		return err
	}

	r.markProcessed(seg.Num)
	r.archiver.Add(ctx, BufferedSegment{Num: seg.Num, Path: path, Size: int64(len(data))})
	return nil
}

func (r *Recorder) noteFailure(ctx context.Context, seg hls.Segment, url string) {
	log := zerolog.Ctx(ctx)
	if _, err := r.segments.IncrementRetryCount(ctx, seg.Num); err != nil {
		log.Warn().Err(err).Int("num", seg.Num).Msg("failed to increment retry count")
	}
	state, err := r.segments.Get(ctx, store.Master, seg.Num)
	if err != nil || state == nil {
		return
	}
	if _, err := r.segments.MarkRetrying(ctx, state); err != nil {
		log.Warn().Err(err).Int("num", seg.Num).Msg("failed to mark segment retrying")
	}
}

// MarkUploaded records a durably written bundle: numbers enter the success
// set under its writer lock and each segment state is finalized. Wired as
// the archiver's upload callback.
func (r *Recorder) MarkUploaded(ctx context.Context, batch []BufferedSegment) {
	log := zerolog.Ctx(ctx)

	lock := r.nums.Lock()
	acquired, err := lock.Acquire(ctx, r.cfg.LockLease, r.cfg.LockWaitTimeout)
	if err != nil || !acquired {
		log.Error().Err(err).Str("session_id", r.reqCtx.SessionId).Msg("failed to acquire success-set lock")
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			log.Error().Err(err).Str("session_id", r.reqCtx.SessionId).Msg("success-set lock release failed")
		}
	}()

	for _, seg := range batch {
		if err := r.nums.SetNum(ctx, seg.Num); err != nil {
			log.Error().Err(err).Int("num", seg.Num).Msg("failed to record success number")
			continue
		}
		state, err := r.segments.Get(ctx, store.Master, seg.Num)
		if err != nil || state == nil {
			log.Error().Err(err).Int("num", seg.Num).Msg("missing segment state after upload")
			continue
		}
		if _, err := r.segments.MarkSuccess(ctx, state, seg.Size); err != nil {
			log.Error().Err(err).Int("num", seg.Num).Msg("failed to mark segment success")
		}
		if err := r.segments.ClearRetryCount(ctx, seg.Num); err != nil {
			log.Warn().Err(err).Int("num", seg.Num).Msg("failed to clear retry count")
		}
	}

	if err := r.nums.Renew(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", r.reqCtx.SessionId).Msg("failed to renew success set ttl")
	}
}

func (r *Recorder) finalFlush(ctx context.Context) {
	log := zerolog.Ctx(ctx)
	r.archiver.FinalFlush(ctx)

	// bottom-up, tolerating leftovers and already-removed dirs
	for _, dir := range []string{r.reqCtx.SegmentDir, r.reqCtx.ChannelDir} {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			log.Debug().Err(err).Str("dir", dir).Msg("temp dir not removed")
		}
	}
}

func (r *Recorder) sleepInterval(ctx context.Context) bool {
	span := r.cfg.IntervalMax - r.cfg.IntervalMin
	delay := r.cfg.IntervalMin
	if span > 0 {
		delay += time.Duration(r.rnd.Int63n(int64(span)))
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (r *Recorder) isProcessed(num int) bool {
	r.processedMu.Lock()
	defer r.processedMu.Unlock()
	_, ok := r.processed[num]
	return ok
}

func (r *Recorder) markProcessed(num int) {
	r.processedMu.Lock()
	defer r.processedMu.Unlock()
	r.processed[num] = struct{}{}
}

func baseUrlOf(streamUrl string) string {
	if idx := strings.LastIndex(streamUrl, "/"); idx > 0 {
		return streamUrl[:idx]
	}
	return streamUrl
}

func resolveUrl(baseUrl, uri string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	return baseUrl + "/" + strings.TrimPrefix(uri, "/")
}
