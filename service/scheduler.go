package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"recnode/config"
	"recnode/constant"
	"recnode/dto"
	"recnode/entities"
	"recnode/pkg/storage"
	"recnode/pkg/store"
)

// ErrSessionNotFound reports a session id with no live record or no active
// recorder.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionActive reports a start for a session that is already running.
var ErrSessionActive = errors.New("session already recording")

type activeSession struct {
	recorder *Recorder
	done     chan struct{}
}

// Scheduler supervises the active recording sessions of this process. A
// poll loop joins finished sessions at a fixed cadence so background work
// never leaks.
type Scheduler struct {
	cfg     config.Recording
	clients *store.Clients
	live    *LiveRecordService
	client  StreamFetcher
	fetcher PlatformFetcher
	writer  storage.Writer

	mu       sync.Mutex
	sessions map[string]*activeSession
}

func NewScheduler(
	cfg config.Recording,
	clients *store.Clients,
	live *LiveRecordService,
	client StreamFetcher,
	fetcher PlatformFetcher,
	writer storage.Writer,
) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		clients:  clients,
		live:     live,
		client:   client,
		fetcher:  fetcher,
		writer:   writer,
		sessions: make(map[string]*activeSession),
	}
}

// StartRecording spawns the recording loop for the session. Non-blocking;
// the loop reports through its session state.
func (s *Scheduler) StartRecording(ctx context.Context, sessionId string) error {
	record, err := s.live.Get(ctx, store.Master, sessionId)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionId)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionId]; ok {
		return fmt.Errorf("%w: %s", ErrSessionActive, sessionId)
	}

	recorder := s.buildRecorder(record)
	done := make(chan struct{})
	s.sessions[sessionId] = &activeSession{recorder: recorder, done: done}

	go func() {
		defer close(done)
		if err := recorder.Run(ctx); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("session_id", sessionId).Msg("recording session failed")
		}
	}()
	return nil
}

func (s *Scheduler) buildRecorder(record *entities.LiveSessionRecord) *Recorder {
	segments := NewSegmentStateService(s.clients, record.ID, s.cfg.SegmentTTL, s.cfg.LockLease, s.cfg.RetryParallelLimit)
	nums := NewSegmentNumberSet(s.clients, record.ID, constant.PurposeTagSuccess, s.cfg.SegmentTTL, s.cfg.RenewThreshold)

	basePath := fmt.Sprintf("%s/%s/%s", s.cfg.StorageBasePath, record.ChannelId, record.VideoName)
	var recorder *Recorder
	archiver := NewArchiver(s.writer, basePath, s.cfg.BundleSizeMB, s.cfg.UploadRetryLimit,
		func(ctx context.Context, batch []BufferedSegment) {
			recorder.MarkUploaded(ctx, batch)
		})
	recorder = NewRecorder(s.cfg, record, s.live, segments, nums, s.client, s.fetcher, archiver)
	return recorder
}

// Cancel sets the session's abort flag. Termination is cooperative; the
// loop drains through its final flush.
func (s *Scheduler) Cancel(sessionId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionId]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionId)
	}
	session.recorder.Cancel()
	return nil
}

// Status reports the session's current state and processed count.
func (s *Scheduler) Status(sessionId string) (*dto.SessionStatus, error) {
	s.mu.Lock()
	session, ok := s.sessions[sessionId]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionId)
	}
	record := session.recorder.record
	return &dto.SessionStatus{
		SessionId:    sessionId,
		Platform:     record.Platform,
		ChannelId:    record.ChannelId,
		LiveId:       record.LiveId,
		NumProcessed: session.recorder.NumProcessed(),
		State:        session.recorder.State(),
	}, nil
}

// NewValidator builds a validator for the session, sharing the scheduler's
// live record service and store clients.
func (s *Scheduler) NewValidator(sessionId string) (*Validator, *SegmentNumberSet) {
	segments := NewSegmentStateService(s.clients, sessionId, s.cfg.SegmentTTL, s.cfg.LockLease, s.cfg.RetryParallelLimit)
	nums := NewSegmentNumberSet(s.clients, sessionId, constant.PurposeTagSuccess, s.cfg.SegmentTTL, s.cfg.RenewThreshold)
	validator := NewValidator(sessionId, s.live, segments, s.client, s.cfg.InvalidSegNumDiff, s.cfg.InvalidSegmentAge)
	return validator, nums
}

// Supervise joins finished sessions at the poll cadence until ctx ends,
// then waits for the remaining sessions to drain.
func (s *Scheduler) Supervise(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SchedulerPollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.drain(ctx)
			return
		case <-ticker.C:
			s.reap(ctx)
		}
	}
}

func (s *Scheduler) reap(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		select {
		case <-session.done:
			zerolog.Ctx(ctx).Info().
				Str("session_id", id).
				Str("state", session.recorder.State().String()).
				Msg("session finished, reaped")
			delete(s.sessions, id)
		default:
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*activeSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		session.recorder.Cancel()
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		<-session.done
	}
	zerolog.Ctx(ctx).Info().Int("sessions", len(sessions)).Msg("scheduler drained")
}
