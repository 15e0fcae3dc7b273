package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"recnode/constant"
)

func newTestScheduler(t *testing.T, client *scriptedFetcher) (*Scheduler, *LiveRecordService) {
	t.Helper()
	clients, _ := newTestClients(t)
	cfg := testRecordingConfig(t.TempDir())
	live := NewLiveRecordService(clients, cfg.LiveTTL)
	writer := newCaptureWriter()
	return NewScheduler(cfg, clients, live, client, FetcherFunc(alwaysLive), writer), live
}

func TestScheduler_startAndFinish(t *testing.T) {
	client := &scriptedFetcher{
		playlists: []string{endlistPlaylist},
		payloads:  segmentPayloads(301, 302),
	}
	s, live := newTestScheduler(t, client)
	ctx := context.Background()

	if err := s.StartRecording(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("start without record: %v", err)
	}

	if _, err := live.Set(ctx, testLiveRecord("s1"), true, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.StartRecording(ctx, "s1"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := s.StartRecording(ctx, "s1"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("duplicate start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		status, err := s.Status("s1")
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if status.State == constant.SessionStateDone {
			if status.NumProcessed != 2 {
				t.Errorf("processed = %d, want 2", status.NumProcessed)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("session never finished, state %s", status.State)
		case <-time.After(time.Millisecond):
		}
	}

	s.reap(ctx)
	if _, err := s.Status("s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("finished session should be reaped, got %v", err)
	}
}

func TestScheduler_cancelUnknownSession(t *testing.T) {
	s, _ := newTestScheduler(t, &scriptedFetcher{playlists: []string{openPlaylist}})
	if err := s.Cancel("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Cancel: %v", err)
	}
}

func TestScheduler_cancelStopsSession(t *testing.T) {
	client := &scriptedFetcher{
		playlists: []string{openPlaylist},
		payloads:  segmentPayloads(301, 302),
	}
	s, live := newTestScheduler(t, client)
	ctx := context.Background()

	if _, err := live.Set(ctx, testLiveRecord("s1"), true, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.StartRecording(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Cancel("s1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		status, err := s.Status("s1")
		if err != nil {
			t.Fatal(err)
		}
		if status.State == constant.SessionStateDone {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("session never stopped, state %s", status.State)
		case <-time.After(time.Millisecond):
		}
	}
}
