package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"recnode/config"
	"recnode/entities"
	"recnode/pkg/store"
)

type testDeps struct {
	clients *store.Clients
	mr      *miniredis.Miniredis
}

func newTestClients(t *testing.T) (*store.Clients, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return store.NewClients(client, client), mr
}

func testRecordingConfig(tempDir string) config.Recording {
	return config.Recording{
		LiveTTL:             5 * time.Minute,
		SegmentTTL:          5 * time.Minute,
		RenewThreshold:      60 * time.Second,
		LockLease:           10 * time.Second,
		LockWaitTimeout:     time.Second,
		RetryParallelLimit:  3,
		InvalidSegNumDiff:   150,
		InvalidSegmentAge:   120 * time.Second,
		BundleSizeMB:        1,
		UploadRetryLimit:    2,
		HttpTimeout:         time.Second,
		HttpRetryLimit:      1,
		WaitLiveTimeout:     500 * time.Millisecond,
		IntervalMin:         time.Millisecond,
		IntervalMax:         2 * time.Millisecond,
		TempDir:             tempDir,
		StorageBasePath:     "recordings",
		SchedulerPollPeriod: 10 * time.Millisecond,
	}
}

func testLiveRecord(id string) *entities.LiveSessionRecord {
	return &entities.LiveSessionRecord{
		ID:          id,
		Platform:    "chzzk",
		ChannelId:   "ch1",
		ChannelName: "channel one",
		LiveId:      "live1",
		LiveTitle:   "test broadcast",
		StreamUrl:   "http://cdn.example/stream/media.m3u8",
		VideoName:   "20260901T120000",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

// seedSuccessSegment installs an authoritative uploaded segment: state
// record with size plus membership in the success set.
func seedSuccessSegment(t *testing.T, ctx context.Context, segments *SegmentStateService, nums *SegmentNumberSet, num int, url string, duration float64, size int64, createdAt time.Time) {
	t.Helper()
	state := &entities.SegmentState{
		Num:             num,
		Url:             url,
		DurationSeconds: duration,
		CreatedAt:       createdAt,
	}
	if _, err := segments.SetIfAbsent(ctx, state); err != nil {
		t.Fatalf("SetIfAbsent(%d): %v", num, err)
	}
	if _, err := segments.MarkSuccess(ctx, state, size); err != nil {
		t.Fatalf("MarkSuccess(%d): %v", num, err)
	}
	if err := nums.SetNum(ctx, num); err != nil {
		t.Fatalf("SetNum(%d): %v", num, err)
	}
}
