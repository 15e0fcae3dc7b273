package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"recnode/constant"
	"recnode/entities"
	"recnode/pkg/store"
)

func newTestSegmentService(t *testing.T) (*SegmentStateService, *testDeps) {
	clients, mr := newTestClients(t)
	svc := NewSegmentStateService(clients, "s1", 5*time.Minute, 10*time.Second, 3)
	return svc, &testDeps{clients: clients, mr: mr}
}

func TestSegmentStateService_setIfAbsentIdempotent(t *testing.T) {
	svc, _ := newTestSegmentService(t)
	ctx := context.Background()

	first := &entities.SegmentState{Num: 301, Url: "http://e/301.ts", DurationSeconds: 2.0}
	ok, err := svc.SetIfAbsent(ctx, first)
	if err != nil || !ok {
		t.Fatalf("first create: ok=%v err=%v", ok, err)
	}

	stored, err := svc.Get(ctx, store.Master, 301)
	if err != nil || stored == nil {
		t.Fatalf("Get: %v", err)
	}

	second := &entities.SegmentState{Num: 301, Url: "http://e/tampered.ts", DurationSeconds: 9.9}
	ok, err = svc.SetIfAbsent(ctx, second)
	if err != nil || ok {
		t.Fatalf("second create should fail: ok=%v err=%v", ok, err)
	}

	after, err := svc.Get(ctx, store.Master, 301)
	if err != nil || after == nil {
		t.Fatalf("Get after second create: %v", err)
	}
	if after.Url != "http://e/301.ts" {
		t.Errorf("second create overwrote record: %q", after.Url)
	}
	if !after.CreatedAt.Equal(stored.CreatedAt) || !after.UpdatedAt.Equal(stored.UpdatedAt) {
		t.Error("second create touched the first record's timestamps")
	}
}

func TestSegmentStateService_roundTrip(t *testing.T) {
	svc, _ := newTestSegmentService(t)
	ctx := context.Background()

	state := &entities.SegmentState{Num: 42, Url: "http://e/42.ts", DurationSeconds: 1.96}
	if _, err := svc.SetIfAbsent(ctx, state); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Get(ctx, store.Master, 42)
	if err != nil || got == nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Num != 42 || got.Url != state.Url || got.DurationSeconds != 1.96 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.SizeBytes != nil {
		t.Errorf("SizeBytes should stay unset before upload, got %v", *got.SizeBytes)
	}
	if got.ParallelLimit != 1 {
		t.Errorf("ParallelLimit should start at 1, got %d", got.ParallelLimit)
	}
}

func TestSegmentStateService_markSuccessAndRetrying(t *testing.T) {
	svc, _ := newTestSegmentService(t)
	ctx := context.Background()

	state := &entities.SegmentState{Num: 7, Url: "http://e/7.ts", DurationSeconds: 2.0}
	if _, err := svc.SetIfAbsent(ctx, state); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.MarkRetrying(ctx, state); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.Get(ctx, store.Master, 7)
	if !got.IsRetrying || got.ParallelLimit != 3 {
		t.Errorf("after MarkRetrying: retrying=%v limit=%d", got.IsRetrying, got.ParallelLimit)
	}

	if _, err := svc.MarkSuccess(ctx, state, 1024); err != nil {
		t.Fatal(err)
	}
	got, _ = svc.Get(ctx, store.Master, 7)
	if got.IsRetrying || got.ParallelLimit != 1 {
		t.Errorf("after MarkSuccess: retrying=%v limit=%d", got.IsRetrying, got.ParallelLimit)
	}
	if got.SizeBytes == nil || *got.SizeBytes != 1024 {
		t.Errorf("size not recorded: %v", got.SizeBytes)
	}
}

func TestSegmentStateService_lockSlotsBounded(t *testing.T) {
	svc, _ := newTestSegmentService(t)
	ctx := context.Background()

	state := &entities.SegmentState{Num: 5, Url: "http://e/5.ts", ParallelLimit: 2}

	first, err := svc.AcquireLock(ctx, state)
	if err != nil || first == nil {
		t.Fatalf("first lock: %v %v", first, err)
	}
	second, err := svc.AcquireLock(ctx, state)
	if err != nil || second == nil {
		t.Fatalf("second lock: %v %v", second, err)
	}
	if first.Slot == second.Slot {
		t.Errorf("concurrent holders share slot %d", first.Slot)
	}

	third, err := svc.AcquireLock(ctx, state)
	if err != nil {
		t.Fatal(err)
	}
	if third != nil {
		t.Errorf("third lock should be refused with limit 2, got slot %d", third.Slot)
	}

	if err := svc.ReleaseLock(ctx, first); err != nil {
		t.Fatalf("release: %v", err)
	}
	third, err = svc.AcquireLock(ctx, state)
	if err != nil || third == nil {
		t.Errorf("lock after release: %v %v", third, err)
	}
}

func TestSegmentStateService_releaseLockMismatch(t *testing.T) {
	svc, deps := newTestSegmentService(t)
	ctx := context.Background()

	state := &entities.SegmentState{Num: 5, Url: "http://e/5.ts", ParallelLimit: 1}
	lock, err := svc.AcquireLock(ctx, state)
	if err != nil || lock == nil {
		t.Fatalf("acquire: %v %v", lock, err)
	}

	// another process stole the slot
	deps.mr.Set("live:s1:segment:5:lock:0", "stolen-token")

	if err := svc.ReleaseLock(ctx, lock); !errors.Is(err, store.ErrLockMismatch) {
		t.Errorf("expected ErrLockMismatch, got %v", err)
	}
}

func TestSegmentStateService_retryCounters(t *testing.T) {
	svc, _ := newTestSegmentService(t)
	ctx := context.Background()

	n, err := svc.GetRetryCount(ctx, store.Master, 9)
	if err != nil || n != 0 {
		t.Fatalf("absent counter: n=%d err=%v", n, err)
	}
	if n, _ = svc.IncrementRetryCount(ctx, 9); n != 1 {
		t.Errorf("first increment: %d", n)
	}
	if n, _ = svc.IncrementRetryCount(ctx, 9); n != 2 {
		t.Errorf("second increment: %d", n)
	}
	if err := svc.ClearRetryCount(ctx, 9); err != nil {
		t.Fatal(err)
	}
	if n, _ = svc.GetRetryCount(ctx, store.Master, 9); n != 0 {
		t.Errorf("after clear: %d", n)
	}
}

func TestSegmentStateService_getBatchOmitsMissing(t *testing.T) {
	svc, _ := newTestSegmentService(t)
	ctx := context.Background()

	for _, num := range []int{1, 3} {
		if _, err := svc.SetIfAbsent(ctx, &entities.SegmentState{Num: num, Url: "u"}); err != nil {
			t.Fatal(err)
		}
	}
	batch, err := svc.GetBatch(ctx, store.Master, []int{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 2 {
		t.Errorf("expected 2 entries, got %d", len(batch))
	}
}

func TestSegmentStateService_deleteAll(t *testing.T) {
	clients, _ := newTestClients(t)
	svc := NewSegmentStateService(clients, "s1", 5*time.Minute, 10*time.Second, 3)
	nums := NewSegmentNumberSet(clients, "s1", constant.PurposeTagSuccess, 5*time.Minute, 60*time.Second)
	ctx := context.Background()

	for _, num := range []int{1, 2, 3} {
		if _, err := svc.SetIfAbsent(ctx, &entities.SegmentState{Num: num, Url: "u"}); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.IncrementRetryCount(ctx, num); err != nil {
			t.Fatal(err)
		}
		if err := nums.SetNum(ctx, num); err != nil {
			t.Fatal(err)
		}
	}

	if err := svc.DeleteAll(ctx, nums); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}

	size, _ := nums.Size(ctx, store.Master)
	if size != 0 {
		t.Errorf("set not cleared: size=%d", size)
	}
	for _, num := range []int{1, 2, 3} {
		state, _ := svc.Get(ctx, store.Master, num)
		if state != nil {
			t.Errorf("segment %d state not deleted", num)
		}
		if n, _ := svc.GetRetryCount(ctx, store.Master, num); n != 0 {
			t.Errorf("segment %d retry counter not cleared", num)
		}
	}
}
