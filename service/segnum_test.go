package service

import (
	"context"
	"testing"
	"time"

	"recnode/constant"
	"recnode/pkg/store"
)

func newTestNumberSet(t *testing.T) (*SegmentNumberSet, *testDeps) {
	clients, mr := newTestClients(t)
	nums := NewSegmentNumberSet(clients, "s1", constant.PurposeTagSuccess, 5*time.Minute, 60*time.Second)
	return nums, &testDeps{clients: clients, mr: mr}
}

func TestSegmentNumberSet_setAndQuery(t *testing.T) {
	nums, _ := newTestNumberSet(t)
	ctx := context.Background()

	for _, n := range []int{305, 301, 303} {
		if err := nums.SetNum(ctx, n); err != nil {
			t.Fatalf("SetNum(%d): %v", n, err)
		}
	}
	// duplicate add is idempotent
	if err := nums.SetNum(ctx, 303); err != nil {
		t.Fatal(err)
	}

	all, err := nums.All(ctx, store.Master)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0] != 301 || all[1] != 303 || all[2] != 305 {
		t.Errorf("All: got %v", all)
	}

	highest, err := nums.Highest(ctx, store.Master)
	if err != nil || highest == nil || *highest != 305 {
		t.Errorf("Highest: got %v err=%v", highest, err)
	}

	contains, err := nums.Contains(ctx, store.Master, 303)
	if err != nil || !contains {
		t.Errorf("Contains(303): got %v err=%v", contains, err)
	}
	contains, _ = nums.Contains(ctx, store.Master, 304)
	if contains {
		t.Error("Contains(304) should be false")
	}

	within, err := nums.Range(ctx, store.Master, 301, 303)
	if err != nil || len(within) != 2 {
		t.Errorf("Range: got %v err=%v", within, err)
	}
}

func TestSegmentNumberSet_emptyHighest(t *testing.T) {
	nums, _ := newTestNumberSet(t)

	highest, err := nums.Highest(context.Background(), store.Replica)
	if err != nil || highest != nil {
		t.Errorf("empty set highest: got %v err=%v", highest, err)
	}
}

func TestSegmentNumberSet_removeReplicaChecked(t *testing.T) {
	nums, _ := newTestNumberSet(t)
	ctx := context.Background()

	// member absent on replica: delete skipped, no error
	if err := nums.Remove(ctx, 999, true); err != nil {
		t.Errorf("replica-checked remove of absent member: %v", err)
	}

	if err := nums.SetNum(ctx, 301); err != nil {
		t.Fatal(err)
	}
	if err := nums.Remove(ctx, 301, true); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if contains, _ := nums.Contains(ctx, store.Master, 301); contains {
		t.Error("301 should be removed")
	}
}

func TestSegmentNumberSet_renew(t *testing.T) {
	nums, deps := newTestNumberSet(t)
	ctx := context.Background()

	// missing key: renew is a no-op
	if err := nums.Renew(ctx); err != nil {
		t.Fatalf("renew on missing key: %v", err)
	}

	if err := nums.SetNum(ctx, 1); err != nil {
		t.Fatal(err)
	}
	// freshly created key has no expiry, renew must apply one
	if err := nums.Renew(ctx); err != nil {
		t.Fatal(err)
	}
	if ttl := deps.mr.TTL(nums.Key()); ttl <= 0 {
		t.Fatal("renew should apply TTL to fresh key")
	}

	// remaining TTL far above the threshold: no refresh
	deps.mr.FastForward(time.Minute)
	before := deps.mr.TTL(nums.Key())
	if err := nums.Renew(ctx); err != nil {
		t.Fatal(err)
	}
	if after := deps.mr.TTL(nums.Key()); after > before {
		t.Errorf("renew refreshed above threshold: before=%v after=%v", before, after)
	}

	// drop below the threshold: refresh back to full TTL
	deps.mr.FastForward(3*time.Minute + 30*time.Second)
	if err := nums.Renew(ctx); err != nil {
		t.Fatal(err)
	}
	if after := deps.mr.TTL(nums.Key()); after < 4*time.Minute {
		t.Errorf("renew below threshold should refresh, got %v", after)
	}
}

func TestSegmentNumberSet_lockIsScopedToSet(t *testing.T) {
	nums, _ := newTestNumberSet(t)
	ctx := context.Background()

	first := nums.Lock()
	second := nums.Lock()
	if ok, err := first.TryAcquire(ctx, time.Minute); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := second.TryAcquire(ctx, time.Minute); ok {
		t.Error("second acquire on the same set should fail")
	}
}
