package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/billing_backend/models"
)

// fakeLeaseLocker grants each key exactly once, like the Redis SET NX lease.
type fakeLeaseLocker struct {
	held map[string]bool
}

func (f *fakeLeaseLocker) Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error) {
	if f.held == nil {
		f.held = map[string]bool{}
	}
	if f.held[key] {
		return nil, redislock.ErrNotObtained
	}
	f.held[key] = true
	return nil, nil
}

func newDedupHarness(environment string) (*Deduper, map[string]int) {
	counts := map[string]int{}
	d := NewDeduper(DedupConfig{
		Environment: environment,
		Locker:      &fakeLeaseLocker{},
		Count: func(ctx context.Context, name string, gateway string) {
			counts[name]++
		},
	})
	return d, counts
}

func TestDuplicateDeliveryIsDroppedOnce(t *testing.T) {
	body := []byte(`{"id": "evt_dup", "type": "charge.succeeded", "livemode": true, "data": {"object": {"id": "ch_1"}}}`)
	d, counts := newDedupHarness("production")
	ctx := context.Background()

	first, err := ParseEvent(models.GatewayStripe, body)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ParseEvent(models.GatewayStripe, body)
	if err != nil {
		t.Fatal(err)
	}

	process, err := d.ShouldProcess(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if !process {
		t.Fatal("first delivery must be accepted")
	}
	process, err = d.ShouldProcess(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if process {
		t.Fatal("second identical delivery must drop, not produce a second job")
	}
	if counts["accepted"] != 1 || counts["duplicate_dropped"] != 1 {
		t.Fatalf("expected 1 accepted / 1 duplicate_dropped, got %v", counts)
	}
}

func TestEnvironmentMismatchDropsWithoutLease(t *testing.T) {
	locker := &fakeLeaseLocker{}
	counts := map[string]int{}
	d := NewDeduper(DedupConfig{
		Environment: "production",
		Locker:      locker,
		Count: func(ctx context.Context, name string, gateway string) {
			counts[name]++
		},
	})

	event := &GatewayEvent{Gateway: models.GatewayStripe, Environment: "sandbox", DerivedId: "evt_1"}
	process, err := d.ShouldProcess(context.Background(), event)
	if err != nil {
		t.Fatal(err)
	}
	if process {
		t.Fatal("wrong-environment delivery must drop")
	}
	if counts["env_mismatch_dropped"] != 1 {
		t.Fatalf("expected env_mismatch_dropped counter, got %v", counts)
	}
	// The lease belongs to the deployment that owns the environment.
	if len(locker.held) != 0 {
		t.Fatalf("mismatched delivery must not consume a lease, held %v", locker.held)
	}
}

func TestDistinctEventsEachGetALease(t *testing.T) {
	d, counts := newDedupHarness("sandbox")
	ctx := context.Background()

	for _, id := range []string{"evt_a", "evt_b"} {
		event := &GatewayEvent{Gateway: models.GatewayBraintree, Environment: "sandbox", DerivedId: id}
		process, err := d.ShouldProcess(ctx, event)
		if err != nil {
			t.Fatal(err)
		}
		if !process {
			t.Fatalf("event %s must be accepted", id)
		}
	}
	if counts["accepted"] != 2 {
		t.Fatalf("expected 2 accepted, got %v", counts)
	}
}
