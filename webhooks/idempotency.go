package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/billing_backend/config"
)

// Gateways redeliver webhooks aggressively, so each accepted event takes a
// Redis lease keyed by environment, gateway and derived event id. The lease
// is deliberately never released: the surviving key is the marker that this
// delivery was already accepted, and the TTL (outlasting every gateway's
// redelivery window) is the cleanup.
const idempotencyLeaseTTL = 30 * 24 * time.Hour

func leaseKey(environment string, gateway string, derivedId string) string {
	return fmt.Sprintf("%s:%s_ipn.%s", environment, gateway, derivedId)
}

func counterKey(name string, gateway string) string {
	return fmt.Sprintf("webhook_metric:%s:%s", name, gateway)
}

// LeaseLocker is the subset of redislock.Client the deduper needs.
type LeaseLocker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// DedupConfig wires the deduper's collaborators, injectable like SpoolConfig.
type DedupConfig struct {
	Environment string
	Locker      LeaseLocker
	Count       func(ctx context.Context, name string, gateway string)
}

type Deduper struct {
	cfg DedupConfig
}

func NewDeduper(cfg DedupConfig) *Deduper {
	if cfg.Count == nil {
		cfg.Count = func(context.Context, string, string) {}
	}
	return &Deduper{cfg: cfg}
}

// newDefaultDeduper binds the production environment, lock client and metric
// counters. Built per delivery; all state lives in Redis.
func newDefaultDeduper() *Deduper {
	var locker LeaseLocker
	if l := config.GetRedisLock(); l != nil {
		locker = l
	}
	return NewDeduper(DedupConfig{
		Environment: config.AppEnvironment(),
		Locker:      locker,
		Count: func(ctx context.Context, name string, gateway string) {
			_, _ = config.IncrRedisCounter(ctx, counterKey(name, gateway))
		},
	})
}

// ShouldProcess decides whether this delivery is worked or dropped.
// Environment-mismatched events (a sandbox event hitting production, or the
// reverse) are dropped silently: both deployments receive every delivery and
// exactly one of them owns it. Duplicates lose the lease race and drop.
func (d *Deduper) ShouldProcess(ctx context.Context, event *GatewayEvent) (bool, error) {
	if event.Environment != d.cfg.Environment {
		d.cfg.Count(ctx, "env_mismatch_dropped", event.Gateway)
		return false, nil
	}

	if d.cfg.Locker == nil {
		return false, fmt.Errorf("redis lock not initialized")
	}
	_, err := d.cfg.Locker.Obtain(ctx, leaseKey(event.Environment, event.Gateway, event.DerivedId), idempotencyLeaseTTL, nil)
	if err == redislock.ErrNotObtained {
		d.cfg.Count(ctx, "duplicate_dropped", event.Gateway)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	d.cfg.Count(ctx, "accepted", event.Gateway)
	return true, nil
}

// ShouldProcess is the production entry point used by the ingress handler.
func ShouldProcess(ctx context.Context, event *GatewayEvent) (bool, error) {
	return newDefaultDeduper().ShouldProcess(ctx, event)
}
