package syncengine

import (
	"context"
	"testing"

	"github.com/mmdatafocus/billing_backend/models"
)

type spoolHarness struct {
	spool          *AccountingWriteSpool
	persisted      []SpoolEntry
	connectedCalls int
}

func newSpoolHarness(t *testing.T, providers []string, threshold int) *spoolHarness {
	t.Helper()
	h := &spoolHarness{}
	h.spool = NewAccountingWriteSpool(SpoolConfig{
		FlushThreshold: threshold,
		TenantSyncCapable: func(ctx context.Context, businessId string) (bool, error) {
			return true, nil
		},
		ConnectedProviders: func(ctx context.Context, businessId string) ([]string, error) {
			h.connectedCalls++
			return providers, nil
		},
		Persist: func(ctx context.Context, entry SpoolEntry) error {
			h.persisted = append(h.persisted, entry)
			return nil
		},
	})
	return h
}

func TestSpoolDedupesAndKeepsLatestEvent(t *testing.T) {
	h := newSpoolHarness(t, []string{models.ProviderQBooks}, 100)
	ctx := context.Background()
	customer := models.Customer{ID: 7, BusinessId: "biz-1"}

	if err := h.spool.Enqueue(ctx, customer, models.SyncEventCreated); err != nil {
		t.Fatal(err)
	}
	if err := h.spool.Enqueue(ctx, customer, models.SyncEventUpdated); err != nil {
		t.Fatal(err)
	}
	if got := h.spool.Pending(); got != 1 {
		t.Fatalf("expected 1 pending entry after dedup, got %d", got)
	}

	if err := h.spool.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(h.persisted) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d", len(h.persisted))
	}
	if h.persisted[0].EventName != models.SyncEventUpdated {
		t.Fatalf("expected latest event to win, got %s", h.persisted[0].EventName)
	}
}

func TestSpoolFansOutPerConnectedProvider(t *testing.T) {
	h := newSpoolHarness(t, []string{"netledger", models.ProviderQBooks}, 100)
	ctx := context.Background()

	if err := h.spool.Enqueue(ctx, models.Customer{ID: 1, BusinessId: "biz-1"}, models.SyncEventCreated); err != nil {
		t.Fatal(err)
	}
	if got := h.spool.Pending(); got != 2 {
		t.Fatalf("expected one entry per provider, got %d", got)
	}
}

func TestSpoolLedgerTransactionsOnlyGoToGeneralLedgerProvider(t *testing.T) {
	h := newSpoolHarness(t, []string{"netledger", models.ProviderQBooks}, 100)
	ctx := context.Background()

	txn := models.LedgerTransaction{ID: 3, BusinessId: "biz-1"}
	if err := h.spool.Enqueue(ctx, txn, models.SyncEventCreated); err != nil {
		t.Fatal(err)
	}
	if err := h.spool.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(h.persisted) != 1 {
		t.Fatalf("expected only the journal-capable provider, got %d entries", len(h.persisted))
	}
	if h.persisted[0].Provider != models.ProviderQBooks {
		t.Fatalf("expected %s, got %s", models.ProviderQBooks, h.persisted[0].Provider)
	}
}

func TestSpoolFlushesAtThreshold(t *testing.T) {
	h := newSpoolHarness(t, []string{models.ProviderQBooks}, 3)
	ctx := context.Background()

	for id := 1; id <= 3; id++ {
		if err := h.spool.Enqueue(ctx, models.Customer{ID: id, BusinessId: "biz-1"}, models.SyncEventCreated); err != nil {
			t.Fatal(err)
		}
	}
	if len(h.persisted) != 3 {
		t.Fatalf("expected threshold flush to persist 3 entries, got %d", len(h.persisted))
	}
	if got := h.spool.Pending(); got != 0 {
		t.Fatalf("expected empty spool after threshold flush, got %d", got)
	}
}

func TestSpoolCloseFlushesPending(t *testing.T) {
	h := newSpoolHarness(t, []string{models.ProviderQBooks}, 100)
	ctx := context.Background()

	if err := h.spool.Enqueue(ctx, models.Invoice{ID: 11, BusinessId: "biz-1"}, models.SyncEventCreated); err != nil {
		t.Fatal(err)
	}
	if err := h.spool.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if len(h.persisted) != 1 {
		t.Fatalf("expected Close to flush, got %d persisted", len(h.persisted))
	}
}

func TestSpoolDisabledIsNoOp(t *testing.T) {
	h := &spoolHarness{}
	h.spool = NewAccountingWriteSpool(SpoolConfig{
		Disabled: true,
		TenantSyncCapable: func(ctx context.Context, businessId string) (bool, error) {
			t.Fatal("capability must not be checked when disabled")
			return false, nil
		},
		ConnectedProviders: func(ctx context.Context, businessId string) ([]string, error) {
			return nil, nil
		},
		Persist: func(ctx context.Context, entry SpoolEntry) error {
			h.persisted = append(h.persisted, entry)
			return nil
		},
	})
	ctx := context.Background()

	if err := h.spool.Enqueue(ctx, models.Customer{ID: 1, BusinessId: "biz-1"}, models.SyncEventCreated); err != nil {
		t.Fatal(err)
	}
	if err := h.spool.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if len(h.persisted) != 0 {
		t.Fatalf("disabled spool must persist nothing, got %d", len(h.persisted))
	}
}

func TestSpoolCachesConnectedProvidersPerTenant(t *testing.T) {
	h := newSpoolHarness(t, []string{models.ProviderQBooks}, 100)
	ctx := context.Background()

	for id := 1; id <= 5; id++ {
		if err := h.spool.Enqueue(ctx, models.Customer{ID: id, BusinessId: "biz-1"}, models.SyncEventCreated); err != nil {
			t.Fatal(err)
		}
	}
	if h.connectedCalls != 1 {
		t.Fatalf("expected one connected-provider lookup per tenant per scope, got %d", h.connectedCalls)
	}
}

func TestSpoolSkipsTenantsWithoutCapability(t *testing.T) {
	persisted := 0
	spool := NewAccountingWriteSpool(SpoolConfig{
		TenantSyncCapable: func(ctx context.Context, businessId string) (bool, error) {
			return false, nil
		},
		ConnectedProviders: func(ctx context.Context, businessId string) ([]string, error) {
			return []string{models.ProviderQBooks}, nil
		},
		Persist: func(ctx context.Context, entry SpoolEntry) error {
			persisted++
			return nil
		},
	})
	ctx := context.Background()

	if err := spool.Enqueue(ctx, models.Customer{ID: 1, BusinessId: "biz-1"}, models.SyncEventCreated); err != nil {
		t.Fatal(err)
	}
	if err := spool.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if persisted != 0 {
		t.Fatalf("tenant without capability must not spool, got %d", persisted)
	}
}
