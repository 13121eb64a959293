package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/sirupsen/logrus"
)

// DefaultFlushThreshold bounds in-memory growth for bulk operations.
const DefaultFlushThreshold = 100

// SpoolEntry is one coalesced pending write. The dedup key is
// entityType/entityId/provider; the event name always reflects the latest
// observed mutation for that key.
type SpoolEntry struct {
	BusinessId string
	EntityType string
	EntityId   int
	EventName  string
	Provider   string
}

func (e SpoolEntry) key() string {
	return fmt.Sprintf("%s/%d/%s", e.EntityType, e.EntityId, e.Provider)
}

// SpoolConfig wires the spool's collaborators. Disabled is latched at scope
// creation; a scope started while writes are disabled stays disabled even if
// the flag flips mid-request.
type SpoolConfig struct {
	Disabled           bool
	FlushThreshold     int
	TenantSyncCapable  func(ctx context.Context, businessId string) (bool, error)
	ConnectedProviders func(ctx context.Context, businessId string) ([]string, error)
	Persist            func(ctx context.Context, entry SpoolEntry) error
}

// AccountingWriteSpool collects mutation events during one request or worker
// scope, dedupes them, and flushes them as durable write jobs. Not safe for
// concurrent use: one spool per scope, never shared.
type AccountingWriteSpool struct {
	cfg SpoolConfig

	keys    []string
	entries map[string]SpoolEntry

	// Per-tenant lookups cached for the spool's lifetime. A provider
	// connected mid-scope is picked up by the next scope.
	capableCache   map[string]bool
	connectedCache map[string][]string
}

// NewAccountingWriteSpool builds a spool for one scope.
func NewAccountingWriteSpool(cfg SpoolConfig) *AccountingWriteSpool {
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = DefaultFlushThreshold
	}
	return &AccountingWriteSpool{
		cfg:            cfg,
		entries:        map[string]SpoolEntry{},
		capableCache:   map[string]bool{},
		connectedCache: map[string][]string{},
	}
}

// NewRequestSpool builds the production spool used by HTTP requests and
// workers, with the write-disable flag read once at scope creation.
func NewRequestSpool() *AccountingWriteSpool {
	return NewAccountingWriteSpool(SpoolConfig{
		Disabled:           !config.AccountingWriteEnabled(),
		FlushThreshold:     DefaultFlushThreshold,
		TenantSyncCapable:  models.BusinessSyncCapable,
		ConnectedProviders: models.ConnectedProviders,
		Persist: func(ctx context.Context, entry SpoolEntry) error {
			return models.CreateWriteJob(ctx, entry.BusinessId, entry.EntityType, entry.EntityId, entry.EventName, entry.Provider)
		},
	})
}

func (s *AccountingWriteSpool) tenantCapable(ctx context.Context, businessId string) (bool, error) {
	if capable, ok := s.capableCache[businessId]; ok {
		return capable, nil
	}
	capable, err := s.cfg.TenantSyncCapable(ctx, businessId)
	if err != nil {
		return false, err
	}
	s.capableCache[businessId] = capable
	return capable, nil
}

func (s *AccountingWriteSpool) connectedProviders(ctx context.Context, businessId string) ([]string, error) {
	if providers, ok := s.connectedCache[businessId]; ok {
		return providers, nil
	}
	providers, err := s.cfg.ConnectedProviders(ctx, businessId)
	if err != nil {
		return nil, err
	}
	s.connectedCache[businessId] = providers
	return providers, nil
}

// providersFor applies entity-level exemptions: ledger transactions only sync
// to providers with a journal API.
func providersFor(entityType string, connected []string) []string {
	if entityType != models.EntityTypeLedgerTransaction {
		return connected
	}
	var out []string
	for _, p := range connected {
		if p == models.ProviderQBooks {
			out = append(out, p)
		}
	}
	return out
}

// Enqueue records a mutation event for every connected provider. No-op when
// writes are disabled, the tenant lacks the sync capability, or no provider
// is connected. Later events for the same key overwrite earlier ones.
func (s *AccountingWriteSpool) Enqueue(ctx context.Context, rec models.SyncableRecord, eventName string) error {
	if s.cfg.Disabled {
		return nil
	}
	businessId := rec.TenantID()
	if businessId == "" {
		return nil
	}
	capable, err := s.tenantCapable(ctx, businessId)
	if err != nil {
		return err
	}
	if !capable {
		return nil
	}
	connected, err := s.connectedProviders(ctx, businessId)
	if err != nil {
		return err
	}
	for _, provider := range providersFor(rec.SyncEntityType(), connected) {
		entry := SpoolEntry{
			BusinessId: businessId,
			EntityType: rec.SyncEntityType(),
			EntityId:   rec.RecordID(),
			EventName:  eventName,
			Provider:   provider,
		}
		k := entry.key()
		if _, exists := s.entries[k]; !exists {
			s.keys = append(s.keys, k)
		}
		s.entries[k] = entry
	}
	if len(s.entries) >= s.cfg.FlushThreshold {
		return s.Flush(ctx)
	}
	return nil
}

// Pending reports the number of spooled entries.
func (s *AccountingWriteSpool) Pending() int {
	return len(s.entries)
}

// Flush drains every pending entry in enqueue order. Each entry persists
// independently: one failure is logged and collected, the rest still flush.
// The spool is empty afterwards either way.
func (s *AccountingWriteSpool) Flush(ctx context.Context) error {
	var errs []error
	for _, k := range s.keys {
		entry := s.entries[k]
		if err := s.cfg.Persist(ctx, entry); err != nil {
			config.GetLogger().WithFields(logrus.Fields{
				"module":      "writeSpool",
				"business_id": entry.BusinessId,
				"entity_type": entry.EntityType,
				"entity_id":   entry.EntityId,
				"provider":    entry.Provider,
			}).Error("failed to persist write job: " + err.Error())
			errs = append(errs, err)
		}
	}
	s.keys = nil
	s.entries = map[string]SpoolEntry{}
	return errors.Join(errs...)
}

// Close flushes whatever is still pending. Deferred at scope exit.
func (s *AccountingWriteSpool) Close(ctx context.Context) error {
	return s.Flush(ctx)
}
