package models

import (
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Mutation hooks hand changed records to the request-scoped write spool.
// Enqueue failures are logged, never propagated: the platform mutation must
// stay durable even when outbound sync is degraded.

func enqueueSyncEvent(tx *gorm.DB, rec SyncableRecord, eventName string) {
	ctx := tx.Statement.Context
	sink, ok := SinkFromContext(ctx)
	if !ok {
		return
	}
	if err := sink.Enqueue(ctx, rec, eventName); err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"module":      "modelHooks",
			"entity_type": rec.SyncEntityType(),
			"entity_id":   rec.RecordID(),
			"business_id": rec.TenantID(),
			"event":       eventName,
		}).Error("failed to spool accounting write: " + err.Error())
	}
}

func (c *Customer) AfterCreate(tx *gorm.DB) (err error) {
	enqueueSyncEvent(tx, *c, SyncEventCreated)
	return nil
}

func (c *Customer) AfterUpdate(tx *gorm.DB) (err error) {
	enqueueSyncEvent(tx, *c, SyncEventUpdated)
	return nil
}

func (c *Customer) AfterDelete(tx *gorm.DB) (err error) {
	enqueueSyncEvent(tx, *c, SyncEventDeleted)
	return nil
}

func (i *Invoice) AfterCreate(tx *gorm.DB) (err error) {
	enqueueSyncEvent(tx, *i, SyncEventCreated)
	return nil
}

func (i *Invoice) AfterUpdate(tx *gorm.DB) (err error) {
	enqueueSyncEvent(tx, *i, SyncEventUpdated)
	return nil
}

func (i *Invoice) AfterDelete(tx *gorm.DB) (err error) {
	enqueueSyncEvent(tx, *i, SyncEventDeleted)
	return nil
}

func (p *Payment) AfterCreate(tx *gorm.DB) (err error) {
	enqueueSyncEvent(tx, *p, SyncEventCreated)
	return nil
}

func (p *Payment) AfterUpdate(tx *gorm.DB) (err error) {
	enqueueSyncEvent(tx, *p, SyncEventUpdated)
	return nil
}

func (l *LedgerTransaction) AfterCreate(tx *gorm.DB) (err error) {
	enqueueSyncEvent(tx, *l, SyncEventCreated)
	return nil
}
