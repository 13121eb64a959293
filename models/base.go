package models

import (
	"context"

	"github.com/google/uuid"
	"github.com/mmdatafocus/billing_backend/appctx"
	"github.com/mmdatafocus/billing_backend/utils"
)

// SyncableRecord is implemented by every record type eligible for accounting
// integration sync. Model hooks hand these to the write spool.
type SyncableRecord interface {
	SyncEntityType() string
	RecordID() int
	TenantID() string
}

// AccountingEventSink is the write spool's enqueue contract. The interface
// lives here (not in syncengine) so model hooks can depend on it without an
// import cycle, the same way appctx carries the shared context keys.
type AccountingEventSink interface {
	Enqueue(ctx context.Context, rec SyncableRecord, eventName string) error
}

// SinkFromContext returns the request/worker-scoped write spool, if one was
// attached. Mutations performed outside a spooled scope simply do not sync.
func SinkFromContext(ctx context.Context) (AccountingEventSink, bool) {
	if ctx == nil {
		return nil, false
	}
	sink, ok := ctx.Value(appctx.ContextKeyWriteSpool).(AccountingEventSink)
	return sink, ok && sink != nil
}

// SinkIntoContext attaches a write spool to ctx for the current scope.
func SinkIntoContext(ctx context.Context, sink AccountingEventSink) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyWriteSpool, sink)
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
