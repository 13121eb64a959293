package syncengine

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/billing_backend/models"
)

// ReadQuery bounds one incremental pull of one entity type.
type ReadQuery struct {
	UpdatedSince string
	Cursor       string
	PageSize     int
}

// ExternalRecord is one raw object as returned by the external system.
type ExternalRecord interface {
	EntityType() string
	ExternalID() string
}

// AccountingRecord is the normalized form of an external record, ready to
// upsert. Fingerprint is a stable content hash used for no-op detection.
type AccountingRecord interface {
	EntityType() string
	ExternalID() string
	Fingerprint() string
}

// Page is one fetched page of external records plus the position after it.
type Page struct {
	Records    []ExternalRecord
	NextCursor string
	HasMore    bool
}

// PageStream yields pages lazily. Next returns (nil, nil) when exhausted.
type PageStream interface {
	Next(ctx context.Context) (*Page, error)
}

// Extractor pulls objects from the external system.
type Extractor interface {
	Initialize(ctx context.Context, profile *models.SyncProfile) error
	GetObjects(ctx context.Context, entityType string, query ReadQuery) (PageStream, error)
	GetObject(ctx context.Context, entityType string, externalId string) (ExternalRecord, error)
}

// Transformer normalizes one external record. Returning (nil, nil) is an
// intentional skip, not an error.
type Transformer interface {
	Initialize(ctx context.Context, profile *models.SyncProfile) error
	Transform(ctx context.Context, rec ExternalRecord) (AccountingRecord, error)
}

type ImportOutcome string

const (
	ImportCreated   ImportOutcome = "created"
	ImportUpdated   ImportOutcome = "updated"
	ImportDeleted   ImportOutcome = "deleted"
	ImportUnchanged ImportOutcome = "unchanged"
)

type ImportResult struct {
	Outcome    ImportOutcome
	InternalId string
}

// Loader upserts one normalized record into the platform, maintaining the
// entity mapping and confirmed hash so re-delivery is a no-op.
type Loader interface {
	Load(ctx context.Context, profile *models.SyncProfile, rec AccountingRecord) (ImportResult, error)
}

// Writer pushes one internal record to the external system.
type Writer interface {
	Initialize(ctx context.Context, profile *models.SyncProfile) error
	CreateRecord(ctx context.Context, profile *models.SyncProfile, rec models.SyncableRecord) error
	UpdateRecord(ctx context.Context, profile *models.SyncProfile, rec models.SyncableRecord) error
	DeleteRecord(ctx context.Context, profile *models.SyncProfile, entityType string, entityId int) error
}

// Adapter bundles the four pipeline roles for one external system.
type Adapter interface {
	Provider() string
	Extractor() Extractor
	Transformer() Transformer
	Loader() Loader
	Writer() Writer
}

var adapterFactories = map[string]func() Adapter{}

// RegisterAdapter is called from provider init() functions.
func RegisterAdapter(provider string, factory func() Adapter) {
	adapterFactories[provider] = factory
}

// AdapterFor returns a fresh adapter for the provider. Unknown providers are
// a configuration error, surfaced as SyncError.
func AdapterFor(provider string) (Adapter, error) {
	factory, ok := adapterFactories[provider]
	if !ok {
		return nil, &SyncError{Op: "adapterFor", Err: fmt.Errorf("unknown provider %q", provider)}
	}
	return factory(), nil
}
