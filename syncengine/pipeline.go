package syncengine

import (
	"context"
	"errors"

	"github.com/mmdatafocus/billing_backend/models"
	"github.com/sirupsen/logrus"
)

// RecordFailure is one per-record failure absorbed by a run.
type RecordFailure struct {
	EntityType string
	ExternalId string
	Code       string
	Message    string
	Retryable  bool
}

// PipelineResult accumulates outcomes for one entity type across all pages
// processed, including pages processed before a fatal extract error.
type PipelineResult struct {
	Stats    models.EntityStats
	Failures []RecordFailure
	Cursor   CursorEntry
}

// Pipeline runs extract -> transform -> load for one entity type. CommitCursor
// is invoked after each fully-processed page so an interrupted run resumes
// from the last committed page; records on that page may be re-delivered,
// which the loader's fingerprint check absorbs.
type Pipeline struct {
	Extractor    Extractor
	Transformer  Transformer
	Loader       Loader
	Logger       *logrus.Logger
	CommitCursor func(ctx context.Context, entityType string, cursor CursorEntry) error
}

func (p *Pipeline) Run(ctx context.Context, profile *models.SyncProfile, entityType string, query ReadQuery) (PipelineResult, error) {
	result := PipelineResult{
		Cursor: CursorEntry{UpdatedSince: query.UpdatedSince, Cursor: query.Cursor},
	}

	stream, err := p.Extractor.GetObjects(ctx, entityType, query)
	if err != nil {
		return result, &ExtractError{Op: "getObjects " + entityType, Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, &ExtractError{Op: "getObjects " + entityType, Err: err}
		}
		page, err := stream.Next(ctx)
		if err != nil {
			var ee *ExtractError
			if errors.As(err, &ee) {
				return result, err
			}
			return result, &ExtractError{Op: "nextPage " + entityType, Err: err}
		}
		if page == nil {
			return result, nil
		}

		for _, rec := range page.Records {
			p.processRecord(ctx, profile, entityType, rec, &result)
		}

		// The page is fully processed: advance the durable cursor before
		// touching the next page.
		result.Cursor = CursorEntry{UpdatedSince: query.UpdatedSince, Cursor: page.NextCursor}
		if p.CommitCursor != nil {
			if err := p.CommitCursor(ctx, entityType, result.Cursor); err != nil {
				return result, &SyncError{Op: "commitCursor " + entityType, Err: err}
			}
		}
		if !page.HasMore {
			return result, nil
		}
	}
}

// ResyncRecord re-imports one record on demand, outside any run. A nil result
// is an intentional transformer skip. No cursor moves: the next incremental
// pull still covers this record's window.
func (p *Pipeline) ResyncRecord(ctx context.Context, profile *models.SyncProfile, entityType string, externalId string) (*ImportResult, error) {
	rec, err := p.Extractor.GetObject(ctx, entityType, externalId)
	if err != nil {
		var ee *ExtractError
		if errors.As(err, &ee) {
			return nil, err
		}
		return nil, &ExtractError{Op: "getObject " + entityType, Err: err}
	}
	normalized, err := p.Transformer.Transform(ctx, rec)
	if err != nil {
		return nil, err
	}
	if normalized == nil {
		return nil, nil
	}
	imported, err := p.Loader.Load(ctx, profile, normalized)
	if err != nil {
		return nil, err
	}
	return &imported, nil
}

func (p *Pipeline) processRecord(ctx context.Context, profile *models.SyncProfile, entityType string, rec ExternalRecord, result *PipelineResult) {
	normalized, err := p.Transformer.Transform(ctx, rec)
	if err != nil {
		result.Stats.Failed++
		result.Failures = append(result.Failures, RecordFailure{
			EntityType: entityType,
			ExternalId: rec.ExternalID(),
			Code:       "transform_failed",
			Message:    err.Error(),
		})
		p.logRecord(entityType, rec.ExternalID()).Warn("transform failed: " + err.Error())
		return
	}
	if normalized == nil {
		// Intentional skip, not a failure.
		result.Stats.Skipped++
		return
	}

	imported, err := p.Loader.Load(ctx, profile, normalized)
	if err != nil {
		result.Stats.Failed++
		result.Failures = append(result.Failures, RecordFailure{
			EntityType: entityType,
			ExternalId: rec.ExternalID(),
			Code:       "load_failed",
			Message:    err.Error(),
		})
		p.logRecord(entityType, rec.ExternalID()).Warn("load failed: " + err.Error())
		return
	}

	switch imported.Outcome {
	case ImportCreated:
		result.Stats.Created++
	case ImportUpdated:
		result.Stats.Updated++
	case ImportDeleted:
		result.Stats.Deleted++
	case ImportUnchanged:
		result.Stats.Skipped++
	}
}

func (p *Pipeline) logRecord(entityType string, externalId string) *logrus.Entry {
	logger := p.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithFields(logrus.Fields{
		"module":      "pipeline",
		"entity_type": entityType,
		"external_id": externalId,
	})
}
