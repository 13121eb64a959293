package syncengine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mmdatafocus/billing_backend/models"
)

type fakeRecord struct {
	id   string
	kind string
}

func (r fakeRecord) EntityType() string { return r.kind }
func (r fakeRecord) ExternalID() string { return r.id }

type fakeNormalized struct {
	id   string
	kind string
	body string
}

func (r fakeNormalized) EntityType() string  { return r.kind }
func (r fakeNormalized) ExternalID() string  { return r.id }
func (r fakeNormalized) Fingerprint() string { return r.body }

type fakeStream struct {
	pages []Page
	errAt int // fail Next on this page index (1-based); 0 = never
	calls int
}

func (s *fakeStream) Next(ctx context.Context) (*Page, error) {
	s.calls++
	if s.errAt > 0 && s.calls == s.errAt {
		return nil, errors.New("connection reset")
	}
	if s.calls > len(s.pages) {
		return nil, nil
	}
	return &s.pages[s.calls-1], nil
}

type fakeExtractor struct {
	stream *fakeStream
}

func (e *fakeExtractor) Initialize(ctx context.Context, profile *models.SyncProfile) error {
	return nil
}
func (e *fakeExtractor) GetObjects(ctx context.Context, entityType string, query ReadQuery) (PageStream, error) {
	return e.stream, nil
}
func (e *fakeExtractor) GetObject(ctx context.Context, entityType string, externalId string) (ExternalRecord, error) {
	for _, page := range e.stream.pages {
		for _, rec := range page.Records {
			if rec.ExternalID() == externalId {
				return rec, nil
			}
		}
	}
	return nil, &ExtractError{Op: "getObject " + entityType, Err: errors.New("not found")}
}

// fakeTransformer skips ids prefixed "skip-" and fails ids prefixed "bad-".
type fakeTransformer struct{}

func (t *fakeTransformer) Initialize(ctx context.Context, profile *models.SyncProfile) error {
	return nil
}
func (t *fakeTransformer) Transform(ctx context.Context, rec ExternalRecord) (AccountingRecord, error) {
	id := rec.ExternalID()
	if len(id) > 5 && id[:5] == "skip-" {
		return nil, nil
	}
	if len(id) > 4 && id[:4] == "bad-" {
		return nil, &TransformError{EntityType: rec.EntityType(), ExternalId: id, Err: errors.New("malformed")}
	}
	return fakeNormalized{id: id, kind: rec.EntityType(), body: "v1"}, nil
}

type fakeLoader struct {
	loaded  []string
	outcome ImportOutcome
	failIds map[string]bool
}

func (l *fakeLoader) Load(ctx context.Context, profile *models.SyncProfile, rec AccountingRecord) (ImportResult, error) {
	if l.failIds[rec.ExternalID()] {
		return ImportResult{}, &LoadError{EntityType: rec.EntityType(), ExternalId: rec.ExternalID(), Err: errors.New("validation failed")}
	}
	l.loaded = append(l.loaded, rec.ExternalID())
	outcome := l.outcome
	if outcome == "" {
		outcome = ImportCreated
	}
	return ImportResult{Outcome: outcome, InternalId: fmt.Sprintf("i-%d", len(l.loaded))}, nil
}

func runPipeline(t *testing.T, stream *fakeStream, loader *fakeLoader, commits *[]CursorEntry) (PipelineResult, error) {
	t.Helper()
	p := &Pipeline{
		Extractor:   &fakeExtractor{stream: stream},
		Transformer: &fakeTransformer{},
		Loader:      loader,
		CommitCursor: func(ctx context.Context, entityType string, cursor CursorEntry) error {
			if commits != nil {
				*commits = append(*commits, cursor)
			}
			return nil
		},
	}
	return p.Run(context.Background(), &models.SyncProfile{BusinessId: "biz-1", Provider: models.ProviderQBooks},
		models.EntityTypeCustomer, ReadQuery{UpdatedSince: "2026-08-01T00:00:00Z"})
}

func TestPipelineSkipIsNotFailure(t *testing.T) {
	stream := &fakeStream{pages: []Page{{
		Records: []ExternalRecord{
			fakeRecord{id: "cust-1", kind: models.EntityTypeCustomer},
			fakeRecord{id: "skip-cust-2", kind: models.EntityTypeCustomer},
		},
	}}}
	loader := &fakeLoader{}

	result, err := runPipeline(t, stream, loader, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(loader.loaded) != 1 || loader.loaded[0] != "cust-1" {
		t.Fatalf("expected only cust-1 loaded, got %v", loader.loaded)
	}
	if result.Stats.Created != 1 || result.Stats.Skipped != 1 || result.Stats.Failed != 0 {
		t.Fatalf("expected 1 created / 1 skipped / 0 failed, got %+v", result.Stats)
	}
}

func TestPipelineRecordFailuresDoNotStopTheRun(t *testing.T) {
	stream := &fakeStream{pages: []Page{{
		Records: []ExternalRecord{
			fakeRecord{id: "bad-1", kind: models.EntityTypeCustomer},
			fakeRecord{id: "cust-2", kind: models.EntityTypeCustomer},
			fakeRecord{id: "cust-3", kind: models.EntityTypeCustomer},
		},
	}}}
	loader := &fakeLoader{failIds: map[string]bool{"cust-3": true}}

	result, err := runPipeline(t, stream, loader, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.Failed != 2 {
		t.Fatalf("expected 2 failed (1 transform, 1 load), got %d", result.Stats.Failed)
	}
	if result.Stats.Created != 1 {
		t.Fatalf("expected the healthy record to still import, got %+v", result.Stats)
	}
	if len(result.Failures) != 2 {
		t.Fatalf("expected 2 recorded failures, got %d", len(result.Failures))
	}
}

func TestPipelineCommitsCursorPerPage(t *testing.T) {
	stream := &fakeStream{pages: []Page{
		{
			Records:    []ExternalRecord{fakeRecord{id: "cust-1", kind: models.EntityTypeCustomer}},
			NextCursor: "page-2",
			HasMore:    true,
		},
		{
			Records: []ExternalRecord{fakeRecord{id: "cust-2", kind: models.EntityTypeCustomer}},
		},
	}}
	loader := &fakeLoader{}
	var commits []CursorEntry

	result, err := runPipeline(t, stream, loader, &commits)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected one commit per page, got %d", len(commits))
	}
	if commits[0].Cursor != "page-2" {
		t.Fatalf("first commit must carry the next page position, got %q", commits[0].Cursor)
	}
	if result.Stats.Created != 2 {
		t.Fatalf("expected 2 created, got %+v", result.Stats)
	}
}

func TestPipelineExtractFailureKeepsCommittedProgress(t *testing.T) {
	stream := &fakeStream{
		pages: []Page{
			{
				Records:    []ExternalRecord{fakeRecord{id: "cust-1", kind: models.EntityTypeCustomer}},
				NextCursor: "page-2",
				HasMore:    true,
			},
		},
		errAt: 2,
	}
	loader := &fakeLoader{}
	var commits []CursorEntry

	result, err := runPipeline(t, stream, loader, &commits)
	if err == nil {
		t.Fatal("expected an extract error")
	}
	var extractErr *ExtractError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected *ExtractError, got %T", err)
	}
	// Page one committed before the failure, so a retry resumes at page-2.
	if len(commits) != 1 || commits[0].Cursor != "page-2" {
		t.Fatalf("expected committed progress through page-2, got %v", commits)
	}
	if result.Stats.Created != 1 {
		t.Fatalf("records before the failure still count, got %+v", result.Stats)
	}
}

func TestPipelineUnchangedCountsAsSkipped(t *testing.T) {
	stream := &fakeStream{pages: []Page{{
		Records: []ExternalRecord{fakeRecord{id: "cust-1", kind: models.EntityTypeCustomer}},
	}}}
	loader := &fakeLoader{outcome: ImportUnchanged}

	result, err := runPipeline(t, stream, loader, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Stats.Skipped != 1 || result.Stats.Created != 0 {
		t.Fatalf("re-delivered unchanged record must be a no-op, got %+v", result.Stats)
	}
}

func TestResyncRecordImportsOneRecord(t *testing.T) {
	stream := &fakeStream{pages: []Page{{
		Records: []ExternalRecord{
			fakeRecord{id: "cust-1", kind: models.EntityTypeCustomer},
			fakeRecord{id: "skip-cust-2", kind: models.EntityTypeCustomer},
		},
	}}}
	loader := &fakeLoader{}
	p := &Pipeline{
		Extractor:   &fakeExtractor{stream: stream},
		Transformer: &fakeTransformer{},
		Loader:      loader,
	}
	profile := &models.SyncProfile{BusinessId: "biz-1", Provider: models.ProviderQBooks}

	result, err := p.ResyncRecord(context.Background(), profile, models.EntityTypeCustomer, "cust-1")
	if err != nil {
		t.Fatal(err)
	}
	if result == nil || result.Outcome != ImportCreated {
		t.Fatalf("expected a created import, got %+v", result)
	}
	if len(loader.loaded) != 1 || loader.loaded[0] != "cust-1" {
		t.Fatalf("expected exactly cust-1 loaded, got %v", loader.loaded)
	}

	// A transformer skip resyncs to nothing, without error.
	result, err = p.ResyncRecord(context.Background(), profile, models.EntityTypeCustomer, "skip-cust-2")
	if err != nil {
		t.Fatal(err)
	}
	if result != nil {
		t.Fatalf("expected nil result for a skipped record, got %+v", result)
	}

	// An unknown record surfaces as an extract error.
	_, err = p.ResyncRecord(context.Background(), profile, models.EntityTypeCustomer, "cust-missing")
	var extractErr *ExtractError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected *ExtractError, got %T", err)
	}
}

func TestPipelineCancellationStopsBetweenPages(t *testing.T) {
	stream := &fakeStream{pages: []Page{
		{
			Records:    []ExternalRecord{fakeRecord{id: "cust-1", kind: models.EntityTypeCustomer}},
			NextCursor: "page-2",
			HasMore:    true,
		},
		{
			Records: []ExternalRecord{fakeRecord{id: "cust-2", kind: models.EntityTypeCustomer}},
		},
	}}
	loader := &fakeLoader{}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		Extractor:   &fakeExtractor{stream: stream},
		Transformer: &fakeTransformer{},
		Loader:      loader,
		CommitCursor: func(ctx context.Context, entityType string, cursor CursorEntry) error {
			cancel() // cancel after the first page commits
			return nil
		},
	}
	_, err := p.Run(ctx, &models.SyncProfile{BusinessId: "biz-1"}, models.EntityTypeCustomer, ReadQuery{})
	if err == nil {
		t.Fatal("expected cancellation to surface as an error")
	}
	if len(loader.loaded) != 1 {
		t.Fatalf("expected processing to stop after the first page, got %v", loader.loaded)
	}
}
