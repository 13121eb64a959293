package syncengine

import "fmt"

// Error kinds are distinct types so the scheduler and queue can apply a
// different retry policy per kind: extract errors are run-fatal and retried
// by re-running the whole sync, transform/load errors are per-record and
// absorbed into the run result, sync errors fail a single outbound write.

// ExtractError is a transport/auth failure talking to the external system.
// Fatal for the current run; never retried inline.
type ExtractError struct {
	Op  string
	Err error
}

func (e *ExtractError) Error() string { return fmt.Sprintf("extract %s: %v", e.Op, e.Err) }
func (e *ExtractError) Unwrap() error { return e.Err }

// TransformError marks one malformed/unsupported external record. The run
// records it as a per-record failure and continues.
type TransformError struct {
	EntityType string
	ExternalId string
	Err        error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s %s: %v", e.EntityType, e.ExternalId, e.Err)
}
func (e *TransformError) Unwrap() error { return e.Err }

// LoadError is a validation failure upserting one normalized record. The run
// records it and continues with the next record.
type LoadError struct {
	EntityType string
	ExternalId string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s %s: %v", e.EntityType, e.ExternalId, e.Err)
}
func (e *LoadError) Unwrap() error { return e.Err }

// SyncError is an outbound-write or configuration failure (including "no
// routing rule matches"). Never silently defaulted around.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string { return fmt.Sprintf("sync %s: %v", e.Op, e.Err) }
func (e *SyncError) Unwrap() error { return e.Err }
