package syncengine

import (
	"encoding/json"

	"github.com/mmdatafocus/billing_backend/models"
)

// SyncModules is the per-profile module toggle set. Unknown modules in stored
// JSON are ignored on decode.
type SyncModules struct {
	Customers bool `json:"customers"`
	Invoices  bool `json:"invoices"`
	Payments  bool `json:"payments"`
}

func DefaultSyncModules() SyncModules {
	return SyncModules{Customers: true, Invoices: true, Payments: true}
}

func DecodeSyncModules(raw []byte) SyncModules {
	if len(raw) == 0 {
		return DefaultSyncModules()
	}
	var m SyncModules
	if err := json.Unmarshal(raw, &m); err != nil {
		return DefaultSyncModules()
	}
	return m
}

func EncodeSyncModules(m SyncModules) []byte {
	b, _ := json.Marshal(m)
	return b
}

// CursorEntry is the resumable read position for one entity type. Cursor is
// the provider's opaque page token; UpdatedSince bounds the incremental pull.
type CursorEntry struct {
	UpdatedSince string `json:"updated_since"`
	Cursor       string `json:"cursor"`
}

// CursorState maps entity type to its committed cursor.
type CursorState map[string]CursorEntry

func DecodeCursorState(raw []byte) CursorState {
	state := CursorState{}
	if len(raw) == 0 {
		return state
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return CursorState{}
	}
	return state
}

func EncodeCursorState(state CursorState) []byte {
	b, _ := json.Marshal(state)
	return b
}

// Pub/Sub message payloads.

type SyncRunMessage struct {
	RunId      uint   `json:"run_id"`
	BusinessId string `json:"business_id"`
	Provider   string `json:"provider"`
}

type WriteJobMessage struct {
	JobId         int    `json:"job_id"`
	BusinessId    string `json:"business_id"`
	EntityType    string `json:"entity_type"`
	EntityId      int    `json:"entity_id"`
	EventName     string `json:"event_name"`
	Provider      string `json:"provider"`
	CorrelationId string `json:"correlation_id"`
}

// API request/response shapes.

type ConnectProfileInput struct {
	Provider          string              `json:"provider" binding:"required"`
	AuthSecretRef     string              `json:"auth_secret_ref" binding:"required"`
	ExternalAccountId string              `json:"external_account_id"`
	Modules           *SyncModules        `json:"modules"`
	RoutingRules      []models.RoutingRule `json:"routing_rules"`
}

type TriggerSyncInput struct {
	Provider string `json:"provider" binding:"required"`
	Full     bool   `json:"full"`
}

type ResyncRecordInput struct {
	EntityType string `json:"entity_type" binding:"required"`
	ExternalId string `json:"external_id" binding:"required"`
}

type ProfileStatusResponse struct {
	Provider          string      `json:"provider"`
	Status            string      `json:"status"`
	Enabled           bool        `json:"enabled"`
	Modules           SyncModules `json:"modules"`
	LastSyncAt        *string     `json:"last_sync_at"`
	LastSuccessSyncAt *string     `json:"last_success_sync_at"`
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	Status        string  `json:"status"`
	TriggeredBy   string  `json:"triggered_by"`
	StartedAt     *string `json:"started_at"`
	FinishedAt    *string `json:"finished_at"`
	DurationMs    int64   `json:"duration_ms"`
	RecordsSynced int     `json:"records_synced"`
	ErrorCount    int     `json:"error_count"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	EntityType string `json:"entity_type"`
	ExternalId string `json:"external_id"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}
