package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"gorm.io/gorm"
)

const (
	SyncProfileStatusConnected    = "connected"
	SyncProfileStatusDisconnected = "disconnected"
	SyncProfileStatusError        = "error"
)

// SyncProfile is the per (business, provider) integration configuration:
// connection state, module toggles, field mappings, payment routing rules and
// the read/write cursors the pipeline advances. One row per pair; never
// deleted while the integration is connected.
type SyncProfile struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	BusinessId        string     `gorm:"uniqueIndex:idx_sync_profile,priority:1;not null" json:"business_id"`
	Provider          string     `gorm:"uniqueIndex:idx_sync_profile,priority:2;size:50;not null" json:"provider"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	Enabled           *bool      `gorm:"not null;default:true" json:"enabled"`
	AuthSecretRef     string     `gorm:"type:text" json:"auth_secret_ref"`
	ExternalAccountId string     `gorm:"size:100" json:"external_account_id"`
	SettingsJSON      []byte     `gorm:"type:json" json:"settings"`
	RoutingRulesJSON  []byte     `gorm:"type:json" json:"routing_rules"`
	CursorStateJSON   []byte     `gorm:"type:json" json:"cursor_state"`
	WriteCursor       int64      `gorm:"default:0" json:"write_cursor"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// RoutingRule maps a payment to a target ledger account. "*" (or empty)
// wildcards a dimension. Rules are an ordered list on the profile; the first
// listed rule wins score ties.
type RoutingRule struct {
	Currency         string `json:"currency"`
	Method           string `json:"method"`
	MerchantAccount  string `json:"merchant_account"`
	TargetAccount    string `json:"target_account" validate:"required"`
	UndepositedFunds bool   `json:"undeposited_funds"`
}

func DecodeRoutingRules(raw []byte) []RoutingRule {
	if len(raw) == 0 {
		return nil
	}
	var rules []RoutingRule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil
	}
	return rules
}

func EncodeRoutingRules(rules []RoutingRule) []byte {
	b, _ := json.Marshal(rules)
	return b
}

func GetSyncProfile(ctx context.Context, businessId string, provider string) (*SyncProfile, error) {
	var profile SyncProfile
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND provider = ?", businessId, provider).
		Take(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// ConnectedProviders lists providers with a connected, enabled profile for
// the tenant. The write spool caches this per tenant for its own lifetime.
func ConnectedProviders(ctx context.Context, businessId string) ([]string, error) {
	var providers []string
	err := config.GetDB().WithContext(ctx).
		Model(&SyncProfile{}).
		Where("business_id = ? AND status = ? AND enabled = 1", businessId, SyncProfileStatusConnected).
		Order("provider").
		Pluck("provider", &providers).Error
	return providers, err
}

// CommitCursorState persists an advanced read cursor on both the profile and
// the run snapshot. Called only after a page fully commits, so a crashed run
// resumes from the last committed page.
func CommitCursorState(ctx context.Context, profileId uint, runId uint, cursorJSON []byte) error {
	db := config.GetDB().WithContext(ctx)
	if err := db.Model(&SyncProfile{}).
		Where("id = ?", profileId).
		Update("cursor_state_json", cursorJSON).Error; err != nil {
		return err
	}
	return db.Model(&SyncRun{}).
		Where("id = ?", runId).
		Update("cursor_state_json", cursorJSON).Error
}
