package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"gorm.io/gorm"
)

// Which side originated the mapping link. A link created by an extraction
// (external source) must not be overwritten by an internally-initiated write.
const (
	MappingSourceInternal = "internal"
	MappingSourceExternal = "external"
)

// EntityMapping is the durable link between an internal record and its
// counterpart in one external system. At most one mapping per
// (business, provider, entity_type, internal_id) and per
// (business, provider, entity_type, external_id).
type EntityMapping struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	BusinessId        string     `gorm:"uniqueIndex:idx_mapping_ext,priority:1;uniqueIndex:idx_mapping_int,priority:1;not null" json:"business_id"`
	Provider          string     `gorm:"uniqueIndex:idx_mapping_ext,priority:2;uniqueIndex:idx_mapping_int,priority:2;size:50;not null" json:"provider"`
	EntityType        string     `gorm:"uniqueIndex:idx_mapping_ext,priority:3;uniqueIndex:idx_mapping_int,priority:3;size:50;not null" json:"entity_type"`
	ExternalId        string     `gorm:"uniqueIndex:idx_mapping_ext,priority:4;size:128;not null" json:"external_id"`
	InternalId        string     `gorm:"uniqueIndex:idx_mapping_int,priority:4;size:128;not null" json:"internal_id"`
	Source            string     `gorm:"size:20;not null" json:"source"`
	LastConfirmedHash string     `gorm:"size:64" json:"last_confirmed_hash"`
	LastSeenAt        *time.Time `json:"last_seen_at"`
	MetadataJSON      []byte     `gorm:"type:json" json:"metadata"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func FindMappingByExternalId(ctx context.Context, businessId string, provider string, entityType string, externalId string) (*EntityMapping, error) {
	var mapping EntityMapping
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND provider = ? AND entity_type = ? AND external_id = ?",
			businessId, provider, entityType, externalId).
		Take(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mapping, nil
}

func FindMappingByInternalId(ctx context.Context, businessId string, provider string, entityType string, internalId string) (*EntityMapping, error) {
	var mapping EntityMapping
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND provider = ? AND entity_type = ? AND internal_id = ?",
			businessId, provider, entityType, internalId).
		Take(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mapping, nil
}

func CreateMapping(ctx context.Context, mapping *EntityMapping) error {
	now := time.Now()
	mapping.LastSeenAt = &now
	return config.GetDB().WithContext(ctx).Create(mapping).Error
}

// DeleteMapping removes a link after the external counterpart is deleted.
func DeleteMapping(ctx context.Context, mappingId uint) error {
	return config.GetDB().WithContext(ctx).
		Where("id = ?", mappingId).
		Delete(&EntityMapping{}).Error
}

// TouchMapping refreshes an existing link after a successful sync in either
// direction: confirmed value hash, last-seen time, and (for external loads)
// the internal id the external record now maps to.
func TouchMapping(ctx context.Context, mappingId uint, internalId string, confirmedHash string) error {
	now := time.Now()
	return config.GetDB().WithContext(ctx).
		Model(&EntityMapping{}).
		Where("id = ?", mappingId).
		Updates(map[string]interface{}{
			"internal_id":         internalId,
			"last_confirmed_hash": confirmedHash,
			"last_seen_at":        &now,
		}).Error
}
