package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog is an immutable compliance record of a tenant mutation.
// Identifier columns hold UUIDs only; anything else lives in Metadata.
type AuditLog struct {
	ID           string         `json:"id"                 gorm:"type:char(36);primaryKey"`
	TenantID     *string        `json:"tenant_id"          gorm:"type:char(36);index:idx_audit_tenant_time,priority:1"`
	ActorID      *string        `json:"actor_id"           gorm:"type:char(36);index"`
	ResourceType string         `json:"resource_type"      gorm:"size:64;index"`
	ResourceID   *string        `json:"resource_id"        gorm:"type:char(36)"`
	Action       string         `json:"action"             gorm:"size:96;not null;index"`
	Before       datatypes.JSON `json:"before,omitempty"`
	After        datatypes.JSON `json:"after,omitempty"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"        gorm:"not null;index:idx_audit_tenant_time,priority:2"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}
