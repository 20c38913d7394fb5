package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookSubscription is a tenant's outbound delivery target.
type WebhookSubscription struct {
	Base
	TenantID     string            `json:"tenant_id"               gorm:"type:char(36);not null;index"`
	Name         string            `json:"name"                    gorm:"size:128"`
	TargetURL    string            `json:"target_url"              gorm:"type:text;not null"`
	EventTypes   StringArray       `json:"event_types"             gorm:"type:text"`
	Secret       string            `json:"-"                       gorm:"size:128"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty" gorm:"type:text;serializer:json"`
	IsActive     bool              `json:"is_active"               gorm:"not null;index"`
}

func (WebhookSubscription) TableName() string { return "webhook_subscriptions" }

// Subscribes reports whether the subscription lists eventType.
func (w *WebhookSubscription) Subscribes(eventType string) bool {
	for _, e := range w.EventTypes {
		if e == eventType {
			return true
		}
	}
	return false
}

// WebhookDelivery is one delivery attempt. Rows are append-only and are kept
// when their subscription is deleted.
type WebhookDelivery struct {
	ID                  string    `json:"id"                    gorm:"type:char(36);primaryKey"`
	TenantID            string    `json:"tenant_id"             gorm:"type:char(36);not null;index"`
	SubscriptionID      string    `json:"subscription_id"       gorm:"type:char(36);not null;index:idx_delivery_sub_time,priority:1"`
	EnvelopeID          string    `json:"envelope_id"           gorm:"size:64;not null;index"`
	EventType           string    `json:"event_type"            gorm:"size:64;not null"`
	Payload             string    `json:"payload"               gorm:"type:text"`
	StatusCode          int       `json:"status_code"`
	ResponseBodyExcerpt string    `json:"response_body_excerpt" gorm:"type:text"`
	ResponseTimeMs      int64     `json:"response_time_ms"`
	Attempt             int       `json:"attempt"               gorm:"not null"`
	Success             bool      `json:"success"               gorm:"not null"`
	Error               string    `json:"error,omitempty"       gorm:"type:text"`
	CreatedAt           time.Time `json:"created_at"            gorm:"index:idx_delivery_sub_time,priority:2"`
}

func (WebhookDelivery) TableName() string { return "webhook_deliveries" }

func (d *WebhookDelivery) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}
