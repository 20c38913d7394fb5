package webhook

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/callmonitor/courier/internal/models"
)

// EventTestPing is sent by test deliveries only; it cannot be subscribed to.
const EventTestPing = "test.ping"

// eventEnum is the closed list of subscribable event types.
var eventEnum = []string{
	"call.started",
	"call.completed",
	"call.failed",
	"call.transferred",
	"recording.ready",
	"transcript.ready",
	"translation.ready",
	"voicemail.received",
	"survey.completed",
	"scorecard.ready",
	"campaign.completed",
	"compliance.alert",
}

var acceptedEvents = func() map[string]struct{} {
	out := make(map[string]struct{}, len(eventEnum))
	for _, event := range eventEnum {
		out[event] = struct{}{}
	}
	return out
}()

// Events returns the subscribable event types.
func Events() []string {
	return append([]string(nil), eventEnum...)
}

// IsEvent reports whether eventType can be subscribed to and dispatched.
func IsEvent(eventType string) bool {
	_, ok := acceptedEvents[eventType]
	return ok
}

var (
	ErrNotFound         = errors.New("webhook subscription not found")
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
	ErrInactive         = errors.New("webhook subscription is inactive")
	ErrUnknownEvent     = errors.New("unknown webhook event type")
)

// ValidationError rejects a registry request with a field-level reason.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Envelope is the JSON body delivered to every subscriber of one event.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	TenantID   string          `json:"tenant_id"`
	Data       json.RawMessage `json:"data"`
}

// CreateSubscriptionDTO is the request body for creating a subscription.
type CreateSubscriptionDTO struct {
	Name         string            `json:"name"`
	TargetURL    string            `json:"target_url"`
	Events       []string          `json:"events"`
	Secret       string            `json:"secret"`
	ExtraHeaders map[string]string `json:"extra_headers"`
	IsActive     *bool             `json:"is_active"`
}

// UpdateSubscriptionDTO is a partial update; nil fields are left unchanged.
type UpdateSubscriptionDTO struct {
	Name         *string           `json:"name"`
	TargetURL    *string           `json:"target_url"`
	Events       []string          `json:"events"`
	Secret       *string           `json:"secret"`
	ExtraHeaders map[string]string `json:"extra_headers"`
	IsActive     *bool             `json:"is_active"`
}

// subscriptionResponse is the outbound representation (no secret).
type subscriptionResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	TargetURL    string            `json:"target_url"`
	Events       []string          `json:"events"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
	IsActive     bool              `json:"is_active"`
	HasSecret    bool              `json:"has_secret"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// createdSubscriptionResponse reveals the secret once, at creation.
type createdSubscriptionResponse struct {
	subscriptionResponse
	Secret string `json:"secret"`
}

func toResponse(w *models.WebhookSubscription) subscriptionResponse {
	events := []string(w.EventTypes)
	if events == nil {
		events = []string{}
	}
	return subscriptionResponse{
		ID:           w.ID,
		Name:         w.Name,
		TargetURL:    w.TargetURL,
		Events:       events,
		ExtraHeaders: w.ExtraHeaders,
		IsActive:     w.IsActive,
		HasSecret:    w.Secret != "",
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}
