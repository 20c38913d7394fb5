package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/callmonitor/courier/internal/models"
	"github.com/callmonitor/courier/internal/pkg/pagination"
	"github.com/callmonitor/courier/internal/pkg/response"
	"go.uber.org/zap"
	"golang.org/x/net/http/httpguts"
	"gorm.io/gorm"
)

const (
	secretBytes   = 32
	maxSecretLen  = 128
	maxNameLen    = 128
	maxURLLen     = 2048
	maxHeaderKeys = 20
)

// reservedHeaders are set by the dispatcher and cannot be overridden per subscription.
var reservedHeaders = map[string]struct{}{
	"Content-Type":       {},
	"Content-Length":     {},
	"Host":               {},
	"User-Agent":         {},
	headerID:             {},
	headerEvent:          {},
	headerTimestamp:      {},
	headerAttempt:        {},
	headerSignature:      {},
	headerSubscriptionID: {},
}

// Service is the tenant-scoped subscription registry.
type Service struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	logger     *zap.Logger
}

type ServiceOption func(*Service)

func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(db *gorm.DB, dispatcher *Dispatcher, opts ...ServiceOption) *Service {
	s := &Service{db: db, dispatcher: dispatcher, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("WebhookService")
	return s
}

func (s *Service) List(ctx context.Context, tenantID string) ([]models.WebhookSubscription, error) {
	items := []models.WebhookSubscription{}
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&items).Error
	return items, err
}

// Get returns ErrNotFound for ids that do not exist or belong to another tenant.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*models.WebhookSubscription, error) {
	var w models.WebhookSubscription
	err := s.db.WithContext(ctx).First(&w, "id = ? AND tenant_id = ?", id, tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Create validates dto and stores a subscription. The returned model carries
// the secret; callers reveal it only in the creation response.
func (s *Service) Create(ctx context.Context, tenantID string, dto *CreateSubscriptionDTO) (*models.WebhookSubscription, error) {
	target, err := normalizeTargetURL(dto.TargetURL)
	if err != nil {
		return nil, err
	}
	events, err := normalizeEvents(dto.Events)
	if err != nil {
		return nil, err
	}
	name, err := normalizeName(dto.Name)
	if err != nil {
		return nil, err
	}
	headers, err := normalizeHeaders(dto.ExtraHeaders)
	if err != nil {
		return nil, err
	}
	secret := strings.TrimSpace(dto.Secret)
	if secret == "" {
		if secret, err = generateSecret(); err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
	} else if len(secret) > maxSecretLen {
		return nil, invalid("secret", fmt.Sprintf("must be at most %d characters", maxSecretLen))
	}

	w := models.WebhookSubscription{
		TenantID:     tenantID,
		Name:         name,
		TargetURL:    target,
		EventTypes:   events,
		Secret:       secret,
		ExtraHeaders: headers,
		IsActive:     true,
	}
	if dto.IsActive != nil {
		w.IsActive = *dto.IsActive
	}
	if err := s.db.WithContext(ctx).Create(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// Update applies only the fields present in dto.
func (s *Service) Update(ctx context.Context, tenantID, id string, dto *UpdateSubscriptionDTO) (*models.WebhookSubscription, error) {
	w, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	changes, err := dto.changes()
	if err != nil {
		return nil, err
	}
	if changes.empty() {
		return w, nil
	}

	err = s.db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(changes.columns()).Error
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, tenantID, id)
}

// Delete hard-deletes the subscription. Its delivery history is kept.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&models.WebhookSubscription{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SendTest delivers a test.ping to one subscription through the regular
// delivery path and returns the recorded attempts.
func (s *Service) SendTest(ctx context.Context, tenantID, id string) ([]models.WebhookDelivery, error) {
	w, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	env, body, err := newEnvelope(tenantID, EventTestPing, map[string]any{
		"subscription_id": w.ID,
		"message":         "This is a test delivery.",
	}, s.dispatcher.now())
	if err != nil {
		return nil, err
	}
	return s.dispatcher.deliver(ctx, *w, env, body, 1), nil
}

// ListDeliveries returns the attempts recorded for a subscription, newest
// first. History stays readable after the subscription is deleted.
func (s *Service) ListDeliveries(ctx context.Context, tenantID, subscriptionID string, q pagination.Query) ([]models.WebhookDelivery, response.Pagination, error) {
	tx := s.db.WithContext(ctx).Model(&models.WebhookDelivery{}).
		Where("tenant_id = ? AND subscription_id = ?", tenantID, subscriptionID).
		Order("created_at DESC").
		Order("attempt DESC")
	items := []models.WebhookDelivery{}
	pag, err := pagination.Paginate(tx, q, &items)
	return items, pag, err
}

func (s *Service) GetDelivery(ctx context.Context, tenantID, id string) (*models.WebhookDelivery, error) {
	var d models.WebhookDelivery
	err := s.db.WithContext(ctx).First(&d, "id = ? AND tenant_id = ?", id, tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Redeliver resends a recorded body to its subscription under the same
// envelope id. Attempt numbers continue after the highest recorded one.
func (s *Service) Redeliver(ctx context.Context, tenantID, deliveryID string) ([]models.WebhookDelivery, error) {
	d, err := s.GetDelivery(ctx, tenantID, deliveryID)
	if err != nil {
		return nil, err
	}
	w, err := s.Get(ctx, tenantID, d.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if !w.IsActive {
		return nil, ErrInactive
	}

	var env Envelope
	if err := json.Unmarshal([]byte(d.Payload), &env); err != nil {
		return nil, fmt.Errorf("decode recorded payload: %w", err)
	}

	var last int
	err = s.db.WithContext(ctx).Model(&models.WebhookDelivery{}).
		Where("envelope_id = ? AND subscription_id = ?", d.EnvelopeID, d.SubscriptionID).
		Select("COALESCE(MAX(attempt), 0)").
		Scan(&last).Error
	if err != nil {
		return nil, err
	}
	return s.dispatcher.deliver(ctx, *w, &env, []byte(d.Payload), last+1), nil
}

// PruneDeliveries deletes delivery history older than before.
func (s *Service) PruneDeliveries(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.WebhookDelivery{})
	return res.RowsAffected, res.Error
}

type change struct {
	column string
	value  any
}

// changeSet is the ordered list of column assignments of a partial update.
type changeSet []change

func (cs changeSet) empty() bool { return len(cs) == 0 }

func (cs changeSet) columns() map[string]any {
	out := make(map[string]any, len(cs))
	for _, c := range cs {
		out[c.column] = c.value
	}
	return out
}

func (dto *UpdateSubscriptionDTO) changes() (changeSet, error) {
	var cs changeSet
	if dto.Name != nil {
		name, err := normalizeName(*dto.Name)
		if err != nil {
			return nil, err
		}
		cs = append(cs, change{"name", name})
	}
	if dto.TargetURL != nil {
		target, err := normalizeTargetURL(*dto.TargetURL)
		if err != nil {
			return nil, err
		}
		cs = append(cs, change{"target_url", target})
	}
	if dto.Events != nil {
		events, err := normalizeEvents(dto.Events)
		if err != nil {
			return nil, err
		}
		cs = append(cs, change{"event_types", events})
	}
	if dto.Secret != nil {
		secret := strings.TrimSpace(*dto.Secret)
		if secret == "" {
			return nil, invalid("secret", "must not be empty")
		}
		if len(secret) > maxSecretLen {
			return nil, invalid("secret", fmt.Sprintf("must be at most %d characters", maxSecretLen))
		}
		cs = append(cs, change{"secret", secret})
	}
	if dto.ExtraHeaders != nil {
		headers, err := normalizeHeaders(dto.ExtraHeaders)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(headers)
		if err != nil {
			return nil, err
		}
		cs = append(cs, change{"extra_headers", string(encoded)})
	}
	if dto.IsActive != nil {
		cs = append(cs, change{"is_active", *dto.IsActive})
	}
	return cs, nil
}

func normalizeTargetURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("target_url", "is required")
	}
	if len(raw) > maxURLLen {
		return "", invalid("target_url", "is too long")
	}
	u, err := neturl.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", invalid("target_url", "must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", invalid("target_url", "scheme must be http or https")
	}
	if u.User != nil {
		return "", invalid("target_url", "must not contain credentials")
	}
	return u.String(), nil
}

// normalizeEvents trims and de-duplicates events, rejecting unknown ones.
func normalizeEvents(events []string) (models.StringArray, error) {
	seen := map[string]struct{}{}
	out := make(models.StringArray, 0, len(events))
	for _, event := range events {
		next := strings.TrimSpace(event)
		if next == "" {
			continue
		}
		if !IsEvent(next) {
			return nil, invalid("events", fmt.Sprintf("unknown event type %q", next))
		}
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		out = append(out, next)
	}
	if len(out) == 0 {
		return nil, invalid("events", "must contain at least one event type")
	}
	return out, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) > maxNameLen {
		return "", invalid("name", fmt.Sprintf("must be at most %d characters", maxNameLen))
	}
	return name, nil
}

func normalizeHeaders(headers map[string]string) (map[string]string, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	if len(headers) > maxHeaderKeys {
		return nil, invalid("extra_headers", fmt.Sprintf("at most %d headers are allowed", maxHeaderKeys))
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		name := http.CanonicalHeaderKey(strings.TrimSpace(k))
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, invalid("extra_headers", fmt.Sprintf("invalid header name %q", k))
		}
		if _, ok := reservedHeaders[name]; ok {
			return nil, invalid("extra_headers", fmt.Sprintf("header %q is reserved", name))
		}
		if !httpguts.ValidHeaderFieldValue(v) {
			return nil, invalid("extra_headers", fmt.Sprintf("invalid value for header %q", name))
		}
		out[name] = v
	}
	return out, nil
}

func generateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
