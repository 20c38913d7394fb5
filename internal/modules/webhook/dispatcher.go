package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/callmonitor/courier/internal/models"
	"github.com/callmonitor/courier/internal/pkg/durable"
	"github.com/callmonitor/courier/internal/pkg/metrics"
	"github.com/callmonitor/courier/internal/pkg/signer"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DeliveryStream names the delivery-history buffer inside the dead-letter store.
	DeliveryStream = "webhook_delivery"

	DefaultTimeout         = 10 * time.Second
	DefaultRetryBackoff    = time.Second
	DefaultMaxFanout       = 50
	DefaultResponseExcerpt = 1024
	DefaultUserAgent       = "courier-webhooks/1.0"

	maxAttempts     = 2
	maxRetryBackoff = 5 * time.Second
	drainLimit      = 64 << 10

	headerID             = "X-Webhook-Id"
	headerEvent          = "X-Webhook-Event"
	headerTimestamp      = "X-Webhook-Timestamp"
	headerAttempt        = "X-Webhook-Attempt"
	headerSignature      = "X-Webhook-Signature"
	headerSubscriptionID = "X-Webhook-Subscription-Id"
)

// Dispatcher fans events out to matching subscriptions and records every attempt.
type Dispatcher struct {
	db         *gorm.DB
	client     *http.Client
	history    *durable.Writer[models.WebhookDelivery]
	flusher    *durable.Flusher[models.WebhookDelivery]
	logger     *zap.Logger
	clock      func() time.Time
	timeout    time.Duration
	backoff    time.Duration
	maxFanout  int
	excerpt    int
	userAgent  string
	historyTTL time.Duration
	wg         sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

// WithHTTPClient replaces the outbound client. The client is copied. A
// non-zero Timeout still applies on top of the per-attempt timeout, and a
// nil CheckRedirect is replaced so that redirects are not followed.
func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) {
		if client == nil {
			return
		}
		c := *client
		if c.CheckRedirect == nil {
			c.CheckRedirect = noRedirect
		}
		d.client = &c
	}
}

// noRedirect hands 3xx responses back as-is so they count as failures.
func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// WithTimeout bounds a single delivery attempt.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithRetryBackoff sets the wait between attempt 1 and attempt 2.
func WithRetryBackoff(backoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if backoff < 0 {
			return
		}
		d.backoff = min(backoff, maxRetryBackoff)
	}
}

func WithMaxFanout(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxFanout = n
		}
	}
}

// WithResponseExcerpt sets how many response body bytes are kept per attempt.
func WithResponseExcerpt(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.excerpt = n
		}
	}
}

func WithUserAgent(ua string) DispatcherOption {
	return func(d *Dispatcher) {
		if ua != "" {
			d.userAgent = ua
		}
	}
}

func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.clock = now
		}
	}
}

// WithHistoryTTL sets how long unpersisted delivery records stay buffered.
func WithHistoryTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.historyTTL = ttl }
}

func NewDispatcher(db *gorm.DB, buffer durable.BufferStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		db:        db,
		client:    &http.Client{CheckRedirect: noRedirect},
		logger:    zap.NewNop(),
		clock:     time.Now,
		timeout:   DefaultTimeout,
		backoff:   DefaultRetryBackoff,
		maxFanout: DefaultMaxFanout,
		excerpt:   DefaultResponseExcerpt,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("WebhookDispatcher")

	dopts := []durable.Option{
		durable.WithLogger(d.logger),
		durable.WithTTL(d.historyTTL),
		durable.WithClock(d.clock),
	}
	d.history = durable.NewWriter[models.WebhookDelivery](DeliveryStream, d.insert, buffer, dopts...)
	d.flusher = durable.NewFlusher[models.WebhookDelivery](DeliveryStream, d.insert, buffer, dopts...)
	return d
}

// Dispatch delivers eventType to the tenant's subscribers in the background.
// It never blocks or fails the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, eventType string, payload any) {
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("webhook dispatch panicked", zap.Any("panic", r), zap.String("event", eventType))
			}
		}()
		if _, err := d.DispatchSync(bg, tenantID, eventType, payload); err != nil {
			d.logger.Warn("webhook dispatch skipped",
				zap.String("tenant_id", tenantID),
				zap.String("event", eventType),
				zap.Error(err),
			)
		}
	}()
}

// DispatchSync runs the fan-out and waits for every subscriber. Delivery
// failures are recorded, not returned; only an unknown event type or a failed
// subscription lookup is an error.
func (d *Dispatcher) DispatchSync(ctx context.Context, tenantID, eventType string, payload any) ([]models.WebhookDelivery, error) {
	if !IsEvent(eventType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, eventType)
	}
	subs, err := d.matching(ctx, tenantID, eventType)
	if err != nil {
		return nil, fmt.Errorf("find subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil, nil
	}

	env, body, err := newEnvelope(tenantID, eventType, payload, d.now())
	if err != nil {
		return nil, err
	}

	results := make([][]models.WebhookDelivery, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("webhook delivery panicked", zap.Any("panic", r), zap.String("subscription_id", sub.ID))
				}
			}()
			results[i] = d.deliver(ctx, sub, env, body, 1)
		}()
	}
	wg.Wait()

	var out []models.WebhookDelivery
	for _, recs := range results {
		out = append(out, recs...)
	}
	return out, nil
}

// FlushHistory drains delivery records that could not be stored at attempt time.
func (d *Dispatcher) FlushHistory(ctx context.Context, batchSize int) (durable.FlushResult, error) {
	return d.flusher.Flush(ctx, batchSize)
}

// Wait blocks until background dispatches are done.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
	d.history.Wait()
}

func (d *Dispatcher) now() time.Time { return d.clock() }

// matching returns the tenant's active subscriptions to eventType. The LIKE
// clause only narrows the scan; Subscribes is the exact check.
func (d *Dispatcher) matching(ctx context.Context, tenantID, eventType string) ([]models.WebhookSubscription, error) {
	var candidates []models.WebhookSubscription
	err := d.db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Where("event_types LIKE ?", `%"`+eventType+`"%`).
		Order("created_at ASC").
		Limit(d.maxFanout + 1).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	subs := candidates[:0]
	for _, sub := range candidates {
		if sub.Subscribes(eventType) {
			subs = append(subs, sub)
		}
	}
	if len(subs) > d.maxFanout {
		d.logger.Warn("webhook fan-out capped",
			zap.String("tenant_id", tenantID),
			zap.String("event", eventType),
			zap.Int("max_fanout", d.maxFanout),
		)
		subs = subs[:d.maxFanout]
	}
	return subs, nil
}

// deliver runs the bounded retry loop for one subscription, numbering attempts
// from first. It returns the recorded attempts in order.
func (d *Dispatcher) deliver(ctx context.Context, sub models.WebhookSubscription, env *Envelope, body []byte, first int) []models.WebhookDelivery {
	records := make([]models.WebhookDelivery, 0, maxAttempts)
	for i := 0; i < maxAttempts; i++ {
		if i > 0 && !d.sleep(ctx) {
			break
		}
		rec := d.attempt(ctx, sub, env, body, first+i)
		d.record(ctx, rec)
		records = append(records, rec)
		if rec.Success {
			break
		}
	}
	return records
}

func (d *Dispatcher) sleep(ctx context.Context) bool {
	if d.backoff <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (d *Dispatcher) attempt(ctx context.Context, sub models.WebhookSubscription, env *Envelope, body []byte, attempt int) models.WebhookDelivery {
	rec := models.WebhookDelivery{
		ID:             uuid.New().String(),
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		EnvelopeID:     env.ID,
		EventType:      env.Type,
		Payload:        string(body),
		Attempt:        attempt,
		CreatedAt:      d.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(body))
	if err != nil {
		rec.Error = err.Error()
		d.logFailure(sub, &rec)
		return rec
	}
	d.setHeaders(req, sub, env, body, attempt)

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(start)
	rec.ResponseTimeMs = elapsed.Milliseconds()
	metrics.WebhookAttemptDurationSeconds.WithLabelValues(env.Type).Observe(elapsed.Seconds())

	if err != nil {
		rec.Error = err.Error()
	} else {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, int64(d.excerpt)))
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
		_ = resp.Body.Close()

		rec.StatusCode = resp.StatusCode
		rec.ResponseBodyExcerpt = strings.ToValidUTF8(string(excerpt), "")
		rec.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
		if !rec.Success {
			rec.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
	}
	metrics.WebhookAttemptsTotal.WithLabelValues(env.Type, strconv.FormatBool(rec.Success)).Inc()
	if !rec.Success {
		d.logFailure(sub, &rec)
	}
	return rec
}

func (d *Dispatcher) setHeaders(req *http.Request, sub models.WebhookSubscription, env *Envelope, body []byte, attempt int) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set(headerID, env.ID)
	req.Header.Set(headerEvent, env.Type)
	req.Header.Set(headerTimestamp, strconv.FormatInt(d.now().Unix(), 10))
	req.Header.Set(headerAttempt, strconv.Itoa(attempt))
	req.Header.Set(headerSubscriptionID, sub.ID)
	if sub.Secret != "" {
		req.Header.Set(headerSignature, signer.Header(body, sub.Secret))
	}
	for k, v := range sub.ExtraHeaders {
		req.Header.Set(k, v)
	}
}

// record stores one attempt. The request context may already be gone by now,
// and the record must still land.
func (d *Dispatcher) record(ctx context.Context, rec models.WebhookDelivery) {
	if outcome := d.history.Persist(context.WithoutCancel(ctx), rec); outcome == durable.OutcomeLost {
		d.logger.Error("webhook delivery record lost",
			zap.String("delivery_id", rec.ID),
			zap.String("subscription_id", rec.SubscriptionID),
		)
	}
}

// insert is the primary write for delivery records; a duplicate key means a
// previous flush already stored it.
func (d *Dispatcher) insert(ctx context.Context, rec models.WebhookDelivery) error {
	err := d.db.WithContext(ctx).Create(&rec).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

func (d *Dispatcher) logFailure(sub models.WebhookSubscription, rec *models.WebhookDelivery) {
	d.logger.Warn("webhook delivery attempt failed",
		zap.String("tenant_id", sub.TenantID),
		zap.String("subscription_id", sub.ID),
		zap.String("envelope_id", rec.EnvelopeID),
		zap.String("event", rec.EventType),
		zap.Int("attempt", rec.Attempt),
		zap.Int("status", rec.StatusCode),
		zap.String("error", rec.Error),
	)
}

// newEnvelope marshals the body once. Every receiver gets these exact bytes,
// and signatures are computed over them.
func newEnvelope(tenantID, eventType string, payload any, now time.Time) (*Envelope, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode payload: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, fmt.Errorf("generate envelope id: %w", err)
	}
	env := &Envelope{
		ID:         "evt_" + id.String(),
		Type:       eventType,
		OccurredAt: now.UTC(),
		TenantID:   tenantID,
		Data:       data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, nil, fmt.Errorf("encode envelope: %w", err)
	}
	return env, body, nil
}
