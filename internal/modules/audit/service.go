package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/callmonitor/courier/internal/models"
	"github.com/callmonitor/courier/internal/pkg/durable"
	"github.com/callmonitor/courier/internal/pkg/pagination"
	"github.com/callmonitor/courier/internal/pkg/response"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// Stream names the audit buffer inside the dead-letter store.
	Stream = "audit"

	labelTenant   = "_tenant_label"
	labelActor    = "_actor_label"
	labelResource = "_resource_label"
)

// Entry is the caller-facing audit record.
type Entry struct {
	TenantID     string
	ActorID      string
	ResourceType string
	ResourceID   string
	Action       Action
	Before       any
	After        any
	Metadata     map[string]any
	OccurredAt   time.Time
}

// ListQuery filters the audit read surface.
type ListQuery struct {
	Action       string
	ResourceType string
	Page         pagination.Query
}

// Service is the audit trail writer.
type Service struct {
	db      *gorm.DB
	buffer  durable.BufferStore
	writer  *durable.Writer[models.AuditLog]
	flusher *durable.Flusher[models.AuditLog]
	logger  *zap.Logger
	now     func() time.Time
	ttl     time.Duration
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBufferTTL sets how long failed writes stay in the buffer.
func WithBufferTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(db *gorm.DB, buffer durable.BufferStore, opts ...Option) *Service {
	s := &Service{
		db:     db,
		buffer: buffer,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("AuditService")

	dopts := []durable.Option{
		durable.WithLogger(s.logger),
		durable.WithTTL(s.ttl),
		durable.WithClock(s.now),
	}
	s.writer = durable.NewWriter[models.AuditLog](Stream, s.insert, buffer, dopts...)
	s.flusher = durable.NewFlusher[models.AuditLog](Stream, s.insert, buffer, dopts...)
	return s
}

// Record stores entry without blocking or failing the caller. Entries with an
// action outside the catalog are refused and logged.
func (s *Service) Record(ctx context.Context, entry Entry) {
	if !entry.Action.Valid() {
		s.logger.Error("refusing audit entry with unknown action",
			zap.String("action", string(entry.Action)),
			zap.String("resource_type", entry.ResourceType),
		)
		return
	}
	s.writer.Write(ctx, s.toRow(entry))
}

// Flush drains up to batchSize buffered entries back into the database.
func (s *Service) Flush(ctx context.Context, batchSize int) (durable.FlushResult, error) {
	return s.flusher.Flush(ctx, batchSize)
}

// Backlog returns the number of buffered entries, when the buffer can count.
func (s *Service) Backlog(ctx context.Context) (int, error) {
	counter, ok := s.buffer.(interface {
		Len(ctx context.Context, prefix string) (int, error)
	})
	if !ok {
		return 0, errors.New("buffer store cannot count entries")
	}
	return counter.Len(ctx, durable.Prefix(Stream))
}

// Wait blocks until pending background writes are done.
func (s *Service) Wait() { s.writer.Wait() }

// List returns a tenant's stored audit entries, newest first.
func (s *Service) List(ctx context.Context, tenantID string, q ListQuery) ([]models.AuditLog, response.Pagination, error) {
	tx := s.db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("tenant_id = ?", tenantID).
		Order("occurred_at DESC")
	if q.Action != "" {
		tx = tx.Where("action = ?", q.Action)
	}
	if q.ResourceType != "" {
		tx = tx.Where("resource_type = ?", q.ResourceType)
	}
	items := []models.AuditLog{}
	pag, err := pagination.Paginate(tx, q.Page, &items)
	return items, pag, err
}

// insert is the primary write. A duplicate key means an earlier attempt
// already landed, so it counts as success.
func (s *Service) insert(ctx context.Context, row models.AuditLog) error {
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

func (s *Service) toRow(e Entry) models.AuditLog {
	meta := make(map[string]any, len(e.Metadata)+3)
	for k, v := range e.Metadata {
		meta[k] = v
	}

	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}

	row := models.AuditLog{
		ID:           uuid.New().String(),
		TenantID:     identifier(e.TenantID, labelTenant, meta),
		ActorID:      identifier(e.ActorID, labelActor, meta),
		ResourceType: e.ResourceType,
		ResourceID:   identifier(e.ResourceID, labelResource, meta),
		Action:       string(e.Action),
		Before:       s.encode(e.Before, "_before_error", meta),
		After:        s.encode(e.After, "_after_error", meta),
		OccurredAt:   occurred.UTC(),
	}
	if len(meta) > 0 {
		row.Metadata = s.encode(meta, "", nil)
	}
	return row
}

// identifier returns v when it is a canonical UUID. Anything else is kept in
// meta under label and the strict column stays NULL.
func identifier(v, label string, meta map[string]any) *string {
	if v == "" {
		return nil
	}
	if IsIdentifier(v) {
		return &v
	}
	meta[label] = v
	return nil
}

// IsIdentifier reports whether v has the canonical 36-char UUID form.
func IsIdentifier(v string) bool {
	if len(v) != 36 {
		return false
	}
	_, err := uuid.Parse(v)
	return err == nil
}

func (s *Service) encode(v any, errKey string, meta map[string]any) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("encode audit field failed", zap.String("field", errKey), zap.Error(err))
		if meta != nil && errKey != "" {
			meta[errKey] = err.Error()
		}
		return nil
	}
	return datatypes.JSON(b)
}
