package webhook_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/callmonitor/courier/internal/models"
	"github.com/callmonitor/courier/internal/modules/webhook"
	"github.com/callmonitor/courier/internal/pkg/deadletter"
	redisc "github.com/callmonitor/courier/internal/pkg/redis"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fixture struct {
	db         *gorm.DB
	store      *deadletter.Store
	dispatcher *webhook.Dispatcher
	svc        *webhook.Service
	// historyDown makes inserts into webhook_deliveries fail.
	historyDown *atomic.Bool
}

func setup(t *testing.T, opts ...webhook.DispatcherOption) fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.WebhookSubscription{}, &models.WebhookDelivery{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	historyDown := &atomic.Bool{}
	err = db.Callback().Create().Before("gorm:create").Register("test:fail_history", func(tx *gorm.DB) {
		if historyDown.Load() && tx.Statement.Table == "webhook_deliveries" {
			_ = tx.AddError(errors.New("delivery history unavailable"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := deadletter.NewStore(redisc.New(rdb))

	opts = append([]webhook.DispatcherOption{
		webhook.WithRetryBackoff(time.Millisecond),
		webhook.WithTimeout(2 * time.Second),
	}, opts...)
	dispatcher := webhook.NewDispatcher(db, store, opts...)
	t.Cleanup(dispatcher.Wait)

	return fixture{
		db:          db,
		store:       store,
		dispatcher:  dispatcher,
		svc:         webhook.NewService(db, dispatcher),
		historyDown: historyDown,
	}
}

func (f fixture) subscribe(t *testing.T, tenantID, url string, events ...string) *models.WebhookSubscription {
	t.Helper()
	w, err := f.svc.Create(context.Background(), tenantID, &webhook.CreateSubscriptionDTO{
		Name:      "test",
		TargetURL: url,
		Events:    events,
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return w
}

func (f fixture) deliveries(t *testing.T, subscriptionID string) []models.WebhookDelivery {
	t.Helper()
	var out []models.WebhookDelivery
	err := f.db.Where("subscription_id = ?", subscriptionID).Order("attempt ASC").Find(&out).Error
	if err != nil {
		t.Fatalf("load deliveries: %v", err)
	}
	return out
}

type captured struct {
	header http.Header
	body   []byte
	at     time.Time
}

// receiver is a stub subscriber endpoint answering with a settable status.
type receiver struct {
	mu        sync.Mutex
	requests  []captured
	status    atomic.Int32
	delay     time.Duration
	failFirst int
	srv       *httptest.Server
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()
	r := &receiver{}
	r.status.Store(int32(status))
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, captured{header: req.Header.Clone(), body: body, at: time.Now()})
		delay := r.delay
		status := int(r.status.Load())
		if len(r.requests) <= r.failFirst {
			status = http.StatusServiceUnavailable
		}
		r.mu.Unlock()

		if delay > 0 {
			select {
			case <-req.Context().Done():
				return
			case <-time.After(delay):
			}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *receiver) setDelay(d time.Duration) {
	r.mu.Lock()
	r.delay = d
	r.mu.Unlock()
}

// setFailFirst makes the first n requests answer 503.
func (r *receiver) setFailFirst(n int) {
	r.mu.Lock()
	r.failFirst = n
	r.mu.Unlock()
}

func (r *receiver) URL() string { return r.srv.URL + "/hook" }

func (r *receiver) received() []captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]captured(nil), r.requests...)
}
