package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/callmonitor/courier/internal/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func serve(r http.Handler, method, path string, headers map[string]string) int {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(newRedis(t), 3))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Keep all requests inside one window.
	for time.Now().Nanosecond() > 800*int(time.Millisecond) {
		time.Sleep(10 * time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		if code := serve(r, http.MethodGet, "/x", nil); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := serve(r, http.MethodGet, "/x", nil); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })

	r := gin.New()
	r.Use(RateLimit(rdb, 1))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 3; i++ {
		if code := serve(r, http.MethodGet, "/x", nil); code != http.StatusOK {
			t.Fatalf("expected fail-open 200, got %d", code)
		}
	}
}

func TestIdempotence(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var calls atomic.Int32
	status := atomic.Int32{}
	status.Store(http.StatusCreated)

	r := gin.New()
	r.Use(Idempotence(newRedis(t)))
	r.POST("/x", func(c *gin.Context) {
		calls.Add(1)
		c.Status(int(status.Load()))
	})

	// No key: never deduplicated.
	serve(r, http.MethodPost, "/x", nil)
	serve(r, http.MethodPost, "/x", nil)
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls without key, got %d", calls.Load())
	}

	key := map[string]string{IdempotencyHeader: "abc"}
	if code := serve(r, http.MethodPost, "/x", key); code != http.StatusCreated {
		t.Fatalf("first keyed request: %d", code)
	}
	if code := serve(r, http.MethodPost, "/x", key); code != http.StatusConflict {
		t.Fatalf("replay: expected 409, got %d", code)
	}

	// Another caller may reuse the key.
	other := map[string]string{IdempotencyHeader: "abc", "Authorization": "Bearer other"}
	if code := serve(r, http.MethodPost, "/x", other); code != http.StatusCreated {
		t.Fatalf("other caller: %d", code)
	}

	// Failures release the key.
	status.Store(http.StatusBadRequest)
	retry := map[string]string{IdempotencyHeader: "retry-me"}
	serve(r, http.MethodPost, "/x", retry)
	if code := serve(r, http.MethodPost, "/x", retry); code != http.StatusBadRequest {
		t.Fatalf("expected failed request to be retryable, got %d", code)
	}
}

func TestAuthAndOperator(t *testing.T) {
	gin.SetMode(gin.TestMode)
	signer, err := jwt.NewSigner("secret")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	r := gin.New()
	r.GET("/me", Auth(signer), func(c *gin.Context) { c.String(http.StatusOK, TenantID(c)) })
	r.GET("/ops", Auth(signer), RequireOperator(), func(c *gin.Context) { c.Status(http.StatusOK) })

	tenantTok, _ := signer.Sign("tenant-a", "u1", "", time.Hour)
	opTok, _ := signer.Sign("ops", "u2", jwt.RoleOperator, time.Hour)

	if code := serve(r, http.MethodGet, "/me", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code := serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "bearer " + tenantTok}); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := serve(r, http.MethodGet, "/ops", map[string]string{"Authorization": "Bearer " + tenantTok}); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(r, http.MethodGet, "/ops", map[string]string{"Authorization": "Bearer " + opTok}); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}
