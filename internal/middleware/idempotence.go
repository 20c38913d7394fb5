package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	idempotenceTTL    = 60 * time.Second
	maxIdempotencyKey = 255
)

// Idempotence rejects a repeated mutating request carrying the same
// Idempotency-Key from the same caller while the first is in flight or
// within a minute of its success. Requests without the header pass through.
func Idempotence(rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKey {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"ok":      0,
				"code":    http.StatusBadRequest,
				"message": "idempotency key too long",
			})
			return
		}

		redisKey := "courier:idempotence:" + idempotenceScope(c, key)
		ctx := c.Request.Context()

		val, err := rdb.Get(ctx, redisKey).Result()
		if err == nil {
			msg := "request with this idempotency key already succeeded"
			if val == "0" {
				msg = "request with this idempotency key is in progress"
			}
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"ok":      0,
				"code":    http.StatusConflict,
				"message": msg,
			})
			return
		}
		if !errors.Is(err, redis.Nil) {
			c.Next()
			return
		}

		ok, err := rdb.SetNX(ctx, redisKey, "0", idempotenceTTL).Result()
		if err != nil {
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"ok":      0,
				"code":    http.StatusConflict,
				"message": "request with this idempotency key is in progress",
			})
			return
		}

		c.Next()

		status := c.Writer.Status()
		if status >= 200 && status < 300 {
			rdb.Set(ctx, redisKey, "1", redis.KeepTTL)
		} else {
			rdb.Del(ctx, redisKey)
		}
	}
}

// idempotenceScope binds the key to the caller's token and route so two
// tenants cannot collide on the same key.
func idempotenceScope(c *gin.Context, key string) string {
	raw := extractToken(c) + "|" + c.Request.Method + "|" + c.Request.URL.Path + "|" + key
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
