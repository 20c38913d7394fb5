package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const probeTimeout = 2 * time.Second

// Pinger is satisfied by the redis client wrapper.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegisterRoutes mounts the unauthenticated liveness probe. The buffer is
// reported but never fails the probe, since writes fall back to it and not
// the other way round.
func RegisterRoutes(rg *gin.RouterGroup, db *gorm.DB, buffer Pinger) {
	rg.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
		defer cancel()

		dbOK := false
		if sqlDB, err := db.DB(); err == nil {
			dbOK = sqlDB.PingContext(ctx) == nil
		}
		bufferOK := buffer != nil && buffer.Ping(ctx) == nil

		status := "ok"
		code := http.StatusOK
		switch {
		case !dbOK:
			status = "degraded"
			code = http.StatusServiceUnavailable
		case !bufferOK:
			status = "degraded"
		}

		c.JSON(code, gin.H{
			"status":   status,
			"database": dbOK,
			"redis":    bufferOK,
		})
	})
}
