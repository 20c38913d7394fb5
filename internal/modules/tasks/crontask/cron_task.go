package crontask

import (
	"errors"

	pkgcron "github.com/callmonitor/courier/internal/pkg/cron"
	"github.com/callmonitor/courier/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

// Handler wraps the scheduler for operator access.
type Handler struct {
	sched *pkgcron.Scheduler
}

func NewHandler(sched *pkgcron.Scheduler) *Handler {
	return &Handler{sched: sched}
}

// RegisterOpsRoutes mounts the job endpoints on an already authorized group.
func (h *Handler) RegisterOpsRoutes(ops *gin.RouterGroup) {
	g := ops.Group("/cron-task")
	g.GET("", h.list)
	g.GET("/:name", h.get)
	g.POST("/:name/run", h.run)
}

// GET /cron-task
func (h *Handler) list(c *gin.Context) {
	response.OK(c, h.sched.List())
}

// GET /cron-task/:name
func (h *Handler) get(c *gin.Context) {
	result, err := h.sched.GetTask(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, result)
}

// POST /cron-task/:name/run
func (h *Handler) run(c *gin.Context) {
	if err := h.sched.Run(c.Request.Context(), c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"message": "job triggered"})
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, pkgcron.ErrJobNotFound) {
		response.NotFoundMsg(c, "cron job not found")
		return
	}
	response.InternalError(c, err)
}
