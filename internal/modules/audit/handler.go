package audit

import (
	"strconv"

	"github.com/callmonitor/courier/internal/middleware"
	"github.com/callmonitor/courier/internal/pkg/pagination"
	"github.com/callmonitor/courier/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

// Handler exposes the tenant audit read surface and the operator flush hooks.
type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/audit-logs", authMW)
	g.GET("", h.list)
	g.GET("/actions", h.actions)
}

// RegisterOpsRoutes mounts operator-only endpoints; buffering is never shown to tenants.
func (h *Handler) RegisterOpsRoutes(ops *gin.RouterGroup) {
	g := ops.Group("/audit")
	g.GET("/backlog", h.backlog)
	g.POST("/flush", h.flush)
}

func (h *Handler) list(c *gin.Context) {
	items, pag, err := h.svc.List(c.Request.Context(), middleware.TenantID(c), ListQuery{
		Action:       c.Query("action"),
		ResourceType: c.Query("resource_type"),
		Page:         pagination.FromContext(c),
	})
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, items, pag)
}

func (h *Handler) actions(c *gin.Context) {
	response.OK(c, gin.H{"version": CatalogVersion, "actions": Actions()})
}

func (h *Handler) backlog(c *gin.Context) {
	n, err := h.svc.Backlog(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"buffered": n})
}

// POST /ops/audit/flush?batch_size=100
func (h *Handler) flush(c *gin.Context) {
	batch, _ := strconv.Atoi(c.Query("batch_size"))
	res, err := h.svc.Flush(c.Request.Context(), batch)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, res)
}
