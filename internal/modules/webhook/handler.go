package webhook

import (
	"context"
	"errors"

	"github.com/callmonitor/courier/internal/middleware"
	"github.com/callmonitor/courier/internal/modules/audit"
	"github.com/callmonitor/courier/internal/pkg/pagination"
	"github.com/callmonitor/courier/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

// Auditor receives registry mutations. *audit.Service implements it.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

type Handler struct {
	svc     *Service
	auditor Auditor
}

// NewHandler creates the registry handler. auditor may be nil.
func NewHandler(svc *Service, auditor Auditor) *Handler {
	return &Handler{svc: svc, auditor: auditor}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/webhooks", authMW)
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/events", h.events)
	g.GET("/deliveries/:deliveryId", h.getDelivery)
	g.POST("/deliveries/:deliveryId/redeliver", h.redeliver)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.PATCH("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/test", h.test)
	g.GET("/:id/deliveries", h.listDeliveries)
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	out := make([]subscriptionResponse, len(items))
	for i := range items {
		out[i] = toResponse(&items[i])
	}
	response.OK(c, out)
}

func (h *Handler) get(c *gin.Context) {
	w, err := h.svc.Get(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, toResponse(w))
}

func (h *Handler) create(c *gin.Context) {
	var dto CreateSubscriptionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	w, err := h.svc.Create(c.Request.Context(), middleware.TenantID(c), &dto)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionWebhookCreate, w.ID, map[string]any{"target_url": w.TargetURL, "events": w.EventTypes})
	response.Created(c, createdSubscriptionResponse{subscriptionResponse: toResponse(w), Secret: w.Secret})
}

func (h *Handler) update(c *gin.Context) {
	var dto UpdateSubscriptionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	w, err := h.svc.Update(c.Request.Context(), middleware.TenantID(c), c.Param("id"), &dto)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionWebhookUpdate, w.ID, map[string]any{"target_url": w.TargetURL, "events": w.EventTypes, "is_active": w.IsActive})
	response.OK(c, toResponse(w))
}

func (h *Handler) delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Delete(c.Request.Context(), middleware.TenantID(c), id); err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionWebhookDelete, id, nil)
	response.NoContent(c)
}

func (h *Handler) events(c *gin.Context) {
	response.OK(c, Events())
}

func (h *Handler) test(c *gin.Context) {
	id := c.Param("id")
	records, err := h.svc.SendTest(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, audit.ActionWebhookTest, id, nil)
	response.OK(c, records)
}

func (h *Handler) listDeliveries(c *gin.Context) {
	items, pag, err := h.svc.ListDeliveries(c.Request.Context(), middleware.TenantID(c), c.Param("id"), pagination.FromContext(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, items, pag)
}

func (h *Handler) getDelivery(c *gin.Context) {
	d, err := h.svc.GetDelivery(c.Request.Context(), middleware.TenantID(c), c.Param("deliveryId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, d)
}

func (h *Handler) redeliver(c *gin.Context) {
	records, err := h.svc.Redeliver(c.Request.Context(), middleware.TenantID(c), c.Param("deliveryId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(records) > 0 {
		h.audit(c, audit.ActionWebhookRedeliver, records[0].SubscriptionID, map[string]any{"envelope_id": records[0].EnvelopeID})
	}
	response.OK(c, records)
}

func (h *Handler) fail(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		response.BadRequest(c, verr.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDeliveryNotFound):
		response.NotFoundMsg(c, err.Error())
	case errors.Is(err, ErrInactive):
		response.Conflict(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}

func (h *Handler) audit(c *gin.Context, action audit.Action, subscriptionID string, after any) {
	if h.auditor == nil {
		return
	}
	h.auditor.Record(c.Request.Context(), audit.Entry{
		TenantID:     middleware.TenantID(c),
		ActorID:      middleware.UserID(c),
		ResourceType: "webhook",
		ResourceID:   subscriptionID,
		Action:       action,
		After:        after,
	})
}
