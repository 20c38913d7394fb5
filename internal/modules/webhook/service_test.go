package webhook_test

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"

	"github.com/callmonitor/courier/internal/models"
	"github.com/callmonitor/courier/internal/modules/webhook"
	"github.com/callmonitor/courier/internal/pkg/pagination"
	"github.com/google/uuid"
)

func TestCreateGeneratesSecret(t *testing.T) {
	f := setup(t)

	w := f.subscribe(t, uuid.New().String(), "https://example.com/hook", "call.completed")
	if len(w.Secret) != 64 {
		t.Fatalf("expected 64-char secret, got %d chars", len(w.Secret))
	}
	if _, err := hex.DecodeString(w.Secret); err != nil {
		t.Fatalf("expected hex secret: %v", err)
	}
	if !w.IsActive {
		t.Fatalf("expected new subscription to be active")
	}
}

func TestCreateKeepsSuppliedSecretAndDedupesEvents(t *testing.T) {
	f := setup(t)
	inactive := false

	w, err := f.svc.Create(context.Background(), uuid.New().String(), &webhook.CreateSubscriptionDTO{
		TargetURL:    "http://hooks.example.com/in",
		Events:       []string{"call.completed", " call.completed ", "recording.ready"},
		Secret:       "whsec_supplied",
		ExtraHeaders: map[string]string{"x-customer-key": "abc"},
		IsActive:     &inactive,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.Secret != "whsec_supplied" {
		t.Fatalf("expected supplied secret, got %q", w.Secret)
	}
	if len(w.EventTypes) != 2 {
		t.Fatalf("expected 2 events after dedupe, got %v", w.EventTypes)
	}
	if w.ExtraHeaders["X-Customer-Key"] != "abc" {
		t.Fatalf("expected canonical header name, got %v", w.ExtraHeaders)
	}

	got, err := f.svc.Get(context.Background(), w.TenantID, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsActive {
		t.Fatalf("expected is_active=false to be stored")
	}
}

func TestCreateValidation(t *testing.T) {
	f := setup(t)
	tenant := uuid.New().String()

	cases := []struct {
		name  string
		dto   webhook.CreateSubscriptionDTO
		field string
	}{
		{"missing url", webhook.CreateSubscriptionDTO{Events: []string{"call.completed"}}, "target_url"},
		{"relative url", webhook.CreateSubscriptionDTO{TargetURL: "/hook", Events: []string{"call.completed"}}, "target_url"},
		{"ftp url", webhook.CreateSubscriptionDTO{TargetURL: "ftp://example.com/x", Events: []string{"call.completed"}}, "target_url"},
		{"empty events", webhook.CreateSubscriptionDTO{TargetURL: "https://example.com"}, "events"},
		{"blank events", webhook.CreateSubscriptionDTO{TargetURL: "https://example.com", Events: []string{" "}}, "events"},
		{"unknown event", webhook.CreateSubscriptionDTO{TargetURL: "https://example.com", Events: []string{"call.exploded"}}, "events"},
		{"test ping", webhook.CreateSubscriptionDTO{TargetURL: "https://example.com", Events: []string{webhook.EventTestPing}}, "events"},
		{"reserved header", webhook.CreateSubscriptionDTO{
			TargetURL:    "https://example.com",
			Events:       []string{"call.completed"},
			ExtraHeaders: map[string]string{"x-webhook-signature": "forged"},
		}, "extra_headers"},
		{"bad header value", webhook.CreateSubscriptionDTO{
			TargetURL:    "https://example.com",
			Events:       []string{"call.completed"},
			ExtraHeaders: map[string]string{"X-Trace": "a\r\nb"},
		}, "extra_headers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tenant, &tc.dto)
			var verr *webhook.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %q, got %q (%s)", tc.field, verr.Field, verr.Message)
			}
		})
	}

	var n int64
	f.db.Model(&models.WebhookSubscription{}).Count(&n)
	if n != 0 {
		t.Fatalf("expected nothing stored, got %d rows", n)
	}
}

func TestPartialUpdate(t *testing.T) {
	f := setup(t)
	tenant := uuid.New().String()
	w := f.subscribe(t, tenant, "https://example.com/hook", "call.completed")

	paused := false
	got, err := f.svc.Update(context.Background(), tenant, w.ID, &webhook.UpdateSubscriptionDTO{IsActive: &paused})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.IsActive {
		t.Fatalf("expected subscription to be paused")
	}
	if got.TargetURL != w.TargetURL || got.Name != w.Name || got.Secret != w.Secret {
		t.Fatalf("unexpected change to untouched fields: %+v", got)
	}
	if len(got.EventTypes) != 1 || got.EventTypes[0] != "call.completed" {
		t.Fatalf("expected events to be unchanged, got %v", got.EventTypes)
	}

	got, err = f.svc.Update(context.Background(), tenant, w.ID, &webhook.UpdateSubscriptionDTO{
		Events:       []string{"recording.ready", "transcript.ready"},
		ExtraHeaders: map[string]string{"X-Env": "staging"},
	})
	if err != nil {
		t.Fatalf("update events: %v", err)
	}
	if len(got.EventTypes) != 2 || got.ExtraHeaders["X-Env"] != "staging" {
		t.Fatalf("expected events and headers to change, got %+v", got)
	}
	if got.IsActive {
		t.Fatalf("expected is_active to stay false")
	}

	empty := ""
	_, err = f.svc.Update(context.Background(), tenant, w.ID, &webhook.UpdateSubscriptionDTO{Secret: &empty})
	var verr *webhook.ValidationError
	if !errors.As(err, &verr) || verr.Field != "secret" {
		t.Fatalf("expected secret validation error, got %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	f := setup(t)
	rcv := newReceiver(t, http.StatusOK)
	tenantA := uuid.New().String()
	tenantB := uuid.New().String()
	w := f.subscribe(t, tenantA, rcv.URL(), "call.completed")
	ctx := context.Background()

	if _, err := f.svc.Get(ctx, tenantB, w.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	name := "stolen"
	if _, err := f.svc.Update(ctx, tenantB, w.ID, &webhook.UpdateSubscriptionDTO{Name: &name}); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("update: expected ErrNotFound, got %v", err)
	}
	if err := f.svc.Delete(ctx, tenantB, w.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("delete: expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.SendTest(ctx, tenantB, w.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("test: expected ErrNotFound, got %v", err)
	}
	items, err := f.svc.List(ctx, tenantB)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected tenant B to see nothing, got %d", len(items))
	}

	records, err := f.dispatcher.DispatchSync(ctx, tenantB, "call.completed", map[string]string{"call_id": "abc"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(records) != 0 || len(rcv.received()) != 0 {
		t.Fatalf("dispatch for tenant B reached tenant A's endpoint")
	}

	got, err := f.svc.Get(ctx, tenantA, w.ID)
	if err != nil || got.Name != "test" {
		t.Fatalf("expected tenant A's subscription untouched, got %+v (%v)", got, err)
	}

	owned, err := f.dispatcher.DispatchSync(ctx, tenantA, "call.completed", map[string]string{"call_id": "abc"})
	if err != nil || len(owned) != 1 {
		t.Fatalf("dispatch for tenant A: %d records (%v)", len(owned), err)
	}
	if _, err := f.svc.GetDelivery(ctx, tenantB, owned[0].ID); !errors.Is(err, webhook.ErrDeliveryNotFound) {
		t.Fatalf("get delivery: expected ErrDeliveryNotFound, got %v", err)
	}
	if _, err := f.svc.Redeliver(ctx, tenantB, owned[0].ID); !errors.Is(err, webhook.ErrDeliveryNotFound) {
		t.Fatalf("redeliver: expected ErrDeliveryNotFound, got %v", err)
	}
	history, pag, err := f.svc.ListDeliveries(ctx, tenantB, w.ID, pagination.Query{Page: 1, Size: 10})
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(history) != 0 || pag.Total != 0 {
		t.Fatalf("expected tenant B to see no deliveries, got %d (total %d)", len(history), pag.Total)
	}
	if len(rcv.received()) != 1 {
		t.Fatalf("expected only tenant A's dispatch to reach the endpoint")
	}
}

func TestDeleteRetainsDeliveryHistory(t *testing.T) {
	f := setup(t)
	rcv := newReceiver(t, http.StatusOK)
	tenant := uuid.New().String()
	w := f.subscribe(t, tenant, rcv.URL(), "call.completed")
	ctx := context.Background()

	if _, err := f.svc.SendTest(ctx, tenant, w.ID); err != nil {
		t.Fatalf("send test: %v", err)
	}
	if err := f.svc.Delete(ctx, tenant, w.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, tenant, w.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("expected deleted subscription to be gone, got %v", err)
	}

	items, pag, err := f.svc.ListDeliveries(ctx, tenant, w.ID, pagination.Query{Page: 1, Size: 10})
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(items) != 1 || pag.Total != 1 {
		t.Fatalf("expected history to survive delete, got %d rows", len(items))
	}
	if err := f.svc.Delete(ctx, tenant, w.ID); !errors.Is(err, webhook.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestSendTestUsesDeliveryPath(t *testing.T) {
	f := setup(t)
	rcv := newReceiver(t, http.StatusOK)
	tenant := uuid.New().String()
	w := f.subscribe(t, tenant, rcv.URL(), "call.completed")

	records, err := f.svc.SendTest(context.Background(), tenant, w.ID)
	if err != nil {
		t.Fatalf("send test: %v", err)
	}
	if len(records) != 1 || !records[0].Success || records[0].EventType != webhook.EventTestPing {
		t.Fatalf("unexpected test records: %+v", records)
	}
	reqs := rcv.received()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].header.Get("X-Webhook-Event") != webhook.EventTestPing {
		t.Fatalf("unexpected event header %q", reqs[0].header.Get("X-Webhook-Event"))
	}
	if reqs[0].header.Get("X-Webhook-Signature") == "" {
		t.Fatalf("expected test ping to be signed")
	}
	if got := f.deliveries(t, w.ID); len(got) != 1 {
		t.Fatalf("expected 1 stored delivery, got %d", len(got))
	}
}

func TestRedeliverContinuesAttempts(t *testing.T) {
	f := setup(t)
	rcv := newReceiver(t, http.StatusInternalServerError)
	tenant := uuid.New().String()
	w := f.subscribe(t, tenant, rcv.URL(), "call.completed")
	ctx := context.Background()

	first, err := f.dispatcher.DispatchSync(ctx, tenant, "call.completed", map[string]string{"call_id": "abc"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 failed attempts, got %d", len(first))
	}

	rcv.status.Store(http.StatusOK)
	again, err := f.svc.Redeliver(ctx, tenant, first[0].ID)
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if len(again) != 1 || again[0].Attempt != 3 || !again[0].Success {
		t.Fatalf("expected successful attempt 3, got %+v", again)
	}
	if again[0].EnvelopeID != first[0].EnvelopeID || again[0].Payload != first[0].Payload {
		t.Fatalf("expected redelivery to reuse the recorded envelope")
	}

	paused := false
	if _, err := f.svc.Update(ctx, tenant, w.ID, &webhook.UpdateSubscriptionDTO{IsActive: &paused}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := f.svc.Redeliver(ctx, tenant, first[0].ID); !errors.Is(err, webhook.ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
	if _, err := f.svc.Redeliver(ctx, uuid.New().String(), first[0].ID); !errors.Is(err, webhook.ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound for other tenant, got %v", err)
	}
}
