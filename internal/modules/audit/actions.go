package audit

import "sort"

// CatalogVersion changes whenever an action is added or renamed.
const CatalogVersion = 5

// Action is a canonical audit action name in "resource:action" form.
type Action string

const (
	ActionAuthSignup   Action = "auth:signup"
	ActionAuthLogin    Action = "auth:login"
	ActionAuthLogout   Action = "auth:logout"
	ActionAuthPassword Action = "auth:password_reset"

	ActionUserCreate     Action = "user:create"
	ActionUserUpdate     Action = "user:update"
	ActionUserDelete     Action = "user:delete"
	ActionUserRoleChange Action = "user:role_change"

	ActionOrganizationCreate Action = "organization:create"
	ActionOrganizationUpdate Action = "organization:update"

	ActionCallStart  Action = "call:start"
	ActionCallEnd    Action = "call:end"
	ActionCallUpdate Action = "call:update"

	ActionRecordingAccess Action = "recording:access"
	ActionRecordingExport Action = "recording:export"
	ActionRecordingDelete Action = "recording:delete"

	ActionTranscriptAccess Action = "transcript:access"
	ActionTranscriptUpdate Action = "transcript:update"

	ActionVoiceConfigUpdate Action = "voice_config:update"

	ActionCampaignCreate Action = "campaign:create"
	ActionCampaignUpdate Action = "campaign:update"
	ActionCampaignDelete Action = "campaign:delete"

	ActionDialerStart Action = "dialer:start"
	ActionDialerStop  Action = "dialer:stop"

	ActionIVRFlowCreate Action = "ivr_flow:create"
	ActionIVRFlowUpdate Action = "ivr_flow:update"
	ActionIVRFlowDelete Action = "ivr_flow:delete"

	ActionBillingPlanChange    Action = "billing:plan_change"
	ActionBillingPaymentUpdate Action = "billing:payment_method_update"

	ActionAPIKeyCreate Action = "api_key:create"
	ActionAPIKeyRevoke Action = "api_key:revoke"

	ActionWebhookCreate    Action = "webhook:create"
	ActionWebhookUpdate    Action = "webhook:update"
	ActionWebhookDelete    Action = "webhook:delete"
	ActionWebhookTest      Action = "webhook:test"
	ActionWebhookRedeliver Action = "webhook:redeliver"

	ActionRetentionChange Action = "compliance:retention_change"
	ActionEvidenceExport  Action = "compliance:evidence_export"
	ActionConsentCapture  Action = "compliance:consent_capture"
)

var catalog = func() map[Action]struct{} {
	all := []Action{
		ActionAuthSignup, ActionAuthLogin, ActionAuthLogout, ActionAuthPassword,
		ActionUserCreate, ActionUserUpdate, ActionUserDelete, ActionUserRoleChange,
		ActionOrganizationCreate, ActionOrganizationUpdate,
		ActionCallStart, ActionCallEnd, ActionCallUpdate,
		ActionRecordingAccess, ActionRecordingExport, ActionRecordingDelete,
		ActionTranscriptAccess, ActionTranscriptUpdate,
		ActionVoiceConfigUpdate,
		ActionCampaignCreate, ActionCampaignUpdate, ActionCampaignDelete,
		ActionDialerStart, ActionDialerStop,
		ActionIVRFlowCreate, ActionIVRFlowUpdate, ActionIVRFlowDelete,
		ActionBillingPlanChange, ActionBillingPaymentUpdate,
		ActionAPIKeyCreate, ActionAPIKeyRevoke,
		ActionWebhookCreate, ActionWebhookUpdate, ActionWebhookDelete, ActionWebhookTest, ActionWebhookRedeliver,
		ActionRetentionChange, ActionEvidenceExport, ActionConsentCapture,
	}
	out := make(map[Action]struct{}, len(all))
	for _, a := range all {
		out[a] = struct{}{}
	}
	return out
}()

// Valid reports whether a is part of the catalog.
func (a Action) Valid() bool {
	_, ok := catalog[a]
	return ok
}

// Actions returns the catalog sorted by name.
func Actions() []Action {
	out := make([]Action, 0, len(catalog))
	for a := range catalog {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
