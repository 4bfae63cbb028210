package models

import "time"

// Audit actions.
const (
	ActionCreated            = "LETTER_CREATED"
	ActionDraftUpdated       = "DRAFT_UPDATED"
	ActionTransition         = "STATE_TRANSITION"
	ActionTransitionRejected = "TRANSITION_REJECTED"
	ActionStepDecided        = "STEP_DECIDED"
	ActionDecisionRejected   = "DECISION_REJECTED"
	ActionStepEscalated      = "STEP_ESCALATED"
	ActionSigningInitiated   = "SIGNING_INITIATED"
	ActionSigningFailed      = "SIGNING_INITIATE_FAILED"
	ActionSigningCompleted   = "SIGNING_COMPLETED"
	ActionSigningDeclined    = "SIGNING_DECLINED"
	ActionSigningExpired     = "SIGNING_EXPIRED"
	ActionSigningCancelled   = "SIGNING_CANCELLED"
	ActionCallbackInvalid    = "CALLBACK_SIGNATURE_INVALID"
	ActionWebhookStale       = "WEBHOOK_STALE"
	ActionFileAttached       = "FILE_ATTACHED"
	ActionDelivered          = "DELIVERED"
	ActionDeliveryFailed     = "DELIVERY_FAILED"
	ActionDeliverySkipped    = "DELIVERY_SKIPPED"
)

// Origin channels.
const (
	ChannelHTTP    = "http"
	ChannelGRPC    = "grpc"
	ChannelWebhook = "webhook"
	ChannelSweep   = "sweep"
	ChannelSystem  = "system"
)

// Origin describes where a mutating call came from.
type Origin struct {
	Channel   string `json:"channel"`
	RequestID string `json:"request_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// AuditEntry is one append-only record in a letter's trail.
type AuditEntry struct {
	ID        string         `json:"id"`
	LetterID  string         `json:"letter_id"`
	Seq       int64          `json:"seq"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	At        time.Time      `json:"at"`
	Origin    Origin         `json:"origin"`
	FromState LetterState    `json:"from_state,omitempty"`
	ToState   LetterState    `json:"to_state,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}
