package models

import "time"

type SigningStatus string

const (
	SigningPending   SigningStatus = "PENDING"
	SigningCompleted SigningStatus = "COMPLETED"
	SigningFailed    SigningStatus = "FAILED"
	SigningCancelled SigningStatus = "CANCELLED"
)

func (s SigningStatus) Terminal() bool {
	return s != SigningPending
}

// Failure reasons recorded on FAILED signing requests.
const (
	FailureExpired          = "expired"
	FailureSignatureInvalid = "signature_invalid"
	FailureDeclined         = "declined_by_signer"
)

// SigningRequest is one attempt to collect a signature from one signatory.
type SigningRequest struct {
	ID             string        `json:"id"`
	LetterID       string        `json:"letter_id"`
	SignatoryIndex int           `json:"signatory_index"`
	Provider       string        `json:"provider"`
	ExternalID     string        `json:"external_id,omitempty"`
	Token          string        `json:"-"`
	SigningURL     string        `json:"signing_url"`
	ProviderURL    string        `json:"provider_url,omitempty"`
	Status         SigningStatus `json:"status"`
	FailureReason  string        `json:"failure_reason,omitempty"`
	SignatureRef   string        `json:"signature_ref,omitempty"`
	SignedAt       *time.Time    `json:"signed_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Expired reports whether the request's validity window has passed at now.
func (r *SigningRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
