// Package esign adapts external e-signature vendors behind one Provider
// interface. Variants differ only in request shape, response shape and how
// requests and webhooks are authenticated.
package esign

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/server/models"
	"github.com/dmitrijs2005/letterflow/internal/timex"
)

// Provider kinds accepted in configuration.
const (
	KindBearer = "bearer"
	KindAPIKey = "apikey"
	KindHMAC   = "hmac"
)

const defaultTimeout = 10 * time.Second

// Config describes one configured provider.
type Config struct {
	Name          string         `json:"name" yaml:"name"`
	Kind          string         `json:"kind" yaml:"kind"`
	BaseURL       string         `json:"base_url" yaml:"base_url"`
	Token         string         `json:"token,omitempty" yaml:"token,omitempty"`
	APIKey        string         `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	ClientID      string         `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret  string         `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	WebhookSecret string         `json:"webhook_secret" yaml:"webhook_secret"`
	Timeout       timex.Duration `json:"timeout" yaml:"timeout"`
}

// SignRequest is what the tracker asks a vendor to start.
type SignRequest struct {
	RequestID   string
	LetterID    string
	DocumentRef string
	SignerName  string
	SignerEmail string
	ReturnURL   string
}

// SignResponse identifies the vendor-side envelope.
type SignResponse struct {
	ExternalID string
	URL        string
}

// CallbackEvent is a vendor webhook normalized to our vocabulary. Status is
// COMPLETED or FAILED.
type CallbackEvent struct {
	RequestID     string
	ExternalID    string
	Status        models.SigningStatus
	FailureReason string
	SignatureRef  string
	SignedAt      *time.Time
}

type Provider interface {
	Name() string

	// InitiateSign creates the vendor envelope. Any failure is
	// common.ErrProviderUnavailable; there is no partial success.
	InitiateSign(ctx context.Context, req SignRequest) (SignResponse, error)

	// ValidateCallback authenticates a webhook and returns
	// common.ErrSignatureInvalid when it cannot be trusted.
	ValidateCallback(headers http.Header, body []byte) error

	// ParseCallback decodes an authenticated webhook body. Malformed bodies
	// are common.ErrValidation.
	ParseCallback(body []byte) (CallbackEvent, error)
}
