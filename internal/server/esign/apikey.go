package esign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

const (
	apiKeyHeader          = "X-Api-Key"
	apiKeySignatureHeader = "X-Webhook-Signature"
	apiKeySignaturePrefix = "sha256="
)

// APIKey talks to submission-style vendors authenticated with an API key.
type APIKey struct {
	base
	key string
}

func NewAPIKey(cfg Config, client *http.Client) *APIKey {
	return &APIKey{base: newBase(cfg, client), key: cfg.APIKey}
}

type apiKeySubmitter struct {
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	ExternalID string `json:"external_id"`
}

type apiKeyRequest struct {
	DocumentRef string            `json:"document_ref,omitempty"`
	Submitters  []apiKeySubmitter `json:"submitters"`
	RedirectURL string            `json:"redirect_url"`
}

// flexID accepts numeric and string identifiers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexID(b)
	return nil
}

type apiKeySubmission struct {
	ID       flexID `json:"id"`
	EmbedSrc string `json:"embed_src"`
}

func (p *APIKey) InitiateSign(ctx context.Context, req SignRequest) (SignResponse, error) {
	body := apiKeyRequest{
		DocumentRef: req.DocumentRef,
		Submitters: []apiKeySubmitter{{
			Name:       req.SignerName,
			Email:      req.SignerEmail,
			ExternalID: req.RequestID,
		}},
		RedirectURL: req.ReturnURL,
	}

	var out []apiKeySubmission
	err := p.post(ctx, "/submissions", body, func(h http.Header, _ []byte) {
		h.Set(apiKeyHeader, p.key)
	}, &out)
	if err != nil {
		return SignResponse{}, err
	}
	if len(out) == 0 || out[0].ID == "" || out[0].EmbedSrc == "" {
		return SignResponse{}, p.unavailable("response without submission")
	}
	return SignResponse{ExternalID: string(out[0].ID), URL: out[0].EmbedSrc}, nil
}

func (p *APIKey) ValidateCallback(headers http.Header, body []byte) error {
	return p.verifyHex(headers.Get(apiKeySignatureHeader), apiKeySignaturePrefix, body)
}

type apiKeyEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		ID          flexID `json:"id"`
		ExternalID  string `json:"external_id"`
		CompletedAt string `json:"completed_at"`
		AuditLogURL string `json:"audit_log_url"`
	} `json:"data"`
}

func (p *APIKey) ParseCallback(body []byte) (CallbackEvent, error) {
	var ev apiKeyEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return CallbackEvent{}, malformed(p.name, err)
	}
	if ev.Data.ExternalID == "" {
		return CallbackEvent{}, malformed(p.name, errors.New("data.external_id is empty"))
	}

	out := CallbackEvent{RequestID: ev.Data.ExternalID, ExternalID: string(ev.Data.ID)}
	switch ev.EventType {
	case "form.completed", "submission.completed":
		signedAt, err := parseTime(ev.Data.CompletedAt)
		if err != nil {
			return CallbackEvent{}, malformed(p.name, err)
		}
		out.Status = models.SigningCompleted
		out.SignatureRef = ev.Data.AuditLogURL
		if out.SignatureRef == "" {
			out.SignatureRef = out.ExternalID
		}
		out.SignedAt = signedAt
	case "form.declined", "submission.declined":
		out.Status = models.SigningFailed
		out.FailureReason = models.FailureDeclined
	default:
		return CallbackEvent{}, malformed(p.name, fmt.Errorf("unknown event_type %q", ev.EventType))
	}
	return out, nil
}
