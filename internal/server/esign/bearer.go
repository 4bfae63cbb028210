package esign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

const bearerSignatureHeader = "X-Signature"

// Bearer talks to vendors authenticated with a static bearer token.
type Bearer struct {
	base
	token string
}

func NewBearer(cfg Config, client *http.Client) *Bearer {
	return &Bearer{base: newBase(cfg, client), token: cfg.Token}
}

type bearerSigner struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type bearerRequest struct {
	DocumentRef string       `json:"document_ref"`
	Signer      bearerSigner `json:"signer"`
	ReturnURL   string       `json:"return_url"`
	ExternalRef string       `json:"external_ref"`
}

type bearerResponse struct {
	ID      string `json:"id"`
	SignURL string `json:"sign_url"`
}

func (p *Bearer) InitiateSign(ctx context.Context, req SignRequest) (SignResponse, error) {
	body := bearerRequest{
		DocumentRef: req.DocumentRef,
		Signer:      bearerSigner{Name: req.SignerName, Email: req.SignerEmail},
		ReturnURL:   req.ReturnURL,
		ExternalRef: req.RequestID,
	}

	var out bearerResponse
	err := p.post(ctx, "/envelopes", body, func(h http.Header, _ []byte) {
		h.Set("Authorization", "Bearer "+p.token)
		h.Set("Idempotency-Key", req.RequestID)
	}, &out)
	if err != nil {
		return SignResponse{}, err
	}
	if out.ID == "" || out.SignURL == "" {
		return SignResponse{}, p.unavailable("response without id or sign_url")
	}
	return SignResponse{ExternalID: out.ID, URL: out.SignURL}, nil
}

func (p *Bearer) ValidateCallback(headers http.Header, body []byte) error {
	return p.verifyHex(headers.Get(bearerSignatureHeader), "", body)
}

type bearerEvent struct {
	ID          string `json:"id"`
	ExternalRef string `json:"external_ref"`
	Status      string `json:"status"`
	SignatureID string `json:"signature_id"`
	SignedAt    string `json:"signed_at"`
	Reason      string `json:"reason"`
}

func (p *Bearer) ParseCallback(body []byte) (CallbackEvent, error) {
	var ev bearerEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return CallbackEvent{}, malformed(p.name, err)
	}
	if ev.ExternalRef == "" {
		return CallbackEvent{}, malformed(p.name, errors.New("external_ref is empty"))
	}

	out := CallbackEvent{RequestID: ev.ExternalRef, ExternalID: ev.ID}
	switch strings.ToLower(ev.Status) {
	case "completed", "signed":
		signedAt, err := parseTime(ev.SignedAt)
		if err != nil {
			return CallbackEvent{}, malformed(p.name, err)
		}
		out.Status = models.SigningCompleted
		out.SignatureRef = ev.SignatureID
		out.SignedAt = signedAt
	case "declined", "rejected":
		out.Status = models.SigningFailed
		out.FailureReason = models.FailureDeclined
	default:
		return CallbackEvent{}, malformed(p.name, fmt.Errorf("unknown status %q", ev.Status))
	}
	return out, nil
}
