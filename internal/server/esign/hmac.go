package esign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/cryptox"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

const (
	hmacClientHeader    = "X-Client-Id"
	hmacTimestampHeader = "X-Timestamp"
	hmacSignatureHeader = "X-Signature"

	// webhooks older or newer than this are refused
	hmacTolerance = 5 * time.Minute
)

// HMAC talks to vendors that require every request body to be signed.
type HMAC struct {
	base
	clientID     string
	clientSecret []byte
	now          func() time.Time
}

func NewHMAC(cfg Config, client *http.Client) *HMAC {
	return &HMAC{
		base:         newBase(cfg, client),
		clientID:     cfg.ClientID,
		clientSecret: []byte(cfg.ClientSecret),
		now:          time.Now,
	}
}

type hmacRequest struct {
	Reference   string `json:"reference"`
	DocumentRef string `json:"document_ref,omitempty"`
	SignerName  string `json:"signer_name"`
	SignerEmail string `json:"signer_email,omitempty"`
	Callback    string `json:"callback"`
}

type hmacResponse struct {
	Data struct {
		EnvelopeID string `json:"envelope_id"`
		URL        string `json:"url"`
	} `json:"data"`
}

func signedPayload(ts string, body []byte) []byte {
	msg := make([]byte, 0, len(ts)+1+len(body))
	msg = append(msg, ts...)
	msg = append(msg, '.')
	return append(msg, body...)
}

func (p *HMAC) InitiateSign(ctx context.Context, req SignRequest) (SignResponse, error) {
	body := hmacRequest{
		Reference:   req.RequestID,
		DocumentRef: req.DocumentRef,
		SignerName:  req.SignerName,
		SignerEmail: req.SignerEmail,
		Callback:    req.ReturnURL,
	}

	var out hmacResponse
	err := p.post(ctx, "/v1/envelopes", body, func(h http.Header, raw []byte) {
		ts := strconv.FormatInt(p.now().Unix(), 10)
		h.Set(hmacClientHeader, p.clientID)
		h.Set(hmacTimestampHeader, ts)
		h.Set(hmacSignatureHeader, cryptox.SignHex(p.clientSecret, signedPayload(ts, raw)))
	}, &out)
	if err != nil {
		return SignResponse{}, err
	}
	if out.Data.EnvelopeID == "" || out.Data.URL == "" {
		return SignResponse{}, p.unavailable("response without envelope")
	}
	return SignResponse{ExternalID: out.Data.EnvelopeID, URL: out.Data.URL}, nil
}

func (p *HMAC) ValidateCallback(headers http.Header, body []byte) error {
	ts := strings.TrimSpace(headers.Get(hmacTimestampHeader))
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s: bad timestamp header", common.ErrSignatureInvalid, p.name)
	}
	if d := p.now().Sub(time.Unix(sec, 0)); d > hmacTolerance || d < -hmacTolerance {
		return fmt.Errorf("%w: %s: timestamp outside tolerance", common.ErrSignatureInvalid, p.name)
	}
	return p.verifyHex(headers.Get(hmacSignatureHeader), "", signedPayload(ts, body))
}

type hmacEvent struct {
	Reference    string `json:"reference"`
	EnvelopeID   string `json:"envelope_id"`
	Event        string `json:"event"`
	SignatureRef string `json:"signature_ref"`
	SignedAt     string `json:"signed_at"`
}

func (p *HMAC) ParseCallback(body []byte) (CallbackEvent, error) {
	var ev hmacEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return CallbackEvent{}, malformed(p.name, err)
	}
	if ev.Reference == "" {
		return CallbackEvent{}, malformed(p.name, errors.New("reference is empty"))
	}

	out := CallbackEvent{RequestID: ev.Reference, ExternalID: ev.EnvelopeID}
	switch ev.Event {
	case "envelope.signed":
		signedAt, err := parseTime(ev.SignedAt)
		if err != nil {
			return CallbackEvent{}, malformed(p.name, err)
		}
		out.Status = models.SigningCompleted
		out.SignatureRef = ev.SignatureRef
		out.SignedAt = signedAt
	case "envelope.declined":
		out.Status = models.SigningFailed
		out.FailureReason = models.FailureDeclined
	default:
		return CallbackEvent{}, malformed(p.name, fmt.Errorf("unknown event %q", ev.Event))
	}
	return out, nil
}
