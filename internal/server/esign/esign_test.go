package esign

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/cryptox"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
	"github.com/dmitrijs2005/letterflow/internal/timex"
)

var signReq = SignRequest{
	RequestID:   "req-1",
	LetterID:    "letter-1",
	DocumentRef: "https://cdn.example.com/l1.pdf",
	SignerName:  "Grace Hopper",
	SignerEmail: "grace@example.com",
	ReturnURL:   "https://letters.example.com/sign/req-1?sig=x&ts=1",
}

func fakeVendor(t *testing.T, status int, reply string, inspect func(r *http.Request, body []byte)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if inspect != nil {
			inspect(r, body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBearer_InitiateSign(t *testing.T) {
	srv := fakeVendor(t, http.StatusCreated, `{"id":"env-9","sign_url":"https://vendor/s/env-9"}`, func(r *http.Request, body []byte) {
		assert.Equal(t, "/envelopes", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get("Idempotency-Key"))

		var got bearerRequest
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "req-1", got.ExternalRef)
		assert.Equal(t, "Grace Hopper", got.Signer.Name)
		assert.Equal(t, signReq.DocumentRef, got.DocumentRef)
	})

	p := NewBearer(Config{Name: "docsign", BaseURL: srv.URL, Token: "tok"}, nil)
	resp, err := p.InitiateSign(context.Background(), signReq)
	require.NoError(t, err)
	assert.Equal(t, SignResponse{ExternalID: "env-9", URL: "https://vendor/s/env-9"}, resp)
	assert.Equal(t, "docsign", p.Name())
}

func TestAPIKey_InitiateSign(t *testing.T) {
	srv := fakeVendor(t, http.StatusOK, `[{"id":42,"embed_src":"https://vendor/s/42"}]`, func(r *http.Request, body []byte) {
		assert.Equal(t, "/submissions", r.URL.Path)
		assert.Equal(t, "k-1", r.Header.Get("X-Api-Key"))

		var got apiKeyRequest
		require.NoError(t, json.Unmarshal(body, &got))
		require.Len(t, got.Submitters, 1)
		assert.Equal(t, "req-1", got.Submitters[0].ExternalID)
		assert.Equal(t, signReq.ReturnURL, got.RedirectURL)
	})

	p := NewAPIKey(Config{Name: "seal", BaseURL: srv.URL, APIKey: "k-1"}, nil)
	resp, err := p.InitiateSign(context.Background(), signReq)
	require.NoError(t, err)
	assert.Equal(t, SignResponse{ExternalID: "42", URL: "https://vendor/s/42"}, resp)
}

func TestHMAC_InitiateSign(t *testing.T) {
	fixed := time.Unix(1760000000, 0)
	srv := fakeVendor(t, http.StatusOK, `{"data":{"envelope_id":"e-1","url":"https://vendor/e-1"}}`, func(r *http.Request, body []byte) {
		assert.Equal(t, "/v1/envelopes", r.URL.Path)
		assert.Equal(t, "client-1", r.Header.Get("X-Client-Id"))
		ts := r.Header.Get("X-Timestamp")
		assert.Equal(t, strconv.FormatInt(fixed.Unix(), 10), ts)
		assert.Equal(t, cryptox.SignHex([]byte("cs"), signedPayload(ts, body)), r.Header.Get("X-Signature"))

		var got hmacRequest
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "req-1", got.Reference)
	})

	p := NewHMAC(Config{Name: "sigma", BaseURL: srv.URL, ClientID: "client-1", ClientSecret: "cs"}, nil)
	p.now = func() time.Time { return fixed }

	resp, err := p.InitiateSign(context.Background(), signReq)
	require.NoError(t, err)
	assert.Equal(t, SignResponse{ExternalID: "e-1", URL: "https://vendor/e-1"}, resp)
}

func TestInitiateSign_FailuresAreUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"client error", http.StatusUnauthorized, `{}`},
		{"bad json", http.StatusOK, `not json`},
		{"missing fields", http.StatusOK, `{"id":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeVendor(t, tt.status, tt.reply, nil)
			p := NewBearer(Config{Name: "docsign", BaseURL: srv.URL}, nil)

			_, err := p.InitiateSign(context.Background(), signReq)
			assert.ErrorIs(t, err, common.ErrProviderUnavailable)
		})
	}
}

func TestInitiateSign_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"id":"x","sign_url":"y"}`))
	}))
	defer srv.Close()

	p := NewBearer(Config{
		Name:    "slow",
		BaseURL: srv.URL,
		Timeout: timex.Duration{Duration: 20 * time.Millisecond},
	}, nil)

	_, err := p.InitiateSign(context.Background(), signReq)
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
}

func TestInitiateSign_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewAPIKey(Config{Name: "gone", BaseURL: url}, nil)
	_, err := p.InitiateSign(context.Background(), signReq)
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
}

func TestValidateCallback(t *testing.T) {
	body := []byte(`{"external_ref":"req-1","status":"completed"}`)
	secret := []byte("whsec")
	sig := cryptox.SignHex(secret, body)

	bearer := NewBearer(Config{Name: "b", BaseURL: "http://x", WebhookSecret: "whsec"}, nil)
	apikey := NewAPIKey(Config{Name: "a", BaseURL: "http://x", WebhookSecret: "whsec"}, nil)

	t.Run("bearer ok", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Signature", sig)
		assert.NoError(t, bearer.ValidateCallback(h, body))
	})
	t.Run("bearer tampered body", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Signature", sig)
		assert.ErrorIs(t, bearer.ValidateCallback(h, append(body, ' ')), common.ErrSignatureInvalid)
	})
	t.Run("bearer missing header", func(t *testing.T) {
		assert.ErrorIs(t, bearer.ValidateCallback(http.Header{}, body), common.ErrSignatureInvalid)
	})
	t.Run("apikey prefixed", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Webhook-Signature", "sha256="+sig)
		assert.NoError(t, apikey.ValidateCallback(h, body))
	})
	t.Run("apikey wrong secret", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Webhook-Signature", "sha256="+cryptox.SignHex([]byte("other"), body))
		assert.ErrorIs(t, apikey.ValidateCallback(h, body), common.ErrSignatureInvalid)
	})
	t.Run("no secret configured", func(t *testing.T) {
		p := NewBearer(Config{Name: "b", BaseURL: "http://x"}, nil)
		h := http.Header{}
		h.Set("X-Signature", sig)
		assert.ErrorIs(t, p.ValidateCallback(h, body), common.ErrSignatureInvalid)
	})
}

func TestHMAC_ValidateCallback(t *testing.T) {
	now := time.Unix(1760000000, 0)
	p := NewHMAC(Config{Name: "sigma", BaseURL: "http://x", WebhookSecret: "whsec"}, nil)
	p.now = func() time.Time { return now }

	body := []byte(`{"reference":"req-1","event":"envelope.signed"}`)
	sign := func(ts time.Time) http.Header {
		s := strconv.FormatInt(ts.Unix(), 10)
		h := http.Header{}
		h.Set("X-Timestamp", s)
		h.Set("X-Signature", cryptox.SignHex([]byte("whsec"), signedPayload(s, body)))
		return h
	}

	assert.NoError(t, p.ValidateCallback(sign(now.Add(-time.Minute)), body))
	assert.ErrorIs(t, p.ValidateCallback(sign(now.Add(-time.Hour)), body), common.ErrSignatureInvalid)

	h := sign(now)
	h.Set("X-Timestamp", strconv.FormatInt(now.Unix()+1, 10))
	assert.ErrorIs(t, p.ValidateCallback(h, body), common.ErrSignatureInvalid)

	h = sign(now)
	h.Del("X-Timestamp")
	assert.ErrorIs(t, p.ValidateCallback(h, body), common.ErrSignatureInvalid)
}

func TestParseCallback(t *testing.T) {
	signedAt := time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)

	bearer := NewBearer(Config{Name: "b", BaseURL: "http://x"}, nil)
	apikey := NewAPIKey(Config{Name: "a", BaseURL: "http://x"}, nil)
	hm := NewHMAC(Config{Name: "h", BaseURL: "http://x"}, nil)

	tests := []struct {
		name string
		p    Provider
		body string
		want CallbackEvent
	}{
		{
			"bearer completed", bearer,
			`{"id":"env-9","external_ref":"req-1","status":"completed","signature_id":"sig-1","signed_at":"2026-06-02T08:00:00Z"}`,
			CallbackEvent{RequestID: "req-1", ExternalID: "env-9", Status: models.SigningCompleted, SignatureRef: "sig-1", SignedAt: &signedAt},
		},
		{
			"bearer declined", bearer,
			`{"id":"env-9","external_ref":"req-1","status":"declined"}`,
			CallbackEvent{RequestID: "req-1", ExternalID: "env-9", Status: models.SigningFailed, FailureReason: models.FailureDeclined},
		},
		{
			"apikey completed", apikey,
			`{"event_type":"submission.completed","data":{"id":42,"external_id":"req-2","completed_at":"2026-06-02T08:00:00Z","audit_log_url":"https://vendor/audit/42"}}`,
			CallbackEvent{RequestID: "req-2", ExternalID: "42", Status: models.SigningCompleted, SignatureRef: "https://vendor/audit/42", SignedAt: &signedAt},
		},
		{
			"apikey declined", apikey,
			`{"event_type":"submission.declined","data":{"id":"42","external_id":"req-2"}}`,
			CallbackEvent{RequestID: "req-2", ExternalID: "42", Status: models.SigningFailed, FailureReason: models.FailureDeclined},
		},
		{
			"hmac signed", hm,
			`{"reference":"req-3","envelope_id":"e-1","event":"envelope.signed","signature_ref":"s-3","signed_at":"2026-06-02T08:00:00Z"}`,
			CallbackEvent{RequestID: "req-3", ExternalID: "e-1", Status: models.SigningCompleted, SignatureRef: "s-3", SignedAt: &signedAt},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.p.ParseCallback([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCallback_Malformed(t *testing.T) {
	bearer := NewBearer(Config{Name: "b", BaseURL: "http://x"}, nil)
	apikey := NewAPIKey(Config{Name: "a", BaseURL: "http://x"}, nil)
	hm := NewHMAC(Config{Name: "h", BaseURL: "http://x"}, nil)

	cases := map[string]struct {
		p    Provider
		body string
	}{
		"not json":          {bearer, `{`},
		"no reference":      {bearer, `{"status":"completed"}`},
		"unknown status":    {bearer, `{"external_ref":"r","status":"viewed"}`},
		"bad time":          {bearer, `{"external_ref":"r","status":"completed","signed_at":"yesterday"}`},
		"apikey no ext id":  {apikey, `{"event_type":"submission.completed","data":{}}`},
		"apikey unknown":    {apikey, `{"event_type":"form.viewed","data":{"external_id":"r"}}`},
		"hmac unknown":      {hm, `{"reference":"r","event":"envelope.opened"}`},
		"hmac no reference": {hm, `{"event":"envelope.signed"}`},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.p.ParseCallback([]byte(c.body))
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestRegistry(t *testing.T) {
	r, err := FromConfig([]Config{
		{Name: "docsign", Kind: "bearer", BaseURL: "http://a"},
		{Name: "seal", Kind: "APIKEY", BaseURL: "http://b"},
		{Name: "sigma", Kind: "hmac", BaseURL: "http://c"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"docsign", "seal", "sigma"}, r.Names())

	p, err := r.Get("seal")
	require.NoError(t, err)
	assert.IsType(t, &APIKey{}, p)

	_, err = r.Get("acme")
	assert.ErrorIs(t, err, common.ErrUnknownProvider)
}

func TestFromConfig_Errors(t *testing.T) {
	cases := map[string][]Config{
		"no name":      {{Kind: "bearer", BaseURL: "http://a"}},
		"no base url":  {{Name: "a", Kind: "bearer"}},
		"unknown kind": {{Name: "a", Kind: "fax", BaseURL: "http://a"}},
		"duplicate": {
			{Name: "a", Kind: "bearer", BaseURL: "http://a"},
			{Name: "a", Kind: "hmac", BaseURL: "http://b"},
		},
	}
	for name, cfgs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromConfig(cfgs, nil)
			assert.Error(t, err)
		})
	}
}
