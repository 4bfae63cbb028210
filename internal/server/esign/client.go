package esign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/cryptox"
)

const maxResponseBytes = 1 << 20

// base carries what every variant shares: the outbound client and the
// webhook secret.
type base struct {
	name          string
	baseURL       string
	webhookSecret []byte
	client        *http.Client
}

func newBase(cfg Config, client *http.Client) base {
	if client == nil {
		timeout := cfg.Timeout.Duration
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return base{
		name:          cfg.Name,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		webhookSecret: []byte(cfg.WebhookSecret),
		client:        client,
	}
}

func (b base) Name() string { return b.name }

func (b base) unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", common.ErrProviderUnavailable, b.name, fmt.Sprintf(format, args...))
}

// post sends body to path, letting sign add auth headers over the encoded
// bytes, and decodes a 2xx response into out.
func (b base) post(ctx context.Context, path string, body any, sign func(h http.Header, raw []byte), out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return b.unavailable("encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return b.unavailable("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	sign(req.Header, raw)

	resp, err := b.client.Do(req)
	if err != nil {
		return b.unavailable("%v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return b.unavailable("read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return b.unavailable("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return b.unavailable("decode response: %v", err)
	}
	return nil
}

// verifyHex checks a hex HMAC of msg taken from a header value. prefix is
// stripped when present.
func (b base) verifyHex(headerValue, prefix string, msg []byte) error {
	if len(b.webhookSecret) == 0 {
		return fmt.Errorf("%w: %s: webhook secret is not configured", common.ErrSignatureInvalid, b.name)
	}
	sig := strings.TrimPrefix(strings.TrimSpace(headerValue), prefix)
	if sig == "" {
		return fmt.Errorf("%w: %s: signature header missing", common.ErrSignatureInvalid, b.name)
	}
	if !cryptox.EqualHex(cryptox.SignHex(b.webhookSecret, msg), sig) {
		return fmt.Errorf("%w: %s: signature mismatch", common.ErrSignatureInvalid, b.name)
	}
	return nil
}

func malformed(name string, err error) error {
	return common.Invalid("body", "%s webhook: %v", name, err)
}

// parseTime accepts RFC 3339 or an empty string.
func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
