// Package signing builds and verifies the tamper-evident URLs handed to
// signatories.
//
// A request's token is hex(HMAC-SHA256(k, id|letterID|unix(createdAt)))
// where k is derived from the configured secret with HKDF. Changing the id,
// the letter or the timestamp invalidates the token.
package signing

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/letterflow/internal/cryptox"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

// KeyInfo binds the derived key to this use.
const KeyInfo = "letterflow/signing-url"

// DefaultValidity is used when no validity window is configured.
const DefaultValidity = 7 * 24 * time.Hour

var ErrNoSecret = errors.New("signing secret is empty")

type Signer struct {
	key      []byte
	baseURL  string
	validity time.Duration
}

// NewSigner derives the URL key from secret. A non-positive validity falls
// back to DefaultValidity.
func NewSigner(secret, baseURL string, validity time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	key, err := cryptox.DeriveKey([]byte(secret), KeyInfo)
	if err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Signer{key: key, baseURL: strings.TrimRight(baseURL, "/"), validity: validity}, nil
}

func (s *Signer) Validity() time.Duration { return s.validity }

// Token computes the request token.
func (s *Signer) Token(requestID, letterID string, createdAt time.Time) string {
	return cryptox.SignParts(s.key, requestID, letterID, strconv.FormatInt(createdAt.Unix(), 10))
}

// URL renders <base>/sign/<id>?sig=<token>&ts=<unix>.
func (s *Signer) URL(requestID, token string, createdAt time.Time) string {
	q := url.Values{}
	q.Set("sig", token)
	q.Set("ts", strconv.FormatInt(createdAt.Unix(), 10))
	return fmt.Sprintf("%s/sign/%s?%s", s.baseURL, url.PathEscape(requestID), q.Encode())
}

// NewRequest builds a PENDING request for signatory idx with a fresh random
// id, its token, URL and expiry.
func (s *Signer) NewRequest(letterID string, idx int, provider string, now time.Time) *models.SigningRequest {
	created := now.UTC().Truncate(time.Second)
	id := uuid.NewString()
	token := s.Token(id, letterID, created)

	return &models.SigningRequest{
		ID:             id,
		LetterID:       letterID,
		SignatoryIndex: idx,
		Provider:       provider,
		Token:          token,
		SigningURL:     s.URL(id, token, created),
		Status:         models.SigningPending,
		CreatedAt:      created,
		ExpiresAt:      created.Add(s.validity),
		UpdatedAt:      created,
	}
}

// Verify recomputes the token of r and compares it with supplied in
// constant time.
func (s *Signer) Verify(r *models.SigningRequest, supplied string) bool {
	return cryptox.EqualHex(s.Token(r.ID, r.LetterID, r.CreatedAt), supplied)
}
