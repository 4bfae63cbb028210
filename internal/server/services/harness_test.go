package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/lockx"
	"github.com/dmitrijs2005/letterflow/internal/logging"
	"github.com/dmitrijs2005/letterflow/internal/server/esign"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
	"github.com/dmitrijs2005/letterflow/internal/server/render"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/letterflow/internal/server/signing"
	"github.com/dmitrijs2005/letterflow/internal/server/workflow"
	"github.com/dmitrijs2005/letterflow/internal/timex"
)

var t0 = time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

var (
	author = workflow.Actor{ID: "author-1"}
	mgr    = workflow.Actor{ID: "mgr-1"}
	hr     = workflow.Actor{ID: "hr-7", Roles: []string{"hr"}}
	vp     = workflow.Actor{ID: "vp-1"}
)

// --- fakes ---

type fakeProvider struct {
	name    string
	initErr error
	delay   time.Duration
	calls   atomic.Int32
}

type fakeCallback struct {
	RequestID    string `json:"request_id"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	SignatureRef string `json:"signature_ref,omitempty"`
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) InitiateSign(_ context.Context, req esign.SignRequest) (esign.SignResponse, error) {
	n := p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.initErr != nil {
		return esign.SignResponse{}, p.initErr
	}
	return esign.SignResponse{ExternalID: fmt.Sprintf("env-%d", n), URL: "https://vendor.example.com/s/" + req.RequestID}, nil
}

func (p *fakeProvider) ValidateCallback(h http.Header, _ []byte) error {
	if h.Get("X-Test-Signature") != "valid" {
		return common.ErrSignatureInvalid
	}
	return nil
}

func (p *fakeProvider) ParseCallback(body []byte) (esign.CallbackEvent, error) {
	var cb fakeCallback
	if err := json.Unmarshal(body, &cb); err != nil || cb.RequestID == "" {
		return esign.CallbackEvent{}, common.Invalid("body", "bad callback")
	}
	return esign.CallbackEvent{
		RequestID:     cb.RequestID,
		Status:        models.SigningStatus(cb.Status),
		FailureReason: cb.Reason,
		SignatureRef:  cb.SignatureRef,
	}, nil
}

type publishedEvent struct {
	Type    string
	Subject string
	Data    any
}

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	events []publishedEvent
}

func (p *fakePublisher) Publish(_ context.Context, eventType, subject string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{eventType, subject, data})
	return nil
}

type fakeRenderer struct {
	files []render.File
	err   error
	calls int
}

func (r *fakeRenderer) Render(context.Context, *models.Letter) ([]render.File, error) {
	r.calls++
	return r.files, r.err
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memStore) Put(_ context.Context, key, _ string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = body
	return nil
}

func (s *memStore) URL(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return "", common.ErrorNotFound
	}
	return "https://objects.example.com/" + key + "?X-Amz-Signature=x", nil
}

// --- harness ---

type harness struct {
	letters  *LetterService
	signing  *SigningService
	provider *fakeProvider
	down     *fakeProvider
	pub      *fakePublisher
	renderer *fakeRenderer
	store    *memStore
	signer   *signing.Signer
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	m := repomanager.NewMemoryRepositoryManager()
	tx := repomanager.NewMemoryTransactor(m)
	locks := &lockx.Keyed{}

	signer, err := signing.NewSigner("test-secret", "https://letters.example.com", 24*time.Hour)
	require.NoError(t, err)

	h := &harness{
		provider: &fakeProvider{name: "docsign"},
		down:     &fakeProvider{name: "downsign", initErr: common.ErrProviderUnavailable},
		pub:      &fakePublisher{},
		renderer: &fakeRenderer{files: []render.File{{Kind: "pdf", URL: "https://cdn.example.com/rendered.pdf"}}},
		store:    &memStore{},
		signer:   signer,
		clock:    t0,
	}
	registry := esign.NewRegistry(h.provider, h.down)

	h.letters = NewLetterService(tx, m, locks, logging.Nop{}, LetterConfig{
		Presets: map[models.LetterType][]models.StepDefinition{
			models.LetterAppointment: {{Number: 1, Role: "hr", SLA: timex.Duration{Duration: 24 * time.Hour}}},
		},
		Providers: registry,
		Renderer:  h.renderer,
		Publisher: h.pub,
		Store:     h.store,
	})
	h.signing = NewSigningService(tx, m, locks, logging.Nop{}, signer, registry, h.letters)
	h.letters.SetDispatcher(h.signing)

	now := func() time.Time { return h.clock }
	h.letters.now = now
	h.signing.now = now
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func offerInput(signatories int) CreateLetterInput {
	in := CreateLetterInput{
		Type:            models.LetterOffer,
		Locale:          "en",
		TemplateID:      "offer-default",
		TemplateVersion: 2,
		Data:            map[string]any{"employee": "Ada Lovelace", "salary": 120000},
		Steps: []models.StepDefinition{
			{Number: 1, Approver: "mgr-1", SLA: timex.Duration{Duration: 48 * time.Hour}},
			{Number: 2, Role: "hr", SLA: timex.Duration{Duration: 24 * time.Hour}},
			{Number: 3, Approver: "vp-1", SLA: timex.Duration{Duration: 24 * time.Hour}},
		},
		Recipients: []string{"ada@example.com"},
	}
	for i := 0; i < signatories; i++ {
		in.Signatories = append(in.Signatories, models.Signatory{
			Name:     fmt.Sprintf("Signer %d", i+1),
			Email:    fmt.Sprintf("signer%d@example.com", i+1),
			Provider: "docsign",
		})
	}
	return in
}

func (h *harness) create(t *testing.T, signatories int) *models.Letter {
	t.Helper()
	l, _, err := h.letters.Create(context.Background(), author, "", offerInput(signatories))
	require.NoError(t, err)
	return l
}

// approved walks a fresh letter through all three steps.
func (h *harness) approved(t *testing.T, signatories int) *models.Letter {
	t.Helper()
	return h.approve(t, h.create(t, signatories))
}

func (h *harness) approve(t *testing.T, l *models.Letter) *models.Letter {
	t.Helper()
	ctx := context.Background()

	_, err := h.letters.Submit(ctx, author, l.ID)
	require.NoError(t, err)

	var res *DecisionResult
	for n, a := range []workflow.Actor{mgr, hr, vp} {
		res, err = h.letters.Decide(ctx, a, l.ID, n+1, models.DecisionApprove, "")
		require.NoError(t, err)
	}
	require.Equal(t, models.StateApproved, res.Letter.State)
	return res.Letter
}

func (h *harness) requests(t *testing.T, letterID string) []*models.SigningRequest {
	t.Helper()
	reqs, err := h.signing.List(context.Background(), letterID)
	require.NoError(t, err)
	return reqs
}

func (h *harness) webhook(t *testing.T, requestID, status string) (*WebhookResult, error) {
	t.Helper()
	body, err := json.Marshal(fakeCallback{RequestID: requestID, Status: status, SignatureRef: "sig-" + requestID})
	require.NoError(t, err)
	hdr := http.Header{}
	hdr.Set("X-Test-Signature", "valid")
	return h.signing.ApplyWebhook(context.Background(), "docsign", hdr, body)
}

func (h *harness) audit(t *testing.T, letterID string) []models.AuditEntry {
	t.Helper()
	entries, err := h.letters.Audit(context.Background(), letterID)
	require.NoError(t, err)
	return entries
}

func countAction(entries []models.AuditEntry, action string) int {
	n := 0
	for _, e := range entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")
