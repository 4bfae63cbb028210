package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/dbx"
	"github.com/dmitrijs2005/letterflow/internal/lockx"
	"github.com/dmitrijs2005/letterflow/internal/logging"
	"github.com/dmitrijs2005/letterflow/internal/server/esign"
	"github.com/dmitrijs2005/letterflow/internal/server/lifecycle"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/signingrequests"
	"github.com/dmitrijs2005/letterflow/internal/server/signing"
	"github.com/dmitrijs2005/letterflow/internal/server/workflow"
)

// dispatchLimit bounds concurrent provider calls of one DispatchAll.
const dispatchLimit = 4

// Webhook outcomes reported to providers.
const (
	WebhookApplied   = "applied"
	WebhookDuplicate = "duplicate"
	WebhookStale     = "stale"
	WebhookUnknown   = "unknown"
)

// WebhookResult is the acknowledgement of one webhook delivery.
type WebhookResult struct {
	RequestID   string             `json:"request_id,omitempty"`
	Status      string             `json:"status"`
	LetterState models.LetterState `json:"letter_state,omitempty"`
}

// SigningService tracks signing requests. Locks are taken request first,
// then letter.
type SigningService struct {
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	locks       *lockx.Keyed
	log         logging.Logger
	signer      *signing.Signer
	providers   ProviderRegistry
	letters     *LetterService
	now         func() time.Time
}

func NewSigningService(tx dbx.Transactor, m repomanager.RepositoryManager, locks *lockx.Keyed, log logging.Logger,
	signer *signing.Signer, providers ProviderRegistry, letters *LetterService) *SigningService {
	return &SigningService{
		tx:          tx,
		repomanager: m,
		locks:       locks,
		log:         log.With("module", "signing"),
		signer:      signer,
		providers:   providers,
		letters:     letters,
		now:         time.Now,
	}
}

func (s *SigningService) lockRequest(id string) func() {
	return s.locks.Lock("request:" + id)
}

// lockSignatory is taken before the letter lock, never inside it.
func (s *SigningService) lockSignatory(letterID string, idx int) func() {
	return s.locks.Lock(fmt.Sprintf("signatory:%s:%d", letterID, idx))
}

// Initiate asks the provider to start signing for one signatory. An empty
// provider uses the signatory's own. The vendor is called before any
// write; on failure no request is stored and the attempt is audited.
// Initiations for the same signatory run one at a time, so a concurrent
// retry sees the first request instead of opening a second envelope.
func (s *SigningService) Initiate(ctx context.Context, actor workflow.Actor, letterID string, idx int, provider string) (*models.SigningRequest, error) {
	unlock := s.lockSignatory(letterID, idx)
	req, err := s.initiate(ctx, actor, letterID, idx, provider)
	unlock()
	if err != nil {
		s.letters.recordRejection(ctx, letterID, actor, models.ActionSigningFailed, lifecycle.InitiateSigning, err,
			"signatory_index", idx, "provider", provider)
		return nil, err
	}
	s.log.Info(ctx, "signing initiated", "letter_id", letterID, "signatory", idx, "request_id", req.ID, "provider", req.Provider)
	return req, nil
}

func (s *SigningService) initiate(ctx context.Context, actor workflow.Actor, letterID string, idx int, provider string) (*models.SigningRequest, error) {
	l, err := s.letters.Get(ctx, letterID)
	if err != nil {
		return nil, err
	}
	if err := s.canInitiate(ctx, s.tx.Conn(), l, idx); err != nil {
		return nil, err
	}

	sg := l.Signatories[idx]
	if provider == "" {
		provider = sg.Provider
	}
	p, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	req := s.signer.NewRequest(letterID, idx, provider, s.now())

	doc := "letter:" + l.SerialNumber
	if len(l.Files) > 0 && l.Files[0].URL != "" {
		doc = l.Files[0].URL
	}
	resp, err := p.InitiateSign(ctx, esign.SignRequest{
		RequestID:   req.ID,
		LetterID:    letterID,
		DocumentRef: doc,
		SignerName:  sg.Name,
		SignerEmail: sg.Email,
		ReturnURL:   req.SigningURL,
	})
	if err != nil {
		if !errors.Is(err, common.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %w", common.ErrProviderUnavailable, err)
		}
		return nil, err
	}
	req.ExternalID = resp.ExternalID
	req.ProviderURL = resp.URL

	unlock := s.letters.lockLetter(letterID)
	defer unlock()

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Letters(tx)
		l, err := repo.GetForUpdate(ctx, letterID)
		if err != nil {
			return err
		}
		if err := s.canInitiate(ctx, tx, l, idx); err != nil {
			return err
		}

		if err := s.repomanager.SigningRequests(tx).Create(ctx, req); err != nil {
			return err
		}

		l.Signatories[idx].SigningRequestID = req.ID
		l.Signatories[idx].Provider = provider
		l.UpdatedAt = req.CreatedAt
		if err := repo.Update(ctx, l); err != nil {
			return err
		}

		return s.letters.appendAudit(ctx, tx, models.AuditEntry{
			LetterID:  letterID,
			Action:    models.ActionSigningInitiated,
			Actor:     actor.ID,
			At:        req.CreatedAt,
			FromState: l.State,
			ToState:   l.State,
			Payload: map[string]any{
				"signing_request_id": req.ID,
				"signatory_index":    idx,
				"provider":           provider,
				"external_id":        req.ExternalID,
				"expires_at":         req.ExpiresAt,
			},
		})
	})
	if err != nil {
		s.log.Warn(ctx, "vendor envelope left without a signing request", "letter_id", letterID, "external_id", resp.ExternalID, "error", err)
		return nil, err
	}
	return req, nil
}

// canInitiate rejects a signatory whose latest request is still usable.
func (s *SigningService) canInitiate(ctx context.Context, db dbx.DBTX, l *models.Letter, idx int) error {
	if err := lifecycle.Editable(l, lifecycle.InitiateSigning); err != nil {
		return err
	}
	if idx < 0 || idx >= len(l.Signatories) {
		return common.Invalid("signatory_index", "letter has no signatory %d", idx)
	}

	latest := l.Signatories[idx].SigningRequestID
	if latest == "" {
		return nil
	}
	r, err := s.repomanager.SigningRequests(db).Get(ctx, latest)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	switch {
	case r.Status == models.SigningCompleted:
		return fmt.Errorf("%w: signatory %d already signed via request %s", common.ErrInvalidTransition, idx, r.ID)
	case r.Status == models.SigningPending && !r.Expired(s.now()):
		return fmt.Errorf("%w: signatory %d has a pending signing request %s", common.ErrInvalidTransition, idx, r.ID)
	}
	return nil
}

// DispatchAll starts signing for every signatory of an APPROVED letter that
// has no usable request yet. Provider calls run concurrently; every failure
// is reported.
func (s *SigningService) DispatchAll(ctx context.Context, letterID string) error {
	l, err := s.letters.Get(ctx, letterID)
	if err != nil {
		return err
	}
	if l.State != models.StateApproved {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(dispatchLimit)

	for idx := range l.Signatories {
		if err := s.canInitiate(ctx, s.tx.Conn(), l, idx); err != nil {
			continue
		}
		g.Go(func() error {
			if _, err := s.Initiate(ctx, System, letterID, idx, ""); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("signatory %d: %w", idx, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// VerifyCallback checks the signature of a signing URL. A mismatch fails a
// PENDING request; an expired PENDING request is failed as expired and
// reported as common.ErrStaleWebhook.
func (s *SigningService) VerifyCallback(ctx context.Context, requestID, supplied string) (*models.SigningRequest, error) {
	unlockReq := s.lockRequest(requestID)
	defer unlockReq()

	req, err := s.repomanager.SigningRequests(s.tx.Conn()).Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	unlock := s.letters.lockLetter(req.LetterID)
	defer unlock()

	var outcome error
	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		outcome = nil
		repo := s.repomanager.SigningRequests(tx)
		if req, err = repo.GetForUpdate(ctx, requestID); err != nil {
			return err
		}
		now := s.now().UTC()

		if !s.signer.Verify(req, supplied) {
			outcome = fmt.Errorf("%w: signing request %s", common.ErrSignatureInvalid, requestID)
			if req.Status != models.SigningPending {
				return nil
			}
			return s.fail(ctx, tx, req, models.FailureSignatureInvalid, models.ActionCallbackInvalid, System, now)
		}

		if req.Status == models.SigningPending && req.Expired(now) {
			outcome = fmt.Errorf("%w: signing request %s expired at %s", common.ErrStaleWebhook, requestID, req.ExpiresAt.Format(time.RFC3339))
			return s.fail(ctx, tx, req, models.FailureExpired, models.ActionSigningExpired, System, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		s.log.Warn(ctx, "signing callback rejected", "request_id", requestID, "error", outcome)
		return nil, outcome
	}
	return req, nil
}

// ApplyWebhook authenticates, parses and applies one provider delivery.
// Only PENDING requests change; repeated deliveries are acknowledged as
// duplicates without an audit entry.
func (s *SigningService) ApplyWebhook(ctx context.Context, provider string, headers http.Header, body []byte) (*WebhookResult, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	if err := p.ValidateCallback(headers, body); err != nil {
		s.rejectUnauthenticated(ctx, p, body)
		if !errors.Is(err, common.ErrSignatureInvalid) {
			err = fmt.Errorf("%w: %w", common.ErrSignatureInvalid, err)
		}
		return nil, err
	}

	ev, err := p.ParseCallback(body)
	if err != nil {
		if !errors.Is(err, common.ErrValidation) {
			err = fmt.Errorf("%w: %w", common.ErrValidation, err)
		}
		return nil, err
	}

	unlockReq := s.lockRequest(ev.RequestID)
	defer unlockReq()

	req, err := s.repomanager.SigningRequests(s.tx.Conn()).Get(ctx, ev.RequestID)
	if errors.Is(err, common.ErrorNotFound) {
		s.log.Warn(ctx, "webhook for unknown signing request", "provider", provider, "request_id", ev.RequestID)
		return &WebhookResult{RequestID: ev.RequestID, Status: WebhookUnknown}, nil
	}
	if err != nil {
		return nil, err
	}
	if req.Provider != provider {
		return nil, common.Invalid("provider", "signing request %s belongs to %s, not %s", req.ID, req.Provider, provider)
	}

	unlock := s.letters.lockLetter(req.LetterID)
	defer unlock()

	actor := workflow.Actor{ID: "provider:" + provider}
	res := &WebhookResult{RequestID: req.ID}

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.SigningRequests(tx)
		cur, err := repo.GetForUpdate(ctx, req.ID)
		if err != nil {
			return err
		}
		now := s.now().UTC()

		if cur.Status.Terminal() {
			res.Status = WebhookDuplicate
			if cur.Status == models.SigningFailed && cur.FailureReason == models.FailureExpired {
				res.Status = WebhookStale
			}
			return nil
		}
		if cur.Expired(now) {
			res.Status = WebhookStale
			return s.fail(ctx, tx, cur, models.FailureExpired, models.ActionSigningExpired, System, now)
		}

		res.Status = WebhookApplied
		switch ev.Status {
		case models.SigningCompleted:
			return s.complete(ctx, tx, cur, ev, actor, now)
		case models.SigningFailed:
			reason := ev.FailureReason
			if reason == "" {
				reason = models.FailureDeclined
			}
			return s.fail(ctx, tx, cur, reason, models.ActionSigningDeclined, actor, now)
		default:
			return common.Invalid("status", "unsupported webhook status %q", ev.Status)
		}
	})
	if err != nil {
		return nil, err
	}

	if l, err := s.letters.Get(ctx, req.LetterID); err == nil {
		res.LetterState = l.State
	}
	s.log.Info(ctx, "webhook processed", "provider", provider, "request_id", req.ID, "status", res.Status)
	return res, nil
}

// rejectUnauthenticated fails the PENDING request an unauthenticated
// delivery names, if the body can be read at all.
func (s *SigningService) rejectUnauthenticated(ctx context.Context, p esign.Provider, body []byte) {
	ev, err := p.ParseCallback(body)
	if err != nil || ev.RequestID == "" {
		s.log.Warn(ctx, "unauthenticated webhook", "provider", p.Name())
		return
	}

	unlockReq := s.lockRequest(ev.RequestID)
	defer unlockReq()

	req, err := s.repomanager.SigningRequests(s.tx.Conn()).Get(ctx, ev.RequestID)
	if err != nil || req.Provider != p.Name() || req.Status != models.SigningPending {
		s.log.Warn(ctx, "unauthenticated webhook", "provider", p.Name(), "request_id", ev.RequestID)
		return
	}

	unlock := s.letters.lockLetter(req.LetterID)
	defer unlock()

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		cur, err := s.repomanager.SigningRequests(tx).GetForUpdate(ctx, req.ID)
		if err != nil || cur.Status != models.SigningPending {
			return err
		}
		return s.fail(ctx, tx, cur, models.FailureSignatureInvalid, models.ActionCallbackInvalid,
			workflow.Actor{ID: "provider:" + p.Name()}, s.now().UTC())
	})
	if err != nil {
		s.log.Error(ctx, "failing request after invalid webhook", "request_id", req.ID, "error", err)
		return
	}
	s.log.Warn(ctx, "unauthenticated webhook failed signing request", "provider", p.Name(), "request_id", req.ID)
}

func (s *SigningService) complete(ctx context.Context, tx dbx.DBTX, req *models.SigningRequest, ev esign.CallbackEvent, actor workflow.Actor, now time.Time) error {
	signedAt := now
	if ev.SignedAt != nil {
		signedAt = ev.SignedAt.UTC()
	}
	req.Status = models.SigningCompleted
	req.SignatureRef = ev.SignatureRef
	req.SignedAt = &signedAt
	if ev.ExternalID != "" {
		req.ExternalID = ev.ExternalID
	}
	req.UpdatedAt = now
	if err := s.repomanager.SigningRequests(tx).Resolve(ctx, req); err != nil {
		return err
	}

	l, err := s.letters.recordSignature(ctx, tx, req)
	if err != nil {
		return err
	}
	return s.letters.appendAudit(ctx, tx, models.AuditEntry{
		LetterID:  req.LetterID,
		Action:    models.ActionSigningCompleted,
		Actor:     actor.ID,
		At:        now,
		FromState: l.State,
		ToState:   l.State,
		Payload: map[string]any{
			"signing_request_id": req.ID,
			"signatory_index":    req.SignatoryIndex,
			"signature_ref":      req.SignatureRef,
			"signed_at":          signedAt,
		},
	})
}

func (s *SigningService) fail(ctx context.Context, tx dbx.DBTX, req *models.SigningRequest, reason, action string, actor workflow.Actor, now time.Time) error {
	req.Status = models.SigningFailed
	req.FailureReason = reason
	req.UpdatedAt = now
	if err := s.repomanager.SigningRequests(tx).Resolve(ctx, req); err != nil {
		return err
	}
	return s.letters.appendAudit(ctx, tx, models.AuditEntry{
		LetterID: req.LetterID,
		Action:   action,
		Actor:    actor.ID,
		At:       now,
		Payload: map[string]any{
			"signing_request_id": req.ID,
			"signatory_index":    req.SignatoryIndex,
			"reason":             reason,
		},
	})
}

// SweepExpired fails every PENDING request whose expiry is not after now.
// Letters are left as they are. It returns the ids of the failed requests.
func (s *SigningService) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	now = now.UTC()
	expired, err := s.repomanager.SigningRequests(s.tx.Conn()).ListExpired(ctx, now)
	if err != nil {
		return nil, err
	}

	var (
		ids  []string
		errs []error
	)
	for _, r := range expired {
		ok, err := s.expire(ctx, r, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("signing request %s: %w", r.ID, err))
			continue
		}
		if ok {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) > 0 {
		s.log.Info(ctx, "expired signing requests", "count", len(ids))
	}
	return ids, errors.Join(errs...)
}

func (s *SigningService) expire(ctx context.Context, r *models.SigningRequest, now time.Time) (bool, error) {
	unlockReq := s.lockRequest(r.ID)
	defer unlockReq()
	unlock := s.letters.lockLetter(r.LetterID)
	defer unlock()

	done := false
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		cur, err := s.repomanager.SigningRequests(tx).GetForUpdate(ctx, r.ID)
		if err != nil {
			return err
		}
		if cur.Status != models.SigningPending || !cur.Expired(now) {
			return nil
		}
		done = true
		return s.fail(ctx, tx, cur, models.FailureExpired, models.ActionSigningExpired, System, now)
	})
	return done, err
}

// Cancel withdraws a PENDING request so the signatory can be re-initiated.
func (s *SigningService) Cancel(ctx context.Context, actor workflow.Actor, requestID, reason string) (*models.SigningRequest, error) {
	unlockReq := s.lockRequest(requestID)
	defer unlockReq()

	req, err := s.repomanager.SigningRequests(s.tx.Conn()).Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	unlock := s.letters.lockLetter(req.LetterID)
	defer unlock()

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.SigningRequests(tx)
		if req, err = repo.GetForUpdate(ctx, requestID); err != nil {
			return err
		}
		if req.Status != models.SigningPending {
			return fmt.Errorf("%w: signing request %s is %s", common.ErrInvalidTransition, req.ID, req.Status)
		}

		now := s.now().UTC()
		req.Status = models.SigningCancelled
		req.UpdatedAt = now
		if err := repo.Resolve(ctx, req); err != nil {
			if errors.Is(err, signingrequests.ErrNotPending) {
				return fmt.Errorf("%w: %w", common.ErrInvalidTransition, err)
			}
			return err
		}
		return s.letters.appendAudit(ctx, tx, models.AuditEntry{
			LetterID: req.LetterID,
			Action:   models.ActionSigningCancelled,
			Actor:    actor.ID,
			At:       now,
			Payload: map[string]any{
				"signing_request_id": req.ID,
				"signatory_index":    req.SignatoryIndex,
				"reason":             reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "signing request cancelled", "request_id", req.ID, "actor", actor.ID)
	return req, nil
}

// List returns every request of a letter, oldest first.
func (s *SigningService) List(ctx context.Context, letterID string) ([]*models.SigningRequest, error) {
	if _, err := s.letters.Get(ctx, letterID); err != nil {
		return nil, err
	}
	return s.repomanager.SigningRequests(s.tx.Conn()).ListByLetter(ctx, letterID)
}

