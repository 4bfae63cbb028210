package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/dbx"
	"github.com/dmitrijs2005/letterflow/internal/lockx"
	"github.com/dmitrijs2005/letterflow/internal/logging"
	"github.com/dmitrijs2005/letterflow/internal/server/esign"
	"github.com/dmitrijs2005/letterflow/internal/server/events"
	"github.com/dmitrijs2005/letterflow/internal/server/lifecycle"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
	"github.com/dmitrijs2005/letterflow/internal/server/render"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/idempotency"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/signingrequests"
	"github.com/dmitrijs2005/letterflow/internal/server/storage"
	"github.com/dmitrijs2005/letterflow/internal/server/workflow"
)

// CreateEndpoint scopes idempotency keys of letter creation.
const CreateEndpoint = "POST /api/v1/letters"

// ProviderRegistry resolves configured e-signature providers.
type ProviderRegistry interface {
	Get(name string) (esign.Provider, error)
}

// Renderer produces document files for a letter at finalize.
type Renderer interface {
	Render(ctx context.Context, l *models.Letter) ([]render.File, error)
}

// Dispatcher starts signing for every signatory of an approved letter.
type Dispatcher interface {
	DispatchAll(ctx context.Context, letterID string) error
}

// LetterConfig carries the optional collaborators of LetterService. Nil
// members disable the matching feature.
type LetterConfig struct {
	Presets   map[models.LetterType][]models.StepDefinition
	Providers ProviderRegistry
	Renderer  Renderer
	Publisher events.Publisher
	Store     storage.Store
}

// LetterService owns the letter lifecycle. Every mutating call runs under
// the per-letter lock and in one transaction.
type LetterService struct {
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	locks       *lockx.Keyed
	log         logging.Logger
	cfg         LetterConfig
	dispatcher  Dispatcher
	now         func() time.Time
}

func NewLetterService(tx dbx.Transactor, m repomanager.RepositoryManager, locks *lockx.Keyed, log logging.Logger, cfg LetterConfig) *LetterService {
	return &LetterService{
		tx:          tx,
		repomanager: m,
		locks:       locks,
		log:         log.With("module", "letters"),
		cfg:         cfg,
		now:         time.Now,
	}
}

// SetDispatcher wires the signing tracker, which itself depends on the
// letter service.
func (s *LetterService) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

func letterLockKey(id string) string { return "letter:" + id }

func (s *LetterService) lockLetter(id string) func() {
	return s.locks.Lock(letterLockKey(id))
}

// CreateLetterInput is the body of a create request.
type CreateLetterInput struct {
	Type            models.LetterType       `json:"letter_type"`
	Locale          string                  `json:"locale"`
	TemplateID      string                  `json:"template_id"`
	TemplateVersion int                     `json:"template_version"`
	Data            map[string]any          `json:"data"`
	IssueDate       *time.Time              `json:"issue_date,omitempty"`
	EffectiveDate   *time.Time              `json:"effective_date,omitempty"`
	Signatories     []models.Signatory      `json:"signatories"`
	Steps           []models.StepDefinition `json:"steps"`
	Recipients      []string                `json:"recipients,omitempty"`
}

// UpdateDraftInput replaces the non-nil parts of a draft.
type UpdateDraftInput struct {
	Locale          *string                 `json:"locale,omitempty"`
	TemplateID      *string                 `json:"template_id,omitempty"`
	TemplateVersion *int                    `json:"template_version,omitempty"`
	Data            map[string]any          `json:"data,omitempty"`
	IssueDate       *time.Time              `json:"issue_date,omitempty"`
	EffectiveDate   *time.Time              `json:"effective_date,omitempty"`
	Signatories     []models.Signatory      `json:"signatories,omitempty"`
	Steps           []models.StepDefinition `json:"steps,omitempty"`
	Recipients      []string                `json:"recipients,omitempty"`
}

// Create stores a new DRAFT letter with the next serial number. A non-empty
// key makes the call replayable: the first result for (actor, key) is
// returned again, with replayed set, as long as the input is identical.
func (s *LetterService) Create(ctx context.Context, actor workflow.Actor, key string, in CreateLetterInput) (l *models.Letter, replayed bool, err error) {
	t, ok := models.ParseLetterType(string(in.Type))
	if !ok {
		return nil, false, common.Invalid("letter_type", "unknown letter type %q", in.Type)
	}
	in.Type = t

	if err := s.validateSignatories(in.Signatories); err != nil {
		return nil, false, err
	}
	if in.TemplateVersion < 0 {
		return nil, false, common.Invalid("template_version", "must not be negative")
	}

	defs := in.Steps
	if len(defs) == 0 {
		defs = s.cfg.Presets[in.Type]
	}
	var wf models.Workflow
	if len(defs) > 0 {
		if wf, err = workflow.New(defs); err != nil {
			return nil, false, err
		}
	}

	var hash string
	if key != "" {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, false, fmt.Errorf("hash request: %w", err)
		}
		sum := sha256.Sum256(raw)
		hash = hex.EncodeToString(sum[:])

		unlock := s.locks.Lock("idempotency:" + actor.ID + ":" + key)
		defer unlock()

		if l, ok, err := s.replay(ctx, actor.ID, key, hash); err != nil || ok {
			return l, ok, err
		}
	}

	now := s.now().UTC()
	l = &models.Letter{
		ID:              uuid.NewString(),
		Type:            in.Type,
		Locale:          in.Locale,
		TemplateID:      in.TemplateID,
		TemplateVersion: in.TemplateVersion,
		Data:            in.Data,
		IssueDate:       in.IssueDate,
		EffectiveDate:   in.EffectiveDate,
		State:           models.StateDraft,
		Signatories:     cleanSignatories(in.Signatories),
		Workflow:        wf,
		Recipients:      in.Recipients,
		CreatedBy:       actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Letters(tx)

		n, err := repo.NextSerial(ctx)
		if err != nil {
			return err
		}
		l.SerialNumber = models.FormatSerial(common.SerialPrefix, now.Year(), n)

		if err := repo.Create(ctx, l); err != nil {
			return err
		}

		if err := s.appendAudit(ctx, tx, models.AuditEntry{
			LetterID: l.ID,
			Action:   models.ActionCreated,
			Actor:    actor.ID,
			At:       now,
			ToState:  models.StateDraft,
			Payload: map[string]any{
				"serial_number": l.SerialNumber,
				"letter_type":   string(l.Type),
				"steps":         len(l.Workflow.Steps),
				"signatories":   len(l.Signatories),
			},
		}); err != nil {
			return err
		}

		if key == "" {
			return nil
		}
		body, err := json.Marshal(l)
		if err != nil {
			return err
		}
		return s.repomanager.Idempotency(tx).Save(ctx, &idempotency.Record{
			ActorID:     actor.ID,
			Key:         key,
			Endpoint:    CreateEndpoint,
			RequestHash: hash,
			StatusCode:  201,
			Body:        body,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("error creating letter: %w", err)
	}

	s.log.Info(ctx, "letter created", "letter_id", l.ID, "serial", l.SerialNumber, "actor", actor.ID)
	return l, false, nil
}

func (s *LetterService) replay(ctx context.Context, actorID, key, hash string) (*models.Letter, bool, error) {
	rec, err := s.repomanager.Idempotency(s.tx.Conn()).Get(ctx, actorID, key, CreateEndpoint)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if rec.RequestHash != hash {
		return nil, false, common.Invalid(common.IdempotencyKeyHeader, "key %q was already used with a different request", key)
	}
	var l models.Letter
	if err := json.Unmarshal(rec.Body, &l); err != nil {
		return nil, false, fmt.Errorf("decode stored response: %w", err)
	}
	return &l, true, nil
}

func (s *LetterService) validateSignatories(sigs []models.Signatory) error {
	for i, sg := range sigs {
		if strings.TrimSpace(sg.Name) == "" {
			return common.Invalid("signatories", "signatory %d has no name", i)
		}
		if sg.Provider == "" {
			return common.Invalid("signatories", "signatory %d has no signing provider", i)
		}
		if s.cfg.Providers != nil {
			if _, err := s.cfg.Providers.Get(sg.Provider); err != nil {
				return fmt.Errorf("signatory %d: %w", i, err)
			}
		}
	}
	return nil
}

// cleanSignatories drops signing state a client may have sent along.
func cleanSignatories(in []models.Signatory) []models.Signatory {
	out := make([]models.Signatory, len(in))
	for i, sg := range in {
		out[i] = models.Signatory{Name: sg.Name, Title: sg.Title, Email: sg.Email, Provider: sg.Provider}
	}
	return out
}

func (s *LetterService) Get(ctx context.Context, id string) (*models.Letter, error) {
	return s.repomanager.Letters(s.tx.Conn()).Get(ctx, id)
}

// UpdateDraft edits a DRAFT letter. Replacing the steps keeps the round
// counter so the next submit still opens a new round.
func (s *LetterService) UpdateDraft(ctx context.Context, actor workflow.Actor, id string, in UpdateDraftInput) (*models.Letter, error) {
	if in.Signatories != nil {
		if err := s.validateSignatories(in.Signatories); err != nil {
			return nil, err
		}
	}
	if in.TemplateVersion != nil && *in.TemplateVersion < 0 {
		return nil, common.Invalid("template_version", "must not be negative")
	}

	var wf *models.Workflow
	if in.Steps != nil {
		w, err := workflow.New(in.Steps)
		if err != nil {
			return nil, err
		}
		wf = &w
	}

	unlock := s.lockLetter(id)
	defer unlock()

	var l *models.Letter
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		repo := s.repomanager.Letters(tx)
		if l, err = repo.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if err := lifecycle.Editable(l, lifecycle.EditDraft); err != nil {
			return err
		}

		var changed []string
		if in.Locale != nil {
			l.Locale = *in.Locale
			changed = append(changed, "locale")
		}
		if in.TemplateID != nil {
			l.TemplateID = *in.TemplateID
			changed = append(changed, "template_id")
		}
		if in.TemplateVersion != nil {
			l.TemplateVersion = *in.TemplateVersion
			changed = append(changed, "template_version")
		}
		if in.Data != nil {
			l.Data = in.Data
			changed = append(changed, "data")
		}
		if in.IssueDate != nil {
			l.IssueDate = in.IssueDate
			changed = append(changed, "issue_date")
		}
		if in.EffectiveDate != nil {
			l.EffectiveDate = in.EffectiveDate
			changed = append(changed, "effective_date")
		}
		if in.Signatories != nil {
			l.Signatories = cleanSignatories(in.Signatories)
			changed = append(changed, "signatories")
		}
		if wf != nil {
			wf.Round = l.Workflow.Round
			l.Workflow = *wf
			changed = append(changed, "steps")
		}
		if in.Recipients != nil {
			l.Recipients = in.Recipients
			changed = append(changed, "recipients")
		}
		if len(changed) == 0 {
			return nil
		}

		now := s.now().UTC()
		l.UpdatedAt = now
		if err := repo.Update(ctx, l); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, models.AuditEntry{
			LetterID:  l.ID,
			Action:    models.ActionDraftUpdated,
			Actor:     actor.ID,
			At:        now,
			FromState: l.State,
			ToState:   l.State,
			Payload:   map[string]any{"fields": changed},
		})
	})
	if err != nil {
		s.recordRejection(ctx, id, actor, models.ActionTransitionRejected, lifecycle.EditDraft, err)
		return nil, err
	}
	return l, nil
}

// Submit sends a DRAFT letter into approval, opening a new workflow round.
func (s *LetterService) Submit(ctx context.Context, actor workflow.Actor, id string) (*models.Letter, error) {
	return s.transition(ctx, actor, id, lifecycle.TriggerSubmit, lifecycle.Params{})
}

// Void cancels a non-terminal letter. Its PENDING signing requests are
// cancelled in the same transaction.
func (s *LetterService) Void(ctx context.Context, actor workflow.Actor, id, reason string) (*models.Letter, error) {
	return s.transition(ctx, actor, id, lifecycle.TriggerVoid, lifecycle.Params{Reason: strings.TrimSpace(reason)})
}

func (s *LetterService) transition(ctx context.Context, actor workflow.Actor, id string, t lifecycle.Trigger, p lifecycle.Params) (*models.Letter, error) {
	unlock := s.lockLetter(id)
	defer unlock()

	var l *models.Letter
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		repo := s.repomanager.Letters(tx)
		if l, err = repo.GetForUpdate(ctx, id); err != nil {
			return err
		}

		now := s.now().UTC()
		entry, err := lifecycle.Transition(l, t, p, actor.ID, now)
		if err != nil {
			return err
		}

		if t == lifecycle.TriggerVoid {
			cancelled, err := s.cancelPending(ctx, tx, l.ID, actor, now)
			if err != nil {
				return err
			}
			if len(cancelled) > 0 {
				entry.Payload["cancelled_signing_requests"] = cancelled
			}
		}

		if err := repo.Update(ctx, l); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, entry)
	})
	if err != nil {
		s.recordRejection(ctx, id, actor, models.ActionTransitionRejected, t, err)
		return nil, err
	}

	s.log.Info(ctx, "letter transitioned", "letter_id", l.ID, "trigger", string(t), "state", string(l.State), "actor", actor.ID)
	return l, nil
}

func (s *LetterService) cancelPending(ctx context.Context, tx dbx.DBTX, letterID string, actor workflow.Actor, now time.Time) ([]string, error) {
	repo := s.repomanager.SigningRequests(tx)
	reqs, err := repo.ListByLetter(ctx, letterID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, r := range reqs {
		if r.Status != models.SigningPending {
			continue
		}
		r.Status = models.SigningCancelled
		r.UpdatedAt = now
		err := repo.Resolve(ctx, r)
		if errors.Is(err, signingrequests.ErrNotPending) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := s.appendAudit(ctx, tx, models.AuditEntry{
			LetterID: letterID,
			Action:   models.ActionSigningCancelled,
			Actor:    actor.ID,
			At:       now,
			Payload:  map[string]any{"signing_request_id": r.ID, "signatory_index": r.SignatoryIndex, "reason": "letter voided"},
		}); err != nil {
			return nil, err
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// DecisionResult is returned by Decide.
type DecisionResult struct {
	Letter   *models.Letter
	Step     models.Step
	Replayed bool
}

// Decide records an approval decision. A retried identical decision is
// answered from the stored step without any write. When the decision
// completes the workflow the letter moves to APPROVED and signing is
// dispatched after commit; a rejection returns it to DRAFT.
func (s *LetterService) Decide(ctx context.Context, actor workflow.Actor, id string, step int, decision models.Decision, comments string) (*DecisionResult, error) {
	res, err := s.decide(ctx, actor, id, step, decision, comments)
	if err != nil {
		return nil, err
	}

	if !res.Replayed && res.Letter.State == models.StateApproved && s.dispatcher != nil {
		if err := s.dispatcher.DispatchAll(ctx, id); err != nil {
			s.log.Warn(ctx, "signing dispatch incomplete", "letter_id", id, "error", err)
		}
		if l, err := s.Get(ctx, id); err == nil {
			res.Letter = l
		}
	}
	return res, nil
}

func (s *LetterService) decide(ctx context.Context, actor workflow.Actor, id string, step int, decision models.Decision, comments string) (*DecisionResult, error) {
	unlock := s.lockLetter(id)
	defer unlock()

	res := &DecisionResult{}
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Letters(tx)
		l, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		res.Letter = l

		if r, ok := workflow.Replay(&l.Workflow, step, decision); ok {
			res.Step, res.Replayed = r.Step, true
			return nil
		}

		if l.State != models.StatePendingApproval {
			return &workflow.DecisionError{
				Step:    step,
				Message: fmt.Sprintf("letter is %s; no approval step is actionable", l.State),
			}
		}

		now := s.now().UTC()
		r, err := workflow.Decide(&l.Workflow, step, decision, actor, comments, now)
		if err != nil {
			return err
		}
		res.Step = r.Step

		entries := []models.AuditEntry{{
			LetterID:  l.ID,
			Action:    models.ActionStepDecided,
			Actor:     actor.ID,
			At:        now,
			FromState: l.State,
			ToState:   l.State,
			Payload: map[string]any{
				"step":     step,
				"decision": string(decision),
				"comments": comments,
				"round":    l.Workflow.Round,
			},
		}}

		var trigger lifecycle.Trigger
		switch r.Outcome {
		case workflow.OutcomeCompleted:
			trigger = lifecycle.TriggerWorkflowCompleted
		case workflow.OutcomeRejected:
			trigger = lifecycle.TriggerWorkflowRejected
		}
		if trigger != "" {
			entry, err := lifecycle.Transition(l, trigger, lifecycle.Params{}, actor.ID, now)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		} else {
			l.UpdatedAt = now
		}

		if err := repo.Update(ctx, l); err != nil {
			return err
		}
		for _, e := range entries {
			if err := s.appendAudit(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.recordRejection(ctx, id, actor, models.ActionDecisionRejected, "", err, "step", step, "decision", string(decision))
		return nil, err
	}

	if !res.Replayed {
		s.log.Info(ctx, "step decided", "letter_id", id, "step", step, "decision", string(decision), "state", string(res.Letter.State))
	}
	return res, nil
}

// SignatureCompleted re-evaluates the signatures guard of an APPROVED
// letter and moves it to SIGNED once every signatory has signed. Partial
// completion is not an error.
func (s *LetterService) SignatureCompleted(ctx context.Context, id string) (*models.Letter, error) {
	unlock := s.lockLetter(id)
	defer unlock()

	var l *models.Letter
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		repo := s.repomanager.Letters(tx)
		if l, err = repo.GetForUpdate(ctx, id); err != nil {
			return err
		}
		moved, err := s.advanceIfSigned(ctx, tx, l)
		if err != nil || !moved {
			return err
		}
		return repo.Update(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// recordSignature stores a completed request on its signatory and advances
// the letter when it was the last missing signature. The caller holds the
// letter lock and tx.
func (s *LetterService) recordSignature(ctx context.Context, tx dbx.DBTX, req *models.SigningRequest) (*models.Letter, error) {
	repo := s.repomanager.Letters(tx)
	l, err := repo.GetForUpdate(ctx, req.LetterID)
	if err != nil {
		return nil, err
	}
	if req.SignatoryIndex < 0 || req.SignatoryIndex >= len(l.Signatories) {
		return l, nil
	}

	sg := &l.Signatories[req.SignatoryIndex]
	if sg.SigningRequestID != req.ID {
		// superseded by a newer request for the same signatory
		return l, nil
	}
	signedAt := req.UpdatedAt
	if req.SignedAt != nil {
		signedAt = *req.SignedAt
	}
	sg.SignedAt = &signedAt
	sg.SignatureRef = req.SignatureRef
	l.UpdatedAt = s.now().UTC()

	if _, err := s.advanceIfSigned(ctx, tx, l); err != nil {
		return nil, err
	}
	if err := repo.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *LetterService) advanceIfSigned(ctx context.Context, tx dbx.DBTX, l *models.Letter) (bool, error) {
	if l.State != models.StateApproved {
		return false, nil
	}
	if err := lifecycle.Check(l, lifecycle.TriggerSignaturesCompleted, lifecycle.Params{}); err != nil {
		return false, nil
	}
	entry, err := lifecycle.Transition(l, lifecycle.TriggerSignaturesCompleted, lifecycle.Params{}, System.ID, s.now().UTC())
	if err != nil {
		return false, err
	}
	if err := s.appendAudit(ctx, tx, entry); err != nil {
		return false, err
	}
	s.log.Info(ctx, "letter signed", "letter_id", l.ID)
	return true, nil
}

// AttachFileInput references a file rendered elsewhere.
type AttachFileInput struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// AttachFile records a rendered file reference on a non-terminal letter.
func (s *LetterService) AttachFile(ctx context.Context, actor workflow.Actor, id string, in AttachFileInput) (*models.FileRef, error) {
	kind := strings.ToLower(strings.TrimSpace(in.Kind))
	switch kind {
	case "pdf", "html", "docx":
	default:
		return nil, common.Invalid("kind", "must be pdf, html or docx, got %q", in.Kind)
	}
	if in.URL == "" {
		return nil, common.Invalid("url", "is required")
	}
	f := models.FileRef{ID: uuid.NewString(), Kind: kind, URL: in.URL}
	if err := s.attach(ctx, actor, id, []models.FileRef{f}); err != nil {
		return nil, err
	}
	return &f, nil
}

// UploadFile validates data as a PDF, stores it and attaches it.
func (s *LetterService) UploadFile(ctx context.Context, actor workflow.Actor, id string, data []byte) (*models.FileRef, error) {
	if s.cfg.Store == nil {
		return nil, common.Invalid("file", "file uploads are not configured")
	}
	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Editable(l, lifecycle.AttachFile); err != nil {
		return nil, err
	}

	pages, err := storage.InspectPDF(data)
	if err != nil {
		return nil, err
	}

	f := models.FileRef{ID: uuid.NewString(), Kind: "pdf", Pages: pages}
	f.StorageKey = storage.ObjectKey(id, f.ID, s.now().UTC())
	if err := s.cfg.Store.Put(ctx, f.StorageKey, "application/pdf", data); err != nil {
		return nil, fmt.Errorf("store %s: %w", f.StorageKey, err)
	}

	if err := s.attach(ctx, actor, id, []models.FileRef{f}); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *LetterService) attach(ctx context.Context, actor workflow.Actor, id string, files []models.FileRef) error {
	unlock := s.lockLetter(id)
	defer unlock()

	err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.attachTx(ctx, tx, actor, id, files)
	})
	if err != nil {
		s.recordRejection(ctx, id, actor, models.ActionTransitionRejected, lifecycle.AttachFile, err)
	}
	return err
}

func (s *LetterService) attachTx(ctx context.Context, tx dbx.DBTX, actor workflow.Actor, id string, files []models.FileRef) error {
	repo := s.repomanager.Letters(tx)
	l, err := repo.GetForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if err := lifecycle.Editable(l, lifecycle.AttachFile); err != nil {
		return err
	}

	now := s.now().UTC()
	for i := range files {
		files[i].AttachedAt = now
		files[i].AttachedBy = actor.ID
	}
	l.Files = append(l.Files, files...)
	l.UpdatedAt = now
	if err := repo.Update(ctx, l); err != nil {
		return err
	}

	for _, f := range files {
		if err := s.appendAudit(ctx, tx, models.AuditEntry{
			LetterID:  l.ID,
			Action:    models.ActionFileAttached,
			Actor:     actor.ID,
			At:        now,
			FromState: l.State,
			ToState:   l.State,
			Payload:   map[string]any{"file_id": f.ID, "kind": f.Kind, "pages": f.Pages},
		}); err != nil {
			return err
		}
	}
	return nil
}

// FileURL returns a download link for an attached file.
func (s *LetterService) FileURL(ctx context.Context, id, fileID string) (string, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	for _, f := range l.Files {
		if f.ID != fileID {
			continue
		}
		if f.StorageKey == "" {
			return f.URL, nil
		}
		if s.cfg.Store == nil {
			return "", fmt.Errorf("file %s: %w", fileID, common.ErrorNotFound)
		}
		return s.cfg.Store.URL(ctx, f.StorageKey)
	}
	return "", fmt.Errorf("file %s: %w", fileID, common.ErrorNotFound)
}

// Finalize issues a SIGNED letter. Without attached files the renderer, if
// configured, is asked for them first. After commit the issued event goes
// to delivery and the delivery record is written.
func (s *LetterService) Finalize(ctx context.Context, actor workflow.Actor, id string) (*models.Letter, error) {
	unlock := s.lockLetter(id)
	defer unlock()

	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var rendered []models.FileRef
	if len(l.Files) == 0 && l.State == models.StateSigned && s.cfg.Renderer != nil {
		files, err := s.cfg.Renderer.Render(ctx, l)
		if err != nil {
			s.recordRejection(ctx, id, actor, models.ActionTransitionRejected, lifecycle.TriggerFinalize, err)
			return nil, err
		}
		for _, f := range files {
			rendered = append(rendered, models.FileRef{ID: uuid.NewString(), Kind: f.Kind, URL: f.URL})
		}
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if len(rendered) > 0 {
			if err := s.attachTx(ctx, tx, System, id, rendered); err != nil {
				return err
			}
		}

		var err error
		repo := s.repomanager.Letters(tx)
		if l, err = repo.GetForUpdate(ctx, id); err != nil {
			return err
		}
		entry, err := lifecycle.Transition(l, lifecycle.TriggerFinalize, lifecycle.Params{}, actor.ID, s.now().UTC())
		if err != nil {
			return err
		}
		if err := repo.Update(ctx, l); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, entry)
	})
	if err != nil {
		s.recordRejection(ctx, id, actor, models.ActionTransitionRejected, lifecycle.TriggerFinalize, err)
		return nil, err
	}

	s.log.Info(ctx, "letter issued", "letter_id", l.ID, "serial", l.SerialNumber)
	return s.deliver(ctx, l), nil
}

// deliver hands the issued letter to delivery. Failures are audited and
// logged; the letter stays ISSUED either way. A log-only publisher records
// no delivery.
func (s *LetterService) deliver(ctx context.Context, l *models.Letter) *models.Letter {
	if s.cfg.Publisher == nil {
		return l
	}

	now := s.now().UTC()
	channel := events.ChannelOf(s.cfg.Publisher)
	pubErr := s.cfg.Publisher.Publish(ctx, events.TypeLetterIssued, l.ID, events.LetterIssued{
		LetterID:     l.ID,
		SerialNumber: l.SerialNumber,
		LetterType:   l.Type,
		Recipients:   l.Recipients,
		Files:        l.Files,
		IssuedAt:     l.UpdatedAt,
	})

	var out *models.Letter
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Letters(tx)
		cur, err := repo.GetForUpdate(ctx, l.ID)
		if err != nil {
			return err
		}

		entry := models.AuditEntry{
			LetterID:  cur.ID,
			Actor:     System.ID,
			At:        now,
			FromState: cur.State,
			ToState:   cur.State,
			Payload:   map[string]any{"recipients": cur.Recipients, "channel": channel},
		}
		out = cur
		switch {
		case pubErr != nil:
			entry.Action = models.ActionDeliveryFailed
			entry.Payload["error"] = pubErr.Error()
			return s.appendAudit(ctx, tx, entry)
		case channel == events.ChannelLog:
			entry.Action = models.ActionDeliverySkipped
			entry.Payload["reason"] = "no delivery sink configured"
			return s.appendAudit(ctx, tx, entry)
		}

		cur.Delivery = &models.DeliveryRecord{Recipients: cur.Recipients, DeliveredAt: now}
		if err := repo.Update(ctx, cur); err != nil {
			return err
		}
		entry.Action = models.ActionDelivered
		return s.appendAudit(ctx, tx, entry)
	})
	if pubErr != nil {
		s.log.Error(ctx, "delivery failed", "letter_id", l.ID, "error", pubErr)
	}
	if err != nil {
		s.log.Error(ctx, "recording delivery failed", "letter_id", l.ID, "error", err)
		return l
	}
	return out
}

// Audit returns the trail of a letter in order.
func (s *LetterService) Audit(ctx context.Context, id string) ([]models.AuditEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repomanager.Audit(s.tx.Conn()).List(ctx, id)
}

// EscalationReport lists the steps flagged by one sweep.
type EscalationReport struct {
	LetterID   string
	Escalation workflow.Escalation
}

// CheckEscalations flags every current step whose SLA elapsed before now
// and publishes one event per newly flagged step. Letters are handled
// independently; failures are joined into the returned error.
func (s *LetterService) CheckEscalations(ctx context.Context, now time.Time) ([]EscalationReport, error) {
	now = now.UTC()
	pending, err := s.repomanager.Letters(s.tx.Conn()).ListByState(ctx, models.StatePendingApproval, now)
	if err != nil {
		return nil, err
	}

	var (
		reports []EscalationReport
		errs    []error
	)
	for _, candidate := range pending {
		found, err := s.escalate(ctx, candidate.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("letter %s: %w", candidate.ID, err))
			continue
		}
		reports = append(reports, found...)
	}
	return reports, errors.Join(errs...)
}

func (s *LetterService) escalate(ctx context.Context, id string, now time.Time) ([]EscalationReport, error) {
	unlock := s.lockLetter(id)
	defer unlock()

	var (
		l     *models.Letter
		found []workflow.Escalation
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		repo := s.repomanager.Letters(tx)
		if l, err = repo.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if l.State != models.StatePendingApproval {
			return nil
		}
		if found = workflow.CheckEscalations(&l.Workflow, now); len(found) == 0 {
			return nil
		}
		if err := repo.Update(ctx, l); err != nil {
			return err
		}
		for _, e := range found {
			if err := s.appendAudit(ctx, tx, models.AuditEntry{
				LetterID:  l.ID,
				Action:    models.ActionStepEscalated,
				Actor:     System.ID,
				At:        now,
				FromState: l.State,
				ToState:   l.State,
				Payload: map[string]any{
					"step":          e.StepNumber,
					"approver":      e.Approver,
					"role":          e.Role,
					"sla":           e.SLA.String(),
					"pending_since": e.PendingSince,
					"round":         l.Workflow.Round,
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	reports := make([]EscalationReport, 0, len(found))
	for _, e := range found {
		reports = append(reports, EscalationReport{LetterID: id, Escalation: e})
		s.log.Warn(ctx, "approval step escalated", "letter_id", id, "step", e.StepNumber, "sla", e.SLA.String())
		if s.cfg.Publisher == nil {
			continue
		}
		if err := s.cfg.Publisher.Publish(ctx, events.TypeStepEscalated, id, events.StepEscalated{
			LetterID:     id,
			SerialNumber: l.SerialNumber,
			Round:        l.Workflow.Round,
			Step:         e.StepNumber,
			Approver:     e.Approver,
			Role:         e.Role,
			SLA:          e.SLA.String(),
			PendingSince: e.PendingSince,
			DetectedAt:   e.DetectedAt,
		}); err != nil {
			s.log.Error(ctx, "publishing escalation failed", "letter_id", id, "step", e.StepNumber, "error", err)
		}
	}
	return reports, nil
}

func (s *LetterService) appendAudit(ctx context.Context, tx dbx.DBTX, e models.AuditEntry) error {
	e.Origin = OriginFrom(ctx)
	if err := s.repomanager.Audit(tx).Append(ctx, &e); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// recordRejection writes the failure of a mutating call in its own
// transaction so it survives the rollback. Missing letters and audit
// failures are only logged.
func (s *LetterService) recordRejection(ctx context.Context, id string, actor workflow.Actor, action string, t lifecycle.Trigger, cause error, kv ...any) {
	if errors.Is(cause, common.ErrorNotFound) {
		return
	}

	payload := map[string]any{"error": cause.Error()}
	if t != "" {
		payload["trigger"] = string(t)
	}
	var ge *lifecycle.GuardError
	if errors.As(cause, &ge) {
		payload["guard"] = ge.Guard
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			payload[k] = kv[i+1]
		}
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		l, err := s.repomanager.Letters(tx).GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, models.AuditEntry{
			LetterID:  id,
			Action:    action,
			Actor:     actor.ID,
			At:        s.now().UTC(),
			FromState: l.State,
			ToState:   l.State,
			Payload:   payload,
		})
	})
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		s.log.Error(ctx, "recording rejected operation failed", "letter_id", id, "action", action, "error", err)
	}
}
