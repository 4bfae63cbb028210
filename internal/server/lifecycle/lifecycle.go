// Package lifecycle is the letter state machine. Transition evaluates the
// guard for a trigger, moves the letter and returns the audit entry the caller
// must persist together with the letter.
package lifecycle

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
	"github.com/dmitrijs2005/letterflow/internal/server/workflow"
)

type Trigger string

const (
	TriggerSubmit              Trigger = "submit"
	TriggerWorkflowCompleted   Trigger = "workflow-completed"
	TriggerWorkflowRejected    Trigger = "workflow-rejected"
	TriggerSignaturesCompleted Trigger = "all-signatures-completed"
	TriggerFinalize            Trigger = "finalize"
	TriggerVoid                Trigger = "void"
)

// Pseudo-triggers for edits that do not change state. They are reported in
// GuardError but have no entry in the transition table.
const (
	EditDraft       Trigger = "edit-draft"
	AttachFile      Trigger = "attach-file"
	InitiateSigning Trigger = "initiate-signing"
)

// Guard names reported in GuardError.
const (
	GuardSourceState         = "source_state"
	GuardDataBound           = "data_bound"
	GuardSignatoriesDefined  = "signatories_defined"
	GuardStepsDefined        = "approval_steps_defined"
	GuardWorkflowCompleted   = "workflow_completed"
	GuardWorkflowRejected    = "workflow_rejected"
	GuardSignaturesCompleted = "signatures_completed"
	GuardFilesAttached       = "files_attached"
	GuardVoidReason          = "void_reason"
)

// GuardError is returned when a transition is not allowed. It matches
// common.ErrInvalidTransition.
type GuardError struct {
	Guard   string
	From    models.LetterState
	Trigger Trigger
	Message string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("guard %s: %s", e.Guard, e.Message)
}

func (e *GuardError) Unwrap() error { return common.ErrInvalidTransition }

// Params carries trigger-specific input.
type Params struct {
	Reason string
}

type edge struct {
	from models.LetterState
	to   models.LetterState
}

var table = map[Trigger]edge{
	TriggerSubmit:              {models.StateDraft, models.StatePendingApproval},
	TriggerWorkflowCompleted:   {models.StatePendingApproval, models.StateApproved},
	TriggerWorkflowRejected:    {models.StatePendingApproval, models.StateDraft},
	TriggerSignaturesCompleted: {models.StateApproved, models.StateSigned},
	TriggerFinalize:            {models.StateSigned, models.StateIssued},
	TriggerVoid:                {"", models.StateVoid},
}

// Target returns the state trigger leads to.
func Target(t Trigger) (models.LetterState, bool) {
	e, ok := table[t]
	return e.to, ok
}

// Check evaluates the guard without touching the letter.
func Check(l *models.Letter, t Trigger, p Params) error {
	e, ok := table[t]
	if !ok {
		return common.Invalid("trigger", "unknown trigger %q", t)
	}

	fail := func(guard, format string, args ...any) error {
		return &GuardError{Guard: guard, From: l.State, Trigger: t, Message: fmt.Sprintf(format, args...)}
	}

	if t == TriggerVoid {
		if l.State.Terminal() {
			return fail(GuardSourceState, "cannot void a letter in state %s", l.State)
		}
		if p.Reason == "" {
			return fail(GuardVoidReason, "a void reason is required")
		}
		return nil
	}

	if l.State != e.from {
		return fail(GuardSourceState, "cannot %s a letter in state %s", t, l.State)
	}

	switch t {
	case TriggerSubmit:
		if field, ok := dataBound(l); !ok {
			return fail(GuardDataBound, "data binding is incomplete: %s", field)
		}
		if len(l.Signatories) == 0 {
			return fail(GuardSignatoriesDefined, "letter has no signatories")
		}
		if len(l.Workflow.Steps) == 0 {
			return fail(GuardStepsDefined, "letter has no approval steps")
		}
	case TriggerWorkflowCompleted:
		if workflow.State(&l.Workflow) != workflow.OutcomeCompleted {
			return fail(GuardWorkflowCompleted, "not every approval step is approved")
		}
	case TriggerWorkflowRejected:
		if workflow.State(&l.Workflow) != workflow.OutcomeRejected {
			return fail(GuardWorkflowRejected, "no approval step is rejected")
		}
	case TriggerSignaturesCompleted:
		if len(l.Signatories) == 0 {
			return fail(GuardSignaturesCompleted, "letter has no signatories")
		}
		for i, s := range l.Signatories {
			if s.SignedAt == nil {
				return fail(GuardSignaturesCompleted, "signatory %d (%s) has not signed", i, s.Name)
			}
		}
	case TriggerFinalize:
		if len(l.Files) == 0 {
			return fail(GuardFilesAttached, "no rendered file is attached")
		}
	}
	return nil
}

// Transition applies t to l at now. Submit also opens a fresh approval round.
func Transition(l *models.Letter, t Trigger, p Params, actor string, now time.Time) (models.AuditEntry, error) {
	if err := Check(l, t, p); err != nil {
		return models.AuditEntry{}, err
	}

	from := l.State
	to := table[t].to

	l.State = to
	l.UpdatedAt = now

	payload := map[string]any{"trigger": string(t)}

	switch t {
	case TriggerSubmit:
		workflow.Reset(&l.Workflow, now)
		payload["round"] = l.Workflow.Round
	case TriggerVoid:
		l.VoidReason = p.Reason
		payload["reason"] = p.Reason
	}

	return models.AuditEntry{
		LetterID:  l.ID,
		Action:    models.ActionTransition,
		Actor:     actor,
		At:        now,
		FromState: from,
		ToState:   to,
		Payload:   payload,
	}, nil
}

// Editable checks that op may modify l: drafts are edited only in DRAFT,
// files are attached in any non-terminal state and signing starts only on
// APPROVED letters.
func Editable(l *models.Letter, op Trigger) error {
	switch op {
	case EditDraft:
		if l.State != models.StateDraft {
			return &GuardError{Guard: GuardSourceState, From: l.State, Trigger: op,
				Message: fmt.Sprintf("only DRAFT letters can be edited, letter is %s", l.State)}
		}
	case AttachFile:
		if l.State.Terminal() {
			return &GuardError{Guard: GuardSourceState, From: l.State, Trigger: op,
				Message: fmt.Sprintf("files of a %s letter are frozen", l.State)}
		}
	case InitiateSigning:
		if l.State != models.StateApproved {
			return &GuardError{Guard: GuardSourceState, From: l.State, Trigger: op,
				Message: fmt.Sprintf("signing starts only on APPROVED letters, letter is %s", l.State)}
		}
	default:
		return common.Invalid("trigger", "unknown edit %q", op)
	}
	return nil
}

// dataBound reports whether the template binding is fully populated. The
// returned string names the first missing piece; data keys are checked in
// sorted order.
func dataBound(l *models.Letter) (string, bool) {
	if l.TemplateID == "" {
		return "template_id", false
	}
	if l.TemplateVersion <= 0 {
		return "template_version", false
	}
	if len(l.Data) == 0 {
		return "data", false
	}
	for _, k := range slices.Sorted(maps.Keys(l.Data)) {
		v := l.Data[k]
		if v == nil {
			return "data." + k, false
		}
		if s, ok := v.(string); ok && s == "" {
			return "data." + k, false
		}
	}
	return "", true
}
