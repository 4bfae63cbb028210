// Package workflow drives an ordered chain of approval steps. All functions
// are pure over *models.Workflow; persistence, locking and auditing belong to
// the caller.
package workflow

import (
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

type Outcome string

const (
	OutcomePending   Outcome = "PENDING"
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeRejected  Outcome = "REJECTED"
)

// Actor is the authenticated identity deciding a step.
type Actor struct {
	ID    string
	Roles []string
}

// DecisionError reports a sequencing violation. It matches
// common.ErrOutOfOrderDecision.
type DecisionError struct {
	Step    int
	Message string
}

func (e *DecisionError) Error() string { return e.Message }

func (e *DecisionError) Unwrap() error { return common.ErrOutOfOrderDecision }

// Result is the effect of one Decide call.
type Result struct {
	Step     models.Step
	Outcome  Outcome
	Replayed bool
}

// Escalation is emitted once per step whose SLA was breached.
type Escalation struct {
	StepNumber   int
	Approver     string
	Role         string
	SLA          time.Duration
	PendingSince time.Time
	DetectedAt   time.Time
}

// Validate checks step definitions: numbered 1..n without gaps or
// duplicates, each with an approver or a role and a positive SLA.
func Validate(defs []models.StepDefinition) error {
	if len(defs) == 0 {
		return common.Invalid("steps", "at least one approval step is required")
	}
	seen := make(map[int]bool, len(defs))
	for _, d := range defs {
		if d.Number < 1 || d.Number > len(defs) {
			return common.Invalid("steps", "step numbers must be contiguous starting at 1, got %d", d.Number)
		}
		if seen[d.Number] {
			return common.Invalid("steps", "step %d is defined twice", d.Number)
		}
		seen[d.Number] = true
		if d.Approver == "" && d.Role == "" {
			return common.Invalid("steps", "step %d needs an approver or a role", d.Number)
		}
		if d.SLA.Duration <= 0 {
			return common.Invalid("steps", "step %d needs a positive sla", d.Number)
		}
	}
	return nil
}

// New builds an unstarted workflow from definitions, sorted by number.
func New(defs []models.StepDefinition) (models.Workflow, error) {
	if err := Validate(defs); err != nil {
		return models.Workflow{}, err
	}
	sorted := slices.Clone(defs)
	slices.SortFunc(sorted, func(a, b models.StepDefinition) int { return a.Number - b.Number })

	w := models.Workflow{Steps: make([]models.Step, len(sorted))}
	for i, d := range sorted {
		w.Steps[i] = models.Step{StepDefinition: d, Status: models.StepPending}
	}
	return w, nil
}

// Reset opens a new round: every step goes back to PENDING and step 1
// becomes actionable at now.
func Reset(w *models.Workflow, now time.Time) {
	w.Round++
	started := now
	w.StartedAt = &started
	for i := range w.Steps {
		w.Steps[i] = models.Step{StepDefinition: w.Steps[i].StepDefinition, Status: models.StepPending}
	}
	if len(w.Steps) > 0 {
		since := now
		w.Steps[0].PendingSince = &since
	}
}

// Current returns the actionable step, or nil when the workflow is
// completed, rejected or not started.
func Current(w *models.Workflow) *models.Step {
	if w.StartedAt == nil {
		return nil
	}
	for i := range w.Steps {
		switch w.Steps[i].Status {
		case models.StepRejected:
			return nil
		case models.StepPending:
			return &w.Steps[i]
		}
	}
	return nil
}

// State summarizes the workflow.
func State(w *models.Workflow) Outcome {
	for _, s := range w.Steps {
		switch s.Status {
		case models.StepRejected:
			return OutcomeRejected
		case models.StepPending:
			return OutcomePending
		}
	}
	return OutcomeCompleted
}

// Replay returns the recorded result when step number already carries
// decision. It never mutates w.
func Replay(w *models.Workflow, number int, decision models.Decision) (Result, bool) {
	step := find(w, number)
	if step == nil || step.Status == models.StepPending || step.Status != decision.Status() {
		return Result{}, false
	}
	return Result{Step: *step, Outcome: State(w), Replayed: true}, true
}

// CanAct reports whether actor may decide step.
func CanAct(step *models.Step, actor Actor) bool {
	if step.Approver != "" && step.Approver == actor.ID {
		return true
	}
	return step.Role != "" && slices.Contains(actor.Roles, step.Role)
}

// Decide records decision on step number. Only the lowest pending step is
// actionable; a retried identical decision is replayed without change.
func Decide(w *models.Workflow, number int, decision models.Decision, actor Actor, comments string, now time.Time) (Result, error) {
	if !decision.Valid() {
		return Result{}, common.Invalid("decision", "must be APPROVE or REJECT, got %q", decision)
	}

	step := find(w, number)
	if step == nil {
		return Result{}, common.Invalid("step", "step %d does not exist", number)
	}

	if step.Status != models.StepPending {
		if r, ok := Replay(w, number, decision); ok {
			return r, nil
		}
		return Result{}, &DecisionError{
			Step:    number,
			Message: fmt.Sprintf("step %d was already %s", number, step.Status),
		}
	}

	if w.StartedAt == nil {
		return Result{}, &DecisionError{Step: number, Message: "approval workflow has not started"}
	}

	if rejected := rejectedStep(w); rejected != nil {
		return Result{}, &DecisionError{
			Step:    number,
			Message: fmt.Sprintf("workflow was rejected at step %d; step %d is frozen", rejected.Number, number),
		}
	}

	current := Current(w)
	if current == nil || current.Number != number {
		blocking := 0
		if current != nil {
			blocking = current.Number
		}
		return Result{}, &DecisionError{
			Step:    number,
			Message: fmt.Sprintf("step %d cannot be decided before step %d", number, blocking),
		}
	}

	if !CanAct(step, actor) {
		return Result{}, fmt.Errorf("%w: %s may not decide step %d", common.ErrForbidden, actor.ID, number)
	}

	decidedAt := now
	step.Status = decision.Status()
	step.DecidedAt = &decidedAt
	step.DecidedBy = actor.ID
	step.Comments = comments

	if step.Status == models.StepApproved {
		if next := find(w, number+1); next != nil {
			since := now
			next.PendingSince = &since
		}
	}

	return Result{Step: *step, Outcome: State(w)}, nil
}

// CheckEscalations flags the current step when its SLA has been exceeded.
// A step is escalated at most once.
func CheckEscalations(w *models.Workflow, now time.Time) []Escalation {
	step := Current(w)
	if step == nil || step.Escalated || step.PendingSince == nil {
		return nil
	}
	if now.Sub(*step.PendingSince) <= step.SLA.Duration {
		return nil
	}

	at := now
	step.Escalated = true
	step.EscalatedAt = &at

	return []Escalation{{
		StepNumber:   step.Number,
		Approver:     step.Approver,
		Role:         step.Role,
		SLA:          step.SLA.Duration,
		PendingSince: *step.PendingSince,
		DetectedAt:   now,
	}}
}

func find(w *models.Workflow, number int) *models.Step {
	for i := range w.Steps {
		if w.Steps[i].Number == number {
			return &w.Steps[i]
		}
	}
	return nil
}

func rejectedStep(w *models.Workflow) *models.Step {
	for i := range w.Steps {
		if w.Steps[i].Status == models.StepRejected {
			return &w.Steps[i]
		}
	}
	return nil
}
