package models

import (
	"time"

	"github.com/dmitrijs2005/letterflow/internal/timex"
)

type StepStatus string

const (
	StepPending  StepStatus = "PENDING"
	StepApproved StepStatus = "APPROVED"
	StepRejected StepStatus = "REJECTED"
)

// Decision is what an approver submits for a step.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Status maps a decision onto the step status it produces.
func (d Decision) Status() StepStatus {
	if d == DecisionApprove {
		return StepApproved
	}
	return StepRejected
}

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// StepDefinition is the static part of an approval step.
type StepDefinition struct {
	Number   int            `json:"number" yaml:"number"`
	Approver string         `json:"approver,omitempty" yaml:"approver,omitempty"`
	Role     string         `json:"role,omitempty" yaml:"role,omitempty"`
	SLA      timex.Duration `json:"sla" yaml:"sla"`
}

type Step struct {
	StepDefinition
	Status       StepStatus `json:"status"`
	PendingSince *time.Time `json:"pending_since,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	DecidedBy    string     `json:"decided_by,omitempty"`
	Comments     string     `json:"comments,omitempty"`
	Escalated    bool       `json:"escalated"`
	EscalatedAt  *time.Time `json:"escalated_at,omitempty"`
}

// Workflow is the ordered approval chain embedded in a letter.
type Workflow struct {
	Round     int        `json:"round"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Steps     []Step     `json:"steps"`
}

// Definitions returns the step definitions without decision state.
func (w Workflow) Definitions() []StepDefinition {
	defs := make([]StepDefinition, len(w.Steps))
	for i, s := range w.Steps {
		defs[i] = s.StepDefinition
	}
	return defs
}

func (w Workflow) Clone() Workflow {
	c := w
	if w.StartedAt != nil {
		t := *w.StartedAt
		c.StartedAt = &t
	}
	c.Steps = make([]Step, len(w.Steps))
	for i, s := range w.Steps {
		s.PendingSince = copyTime(s.PendingSince)
		s.DecidedAt = copyTime(s.DecidedAt)
		s.EscalatedAt = copyTime(s.EscalatedAt)
		c.Steps[i] = s
	}
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
