package opsapi

import (
	"time"

	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

type EscalationSweepRequest struct {
	// Now overrides the sweep time; zero means the server clock.
	Now time.Time `json:"now"`
}

type Escalation struct {
	LetterID     string    `json:"letter_id"`
	Step         int       `json:"step"`
	Approver     string    `json:"approver,omitempty"`
	Role         string    `json:"role,omitempty"`
	SLA          string    `json:"sla"`
	PendingSince time.Time `json:"pending_since"`
}

type EscalationSweepResponse struct {
	Escalated []Escalation `json:"escalated"`
	Errors    string       `json:"errors,omitempty"`
}

type ExpirySweepRequest struct {
	Now time.Time `json:"now"`
}

type ExpirySweepResponse struct {
	Expired []string `json:"expired"`
	Errors  string   `json:"errors,omitempty"`
}

type LetterStateRequest struct {
	LetterID string `json:"letter_id"`
}

type LetterStateResponse struct {
	LetterID     string             `json:"letter_id"`
	SerialNumber string             `json:"serial_number"`
	State        models.LetterState `json:"state"`
	Round        int                `json:"round"`
	// CurrentStep is the actionable approval step, 0 when none.
	CurrentStep int       `json:"current_step"`
	UpdatedAt   time.Time `json:"updated_at"`
}
