// Package models defines the letter, approval workflow, signing request and
// audit types persisted by the repositories and exposed over the API.
package models

import (
	"fmt"
	"strings"
	"time"
)

type LetterType string

const (
	LetterOffer       LetterType = "OFFER"
	LetterAppointment LetterType = "APPOINTMENT"
	LetterPromotion   LetterType = "PROMOTION"
	LetterDemotion    LetterType = "DEMOTION"
	LetterTransfer    LetterType = "TRANSFER"
	LetterRoleChange  LetterType = "ROLE_CHANGE"
	LetterTermination LetterType = "TERMINATION"
	LetterInternship  LetterType = "INTERNSHIP"
)

var letterTypes = map[LetterType]struct{}{
	LetterOffer: {}, LetterAppointment: {}, LetterPromotion: {}, LetterDemotion: {},
	LetterTransfer: {}, LetterRoleChange: {}, LetterTermination: {}, LetterInternship: {},
}

func (t LetterType) Valid() bool {
	_, ok := letterTypes[t]
	return ok
}

// ParseLetterType accepts any letter case.
func ParseLetterType(s string) (LetterType, bool) {
	t := LetterType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

type LetterState string

const (
	StateDraft           LetterState = "DRAFT"
	StatePendingApproval LetterState = "PENDING_APPROVAL"
	StateApproved        LetterState = "APPROVED"
	StateSigned          LetterState = "SIGNED"
	StateIssued          LetterState = "ISSUED"
	StateVoid            LetterState = "VOID"
)

// Terminal reports whether no further transition is possible.
func (s LetterState) Terminal() bool {
	return s == StateIssued || s == StateVoid
}

// Signatory is a party that must sign the letter. SigningRequestID points at
// the most recent signing request issued for this signatory.
type Signatory struct {
	Name             string     `json:"name"`
	Title            string     `json:"title"`
	Email            string     `json:"email,omitempty"`
	Provider         string     `json:"provider"`
	SigningRequestID string     `json:"signing_request_id,omitempty"`
	SignedAt         *time.Time `json:"signed_at,omitempty"`
	SignatureRef     string     `json:"signature_ref,omitempty"`
}

// FileRef points at a rendered document (PDF/HTML/DOCX) attached to a letter.
type FileRef struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	URL        string    `json:"url,omitempty"`
	StorageKey string    `json:"storage_key,omitempty"`
	Pages      int       `json:"pages,omitempty"`
	AttachedAt time.Time `json:"attached_at"`
	AttachedBy string    `json:"attached_by"`
}

// DeliveryRecord is written when the issued letter is handed to delivery.
type DeliveryRecord struct {
	Recipients  []string  `json:"recipients"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type Letter struct {
	ID              string          `json:"id"`
	SerialNumber    string          `json:"serial_number"`
	Type            LetterType      `json:"letter_type"`
	Locale          string          `json:"locale"`
	TemplateID      string          `json:"template_id"`
	TemplateVersion int             `json:"template_version"`
	Data            map[string]any  `json:"data"`
	IssueDate       *time.Time      `json:"issue_date,omitempty"`
	EffectiveDate   *time.Time      `json:"effective_date,omitempty"`
	State           LetterState     `json:"state"`
	Signatories     []Signatory     `json:"signatories"`
	Workflow        Workflow        `json:"workflow"`
	Files           []FileRef       `json:"files,omitempty"`
	Recipients      []string        `json:"recipients,omitempty"`
	Delivery        *DeliveryRecord `json:"delivery,omitempty"`
	VoidReason      string          `json:"void_reason,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int64           `json:"version"`
}

// FormatSerial renders the human-readable serial for sequence value n.
func FormatSerial(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, year, n)
}

// Clone returns a deep copy so callers can mutate a letter without touching
// a cached or stored instance.
func (l *Letter) Clone() *Letter {
	if l == nil {
		return nil
	}
	c := *l
	c.Data = cloneMap(l.Data)
	c.Signatories = make([]Signatory, len(l.Signatories))
	for i, s := range l.Signatories {
		if s.SignedAt != nil {
			t := *s.SignedAt
			s.SignedAt = &t
		}
		c.Signatories[i] = s
	}
	c.Workflow = l.Workflow.Clone()
	c.Files = append([]FileRef(nil), l.Files...)
	c.Recipients = append([]string(nil), l.Recipients...)
	if l.Delivery != nil {
		d := *l.Delivery
		d.Recipients = append([]string(nil), l.Delivery.Recipients...)
		c.Delivery = &d
	}
	if l.IssueDate != nil {
		t := *l.IssueDate
		c.IssueDate = &t
	}
	if l.EffectiveDate != nil {
		t := *l.EffectiveDate
		c.EffectiveDate = &t
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = cloneMap(vv)
		case []any:
			out[k] = append([]any(nil), vv...)
		default:
			out[k] = v
		}
	}
	return out
}
