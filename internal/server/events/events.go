// Package events publishes letter notifications (step escalations, issued
// letters) as CloudEvents. Delivery failures are reported to the caller,
// which logs them; they never affect a letter.
package events

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/letterflow/internal/logging"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

const (
	Source = "letterflow"

	TypeStepEscalated = "letterflow.step.escalated"
	TypeLetterIssued  = "letterflow.letter.issued"
)

// StepEscalated is the data of a TypeStepEscalated event.
type StepEscalated struct {
	LetterID     string    `json:"letter_id"`
	SerialNumber string    `json:"serial_number"`
	Round        int       `json:"round"`
	Step         int       `json:"step"`
	Approver     string    `json:"approver,omitempty"`
	Role         string    `json:"role,omitempty"`
	SLA          string    `json:"sla"`
	PendingSince time.Time `json:"pending_since"`
	DetectedAt   time.Time `json:"detected_at"`
}

// LetterIssued is the data of a TypeLetterIssued event, consumed by the
// delivery collaborator.
type LetterIssued struct {
	LetterID     string            `json:"letter_id"`
	SerialNumber string            `json:"serial_number"`
	LetterType   models.LetterType `json:"letter_type"`
	Recipients   []string          `json:"recipients"`
	Files        []models.FileRef  `json:"files"`
	IssuedAt     time.Time         `json:"issued_at"`
}

type Publisher interface {
	Publish(ctx context.Context, eventType, subject string, data any) error
}

// Delivery channels reported by ChannelOf.
const (
	ChannelCloudEvents = "cloudevents"
	ChannelLog         = "log"
	ChannelCustom      = "custom"
)

// ChannelOf names where p sends events. Publishers that do not say are
// reported as ChannelCustom.
func ChannelOf(p Publisher) string {
	if c, ok := p.(interface{ Channel() string }); ok {
		return c.Channel()
	}
	return ChannelCustom
}

// CloudEventsPublisher sends structured JSON events over HTTP to one sink.
type CloudEventsPublisher struct {
	client cloudevents.Client
	target string
	now    func() time.Time
}

func NewCloudEventsPublisher(target string) (*CloudEventsPublisher, error) {
	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("cloudevents client: %w", err)
	}
	return &CloudEventsPublisher{client: c, target: target, now: time.Now}, nil
}

func (p *CloudEventsPublisher) Channel() string { return ChannelCloudEvents }

func (p *CloudEventsPublisher) Publish(ctx context.Context, eventType, subject string, data any) error {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(Source)
	e.SetType(eventType)
	e.SetSubject(subject)
	e.SetTime(p.now().UTC())
	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}

	res := p.client.Send(cloudevents.ContextWithTarget(ctx, p.target), e)
	if cloudevents.IsUndelivered(res) {
		return fmt.Errorf("send %s: %w", eventType, res)
	}
	if !cloudevents.IsACK(res) {
		return fmt.Errorf("send %s: not acknowledged: %w", eventType, res)
	}
	return nil
}

// LogPublisher writes events to the log when no sink is configured.
type LogPublisher struct {
	log logging.Logger
}

func NewLogPublisher(log logging.Logger) *LogPublisher {
	return &LogPublisher{log: log.With("module", "events")}
}

// Channel reports ChannelLog: nothing leaves the process.
func (p *LogPublisher) Channel() string { return ChannelLog }

func (p *LogPublisher) Publish(ctx context.Context, eventType, subject string, data any) error {
	p.log.Info(ctx, "event", "type", eventType, "subject", subject, "data", data)
	return nil
}
