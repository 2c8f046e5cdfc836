// Package events fans domain events out to notification sinks. Publishing is
// fire-and-forget: a failing sink is logged and never fails the operation
// that produced the event.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentStatusChanged = "appointment.status_changed"
	AppointmentCompleted     = "appointment.completed"
	PatientArrived           = "appointment.patient_arrived"
	TestReportUploaded       = "test_report.uploaded"
	BillPaid                 = "bill.paid"
	BillOverdue              = "bill.overdue"
	StockAlertOpened         = "stock_alert.opened"
	StockAlertResolved       = "stock_alert.resolved"
	ExpenseRecorded          = "expense.recorded"
)

// Event is a state change other systems may want to hear about.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resource_id"`
	Actor      string                 `json:"actor,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType, resource, resourceID, actor string, payload map[string]interface{}) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Resource:   resource,
		ResourceID: resourceID,
		Actor:      actor,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Sink delivers an event to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

// Nop discards every event.
var Nop Publisher = nopPublisher{}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
