package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event names form a closed set; the bus rejects anything else.
const (
	EventReceiptCreated   = "receipt/created"
	EventReceiptProcessed = "receipt/processed"
)

// ProcessStatus is the terminal verdict carried by a receipt/processed event.
type ProcessStatus string

const (
	ProcessSuccess ProcessStatus = "success"
	ProcessFailure ProcessStatus = "failure"
)

// EventPayload is implemented by every payload variant. EventName ties the
// variant to the single event name it is valid for.
type EventPayload interface {
	EventName() string
}

// ReceiptCreated is the payload of a receipt/created event. It carries the
// receipt fields as they were at creation time, including the generated id.
type ReceiptCreated struct {
	ReceiptID   uuid.UUID `json:"receipt_id"`
	Amount      float64   `json:"amount"`
	Date        string    `json:"date"`
	Merchant    string    `json:"merchant"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
}

func (ReceiptCreated) EventName() string { return EventReceiptCreated }

// UnmarshalJSON accepts "receiptId" and "id" as aliases for the id field, as
// external senders commonly post the plain receipt object.
func (p *ReceiptCreated) UnmarshalJSON(data []byte) error {
	type plain ReceiptCreated
	aux := struct {
		*plain
		AltID   uuid.UUID `json:"receiptId"`
		PlainID uuid.UUID `json:"id"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if p.ReceiptID == uuid.Nil {
		p.ReceiptID = aux.AltID
	}
	if p.ReceiptID == uuid.Nil {
		p.ReceiptID = aux.PlainID
	}
	return nil
}

// ReceiptProcessed is the payload of a receipt/processed event.
type ReceiptProcessed struct {
	ReceiptID uuid.UUID     `json:"receipt_id"`
	Status    ProcessStatus `json:"status"`
	Message   string        `json:"message,omitempty"`
}

func (ReceiptProcessed) EventName() string { return EventReceiptProcessed }

// Event is the envelope delivered to handlers. Payload is one of the tagged
// variants above; Validate checks the pairing before dispatch.
type Event struct {
	ID         uuid.UUID
	Name       string
	OccurredAt time.Time
	Payload    EventPayload
}

// NewEvent wraps a payload in an envelope, stamping id and occurrence time.
func NewEvent(payload EventPayload) Event {
	return Event{
		ID:         uuid.New(),
		Name:       payload.EventName(),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Validate rejects envelopes whose name does not match their payload variant,
// and unknown names altogether.
func (e Event) Validate() error {
	if e.Payload == nil {
		return fmt.Errorf("event %q has no payload", e.Name)
	}
	switch e.Name {
	case EventReceiptCreated, EventReceiptProcessed:
	default:
		return fmt.Errorf("unknown event name %q", e.Name)
	}
	if e.Name != e.Payload.EventName() {
		return fmt.Errorf("event name %q does not match payload for %q", e.Name, e.Payload.EventName())
	}
	return nil
}

// CreatedFromReceipt builds the receipt/created payload for a stored receipt.
func CreatedFromReceipt(r *Receipt) ReceiptCreated {
	return ReceiptCreated{
		ReceiptID:   r.ID,
		Amount:      r.Amount,
		Date:        r.Date,
		Merchant:    r.Merchant,
		Category:    r.Category,
		Description: r.Description,
		ImageURL:    r.ImageURL,
	}
}
