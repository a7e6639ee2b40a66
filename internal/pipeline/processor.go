package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"receipttrack/constants"
	"receipttrack/internal/bus"
	"receipttrack/internal/entity"
)

const (
	successMessage = "Receipt processed successfully"
	failureMessage = "Invalid receipt data"
)

// ValidationResult is the explicit verdict of the validate-receipt-data
// sub-step. Handlers branch on Valid instead of throwing.
type ValidationResult struct {
	Valid       bool      `json:"valid"`
	Reason      string    `json:"reason,omitempty"`
	ValidatedAt time.Time `json:"validated_at"`
}

// CreatedSummary is returned by the created-event handler. Consumed only for
// tracing and tests.
type CreatedSummary struct {
	Success           bool      `json:"success"`
	ReceiptID         uuid.UUID `json:"receipt_id"`
	Message           string    `json:"message"`
	SuggestedCategory string    `json:"suggested_category,omitempty"`
}

// ProcessedSummary is returned by the terminal processed-event handler.
type ProcessedSummary struct {
	ReceiptID uuid.UUID            `json:"receipt_id"`
	Status    entity.ProcessStatus `json:"status"`
	HandledAt time.Time            `json:"handled_at"`
}

// Processor owns the two receipt pipeline handlers: receipt/created is
// validated and answered with exactly one receipt/processed event, which the
// second handler terminally routes by status.
type Processor struct {
	logger *slog.Logger
}

func NewProcessor(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger}
}

// Register subscribes both handlers on the bus.
func (p *Processor) Register(b bus.Bus) {
	b.Subscribe(entity.EventReceiptCreated, p.HandleReceiptCreated)
	b.Subscribe(entity.EventReceiptProcessed, p.HandleReceiptProcessed)
}

// validateReceiptData is a pure function of the payload; re-running it on a
// retried delivery yields the same verdict.
func validateReceiptData(payload entity.ReceiptCreated) ValidationResult {
	res := ValidationResult{Valid: true, ValidatedAt: time.Now().UTC()}
	switch {
	case payload.Amount <= 0:
		res.Valid = false
		res.Reason = "amount must be greater than zero"
	case payload.Merchant == "":
		res.Valid = false
		res.Reason = "merchant is required"
	case payload.Category == "":
		res.Valid = false
		res.Reason = "category is required"
	case payload.Date == "":
		res.Valid = false
		res.Reason = "date is required"
	}
	return res
}

// HandleReceiptCreated validates a freshly created receipt and emits exactly
// one receipt/processed event, success or failure.
func (p *Processor) HandleReceiptCreated(ctx context.Context, step *bus.Step, evt entity.Event) (any, error) {
	payload, ok := evt.Payload.(entity.ReceiptCreated)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T for %s", evt.Payload, evt.Name)
	}

	step.Log("pipeline.created.received",
		"receipt_id", payload.ReceiptID,
		"merchant", payload.Merchant,
		"amount", payload.Amount,
	)

	v, err := step.Run("validate-receipt-data", func() (any, error) {
		return validateReceiptData(payload), nil
	})
	if err != nil {
		return nil, err
	}
	verdict := v.(ValidationResult)

	var suggested string
	if payload.Category == "" {
		s, err := step.Run("suggest-category", func() (any, error) {
			cat, ok := constants.SuggestForMerchant(payload.Merchant)
			if !ok {
				return "", nil
			}
			return string(cat), nil
		})
		if err != nil {
			return nil, err
		}
		// advisory only; receipts are never updated post-creation
		suggested = s.(string)
	}

	processed := entity.ReceiptProcessed{
		ReceiptID: payload.ReceiptID,
		Status:    entity.ProcessSuccess,
		Message:   successMessage,
	}
	if !verdict.Valid {
		p.logger.Warn("pipeline.created.invalid", "receipt_id", payload.ReceiptID, "reason", verdict.Reason)
		processed.Status = entity.ProcessFailure
		processed.Message = failureMessage
	}

	if _, err := step.Run("send-processed-event", func() (any, error) {
		return nil, step.Send(ctx, entity.NewEvent(processed))
	}); err != nil {
		return nil, err
	}

	return CreatedSummary{
		Success:           verdict.Valid,
		ReceiptID:         payload.ReceiptID,
		Message:           processed.Message,
		SuggestedCategory: suggested,
	}, nil
}

// HandleReceiptProcessed is the terminal pipeline node: it routes the verdict
// to exactly one of the success or failure sub-steps and emits nothing.
func (p *Processor) HandleReceiptProcessed(ctx context.Context, step *bus.Step, evt entity.Event) (any, error) {
	payload, ok := evt.Payload.(entity.ReceiptProcessed)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T for %s", evt.Payload, evt.Name)
	}

	step.Log("pipeline.processed.received",
		"receipt_id", payload.ReceiptID,
		"status", payload.Status,
		"message", payload.Message,
	)

	var err error
	switch payload.Status {
	case entity.ProcessSuccess:
		_, err = step.Run("handle-success", func() (any, error) {
			return nil, p.handleSuccess(ctx, payload)
		})
	case entity.ProcessFailure:
		_, err = step.Run("handle-failure", func() (any, error) {
			return nil, p.handleFailure(ctx, payload)
		})
	default:
		err = fmt.Errorf("unknown process status %q", payload.Status)
	}
	if err != nil {
		return nil, err
	}

	return ProcessedSummary{
		ReceiptID: payload.ReceiptID,
		Status:    payload.Status,
		HandledAt: time.Now().UTC(),
	}, nil
}

// handleSuccess is the terminal success branch. Notification and analytics
// side effects hang off here.
func (p *Processor) handleSuccess(_ context.Context, payload entity.ReceiptProcessed) error {
	p.logger.Info("pipeline.processed.success", "receipt_id", payload.ReceiptID)
	return nil
}

// handleFailure is the terminal failure branch. Retry triggers and admin
// alerts hang off here.
func (p *Processor) handleFailure(_ context.Context, payload entity.ReceiptProcessed) error {
	p.logger.Warn("pipeline.processed.failure", "receipt_id", payload.ReceiptID, "message", payload.Message)
	return nil
}
