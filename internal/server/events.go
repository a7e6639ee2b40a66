package server

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"receipttrack/internal/entity"
)

type intakeEventRequest struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// decodeEventPayload maps a raw intake body onto the closed payload set.
func decodeEventPayload(name string, data []byte) (entity.EventPayload, error) {
	switch name {
	case entity.EventReceiptCreated:
		var p entity.ReceiptCreated
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", name, err)
		}
		return p, nil
	case entity.EventReceiptProcessed:
		var p entity.ReceiptProcessed
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", name, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", name)
	}
}

// IntakeEvent accepts a named event over HTTP and dispatches it onto the bus.
// This is the external entry the presentation layer posts to after a create.
func (h *Handler) IntakeEvent(c *fiber.Ctx) error {
	var req intakeEventRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON body",
		})
	}

	payload, err := decodeEventPayload(req.Name, req.Data)
	if err != nil {
		h.logger.Warn("rejected event intake", "event", req.Name, "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := h.bus.Send(c.Context(), entity.NewEvent(payload)); err != nil {
		h.logger.Error("failed to dispatch event", "event", req.Name, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to process event",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"message": "event accepted",
	})
}
