package server

import (
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/gofiber/fiber/v2"

	"receipttrack/constants"
	"receipttrack/internal/bus"
	"receipttrack/internal/common"
	"receipttrack/internal/entity"
	"receipttrack/internal/repository"
)

// Handler serves the HTTP boundary: receipt creation and listing plus the
// event intake endpoint.
type Handler struct {
	repo   repository.ReceiptRepository
	bus    bus.Bus
	db     *badger.DB
	logger *slog.Logger
}

func NewHandler(repo repository.ReceiptRepository, b bus.Bus, db *badger.DB, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		bus:    b,
		db:     db,
		logger: logger,
	}
}

type createReceiptRequest struct {
	Amount      float64 `json:"amount"`
	Date        string  `json:"date"`
	Merchant    string  `json:"merchant"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	ImageURL    string  `json:"image_url"`
}

// CreateReceipt stores a receipt and fires the receipt/created event. The
// response returns as soon as the store write completes; pipeline processing
// happens out-of-band.
func (h *Handler) CreateReceipt(c *fiber.Ctx) error {
	var req createReceiptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON body",
		})
	}

	v := common.NewValidator()
	v.Field("amount", req.Amount, common.Positive)
	v.Field("merchant", req.Merchant, common.Required)
	v.Field("date", req.Date, common.Required, common.Date)
	if v.HasErrors() {
		h.logger.Warn("rejected receipt creation", "error", v.ErrorMessage())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": v.ErrorMessage(),
		})
	}

	// categories are stored canonical; anything unrecognized becomes Other
	category := req.Category
	if category != "" {
		canonical, _ := constants.Canonicalize(category)
		category = string(canonical)
	}

	rec, err := h.repo.Create(c.Context(), &repository.CreateReceiptRequest{
		Amount:      req.Amount,
		Date:        req.Date,
		Merchant:    req.Merchant,
		Category:    category,
		Description: req.Description,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		h.logger.Error("failed to create receipt", "merchant", req.Merchant, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to store receipt",
		})
	}

	if err := h.bus.Send(c.Context(), entity.NewEvent(entity.CreatedFromReceipt(rec))); err != nil {
		// the receipt is stored; a lost event is the bus's gap to report, not a 500
		h.logger.Error("failed to send created event", "receipt_id", rec.ID, "error", err)
	}

	return c.Status(fiber.StatusOK).JSON(rec)
}

// ListReceipts returns receipts newest-first, optionally filtered by exact
// category, truncated to limit (default 50).
func (h *Handler) ListReceipts(c *fiber.Ctx) error {
	filter := repository.ListFilter{
		Category: c.Query("category"),
		Limit:    c.QueryInt("limit"),
	}

	recs, err := h.repo.List(c.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list receipts", "category", filter.Category, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list receipts",
		})
	}

	if recs == nil {
		recs = []*entity.Receipt{}
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"receipts": recs,
		"total":    len(recs),
	})
}

// GetReceipt is a point lookup; unknown or malformed ids are 404s.
func (h *Handler) GetReceipt(c *fiber.Ctx) error {
	rec, err := h.repo.GetByID(c.Context(), c.Params("id"))
	if common.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "receipt not found",
		})
	}
	if err != nil {
		h.logger.Error("failed to get receipt", "id", c.Params("id"), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get receipt",
		})
	}
	return c.Status(fiber.StatusOK).JSON(rec)
}

// ListCategories returns the fixed category set the creation form offers.
func (h *Handler) ListCategories(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"categories": constants.AsStringSlice(),
	})
}

// Health pings the document store.
func (h *Handler) Health(c *fiber.Ctx) error {
	if err := repository.HealthCheck(c.Context(), h.db, h.logger); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "ok",
	})
}
