package entity

import (
	"time"

	"github.com/google/uuid"
)

// Receipt represents a single stored expense for data transfer between layers.
// Receipts are written exactly once at creation and never updated afterwards;
// CreatedAt is the stable "newest first" sort key.
type Receipt struct {
	ID          uuid.UUID `json:"id"`
	Amount      float64   `json:"amount"`
	Date        string    `json:"date"`
	Merchant    string    `json:"merchant"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
