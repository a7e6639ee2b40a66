package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"receipttrack/internal/common"
	"receipttrack/internal/entity"
)

const (
	receiptKeyPrefix = "receipt:"
	idKeyPrefix      = "receipt-id:"

	// DefaultListLimit caps List results when the caller gives no limit.
	DefaultListLimit = 50
)

// CreateReceiptRequest wraps parameters for creating a receipt. Semantic
// validation (positive amount, non-empty merchant) is the caller's job; the
// repository only stamps identity and creation time.
type CreateReceiptRequest struct {
	Amount      float64
	Date        string
	Merchant    string
	Category    string
	Description string
	ImageURL    string
}

// ListFilter narrows List results. Category is an exact match; zero Limit
// means DefaultListLimit.
type ListFilter struct {
	Category string
	Limit    int
}

type ReceiptRepository interface {
	Create(ctx context.Context, request *CreateReceiptRequest) (*entity.Receipt, error)
	List(ctx context.Context, filter ListFilter) ([]*entity.Receipt, error)
	GetByID(ctx context.Context, id string) (*entity.Receipt, error)
	Close() error
}

type receiptRepository struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger
}

// NewReceiptRepository acquires the insertion-order sequence once for the
// repository's lifetime; concurrent Creates share it instead of racing on
// fresh leases. Close releases the unused part of the lease.
func NewReceiptRepository(db *badger.DB, logger *slog.Logger) (ReceiptRepository, error) {
	seq, err := db.GetSequence([]byte("receipt-seq"), 64)
	if err != nil {
		return nil, common.StorageErrorf(err, "acquire receipt sequence")
	}
	return &receiptRepository{
		db:     db,
		seq:    seq,
		logger: logger,
	}, nil
}

func (r *receiptRepository) Close() error {
	if err := r.seq.Release(); err != nil {
		return common.StorageErrorf(err, "release receipt sequence")
	}
	return nil
}

// storedReceipt is the document shape on disk. Seq is a store-assigned
// monotonic insertion counter; it breaks CreatedAt ties so "newest first"
// stays stable.
type storedReceipt struct {
	Seq     uint64         `json:"seq"`
	Receipt entity.Receipt `json:"receipt"`
}

func seqKey(seq uint64, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", receiptKeyPrefix, seq, id))
}

func idKey(id uuid.UUID) []byte {
	return []byte(idKeyPrefix + id.String())
}

func (r *receiptRepository) Create(ctx context.Context, request *CreateReceiptRequest) (*entity.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next, err := r.seq.Next()
	if err != nil {
		return nil, common.StorageErrorf(err, "next sequence value")
	}

	rec := &entity.Receipt{
		ID:          uuid.New(),
		Amount:      request.Amount,
		Date:        request.Date,
		Merchant:    request.Merchant,
		Category:    request.Category,
		Description: request.Description,
		ImageURL:    request.ImageURL,
		CreatedAt:   time.Now().UTC(),
	}

	doc, err := json.Marshal(storedReceipt{Seq: next, Receipt: *rec})
	if err != nil {
		return nil, common.StorageErrorf(err, "marshal receipt %s", rec.ID)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(seqKey(next, rec.ID), doc); err != nil {
			return err
		}
		// secondary key for point lookups
		return txn.Set(idKey(rec.ID), doc)
	})
	if err != nil {
		r.logger.Error("failed to store receipt", "receipt_id", rec.ID, "error", err)
		return nil, common.StorageErrorf(err, "insert receipt %s", rec.ID)
	}

	r.logger.Info("receipt stored", "receipt_id", rec.ID, "merchant", rec.Merchant, "amount", rec.Amount)
	return rec, nil
}

// List collects the full category-matching set into memory, sorts it
// descending by CreatedAt (insertion order breaks ties) and truncates to the
// limit. Receipt volumes are assumed small; pushing filter/sort/limit into the
// store would need a schema change behind this same interface.
func (r *receiptRepository) List(ctx context.Context, filter ListFilter) ([]*entity.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var docs []storedReceipt
	prefix := []byte(receiptKeyPrefix)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var doc storedReceipt
				if err := json.Unmarshal(v, &doc); err != nil {
					return fmt.Errorf("unmarshal receipt document: %w", err)
				}
				if filter.Category != "" && doc.Receipt.Category != filter.Category {
					return nil
				}
				docs = append(docs, doc)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list receipts", "category", filter.Category, "error", err)
		return nil, common.StorageErrorf(err, "list receipts")
	}

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].Receipt.CreatedAt.Equal(docs[j].Receipt.CreatedAt) {
			return docs[i].Receipt.CreatedAt.After(docs[j].Receipt.CreatedAt)
		}
		return docs[i].Seq > docs[j].Seq
	})

	if len(docs) > limit {
		docs = docs[:limit]
	}

	return lo.Map(docs, func(doc storedReceipt, _ int) *entity.Receipt {
		rec := doc.Receipt
		return &rec
	}), nil
}

// GetByID is a point lookup. A malformed id is a not-found, not a fatal error.
func (r *receiptRepository) GetByID(ctx context.Context, id string) (*entity.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		r.logger.Debug("malformed receipt id", "id", id)
		return nil, common.NotFoundErrorf("receipt %q", id)
	}

	var doc storedReceipt
	err = r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(parsed))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &doc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, common.NotFoundErrorf("receipt %s", parsed)
	}
	if err != nil {
		r.logger.Error("failed to get receipt", "receipt_id", parsed, "error", err)
		return nil, common.StorageErrorf(err, "get receipt %s", parsed)
	}

	rec := doc.Receipt
	return &rec, nil
}
