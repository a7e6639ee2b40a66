package repository

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"receipttrack/internal/common"
)

func newTestRepo(t *testing.T) ReceiptRepository {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := Open(common.StoreConfig{InMemory: true}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { Close(db, logger) })
	repo, err := NewReceiptRepository(db, logger)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, repo.Close()) })
	return repo
}

func TestCreateReturnsStoredReceipt(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec, err := repo.Create(ctx, &CreateReceiptRequest{
		Amount:   12.50,
		Date:     "2024-01-15",
		Merchant: "Market Fresh",
		Category: "Food",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, rec.ID)
	require.False(t, rec.CreatedAt.IsZero())
	require.Equal(t, 12.50, rec.Amount)
	require.Equal(t, "Market Fresh", rec.Merchant)
	require.Equal(t, "Food", rec.Category)
}

func TestConcurrentCreates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	const n = 32
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Create(ctx, &CreateReceiptRequest{
				Amount:   float64(i + 1),
				Date:     "2024-01-15",
				Merchant: fmt.Sprintf("Merchant %d", i),
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "concurrent create %d failed", i)
	}

	recs, err := repo.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, recs, n)

	ids := make(map[uuid.UUID]bool, n)
	for _, rec := range recs {
		require.False(t, ids[rec.ID], "duplicate receipt id %s", rec.ID)
		ids[rec.ID] = true
	}
}

func TestCreateThenListReturnsNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, &CreateReceiptRequest{
			Amount:   1.0,
			Date:     "2024-01-15",
			Merchant: fmt.Sprintf("Merchant %d", i),
		})
		require.NoError(t, err)
	}

	newest, err := repo.Create(ctx, &CreateReceiptRequest{
		Amount:   9.99,
		Date:     "2024-01-16",
		Merchant: "Latest Merchant",
	})
	require.NoError(t, err)

	recs, err := repo.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 4)
	require.Equal(t, newest.ID, recs[0].ID, "the just-created receipt is first")

	// strictly newest-first throughout
	for i := 1; i < len(recs); i++ {
		require.False(t, recs[i].CreatedAt.After(recs[i-1].CreatedAt))
	}
}

func TestListLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := repo.Create(ctx, &CreateReceiptRequest{
			Amount:   1.0,
			Date:     "2024-01-15",
			Merchant: "M",
		})
		require.NoError(t, err)
	}

	recs, err := repo.List(ctx, ListFilter{Limit: 5})
	require.NoError(t, err)
	require.Len(t, recs, 5, "store holds more than limit, so equality holds")

	recs, err = repo.List(ctx, ListFilter{Limit: 100})
	require.NoError(t, err)
	require.Len(t, recs, 7)
}

func TestListDefaultLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < DefaultListLimit+10; i++ {
		_, err := repo.Create(ctx, &CreateReceiptRequest{
			Amount:   1.0,
			Date:     "2024-01-15",
			Merchant: "M",
		})
		require.NoError(t, err)
	}

	recs, err := repo.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, recs, DefaultListLimit)
}

func TestListCategoryFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	categories := []string{"Food", "Shopping", "Food", "Utilities", "Food"}
	for i, cat := range categories {
		_, err := repo.Create(ctx, &CreateReceiptRequest{
			Amount:   float64(i + 1),
			Date:     "2024-01-15",
			Merchant: "M",
			Category: cat,
		})
		require.NoError(t, err)
	}

	recs, err := repo.List(ctx, ListFilter{Category: "Food"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, rec := range recs {
		require.Equal(t, "Food", rec.Category)
	}
}

func TestListEmptyStore(t *testing.T) {
	repo := newTestRepo(t)

	recs, err := repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestGetByID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec, err := repo.Create(ctx, &CreateReceiptRequest{
		Amount:   3.25,
		Date:     "2024-02-01",
		Merchant: "Corner Cafe",
		Category: "Food",
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, rec.ID.String())
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, rec.Merchant, got.Merchant)
}

func TestGetByIDNotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "11111111-2222-3333-4444-555555555555")
	require.Error(t, err)
	require.True(t, common.IsNotFound(err))
}

func TestGetByIDMalformed(t *testing.T) {
	repo := newTestRepo(t)

	// malformed ids are a not-found signal, not a fatal error
	_, err := repo.GetByID(context.Background(), "not-an-id")
	require.Error(t, err)
	require.True(t, common.IsNotFound(err))
	require.False(t, common.IsStorage(err))
}
