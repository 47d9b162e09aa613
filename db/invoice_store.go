package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Abidoyesimze/StackPay/common"
	"github.com/Abidoyesimze/StackPay/db/models"
	"github.com/Abidoyesimze/StackPay/lib/service"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// InvoiceStore keeps invoices in postgres. Lifecycle writes are single
// conditional UPDATE statements so concurrent writers can never move an
// invoice backwards.
type InvoiceStore struct {
	db *bun.DB
}

func NewInvoiceStore(db *bun.DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

func (s *InvoiceStore) Create(ctx context.Context, params service.CreateInvoiceParams) (*models.Invoice, error) {
	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	invoice := &models.Invoice{
		ID:             id,
		MerchantID:     params.MerchantID,
		PaymentAddress: params.PaymentAddress,
		AmountBase:     params.AmountBase,
		AmountQuote:    params.AmountQuote,
		Currency:       params.Currency,
		Description:    params.Description,
		Metadata:       params.Metadata,
		Status:         common.InvoiceStatusPending,
		Confirmations:  0,
		ExpiresAt:      now.Add(params.ExpiresIn),
		CreatedAt:      now,
	}
	if _, err := s.db.NewInsert().Model(invoice).Exec(ctx); err != nil {
		return nil, fmt.Errorf("inserting invoice: %w", err)
	}
	return invoice, nil
}

func (s *InvoiceStore) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	invoice := models.Invoice{}
	err := s.db.NewSelect().Model(&invoice).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ListNonTerminal returns pending and confirming invoices whose expiry is
// still in the future.
func (s *InvoiceStore) ListNonTerminal(ctx context.Context) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	err := s.db.NewSelect().
		Model(&invoices).
		Where("status IN (?)", bun.In([]string{common.InvoiceStatusPending, common.InvoiceStatusConfirming})).
		Where("expires_at > now()").
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *InvoiceStore) SetStatus(ctx context.Context, id, status, txRef string) (bool, error) {
	from := common.AllowedPredecessors(status)
	if len(from) == 0 {
		return false, fmt.Errorf("invoice status %q cannot be entered", status)
	}
	q := s.db.NewUpdate().
		Model((*models.Invoice)(nil)).
		Set("status = ?", status).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from))
	if txRef != "" {
		// the first observed reference wins
		q = q.Set("tx_hash = COALESCE(tx_hash, ?)", txRef)
	}
	if status == common.InvoiceStatusConfirmed {
		q = q.Set("confirmed_at = COALESCE(confirmed_at, now())")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	exists, err := s.db.NewSelect().Model((*models.Invoice)(nil)).Where("id = ?", id).Exists(ctx)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, service.ErrNotFound
	}
	return false, nil
}

func (s *InvoiceStore) SetConfirmations(ctx context.Context, id string, count int64) error {
	res, err := s.db.NewUpdate().
		Model((*models.Invoice)(nil)).
		Set("confirmations = ?", count).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return service.ErrNotFound
	}
	return nil
}

// ExpireStale flips every overdue pending invoice to expired in one statement.
func (s *InvoiceStore) ExpireStale(ctx context.Context) (int, error) {
	res, err := s.db.NewUpdate().
		Model((*models.Invoice)(nil)).
		Set("status = ?", common.InvoiceStatusExpired).
		Set("updated_at = now()").
		Where("status = ?", common.InvoiceStatusPending).
		Where("expires_at < now()").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

var _ service.InvoiceStore = (*InvoiceStore)(nil)
