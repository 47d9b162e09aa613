package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Abidoyesimze/StackPay/db/models"
	"github.com/Abidoyesimze/StackPay/lib/service"
	"github.com/uptrace/bun"
)

type MerchantStore struct {
	db *bun.DB
}

func NewMerchantStore(db *bun.DB) *MerchantStore {
	return &MerchantStore{db: db}
}

func (s *MerchantStore) FindByID(ctx context.Context, id string) (*models.Merchant, error) {
	merchant := models.Merchant{}
	err := s.db.NewSelect().Model(&merchant).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &merchant, nil
}

var _ service.MerchantStore = (*MerchantStore)(nil)
