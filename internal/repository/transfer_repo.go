package repository

import (
	"context"

	"assetledger/internal/model"

	"gorm.io/gorm"
)

type TransferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Create(ctx context.Context, tx *gorm.DB, transfer *model.AssetTransfer) error {
	return duplicate(conn(r.db, tx).WithContext(ctx).Create(transfer).Error)
}

// ListByCustomer 查询顾客作为转出方或转入方的全部转赠记录
func (r *TransferRepository) ListByCustomer(ctx context.Context, tx *gorm.DB, customerID int64) ([]*model.AssetTransfer, error) {
	var transfers []*model.AssetTransfer
	err := conn(r.db, tx).WithContext(ctx).
		Where("from_customer_id = ? OR to_customer_id = ?", customerID, customerID).
		Order("id DESC").
		Find(&transfers).Error
	return transfers, err
}
