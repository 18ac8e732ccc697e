package repository

import (
	"context"

	"assetledger/internal/ledger"
	"assetledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByCustomerID(ctx context.Context, tx *gorm.DB, customerID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := conn(r.db, tx).WithContext(ctx).Where("customer_id = ?", customerID).First(&wallet).Error
	if err != nil {
		return nil, notFound(err, ErrWalletNotFound)
	}
	return &wallet, nil
}

// GetOrCreateForUpdate 锁定顾客钱包，不存在时先以零余额创建
// 并发首次创建靠 customer_id 唯一索引 + ON CONFLICT DO NOTHING 兜住
func (r *WalletRepository) GetOrCreateForUpdate(ctx context.Context, tx *gorm.DB, customerID int64) (*model.Wallet, error) {
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "customer_id"}},
			DoNothing: true,
		}).
		Create(&model.Wallet{CustomerID: customerID}).Error
	if err != nil {
		return nil, err
	}

	var wallet model.Wallet
	err = ledger.ForUpdate(tx.WithContext(ctx)).Where("customer_id = ?", customerID).First(&wallet).Error
	if err != nil {
		return nil, notFound(err, ErrWalletNotFound)
	}
	return &wallet, nil
}

// Save 写回余额和累计字段，调用方需已锁定钱包行
func (r *WalletRepository) Save(ctx context.Context, tx *gorm.DB, wallet *model.Wallet) error {
	return conn(r.db, tx).WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ?", wallet.ID).
		Updates(map[string]interface{}{
			"balance":        wallet.Balance,
			"total_recharge": wallet.TotalRecharge,
			"total_gift":     wallet.TotalGift,
			"total_spent":    wallet.TotalSpent,
		}).Error
}

func (r *WalletRepository) CreateLog(ctx context.Context, tx *gorm.DB, log *model.WalletLog) error {
	return conn(r.db, tx).WithContext(ctx).Create(log).Error
}

func (r *WalletRepository) ListLogs(ctx context.Context, customerID int64, page, pageSize int) ([]*model.WalletLog, int64, error) {
	var logs []*model.WalletLog
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletLog{}).Where("customer_id = ?", customerID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&logs).Error

	return logs, total, err
}
