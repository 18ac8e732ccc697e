package repository

import (
	"context"
	"time"

	"assetledger/internal/ledger"
	"assetledger/internal/model"

	"gorm.io/gorm"
)

type ConsumeRecordRepository struct {
	db *gorm.DB
}

func NewConsumeRecordRepository(db *gorm.DB) *ConsumeRecordRepository {
	return &ConsumeRecordRepository{db: db}
}

func (r *ConsumeRecordRepository) Create(ctx context.Context, tx *gorm.DB, record *model.ConsumeRecord) error {
	return duplicate(conn(r.db, tx).WithContext(ctx).Create(record).Error)
}

func (r *ConsumeRecordRepository) GetByConsumeNo(ctx context.Context, tx *gorm.DB, consumeNo string) (*model.ConsumeRecord, error) {
	var record model.ConsumeRecord
	err := conn(r.db, tx).WithContext(ctx).Where("consume_no = ?", consumeNo).First(&record).Error
	if err != nil {
		return nil, notFound(err, ErrConsumeRecordNotFound)
	}
	return &record, nil
}

func (r *ConsumeRecordRepository) GetByConsumeNoForUpdate(ctx context.Context, tx *gorm.DB, consumeNo string) (*model.ConsumeRecord, error) {
	var record model.ConsumeRecord
	err := ledger.ForUpdate(tx.WithContext(ctx)).Where("consume_no = ?", consumeNo).First(&record).Error
	if err != nil {
		return nil, notFound(err, ErrConsumeRecordNotFound)
	}
	return &record, nil
}

func (r *ConsumeRecordRepository) Count(ctx context.Context, tx *gorm.DB, customerID int64) (int64, error) {
	var total int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.ConsumeRecord{}).
		Where("customer_id = ?", customerID).
		Count(&total).Error
	return total, err
}

func (r *ConsumeRecordRepository) ListByCustomer(ctx context.Context, customerID int64, page, pageSize int) ([]*model.ConsumeRecord, int64, error) {
	var records []*model.ConsumeRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.ConsumeRecord{}).Where("customer_id = ?", customerID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}

// UpdateNote 只允许修改备注，金额字段创建后不可变
func (r *ConsumeRecordRepository) UpdateNote(ctx context.Context, tx *gorm.DB, id int64, note string) error {
	return conn(r.db, tx).WithContext(ctx).
		Model(&model.ConsumeRecord{}).
		Where("id = ?", id).
		Update("note", note).Error
}

// MarkRevoked 打上撤销标记，只对未撤销的单生效
func (r *ConsumeRecordRepository) MarkRevoked(ctx context.Context, tx *gorm.DB, id int64, operatorID int64, note string, at time.Time) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.ConsumeRecord{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]interface{}{
			"revoked_at":  at,
			"revoked_by":  operatorID,
			"revoke_note": note,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConsumeRecordNotFound
	}
	return nil
}
