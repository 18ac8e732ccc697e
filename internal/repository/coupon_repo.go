package repository

import (
	"context"
	"time"

	"assetledger/internal/ledger"
	"assetledger/internal/model"

	"gorm.io/gorm"
)

type CouponRepository struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

func (r *CouponRepository) Create(ctx context.Context, tx *gorm.DB, coupon *model.Coupon) error {
	return duplicate(conn(r.db, tx).WithContext(ctx).Create(coupon).Error)
}

func (r *CouponRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Coupon, error) {
	var coupon model.Coupon
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&coupon).Error
	if err != nil {
		return nil, notFound(err, ErrCouponNotFound)
	}
	return &coupon, nil
}

func (r *CouponRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Coupon, error) {
	var coupon model.Coupon
	err := ledger.ForUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&coupon).Error
	if err != nil {
		return nil, notFound(err, ErrCouponNotFound)
	}
	return &coupon, nil
}

func (r *CouponRepository) GetByCodeForUpdate(ctx context.Context, tx *gorm.DB, code string) (*model.Coupon, error) {
	var coupon model.Coupon
	err := ledger.ForUpdate(tx.WithContext(ctx)).Where("code = ?", code).First(&coupon).Error
	if err != nil {
		return nil, notFound(err, ErrCouponNotFound)
	}
	return &coupon, nil
}

// Save 写回次数、状态和归属，调用方需已锁定券行
func (r *CouponRepository) Save(ctx context.Context, tx *gorm.DB, coupon *model.Coupon) error {
	return conn(r.db, tx).WithContext(ctx).
		Model(&model.Coupon{}).
		Where("id = ?", coupon.ID).
		Updates(map[string]interface{}{
			"remain_count": coupon.RemainCount,
			"status":       coupon.Status,
			"customer_id":  coupon.CustomerID,
			"store_id":     coupon.StoreID,
		}).Error
}

// ListByCustomer 按状态查询顾客的券，status 为空查全部
// 过期时间已到但还是 active 的券算作 expired，不出现在 active 列表里
func (r *CouponRepository) ListByCustomer(ctx context.Context, customerID int64, status string, now time.Time) ([]*model.Coupon, error) {
	var coupons []*model.Coupon
	query := r.db.WithContext(ctx).Where("customer_id = ?", customerID)
	switch status {
	case "":
	case model.CouponStatusActive:
		query = query.Where("status = ? AND (expire_at IS NULL OR expire_at > ?)", status, now)
	case model.CouponStatusExpired:
		query = query.Where("(status = ? OR (status = ? AND expire_at IS NOT NULL AND expire_at <= ?))",
			status, model.CouponStatusActive, now)
	default:
		query = query.Where("status = ?", status)
	}
	err := query.Order("id DESC").Find(&coupons).Error
	return coupons, err
}

// ListOverdueActiveIDs 查询已过期但仍为 active 的券
func (r *CouponRepository) ListOverdueActiveIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Coupon{}).
		Where("status = ? AND expire_at IS NOT NULL AND expire_at <= ?", model.CouponStatusActive, now).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *CouponRepository) CreateLog(ctx context.Context, tx *gorm.DB, log *model.CouponLog) error {
	return conn(r.db, tx).WithContext(ctx).Create(log).Error
}

func (r *CouponRepository) ListLogs(ctx context.Context, tx *gorm.DB, couponID int64) ([]*model.CouponLog, error) {
	var logs []*model.CouponLog
	err := conn(r.db, tx).WithContext(ctx).
		Where("coupon_id = ?", couponID).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}
