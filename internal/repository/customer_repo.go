package repository

import (
	"context"
	"time"

	"assetledger/internal/ledger"
	"assetledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) Create(ctx context.Context, tx *gorm.DB, customer *model.Customer) error {
	return duplicate(conn(r.db, tx).WithContext(ctx).Create(customer).Error)
}

func (r *CustomerRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Customer, error) {
	var customer model.Customer
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&customer).Error
	if err != nil {
		return nil, notFound(err, ErrCustomerNotFound)
	}
	return &customer, nil
}

// GetByIDForUpdate 锁定顾客行，结算时第一个加锁的对象
func (r *CustomerRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Customer, error) {
	var customer model.Customer
	err := ledger.ForUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&customer).Error
	if err != nil {
		return nil, notFound(err, ErrCustomerNotFound)
	}
	return &customer, nil
}

func (r *CustomerRepository) GetByMobile(ctx context.Context, storeID int64, mobile string) (*model.Customer, error) {
	var customer model.Customer
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND mobile = ?", storeID, mobile).
		Order("id ASC").
		First(&customer).Error
	if err != nil {
		return nil, notFound(err, ErrCustomerNotFound)
	}
	return &customer, nil
}

func (r *CustomerRepository) GetByNo(ctx context.Context, customerNo string) (*model.Customer, error) {
	var customer model.Customer
	err := r.db.WithContext(ctx).Where("customer_no = ?", customerNo).First(&customer).Error
	if err != nil {
		return nil, notFound(err, ErrCustomerNotFound)
	}
	return &customer, nil
}

// UpdateVisitStats 写回消费汇总字段，调用方需已锁定顾客行
func (r *CustomerRepository) UpdateVisitStats(ctx context.Context, tx *gorm.DB, id int64, totalSpent decimal.Decimal, visitCount int, lastVisitAt *time.Time) error {
	updates := map[string]interface{}{
		"total_spent": totalSpent,
		"visit_count": visitCount,
	}
	if lastVisitAt != nil {
		updates["last_visit_at"] = lastVisitAt
	}
	return conn(r.db, tx).WithContext(ctx).
		Model(&model.Customer{}).
		Where("id = ?", id).
		Updates(updates).Error
}
