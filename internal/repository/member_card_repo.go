package repository

import (
	"context"
	"time"

	"assetledger/internal/ledger"
	"assetledger/internal/model"

	"gorm.io/gorm"
)

type MemberCardRepository struct {
	db *gorm.DB
}

func NewMemberCardRepository(db *gorm.DB) *MemberCardRepository {
	return &MemberCardRepository{db: db}
}

func (r *MemberCardRepository) Create(ctx context.Context, tx *gorm.DB, card *model.MemberCard) error {
	return duplicate(conn(r.db, tx).WithContext(ctx).Create(card).Error)
}

func (r *MemberCardRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.MemberCard, error) {
	var card model.MemberCard
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&card).Error
	if err != nil {
		return nil, notFound(err, ErrMemberCardNotFound)
	}
	return &card, nil
}

func (r *MemberCardRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.MemberCard, error) {
	var card model.MemberCard
	err := ledger.ForUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&card).Error
	if err != nil {
		return nil, notFound(err, ErrMemberCardNotFound)
	}
	return &card, nil
}

// Save 写回次数、状态和归属，调用方需已锁定卡行
func (r *MemberCardRepository) Save(ctx context.Context, tx *gorm.DB, card *model.MemberCard) error {
	return conn(r.db, tx).WithContext(ctx).
		Model(&model.MemberCard{}).
		Where("id = ?", card.ID).
		Updates(map[string]interface{}{
			"total_sessions":     card.TotalSessions,
			"remaining_sessions": card.RemainingSessions,
			"status":             card.Status,
			"customer_id":        card.CustomerID,
			"store_id":           card.StoreID,
		}).Error
}

// ListByCustomer 按状态查询顾客的会员卡，status 为空查全部
// 过期未扫描的 active / depleted 卡归到 expired
func (r *MemberCardRepository) ListByCustomer(ctx context.Context, customerID int64, status string, now time.Time) ([]*model.MemberCard, error) {
	var cards []*model.MemberCard
	query := r.db.WithContext(ctx).Where("customer_id = ?", customerID)
	switch status {
	case "":
	case model.CardStatusActive, model.CardStatusDepleted:
		query = query.Where("status = ? AND (expire_at IS NULL OR expire_at > ?)", status, now)
	case model.CardStatusExpired:
		query = query.Where("(status = ? OR (status IN ? AND expire_at IS NOT NULL AND expire_at <= ?))",
			status, []string{model.CardStatusActive, model.CardStatusDepleted}, now)
	default:
		query = query.Where("status = ?", status)
	}
	err := query.Order("id DESC").Find(&cards).Error
	return cards, err
}

// ListOverdueIDs 查询已过期但状态仍为 active / depleted 的卡
func (r *MemberCardRepository) ListOverdueIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.MemberCard{}).
		Where("status IN ? AND expire_at IS NOT NULL AND expire_at <= ?",
			[]string{model.CardStatusActive, model.CardStatusDepleted}, now).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *MemberCardRepository) CreateLog(ctx context.Context, tx *gorm.DB, log *model.MemberCardLog) error {
	return conn(r.db, tx).WithContext(ctx).Create(log).Error
}

func (r *MemberCardRepository) ListLogs(ctx context.Context, tx *gorm.DB, cardID int64) ([]*model.MemberCardLog, error) {
	var logs []*model.MemberCardLog
	err := conn(r.db, tx).WithContext(ctx).
		Where("card_id = ?", cardID).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}
