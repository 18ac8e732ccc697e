package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CouponUsageSnapshot 单次结算中一张券的使用快照
type CouponUsageSnapshot struct {
	CouponID     int64           `json:"coupon_id"`
	CouponCode   string          `json:"coupon_code"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	FaceValue    decimal.Decimal `json:"face_value"`
	UseCount     int             `json:"use_count"`
	DeductAmount decimal.Decimal `json:"deduct_amount"` // face_value × use_count
	RemainBefore int             `json:"remain_before"`
	RemainAfter  int             `json:"remain_after"`
}

// CardUsageSnapshot 单次结算中一张会员卡的扣次快照
type CardUsageSnapshot struct {
	CardID         int64  `json:"card_id"`
	CardNo         string `json:"card_no"`
	PackageName    string `json:"package_name"`
	Sessions       int    `json:"sessions"`
	SessionsBefore int    `json:"sessions_before"`
	SessionsAfter  int    `json:"sessions_after"`
}

// ConsumeRecord 消费结算单，一次到店的全部资产扣减汇总在一张单里
// 金额类字段创建后不可修改，撤销只会打上 revoked 标记并反向记账
type ConsumeRecord struct {
	ID                       int64                 `gorm:"primaryKey;autoIncrement" json:"id"`
	ConsumeNo                string                `gorm:"type:varchar(64);uniqueIndex;not null" json:"consume_no"`
	CustomerID               int64                 `gorm:"index;not null" json:"customer_id"`
	StoreID                  int64                 `gorm:"index;not null" json:"store_id"`
	ConsumeAmount            decimal.Decimal       `gorm:"type:decimal(12,2);not null;default:0" json:"consume_amount"`
	DeductBalanceAmount      decimal.Decimal       `gorm:"type:decimal(12,2);not null;default:0" json:"deduct_balance_amount"`
	DeductCouponAmount       decimal.Decimal       `gorm:"type:decimal(12,2);not null;default:0" json:"deduct_coupon_amount"`
	DeductMemberCardSessions int                   `gorm:"not null;default:0" json:"deduct_member_card_sessions"`
	CouponUsages             []CouponUsageSnapshot `gorm:"type:text;serializer:json" json:"coupon_usages"`
	MemberCardUsages         []CardUsageSnapshot   `gorm:"type:text;serializer:json" json:"member_card_usages"`
	OperatorID               int64                 `gorm:"not null;default:0" json:"operator_id"`
	Note                     string                `gorm:"type:varchar(256)" json:"note"`
	RevokedAt                *time.Time            `json:"revoked_at"`
	RevokedBy                int64                 `gorm:"not null;default:0" json:"revoked_by"`
	RevokeNote               string                `gorm:"type:varchar(256)" json:"revoke_note"`
	CreatedAt                time.Time             `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt                time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ConsumeRecord) TableName() string {
	return "consume_record"
}

// Revoked 是否已撤销
func (r *ConsumeRecord) Revoked() bool {
	return r.RevokedAt != nil
}
