package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CardStatusActive    = "active"
	CardStatusDepleted  = "depleted"
	CardStatusExpired   = "expired"
	CardStatusCancelled = "cancelled"
)

// 会员卡流水动作
const (
	CardActionOpen        = "open"
	CardActionConsume     = "consume"
	CardActionAdjust      = "adjust"
	CardActionRollback    = "rollback"
	CardActionTransferOut = "transfer_out"
	CardActionTransferIn  = "transfer_in"
	CardActionExpire      = "expire"
	CardActionRestore     = "restore"
)

// MemberCard 次卡，售出或赠送时确定总次数
type MemberCard struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CardNo            string          `gorm:"type:varchar(40);uniqueIndex;not null" json:"card_no"`
	CustomerID        int64           `gorm:"index;not null" json:"customer_id"`
	StoreID           int64           `gorm:"index;not null" json:"store_id"`
	PackageName       string          `gorm:"type:varchar(64);not null" json:"package_name"`
	TotalSessions     int             `gorm:"not null" json:"total_sessions"`
	RemainingSessions int             `gorm:"not null" json:"remaining_sessions"`
	SoldPrice         decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"sold_price"`
	Status            string          `gorm:"type:varchar(16);index;not null" json:"status"`
	ExpireAt          *time.Time      `gorm:"index" json:"expire_at"`
	OperatorID        int64           `gorm:"not null;default:0" json:"operator_id"`
	Note              string          `gorm:"type:varchar(256)" json:"note"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MemberCard) TableName() string {
	return "member_card"
}

// EffectiveStatus 读取时的实际状态：过期未扫描的 active / depleted 卡按 expired 返回
func (c *MemberCard) EffectiveStatus(now time.Time) string {
	if (c.Status == CardStatusActive || c.Status == CardStatusDepleted) && IsExpired(c.ExpireAt, now) {
		return CardStatusExpired
	}
	return c.Status
}

// Consumable 会员卡是否可以扣次
func (c *MemberCard) Consumable(now time.Time) bool {
	return c.EffectiveStatus(now) == CardStatusActive
}

// CardPackage 套餐快照
type CardPackage struct {
	Name          string `json:"name"`
	TotalSessions int    `json:"total_sessions"`
	ValidDays     int    `json:"valid_days"` // 0 表示永久有效
}

// MemberCardLog 会员卡流水
type MemberCardLog struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CardID         int64     `gorm:"index;not null" json:"card_id"`
	CustomerID     int64     `gorm:"index;not null" json:"customer_id"`
	RelatedOrderID string    `gorm:"type:varchar(64);index" json:"related_order_id"`
	ActionType     string    `gorm:"type:varchar(20);not null" json:"action_type"`
	DeltaSessions  int       `gorm:"not null" json:"delta_sessions"`
	SessionsBefore int       `gorm:"not null" json:"sessions_before"`
	SessionsAfter  int       `gorm:"not null" json:"sessions_after"`
	OperatorID     int64     `gorm:"not null;default:0" json:"operator_id"`
	Note           string    `gorm:"type:varchar(256)" json:"note"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (MemberCardLog) TableName() string {
	return "member_card_log"
}
