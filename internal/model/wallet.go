package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WalletChangeRecharge = "recharge" // 充值
	WalletChangeGift     = "gift"     // 赠送
	WalletChangeDeduct   = "deduct"   // 消费扣款
	WalletChangeAdjust   = "adjust"   // 后台调整
	WalletChangeRefund   = "refund"   // 消费撤销退回
)

// Wallet 顾客储值钱包，与顾客一对一，首次使用时创建
type Wallet struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerID    int64           `gorm:"uniqueIndex;not null" json:"customer_id"`
	Balance       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"balance"`        // 可用余额，永远 >= 0
	TotalRecharge decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_recharge"` // 累计充值
	TotalGift     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_gift"`     // 累计赠送
	TotalSpent    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_spent"`    // 累计余额消费
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "customer_wallet"
}

// WalletLog 钱包流水，只追加，不修改
type WalletLog struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerID     int64           `gorm:"index;not null" json:"customer_id"`
	ChangeType     string          `gorm:"type:varchar(20);not null" json:"change_type"`
	Delta          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"delta"` // 正数入账，负数出账
	BalanceBefore  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_before"`
	BalanceAfter   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_after"`
	RelatedOrderID string          `gorm:"type:varchar(64);index" json:"related_order_id"`
	OperatorID     int64           `gorm:"not null;default:0" json:"operator_id"`
	Note           string          `gorm:"type:varchar(256)" json:"note"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WalletLog) TableName() string {
	return "customer_wallet_log"
}
