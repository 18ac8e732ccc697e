package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CouponTypeCash     = "cash"     // 现金券
	CouponTypeDiscount = "discount" // 折扣券（抵扣额按面值计）
)

const (
	CouponStatusActive    = "active"
	CouponStatusUsed      = "used"
	CouponStatusExpired   = "expired"
	CouponStatusCancelled = "cancelled"
)

// 发券来源
const (
	CouponSourceManual    = "manual"     // 手工发放
	CouponSourceGiftEvent = "gift_event" // 活动赠送
	CouponSourceGroupSend = "group_send" // 批量群发
)

// 券流水动作
const (
	CouponActionIssue       = "issue"
	CouponActionConsume     = "consume"
	CouponActionAdjust      = "adjust"
	CouponActionCancel      = "cancel"
	CouponActionTransferOut = "transfer_out"
	CouponActionTransferIn  = "transfer_in"
	CouponActionExpire      = "expire"
	CouponActionRestore     = "restore"
)

// Coupon 顾客持有的券，同一时刻只属于一个顾客
type Coupon struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Code          string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"` // 券码（全局唯一）
	CustomerID    int64           `gorm:"index;not null" json:"customer_id"`
	StoreID       int64           `gorm:"index;not null" json:"store_id"`
	Name          string          `gorm:"type:varchar(64);not null" json:"name"`
	Type          string          `gorm:"type:varchar(16);not null" json:"type"`
	FaceValue     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"face_value"`        // 面值，发放后不变
	MinSpend      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"min_spend"` // 使用门槛
	TotalCount    int             `gorm:"not null" json:"total_count"`                          // 发放时的可用次数
	RemainCount   int             `gorm:"not null" json:"remain_count"`                         // 剩余次数
	Status        string          `gorm:"type:varchar(16);index;not null" json:"status"`
	ExpireAt      *time.Time      `gorm:"index" json:"expire_at"`
	Source        string          `gorm:"type:varchar(20);not null" json:"source"`
	ReferenceType string          `gorm:"type:varchar(32)" json:"reference_type"` // 关联业务类型，如 recharge / birthday
	IssuedBy      int64           `gorm:"not null;default:0" json:"issued_by"`
	Note          string          `gorm:"type:varchar(256)" json:"note"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Coupon) TableName() string {
	return "customer_coupon"
}

// EffectiveStatus 读取时的实际状态：已过期但还没被扫描任务改写的 active 券按 expired 返回
func (c *Coupon) EffectiveStatus(now time.Time) string {
	if c.Status == CouponStatusActive && IsExpired(c.ExpireAt, now) {
		return CouponStatusExpired
	}
	return c.Status
}

// Consumable 券是否可以核销
func (c *Coupon) Consumable(now time.Time) bool {
	return c.EffectiveStatus(now) == CouponStatusActive
}

// CouponTemplate 发券模板，是发券时的快照，不落库
type CouponTemplate struct {
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	FaceValue decimal.Decimal `json:"face_value"`
	MinSpend  decimal.Decimal `json:"min_spend"`
	UseCount  int             `json:"use_count"`
	ValidDays int             `json:"valid_days"` // 0 表示永久有效
}

// CouponLog 券流水
type CouponLog struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CouponID       int64     `gorm:"index;not null" json:"coupon_id"`
	CustomerID     int64     `gorm:"index;not null" json:"customer_id"`
	RelatedOrderID string    `gorm:"type:varchar(64);index" json:"related_order_id"`
	ActionType     string    `gorm:"type:varchar(20);not null" json:"action_type"`
	DeltaCount     int       `gorm:"not null" json:"delta_count"`
	CountBefore    int       `gorm:"not null" json:"count_before"`
	CountAfter     int       `gorm:"not null" json:"count_after"`
	OperatorID     int64     `gorm:"not null;default:0" json:"operator_id"`
	Note           string    `gorm:"type:varchar(256)" json:"note"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CouponLog) TableName() string {
	return "customer_coupon_log"
}
