package model

import (
	"time"

	"gorm.io/datatypes"
)

// 审计动作编码
const (
	AuditWalletRecharge    = "wallet.recharge"
	AuditWalletGift        = "wallet.gift"
	AuditWalletAdjust      = "wallet.adjust"
	AuditCouponIssue       = "coupon.issue"
	AuditCouponAdjust      = "coupon.adjust"
	AuditCouponCancel      = "coupon.cancel"
	AuditCouponTransfer    = "coupon.transfer"
	AuditCardOpen          = "member_card.open"
	AuditCardAdjust        = "member_card.adjust"
	AuditCardTransfer      = "member_card.transfer"
	AuditConsumeSettle     = "consume.settle"
	AuditConsumeAmend      = "consume.amend"
	AuditConsumeRevoke     = "consume.revoke"
	AuditAppointmentUse    = "appointment.consume"
	AuditAppointmentUndo   = "appointment.rollback"
	AuditAppointmentAdjust = "appointment.adjust"
	AuditCustomerCreate    = "customer.create"
)

// AuditLog 操作审计，每个对外可见的业务动作一条
type AuditLog struct {
	ID          int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	OperatorID  int64             `gorm:"index;not null;default:0" json:"operator_id"`
	ActionCode  string            `gorm:"type:varchar(40);index;not null" json:"action_code"`
	EntityType  string            `gorm:"type:varchar(32);not null" json:"entity_type"`
	EntityID    string            `gorm:"type:varchar(64);index;not null" json:"entity_id"`
	Description string            `gorm:"type:varchar(256)" json:"description"`
	Details     datatypes.JSONMap `json:"details"`
	CreatedAt   time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}
