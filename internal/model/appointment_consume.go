package model

import (
	"time"
)

// AppointmentConsume 预约与会员卡扣次的关联，每个预约最多一条
type AppointmentConsume struct {
	ID                     int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AppointmentID          int64      `gorm:"uniqueIndex;not null" json:"appointment_id"`
	CustomerID             int64      `gorm:"index;not null" json:"customer_id"`
	MemberCardID           int64      `gorm:"index;not null" json:"member_card_id"`
	ConsumedSessions       int        `gorm:"not null" json:"consumed_sessions"`
	SessionsBefore         int        `gorm:"not null" json:"sessions_before"`
	SessionsAfter          int        `gorm:"not null" json:"sessions_after"`
	OperatorID             int64      `gorm:"not null;default:0" json:"operator_id"`
	Note                   string     `gorm:"type:varchar(256)" json:"note"`
	RolledBackAt           *time.Time `json:"rolled_back_at"`
	RollbackOperatorID     int64      `gorm:"not null;default:0" json:"rollback_operator_id"`
	RollbackNote           string     `gorm:"type:varchar(256)" json:"rollback_note"`
	RollbackSessionsBefore int        `gorm:"not null;default:0" json:"rollback_sessions_before"`
	RollbackSessionsAfter  int        `gorm:"not null;default:0" json:"rollback_sessions_after"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AppointmentConsume) TableName() string {
	return "appointment_consume"
}

// RolledBack 是否已回滚
func (a *AppointmentConsume) RolledBack() bool {
	return a.RolledBackAt != nil
}
