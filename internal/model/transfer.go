package model

import (
	"time"
)

const (
	AssetTypeCoupon     = "coupon"
	AssetTypeMemberCard = "member_card"
)

// AssetTransfer 资产转赠记录，按转出/转入顾客查询的索引表
// 与之配套的两条 transfer_out / transfer_in 流水写在各自资产的流水表里
type AssetTransfer struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransferNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transfer_no"`
	AssetType      string    `gorm:"type:varchar(20);not null" json:"asset_type"`
	AssetID        int64     `gorm:"index;not null" json:"asset_id"`
	FromCustomerID int64     `gorm:"index;not null" json:"from_customer_id"`
	ToCustomerID   int64     `gorm:"index;not null" json:"to_customer_id"`
	FromStoreID    int64     `gorm:"not null" json:"from_store_id"`
	ToStoreID      int64     `gorm:"not null" json:"to_store_id"`
	OperatorID     int64     `gorm:"not null;default:0" json:"operator_id"`
	Note           string    `gorm:"type:varchar(256)" json:"note"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AssetTransfer) TableName() string {
	return "asset_transfer"
}
