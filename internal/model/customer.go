package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer 顾客，所有资产账本都挂在顾客下
type Customer struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	StoreID     int64           `gorm:"index;not null" json:"store_id"`                          // 所属门店
	CustomerNo  string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"customer_no"` // 顾客编号
	Name        string          `gorm:"type:varchar(64);not null" json:"name"`
	Mobile      string          `gorm:"type:varchar(20);index" json:"mobile"`
	TotalSpent  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_spent"` // 累计消费
	VisitCount  int             `gorm:"not null;default:0" json:"visit_count"`                   // 到店次数
	LastVisitAt *time.Time      `json:"last_visit_at"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customer"
}
