package service

import (
	"context"
	"fmt"

	"assetledger/internal/model"
	"assetledger/internal/repository"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditEntry 一条审计记录，每个对外可见的业务动作写一条
type AuditEntry struct {
	OperatorID  int64
	ActionCode  string
	EntityType  string
	EntityID    string
	Description string
	Details     map[string]interface{}
}

// Auditor 审计写入方，和业务数据在同一个事务里落库
type Auditor struct {
	repo *repository.AuditRepository
}

func NewAuditor(db *gorm.DB) *Auditor {
	return &Auditor{repo: repository.NewAuditRepository(db)}
}

func (a *Auditor) Log(ctx context.Context, tx *gorm.DB, entry AuditEntry) error {
	row := &model.AuditLog{
		OperatorID:  entry.OperatorID,
		ActionCode:  entry.ActionCode,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		Description: entry.Description,
		Details:     datatypes.JSONMap(entry.Details),
	}
	if err := a.repo.Create(ctx, tx, row); err != nil {
		return fmt.Errorf("写入审计日志失败: %w", err)
	}
	return nil
}

// List 查询某个实体的审计记录
func (a *Auditor) List(ctx context.Context, entityType, entityID string) ([]*model.AuditLog, error) {
	return a.repo.ListByEntity(ctx, nil, entityType, entityID)
}
