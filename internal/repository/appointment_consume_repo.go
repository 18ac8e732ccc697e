package repository

import (
	"context"

	"assetledger/internal/ledger"
	"assetledger/internal/model"

	"gorm.io/gorm"
)

type AppointmentConsumeRepository struct {
	db *gorm.DB
}

func NewAppointmentConsumeRepository(db *gorm.DB) *AppointmentConsumeRepository {
	return &AppointmentConsumeRepository{db: db}
}

// Create appointment_id 上有唯一索引，重复写入返回 ErrDuplicateKey
func (r *AppointmentConsumeRepository) Create(ctx context.Context, tx *gorm.DB, ac *model.AppointmentConsume) error {
	return duplicate(conn(r.db, tx).WithContext(ctx).Create(ac).Error)
}

func (r *AppointmentConsumeRepository) GetByAppointmentID(ctx context.Context, tx *gorm.DB, appointmentID int64) (*model.AppointmentConsume, error) {
	var ac model.AppointmentConsume
	err := conn(r.db, tx).WithContext(ctx).Where("appointment_id = ?", appointmentID).First(&ac).Error
	if err != nil {
		return nil, notFound(err, ErrAppointmentConsumeNotFound)
	}
	return &ac, nil
}

func (r *AppointmentConsumeRepository) GetByAppointmentIDForUpdate(ctx context.Context, tx *gorm.DB, appointmentID int64) (*model.AppointmentConsume, error) {
	var ac model.AppointmentConsume
	err := ledger.ForUpdate(tx.WithContext(ctx)).Where("appointment_id = ?", appointmentID).First(&ac).Error
	if err != nil {
		return nil, notFound(err, ErrAppointmentConsumeNotFound)
	}
	return &ac, nil
}

// Save 回写扣次与回滚字段
func (r *AppointmentConsumeRepository) Save(ctx context.Context, tx *gorm.DB, ac *model.AppointmentConsume) error {
	return conn(r.db, tx).WithContext(ctx).
		Model(&model.AppointmentConsume{}).
		Where("id = ?", ac.ID).
		Updates(map[string]interface{}{
			"customer_id":              ac.CustomerID,
			"member_card_id":           ac.MemberCardID,
			"operator_id":              ac.OperatorID,
			"consumed_sessions":        ac.ConsumedSessions,
			"sessions_before":          ac.SessionsBefore,
			"sessions_after":           ac.SessionsAfter,
			"note":                     ac.Note,
			"rolled_back_at":           ac.RolledBackAt,
			"rollback_operator_id":     ac.RollbackOperatorID,
			"rollback_note":            ac.RollbackNote,
			"rollback_sessions_before": ac.RollbackSessionsBefore,
			"rollback_sessions_after":  ac.RollbackSessionsAfter,
		}).Error
}
