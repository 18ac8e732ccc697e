package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"assetledger/internal/config"
	"assetledger/internal/metrics"
	"assetledger/internal/model"
	"assetledger/internal/repository"

	"gorm.io/gorm"
)

// ============================================================================
// 预约结算桥接
// ============================================================================
//
// 预约状态变为 completed 时按预约扣一次会员卡，并记一条 appointment_consume；
// 从 completed 改回 booked / cancelled / no_show 时把扣掉的次数还回去。
//
// 每个预约最多一条 appointment_consume（appointment_id 唯一索引），
// 回滚只打标记不删除，之后再次 completed 时复用这条记录重新扣次。
// ============================================================================

type AppointmentService struct {
	base
	consumeRepo *repository.AppointmentConsumeRepository
	cards       *MemberCardService
}

func NewAppointmentService(db *gorm.DB, cfg *config.Config, opts Options, cards *MemberCardService) *AppointmentService {
	return &AppointmentService{
		base:        newBase(db, cfg, opts, "AppointmentService"),
		consumeRepo: repository.NewAppointmentConsumeRepository(db),
		cards:       cards,
	}
}

// AppointmentTransition 预约状态变化通知
type AppointmentTransition struct {
	AppointmentID int64  `json:"appointment_id" binding:"required"`
	CustomerID    int64  `json:"customer_id" binding:"required"`
	FromStatus    string `json:"from_status" binding:"required"`
	ToStatus      string `json:"to_status" binding:"required"`
	MemberCardID  int64  `json:"member_card_id"` // 为 0 表示该预约不走会员卡
	Sessions      int    `json:"sessions"`       // 为 0 时按 1 次扣
	OperatorID    int64  `json:"operator_id"`
	Note          string `json:"note"`
}

type TransitionResult struct {
	Consume  *model.AppointmentConsume `json:"consume,omitempty"`
	Rollback *RollbackResult           `json:"rollback,omitempty"`
}

type RollbackRequest struct {
	AppointmentID int64  `json:"appointment_id" binding:"required"`
	OperatorID    int64  `json:"operator_id"`
	Note          string `json:"note"`
}

type RollbackResult struct {
	AppointmentID     int64                     `json:"appointment_id"`
	Consume           *model.AppointmentConsume `json:"consume,omitempty"`
	RestoredSessions  int                       `json:"restored_sessions"`
	AlreadyRolledBack bool                      `json:"already_rolled_back"`
	NothingToRollback bool                      `json:"nothing_to_rollback"`
}

type AdjustAppointmentRequest struct {
	AppointmentID int64  `json:"appointment_id" binding:"required"`
	NewSessions   int    `json:"new_sessions" binding:"required"`
	OperatorID    int64  `json:"operator_id"`
	Note          string `json:"note"`
}

func appointmentOrderID(appointmentID int64) string {
	return "APT" + strconv.FormatInt(appointmentID, 10)
}

// OnStatusChange 处理预约状态变化，只有 completed 的进出会动会员卡
func (s *AppointmentService) OnStatusChange(ctx context.Context, tr *AppointmentTransition) (*TransitionResult, error) {
	if !model.CanAppointmentTransition(tr.FromStatus, tr.ToStatus) {
		return nil, conflictf("预约状态不能从 %s 变为 %s", tr.FromStatus, tr.ToStatus)
	}

	if tr.ToStatus == model.AppointmentStatusCompleted {
		if tr.MemberCardID == 0 {
			return &TransitionResult{}, nil
		}
		ac, err := s.Complete(ctx, tr)
		if err != nil {
			return nil, err
		}
		return &TransitionResult{Consume: ac}, nil
	}

	rb, err := s.Rollback(ctx, &RollbackRequest{
		AppointmentID: tr.AppointmentID,
		OperatorID:    tr.OperatorID,
		Note:          tr.Note,
	})
	if err != nil {
		return nil, err
	}
	return &TransitionResult{Rollback: rb}, nil
}

// Complete 预约完成扣次，每个预约最多扣一次；已有扣次记录（含已回滚）返回 Conflict
func (s *AppointmentService) Complete(ctx context.Context, tr *AppointmentTransition) (ac *model.AppointmentConsume, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("appointment_consume", start, err) }()

	if tr.MemberCardID <= 0 {
		return nil, validationf("会员卡不能为空")
	}
	sessions := tr.Sessions
	if sessions == 0 {
		sessions = 1
	}
	if sessions < 0 {
		return nil, validationf("扣次数必须大于0")
	}
	orderID := appointmentOrderID(tr.AppointmentID)

	err = s.withCustomerLock(ctx, []int64{tr.CustomerID}, func() error {
		return s.transaction(ctx, func(tx *gorm.DB) error {
			existing, err := s.consumeRepo.GetByAppointmentIDForUpdate(ctx, tx, tr.AppointmentID)
			if err != nil && !errors.Is(err, repository.ErrAppointmentConsumeNotFound) {
				return fmt.Errorf("查询预约扣次记录失败: %w", err)
			}
			if existing != nil {
				if existing.RolledBack() {
					return conflictf("预约 %d 的扣次已回滚，不能再次扣次", tr.AppointmentID)
				}
				return conflictf("预约 %d 已扣过次", tr.AppointmentID)
			}

			snap, err := s.cards.Consume(ctx, tx, tr.MemberCardID, tr.CustomerID, sessions, orderID, tr.OperatorID, tr.Note)
			if err != nil {
				return err
			}

			ac = &model.AppointmentConsume{
				AppointmentID:    tr.AppointmentID,
				CustomerID:       tr.CustomerID,
				MemberCardID:     tr.MemberCardID,
				ConsumedSessions: sessions,
				SessionsBefore:   snap.SessionsBefore,
				SessionsAfter:    snap.SessionsAfter,
				OperatorID:       tr.OperatorID,
				Note:             tr.Note,
			}
			if err := s.consumeRepo.Create(ctx, tx, ac); err != nil {
				if errors.Is(err, repository.ErrDuplicateKey) {
					return conflictf("预约 %d 已扣过次", tr.AppointmentID)
				}
				return fmt.Errorf("创建预约扣次记录失败: %w", err)
			}

			err = s.auditor.Log(ctx, tx, AuditEntry{
				OperatorID:  tr.OperatorID,
				ActionCode:  model.AuditAppointmentUse,
				EntityType:  "appointment",
				EntityID:    strconv.FormatInt(tr.AppointmentID, 10),
				Description: fmt.Sprintf("预约完成扣次 %d", sessions),
				Details: map[string]interface{}{
					"member_card_id":  tr.MemberCardID,
					"sessions_before": snap.SessionsBefore,
					"sessions_after":  snap.SessionsAfter,
				},
			})
			if err != nil {
				return err
			}

			return s.publish(ctx, tx, model.EventAppointmentConsumed, orderID, map[string]interface{}{
				"appointment_id": tr.AppointmentID,
				"customer_id":    tr.CustomerID,
				"member_card_id": tr.MemberCardID,
				"sessions":       sessions,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, tr.CustomerID)
	s.logger.Info().Int64("appointment_id", tr.AppointmentID).Int64("card_id", tr.MemberCardID).Int("sessions", sessions).Msg("预约扣次成功")
	return ac, nil
}

// Rollback 回滚预约扣次，次数恢复到不超过总次数
// 没有扣次记录或已回滚时不报错，通过结果里的标记区分
func (s *AppointmentService) Rollback(ctx context.Context, req *RollbackRequest) (result *RollbackResult, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("appointment_rollback", start, err) }()

	result = &RollbackResult{AppointmentID: req.AppointmentID}

	existing, err := s.consumeRepo.GetByAppointmentID(ctx, nil, req.AppointmentID)
	if errors.Is(err, repository.ErrAppointmentConsumeNotFound) {
		result.NothingToRollback = true
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询预约扣次记录失败: %w", err)
	}

	restored := false
	err = s.withCustomerLock(ctx, []int64{existing.CustomerID}, func() error {
		return s.transaction(ctx, func(tx *gorm.DB) error {
			ac, err := s.consumeRepo.GetByAppointmentIDForUpdate(ctx, tx, req.AppointmentID)
			if err != nil {
				return translate(err, "锁定预约扣次记录失败")
			}
			result.Consume = ac
			if ac.RolledBack() {
				result.AlreadyRolledBack = true
				return nil
			}

			before, after, err := s.cards.Restore(ctx, tx, ac.MemberCardID, ac.ConsumedSessions,
				model.CardActionRollback, appointmentOrderID(ac.AppointmentID), req.OperatorID, req.Note)
			if err != nil {
				return err
			}

			now := s.now()
			ac.RolledBackAt = &now
			ac.RollbackOperatorID = req.OperatorID
			ac.RollbackNote = req.Note
			ac.RollbackSessionsBefore = before.RemainingSessions
			ac.RollbackSessionsAfter = after.RemainingSessions
			if err := s.consumeRepo.Save(ctx, tx, ac); err != nil {
				return fmt.Errorf("更新预约扣次记录失败: %w", err)
			}
			result.RestoredSessions = after.RemainingSessions - before.RemainingSessions
			restored = true

			err = s.auditor.Log(ctx, tx, AuditEntry{
				OperatorID:  req.OperatorID,
				ActionCode:  model.AuditAppointmentUndo,
				EntityType:  "appointment",
				EntityID:    strconv.FormatInt(ac.AppointmentID, 10),
				Description: fmt.Sprintf("预约扣次回滚 %d", result.RestoredSessions),
				Details: map[string]interface{}{
					"member_card_id":  ac.MemberCardID,
					"sessions_before": before.RemainingSessions,
					"sessions_after":  after.RemainingSessions,
				},
			})
			if err != nil {
				return err
			}

			return s.publish(ctx, tx, model.EventAppointmentRollback, appointmentOrderID(ac.AppointmentID), map[string]interface{}{
				"appointment_id":    ac.AppointmentID,
				"customer_id":       ac.CustomerID,
				"member_card_id":    ac.MemberCardID,
				"restored_sessions": result.RestoredSessions,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	if restored {
		s.invalidate(ctx, existing.CustomerID)
		s.logger.Info().Int64("appointment_id", req.AppointmentID).Int("restored", result.RestoredSessions).Msg("预约扣次已回滚")
	}
	return result, nil
}

// AdjustAppointmentConsume 修改预约扣次数，差额反向作用到会员卡剩余次数
func (s *AppointmentService) AdjustAppointmentConsume(ctx context.Context, req *AdjustAppointmentRequest) (*model.AppointmentConsume, error) {
	if req.NewSessions <= 0 {
		return nil, validationf("扣次数必须大于0")
	}

	existing, err := s.consumeRepo.GetByAppointmentID(ctx, nil, req.AppointmentID)
	if err != nil {
		return nil, translate(err, "查询预约扣次记录失败")
	}

	var ac *model.AppointmentConsume
	err = s.withCustomerLock(ctx, []int64{existing.CustomerID}, func() error {
		return s.transaction(ctx, func(tx *gorm.DB) error {
			row, err := s.consumeRepo.GetByAppointmentIDForUpdate(ctx, tx, req.AppointmentID)
			if err != nil {
				return translate(err, "锁定预约扣次记录失败")
			}
			if row.RolledBack() {
				return conflictf("预约 %d 的扣次已回滚，不能调整", req.AppointmentID)
			}
			ac = row

			oldSessions := row.ConsumedSessions
			diff := req.NewSessions - oldSessions
			if diff == 0 {
				return nil
			}

			_, after, err := s.cards.shift(ctx, tx, row.MemberCardID, -diff,
				model.CardActionAdjust, appointmentOrderID(row.AppointmentID), req.OperatorID, req.Note)
			if err != nil {
				return err
			}

			row.ConsumedSessions = req.NewSessions
			row.SessionsBefore = after.RemainingSessions + req.NewSessions
			row.SessionsAfter = after.RemainingSessions
			if req.Note != "" {
				row.Note = req.Note
			}
			if err := s.consumeRepo.Save(ctx, tx, row); err != nil {
				return fmt.Errorf("更新预约扣次记录失败: %w", err)
			}

			return s.auditor.Log(ctx, tx, AuditEntry{
				OperatorID:  req.OperatorID,
				ActionCode:  model.AuditAppointmentAdjust,
				EntityType:  "appointment",
				EntityID:    strconv.FormatInt(row.AppointmentID, 10),
				Description: fmt.Sprintf("预约扣次调整 %d -> %d", oldSessions, req.NewSessions),
				Details: map[string]interface{}{
					"member_card_id": row.MemberCardID,
					"sessions_after": after.RemainingSessions,
				},
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, existing.CustomerID)
	return ac, nil
}

func (s *AppointmentService) Get(ctx context.Context, appointmentID int64) (*model.AppointmentConsume, error) {
	ac, err := s.consumeRepo.GetByAppointmentID(ctx, nil, appointmentID)
	if err != nil {
		return nil, translate(err, "查询预约扣次记录失败")
	}
	return ac, nil
}
