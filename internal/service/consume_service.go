package service

import (
	"context"
	"fmt"
	"time"

	"assetledger/internal/config"
	"assetledger/internal/metrics"
	"assetledger/internal/model"
	"assetledger/internal/repository"
	"assetledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 消费结算
// ============================================================================
//
// 一次到店消费可以同时扣余额、核销多张券、扣多张会员卡的次数，
// 全部在一个事务里完成，任何一步失败整单回滚。
//
// 加锁顺序固定：顾客行 -> 钱包行 -> 券（按请求顺序）-> 会员卡（按请求顺序）
//
// 事务提交后执行的积分、通知等附属动作（PostSettleHook）失败不回滚结算，
// 只作为 Warnings 返回。
// ============================================================================

// PostSettleHook 结算提交后的附属动作
type PostSettleHook interface {
	Name() string
	AfterSettle(ctx context.Context, record *model.ConsumeRecord) error
}

type ConsumeService struct {
	base
	customerRepo *repository.CustomerRepository
	consumeRepo  *repository.ConsumeRecordRepository
	wallet       *WalletService
	coupons      *CouponService
	cards        *MemberCardService
	hooks        []PostSettleHook
}

func NewConsumeService(db *gorm.DB, cfg *config.Config, opts Options, wallet *WalletService, coupons *CouponService, cards *MemberCardService) *ConsumeService {
	return &ConsumeService{
		base:         newBase(db, cfg, opts, "ConsumeService"),
		customerRepo: repository.NewCustomerRepository(db),
		consumeRepo:  repository.NewConsumeRecordRepository(db),
		wallet:       wallet,
		coupons:      coupons,
		cards:        cards,
		hooks:        opts.Hooks,
	}
}

type SettleRequest struct {
	CustomerID          int64           `json:"customer_id" binding:"required"`
	ConsumeAmount       decimal.Decimal `json:"consume_amount"`
	DeductBalanceAmount decimal.Decimal `json:"deduct_balance_amount"`
	Coupons             []CouponUsage   `json:"coupons"`
	MemberCards         []CardUsage     `json:"member_cards"`
	OperatorID          int64           `json:"operator_id"`
	Note                string          `json:"note"`
}

type SettleResult struct {
	Record   *model.ConsumeRecord `json:"record"`
	Warnings []string             `json:"warnings,omitempty"`
}

// AmendRecordRequest 金额字段只用于比对，与原值不同即拒绝
type AmendRecordRequest struct {
	ConsumeNo           string           `json:"consume_no" binding:"required"`
	Note                string           `json:"note"`
	ConsumeAmount       *decimal.Decimal `json:"consume_amount"`
	DeductBalanceAmount *decimal.Decimal `json:"deduct_balance_amount"`
	DeductCouponAmount  *decimal.Decimal `json:"deduct_coupon_amount"`
	DeductCardSessions  *int             `json:"deduct_member_card_sessions"`
	OperatorID          int64            `json:"operator_id"`
}

type RevokeRequest struct {
	ConsumeNo  string `json:"consume_no" binding:"required"`
	OperatorID int64  `json:"operator_id"`
	Note       string `json:"note"`
}

func (r *SettleRequest) validate() error {
	if r.CustomerID <= 0 {
		return validationf("顾客不能为空")
	}
	if r.ConsumeAmount.IsNegative() {
		return validationf("消费金额不能为负数")
	}
	if r.DeductBalanceAmount.IsNegative() {
		return validationf("余额扣款不能为负数")
	}
	for _, u := range r.Coupons {
		if u.CouponID <= 0 && u.CouponCode == "" {
			return validationf("券 ID 和券码不能同时为空")
		}
		if u.UseCount <= 0 {
			return validationf("券 %s 使用次数必须大于0", u.ref())
		}
	}
	for _, u := range r.MemberCards {
		if u.CardID <= 0 {
			return validationf("会员卡 ID 不能为空")
		}
		if u.Sessions <= 0 {
			return validationf("会员卡 %d 扣次数必须大于0", u.CardID)
		}
	}
	if !r.ConsumeAmount.IsPositive() && !r.DeductBalanceAmount.IsPositive() &&
		len(r.Coupons) == 0 && len(r.MemberCards) == 0 {
		return validationf("消费金额、余额扣款、券、会员卡至少填写一项")
	}
	return nil
}

// Settle 结算一次消费
func (s *ConsumeService) Settle(ctx context.Context, req *SettleRequest) (result *SettleResult, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("settle", start, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}

	// 单号提前生成，作为各条流水的关联单号
	consumeNo := idgen.GenerateConsumeNo()
	var record *model.ConsumeRecord

	err = s.withCustomerLock(ctx, []int64{req.CustomerID}, func() error {
		return s.transaction(ctx, func(tx *gorm.DB) error {
			rec, err := s.settleInTx(ctx, tx, consumeNo, req)
			if err != nil {
				return err
			}
			record = rec
			return nil
		})
	})
	if err != nil {
		s.logger.Warn().Err(err).Int64("customer_id", req.CustomerID).Msg("结算失败")
		return nil, err
	}

	result = &SettleResult{Record: record}
	result.Warnings = append(result.Warnings, s.invalidate(ctx, req.CustomerID)...)
	result.Warnings = append(result.Warnings, s.runHooks(ctx, record)...)

	s.logger.Info().
		Str("consume_no", record.ConsumeNo).
		Int64("customer_id", record.CustomerID).
		Str("consume_amount", record.ConsumeAmount.StringFixed(2)).
		Str("deduct_balance", record.DeductBalanceAmount.StringFixed(2)).
		Str("deduct_coupon", record.DeductCouponAmount.StringFixed(2)).
		Int("deduct_sessions", record.DeductMemberCardSessions).
		Msg("结算成功")
	return result, nil
}

func (s *ConsumeService) settleInTx(ctx context.Context, tx *gorm.DB, consumeNo string, req *SettleRequest) (*model.ConsumeRecord, error) {
	customer, err := s.customerRepo.GetByIDForUpdate(ctx, tx, req.CustomerID)
	if err != nil {
		return nil, translate(err, "锁定顾客失败")
	}

	if req.DeductBalanceAmount.IsPositive() {
		_, err := s.wallet.Change(ctx, tx, WalletChange{
			CustomerID:     customer.ID,
			Delta:          req.DeductBalanceAmount.Neg(),
			ChangeType:     model.WalletChangeDeduct,
			RelatedOrderID: consumeNo,
			OperatorID:     req.OperatorID,
			Note:           req.Note,
		})
		if err != nil {
			return nil, err
		}
	}

	couponDeduct := decimal.Zero
	couponUsages := make([]model.CouponUsageSnapshot, 0, len(req.Coupons))
	for _, usage := range req.Coupons {
		snap, err := s.coupons.Consume(ctx, tx, usage, customer.ID, consumeNo, req.OperatorID, req.Note)
		if err != nil {
			return nil, err
		}
		couponDeduct = couponDeduct.Add(snap.DeductAmount)
		couponUsages = append(couponUsages, *snap)
	}

	sessions := 0
	cardUsages := make([]model.CardUsageSnapshot, 0, len(req.MemberCards))
	for _, usage := range req.MemberCards {
		snap, err := s.cards.Consume(ctx, tx, usage.CardID, customer.ID, usage.Sessions, consumeNo, req.OperatorID, req.Note)
		if err != nil {
			return nil, err
		}
		sessions += snap.Sessions
		cardUsages = append(cardUsages, *snap)
	}

	record := &model.ConsumeRecord{
		ConsumeNo:                consumeNo,
		CustomerID:               customer.ID,
		StoreID:                  customer.StoreID,
		ConsumeAmount:            req.ConsumeAmount,
		DeductBalanceAmount:      req.DeductBalanceAmount,
		DeductCouponAmount:       couponDeduct,
		DeductMemberCardSessions: sessions,
		CouponUsages:             couponUsages,
		MemberCardUsages:         cardUsages,
		OperatorID:               req.OperatorID,
		Note:                     req.Note,
	}
	if err := s.consumeRepo.Create(ctx, tx, record); err != nil {
		return nil, fmt.Errorf("创建消费单失败: %w", err)
	}

	now := s.now()
	visitCount := customer.VisitCount
	if req.ConsumeAmount.IsPositive() {
		visitCount++
	}
	err = s.customerRepo.UpdateVisitStats(ctx, tx, customer.ID, customer.TotalSpent.Add(req.ConsumeAmount), visitCount, &now)
	if err != nil {
		return nil, fmt.Errorf("更新顾客消费汇总失败: %w", err)
	}

	err = s.auditor.Log(ctx, tx, AuditEntry{
		OperatorID:  req.OperatorID,
		ActionCode:  model.AuditConsumeSettle,
		EntityType:  "consume_record",
		EntityID:    consumeNo,
		Description: fmt.Sprintf("消费结算 %s", req.ConsumeAmount.StringFixed(2)),
		Details: map[string]interface{}{
			"customer_id":       customer.ID,
			"consume_amount":    req.ConsumeAmount.StringFixed(2),
			"deduct_balance":    req.DeductBalanceAmount.StringFixed(2),
			"deduct_coupon":     couponDeduct.StringFixed(2),
			"deduct_sessions":   sessions,
			"coupon_count":      len(couponUsages),
			"member_card_count": len(cardUsages),
		},
	})
	if err != nil {
		return nil, err
	}

	err = s.publish(ctx, tx, model.EventConsumeSettled, consumeNo, map[string]interface{}{
		"consume_no":      consumeNo,
		"customer_id":     customer.ID,
		"store_id":        customer.StoreID,
		"consume_amount":  req.ConsumeAmount.StringFixed(2),
		"deduct_balance":  req.DeductBalanceAmount.StringFixed(2),
		"deduct_coupon":   couponDeduct.StringFixed(2),
		"deduct_sessions": sessions,
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// runHooks 依次执行附属动作，出错只收集告警
func (s *ConsumeService) runHooks(ctx context.Context, record *model.ConsumeRecord) []string {
	var warnings []string
	for _, hook := range s.hooks {
		if err := hook.AfterSettle(ctx, record); err != nil {
			s.logger.Warn().Err(err).Str("hook", hook.Name()).Str("consume_no", record.ConsumeNo).Msg("结算附属动作失败")
			warnings = append(warnings, fmt.Sprintf("%s: %v", hook.Name(), err))
		}
	}
	return warnings
}

// ============================================================================
// 更正 / 撤销
// ============================================================================

// AmendRecord 只允许修改备注，金额类字段有任何变化都返回 Conflict
func (s *ConsumeService) AmendRecord(ctx context.Context, req *AmendRecordRequest) (*model.ConsumeRecord, error) {
	var record *model.ConsumeRecord
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		rec, err := s.consumeRepo.GetByConsumeNoForUpdate(ctx, tx, req.ConsumeNo)
		if err != nil {
			return translate(err, "查询消费单失败")
		}

		changed := (req.ConsumeAmount != nil && !req.ConsumeAmount.Equal(rec.ConsumeAmount)) ||
			(req.DeductBalanceAmount != nil && !req.DeductBalanceAmount.Equal(rec.DeductBalanceAmount)) ||
			(req.DeductCouponAmount != nil && !req.DeductCouponAmount.Equal(rec.DeductCouponAmount)) ||
			(req.DeductCardSessions != nil && *req.DeductCardSessions != rec.DeductMemberCardSessions)
		if changed {
			return conflictf("消费单 %s 金额不可修改，请撤销后重新结算", rec.ConsumeNo)
		}

		oldNote := rec.Note
		if err := s.consumeRepo.UpdateNote(ctx, tx, rec.ID, req.Note); err != nil {
			return fmt.Errorf("更新消费单备注失败: %w", err)
		}
		rec.Note = req.Note
		record = rec

		return s.auditor.Log(ctx, tx, AuditEntry{
			OperatorID:  req.OperatorID,
			ActionCode:  model.AuditConsumeAmend,
			EntityType:  "consume_record",
			EntityID:    rec.ConsumeNo,
			Description: "修改消费单备注",
			Details:     map[string]interface{}{"note_before": oldNote, "note_after": req.Note},
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Revoke 撤销一张消费单：退回余额、恢复券和会员卡次数、冲减顾客累计消费
// 原单只打撤销标记，不改金额；同一张单只能撤销一次
func (s *ConsumeService) Revoke(ctx context.Context, req *RevokeRequest) (record *model.ConsumeRecord, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("revoke", start, err) }()

	existing, err := s.consumeRepo.GetByConsumeNo(ctx, nil, req.ConsumeNo)
	if err != nil {
		return nil, translate(err, "查询消费单失败")
	}

	err = s.withCustomerLock(ctx, []int64{existing.CustomerID}, func() error {
		return s.transaction(ctx, func(tx *gorm.DB) error {
			customer, err := s.customerRepo.GetByIDForUpdate(ctx, tx, existing.CustomerID)
			if err != nil {
				return translate(err, "锁定顾客失败")
			}
			rec, err := s.consumeRepo.GetByConsumeNoForUpdate(ctx, tx, req.ConsumeNo)
			if err != nil {
				return translate(err, "锁定消费单失败")
			}
			if rec.Revoked() {
				return conflictf("消费单 %s 已撤销", rec.ConsumeNo)
			}

			note := "撤销消费 " + rec.ConsumeNo
			if rec.DeductBalanceAmount.IsPositive() {
				_, err := s.wallet.Change(ctx, tx, WalletChange{
					CustomerID:     rec.CustomerID,
					Delta:          rec.DeductBalanceAmount,
					ChangeType:     model.WalletChangeRefund,
					RelatedOrderID: rec.ConsumeNo,
					OperatorID:     req.OperatorID,
					Note:           note,
				})
				if err != nil {
					return err
				}
			}
			for _, usage := range rec.CouponUsages {
				if err := s.coupons.Restore(ctx, tx, usage.CouponID, usage.UseCount, rec.ConsumeNo, req.OperatorID, note); err != nil {
					return err
				}
			}
			for _, usage := range rec.MemberCardUsages {
				if _, _, err := s.cards.Restore(ctx, tx, usage.CardID, usage.Sessions, model.CardActionRestore, rec.ConsumeNo, req.OperatorID, note); err != nil {
					return err
				}
			}

			totalSpent := decimal.Max(decimal.Zero, customer.TotalSpent.Sub(rec.ConsumeAmount))
			if err := s.customerRepo.UpdateVisitStats(ctx, tx, customer.ID, totalSpent, customer.VisitCount, nil); err != nil {
				return fmt.Errorf("更新顾客消费汇总失败: %w", err)
			}

			now := s.now()
			if err := s.consumeRepo.MarkRevoked(ctx, tx, rec.ID, req.OperatorID, req.Note, now); err != nil {
				return translate(err, "标记消费单撤销失败")
			}
			rec.RevokedAt = &now
			rec.RevokedBy = req.OperatorID
			rec.RevokeNote = req.Note
			record = rec

			err = s.auditor.Log(ctx, tx, AuditEntry{
				OperatorID:  req.OperatorID,
				ActionCode:  model.AuditConsumeRevoke,
				EntityType:  "consume_record",
				EntityID:    rec.ConsumeNo,
				Description: note,
				Details: map[string]interface{}{
					"refund_balance":   rec.DeductBalanceAmount.StringFixed(2),
					"restored_coupons": len(rec.CouponUsages),
					"restored_cards":   len(rec.MemberCardUsages),
					"note":             req.Note,
				},
			})
			if err != nil {
				return err
			}

			return s.publish(ctx, tx, model.EventConsumeRevoked, rec.ConsumeNo, map[string]interface{}{
				"consume_no":  rec.ConsumeNo,
				"customer_id": rec.CustomerID,
				"store_id":    rec.StoreID,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, record.CustomerID)
	s.logger.Info().Str("consume_no", record.ConsumeNo).Int64("operator_id", req.OperatorID).Msg("消费单已撤销")
	return record, nil
}

// ============================================================================
// 查询
// ============================================================================

func (s *ConsumeService) Get(ctx context.Context, consumeNo string) (*model.ConsumeRecord, error) {
	record, err := s.consumeRepo.GetByConsumeNo(ctx, nil, consumeNo)
	if err != nil {
		return nil, translate(err, "查询消费单失败")
	}
	return record, nil
}

func (s *ConsumeService) List(ctx context.Context, customerID int64, page, pageSize int) ([]*model.ConsumeRecord, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.consumeRepo.ListByCustomer(ctx, customerID, page, pageSize)
}
