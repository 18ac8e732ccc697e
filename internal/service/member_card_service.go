package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"assetledger/internal/config"
	"assetledger/internal/ledger"
	"assetledger/internal/metrics"
	"assetledger/internal/model"
	"assetledger/internal/repository"
	"assetledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	CardAdjustSetRemaining  = "set_remaining"
	CardAdjustDeltaSessions = "delta_sessions"
)

type MemberCardService struct {
	base
	cardRepo     *repository.MemberCardRepository
	customerRepo *repository.CustomerRepository
	wallet       *WalletService
}

func NewMemberCardService(db *gorm.DB, cfg *config.Config, opts Options, wallet *WalletService) *MemberCardService {
	return &MemberCardService{
		base:         newBase(db, cfg, opts, "MemberCardService"),
		cardRepo:     repository.NewMemberCardRepository(db),
		customerRepo: repository.NewCustomerRepository(db),
		wallet:       wallet,
	}
}

type OpenCardRequest struct {
	CustomerID    int64             `json:"customer_id" binding:"required"`
	StoreID       int64             `json:"store_id"`
	Package       model.CardPackage `json:"package" binding:"required"`
	SoldPrice     decimal.Decimal   `json:"sold_price"`
	PayFromWallet bool              `json:"pay_from_wallet"` // 售价从储值余额扣除
	OperatorID    int64             `json:"operator_id"`
	Note          string            `json:"note"`
}

// CardUsage 结算时对一张会员卡的扣次
type CardUsage struct {
	CardID   int64 `json:"card_id"`
	Sessions int   `json:"sessions"`
}

type AdjustCardRequest struct {
	CardID      int64  `json:"card_id" binding:"required"`
	Mode        string `json:"mode" binding:"required"`
	Value       int    `json:"value"`
	NewTotal    *int   `json:"new_total"`
	ForceStatus string `json:"force_status"`
	OperatorID  int64  `json:"operator_id"`
	Note        string `json:"note"`
}

// ============================================================================
// 开卡
// ============================================================================

// Open 售卡或赠卡，剩余次数等于总次数
func (s *MemberCardService) Open(ctx context.Context, req *OpenCardRequest) (card *model.MemberCard, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("card_open", start, err) }()

	if req.Package.Name == "" {
		return nil, validationf("套餐名称不能为空")
	}
	if req.Package.TotalSessions <= 0 {
		return nil, validationf("总次数必须大于0")
	}
	if req.Package.ValidDays < 0 {
		return nil, validationf("有效天数不能为负数")
	}
	if req.SoldPrice.IsNegative() {
		return nil, validationf("售价不能为负数")
	}

	err = s.withCustomerLock(ctx, []int64{req.CustomerID}, func() error {
		return s.transaction(ctx, func(tx *gorm.DB) error {
			customer, err := s.customerRepo.GetByID(ctx, tx, req.CustomerID)
			if err != nil {
				return translate(err, "查询顾客失败")
			}

			storeID := req.StoreID
			if storeID == 0 {
				storeID = customer.StoreID
			}
			card = &model.MemberCard{
				CardNo:            idgen.GenerateCardNo(),
				CustomerID:        customer.ID,
				StoreID:           storeID,
				PackageName:       req.Package.Name,
				TotalSessions:     req.Package.TotalSessions,
				RemainingSessions: req.Package.TotalSessions,
				SoldPrice:         req.SoldPrice,
				Status:            model.CardStatusActive,
				ExpireAt:          expireAfter(s.now(), req.Package.ValidDays),
				OperatorID:        req.OperatorID,
				Note:              req.Note,
			}
			if err := s.cardRepo.Create(ctx, tx, card); err != nil {
				return fmt.Errorf("创建会员卡失败: %w", err)
			}

			err = s.cardRepo.CreateLog(ctx, tx, &model.MemberCardLog{
				CardID:         card.ID,
				CustomerID:     customer.ID,
				RelatedOrderID: card.CardNo,
				ActionType:     model.CardActionOpen,
				DeltaSessions:  card.TotalSessions,
				SessionsBefore: 0,
				SessionsAfter:  card.TotalSessions,
				OperatorID:     req.OperatorID,
				Note:           req.Note,
			})
			if err != nil {
				return fmt.Errorf("记录会员卡流水失败: %w", err)
			}

			if req.PayFromWallet && req.SoldPrice.IsPositive() {
				_, err := s.wallet.Change(ctx, tx, WalletChange{
					CustomerID:     customer.ID,
					Delta:          req.SoldPrice.Neg(),
					ChangeType:     model.WalletChangeDeduct,
					RelatedOrderID: card.CardNo,
					OperatorID:     req.OperatorID,
					Note:           "购卡 " + card.PackageName,
				})
				if err != nil {
					return err
				}
			}

			return s.auditor.Log(ctx, tx, AuditEntry{
				OperatorID:  req.OperatorID,
				ActionCode:  model.AuditCardOpen,
				EntityType:  "member_card",
				EntityID:    strconv.FormatInt(card.ID, 10),
				Description: fmt.Sprintf("开卡 %s %d 次", card.PackageName, card.TotalSessions),
				Details: map[string]interface{}{
					"customer_id":     customer.ID,
					"card_no":         card.CardNo,
					"sold_price":      req.SoldPrice.StringFixed(2),
					"pay_from_wallet": req.PayFromWallet,
				},
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, req.CustomerID)
	s.logger.Info().Int64("customer_id", req.CustomerID).Str("card_no", card.CardNo).Msg("开卡成功")
	return card, nil
}

// ============================================================================
// 扣次 / 恢复
// ============================================================================

// Consume 在调用方的事务里扣次，返回本次扣次快照
func (s *MemberCardService) Consume(ctx context.Context, tx *gorm.DB, cardID, customerID int64, sessions int, relatedOrderID string, operatorID int64, note string) (*model.CardUsageSnapshot, error) {
	if sessions <= 0 {
		return nil, validationf("会员卡 %d 扣次数必须大于0", cardID)
	}
	now := s.now()

	before, after, err := ledger.Apply(tx, ledger.Mutation[model.MemberCard]{
		Lock: func(tx *gorm.DB) (*model.MemberCard, error) {
			return s.cardRepo.GetByIDForUpdate(ctx, tx, cardID)
		},
		Mutate: func(c *model.MemberCard) error {
			if c.CustomerID != customerID {
				return conflictf("会员卡 %s 不属于该顾客", c.CardNo)
			}
			if !c.Consumable(now) {
				status := c.EffectiveStatus(now)
				if status == model.CardStatusExpired {
					return conflictf("会员卡 %s 已过期", c.CardNo)
				}
				return conflictf("会员卡 %s 当前状态 %s 不可扣次", c.CardNo, status)
			}
			if c.RemainingSessions < sessions {
				return insufficientf("会员卡 %s 剩余次数不足: 剩余 %d, 需要 %d", c.CardNo, c.RemainingSessions, sessions)
			}
			c.RemainingSessions -= sessions
			c.Status = model.CardStatusFor(c.Status, c.RemainingSessions)
			return nil
		},
		Save: func(tx *gorm.DB, c *model.MemberCard) error {
			return s.cardRepo.Save(ctx, tx, c)
		},
		Log: func(tx *gorm.DB, before, after *model.MemberCard) error {
			return s.cardRepo.CreateLog(ctx, tx, &model.MemberCardLog{
				CardID:         after.ID,
				CustomerID:     customerID,
				RelatedOrderID: relatedOrderID,
				ActionType:     model.CardActionConsume,
				DeltaSessions:  -sessions,
				SessionsBefore: before.RemainingSessions,
				SessionsAfter:  after.RemainingSessions,
				OperatorID:     operatorID,
				Note:           note,
			})
		},
	})
	if err != nil {
		return nil, translate(err, "会员卡扣次失败")
	}

	return &model.CardUsageSnapshot{
		CardID:         after.ID,
		CardNo:         after.CardNo,
		PackageName:    after.PackageName,
		Sessions:       sessions,
		SessionsBefore: before.RemainingSessions,
		SessionsAfter:  after.RemainingSessions,
	}, nil
}

// Restore 归还次数，剩余次数不超过总次数；action 为 rollback 或 restore
func (s *MemberCardService) Restore(ctx context.Context, tx *gorm.DB, cardID int64, sessions int, action, relatedOrderID string, operatorID int64, note string) (before, after model.MemberCard, err error) {
	return s.shift(ctx, tx, cardID, sessions, action, relatedOrderID, operatorID, note)
}

// shift 按 delta 平移剩余次数并截断到 [0, total]，流水记录实际变化量
func (s *MemberCardService) shift(ctx context.Context, tx *gorm.DB, cardID int64, delta int, action, relatedOrderID string, operatorID int64, note string) (model.MemberCard, model.MemberCard, error) {
	before, after, err := ledger.Apply(tx, ledger.Mutation[model.MemberCard]{
		Lock: func(tx *gorm.DB) (*model.MemberCard, error) {
			return s.cardRepo.GetByIDForUpdate(ctx, tx, cardID)
		},
		Mutate: func(c *model.MemberCard) error {
			c.RemainingSessions = model.ClampSessions(c.RemainingSessions+delta, c.TotalSessions)
			c.Status = model.CardStatusFor(c.Status, c.RemainingSessions)
			return nil
		},
		Save: func(tx *gorm.DB, c *model.MemberCard) error {
			return s.cardRepo.Save(ctx, tx, c)
		},
		Log: func(tx *gorm.DB, before, after *model.MemberCard) error {
			return s.cardRepo.CreateLog(ctx, tx, &model.MemberCardLog{
				CardID:         after.ID,
				CustomerID:     after.CustomerID,
				RelatedOrderID: relatedOrderID,
				ActionType:     action,
				DeltaSessions:  after.RemainingSessions - before.RemainingSessions,
				SessionsBefore: before.RemainingSessions,
				SessionsAfter:  after.RemainingSessions,
				OperatorID:     operatorID,
				Note:           note,
			})
		},
	})
	if err != nil {
		return before, after, translate(err, "会员卡次数变更失败")
	}
	return before, after, nil
}

// ============================================================================
// 后台调整 / 过期
// ============================================================================

// Adjust 后台调整次数，剩余次数截断到 [0, total]；ForceStatus 为空时按次数推导状态
func (s *MemberCardService) Adjust(ctx context.Context, req *AdjustCardRequest) (card *model.MemberCard, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("card_adjust", start, err) }()

	if req.Mode != CardAdjustSetRemaining && req.Mode != CardAdjustDeltaSessions {
		return nil, validationf("不支持的调整模式: %s", req.Mode)
	}
	if req.NewTotal != nil && *req.NewTotal <= 0 {
		return nil, validationf("总次数必须大于0")
	}
	if req.ForceStatus != "" && !model.ValidCardStatus(req.ForceStatus) {
		return nil, validationf("不支持的会员卡状态: %s", req.ForceStatus)
	}

	err = s.transaction(ctx, func(tx *gorm.DB) error {
		before, after, err := ledger.Apply(tx, ledger.Mutation[model.MemberCard]{
			Lock: func(tx *gorm.DB) (*model.MemberCard, error) {
				return s.cardRepo.GetByIDForUpdate(ctx, tx, req.CardID)
			},
			Mutate: func(c *model.MemberCard) error {
				if req.NewTotal != nil {
					c.TotalSessions = *req.NewTotal
				}
				remaining := req.Value
				if req.Mode == CardAdjustDeltaSessions {
					remaining = c.RemainingSessions + req.Value
				}
				c.RemainingSessions = model.ClampSessions(remaining, c.TotalSessions)

				if req.ForceStatus != "" {
					if !model.CheckCardState(req.ForceStatus, c.RemainingSessions, c.TotalSessions) {
						return validationf("状态 %s 与剩余次数 %d 不符", req.ForceStatus, c.RemainingSessions)
					}
					c.Status = req.ForceStatus
					return nil
				}
				c.Status = model.CardStatusFor(c.Status, c.RemainingSessions)
				return nil
			},
			Save: func(tx *gorm.DB, c *model.MemberCard) error {
				return s.cardRepo.Save(ctx, tx, c)
			},
			Log: func(tx *gorm.DB, before, after *model.MemberCard) error {
				return s.cardRepo.CreateLog(ctx, tx, &model.MemberCardLog{
					CardID:         after.ID,
					CustomerID:     after.CustomerID,
					ActionType:     model.CardActionAdjust,
					DeltaSessions:  after.RemainingSessions - before.RemainingSessions,
					SessionsBefore: before.RemainingSessions,
					SessionsAfter:  after.RemainingSessions,
					OperatorID:     req.OperatorID,
					Note:           req.Note,
				})
			},
		})
		if err != nil {
			return translate(err, "调整会员卡失败")
		}
		card = &after

		return s.auditor.Log(ctx, tx, AuditEntry{
			OperatorID:  req.OperatorID,
			ActionCode:  model.AuditCardAdjust,
			EntityType:  "member_card",
			EntityID:    strconv.FormatInt(after.ID, 10),
			Description: fmt.Sprintf("会员卡次数调整 %d/%d -> %d/%d", before.RemainingSessions, before.TotalSessions, after.RemainingSessions, after.TotalSessions),
			Details: map[string]interface{}{
				"mode":          req.Mode,
				"value":         req.Value,
				"status_before": before.Status,
				"status_after":  after.Status,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, card.CustomerID)
	return card, nil
}

// ExpireOverdue 把已过期的 active / depleted 卡标记为 expired
func (s *MemberCardService) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	now := s.now()
	ids, err := s.cardRepo.ListOverdueIDs(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("查询过期会员卡失败: %w", err)
	}

	expired := 0
	for _, id := range ids {
		var customerID int64
		changed := false
		err := s.transaction(ctx, func(tx *gorm.DB) error {
			_, after, err := ledger.Apply(tx, ledger.Mutation[model.MemberCard]{
				Lock: func(tx *gorm.DB) (*model.MemberCard, error) {
					return s.cardRepo.GetByIDForUpdate(ctx, tx, id)
				},
				Mutate: func(c *model.MemberCard) error {
					if c.Status != model.CardStatusActive && c.Status != model.CardStatusDepleted {
						return nil
					}
					if !model.IsExpired(c.ExpireAt, now) {
						return nil
					}
					c.Status = model.CardStatusExpired
					changed = true
					return nil
				},
				Save: func(tx *gorm.DB, c *model.MemberCard) error {
					if !changed {
						return nil
					}
					return s.cardRepo.Save(ctx, tx, c)
				},
				Log: func(tx *gorm.DB, before, after *model.MemberCard) error {
					if !changed {
						return nil
					}
					return s.cardRepo.CreateLog(ctx, tx, &model.MemberCardLog{
						CardID:         after.ID,
						CustomerID:     after.CustomerID,
						ActionType:     model.CardActionExpire,
						SessionsBefore: before.RemainingSessions,
						SessionsAfter:  after.RemainingSessions,
						Note:           "到期自动失效",
					})
				},
			})
			customerID = after.CustomerID
			return err
		})
		if err != nil {
			s.logger.Error().Err(err).Int64("card_id", id).Msg("会员卡过期处理失败")
			continue
		}
		if changed {
			expired++
			s.invalidate(ctx, customerID)
		}
	}
	return expired, nil
}

// ============================================================================
// 查询
// ============================================================================

// Get 查询会员卡，状态按当前时间给出
func (s *MemberCardService) Get(ctx context.Context, cardID int64) (*model.MemberCard, error) {
	card, err := s.cardRepo.GetByID(ctx, nil, cardID)
	if err != nil {
		return nil, translate(err, "查询会员卡失败")
	}
	card.Status = card.EffectiveStatus(s.now())
	return card, nil
}

func (s *MemberCardService) ListByCustomer(ctx context.Context, customerID int64, status string) ([]*model.MemberCard, error) {
	now := s.now()
	cards, err := s.cardRepo.ListByCustomer(ctx, customerID, status, now)
	if err != nil {
		return nil, err
	}
	for _, c := range cards {
		c.Status = c.EffectiveStatus(now)
	}
	return cards, nil
}

func (s *MemberCardService) Logs(ctx context.Context, cardID int64) ([]*model.MemberCardLog, error) {
	return s.cardRepo.ListLogs(ctx, nil, cardID)
}
