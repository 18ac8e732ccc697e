package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"assetledger/internal/config"
	"assetledger/internal/ledger"
	"assetledger/internal/metrics"
	"assetledger/internal/model"
	"assetledger/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	AdjustModeDelta      = "delta"
	AdjustModeSetBalance = "set_balance"
)

type WalletService struct {
	base
	walletRepo   *repository.WalletRepository
	customerRepo *repository.CustomerRepository
}

func NewWalletService(db *gorm.DB, cfg *config.Config, opts Options) *WalletService {
	return &WalletService{
		base:         newBase(db, cfg, opts, "WalletService"),
		walletRepo:   repository.NewWalletRepository(db),
		customerRepo: repository.NewCustomerRepository(db),
	}
}

// WalletChange 一次余额变动，Delta 正数入账、负数出账
type WalletChange struct {
	CustomerID     int64
	Delta          decimal.Decimal
	ChangeType     string
	RelatedOrderID string
	OperatorID     int64
	Note           string
}

type WalletChangeResult struct {
	Before decimal.Decimal `json:"before"`
	After  decimal.Decimal `json:"after"`
}

type RechargeRequest struct {
	CustomerID     int64           `json:"customer_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	RelatedOrderID string          `json:"related_order_id"`
	OperatorID     int64           `json:"operator_id"`
	Note           string          `json:"note"`
}

type AdjustWalletRequest struct {
	CustomerID int64           `json:"customer_id" binding:"required"`
	Mode       string          `json:"mode" binding:"required"`
	Amount     decimal.Decimal `json:"amount"`
	OperatorID int64           `json:"operator_id"`
	Note       string          `json:"note"`
}

type WalletSummary struct {
	CustomerID    int64           `json:"customer_id"`
	Balance       decimal.Decimal `json:"balance"`
	TotalRecharge decimal.Decimal `json:"total_recharge"`
	TotalGift     decimal.Decimal `json:"total_gift"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
}

var walletChangeTypes = map[string]bool{
	model.WalletChangeRecharge: true,
	model.WalletChangeGift:     true,
	model.WalletChangeDeduct:   true,
	model.WalletChangeAdjust:   true,
	model.WalletChangeRefund:   true,
}

// Change 在调用方的事务里改动余额，并写一条钱包流水
// 余额不足返回 InsufficientAsset，钱包不存在时按零余额创建
func (s *WalletService) Change(ctx context.Context, tx *gorm.DB, c WalletChange) (*WalletChangeResult, error) {
	if !walletChangeTypes[c.ChangeType] {
		return nil, validationf("不支持的变动类型: %s", c.ChangeType)
	}
	return s.apply(ctx, tx, c, func(decimal.Decimal) (decimal.Decimal, error) {
		return c.Delta, nil
	})
}

// apply 锁定钱包后由 deltaFn 根据当前余额算出变动额
func (s *WalletService) apply(ctx context.Context, tx *gorm.DB, c WalletChange, deltaFn func(current decimal.Decimal) (decimal.Decimal, error)) (*WalletChangeResult, error) {
	var delta decimal.Decimal

	before, after, err := ledger.Apply(tx, ledger.Mutation[model.Wallet]{
		Lock: func(tx *gorm.DB) (*model.Wallet, error) {
			return s.walletRepo.GetOrCreateForUpdate(ctx, tx, c.CustomerID)
		},
		Mutate: func(w *model.Wallet) error {
			d, err := deltaFn(w.Balance)
			if err != nil {
				return err
			}
			delta = d

			next := w.Balance.Add(delta)
			if next.IsNegative() {
				return insufficientf("余额不足: 当前余额 %s, 需扣减 %s", w.Balance.StringFixed(2), delta.Neg().StringFixed(2))
			}
			w.Balance = next

			switch {
			case c.ChangeType == model.WalletChangeRecharge && delta.IsPositive():
				w.TotalRecharge = w.TotalRecharge.Add(delta)
			case c.ChangeType == model.WalletChangeGift && delta.IsPositive():
				w.TotalGift = w.TotalGift.Add(delta)
			case c.ChangeType == model.WalletChangeDeduct && delta.IsNegative():
				w.TotalSpent = w.TotalSpent.Add(delta.Abs())
			case c.ChangeType == model.WalletChangeRefund && delta.IsPositive():
				w.TotalSpent = decimal.Max(decimal.Zero, w.TotalSpent.Sub(delta))
			}
			return nil
		},
		Save: func(tx *gorm.DB, w *model.Wallet) error {
			return s.walletRepo.Save(ctx, tx, w)
		},
		Log: func(tx *gorm.DB, before, after *model.Wallet) error {
			return s.walletRepo.CreateLog(ctx, tx, &model.WalletLog{
				CustomerID:     c.CustomerID,
				ChangeType:     c.ChangeType,
				Delta:          delta,
				BalanceBefore:  before.Balance,
				BalanceAfter:   after.Balance,
				RelatedOrderID: c.RelatedOrderID,
				OperatorID:     c.OperatorID,
				Note:           c.Note,
			})
		},
	})
	if err != nil {
		return nil, translate(err, "钱包变动失败")
	}
	return &WalletChangeResult{Before: before.Balance, After: after.Balance}, nil
}

// Recharge 充值，独立事务
func (s *WalletService) Recharge(ctx context.Context, req *RechargeRequest) (*WalletChangeResult, error) {
	return s.credit(ctx, req, model.WalletChangeRecharge, model.AuditWalletRecharge, "recharge")
}

// Gift 赠送余额，独立事务
func (s *WalletService) Gift(ctx context.Context, req *RechargeRequest) (*WalletChangeResult, error) {
	return s.credit(ctx, req, model.WalletChangeGift, model.AuditWalletGift, "gift")
}

func (s *WalletService) credit(ctx context.Context, req *RechargeRequest, changeType, auditCode, op string) (result *WalletChangeResult, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("wallet_"+op, start, err) }()

	if !req.Amount.IsPositive() {
		return nil, validationf("金额必须大于0")
	}

	err = s.withCustomerLock(ctx, []int64{req.CustomerID}, func() error {
		return s.transaction(ctx, func(tx *gorm.DB) error {
			if _, err := s.customerRepo.GetByID(ctx, tx, req.CustomerID); err != nil {
				return translate(err, "查询顾客失败")
			}

			res, err := s.Change(ctx, tx, WalletChange{
				CustomerID:     req.CustomerID,
				Delta:          req.Amount,
				ChangeType:     changeType,
				RelatedOrderID: req.RelatedOrderID,
				OperatorID:     req.OperatorID,
				Note:           req.Note,
			})
			if err != nil {
				return err
			}
			result = res

			return s.auditor.Log(ctx, tx, AuditEntry{
				OperatorID:  req.OperatorID,
				ActionCode:  auditCode,
				EntityType:  "customer_wallet",
				EntityID:    strconv.FormatInt(req.CustomerID, 10),
				Description: fmt.Sprintf("%s %s", changeType, req.Amount.StringFixed(2)),
				Details: map[string]interface{}{
					"amount":         req.Amount.StringFixed(2),
					"balance_before": res.Before.StringFixed(2),
					"balance_after":  res.After.StringFixed(2),
				},
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, req.CustomerID)
	s.logger.Info().
		Int64("customer_id", req.CustomerID).
		Str("change_type", changeType).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("余额入账成功")
	return result, nil
}

// Adjust 后台调整余额，delta 模式直接加减，set_balance 模式按目标余额反推变动额
// 两种模式都记为 adjust 流水
func (s *WalletService) Adjust(ctx context.Context, req *AdjustWalletRequest) (result *WalletChangeResult, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("wallet_adjust", start, err) }()

	var deltaFn func(current decimal.Decimal) (decimal.Decimal, error)
	switch req.Mode {
	case AdjustModeDelta:
		if req.Amount.IsZero() {
			return nil, validationf("调整金额不能为0")
		}
		deltaFn = func(decimal.Decimal) (decimal.Decimal, error) { return req.Amount, nil }
	case AdjustModeSetBalance:
		if req.Amount.IsNegative() {
			return nil, validationf("目标余额不能为负数")
		}
		deltaFn = func(current decimal.Decimal) (decimal.Decimal, error) { return req.Amount.Sub(current), nil }
	default:
		return nil, validationf("不支持的调整模式: %s", req.Mode)
	}

	err = s.withCustomerLock(ctx, []int64{req.CustomerID}, func() error {
		return s.transaction(ctx, func(tx *gorm.DB) error {
			if _, err := s.customerRepo.GetByID(ctx, tx, req.CustomerID); err != nil {
				return translate(err, "查询顾客失败")
			}

			res, err := s.apply(ctx, tx, WalletChange{
				CustomerID: req.CustomerID,
				ChangeType: model.WalletChangeAdjust,
				OperatorID: req.OperatorID,
				Note:       req.Note,
			}, deltaFn)
			if err != nil {
				return err
			}
			result = res

			return s.auditor.Log(ctx, tx, AuditEntry{
				OperatorID:  req.OperatorID,
				ActionCode:  model.AuditWalletAdjust,
				EntityType:  "customer_wallet",
				EntityID:    strconv.FormatInt(req.CustomerID, 10),
				Description: fmt.Sprintf("余额调整 %s -> %s", res.Before.StringFixed(2), res.After.StringFixed(2)),
				Details: map[string]interface{}{
					"mode":           req.Mode,
					"amount":         req.Amount.StringFixed(2),
					"balance_before": res.Before.StringFixed(2),
					"balance_after":  res.After.StringFixed(2),
				},
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, req.CustomerID)
	return result, nil
}

// Balance 查询钱包，从未使用过的顾客返回零余额，不会创建钱包
func (s *WalletService) Balance(ctx context.Context, customerID int64) (*WalletSummary, error) {
	wallet, err := s.walletRepo.GetByCustomerID(ctx, nil, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return &WalletSummary{CustomerID: customerID}, nil
		}
		return nil, fmt.Errorf("查询钱包失败: %w", err)
	}
	return &WalletSummary{
		CustomerID:    customerID,
		Balance:       wallet.Balance,
		TotalRecharge: wallet.TotalRecharge,
		TotalGift:     wallet.TotalGift,
		TotalSpent:    wallet.TotalSpent,
	}, nil
}

func (s *WalletService) Logs(ctx context.Context, customerID int64, page, pageSize int) ([]*model.WalletLog, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.walletRepo.ListLogs(ctx, customerID, page, pageSize)
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
