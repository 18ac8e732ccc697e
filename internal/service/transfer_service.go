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

	"gorm.io/gorm"
)

// TransferService 券和会员卡在顾客之间转赠
// 只锁源资产行，目标顾客只读校验存在；剩余次数原样带走
type TransferService struct {
	base
	customerRepo *repository.CustomerRepository
	couponRepo   *repository.CouponRepository
	cardRepo     *repository.MemberCardRepository
	transferRepo *repository.TransferRepository
}

func NewTransferService(db *gorm.DB, cfg *config.Config, opts Options) *TransferService {
	return &TransferService{
		base:         newBase(db, cfg, opts, "TransferService"),
		customerRepo: repository.NewCustomerRepository(db),
		couponRepo:   repository.NewCouponRepository(db),
		cardRepo:     repository.NewMemberCardRepository(db),
		transferRepo: repository.NewTransferRepository(db),
	}
}

type TransferRequest struct {
	AssetID        int64  `json:"asset_id" binding:"required"`
	FromCustomerID int64  `json:"from_customer_id" binding:"required"`
	ToCustomerID   int64  `json:"to_customer_id" binding:"required"`
	OperatorID     int64  `json:"operator_id"`
	Note           string `json:"note"`
}

func (r *TransferRequest) validate() error {
	if r.AssetID <= 0 || r.FromCustomerID <= 0 || r.ToCustomerID <= 0 {
		return validationf("资产和顾客不能为空")
	}
	if r.FromCustomerID == r.ToCustomerID {
		return validationf("不能转赠给自己")
	}
	return nil
}

// TransferCoupon 转赠券
func (s *TransferService) TransferCoupon(ctx context.Context, req *TransferRequest) (transfer *model.AssetTransfer, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("transfer_coupon", start, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	transferNo := idgen.GenerateTransferNo()

	err = s.withCustomerLock(ctx, []int64{req.FromCustomerID, req.ToCustomerID}, func() error {
		return s.transaction(ctx, func(tx *gorm.DB) error {
			dest, err := s.customerRepo.GetByID(ctx, tx, req.ToCustomerID)
			if err != nil {
				return translate(err, "查询目标顾客失败")
			}

			before, after, err := ledger.Apply(tx, ledger.Mutation[model.Coupon]{
				Lock: func(tx *gorm.DB) (*model.Coupon, error) {
					return s.couponRepo.GetByIDForUpdate(ctx, tx, req.AssetID)
				},
				Mutate: func(c *model.Coupon) error {
					if c.CustomerID != req.FromCustomerID {
						return conflictf("券 %s 不属于转出顾客", c.Code)
					}
					if c.Status != model.CouponStatusActive || c.RemainCount <= 0 || model.IsExpired(c.ExpireAt, now) {
						return conflictf("券 %s 当前不可转赠", c.Code)
					}
					c.CustomerID = dest.ID
					c.StoreID = dest.StoreID
					return nil
				},
				Save: func(tx *gorm.DB, c *model.Coupon) error {
					return s.couponRepo.Save(ctx, tx, c)
				},
				Log: func(tx *gorm.DB, before, after *model.Coupon) error {
					return s.couponRepo.CreateLog(ctx, tx, &model.CouponLog{
						CouponID:       after.ID,
						CustomerID:     req.FromCustomerID,
						RelatedOrderID: transferNo,
						ActionType:     model.CouponActionTransferOut,
						CountBefore:    before.RemainCount,
						CountAfter:     after.RemainCount,
						OperatorID:     req.OperatorID,
						Note:           req.Note,
					})
				},
			})
			if err != nil {
				return translate(err, "转出券失败")
			}

			err = s.couponRepo.CreateLog(ctx, tx, &model.CouponLog{
				CouponID:       after.ID,
				CustomerID:     dest.ID,
				RelatedOrderID: transferNo,
				ActionType:     model.CouponActionTransferIn,
				CountBefore:    after.RemainCount,
				CountAfter:     after.RemainCount,
				OperatorID:     req.OperatorID,
				Note:           req.Note,
			})
			if err != nil {
				return fmt.Errorf("记录券流水失败: %w", err)
			}

			transfer, err = s.record(ctx, tx, transferNo, model.AssetTypeCoupon, req, before.StoreID, dest.StoreID, model.AuditCouponTransfer)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, req.FromCustomerID, req.ToCustomerID)
	s.logger.Info().Str("transfer_no", transferNo).Int64("coupon_id", req.AssetID).
		Int64("from", req.FromCustomerID).Int64("to", req.ToCustomerID).Msg("券转赠成功")
	return transfer, nil
}

// TransferMemberCard 转赠会员卡
func (s *TransferService) TransferMemberCard(ctx context.Context, req *TransferRequest) (transfer *model.AssetTransfer, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("transfer_card", start, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	transferNo := idgen.GenerateTransferNo()

	err = s.withCustomerLock(ctx, []int64{req.FromCustomerID, req.ToCustomerID}, func() error {
		return s.transaction(ctx, func(tx *gorm.DB) error {
			dest, err := s.customerRepo.GetByID(ctx, tx, req.ToCustomerID)
			if err != nil {
				return translate(err, "查询目标顾客失败")
			}

			before, after, err := ledger.Apply(tx, ledger.Mutation[model.MemberCard]{
				Lock: func(tx *gorm.DB) (*model.MemberCard, error) {
					return s.cardRepo.GetByIDForUpdate(ctx, tx, req.AssetID)
				},
				Mutate: func(c *model.MemberCard) error {
					if c.CustomerID != req.FromCustomerID {
						return conflictf("会员卡 %s 不属于转出顾客", c.CardNo)
					}
					if c.RemainingSessions <= 0 ||
						c.Status == model.CardStatusExpired || c.Status == model.CardStatusCancelled ||
						model.IsExpired(c.ExpireAt, now) {
						return conflictf("会员卡 %s 当前不可转赠", c.CardNo)
					}
					c.CustomerID = dest.ID
					c.StoreID = dest.StoreID
					return nil
				},
				Save: func(tx *gorm.DB, c *model.MemberCard) error {
					return s.cardRepo.Save(ctx, tx, c)
				},
				Log: func(tx *gorm.DB, before, after *model.MemberCard) error {
					return s.cardRepo.CreateLog(ctx, tx, &model.MemberCardLog{
						CardID:         after.ID,
						CustomerID:     req.FromCustomerID,
						RelatedOrderID: transferNo,
						ActionType:     model.CardActionTransferOut,
						SessionsBefore: before.RemainingSessions,
						SessionsAfter:  after.RemainingSessions,
						OperatorID:     req.OperatorID,
						Note:           req.Note,
					})
				},
			})
			if err != nil {
				return translate(err, "转出会员卡失败")
			}

			err = s.cardRepo.CreateLog(ctx, tx, &model.MemberCardLog{
				CardID:         after.ID,
				CustomerID:     dest.ID,
				RelatedOrderID: transferNo,
				ActionType:     model.CardActionTransferIn,
				SessionsBefore: after.RemainingSessions,
				SessionsAfter:  after.RemainingSessions,
				OperatorID:     req.OperatorID,
				Note:           req.Note,
			})
			if err != nil {
				return fmt.Errorf("记录会员卡流水失败: %w", err)
			}

			transfer, err = s.record(ctx, tx, transferNo, model.AssetTypeMemberCard, req, before.StoreID, dest.StoreID, model.AuditCardTransfer)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, req.FromCustomerID, req.ToCustomerID)
	s.logger.Info().Str("transfer_no", transferNo).Int64("card_id", req.AssetID).
		Int64("from", req.FromCustomerID).Int64("to", req.ToCustomerID).Msg("会员卡转赠成功")
	return transfer, nil
}

// record 写转赠记录、审计和 outbox 事件
func (s *TransferService) record(ctx context.Context, tx *gorm.DB, transferNo, assetType string, req *TransferRequest, fromStoreID, toStoreID int64, auditCode string) (*model.AssetTransfer, error) {
	transfer := &model.AssetTransfer{
		TransferNo:     transferNo,
		AssetType:      assetType,
		AssetID:        req.AssetID,
		FromCustomerID: req.FromCustomerID,
		ToCustomerID:   req.ToCustomerID,
		FromStoreID:    fromStoreID,
		ToStoreID:      toStoreID,
		OperatorID:     req.OperatorID,
		Note:           req.Note,
	}
	if err := s.transferRepo.Create(ctx, tx, transfer); err != nil {
		return nil, fmt.Errorf("创建转赠记录失败: %w", err)
	}

	err := s.auditor.Log(ctx, tx, AuditEntry{
		OperatorID:  req.OperatorID,
		ActionCode:  auditCode,
		EntityType:  assetType,
		EntityID:    strconv.FormatInt(req.AssetID, 10),
		Description: fmt.Sprintf("转赠 %d -> %d", req.FromCustomerID, req.ToCustomerID),
		Details: map[string]interface{}{
			"transfer_no":   transferNo,
			"from_store_id": fromStoreID,
			"to_store_id":   toStoreID,
		},
	})
	if err != nil {
		return nil, err
	}

	err = s.publish(ctx, tx, model.EventAssetTransferred, transferNo, map[string]interface{}{
		"transfer_no":      transferNo,
		"asset_type":       assetType,
		"asset_id":         req.AssetID,
		"from_customer_id": req.FromCustomerID,
		"to_customer_id":   req.ToCustomerID,
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// ListTransfers 查询顾客转出和转入的全部记录
func (s *TransferService) ListTransfers(ctx context.Context, customerID int64) ([]*model.AssetTransfer, error) {
	return s.transferRepo.ListByCustomer(ctx, nil, customerID)
}
