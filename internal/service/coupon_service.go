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
	CouponAdjustSetRemaining = "set_remaining"
	CouponAdjustDeltaCount   = "delta_count"
)

type CouponService struct {
	base
	couponRepo   *repository.CouponRepository
	customerRepo *repository.CustomerRepository
}

func NewCouponService(db *gorm.DB, cfg *config.Config, opts Options) *CouponService {
	return &CouponService{
		base:         newBase(db, cfg, opts, "CouponService"),
		couponRepo:   repository.NewCouponRepository(db),
		customerRepo: repository.NewCustomerRepository(db),
	}
}

type IssueCouponRequest struct {
	CustomerID    int64                `json:"customer_id" binding:"required"`
	StoreID       int64                `json:"store_id"` // 为 0 时取顾客所属门店
	Template      model.CouponTemplate `json:"template" binding:"required"`
	OperatorID    int64                `json:"operator_id"`
	Source        string               `json:"source"`
	ReferenceType string               `json:"reference_type"`
	Note          string               `json:"note"`
}

type IssueBatchRequest struct {
	CustomerIDs   []int64              `json:"customer_ids" binding:"required"`
	StoreID       int64                `json:"store_id"`
	Template      model.CouponTemplate `json:"template" binding:"required"`
	OperatorID    int64                `json:"operator_id"`
	ReferenceType string               `json:"reference_type"`
	Note          string               `json:"note"`
}

type IssuedCoupon struct {
	CouponID   int64  `json:"coupon_id"`
	CustomerID int64  `json:"customer_id"`
	CouponCode string `json:"coupon_code"`
	Status     string `json:"status"`
}

// CouponUsage 结算时使用的一张券，按 CouponID 或 CouponCode 定位
type CouponUsage struct {
	CouponID   int64  `json:"coupon_id"`
	CouponCode string `json:"coupon_code"`
	UseCount   int    `json:"use_count"`
}

func (u CouponUsage) ref() string {
	if u.CouponID > 0 {
		return strconv.FormatInt(u.CouponID, 10)
	}
	return u.CouponCode
}

type AdjustCouponRequest struct {
	CouponID   int64  `json:"coupon_id" binding:"required"`
	Mode       string `json:"mode" binding:"required"`
	Value      int    `json:"value"`
	Status     string `json:"status"` // 可选，显式指定状态
	OperatorID int64  `json:"operator_id"`
	Note       string `json:"note"`
}

type CancelCouponRequest struct {
	CouponID   int64  `json:"coupon_id" binding:"required"`
	OperatorID int64  `json:"operator_id"`
	Note       string `json:"note"`
}

var couponSources = map[string]bool{
	model.CouponSourceManual:    true,
	model.CouponSourceGiftEvent: true,
	model.CouponSourceGroupSend: true,
}

func validateTemplate(t model.CouponTemplate) error {
	if t.Name == "" {
		return validationf("券名称不能为空")
	}
	if t.Type != model.CouponTypeCash && t.Type != model.CouponTypeDiscount {
		return validationf("不支持的券类型: %s", t.Type)
	}
	if t.FaceValue.IsNegative() {
		return validationf("券面值不能为负数")
	}
	if t.MinSpend.IsNegative() {
		return validationf("使用门槛不能为负数")
	}
	if t.UseCount <= 0 {
		return validationf("可用次数必须大于0")
	}
	if t.ValidDays < 0 {
		return validationf("有效天数不能为负数")
	}
	return nil
}

// expireAfter validDays 为 0 表示永久有效
func expireAfter(now time.Time, validDays int) *time.Time {
	if validDays <= 0 {
		return nil
	}
	t := now.AddDate(0, 0, validDays)
	return &t
}

// ============================================================================
// 发券
// ============================================================================

// Issue 给单个顾客发券，券码由 ID 生成器产生，不做查重重试
func (s *CouponService) Issue(ctx context.Context, req *IssueCouponRequest) (issued *IssuedCoupon, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("coupon_issue", start, err) }()

	if req.Source == "" {
		req.Source = model.CouponSourceManual
	}
	if !couponSources[req.Source] {
		return nil, validationf("不支持的发券来源: %s", req.Source)
	}
	if err := validateTemplate(req.Template); err != nil {
		return nil, err
	}

	err = s.transaction(ctx, func(tx *gorm.DB) error {
		customer, err := s.customerRepo.GetByID(ctx, tx, req.CustomerID)
		if err != nil {
			return translate(err, "查询顾客失败")
		}

		coupon, err := s.issueInTx(ctx, tx, customer, req.StoreID, req.Template, req.Source, req.ReferenceType, req.OperatorID, req.Note)
		if err != nil {
			return err
		}
		issued = &IssuedCoupon{CouponID: coupon.ID, CustomerID: coupon.CustomerID, CouponCode: coupon.Code, Status: coupon.Status}

		return s.auditor.Log(ctx, tx, AuditEntry{
			OperatorID:  req.OperatorID,
			ActionCode:  model.AuditCouponIssue,
			EntityType:  "customer_coupon",
			EntityID:    strconv.FormatInt(coupon.ID, 10),
			Description: fmt.Sprintf("发放券 %s x%d", coupon.Name, coupon.TotalCount),
			Details: map[string]interface{}{
				"customer_id": coupon.CustomerID,
				"code":        coupon.Code,
				"source":      coupon.Source,
				"face_value":  coupon.FaceValue.StringFixed(2),
				"use_count":   coupon.TotalCount,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, req.CustomerID)
	s.logger.Info().Int64("customer_id", req.CustomerID).Str("code", issued.CouponCode).Msg("发券成功")
	return issued, nil
}

// IssueBatch 群发：同一模板发给多个顾客，任何一个顾客不存在则整批回滚
func (s *CouponService) IssueBatch(ctx context.Context, req *IssueBatchRequest) (issued []*IssuedCoupon, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("coupon_issue_batch", start, err) }()

	customerIDs := uniqueSorted(req.CustomerIDs)
	if len(customerIDs) == 0 {
		return nil, validationf("顾客列表不能为空")
	}
	if err := validateTemplate(req.Template); err != nil {
		return nil, err
	}

	err = s.transaction(ctx, func(tx *gorm.DB) error {
		couponIDs := make([]int64, 0, len(customerIDs))
		for _, customerID := range customerIDs {
			customer, err := s.customerRepo.GetByID(ctx, tx, customerID)
			if err != nil {
				return translate(err, "查询顾客失败")
			}
			coupon, err := s.issueInTx(ctx, tx, customer, req.StoreID, req.Template, model.CouponSourceGroupSend, req.ReferenceType, req.OperatorID, req.Note)
			if err != nil {
				return err
			}
			issued = append(issued, &IssuedCoupon{CouponID: coupon.ID, CustomerID: customerID, CouponCode: coupon.Code, Status: coupon.Status})
			couponIDs = append(couponIDs, coupon.ID)
		}

		return s.auditor.Log(ctx, tx, AuditEntry{
			OperatorID:  req.OperatorID,
			ActionCode:  model.AuditCouponIssue,
			EntityType:  "customer_coupon",
			EntityID:    "batch",
			Description: fmt.Sprintf("群发券 %s 共 %d 人", req.Template.Name, len(customerIDs)),
			Details: map[string]interface{}{
				"customer_ids": customerIDs,
				"coupon_ids":   couponIDs,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, customerIDs...)
	return issued, nil
}

func (s *CouponService) issueInTx(ctx context.Context, tx *gorm.DB, customer *model.Customer, storeID int64, tpl model.CouponTemplate, source, referenceType string, operatorID int64, note string) (*model.Coupon, error) {
	if storeID == 0 {
		storeID = customer.StoreID
	}

	coupon := &model.Coupon{
		Code:          idgen.GenerateCouponCode(),
		CustomerID:    customer.ID,
		StoreID:       storeID,
		Name:          tpl.Name,
		Type:          tpl.Type,
		FaceValue:     tpl.FaceValue,
		MinSpend:      tpl.MinSpend,
		TotalCount:    tpl.UseCount,
		RemainCount:   tpl.UseCount,
		Status:        model.CouponStatusActive,
		ExpireAt:      expireAfter(s.now(), tpl.ValidDays),
		Source:        source,
		ReferenceType: referenceType,
		IssuedBy:      operatorID,
		Note:          note,
	}
	if err := s.couponRepo.Create(ctx, tx, coupon); err != nil {
		return nil, fmt.Errorf("创建券失败: %w", err)
	}

	err := s.couponRepo.CreateLog(ctx, tx, &model.CouponLog{
		CouponID:    coupon.ID,
		CustomerID:  customer.ID,
		ActionType:  model.CouponActionIssue,
		DeltaCount:  tpl.UseCount,
		CountBefore: 0,
		CountAfter:  tpl.UseCount,
		OperatorID:  operatorID,
		Note:        note,
	})
	if err != nil {
		return nil, fmt.Errorf("记录券流水失败: %w", err)
	}
	return coupon, nil
}

// ============================================================================
// 核销 / 恢复
// ============================================================================

func (s *CouponService) lockCoupon(ctx context.Context, tx *gorm.DB, usage CouponUsage) (*model.Coupon, error) {
	if usage.CouponID > 0 {
		return s.couponRepo.GetByIDForUpdate(ctx, tx, usage.CouponID)
	}
	if usage.CouponCode == "" {
		return nil, validationf("券 ID 和券码不能同时为空")
	}
	return s.couponRepo.GetByCodeForUpdate(ctx, tx, usage.CouponCode)
}

// Consume 在调用方的事务里核销券，返回本次使用快照
func (s *CouponService) Consume(ctx context.Context, tx *gorm.DB, usage CouponUsage, customerID int64, relatedOrderID string, operatorID int64, note string) (*model.CouponUsageSnapshot, error) {
	if usage.UseCount <= 0 {
		return nil, validationf("券 %s 使用次数必须大于0", usage.ref())
	}
	now := s.now()

	before, after, err := ledger.Apply(tx, ledger.Mutation[model.Coupon]{
		Lock: func(tx *gorm.DB) (*model.Coupon, error) {
			return s.lockCoupon(ctx, tx, usage)
		},
		Mutate: func(c *model.Coupon) error {
			if c.CustomerID != customerID {
				return conflictf("券 %s 不属于该顾客", c.Code)
			}
			if !c.Consumable(now) {
				status := c.EffectiveStatus(now)
				if status == model.CouponStatusExpired {
					return conflictf("券 %s 已过期", c.Code)
				}
				return conflictf("券 %s 当前状态 %s 不可使用", c.Code, status)
			}
			if c.RemainCount < usage.UseCount {
				return insufficientf("券 %s 剩余次数不足: 剩余 %d, 需要 %d", c.Code, c.RemainCount, usage.UseCount)
			}
			c.RemainCount -= usage.UseCount
			c.Status = model.CouponStatusFor(c.Status, c.RemainCount, c.ExpireAt, now)
			return nil
		},
		Save: func(tx *gorm.DB, c *model.Coupon) error {
			return s.couponRepo.Save(ctx, tx, c)
		},
		Log: func(tx *gorm.DB, before, after *model.Coupon) error {
			return s.couponRepo.CreateLog(ctx, tx, &model.CouponLog{
				CouponID:       after.ID,
				CustomerID:     customerID,
				RelatedOrderID: relatedOrderID,
				ActionType:     model.CouponActionConsume,
				DeltaCount:     -usage.UseCount,
				CountBefore:    before.RemainCount,
				CountAfter:     after.RemainCount,
				OperatorID:     operatorID,
				Note:           note,
			})
		},
	})
	if err != nil {
		return nil, translate(err, "核销券失败")
	}

	return &model.CouponUsageSnapshot{
		CouponID:     after.ID,
		CouponCode:   after.Code,
		Name:         after.Name,
		Type:         after.Type,
		FaceValue:    after.FaceValue,
		UseCount:     usage.UseCount,
		DeductAmount: after.FaceValue.Mul(decimal.NewFromInt(int64(usage.UseCount))),
		RemainBefore: before.RemainCount,
		RemainAfter:  after.RemainCount,
	}, nil
}

// Restore 撤销消费时归还次数，已过期或已作废的券只恢复次数不恢复状态
func (s *CouponService) Restore(ctx context.Context, tx *gorm.DB, couponID int64, count int, relatedOrderID string, operatorID int64, note string) error {
	if count <= 0 {
		return nil
	}
	now := s.now()

	_, _, err := ledger.Apply(tx, ledger.Mutation[model.Coupon]{
		Lock: func(tx *gorm.DB) (*model.Coupon, error) {
			return s.couponRepo.GetByIDForUpdate(ctx, tx, couponID)
		},
		Mutate: func(c *model.Coupon) error {
			c.RemainCount += count
			if c.Status != model.CouponStatusExpired {
				c.Status = model.CouponStatusFor(c.Status, c.RemainCount, c.ExpireAt, now)
			}
			return nil
		},
		Save: func(tx *gorm.DB, c *model.Coupon) error {
			return s.couponRepo.Save(ctx, tx, c)
		},
		Log: func(tx *gorm.DB, before, after *model.Coupon) error {
			return s.couponRepo.CreateLog(ctx, tx, &model.CouponLog{
				CouponID:       after.ID,
				CustomerID:     after.CustomerID,
				RelatedOrderID: relatedOrderID,
				ActionType:     model.CouponActionRestore,
				DeltaCount:     count,
				CountBefore:    before.RemainCount,
				CountAfter:     after.RemainCount,
				OperatorID:     operatorID,
				Note:           note,
			})
		},
	})
	return translate(err, "恢复券次数失败")
}

// ============================================================================
// 后台调整 / 作废 / 过期
// ============================================================================

// Adjust 后台调整剩余次数；未指定状态时按次数和有效期重新推导
func (s *CouponService) Adjust(ctx context.Context, req *AdjustCouponRequest) (coupon *model.Coupon, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("coupon_adjust", start, err) }()

	if req.Mode != CouponAdjustSetRemaining && req.Mode != CouponAdjustDeltaCount {
		return nil, validationf("不支持的调整模式: %s", req.Mode)
	}
	if req.Status != "" && !model.ValidCouponStatus(req.Status) {
		return nil, validationf("不支持的券状态: %s", req.Status)
	}
	now := s.now()

	err = s.transaction(ctx, func(tx *gorm.DB) error {
		before, after, err := ledger.Apply(tx, ledger.Mutation[model.Coupon]{
			Lock: func(tx *gorm.DB) (*model.Coupon, error) {
				return s.couponRepo.GetByIDForUpdate(ctx, tx, req.CouponID)
			},
			Mutate: func(c *model.Coupon) error {
				remain := req.Value
				if req.Mode == CouponAdjustDeltaCount {
					remain = c.RemainCount + req.Value
				}
				if remain < 0 {
					return validationf("调整后剩余次数不能为负数: %d", remain)
				}
				c.RemainCount = remain

				if req.Status != "" {
					if !model.CheckCouponState(req.Status, remain, c.ExpireAt, now) {
						return validationf("状态 %s 与剩余次数 %d 或有效期不符", req.Status, remain)
					}
					c.Status = req.Status
					return nil
				}
				c.Status = model.CouponStatusFor(c.Status, remain, c.ExpireAt, now)
				return nil
			},
			Save: func(tx *gorm.DB, c *model.Coupon) error {
				return s.couponRepo.Save(ctx, tx, c)
			},
			Log: func(tx *gorm.DB, before, after *model.Coupon) error {
				return s.couponRepo.CreateLog(ctx, tx, &model.CouponLog{
					CouponID:    after.ID,
					CustomerID:  after.CustomerID,
					ActionType:  model.CouponActionAdjust,
					DeltaCount:  after.RemainCount - before.RemainCount,
					CountBefore: before.RemainCount,
					CountAfter:  after.RemainCount,
					OperatorID:  req.OperatorID,
					Note:        req.Note,
				})
			},
		})
		if err != nil {
			return translate(err, "调整券失败")
		}
		coupon = &after

		return s.auditor.Log(ctx, tx, AuditEntry{
			OperatorID:  req.OperatorID,
			ActionCode:  model.AuditCouponAdjust,
			EntityType:  "customer_coupon",
			EntityID:    strconv.FormatInt(after.ID, 10),
			Description: fmt.Sprintf("券次数调整 %d -> %d", before.RemainCount, after.RemainCount),
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

	s.invalidate(ctx, coupon.CustomerID)
	return coupon, nil
}

// Cancel 作废券，只允许 active 券，剩余次数保留用于追溯
func (s *CouponService) Cancel(ctx context.Context, req *CancelCouponRequest) (coupon *model.Coupon, err error) {
	err = s.transaction(ctx, func(tx *gorm.DB) error {
		_, after, err := ledger.Apply(tx, ledger.Mutation[model.Coupon]{
			Lock: func(tx *gorm.DB) (*model.Coupon, error) {
				return s.couponRepo.GetByIDForUpdate(ctx, tx, req.CouponID)
			},
			Mutate: func(c *model.Coupon) error {
				if c.Status != model.CouponStatusActive {
					return conflictf("券 %s 当前状态 %s 不可作废", c.Code, c.Status)
				}
				c.Status = model.CouponStatusCancelled
				return nil
			},
			Save: func(tx *gorm.DB, c *model.Coupon) error {
				return s.couponRepo.Save(ctx, tx, c)
			},
			Log: func(tx *gorm.DB, before, after *model.Coupon) error {
				return s.couponRepo.CreateLog(ctx, tx, &model.CouponLog{
					CouponID:    after.ID,
					CustomerID:  after.CustomerID,
					ActionType:  model.CouponActionCancel,
					CountBefore: before.RemainCount,
					CountAfter:  after.RemainCount,
					OperatorID:  req.OperatorID,
					Note:        req.Note,
				})
			},
		})
		if err != nil {
			return translate(err, "作废券失败")
		}
		coupon = &after

		return s.auditor.Log(ctx, tx, AuditEntry{
			OperatorID:  req.OperatorID,
			ActionCode:  model.AuditCouponCancel,
			EntityType:  "customer_coupon",
			EntityID:    strconv.FormatInt(after.ID, 10),
			Description: "作废券 " + after.Code,
			Details:     map[string]interface{}{"remain_count": after.RemainCount},
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, coupon.CustomerID)
	return coupon, nil
}

// ExpireOverdue 把已过期但仍为 active 的券标记为 expired，每张券一个事务
func (s *CouponService) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	now := s.now()
	ids, err := s.couponRepo.ListOverdueActiveIDs(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("查询过期券失败: %w", err)
	}

	expired := 0
	for _, id := range ids {
		var customerID int64
		changed := false
		err := s.transaction(ctx, func(tx *gorm.DB) error {
			_, after, err := ledger.Apply(tx, ledger.Mutation[model.Coupon]{
				Lock: func(tx *gorm.DB) (*model.Coupon, error) {
					return s.couponRepo.GetByIDForUpdate(ctx, tx, id)
				},
				Mutate: func(c *model.Coupon) error {
					if c.Status != model.CouponStatusActive || !model.IsExpired(c.ExpireAt, now) {
						return nil
					}
					c.Status = model.CouponStatusExpired
					changed = true
					return nil
				},
				Save: func(tx *gorm.DB, c *model.Coupon) error {
					if !changed {
						return nil
					}
					return s.couponRepo.Save(ctx, tx, c)
				},
				Log: func(tx *gorm.DB, before, after *model.Coupon) error {
					if !changed {
						return nil
					}
					return s.couponRepo.CreateLog(ctx, tx, &model.CouponLog{
						CouponID:    after.ID,
						CustomerID:  after.CustomerID,
						ActionType:  model.CouponActionExpire,
						CountBefore: before.RemainCount,
						CountAfter:  after.RemainCount,
						Note:        "到期自动失效",
					})
				},
			})
			customerID = after.CustomerID
			return err
		})
		if err != nil {
			s.logger.Error().Err(err).Int64("coupon_id", id).Msg("券过期处理失败")
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

// Get 查询券，状态按当前时间给出（过期未扫描的按 expired）
func (s *CouponService) Get(ctx context.Context, couponID int64) (*model.Coupon, error) {
	coupon, err := s.couponRepo.GetByID(ctx, nil, couponID)
	if err != nil {
		return nil, translate(err, "查询券失败")
	}
	coupon.Status = coupon.EffectiveStatus(s.now())
	return coupon, nil
}

func (s *CouponService) ListByCustomer(ctx context.Context, customerID int64, status string) ([]*model.Coupon, error) {
	now := s.now()
	coupons, err := s.couponRepo.ListByCustomer(ctx, customerID, status, now)
	if err != nil {
		return nil, err
	}
	for _, c := range coupons {
		c.Status = c.EffectiveStatus(now)
	}
	return coupons, nil
}

func (s *CouponService) Logs(ctx context.Context, couponID int64) ([]*model.CouponLog, error) {
	return s.couponRepo.ListLogs(ctx, nil, couponID)
}
