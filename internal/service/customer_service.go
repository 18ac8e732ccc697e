package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"assetledger/internal/config"
	"assetledger/internal/model"
	"assetledger/internal/repository"
	"assetledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CustomerService struct {
	base
	customerRepo *repository.CustomerRepository
	walletRepo   *repository.WalletRepository
	couponRepo   *repository.CouponRepository
	cardRepo     *repository.MemberCardRepository
	consumeRepo  *repository.ConsumeRecordRepository
}

func NewCustomerService(db *gorm.DB, cfg *config.Config, opts Options) *CustomerService {
	return &CustomerService{
		base:         newBase(db, cfg, opts, "CustomerService"),
		customerRepo: repository.NewCustomerRepository(db),
		walletRepo:   repository.NewWalletRepository(db),
		couponRepo:   repository.NewCouponRepository(db),
		cardRepo:     repository.NewMemberCardRepository(db),
		consumeRepo:  repository.NewConsumeRecordRepository(db),
	}
}

type CreateCustomerRequest struct {
	StoreID    int64  `json:"store_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Mobile     string `json:"mobile"`
	OperatorID int64  `json:"operator_id"`
}

// AssetSummary 顾客资产汇总，读多写少，走缓存
type AssetSummary struct {
	CustomerID        int64               `json:"customer_id"`
	CustomerNo        string              `json:"customer_no"`
	Balance           decimal.Decimal     `json:"balance"`
	TotalSpent        decimal.Decimal     `json:"total_spent"`
	VisitCount        int                 `json:"visit_count"`
	ConsumeCount      int64               `json:"consume_count"`
	ActiveCoupons     []*model.Coupon     `json:"active_coupons"`
	ActiveCards       []*model.MemberCard `json:"active_cards"`
	RemainingSessions int                 `json:"remaining_sessions"`
}

func (s *CustomerService) Create(ctx context.Context, req *CreateCustomerRequest) (*model.Customer, error) {
	if req.StoreID <= 0 {
		return nil, validationf("门店不能为空")
	}
	if req.Name == "" {
		return nil, validationf("顾客姓名不能为空")
	}

	customer := &model.Customer{
		StoreID:    req.StoreID,
		CustomerNo: idgen.GenerateCustomerNo(),
		Name:       req.Name,
		Mobile:     req.Mobile,
	}
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := s.customerRepo.Create(ctx, tx, customer); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				return conflictf("顾客编号重复")
			}
			return fmt.Errorf("创建顾客失败: %w", err)
		}
		return s.auditor.Log(ctx, tx, AuditEntry{
			OperatorID:  req.OperatorID,
			ActionCode:  model.AuditCustomerCreate,
			EntityType:  "customer",
			EntityID:    strconv.FormatInt(customer.ID, 10),
			Description: "新建顾客 " + customer.Name,
			Details:     map[string]interface{}{"store_id": customer.StoreID, "customer_no": customer.CustomerNo},
		})
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *CustomerService) Get(ctx context.Context, customerID int64) (*model.Customer, error) {
	customer, err := s.customerRepo.GetByID(ctx, nil, customerID)
	if err != nil {
		return nil, translate(err, "查询顾客失败")
	}
	return customer, nil
}

func (s *CustomerService) GetByMobile(ctx context.Context, storeID int64, mobile string) (*model.Customer, error) {
	customer, err := s.customerRepo.GetByMobile(ctx, storeID, mobile)
	if err != nil {
		return nil, translate(err, "查询顾客失败")
	}
	return customer, nil
}

func (s *CustomerService) GetByNo(ctx context.Context, customerNo string) (*model.Customer, error) {
	customer, err := s.customerRepo.GetByNo(ctx, customerNo)
	if err != nil {
		return nil, translate(err, "查询顾客失败")
	}
	return customer, nil
}

// Assets 查询顾客资产汇总，缓存读写失败只记日志
func (s *CustomerService) Assets(ctx context.Context, customerID int64) (*AssetSummary, error) {
	if s.cache != nil {
		var cached AssetSummary
		hit, err := s.cache.Get(ctx, customerID, &cached)
		if err != nil {
			s.logger.Warn().Err(err).Int64("customer_id", customerID).Msg("读取资产缓存失败")
		} else if hit {
			cached.dropExpired(s.now())
			return &cached, nil
		}
	}

	summary, err := s.loadAssets(ctx, customerID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, customerID, summary); err != nil {
			s.logger.Warn().Err(err).Int64("customer_id", customerID).Msg("写入资产缓存失败")
		}
	}
	return summary, nil
}

func (s *CustomerService) loadAssets(ctx context.Context, customerID int64) (*AssetSummary, error) {
	customer, err := s.customerRepo.GetByID(ctx, nil, customerID)
	if err != nil {
		return nil, translate(err, "查询顾客失败")
	}

	summary := &AssetSummary{
		CustomerID: customer.ID,
		CustomerNo: customer.CustomerNo,
		TotalSpent: customer.TotalSpent,
		VisitCount: customer.VisitCount,
	}

	wallet, err := s.walletRepo.GetByCustomerID(ctx, nil, customerID)
	switch {
	case err == nil:
		summary.Balance = wallet.Balance
	case !errors.Is(err, repository.ErrWalletNotFound):
		return nil, fmt.Errorf("查询钱包失败: %w", err)
	}

	now := s.now()
	if summary.ActiveCoupons, err = s.couponRepo.ListByCustomer(ctx, customerID, model.CouponStatusActive, now); err != nil {
		return nil, fmt.Errorf("查询券失败: %w", err)
	}
	if summary.ActiveCards, err = s.cardRepo.ListByCustomer(ctx, customerID, model.CardStatusActive, now); err != nil {
		return nil, fmt.Errorf("查询会员卡失败: %w", err)
	}
	for _, card := range summary.ActiveCards {
		summary.RemainingSessions += card.RemainingSessions
	}
	if summary.ConsumeCount, err = s.consumeRepo.Count(ctx, nil, customerID); err != nil {
		return nil, fmt.Errorf("查询消费记录失败: %w", err)
	}
	return summary, nil
}

// dropExpired 去掉缓存写入之后才到期的券和卡，剩余次数随之重算
func (a *AssetSummary) dropExpired(now time.Time) {
	coupons := a.ActiveCoupons[:0]
	for _, c := range a.ActiveCoupons {
		if c.Consumable(now) {
			coupons = append(coupons, c)
		}
	}
	a.ActiveCoupons = coupons

	cards := a.ActiveCards[:0]
	a.RemainingSessions = 0
	for _, c := range a.ActiveCards {
		if c.Consumable(now) {
			cards = append(cards, c)
			a.RemainingSessions += c.RemainingSessions
		}
	}
	a.ActiveCards = cards
}
