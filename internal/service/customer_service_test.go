package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"assetledger/internal/infrastructure/lock"
	"assetledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryCache 内存版资产缓存，按 JSON 存取，和 Redis 实现的行为一致
type memoryCache struct {
	mu            sync.Mutex
	items         map[int64][]byte
	invalidations int
	failInvalid   bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[int64][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, customerID int64, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.items[customerID]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *memoryCache) Set(ctx context.Context, customerID int64, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[customerID] = data
	return nil
}

func (c *memoryCache) Invalidate(ctx context.Context, customerID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations++
	if c.failInvalid {
		return errors.New("redis: connection refused")
	}
	delete(c.items, customerID)
	return nil
}

func (e *testEnv) withCache(cache AssetSummaryCache) {
	e.svc = NewServices(e.db, e.cfg, Options{
		Locker: lock.NewLocalLocker(),
		Cache:  cache,
		Now:    e.clock.Now,
	})
}

func TestCustomerCreateAndLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.svc.Customer.Create(ctx, &CreateCustomerRequest{StoreID: 6, Name: "alice", Mobile: "13800001111", OperatorID: 2})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(c.CustomerNo, "CU"))
	assert.True(t, c.TotalSpent.IsZero())

	got, err := env.svc.Customer.GetByMobile(ctx, 6, "13800001111")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	got, err = env.svc.Customer.GetByNo(ctx, c.CustomerNo)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = env.svc.Customer.GetByMobile(ctx, 7, "13800001111")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.Customer.Get(ctx, 12345)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, int64(1), env.count(t, &model.AuditLog{}, "action_code = ?", model.AuditCustomerCreate))
}

func TestCustomerCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Customer.Create(ctx, &CreateCustomerRequest{Name: "alice"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svc.Customer.Create(ctx, &CreateCustomerRequest{StoreID: 1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCustomerAssetsSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, 1, "alice")
	env.recharge(t, c.ID, "300")
	env.issueCoupon(t, c.ID, "20", 2, 0)
	env.openCard(t, c.ID, 10, 0)
	env.openCard(t, c.ID, 5, 0)

	_, err := env.svc.Consume.Settle(ctx, &SettleRequest{CustomerID: c.ID, ConsumeAmount: dec("50"), DeductBalanceAmount: dec("50")})
	require.NoError(t, err)

	summary, err := env.svc.Customer.Assets(ctx, c.ID)
	require.NoError(t, err)
	assertDec(t, "250", summary.Balance)
	assertDec(t, "50", summary.TotalSpent)
	assert.Equal(t, 1, summary.VisitCount)
	assert.Equal(t, int64(1), summary.ConsumeCount)
	assert.Len(t, summary.ActiveCoupons, 1)
	assert.Len(t, summary.ActiveCards, 2)
	assert.Equal(t, 15, summary.RemainingSessions)
}

func TestCustomerAssetsCachedUntilInvalidated(t *testing.T) {
	env := newTestEnv(t)
	cache := newMemoryCache()
	env.withCache(cache)
	ctx := context.Background()
	c := env.customer(t, 1, "alice")

	summary, err := env.svc.Customer.Assets(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, summary.Balance.IsZero())

	// 绕过 service 直接改库，缓存仍返回旧值
	require.NoError(t, env.db.Model(&model.Customer{}).Where("id = ?", c.ID).Update("visit_count", 9).Error)
	summary, err = env.svc.Customer.Assets(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.VisitCount)

	// 充值提交后失效缓存
	env.recharge(t, c.ID, "80")
	summary, err = env.svc.Customer.Assets(ctx, c.ID)
	require.NoError(t, err)
	assertDec(t, "80", summary.Balance)
	assert.Equal(t, 9, summary.VisitCount)
	assert.Equal(t, 1, cache.invalidations)
}

// 缓存失效失败不影响结算，只返回告警
func TestSettleCacheFailureIsWarning(t *testing.T) {
	env := newTestEnv(t)
	cache := newMemoryCache()
	cache.failInvalid = true
	env.withCache(cache)
	c := env.customer(t, 1, "alice")

	res, err := env.svc.Consume.Settle(context.Background(), &SettleRequest{CustomerID: c.ID, ConsumeAmount: dec("10")})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "asset cache invalidation failed")
	assert.Equal(t, int64(1), env.count(t, &model.ConsumeRecord{}, "customer_id = ?", c.ID))
}

// 到期后扫描任务还没跑时，查询结果已经按过期处理
func TestReadsTreatOverdueAssetsAsExpired(t *testing.T) {
	env := newTestEnv(t)
	cache := newMemoryCache()
	env.withCache(cache)
	ctx := context.Background()
	c := env.customer(t, 1, "alice")
	coupon := env.issueCoupon(t, c.ID, "20", 1, 1)
	card := env.openCard(t, c.ID, 10, 1)
	lasting := env.openCard(t, c.ID, 4, 0)

	summary, err := env.svc.Customer.Assets(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, summary.ActiveCoupons, 1)
	assert.Len(t, summary.ActiveCards, 2)
	assert.Equal(t, 14, summary.RemainingSessions)

	env.clock.Advance(48 * time.Hour)

	// 缓存里的汇总也要去掉已到期的资产
	summary, err = env.svc.Customer.Assets(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, summary.ActiveCoupons)
	require.Len(t, summary.ActiveCards, 1)
	assert.Equal(t, lasting.ID, summary.ActiveCards[0].ID)
	assert.Equal(t, 4, summary.RemainingSessions)

	gotCoupon, err := env.svc.Coupon.Get(ctx, coupon.CouponID)
	require.NoError(t, err)
	assert.Equal(t, model.CouponStatusExpired, gotCoupon.Status)

	gotCard, err := env.svc.MemberCard.Get(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CardStatusExpired, gotCard.Status)

	activeCoupons, err := env.svc.Coupon.ListByCustomer(ctx, c.ID, model.CouponStatusActive)
	require.NoError(t, err)
	assert.Empty(t, activeCoupons)

	expiredCoupons, err := env.svc.Coupon.ListByCustomer(ctx, c.ID, model.CouponStatusExpired)
	require.NoError(t, err)
	require.Len(t, expiredCoupons, 1)
	assert.Equal(t, model.CouponStatusExpired, expiredCoupons[0].Status)

	activeCards, err := env.svc.MemberCard.ListByCustomer(ctx, c.ID, model.CardStatusActive)
	require.NoError(t, err)
	require.Len(t, activeCards, 1)
	assert.Equal(t, lasting.ID, activeCards[0].ID)

	expiredCards, err := env.svc.MemberCard.ListByCustomer(ctx, c.ID, model.CardStatusExpired)
	require.NoError(t, err)
	require.Len(t, expiredCards, 1)
	assert.Equal(t, card.ID, expiredCards[0].ID)

	all, err := env.svc.MemberCard.ListByCustomer(ctx, c.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// 未缓存时直接查库结果一致
	fresh, err := env.svc.Customer.loadAssets(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.ActiveCoupons)
	assert.Equal(t, 4, fresh.RemainingSessions)

	// 库里的状态仍由扫描任务改写
	var stored model.Coupon
	require.NoError(t, env.db.First(&stored, coupon.CouponID).Error)
	assert.Equal(t, model.CouponStatusActive, stored.Status)
}
