package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"assetledger/internal/config"
	"assetledger/internal/infrastructure/database"
	"assetledger/internal/infrastructure/lock"
	"assetledger/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testClock 可拨动的时钟，业务时间全部从这里取
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db    *gorm.DB
	cfg   *config.Config
	clock *testClock
	svc   *Services
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 单连接：事务内的所有查询必须走 tx
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestEnv(t *testing.T, hooks ...PostSettleHook) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.Kafka.Topic.AssetEvent = "asset_event"

	clock := &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	db := newTestDB(t)
	svc := NewServices(db, cfg, Options{
		Locker: lock.NewLocalLocker(),
		Hooks:  hooks,
		Now:    clock.Now,
	})
	return &testEnv{db: db, cfg: cfg, clock: clock, svc: svc}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func (e *testEnv) customer(t *testing.T, storeID int64, name string) *model.Customer {
	t.Helper()
	c, err := e.svc.Customer.Create(context.Background(), &CreateCustomerRequest{StoreID: storeID, Name: name, Mobile: "1380000" + name})
	require.NoError(t, err)
	return c
}

func (e *testEnv) recharge(t *testing.T, customerID int64, amount string) {
	t.Helper()
	_, err := e.svc.Wallet.Recharge(context.Background(), &RechargeRequest{CustomerID: customerID, Amount: dec(amount)})
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, customerID int64) decimal.Decimal {
	t.Helper()
	w, err := e.svc.Wallet.Balance(context.Background(), customerID)
	require.NoError(t, err)
	return w.Balance
}

func (e *testEnv) issueCoupon(t *testing.T, customerID int64, faceValue string, count, validDays int) *IssuedCoupon {
	t.Helper()
	issued, err := e.svc.Coupon.Issue(context.Background(), &IssueCouponRequest{
		CustomerID: customerID,
		Template: model.CouponTemplate{
			Name:      "洗护券",
			Type:      model.CouponTypeCash,
			FaceValue: dec(faceValue),
			UseCount:  count,
			ValidDays: validDays,
		},
	})
	require.NoError(t, err)
	return issued
}

func (e *testEnv) coupon(t *testing.T, couponID int64) *model.Coupon {
	t.Helper()
	c, err := e.svc.Coupon.Get(context.Background(), couponID)
	require.NoError(t, err)
	return c
}

func (e *testEnv) openCard(t *testing.T, customerID int64, total, validDays int) *model.MemberCard {
	t.Helper()
	card, err := e.svc.MemberCard.Open(context.Background(), &OpenCardRequest{
		CustomerID: customerID,
		Package:    model.CardPackage{Name: "十次护理卡", TotalSessions: total, ValidDays: validDays},
		SoldPrice:  dec("980"),
	})
	require.NoError(t, err)
	return card
}

func (e *testEnv) card(t *testing.T, cardID int64) *model.MemberCard {
	t.Helper()
	c, err := e.svc.MemberCard.Get(context.Background(), cardID)
	require.NoError(t, err)
	return c
}

func (e *testEnv) count(t *testing.T, value interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(value).Where(query, args...).Count(&n).Error)
	return n
}

// failingHook 总是失败的结算附属动作
type failingHook struct{ err error }

func (h failingHook) Name() string { return "points" }

func (h failingHook) AfterSettle(ctx context.Context, record *model.ConsumeRecord) error {
	return h.err
}
