package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"assetledger/internal/config"
	"assetledger/internal/infrastructure/lock"
	"assetledger/internal/model"
	"assetledger/internal/repository"
	"assetledger/pkg/logger"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// AssetSummaryCache 顾客资产汇总缓存，生产环境由 Redis 实现
type AssetSummaryCache interface {
	Get(ctx context.Context, customerID int64, dest interface{}) (bool, error)
	Set(ctx context.Context, customerID int64, value interface{}) error
	Invalidate(ctx context.Context, customerID int64) error
}

// Options 各 service 共享的协作者，零值字段使用默认实现
type Options struct {
	Locker lock.Locker
	Cache  AssetSummaryCache
	Hooks  []PostSettleHook
	Now    func() time.Time
}

// base 所有账本 service 共用的依赖：事务、顾客锁、审计、outbox、缓存失效
type base struct {
	db      *gorm.DB
	cfg     *config.Config
	locker  lock.Locker
	cache   AssetSummaryCache
	auditor *Auditor
	outbox  *repository.OutboxRepository
	now     func() time.Time
	logger  zerolog.Logger
}

func newBase(db *gorm.DB, cfg *config.Config, opts Options, component string) base {
	b := base{
		db:      db,
		cfg:     cfg,
		locker:  opts.Locker,
		cache:   opts.Cache,
		auditor: NewAuditor(db),
		outbox:  repository.NewOutboxRepository(db),
		now:     opts.Now,
		logger:  logger.Component(component),
	}
	if b.locker == nil {
		b.locker = lock.NopLocker{}
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// withCustomerLock 按顾客 ID 升序加锁后执行 fn，多个顾客时固定顺序避免互等
func (b *base) withCustomerLock(ctx context.Context, customerIDs []int64, fn func() error) error {
	ids := uniqueSorted(customerIDs)
	for _, id := range ids {
		release, err := b.locker.Acquire(ctx, lock.CustomerKey(id))
		if err != nil {
			return fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer release()
	}
	return fn()
}

// transaction 开启事务，fn 返回错误时整体回滚
func (b *base) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return b.db.WithContext(ctx).Transaction(fn)
}

// publish 在当前事务里写一条 outbox 消息，提交后由 OutboxSender 投递
func (b *base) publish(ctx context.Context, tx *gorm.DB, eventType, key string, payload map[string]interface{}) error {
	payload["event_type"] = eventType
	payload["occurred_at"] = b.now().Format(time.RFC3339)
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: key,
		EventType:  eventType,
		Topic:      b.cfg.Kafka.Topic.AssetEvent,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := b.outbox.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

// invalidate 提交后让资产汇总缓存失效，失败只记日志并返回告警
func (b *base) invalidate(ctx context.Context, customerIDs ...int64) []string {
	if b.cache == nil {
		return nil
	}
	var warnings []string
	for _, id := range uniqueSorted(customerIDs) {
		if err := b.cache.Invalidate(ctx, id); err != nil {
			b.logger.Warn().Err(err).Int64("customer_id", id).Msg("资产缓存失效失败")
			warnings = append(warnings, fmt.Sprintf("asset cache invalidation failed for customer %d: %v", id, err))
		}
	}
	return warnings
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
