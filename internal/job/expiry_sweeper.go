package job

import (
	"context"
	"fmt"

	"assetledger/internal/metrics"
	"assetledger/internal/model"
	"assetledger/pkg/logger"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Expirer 把到期资产标记为 expired，返回本次处理的数量
type Expirer interface {
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

// ExpirySweeper 按 cron 表达式定时扫描到期的券和会员卡
type ExpirySweeper struct {
	cron      *cron.Cron
	spec      string
	batchSize int
	targets   map[string]Expirer
	logger    zerolog.Logger
}

func NewExpirySweeper(spec string, batchSize int, coupons, cards Expirer) *ExpirySweeper {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &ExpirySweeper{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		spec:      spec,
		batchSize: batchSize,
		targets: map[string]Expirer{
			model.AssetTypeCoupon:     coupons,
			model.AssetTypeMemberCard: cards,
		},
		logger: logger.Component("ExpirySweeper"),
	}
}

// Start 注册定时任务并启动调度，ctx 取消后的那一轮不再执行
func (s *ExpirySweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if ctx.Err() != nil {
			return
		}
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("解析过期扫描表达式失败: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Str("spec", s.spec).Msg("过期扫描任务启动")
	return nil
}

// Stop 停止调度并等待正在执行的一轮结束
func (s *ExpirySweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("过期扫描任务停止")
}

// RunOnce 扫描一轮，单类资产失败不影响另一类
func (s *ExpirySweeper) RunOnce(ctx context.Context) map[string]int {
	result := make(map[string]int, len(s.targets))
	for assetType, target := range s.targets {
		n, err := target.ExpireOverdue(ctx, s.batchSize)
		if err != nil {
			s.logger.Error().Err(err).Str("asset_type", assetType).Msg("过期扫描失败")
			continue
		}
		result[assetType] = n
		metrics.RecordExpired(assetType, n)
		if n > 0 {
			s.logger.Info().Str("asset_type", assetType).Int("expired", n).Msg("到期资产已失效")
		}
	}
	return result
}
