package job

import (
	"context"
	"time"

	"assetledger/internal/config"
	"assetledger/internal/metrics"
	"assetledger/internal/model"
	"assetledger/internal/repository"
	"assetledger/pkg/logger"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Publisher 消息投递方，生产环境是 Kafka 同步生产者
type Publisher interface {
	Publish(ctx context.Context, topic, key, value string, headers map[string]string) error
}

// OutboxSender 轮询 outbox 表，把业务事务里写下的事件投递到消息队列
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	cfg        *config.Config
	logger     zerolog.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config, publisher Publisher) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger.Component("OutboxSender"),
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info().Msg("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("查询消息失败")
		return
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			return
		}
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	headers := map[string]string{"event_type": msg.EventType}
	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, msg.Payload, headers)

	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			s.logger.Error().Err(updateErr).Int64("id", msg.ID).Msg("更新消息状态失败")
			return
		}
		metrics.RecordOutbox("sent")
		s.logger.Debug().Int64("id", msg.ID).Str("topic", msg.Topic).Str("key", msg.MessageKey).Msg("消息发送成功")
		return
	}

	s.logger.Warn().Err(err).Int64("id", msg.ID).Str("event_type", msg.EventType).Msg("消息发送失败")

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.logger.Error().Err(err).Int64("id", msg.ID).Msg("标记消息失败状态失败")
			return
		}
		metrics.RecordOutbox("failed")
		s.logger.Error().Int64("id", msg.ID).Int("retry_count", msg.RetryCount+1).Msg("消息超过最大重试次数，标记为失败")
		return
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.logger.Error().Err(err).Int64("id", msg.ID).Msg("增加重试次数失败")
		return
	}
	metrics.RecordOutbox("retry")
}
