package service

import (
	"context"
	"log/slog"
	"time"

	"SignalCAD/internal/model"
	"SignalCAD/internal/pkg"

	"github.com/segmentio/kafka-go"
)

const (
	defaultOutboxBatch    = 200
	defaultOutboxMaxRetry = 10
	outboxLogScope        = "service/outbox"
)

// OutboxStore membership_outbox 表的读取与状态回写
type OutboxStore interface {
	List(ctx context.Context, batchSize, maxRetry int) ([]model.MembershipOutbox, error)
	RetryUpdate(ctx context.Context, id uint64) error
	SuccessUpdate(ctx context.Context, id uint64) error
}

type Sender func(ctx context.Context, ob *model.MembershipOutbox) error

// OutboxRelayer outbox表相关服务
type OutboxRelayer struct {
	repo      OutboxStore
	batchSize int
	maxRetry  int
	interval  time.Duration
	sender    Sender
	lock      Locker
	logger    *slog.Logger
}

func NewOutboxRelayer(repo OutboxStore, sender Sender, interval time.Duration, logger *slog.Logger) *OutboxRelayer {
	if interval <= 0 {
		interval = time.Second
	}
	return &OutboxRelayer{
		repo:      repo,
		batchSize: defaultOutboxBatch,
		maxRetry:  defaultOutboxMaxRetry,
		interval:  interval,
		sender:    sender,
		logger:    ResolveLogger(logger),
	}
}

// WithLock 多实例部署时避免同一批事件被并发投递
func (r *OutboxRelayer) WithLock(lock Locker) *OutboxRelayer {
	r.lock = lock
	return r
}

// Run outbox启动器
func (r *OutboxRelayer) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			runExclusive(ctx, r.lock, "outbox_relay", 30*time.Second, r.logger, func() {
				r.DrainOnce(ctx)
			})
		}
	}
}

// DrainOnce 投递一批事件，返回成功条数
func (r *OutboxRelayer) DrainOnce(ctx context.Context) int {
	rows, err := r.repo.List(ctx, r.batchSize, r.maxRetry)
	if err != nil {
		r.logger.Error("outbox query failed",
			"event", "outbox_list_failed",
			"module", outboxLogScope,
			"error", err.Error(),
		)
		return 0
	}
	sent := 0
	for i := range rows {
		ob := &rows[i]
		if err := r.sender(ctx, ob); err != nil {
			r.logger.Warn("outbox send failed",
				"event", "outbox_send_failed",
				"module", outboxLogScope,
				"event_id", ob.EventID,
				"event_type", ob.EventType,
				"retry", ob.Retry+1,
				"error", err.Error(),
			)
			if err := r.repo.RetryUpdate(ctx, ob.ID); err != nil {
				r.logger.Error("outbox mark failed",
					"event", "outbox_mark_failed",
					"module", outboxLogScope,
					"event_id", ob.EventID,
					"error", err.Error(),
				)
			}
			continue
		}
		if err := r.repo.SuccessUpdate(ctx, ob.ID); err != nil {
			// 下一轮会重复投递，消费端按 event_id 去重
			r.logger.Error("outbox mark sent failed",
				"event", "outbox_mark_failed",
				"module", outboxLogScope,
				"event_id", ob.EventID,
				"error", err.Error(),
			)
			continue
		}
		sent++
	}
	return sent
}

// KafkaSender 以社区 ID 作为 key，同一社区的事件落在同一分区
func KafkaSender(p *pkg.KafkaProducer) Sender {
	return func(ctx context.Context, ob *model.MembershipOutbox) error {
		return p.Send(ctx, pkg.MakeKeyFromID(ob.CommunityID), []byte(ob.Payload),
			kafka.Header{Key: "event_id", Value: []byte(ob.EventID)},
			kafka.Header{Key: "event_type", Value: []byte(ob.EventType)},
		)
	}
}

// LogSender 没有配置 Kafka 时只打日志
func LogSender(logger *slog.Logger) Sender {
	logger = ResolveLogger(logger)
	return func(ctx context.Context, ob *model.MembershipOutbox) error {
		logger.Info("outbox event",
			"event", "outbox_event_logged",
			"module", outboxLogScope,
			"event_id", ob.EventID,
			"event_type", ob.EventType,
			"community_id", ob.CommunityID,
			"user_id", ob.UserID,
			"payload", ob.Payload,
		)
		return nil
	}
}
