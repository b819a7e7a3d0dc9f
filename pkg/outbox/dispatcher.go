package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"trustfund/pkg/circuitbreaker"
	"trustfund/pkg/logger"
	"trustfund/pkg/metrics"
	"trustfund/pkg/trace"
)

// Source 是 Dispatcher 读取与回写 outbox 的接口，由 Repository 实现
type Source interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int, cause string) (bool, error)
}

// Sink 是事件的发布目标，由 mq.Publisher 实现
type Sink interface {
	PublishRaw(ctx context.Context, routingKey string, body []byte) error
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string) error
}

// Dispatcher 负责从 outbox 中读取事件并发布到 MQ
type Dispatcher struct {
	repo       Source
	publisher  Sink
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

// NewDispatcher 创建新的 Dispatcher
func NewDispatcher(repo Source, publisher Sink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		repo:       repo,
		publisher:  publisher,
		breaker:    circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("outbox-publisher"), logger),
		logger:     logger,
		maxRetries: 5,               // 默认最大重试5次
		interval:   1 * time.Second, // 默认每秒扫描一次
		batchSize:  100,             // 默认每次处理100个事件
	}
}

// WithMaxRetries 设置最大重试次数
func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	if maxRetries > 0 {
		d.maxRetries = maxRetries
	}
	return d
}

// WithInterval 设置扫描间隔
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithBatchSize 设置批次大小
func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	return d
}

// WithBreaker 替换默认熔断器
func (d *Dispatcher) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

// Start 启动 Dispatcher，阻塞直到 ctx 结束
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				d.logger.Error("Outbox dispatch round failed", zap.Error(err))
			}
		}
	}
}

// DispatchOnce 处理一批待发送事件，返回成功发布的数量
// 熔断器打开时本轮提前结束，事件保持 pending，不消耗重试次数
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	events, err := d.repo.GetPendingEvents(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, event := range events {
		err := d.breaker.Execute(func() error {
			return d.publishEvent(ctx, event)
		})
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			d.logger.Warn("Publisher circuit open, postponing remaining events",
				zap.Int("remaining", len(events)-sent),
			)
			return sent, nil
		}
		if err != nil {
			d.handleFailure(ctx, event, err)
			continue
		}

		metrics.IncrementOutboxPublish(event.RoutingKey, StatusSent)
		if err := d.repo.MarkAsSent(ctx, event.ID); err != nil {
			d.logger.Error("Failed to mark event as sent",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent, nil
}

func (d *Dispatcher) handleFailure(ctx context.Context, event *Event, cause error) {
	log := logger.WithTrace(traceContext(ctx, event.Payload), d.logger).With(
		zap.Int64("event_id", event.ID),
		zap.String("routing_key", event.RoutingKey),
	)
	log.Error("Failed to publish event", zap.Error(cause))
	metrics.IncrementOutboxPublish(event.RoutingKey, StatusFailed)

	exhausted, err := d.repo.MarkAsFailed(ctx, event.ID, d.maxRetries, cause.Error())
	if err != nil {
		log.Error("Failed to mark event as failed", zap.Error(err))
		return
	}
	if !exhausted {
		return
	}

	// 重试耗尽：转入死信，等待管理员重放
	if err := d.publisher.PublishToDLQ(ctx, event.RoutingKey, event.Payload, cause.Error()); err != nil {
		log.Error("Failed to dead-letter event", zap.Error(err))
		return
	}
	metrics.IncrementOutboxPublish(event.RoutingKey, "dead_lettered")
	log.Warn("Event dead-lettered after exhausting retries", zap.Int("max_retries", d.maxRetries))
}

// publishEvent 发布单个事件到 MQ
func (d *Dispatcher) publishEvent(ctx context.Context, event *Event) error {
	return d.publisher.PublishRaw(traceContext(ctx, event.Payload), event.RoutingKey, event.Payload)
}

// traceContext 从 payload 中提取 trace_id（如果存在）
func traceContext(ctx context.Context, payload json.RawMessage) context.Context {
	var envelope struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.TraceID == "" {
		return ctx
	}
	return trace.WithContext(ctx, envelope.TraceID)
}
