package jobs

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"XGov-Mesh/pkg/logger"

	xerrors "XGov-Mesh/internal/errors"
)

const defaultRabbitMQQueueName = "xgov.jobs"

// RabbitMQQueueConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQQueueConfig struct {
	URL       string
	QueueName string
	// Prefetch 控制单个消费者未确认消息的上限。
	Prefetch int
}

// RabbitMQQueue 基于 RabbitMQ 持久化队列实现作业分发。
type RabbitMQQueue struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
}

var _ Queue = (*RabbitMQQueue)(nil)

// NewRabbitMQQueue 建立连接并声明持久化队列。
func NewRabbitMQQueue(cfg RabbitMQQueueConfig) (*RabbitMQQueue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 RabbitMQ 失败")
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "打开 RabbitMQ channel 失败")
	}
	queueName := cfg.QueueName
	if queueName == "" {
		queueName = defaultRabbitMQQueueName
	}
	if _, err := channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "声明队列失败")
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 8
	}
	if err := channel.Qos(prefetch, 0, false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "设置 Qos 失败")
	}
	return &RabbitMQQueue{conn: conn, channel: channel, queueName: queueName}, nil
}

// Publish 投递持久化消息。
func (q *RabbitMQQueue) Publish(ctx context.Context, jobID string) error {
	err := q.channel.PublishWithContext(ctx, "", q.queueName, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(jobID),
	})
	if err != nil {
		return xerrors.Wrap(CodeJobPublishFailed, err, "发布消息失败")
	}
	return nil
}

// Consume 持续消费队列消息，直到 ctx 取消。
// 处理成功后 Ack，失败时 Nack 并重新入队。
func (q *RabbitMQQueue) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := q.channel.Consume(q.queueName, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅队列失败")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 投递通道已关闭")
			}
			jobID := string(delivery.Body)
			if err := handler(ctx, jobID); err != nil {
				logger.L().Warn("作业处理失败，重新入队",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()))
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					logger.L().Error("Nack 失败", slog.String("error", nackErr.Error()))
				}
				continue
			}
			if ackErr := delivery.Ack(false); ackErr != nil {
				logger.L().Error("Ack 失败", slog.String("error", ackErr.Error()))
			}
		}
	}
}

// Close 依次关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
