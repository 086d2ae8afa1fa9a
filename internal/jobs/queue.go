package jobs

import "context"

// Handler 处理一个出队的作业 ID。返回错误表示本次处理失败，
// 是否重试由处理器根据错误属性决定。
type Handler func(ctx context.Context, jobID string) error

// Producer 负责将作业 ID 投递到队列。
type Producer interface {
	Publish(ctx context.Context, jobID string) error
}

// Consumer 负责持续消费队列中的作业 ID，直到 ctx 取消。
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

// Queue 是生产与消费能力的组合。
type Queue interface {
	Producer
	Consumer
	Close() error
}
