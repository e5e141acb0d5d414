// Package sniper 实现铸币后的自动跟买：新代币的合约地址进入队列，
// 由单个顺序工作协程对狙击手名单逐一下单。
package sniper

import (
	"context"
)

// Handler 处理队列中的一条跟买指令（JSON 编码的 Order）。
type Handler func(ctx context.Context, payload string) error

// Producer 负责向队列投递跟买指令。
type Producer interface {
	Publish(ctx context.Context, payload string) error
	Close() error
}

// Consumer 负责从队列中消费跟买指令。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
