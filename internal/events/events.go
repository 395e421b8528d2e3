package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action 是一条机器可执行的动作事件，在管道识别出可执行意图时发布，
// 供下游执行器消费。
type Action struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Intent    string `json:"intent"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// NewAction 构造一条带唯一标识的动作事件。
func NewAction(userID, intent, payload string) Action {
	return Action{
		ID:        uuid.NewString(),
		UserID:    userID,
		Intent:    intent,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}
}

// Publisher 抽象动作事件的发布端。
type Publisher interface {
	Publish(ctx context.Context, action Action) error
	Close() error
}

// MemoryPublisher 把事件留在进程内的环形缓冲里，主要用于测试和
// 单实例部署。
type MemoryPublisher struct {
	mu       sync.Mutex
	actions  []Action
	capacity int
}

// NewMemoryPublisher 创建内存发布器。
func NewMemoryPublisher(capacity int) *MemoryPublisher {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryPublisher{capacity: capacity}
}

// Publish 追加事件，超出容量时丢弃最旧的。
func (p *MemoryPublisher) Publish(ctx context.Context, action Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, action)
	if len(p.actions) > p.capacity {
		p.actions = p.actions[len(p.actions)-p.capacity:]
	}
	return nil
}

// Actions 返回缓冲中事件的副本。
func (p *MemoryPublisher) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.actions...)
}

// Close 实现 Publisher 接口。
func (p *MemoryPublisher) Close() error { return nil }
