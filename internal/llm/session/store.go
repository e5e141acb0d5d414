// Package session 负责持久化对话历史。推理适配器在每轮开始时读取
// 历史，在一轮全部交互结束后整体追加，保证单个会话键上的读改写
// 串行进行。
package session

import (
	"context"
	"encoding/json"
	"sync"
)

// 会话消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall 记录助手消息中发起的一次工具调用。
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Message 是与具体模型厂商无关的会话消息。Role 为 tool 时,
// ToolCallID 指回触发它的调用。
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// Store 定义会话历史的存取接口。
type Store interface {
	// History 返回指定会话的全部历史消息，按时间顺序排列。
	History(ctx context.Context, key string) ([]Message, error)
	// Append 将一轮产生的消息整体追加到会话尾部。
	Append(ctx context.Context, key string, msgs ...Message) error
	// Clear 丢弃指定会话的历史。
	Clear(ctx context.Context, key string) error
}

// MemoryStore 是基于内存的会话存储，适合单机部署和测试。
type MemoryStore struct {
	mu       sync.Mutex
	maxTurns int
	sessions map[string][]Message
}

// NewMemoryStore 创建内存会话存储。maxTurns 限制每个会话保留的消息
// 条数，超出后从头部丢弃；非正数表示不限制。
func NewMemoryStore(maxTurns int) *MemoryStore {
	return &MemoryStore{
		maxTurns: maxTurns,
		sessions: make(map[string][]Message),
	}
}

// History 实现 Store。
func (s *MemoryStore) History(_ context.Context, key string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.sessions[key]
	clone := make([]Message, len(history))
	copy(clone, history)
	return clone, nil
}

// Append 实现 Store。
func (s *MemoryStore) Append(_ context.Context, key string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	history := append(s.sessions[key], msgs...)
	if s.maxTurns > 0 && len(history) > s.maxTurns {
		history = trimHistory(history, s.maxTurns)
	}
	s.sessions[key] = history
	return nil
}

// Clear 实现 Store。
func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

// trimHistory 从头部丢弃多余消息。工具结果必须跟在发起它的助手消息
// 之后，所以截断点要跳过开头悬空的 tool 消息。
func trimHistory(history []Message, maxTurns int) []Message {
	start := len(history) - maxTurns
	for start < len(history) && history[start].Role == RoleTool {
		start++
	}
	trimmed := make([]Message, len(history)-start)
	copy(trimmed, history[start:])
	return trimmed
}
