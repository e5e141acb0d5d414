package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore 把会话历史放在 Redis List 中，多实例部署时共享上下文。
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	maxTurns  int
}

// RedisOptions 描述 Redis 会话存储的连接参数。
type RedisOptions struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	MaxTurns  int
}

// NewRedisStore 创建并校验 Redis 会话存储。
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "pochipo:session:"
	}
	return &RedisStore{client: client, keyPrefix: prefix, maxTurns: opts.MaxTurns}, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.keyPrefix + key
}

// History 实现 Store。截断发生在写入侧，这里只需跳过可能因截断而
// 悬空的开头 tool 消息。
func (s *RedisStore) History(ctx context.Context, key string) ([]Message, error) {
	raw, err := s.client.LRange(ctx, s.redisKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取会话历史失败: %w", err)
	}
	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("解析会话消息失败: %w", err)
		}
		msgs = append(msgs, msg)
	}
	start := 0
	for start < len(msgs) && msgs[start].Role == RoleTool {
		start++
	}
	return msgs[start:], nil
}

// Append 实现 Store。
func (s *RedisStore) Append(ctx context.Context, key string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("序列化会话消息失败: %w", err)
		}
		values = append(values, string(encoded))
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.redisKey(key), values...)
	if s.maxTurns > 0 {
		pipe.LTrim(ctx, s.redisKey(key), int64(-s.maxTurns), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入会话历史失败: %w", err)
	}
	return nil
}

// Clear 实现 Store。
func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("清空会话历史失败: %w", err)
	}
	return nil
}

// Close 释放底层连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
