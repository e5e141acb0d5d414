// Package social 负责把新代币的宣传文案发布到社交媒体。发帖失败只
// 记录日志，绝不阻断铸币主流程。
package social

import (
	"context"
)

// Poster 是社交发帖的统一接口。
type Poster interface {
	Post(ctx context.Context, text string) error
}

// NoopPoster 在未配置社交凭据时使用，直接丢弃文案。
type NoopPoster struct{}

// Post 实现 Poster。
func (NoopPoster) Post(_ context.Context, _ string) error {
	return nil
}
