package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "pochipo/internal/errors"
)

// XPoster 通过 X API v2 发布帖子。
type XPoster struct {
	baseURL    string
	bearer     string
	httpClient *http.Client
}

// XConfig 描述 X API 的访问参数。
type XConfig struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
}

// NewXPoster 构造 X 发帖客户端。
func NewXPoster(cfg XConfig) (*XPoster, error) {
	if strings.TrimSpace(cfg.BearerToken) == "" {
		return nil, xerrors.New(xerrors.CodeConfigMissing, "X bearer token 不能为空")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.twitter.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &XPoster{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bearer:     cfg.BearerToken,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Post 实现 Poster。
func (p *XPoster) Post(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("序列化帖子失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.bearer)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用 X 接口失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("X 返回状态码 %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

var _ Poster = (*XPoster)(nil)
var _ Poster = NoopPoster{}
