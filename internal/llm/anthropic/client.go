// Package anthropic 通过 Anthropic Messages API 驱动对话式推理，
// 并在内部完成工具调用的派发与回填。
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "pochipo/internal/errors"
	"pochipo/internal/llm"
	"pochipo/internal/llm/session"
	"pochipo/internal/observability/metrics"
	"pochipo/internal/tool"
	"pochipo/pkg/logger"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	defaultModel      = "claude-3-haiku-20240307"
	defaultMaxTokens  = 1024
	defaultTimeout    = 60 * time.Second
	defaultToolRounds = 8
	apiVersion        = "2023-06-01"
)

// Config 描述 Anthropic 客户端的配置项。
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	SystemPrompt  string
	Timeout       time.Duration
	MaxToolRounds int
}

// Client 是 llm.Client 的 Anthropic 实现。
type Client struct {
	cfg        Config
	httpClient *http.Client
	sessions   session.Store
}

// NewClient 构造 Anthropic 客户端。sessions 不能为空，匿名会话也要
// 落在内存存储里，保证一轮之内的多次模型调用共享上下文。
func NewClient(cfg Config, sessions session.Store) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, xerrors.New(xerrors.CodeConfigMissing, "anthropic api key 不能为空")
	}
	if sessions == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话存储不能为空")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultToolRounds
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sessions:   sessions,
	}, nil
}

// Stream 实现 llm.Client。通道无缓冲，消费方不取下一个事件时，
// 后续的模型调用不会发生。
func (c *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.Step, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "指令不能为空")
	}
	out := make(chan llm.Step)
	go c.run(ctx, req, out)
	return out, nil
}

func (c *Client) run(ctx context.Context, req llm.Request, out chan<- llm.Step) {
	defer close(out)
	log := logger.Named("llm.anthropic")

	history, err := c.sessions.History(ctx, req.SessionKey)
	if err != nil {
		c.emit(ctx, out, llm.Step{Err: xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话历史失败")})
		return
	}

	wire := toWireMessages(history)
	wire = append(wire, wireMessage{
		Role:    session.RoleUser,
		Content: []contentBlock{{Type: "text", Text: req.Instruction}},
	})
	pending := []session.Message{{Role: session.RoleUser, Content: req.Instruction}}

	toolIndex := make(map[string]tool.Declaration, len(req.Tools))
	for _, decl := range req.Tools {
		toolIndex[decl.Name] = decl
	}

	system := c.cfg.SystemPrompt
	if req.System != "" {
		system = req.System
	}

	for round := 0; round < c.cfg.MaxToolRounds; round++ {
		resp, err := c.complete(ctx, system, wire, req.Tools)
		if err != nil {
			c.emit(ctx, out, llm.Step{Err: err})
			return
		}

		var texts []string
		var toolUses []contentBlock
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				texts = append(texts, block.Text)
			case "tool_use":
				toolUses = append(toolUses, block)
			}
		}
		text := strings.TrimSpace(strings.Join(texts, "\n"))
		terminal := resp.StopReason != "tool_use"

		if text != "" || terminal {
			if !c.emit(ctx, out, llm.Step{Kind: llm.StepAgent, Content: text, Terminal: terminal}) {
				return
			}
		}

		assistant := session.Message{Role: session.RoleAssistant, Content: text}
		for _, use := range toolUses {
			assistant.ToolCalls = append(assistant.ToolCalls, session.ToolCall{
				ID:    use.ID,
				Name:  use.Name,
				Input: use.Input,
			})
		}
		pending = append(pending, assistant)
		wire = append(wire, wireMessage{Role: session.RoleAssistant, Content: resp.Content})

		if terminal || len(toolUses) == 0 {
			c.persist(ctx, req.SessionKey, pending, log)
			return
		}

		var results []contentBlock
		for _, use := range toolUses {
			result := c.dispatch(ctx, toolIndex, use, log)
			if !c.emit(ctx, out, llm.Step{Kind: llm.StepTools, ToolName: use.Name, Content: result}) {
				return
			}
			pending = append(pending, session.Message{
				Role:       session.RoleTool,
				Content:    result,
				ToolCallID: use.ID,
				ToolName:   use.Name,
			})
			results = append(results, contentBlock{
				Type:      "tool_result",
				ToolUseID: use.ID,
				Content:   result,
			})
		}
		wire = append(wire, wireMessage{Role: session.RoleUser, Content: results})
	}

	c.emit(ctx, out, llm.Step{Err: xerrors.New(
		xerrors.CodeLLMFailure,
		fmt.Sprintf("工具派发超过 %d 轮仍未终止", c.cfg.MaxToolRounds),
	)})
}

// dispatch 执行单次工具调用，业务失败转成描述性文本回填给模型。
func (c *Client) dispatch(ctx context.Context, index map[string]tool.Declaration, use contentBlock, log *slog.Logger) string {
	decl, ok := index[use.Name]
	if !ok {
		log.Warn("模型请求了未注册的工具", "tool", use.Name)
		return fmt.Sprintf("unknown tool: %s", use.Name)
	}
	result, err := decl.Invoke(ctx, use.Input)
	metrics.ObserveToolInvocation(use.Name, err == nil)
	if err != nil {
		log.Warn("工具执行失败", "tool", use.Name, "error", err)
		return fmt.Sprintf("tool %s failed: %v", use.Name, err)
	}
	return result
}

func (c *Client) persist(ctx context.Context, key string, msgs []session.Message, log *slog.Logger) {
	if err := c.sessions.Append(ctx, key, msgs...); err != nil {
		log.Warn("写入会话历史失败", "session", key, "error", err)
	}
}

// emit 把事件送入通道，消费方取消时返回 false。
func (c *Client) emit(ctx context.Context, out chan<- llm.Step, step llm.Step) bool {
	select {
	case out <- step:
		return true
	case <-ctx.Done():
		return false
	}
}

type wireMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Error      *apiError      `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (c *Client) complete(ctx context.Context, system string, messages []wireMessage, tools []tool.Declaration) (*messagesResponse, error) {
	payload := messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    system,
		Messages:  messages,
	}
	for _, decl := range tools {
		schema := decl.InputSchema
		if len(schema) == 0 {
			schema = tool.EmptySchema()
		}
		payload.Tools = append(payload.Tools, wireTool{
			Name:        decl.Name,
			Description: decl.Description,
			InputSchema: schema,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "序列化请求失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "构造请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.cfg.APIKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "调用 Anthropic 接口失败")
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "读取响应失败")
	}

	var decoded messagesResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err,
			fmt.Sprintf("解析响应失败 (status %d)", httpResp.StatusCode))
	}
	if httpResp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("anthropic 返回状态码 %d", httpResp.StatusCode)
		if decoded.Error != nil {
			msg = fmt.Sprintf("%s: %s", msg, decoded.Error.Message)
		}
		return nil, xerrors.New(xerrors.CodeLLMFailure, msg)
	}
	return &decoded, nil
}

// toWireMessages 把通用历史转换成 Anthropic 的消息格式。
// 连续的工具结果合并进同一条 user 消息。
func toWireMessages(history []session.Message) []wireMessage {
	var wire []wireMessage
	for _, msg := range history {
		switch msg.Role {
		case session.RoleUser:
			wire = append(wire, wireMessage{
				Role:    session.RoleUser,
				Content: []contentBlock{{Type: "text", Text: msg.Content}},
			})
		case session.RoleAssistant:
			var blocks []contentBlock
			if msg.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				input := call.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: input,
				})
			}
			if len(blocks) == 0 {
				continue
			}
			wire = append(wire, wireMessage{Role: session.RoleAssistant, Content: blocks})
		case session.RoleTool:
			block := contentBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}
			if len(wire) > 0 && wire[len(wire)-1].Role == session.RoleUser &&
				len(wire[len(wire)-1].Content) > 0 && wire[len(wire)-1].Content[0].Type == "tool_result" {
				wire[len(wire)-1].Content = append(wire[len(wire)-1].Content, block)
			} else {
				wire = append(wire, wireMessage{Role: session.RoleUser, Content: []contentBlock{block}})
			}
		}
	}
	return wire
}
