// Package openai 通过 OpenAI 兼容的 Chat Completions 端点驱动对话式
// 推理，作为 Anthropic 之外的备用提供方。
package openai

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
	defaultBaseURL    = "https://api.openai.com"
	defaultModel      = "gpt-4o-mini"
	defaultTimeout    = 60 * time.Second
	defaultToolRounds = 8
)

// Config 描述 OpenAI 客户端的配置项。
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	SystemPrompt  string
	Timeout       time.Duration
	MaxToolRounds int
}

// Client 是 llm.Client 的 OpenAI 实现。
type Client struct {
	cfg        Config
	httpClient *http.Client
	sessions   session.Store
}

// NewClient 构造 OpenAI 客户端。
func NewClient(cfg Config, sessions session.Store) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, xerrors.New(xerrors.CodeConfigMissing, "openai api key 不能为空")
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

// Stream 实现 llm.Client。
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
	log := logger.Named("llm.openai")

	history, err := c.sessions.History(ctx, req.SessionKey)
	if err != nil {
		c.emit(ctx, out, llm.Step{Err: xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话历史失败")})
		return
	}

	system := c.cfg.SystemPrompt
	if req.System != "" {
		system = req.System
	}
	wire := toWireMessages(system, history)
	wire = append(wire, wireMessage{Role: session.RoleUser, Content: req.Instruction})
	pending := []session.Message{{Role: session.RoleUser, Content: req.Instruction}}

	toolIndex := make(map[string]tool.Declaration, len(req.Tools))
	for _, decl := range req.Tools {
		toolIndex[decl.Name] = decl
	}

	for round := 0; round < c.cfg.MaxToolRounds; round++ {
		choice, err := c.complete(ctx, wire, req.Tools)
		if err != nil {
			c.emit(ctx, out, llm.Step{Err: err})
			return
		}

		text := strings.TrimSpace(choice.Message.Content)
		terminal := choice.FinishReason != "tool_calls"

		if text != "" || terminal {
			if !c.emit(ctx, out, llm.Step{Kind: llm.StepAgent, Content: text, Terminal: terminal}) {
				return
			}
		}

		assistant := session.Message{Role: session.RoleAssistant, Content: text}
		for _, call := range choice.Message.ToolCalls {
			assistant.ToolCalls = append(assistant.ToolCalls, session.ToolCall{
				ID:    call.ID,
				Name:  call.Function.Name,
				Input: json.RawMessage(call.Function.Arguments),
			})
		}
		pending = append(pending, assistant)
		wire = append(wire, choice.Message)

		if terminal || len(choice.Message.ToolCalls) == 0 {
			c.persist(ctx, req.SessionKey, pending, log)
			return
		}

		for _, call := range choice.Message.ToolCalls {
			result := c.dispatch(ctx, toolIndex, call, log)
			if !c.emit(ctx, out, llm.Step{Kind: llm.StepTools, ToolName: call.Function.Name, Content: result}) {
				return
			}
			pending = append(pending, session.Message{
				Role:       session.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
			})
			wire = append(wire, wireMessage{
				Role:       session.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	c.emit(ctx, out, llm.Step{Err: xerrors.New(
		xerrors.CodeLLMFailure,
		fmt.Sprintf("工具派发超过 %d 轮仍未终止", c.cfg.MaxToolRounds),
	)})
}

func (c *Client) dispatch(ctx context.Context, index map[string]tool.Declaration, call wireToolCall, log *slog.Logger) string {
	decl, ok := index[call.Function.Name]
	if !ok {
		log.Warn("模型请求了未注册的工具", "tool", call.Function.Name)
		return fmt.Sprintf("unknown tool: %s", call.Function.Name)
	}
	result, err := decl.Invoke(ctx, json.RawMessage(call.Function.Arguments))
	metrics.ObserveToolInvocation(call.Function.Name, err == nil)
	if err != nil {
		log.Warn("工具执行失败", "tool", call.Function.Name, "error", err)
		return fmt.Sprintf("tool %s failed: %v", call.Function.Name, err)
	}
	return result
}

func (c *Client) persist(ctx context.Context, key string, msgs []session.Message, log *slog.Logger) {
	if err := c.sessions.Append(ctx, key, msgs...); err != nil {
		log.Warn("写入会话历史失败", "session", key, "error", err)
	}
}

func (c *Client) emit(ctx context.Context, out chan<- llm.Step, step llm.Step) bool {
	select {
	case out <- step:
		return true
	case <-ctx.Done():
		return false
	}
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type completionChoice struct {
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type completionResponse struct {
	Choices []completionChoice `json:"choices"`
	Error   *apiError          `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (c *Client) complete(ctx context.Context, messages []wireMessage, tools []tool.Declaration) (*completionChoice, error) {
	payload := completionRequest{
		Model:    c.cfg.Model,
		Messages: messages,
	}
	for _, decl := range tools {
		schema := decl.InputSchema
		if len(schema) == 0 {
			schema = tool.EmptySchema()
		}
		payload.Tools = append(payload.Tools, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  schema,
			},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "序列化请求失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "构造请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "调用 OpenAI 接口失败")
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "读取响应失败")
	}

	var decoded completionResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err,
			fmt.Sprintf("解析响应失败 (status %d)", httpResp.StatusCode))
	}
	if httpResp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("openai 返回状态码 %d", httpResp.StatusCode)
		if decoded.Error != nil {
			msg = fmt.Sprintf("%s: %s", msg, decoded.Error.Message)
		}
		return nil, xerrors.New(xerrors.CodeLLMFailure, msg)
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeLLMFailure, "响应中没有候选结果")
	}
	return &decoded.Choices[0], nil
}

// toWireMessages 把通用历史转换成 Chat Completions 的消息格式。
func toWireMessages(systemPrompt string, history []session.Message) []wireMessage {
	var wire []wireMessage
	if systemPrompt != "" {
		wire = append(wire, wireMessage{Role: "system", Content: systemPrompt})
	}
	for _, msg := range history {
		switch msg.Role {
		case session.RoleUser:
			wire = append(wire, wireMessage{Role: session.RoleUser, Content: msg.Content})
		case session.RoleAssistant:
			entry := wireMessage{Role: session.RoleAssistant, Content: msg.Content}
			for _, call := range msg.ToolCalls {
				entry.ToolCalls = append(entry.ToolCalls, wireToolCall{
					ID:   call.ID,
					Type: "function",
					Function: wireFunction{
						Name:      call.Name,
						Arguments: string(call.Input),
					},
				})
			}
			wire = append(wire, entry)
		case session.RoleTool:
			wire = append(wire, wireMessage{
				Role:       session.RoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		}
	}
	return wire
}
