package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"pochipo/internal/llm"
	"pochipo/internal/llm/session"
	"pochipo/internal/tool"
)

func collect(t *testing.T, steps <-chan llm.Step) []llm.Step {
	t.Helper()
	var all []llm.Step
	for step := range steps {
		all = append(all, step)
	}
	return all
}

func TestStreamPlainResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("未知路径: %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Fatalf("缺少 API key 头")
		}
		if r.Header.Get("Anthropic-Version") == "" {
			t.Fatalf("缺少版本头")
		}
		_ = json.NewEncoder(w).Encode(messagesResponse{
			Content:    []contentBlock{{Type: "text", Text: "hello there"}},
			StopReason: "end_turn",
		})
	}))
	defer srv.Close()

	store := session.NewMemoryStore(0)
	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL}, store)
	if err != nil {
		t.Fatalf("构造客户端失败: %v", err)
	}

	steps, err := client.Stream(context.Background(), llm.Request{
		Instruction: "hi", SessionKey: "s1",
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	all := collect(t, steps)
	if len(all) != 1 {
		t.Fatalf("事件数不符: %+v", all)
	}
	if all[0].Kind != llm.StepAgent || !all[0].Terminal || all[0].Content != "hello there" {
		t.Fatalf("事件不符: %+v", all[0])
	}

	// 一轮结束后用户消息和助手回复都应入库。
	history, _ := store.History(context.Background(), "s1")
	if len(history) != 2 || history[0].Role != session.RoleUser || history[1].Role != session.RoleAssistant {
		t.Fatalf("会话历史不符: %+v", history)
	}
}

func TestStreamDispatchesTools(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("解析请求失败: %v", err)
		}
		switch calls {
		case 1:
			if len(req.Tools) != 1 || req.Tools[0].Name != "echo" {
				t.Fatalf("工具声明不符: %+v", req.Tools)
			}
			_ = json.NewEncoder(w).Encode(messagesResponse{
				Content: []contentBlock{{
					Type: "tool_use", ID: "call-1", Name: "echo",
					Input: json.RawMessage(`{"text":"ping"}`),
				}},
				StopReason: "tool_use",
			})
		case 2:
			// 第二次调用必须携带回填的工具结果。
			last := req.Messages[len(req.Messages)-1]
			if last.Role != session.RoleUser || len(last.Content) != 1 ||
				last.Content[0].Type != "tool_result" || last.Content[0].Content != "pong: ping" {
				t.Fatalf("工具结果未回填: %+v", last)
			}
			_ = json.NewEncoder(w).Encode(messagesResponse{
				Content:    []contentBlock{{Type: "text", Text: "done"}},
				StopReason: "end_turn",
			})
		default:
			t.Fatalf("多余的模型调用: %d", calls)
		}
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, session.NewMemoryStore(0))
	if err != nil {
		t.Fatalf("构造客户端失败: %v", err)
	}

	echo := tool.Declaration{
		Name: "echo",
		Invoke: func(_ context.Context, args json.RawMessage) (string, error) {
			var input struct {
				Text string `json:"text"`
			}
			_ = json.Unmarshal(args, &input)
			return "pong: " + input.Text, nil
		},
	}

	steps, err := client.Stream(context.Background(), llm.Request{
		Instruction: "go", SessionKey: "s1", Tools: []tool.Declaration{echo},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	all := collect(t, steps)
	if len(all) != 2 {
		t.Fatalf("事件数不符: %+v", all)
	}
	if all[0].Kind != llm.StepTools || all[0].ToolName != "echo" || all[0].Content != "pong: ping" {
		t.Fatalf("工具事件不符: %+v", all[0])
	}
	if all[1].Kind != llm.StepAgent || !all[1].Terminal || all[1].Content != "done" {
		t.Fatalf("终止事件不符: %+v", all[1])
	}
}

func TestStreamUnknownToolFeedsBackError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_ = json.NewEncoder(w).Encode(messagesResponse{
				Content: []contentBlock{{
					Type: "tool_use", ID: "call-1", Name: "ghost",
					Input: json.RawMessage(`{}`),
				}},
				StopReason: "tool_use",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(messagesResponse{
			Content:    []contentBlock{{Type: "text", Text: "sorry"}},
			StopReason: "end_turn",
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, session.NewMemoryStore(0))
	if err != nil {
		t.Fatalf("构造客户端失败: %v", err)
	}

	steps, err := client.Stream(context.Background(), llm.Request{Instruction: "go", SessionKey: "s1"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	all := collect(t, steps)
	if len(all) != 2 {
		t.Fatalf("事件数不符: %+v", all)
	}
	if all[0].Content != "unknown tool: ghost" {
		t.Fatalf("未注册工具的反馈不符: %q", all[0].Content)
	}
}

func TestStreamToolRoundBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// 永远要求调用工具，永不终止。
		_ = json.NewEncoder(w).Encode(messagesResponse{
			Content: []contentBlock{{
				Type: "tool_use", ID: "c", Name: "echo", Input: json.RawMessage(`{}`),
			}},
			StopReason: "tool_use",
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, MaxToolRounds: 2}, session.NewMemoryStore(0))
	if err != nil {
		t.Fatalf("构造客户端失败: %v", err)
	}
	echo := tool.Declaration{
		Name:   "echo",
		Invoke: func(context.Context, json.RawMessage) (string, error) { return "ok", nil },
	}

	steps, err := client.Stream(context.Background(), llm.Request{
		Instruction: "go", SessionKey: "s1", Tools: []tool.Declaration{echo},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	all := collect(t, steps)
	last := all[len(all)-1]
	if last.Err == nil {
		t.Fatalf("预算耗尽应以错误结束: %+v", all)
	}
}

func TestStreamRejectsEmptyInstruction(t *testing.T) {
	client, err := NewClient(Config{APIKey: "k"}, session.NewMemoryStore(0))
	if err != nil {
		t.Fatalf("构造客户端失败: %v", err)
	}
	if _, err := client.Stream(context.Background(), llm.Request{Instruction: "  "}); err == nil {
		t.Fatal("空指令应被拒绝")
	}
}
