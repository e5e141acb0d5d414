package llm

import (
	"context"

	"pochipo/internal/tool"
)

// StepKind 区分推理流中的事件类型。
type StepKind string

const (
	// StepAgent 表示助手侧的一段文本输出。
	StepAgent StepKind = "agent"
	// StepTools 表示一次已完成的工具调用结果。
	StepTools StepKind = "tools"
)

// Step 是推理能力吐出的一个事件。Err 非空表示流异常结束，
// 之后通道会被关闭。
type Step struct {
	Kind     StepKind
	Content  string
	ToolName string
	Terminal bool
	Err      error
}

// Request 描述一次推理调用：一条指令、会话标识以及本轮可用的全部工具。
// System 非空时覆盖客户端默认的系统提示词。
type Request struct {
	Instruction string
	SessionKey  string
	System      string
	Tools       []tool.Declaration
}

// Client 定义了调用大模型的统一接口。返回的通道按序给出本轮全部事件，
// 在终止回复或错误之后关闭。实现按需推进：调用方不消费时不应继续产生
// 新的模型调用。
type Client interface {
	Stream(ctx context.Context, req Request) (<-chan Step, error)
}
