// Package agent 实现对话循环：驱动推理能力、派发工具、维护评估→铸币
// 接力的状态机，并对一条入站消息产出恰好一条最终回复。
package agent

import (
	"context"
	"log/slog"
	"strings"

	xerrors "pochipo/internal/errors"
	"pochipo/internal/knowledge"
	"pochipo/internal/llm"
	"pochipo/internal/tool"
	"pochipo/pkg/logger"
)

// CodeHandoffExhausted 表示评估→铸币接力超出预算仍未终止。
const CodeHandoffExhausted xerrors.Code = "HANDOFF_EXHAUSTED"

func init() {
	xerrors.Register(CodeHandoffExhausted, xerrors.Attributes{
		Message:  "evaluate-to-mint handoff budget exhausted",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// 接力途中遇到无法解析的终止输出时的处理策略。
const (
	// PolicyLenient 吞掉解析失败，继续等待下一轮（受接力预算约束）。
	PolicyLenient = "lenient"
	// PolicyStrict 把解析失败的输出直接当作最终回复。
	PolicyStrict = "strict"
)

// Config 控制对话循环的行为。
type Config struct {
	// MaxHandoffs 限制一条消息允许的重新推理次数。
	MaxHandoffs int
	// HandoffPolicy 取 PolicyLenient 或 PolicyStrict。
	HandoffPolicy string
}

// Service 是对话循环的编排器。除工具自身的副作用外，循环本身不
// 产生任何副作用。
type Service struct {
	llm         llm.Client
	registry    *tool.Registry
	know        knowledge.Provider
	maxHandoffs int
	strict      bool
}

// New 构造对话服务。know 可以为 nil。
func New(client llm.Client, registry *tool.Registry, know knowledge.Provider, cfg Config) (*Service, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少推理客户端")
	}
	if registry == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少工具注册表")
	}
	maxHandoffs := cfg.MaxHandoffs
	if maxHandoffs <= 0 {
		maxHandoffs = 3
	}
	strict := false
	switch strings.ToLower(strings.TrimSpace(cfg.HandoffPolicy)) {
	case "", PolicyLenient:
	case PolicyStrict:
		strict = true
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的接力策略: "+cfg.HandoffPolicy)
	}
	return &Service{
		llm:         client,
		registry:    registry,
		know:        know,
		maxHandoffs: maxHandoffs,
		strict:      strict,
	}, nil
}

// Respond 处理一条入站消息并返回最终回复。内部可能多次调用推理
// 能力：评估判定为 meme 时，会用合成的铸币指令再走一轮。
func (s *Service) Respond(ctx context.Context, sessionKey, message string) (string, error) {
	log := logger.Named("agent")
	declarations := s.registry.Declarations()
	system := buildSystemPrompt(s.know, message)
	state := pipelineState{}

	for {
		instruction := message
		if state.step == stepAwaitingMint {
			instruction = state.pendingInstruction
		}

		steps, err := s.llm.Stream(ctx, llm.Request{
			Instruction: instruction,
			SessionKey:  sessionKey,
			System:      system,
			Tools:       declarations,
		})
		if err != nil {
			return "", err
		}

		final, haveFinal, err := s.consume(ctx, steps, &state, log)
		if err != nil {
			return "", err
		}
		if haveFinal {
			return final, nil
		}

		state.handoffs++
		if state.handoffs > s.maxHandoffs {
			return "", xerrors.New(CodeHandoffExhausted, "",
				xerrors.WithMetadata("session", sessionKey))
		}
		log.Info("接力进入下一轮", "session", sessionKey, "handoff", state.handoffs)
	}
}

// consume 按序处理一轮的全部事件，推进状态机。
func (s *Service) consume(ctx context.Context, steps <-chan llm.Step, state *pipelineState, log *slog.Logger) (string, bool, error) {
	for step := range steps {
		if step.Err != nil {
			return "", false, step.Err
		}

		switch step.Kind {
		case llm.StepTools:
			if step.ToolName == ToolTweetEvaluator {
				state.lastToolUsed = ToolTweetEvaluator
			} else {
				// 其它工具的调用打断进行中的接力。
				state.clearPending()
			}
			log.Debug("工具调用完成", "tool", step.ToolName)

		case llm.StepAgent:
			if !step.Terminal {
				continue
			}
			if state.lastToolUsed != ToolTweetEvaluator {
				return step.Content, true, nil
			}

			eval, raw, ok := parseEvaluation(step.Content)
			if !ok {
				// 解析失败按策略处理：宽松策略吞掉继续，严格策略
				// 当作最终回复。
				if s.strict {
					state.clearPending()
					return step.Content, true, nil
				}
				continue
			}
			if eval.LikelyMeme {
				state.step = stepAwaitingMint
				state.pendingInstruction = mintInstruction(raw)
				state.lastToolUsed = ""
				continue
			}
			state.clearPending()
			return raw, true, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}
