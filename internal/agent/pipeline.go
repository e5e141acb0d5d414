package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// pipelineStep 是评估→铸币接力的显式状态。
type pipelineStep int

const (
	// stepNone 表示没有进行中的接力。
	stepNone pipelineStep = iota
	// stepAwaitingMint 表示评估判定为 meme，下一轮用合成指令触发铸币。
	stepAwaitingMint
)

// pipelineState 记录一次对话内的接力进度。handoffs 跨清空保留，
// 用来限制重新推理的总次数。
type pipelineState struct {
	step               pipelineStep
	pendingInstruction string
	lastToolUsed       string
	handoffs           int
}

// clearPending 清空接力状态，保留已消耗的接力次数。
func (s *pipelineState) clearPending() {
	s.step = stepNone
	s.pendingInstruction = ""
	s.lastToolUsed = ""
}

// Evaluation 是评估工具约定的输出结构。likelyMeme 为假时，
// name/symbol/description/tokenPost 约定为 "NOTAPPLY"。
type Evaluation struct {
	Tweet                 string `json:"tweet"`
	Retweets              int    `json:"retweets"`
	Likes                 int    `json:"likes"`
	Link                  string `json:"link"`
	LikelyMeme            bool   `json:"likelyMeme"`
	LikelyMemeExplanation string `json:"likelyMemeExplanation"`
	Name                  string `json:"name"`
	Symbol                string `json:"symbol"`
	Description           string `json:"description"`
	TokenPost             string `json:"tokenPost"`
}

// parseEvaluation 尝试把终止输出解析为评估结果。输出里夹带代码块
// 标记时先剥掉。解析失败返回 ok=false，由调用方按接力策略处理。
func parseEvaluation(text string) (*Evaluation, string, bool) {
	candidate := strings.TrimSpace(text)
	candidate = strings.TrimPrefix(candidate, "```json")
	candidate = strings.TrimPrefix(candidate, "```")
	candidate = strings.TrimSuffix(candidate, "```")
	candidate = strings.TrimSpace(candidate)
	if !strings.HasPrefix(candidate, "{") {
		return nil, "", false
	}
	var eval Evaluation
	if err := json.Unmarshal([]byte(candidate), &eval); err != nil {
		return nil, "", false
	}
	return &eval, candidate, true
}

// mintInstruction 把评估结果合成为下一轮的铸币指令。
func mintInstruction(evaluationJSON string) string {
	return fmt.Sprintf(
		"Please, create the following token in moonshot:\n%s\nOther values, use the default value.",
		evaluationJSON)
}
