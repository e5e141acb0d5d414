package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// InvokeFunc 执行一次工具调用。参数是推理能力给出的原始 JSON。
// 返回值永远是一段文本：要么直接面向用户，要么是供推理能力继续加工的
// 指令。工具内部的业务失败应当转成描述性文本返回，而不是 error；error
// 只用于基础设施层面的异常（参数完全无法解析等）。
type InvokeFunc func(ctx context.Context, args json.RawMessage) (string, error)

// Declaration 描述一个可供推理能力调用的工具。
type Declaration struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Invoke      InvokeFunc
}

// Registry 维护全部已声明的工具，按名称唯一。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Declaration
	names []string
}

// NewRegistry 创建一个空的工具注册表。
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Declaration)}
}

// Register 注册一个工具。重复的名称会被拒绝。
func (r *Registry) Register(decl Declaration) error {
	name := strings.TrimSpace(decl.Name)
	if name == "" {
		return fmt.Errorf("工具名称不能为空")
	}
	if decl.Invoke == nil {
		return fmt.Errorf("工具 %s 缺少实现", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("工具 %s 已注册", name)
	}
	decl.Name = name
	r.tools[name] = decl
	r.names = append(r.names, name)
	return nil
}

// Get 按名称查找工具。
func (r *Registry) Get(name string) (Declaration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decl, ok := r.tools[name]
	return decl, ok
}

// Declarations 返回全部工具声明，按注册顺序排列。
func (r *Registry) Declarations() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decls := make([]Declaration, 0, len(r.names))
	for _, name := range r.names {
		decls = append(decls, r.tools[name])
	}
	return decls
}

// Names 返回全部工具名称，按字典序排列。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.names...)
	sort.Strings(names)
	return names
}
