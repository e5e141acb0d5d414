package tool

import (
	"context"
	"encoding/json"
	"testing"
)

func noop(context.Context, json.RawMessage) (string, error) { return "", nil }

func TestRegisterRejectsInvalidDeclarations(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(Declaration{Name: "", Invoke: noop}); err == nil {
		t.Fatal("空名称应被拒绝")
	}
	if err := registry.Register(Declaration{Name: "  ", Invoke: noop}); err == nil {
		t.Fatal("空白名称应被拒绝")
	}
	if err := registry.Register(Declaration{Name: "x"}); err == nil {
		t.Fatal("缺少实现应被拒绝")
	}
	if err := registry.Register(Declaration{Name: "x", Invoke: noop}); err != nil {
		t.Fatalf("合法声明注册失败: %v", err)
	}
	if err := registry.Register(Declaration{Name: "x", Invoke: noop}); err == nil {
		t.Fatal("重名应被拒绝")
	}
	if err := registry.Register(Declaration{Name: " x ", Invoke: noop}); err == nil {
		t.Fatal("去空白后重名应被拒绝")
	}
}

func TestDeclarationsKeepRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if err := registry.Register(Declaration{Name: name, Invoke: noop}); err != nil {
			t.Fatalf("注册失败: %v", err)
		}
	}

	decls := registry.Declarations()
	for i, want := range []string{"charlie", "alpha", "bravo"} {
		if decls[i].Name != want {
			t.Fatalf("声明顺序不符: %v", decls)
		}
	}

	names := registry.Names()
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if names[i] != want {
			t.Fatalf("名称应按字典序: %v", names)
		}
	}

	if _, ok := registry.Get("alpha"); !ok {
		t.Fatal("按名称查找失败")
	}
	if _, ok := registry.Get("missing"); ok {
		t.Fatal("不存在的名称不应命中")
	}
}

func TestObjectSchemaShape(t *testing.T) {
	schema := ObjectSchema(map[string]Property{
		"name":  String("the name"),
		"count": Number("how many"),
		"flag":  Boolean("on or off"),
	}, "name")

	var decoded struct {
		Type       string `json:"type"`
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &decoded); err != nil {
		t.Fatalf("schema 不是合法 JSON: %v", err)
	}
	if decoded.Type != "object" {
		t.Fatalf("顶层类型不符: %s", decoded.Type)
	}
	if decoded.Properties["name"].Type != "string" ||
		decoded.Properties["count"].Type != "number" ||
		decoded.Properties["flag"].Type != "boolean" {
		t.Fatalf("属性类型不符: %+v", decoded.Properties)
	}
	if len(decoded.Required) != 1 || decoded.Required[0] != "name" {
		t.Fatalf("必填列表不符: %v", decoded.Required)
	}
}
