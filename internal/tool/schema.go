package tool

import "encoding/json"

// Property 描述 JSON Schema 中的一个字段。
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ObjectSchema 构造一个 type=object 的 JSON Schema。
// properties 按插入顺序无关紧要，required 列出必填字段。
func ObjectSchema(properties map[string]Property, required ...string) json.RawMessage {
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	encoded, err := json.Marshal(schema)
	if err != nil {
		// properties 只包含可序列化的基本类型，这里不应出错。
		return json.RawMessage(`{"type":"object"}`)
	}
	return encoded
}

// EmptySchema 返回无参数工具的 Schema。
func EmptySchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
}

// String 定义一个字符串字段。
func String(description string) Property {
	return Property{Type: "string", Description: description}
}

// Number 定义一个数值字段。
func Number(description string) Property {
	return Property{Type: "number", Description: description}
}

// Boolean 定义一个布尔字段。
func Boolean(description string) Property {
	return Property{Type: "boolean", Description: description}
}
