package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestNewFallsBackToRegisteredMessage(t *testing.T) {
	err := New(CodeNotFound, "")
	if err.Message() != "resource not found" {
		t.Fatalf("默认文案不符: %q", err.Message())
	}
	if err.Code() != CodeNotFound {
		t.Fatalf("错误码不符: %s", err.Code())
	}

	custom := New(CodeNotFound, "钱包不存在")
	if custom.Message() != "钱包不存在" {
		t.Fatalf("自定义文案不符: %q", custom.Message())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(CodeStorageFailure, cause, "写库失败")

	if !stdErrors.Is(err, cause) {
		t.Fatal("errors.Is 应命中底层错误")
	}
	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("错误码不符: %s", CodeOf(err))
	}
	if CodeOf(fmt.Errorf("wrapped: %w", err)) != CodeStorageFailure {
		t.Fatal("多层包裹后仍应解析出错误码")
	}
}

func TestCodeOfUnknownForForeignErrors(t *testing.T) {
	if CodeOf(fmt.Errorf("plain")) != CodeUnknown {
		t.Fatal("非统一错误应归入 UNKNOWN")
	}
	if CodeOf(nil) != CodeUnknown {
		t.Fatal("nil 应归入 UNKNOWN")
	}
}

func TestRegisteredAttributesDriveBehavior(t *testing.T) {
	const code Code = "TEST_ONLY_CODE"
	Register(code, Attributes{
		Message:   "test only",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     true,
	})

	err := New(code, "")
	if !RetryableError(err) {
		t.Fatal("注册为可重试的错误码应可重试")
	}
	if !ShouldAlert(err) {
		t.Fatal("注册为告警的错误码应触发告警")
	}
	if SeverityOf(err) != SeverityWarning {
		t.Fatalf("严重程度不符: %s", SeverityOf(err))
	}

	// 实例级覆盖优先于注册属性。
	overridden := New(code, "", WithSeverity(SeverityCritical))
	if overridden.Severity() != SeverityCritical {
		t.Fatalf("覆盖未生效: %s", overridden.Severity())
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(CodeUnknown, "", WithMetadata("session", "s1"))
	meta := err.Metadata()
	if meta["session"] != "s1" {
		t.Fatalf("附加信息不符: %+v", meta)
	}
	meta["session"] = "mutated"
	if err.Metadata()["session"] != "s1" {
		t.Fatal("附加信息不应被调用方原地篡改")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeConflict, "first")
	b := New(CodeConflict, "second")
	if !stdErrors.Is(a, b) {
		t.Fatal("相同错误码应通过 errors.Is 匹配")
	}
	if stdErrors.Is(a, New(CodeNotFound, "")) {
		t.Fatal("不同错误码不应匹配")
	}
}
