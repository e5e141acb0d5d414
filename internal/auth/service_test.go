package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"pochipo/internal/directory"
	xerrors "pochipo/internal/errors"
)

func TestHashPasswordRoundtrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.Contains(hash, "$") {
		t.Fatalf("哈希缺少盐分隔符: %s", hash)
	}
	if !VerifyPassword(hash, "hunter2") {
		t.Fatal("正确密码应通过校验")
	}
	if VerifyPassword(hash, "hunter3") {
		t.Fatal("错误密码不应通过校验")
	}
	if VerifyPassword("garbage", "hunter2") {
		t.Fatal("非法哈希不应通过校验")
	}

	// 相同密码两次哈希应因为随机盐而不同。
	again, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == again {
		t.Fatal("两次哈希不应相同")
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc, err := NewService(directory.NewMemoryStore(), "secret", 0)
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}
	ctx := context.Background()

	user, err := svc.Register(ctx, "momo", "hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if strings.Contains(user.PasswordHash, "hunter2") {
		t.Fatal("明文密码不应入库")
	}

	token, err := svc.Login(ctx, "momo", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	userID, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != user.ID {
		t.Fatalf("令牌主体不符: %s != %s", userID, user.ID)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, err := NewService(directory.NewMemoryStore(), "secret", 0)
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}
	ctx := context.Background()
	if _, err := svc.Register(ctx, "momo", "hunter2"); err != nil {
		t.Fatalf("register: %v", err)
	}

	// 不存在的用户和错误密码返回同一个错误码，不泄露哪个错了。
	if _, err := svc.Login(ctx, "nobody", "hunter2"); xerrors.CodeOf(err) != CodeInvalidCredentials {
		t.Fatalf("未知用户应返回 INVALID_CREDENTIALS，实际 %v", err)
	}
	if _, err := svc.Login(ctx, "momo", "wrong"); xerrors.CodeOf(err) != CodeInvalidCredentials {
		t.Fatalf("错误密码应返回 INVALID_CREDENTIALS，实际 %v", err)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	svc, err := NewService(directory.NewMemoryStore(), "secret", 0)
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}
	ctx := context.Background()
	if _, err := svc.Register(ctx, "momo", "hunter2"); err != nil {
		t.Fatalf("register: %v", err)
	}
	token, err := svc.Login(ctx, "momo", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := svc.Verify(token + "x"); err == nil {
		t.Fatal("篡改后的令牌不应通过")
	}
	if _, err := svc.Verify("not.a.token"); err == nil {
		t.Fatal("非法令牌不应通过")
	}

	// 换密钥签发的令牌不应通过。
	other, err := NewService(directory.NewMemoryStore(), "other-secret", 0)
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}
	if _, err := other.Verify(token); err == nil {
		t.Fatal("跨密钥令牌不应通过")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	secret := []byte("secret")
	token, err := signToken(secret, "u1", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := parseToken(secret, token); err == nil {
		t.Fatal("过期令牌不应通过")
	}
}
