// Package auth 负责用户注册、登录与会话令牌的签发校验。
package auth

import (
	"context"
	"strings"
	"time"

	"pochipo/internal/directory"
	xerrors "pochipo/internal/errors"
)

// CodeInvalidCredentials 表示用户名或密码不正确。对外不区分两种情况。
const CodeInvalidCredentials xerrors.Code = "INVALID_CREDENTIALS"

func init() {
	xerrors.Register(CodeInvalidCredentials, xerrors.Attributes{
		Message:  "invalid username or password",
		Severity: xerrors.SeverityInfo,
	})
}

const defaultTokenTTL = 24 * time.Hour

// Service 提供注册与登录能力，密码永远只存加盐哈希。
type Service struct {
	store  directory.Store
	secret []byte
	ttl    time.Duration
}

// NewService 构造认证服务。
func NewService(store directory.Store, secret string, ttl time.Duration) (*Service, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "认证服务缺少目录存储")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, xerrors.New(xerrors.CodeConfigMissing, "会话签名密钥不能为空")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Service{store: store, secret: []byte(secret), ttl: ttl}, nil
}

// Register 创建新用户。用户名冲突返回 USER_EXISTS。
func (s *Service) Register(ctx context.Context, username, password string) (*directory.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "密码不可用")
	}
	return s.store.CreateUser(ctx, username, hash)
}

// Login 校验凭据并签发会话令牌。
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.UserByUsername(ctx, username)
	if err != nil {
		if xerrors.CodeOf(err) == directory.CodeUserNotFound {
			return "", xerrors.New(CodeInvalidCredentials, "")
		}
		return "", err
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return "", xerrors.New(CodeInvalidCredentials, "")
	}
	token, err := signToken(s.secret, user.ID, s.ttl)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "签发令牌失败")
	}
	return token, nil
}

// Verify 校验令牌并返回用户 ID。
func (s *Service) Verify(token string) (string, error) {
	userID, err := parseToken(s.secret, strings.TrimSpace(token))
	if err != nil {
		return "", xerrors.Wrap(CodeInvalidCredentials, err, "令牌校验失败")
	}
	return userID, nil
}
