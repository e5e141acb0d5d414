package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// tokenHeader 是固定的 HS256 JWT 头部。
var tokenHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

type tokenClaims struct {
	Subject  string `json:"sub"`
	IssuedAt int64  `json:"iat"`
	Expires  int64  `json:"exp"`
}

// signToken 签发一个 HS256 JWT，sub 为用户 ID。
func signToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Subject:  userID,
		IssuedAt: now.Unix(),
		Expires:  now.Add(ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("序列化 claims 失败: %w", err)
	}
	signingInput := tokenHeader + "." + base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signingInput))
	signature := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return signingInput + "." + signature, nil
}

// parseToken 校验签名与有效期，返回用户 ID。
func parseToken(secret []byte, token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("token 结构非法")
	}
	signingInput := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signingInput))
	expected := mac.Sum(nil)
	actual, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("token 签名编码非法")
	}
	if !hmac.Equal(expected, actual) {
		return "", fmt.Errorf("token 签名不匹配")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("token 载荷编码非法")
	}
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("token 载荷解析失败")
	}
	if claims.Expires > 0 && time.Now().Unix() > claims.Expires {
		return "", fmt.Errorf("token 已过期")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token 缺少用户标识")
	}
	return claims.Subject, nil
}
