package config

import (
	"fmt"
	"os"
	"strings"

	xerrors "pochipo/internal/errors"
)

// 环境变量名称。密钥类配置只从环境读取，不落配置文件。
const (
	EnvAnthropicAPIKey    = "ANTHROPIC_API_KEY"
	EnvCDPAPIKeyName      = "CDP_API_KEY_NAME"
	EnvCDPAPIKeyPrivate   = "CDP_API_KEY_PRIVATE_KEY"
	EnvJWTSecret          = "JWT_SECRET"
	EnvRPCURL             = "RPC_URL"
	EnvAgentWalletKey     = "AGENT_WALLET_PRIVATE_KEY"
	EnvNetworkID          = "NETWORK_ID"
	EnvSocialBearerToken  = "X_BEARER_TOKEN"
	EnvOpenAIAPIKeyLegacy = "OPENAI_API_KEY"
)

// DefaultNetworkID 是未设置 NETWORK_ID 时使用的公共测试网。
const DefaultNetworkID = "base-sepolia"

// Env 汇总进程启动时读取的环境配置。
type Env struct {
	AnthropicAPIKey   string
	CDPAPIKeyName     string
	CDPAPIKeyPrivate  string
	JWTSecret         string
	RPCURL            string
	AgentWalletKey    string
	NetworkID         string
	SocialBearerToken string
}

// requiredVars 列出缺失即拒绝启动的变量。
var requiredVars = []string{
	EnvAnthropicAPIKey,
	EnvCDPAPIKeyName,
	EnvCDPAPIKeyPrivate,
	EnvJWTSecret,
	EnvRPCURL,
	EnvAgentWalletKey,
}

// LoadEnv 校验并读取环境变量。缺失的必填项会在错误信息中逐个列出。
func LoadEnv() (*Env, error) {
	var missing []string
	for _, name := range requiredVars {
		if strings.TrimSpace(os.Getenv(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		var builder strings.Builder
		builder.WriteString("required environment variables are not set:\n")
		for _, name := range missing {
			builder.WriteString(fmt.Sprintf("%s=your_%s_here\n", name, strings.ToLower(name)))
		}
		return nil, xerrors.New(xerrors.CodeConfigMissing, strings.TrimSpace(builder.String()))
	}

	env := &Env{
		AnthropicAPIKey:   strings.TrimSpace(os.Getenv(EnvAnthropicAPIKey)),
		CDPAPIKeyName:     strings.TrimSpace(os.Getenv(EnvCDPAPIKeyName)),
		CDPAPIKeyPrivate:  normalizeKeyMaterial(os.Getenv(EnvCDPAPIKeyPrivate)),
		JWTSecret:         strings.TrimSpace(os.Getenv(EnvJWTSecret)),
		RPCURL:            strings.TrimSpace(os.Getenv(EnvRPCURL)),
		AgentWalletKey:    strings.TrimSpace(os.Getenv(EnvAgentWalletKey)),
		NetworkID:         strings.TrimSpace(os.Getenv(EnvNetworkID)),
		SocialBearerToken: strings.TrimSpace(os.Getenv(EnvSocialBearerToken)),
	}
	if env.NetworkID == "" {
		env.NetworkID = DefaultNetworkID
	}
	return env, nil
}

// normalizeKeyMaterial 还原环境变量中被转义的换行符。
func normalizeKeyMaterial(value string) string {
	return strings.TrimSpace(strings.ReplaceAll(value, `\n`, "\n"))
}
