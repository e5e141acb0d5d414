package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	xerrors "pochipo/internal/errors"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pochipo.json")
	content := `{
  "server": {"address": ":8080"},
  "directory": {"driver": "mysql", "dsn": "root:root@tcp(127.0.0.1:3306)/pochipo"},
  "web3": {"chain_config": "chains.yaml"}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("监听地址不符: %s", cfg.Server.Address)
	}
	if cfg.Directory.Driver != "mysql" {
		t.Fatalf("目录驱动不符: %s", cfg.Directory.Driver)
	}
	if cfg.Session.Driver != "memory" || cfg.Session.MaxTurns != 40 {
		t.Fatalf("会话默认值不符: %+v", cfg.Session)
	}
	if cfg.Agent.MaxHandoffs != 3 || cfg.Agent.HandoffPolicy != "lenient" {
		t.Fatalf("对话循环默认值不符: %+v", cfg.Agent)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.Anthropic.MaxTokens != 1024 {
		t.Fatalf("推理默认值不符: %+v", cfg.LLM)
	}
	if cfg.SnipeQueue.Redis.Key != "pochipo:snipes" || cfg.SnipeQueue.RabbitMQ.Queue != "pochipo.snipes" {
		t.Fatalf("队列默认值不符: %+v", cfg.SnipeQueue)
	}

	// 相对路径的链配置应按配置文件所在目录解析。
	want := filepath.Join(dir, "chains.yaml")
	if cfg.Web3.ChainConfig != want {
		t.Fatalf("链配置路径不符: %s != %s", cfg.Web3.ChainConfig, want)
	}
}

func TestLoadRejectsMissingOrBrokenFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("空路径应报错")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("缺失文件应报错")
	}

	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("写配置失败: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("非法 JSON 应报错")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Server.Address != ":3000" {
		t.Fatalf("默认监听地址不符: %s", cfg.Server.Address)
	}
	if cfg.Moonshot.BaseURL != "https://api-devnet.moonshot.cc" || cfg.Moonshot.SlippageBps != 1000 {
		t.Fatalf("Moonshot 默认值不符: %+v", cfg.Moonshot)
	}
	if cfg.Web3.ChainConfig != "" {
		t.Fatalf("默认配置不应指向链文件: %s", cfg.Web3.ChainConfig)
	}
}

func TestLoadEnvListsMissingVars(t *testing.T) {
	for _, name := range requiredVars {
		t.Setenv(name, "")
	}
	t.Setenv(EnvAnthropicAPIKey, "sk-test")

	_, err := LoadEnv()
	if err == nil {
		t.Fatal("缺失必填变量应报错")
	}
	if xerrors.CodeOf(err) != xerrors.CodeConfigMissing {
		t.Fatalf("错误码不符: %s", xerrors.CodeOf(err))
	}
	msg := err.Error()
	if strings.Contains(msg, "ANTHROPIC_API_KEY=") {
		t.Fatalf("已设置的变量不应出现在缺失列表: %s", msg)
	}
	if !strings.Contains(msg, "JWT_SECRET=your_jwt_secret_here") {
		t.Fatalf("缺失变量提示格式不符: %s", msg)
	}
}

func TestLoadEnvDefaultsNetwork(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "sk-test")
	t.Setenv(EnvCDPAPIKeyName, "cdp-name")
	t.Setenv(EnvCDPAPIKeyPrivate, `line1\nline2`)
	t.Setenv(EnvJWTSecret, "secret")
	t.Setenv(EnvRPCURL, "http://127.0.0.1:8545")
	t.Setenv(EnvAgentWalletKey, "deadbeef")
	t.Setenv(EnvNetworkID, "")

	env, err := LoadEnv()
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	if env.NetworkID != DefaultNetworkID {
		t.Fatalf("默认网络不符: %s", env.NetworkID)
	}
	// 转义的换行应被还原。
	if env.CDPAPIKeyPrivate != "line1\nline2" {
		t.Fatalf("密钥换行未还原: %q", env.CDPAPIKeyPrivate)
	}
}
