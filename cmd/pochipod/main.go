// pochipod 是 pochipo 代理的守护进程入口：加载配置、装配依赖、
// 启动跟买工作协程与 HTTP 服务。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pochipo/internal/agent"
	"pochipo/internal/api"
	"pochipo/internal/auth"
	"pochipo/internal/config"
	"pochipo/internal/directory"
	"pochipo/internal/knowledge"
	"pochipo/internal/llm"
	"pochipo/internal/llm/anthropic"
	"pochipo/internal/llm/openai"
	"pochipo/internal/llm/session"
	"pochipo/internal/moonshot"
	"pochipo/internal/observability/alerting"
	"pochipo/internal/sniper"
	"pochipo/internal/social"
	"pochipo/internal/storage/mysql"
	"pochipo/internal/tool"
	"pochipo/internal/web3"
	"pochipo/internal/web3/ethereum"
	"pochipo/pkg/logger"
)

// defaultConfigPath 是未指定 -config 和 POCHIPO_CONFIG 时的兜底路径。
const defaultConfigPath = "configs/pochipo.json"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "配置文件路径（JSON），为空时使用默认配置")
	knowledgePath := flag.String("knowledge", "", "知识库文件路径（JSON），可选")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("POCHIPO_CONFIG")
	}
	if path == "" {
		if _, statErr := os.Stat(defaultConfigPath); statErr == nil {
			path = defaultConfigPath
		}
	}

	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.AuditPath != "",
			Path:       cfg.Logging.AuditPath,
			MaxSizeMB:  cfg.Logging.AuditSize,
			MaxBackups: cfg.Logging.AuditFiles,
			MaxAgeDays: cfg.Logging.AuditDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	// 必需环境变量缺失时逐项列出并拒绝启动。
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if os.Getenv(config.EnvNetworkID) == "" {
		log.Warn("NETWORK_ID 未设置，使用默认网络", "network", config.DefaultNetworkID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chains, err := web3.LoadChainDefinitions(cfg.Web3.ChainConfig)
	if err != nil {
		return err
	}
	chainDef, err := chains.Resolve(env.NetworkID, env.RPCURL)
	if err != nil {
		return err
	}
	chain, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:    env.NetworkID,
		RPCURL:  chainDef.RPCURL,
		ChainID: chainDef.ChainID,
	})
	if err != nil {
		return err
	}
	defer chain.Close()

	store, err := buildDirectoryStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := buildSessionStore(ctx, cfg)
	if err != nil {
		return err
	}

	llmClient, err := buildLLMClient(cfg, env, sessions)
	if err != nil {
		return err
	}

	moonshotClient, err := moonshot.NewClient(moonshot.Config{
		BaseURL:          cfg.Moonshot.BaseURL,
		CredentialName:   env.CDPAPIKeyName,
		CredentialSecret: env.CDPAPIKeyPrivate,
		Timeout:          time.Duration(cfg.Moonshot.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	trader, err := moonshot.NewTrader(chain, moonshotClient, moonshot.TraderConfig{
		OperatorKeyHex:  env.AgentWalletKey,
		SlippageBps:     cfg.Moonshot.SlippageBps,
		MintTokenAmount: cfg.Moonshot.TokenAmount,
	})
	if err != nil {
		return err
	}

	queue, err := buildSnipeQueue(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	alerts := alerting.NewDispatcher()
	snipes, err := sniper.NewService(queue, store, trader, alerts)
	if err != nil {
		return err
	}
	go func() {
		if err := snipes.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("跟买工作协程退出", "error", err)
		}
	}()

	var poster social.Poster = social.NoopPoster{}
	if cfg.Social.Enabled && env.SocialBearerToken != "" {
		poster, err = social.NewXPoster(social.XConfig{
			BaseURL:     cfg.Social.BaseURL,
			BearerToken: env.SocialBearerToken,
			Timeout:     time.Duration(cfg.Social.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
	}

	toolbox, err := agent.NewToolbox(store, chain, trader, snipes, poster)
	if err != nil {
		return err
	}
	registry := tool.NewRegistry()
	if err := toolbox.Register(registry); err != nil {
		return err
	}

	var know knowledge.Provider
	if *knowledgePath != "" {
		know, err = knowledge.LoadStaticProvider(*knowledgePath, 3)
		if err != nil {
			return err
		}
	}

	agentSvc, err := agent.New(llmClient, registry, know, agent.Config{
		MaxHandoffs:   cfg.Agent.MaxHandoffs,
		HandoffPolicy: cfg.Agent.HandoffPolicy,
	})
	if err != nil {
		return err
	}

	authSvc, err := auth.NewService(store, env.JWTSecret, 0)
	if err != nil {
		return err
	}

	server, err := api.NewServer(cfg.Server.Address, agentSvc, authSvc, store)
	if err != nil {
		return err
	}

	log.Info("pochipo 启动完成",
		"network", env.NetworkID,
		"operator", trader.OperatorAddress().Hex(),
		"directory", cfg.Directory.Driver,
		"queue", cfg.SnipeQueue.Driver)

	if err := server.Start(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func buildDirectoryStore(ctx context.Context, cfg *config.Config) (directory.Store, error) {
	switch cfg.Directory.Driver {
	case "memory":
		return directory.NewMemoryStore(), nil
	case "mysql":
		return mysql.NewSQLDirectoryStore(ctx, mysql.Config{
			DSN:             cfg.Directory.DSN,
			MaxOpenConns:    cfg.Directory.MaxOpenConns,
			MaxIdleConns:    cfg.Directory.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Directory.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Directory.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的目录存储驱动: %s", cfg.Directory.Driver)
	}
}

func buildSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Driver {
	case "memory":
		return session.NewMemoryStore(cfg.Session.MaxTurns), nil
	case "redis":
		return session.NewRedisStore(ctx, session.RedisOptions{
			Address:   cfg.Session.Redis.Address,
			Password:  cfg.Session.Redis.Password,
			DB:        cfg.Session.Redis.DB,
			KeyPrefix: cfg.Session.Redis.Key,
			MaxTurns:  cfg.Session.MaxTurns,
		})
	default:
		return nil, fmt.Errorf("未知的会话存储驱动: %s", cfg.Session.Driver)
	}
}

func buildLLMClient(cfg *config.Config, env *config.Env, sessions session.Store) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:    env.AnthropicAPIKey,
			BaseURL:   cfg.LLM.Anthropic.BaseURL,
			Model:     cfg.LLM.Anthropic.Model,
			MaxTokens: cfg.LLM.Anthropic.MaxTokens,
			Timeout:   time.Duration(cfg.LLM.Anthropic.TimeoutSeconds) * time.Second,
		}, sessions)
	case "openai":
		keyEnv := cfg.LLM.OpenAI.APIKeyEnv
		if keyEnv == "" {
			keyEnv = config.EnvOpenAIAPIKeyLegacy
		}
		return openai.NewClient(openai.Config{
			APIKey:  os.Getenv(keyEnv),
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		}, sessions)
	default:
		return nil, fmt.Errorf("未知的推理提供方: %s", cfg.LLM.Provider)
	}
}

func buildSnipeQueue(cfg *config.Config) (sniper.Queue, error) {
	switch cfg.SnipeQueue.Driver {
	case "memory":
		return sniper.NewMemoryQueue(0), nil
	case "redis":
		return sniper.NewRedisQueue(sniper.RedisQueueConfig{
			Address:  cfg.SnipeQueue.Redis.Address,
			Password: cfg.SnipeQueue.Redis.Password,
			DB:       cfg.SnipeQueue.Redis.DB,
			Queue:    cfg.SnipeQueue.Redis.Key,
		})
	case "rabbitmq":
		return sniper.NewRabbitMQQueue(sniper.RabbitMQConfig{
			URL:        cfg.SnipeQueue.RabbitMQ.URL,
			Queue:      cfg.SnipeQueue.RabbitMQ.Queue,
			Prefetch:   cfg.SnipeQueue.RabbitMQ.Prefetch,
			Durable:    cfg.SnipeQueue.RabbitMQ.Durable,
			AutoDelete: cfg.SnipeQueue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的跟买队列驱动: %s", cfg.SnipeQueue.Driver)
	}
}
