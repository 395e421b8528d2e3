package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"Feelan-Chain/internal/api"
	"Feelan-Chain/internal/auth"
	"Feelan-Chain/internal/classify"
	"Feelan-Chain/internal/config"
	"Feelan-Chain/internal/conversation"
	"Feelan-Chain/internal/dispatch"
	"Feelan-Chain/internal/events"
	"Feelan-Chain/internal/llm/openai"
	"Feelan-Chain/internal/observability/metrics"
	"Feelan-Chain/internal/ratelimit"
	"Feelan-Chain/internal/trade"
	"Feelan-Chain/pkg/logger"
)

// main 是 Feelan 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("feeland 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("FEELAN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "feelan.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Log.AuditPath != "",
			Path:    cfg.Log.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 大模型客户端与分类修复循环。
	llmClient, err := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	resolver := classify.NewResolver(llmClient, classify.WithMaxTrials(cfg.LLM.MaxTrials))

	// 交易协作方。
	tokens, err := trade.LoadTokenTable(cfg.Trade.TokenTablePath)
	if err != nil {
		return err
	}
	tradeClient, err := trade.NewClient(trade.Config{
		BaseURL: cfg.Trade.BaseURL,
		ChainID: cfg.Trade.ChainID,
		Timeout: time.Duration(cfg.Trade.TimeoutSeconds) * time.Second,
	}, tokens)
	if err != nil {
		return err
	}

	// 会话存储。
	var store conversation.Store
	switch cfg.Storage.Driver {
	case "", "file":
		store, err = conversation.NewFileStore(filepath.Join(cfg.Runtime.DataDir, "conversations"))
	case "redis":
		store, err = conversation.NewRedisStore(conversation.RedisStoreConfig{
			Address:  cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
	case "mysql":
		store, err = conversation.NewMySQLStore(cfg.Storage.DSN)
	default:
		return fmt.Errorf("未知的会话存储驱动: %s", cfg.Storage.Driver)
	}
	if err != nil {
		return err
	}
	defer store.Close()

	// 限流器。
	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Driver {
	case "", "memory":
		limiter = ratelimit.NewMemoryLimiter()
	case "redis":
		limiter, err = ratelimit.NewRedisLimiter(ratelimit.RedisLimiterConfig{
			Address:  cfg.RateLimit.Redis.Address,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知的限流驱动: %s", cfg.RateLimit.Driver)
	}
	defer limiter.Close()

	// 动作事件发布端。
	var publisher events.Publisher
	switch cfg.Events.Driver {
	case "", "memory":
		publisher = events.NewMemoryPublisher(cfg.Events.Capacity)
	case "rabbitmq":
		publisher, err = events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:     cfg.Events.AMQPURL,
			Queue:   cfg.Events.Queue,
			Durable: cfg.Events.Durable,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", cfg.Events.Driver)
	}
	defer publisher.Close()

	// 身份认证。
	authService, err := auth.NewService(auth.Config{
		Mode: auth.Mode(cfg.Auth.Mode),
		JWT: auth.JWTOptions{
			Secret:    cfg.Auth.JWTSecret,
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
			AccessTTL: cfg.Auth.AccessTTL,
		},
	})
	if err != nil {
		return err
	}

	dispatcher := dispatch.NewDispatcher(resolver, llmClient, tradeClient, store, publisher)

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	server := api.NewServer(api.Config{
		Address:        cfg.Server.Address,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Rules: api.Rules{
			SendMessage: ratelimit.Rule{Limit: cfg.RateLimit.SendMessagePerHour, Window: time.Hour},
			Default:     ratelimit.Rule{Limit: cfg.RateLimit.DefaultPerMinute, Window: time.Minute},
		},
	}, authService, dispatcher, store, limiter)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
