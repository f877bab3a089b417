package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"docchat/internal/app"
	"docchat/internal/config"
	"docchat/internal/processor"
	"docchat/internal/ratelimit"
	"docchat/internal/server"
	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/storage"
	"docchat/pkg/store"
	"docchat/pkg/token"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}
	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	generator, err := newGenerator(cfg)
	if err != nil {
		log.Fatalf("failed to init generator: %v", err)
	}

	tokens, err := token.NewManager(cfg.TokenSecret, cfg.TokenIssuer, time.Duration(cfg.TokenTTLHours)*time.Hour)
	if err != nil {
		log.Fatalf("failed to init token manager: %v", err)
	}

	proc, err := processor.New(processor.Config{
		Store:       dataStore,
		Objects:     objects,
		Concurrency: int64(cfg.ProcessorConcurrency),
		TaskTimeout: time.Duration(cfg.ProcessorTimeoutSecond) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("failed to init processor: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:             dataStore,
		Objects:           objects,
		Processor:         proc,
		Generator:         generator,
		Tokens:            tokens,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		AnswerTimeout:     time.Duration(cfg.AnswerTimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	registerLimiter, err := newLimiter(cfg, "register", cfg.RegisterRateLimit, cfg.RegisterRateWindowSeconds)
	if err != nil {
		log.Fatalf("failed to init register rate limiter: %v", err)
	}
	loginLimiter, err := newLimiter(cfg, "login", cfg.LoginRateLimit, cfg.LoginRateWindowSeconds)
	if err != nil {
		log.Fatalf("failed to init login rate limiter: %v", err)
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:             appCore,
		RegisterLimiter: registerLimiter,
		LoginLimiter:    loginLimiter,
		TrustedProxies:  trustedProxies,
		AllowOrigin:     cfg.AllowOrigin,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	// WriteTimeout stays zero so long-lived answer streams are not cut off.
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	slog.Info("docchat server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newGenerator(cfg config.FileConfig) (ai.Generator, error) {
	switch cfg.AIProvider {
	case "openai":
		return ai.NewOpenAICompatGenerator(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel), nil
	default:
		return ai.NewGeminiGenerator(cfg.AIAPIKey, cfg.AIModel)
	}
}

func newLimiter(cfg config.FileConfig, name string, limit, windowSeconds int) (server.RateLimiter, error) {
	if limit <= 0 || cfg.RedisAddr == "" {
		return nil, nil
	}
	return ratelimit.NewRedisFixedWindowLimiter(
		cfg.RedisAddr,
		cfg.RedisPassword,
		"docchat:ratelimit:"+name,
		limit,
		time.Duration(windowSeconds)*time.Second,
	)
}
