package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/instachat/backend/internal/config"
	"github.com/zhouzirui/instachat/backend/internal/handler"
	"github.com/zhouzirui/instachat/backend/internal/logging"
	"github.com/zhouzirui/instachat/backend/internal/model/persona"
	"github.com/zhouzirui/instachat/backend/internal/service/ai"
	"github.com/zhouzirui/instachat/backend/internal/service/chat"
	"github.com/zhouzirui/instachat/backend/internal/service/reply"
	"github.com/zhouzirui/instachat/backend/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, continuing with system environment variables only", zap.Error(envErr))
	}

	personaStore, err := loadPersonas(cfg.Personas, logger)
	if err != nil {
		logger.Fatal("failed to load personas", zap.Error(err))
	}

	chatService := chat.NewService(chat.WithLogger(logger))
	sessionService := session.NewService(chatService, logger)

	counterpart := persona.NewOperator(cfg.Personas.OperatorName, cfg.Personas.OperatorHandle)
	prompts := ai.NewPromptBuilder(counterpart)

	// A nil *ai.Service must not be stored in the Generator interface.
	var generator reply.Generator
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI, prompts, logger)
		if err != nil {
			logger.Warn("failed to initialize AI service, replies will use the fallback message", zap.Error(err))
		} else {
			generator = aiService
			logger.Info("AI service initialized",
				zap.String("provider", string(cfg.AI.Provider)),
				zap.String("model", cfg.AI.Model))
		}
	} else {
		logger.Warn("AI 凭证未配置，跳过 AI 功能初始化", zap.String("provider", string(cfg.AI.Provider)))
	}

	replies := reply.New(chatService, generator, logger)

	router := handler.NewRouter(handler.Dependencies{
		Personas: personaStore,
		Sessions: sessionService,
		Chats:    chatService,
		Replies:  replies,
		Logger:   logger,
	})

	startServer(ctx, cfg.Server, router, logger)

	// Let in-flight generations land before exiting.
	replies.Wait()
}

func loadPersonas(cfg config.PersonaConfig, logger *zap.Logger) (*persona.MemoryStore, error) {
	if cfg.SeedFile == "" {
		return persona.NewMemoryStore(persona.Seed()), nil
	}

	seeds, err := persona.LoadSeedFile(cfg.SeedFile)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded persona seed file", zap.String("path", cfg.SeedFile), zap.Int("personas", len(seeds)))
	return persona.NewMemoryStore(seeds), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		// Event streams end with the process context instead of holding up shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	logger.Info("InstaChat backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
