package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"llm_relay_bot/internal/assistant"
	"llm_relay_bot/internal/config"
	"llm_relay_bot/internal/discord"
	"llm_relay_bot/internal/feature/auth"
	"llm_relay_bot/internal/feature/memory"
	"llm_relay_bot/internal/feature/owner"
	"llm_relay_bot/internal/feature/prompt"
	"llm_relay_bot/internal/feature/user"
	"llm_relay_bot/internal/health"
	"llm_relay_bot/internal/llm"
	"llm_relay_bot/internal/logging"
	"llm_relay_bot/internal/store"
	"llm_relay_bot/internal/telegram"
)

const (
	mongoConnectTimeout   = 10 * time.Second
	mongoIndexTimeout     = 5 * time.Second
	storageCloseTimeout   = 5 * time.Second
	ownerBootstrapTimeout = 5 * time.Second
	platformStopTimeout   = 10 * time.Second
	healthShutdownTimeout = 5 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":            "startup",
		"storage_backend":  cfg.StorageBackend,
		"completion_model": cfg.CompletionModel,
		"telegram":         cfg.TelegramToken != "",
		"discord":          cfg.DiscordToken != "",
	}).Info("configuration loaded")

	st, err := openStore(cfg, logger)
	if err != nil {
		fatal(logger, "storage setup error", err)
	}

	authRegistry := auth.NewRegistry(st, logger)
	userRegistrar := user.NewRegistrar(st, logger)

	if cfg.BotOwnerID != "" {
		ownerRegistrar := owner.NewRegistrar(userRegistrar, authRegistry, logger)
		ownerCtx, cancelOwner := context.WithTimeout(context.Background(), ownerBootstrapTimeout)
		err := ownerRegistrar.EnsureOwner(ownerCtx, cfg.BotOwnerID)
		cancelOwner()
		if err != nil {
			fatal(logger, "owner bootstrap error", err)
		}
	} else {
		logging.Warn("no bot owner configured, admin commands rely on chat administrators", logging.Fields{
			"event": "owner_missing",
		})
	}

	completer, err := llm.NewClient(llm.Options{
		APIKey:  cfg.CompletionAPIKey,
		Model:   cfg.CompletionModel,
		BaseURL: cfg.CompletionBaseURL,
		Timeout: cfg.CompletionTimeout,
	}, logger)
	if err != nil {
		fatal(logger, "completion client setup error", err)
	}

	svc, err := assistant.New(assistant.Dependencies{
		Users:     userRegistrar,
		Prompts:   prompt.NewRegistry(st, logger),
		Memory:    memory.New(st, cfg.HistoryLimit, logger),
		Auth:      authRegistry,
		Completer: completer,
	}, assistant.Options{
		OwnerID:       cfg.BotOwnerID,
		ContextTurns:  cfg.ContextTurns,
		RatePerMinute: cfg.ChatRatePerMinute,
	}, logger)
	if err != nil {
		fatal(logger, "assistant setup error", err)
	}

	var platforms []platform
	if cfg.TelegramToken != "" {
		tgClient, err := telegram.NewClient(cfg, svc, logger)
		if err != nil {
			fatal(logger, "telegram client setup error", err)
		}
		platforms = append(platforms, platform{
			name: telegram.Platform,
			run: func(ctx context.Context) error {
				tgClient.Start(ctx)
				return nil
			},
		})
		logger.WithField("event", "telegram_ready").Info("telegram client initialized")
	}
	if cfg.DiscordToken != "" {
		dcClient, err := discord.NewClient(cfg, svc, logger)
		if err != nil {
			fatal(logger, "discord client setup error", err)
		}
		platforms = append(platforms, platform{name: discord.Platform, run: dcClient.Start})
		logger.WithField("event", "discord_ready").Info("discord client initialized")
	}

	healthServer := health.NewServer(cfg.HTTPPort, st, cfg.StorageBackend, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithField("event", "health_failed").WithError(err).Error("health server error")
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRun := context.WithCancel(context.Background())
	stopped := make(chan string, len(platforms))
	var wg sync.WaitGroup

	for _, p := range platforms {
		wg.Add(1)
		go func(p platform) {
			defer wg.Done()
			if err := p.run(runCtx); err != nil {
				logger.WithFields(logging.Fields{
					"event":    "platform_failed",
					"platform": p.name,
				}).WithError(err).Error("platform client failed")
			}
			stopped <- p.name
		}(p)
	}

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping platform clients")
	case name := <-stopped:
		logger.WithFields(logging.Fields{
			"event":    "platform_stopped_early",
			"platform": name,
		}).Warn("platform client stopped before shutdown signal")
	}

	cancelRun()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), platformStopTimeout)
	select {
	case <-done:
	case <-waitCtx.Done():
		logger.WithField("event", "platform_shutdown_timeout").Warn("timed out waiting for platform clients to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithField("event", "health_shutdown_error").WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	closeCtx, cancelClose := context.WithTimeout(context.Background(), storageCloseTimeout)
	if err := st.Close(closeCtx); err != nil {
		logger.WithField("event", "storage_close_error").WithError(err).Error("storage close error")
	} else {
		logger.WithField("event", "storage_closed").Info("storage closed")
	}
	cancelClose()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

type platform struct {
	name string
	run  func(ctx context.Context) error
}

func openStore(cfg config.Config, logger *logrus.Entry) (store.Store, error) {
	switch strings.ToLower(cfg.StorageBackend) {
	case config.StorageMongo:
		connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
		manager, err := store.NewManager(connectCtx, cfg)
		cancel()
		if err != nil {
			return nil, err
		}
		logger.WithFields(logging.Fields{
			"event":    "mongo_connect",
			"mongo_db": cfg.MongoDB,
		}).Info("connected to mongo")

		indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
		err = manager.EnsureBaseIndexes(indexCtx)
		cancelIndexes()
		if err != nil {
			_ = manager.Close(context.Background())
			return nil, err
		}
		logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

		mongoStore, err := store.NewMongoStore(manager)
		if err != nil {
			_ = manager.Close(context.Background())
			return nil, err
		}
		return mongoStore, nil
	case config.StorageFile, "":
		fileStore, err := store.NewFileStore(cfg.DataDir, logger)
		if err != nil {
			return nil, err
		}
		logger.WithFields(logging.Fields{
			"event":    "file_store_ready",
			"data_dir": cfg.DataDir,
		}).Info("using file storage")
		return fileStore, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

func fatal(logger *logrus.Entry, msg string, err error) {
	logger.WithField("event", "startup_failed").WithError(err).Error(msg)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
