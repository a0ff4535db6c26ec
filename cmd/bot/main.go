package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg_ghost_buster_bot/internal/config"
	"tg_ghost_buster_bot/internal/domain"
	"tg_ghost_buster_bot/internal/feature/activity"
	"tg_ghost_buster_bot/internal/feature/policy"
	"tg_ghost_buster_bot/internal/feature/sweep"
	"tg_ghost_buster_bot/internal/health"
	"tg_ghost_buster_bot/internal/logging"
	"tg_ghost_buster_bot/internal/scheduler"
	"tg_ghost_buster_bot/internal/store"
	"tg_ghost_buster_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	healthShutdownTimeout   = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
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
		"event":          "startup",
		"mongo_db":       cfg.MongoDB,
		"sweep_interval": cfg.SweepInterval.String(),
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	chatRepository := domain.NewChatRepository(mongoManager.Chats())
	memberRepository := domain.NewMemberRepository(mongoManager.Members())
	recorder := activity.NewRecorder(mongoManager.Chats(), mongoManager.Members(), logger)
	policyStore := policy.NewStore(mongoManager.Chats(), chatRepository, logger)
	statsProvider := store.NewStatsProvider(mongoManager.Chats(), mongoManager.Members())

	tgClient, err := telegram.NewClient(cfg, logger,
		telegram.WithRecorder(recorder),
		telegram.WithPolicyStore(policyStore),
		telegram.WithMemberDirectory(memberRepository),
		telegram.WithStats(statsProvider),
	)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	sweeper := sweep.NewSweeper(chatRepository, memberRepository, tgClient.Gateway(), logger)
	sweepRunner := scheduler.NewRunner(cfg.SweepInterval, sweeper, logger)
	healthServer := health.NewServer(cfg.HTTPPort, mongoManager, logger)

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRun := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
	}()

	go func() {
		if err := sweepRunner.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.WithError(err).Error("sweep scheduler error")
		}
	}()

	go func() {
		tgClient.Start(runCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelRun()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
