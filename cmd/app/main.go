// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-dispatch/internal/config"
	"whatsapp-dispatch/internal/domain/ports/adapter"
	tele "whatsapp-dispatch/internal/infra/adapters/telegram"
	"whatsapp-dispatch/internal/infra/adapters/whatsapp"
	"whatsapp-dispatch/internal/infra/api"
	"whatsapp-dispatch/internal/infra/backoff"
	"whatsapp-dispatch/internal/infra/i18n"
	"whatsapp-dispatch/internal/infra/logging"
	"whatsapp-dispatch/internal/infra/metrics"
	red "whatsapp-dispatch/internal/infra/redis"
	"whatsapp-dispatch/internal/infra/sched"
	"whatsapp-dispatch/internal/infra/sessionfs"
	"whatsapp-dispatch/internal/infra/worker"
	"whatsapp-dispatch/internal/usecase"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/mdp/qrterminal/v3"
	"golang.org/x/time/rate"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted recipients)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	if cfg.Metrics.Enabled {
		metrics.MustRegister()
		metrics.SetBuildInfo(version, commit)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	store := red.NewJobStore(redisClient, cfg.Queue.PollTimeout)

	// ---- Alerts ----
	var notifier adapter.Notifier
	if tg := cfg.Alerts.Telegram; tg.Token != "" && tg.ChatID != 0 {
		n, err := tele.NewNotifier(tg.Token, tg.ChatID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier")
		}
		notifier = n
	} else {
		logger.Info().Msg("telegram alerts not configured; alerts are logged only")
		notifier = tele.NewNoopNotifier(logger)
	}

	texts, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Alerts.Language)
	if err != nil {
		logger.Fatal().Err(err).Str("language", cfg.Alerts.Language).Msg("alert texts")
	}

	// ---- Session lifecycle ----
	sessCfg := cfg.Session
	storage := sessionfs.New(sessCfg.Dir, sessCfg.UserDataDir(), sessCfg.ClientID)

	var factory adapter.MessengerFactory
	switch sessCfg.Driver {
	case "noop":
		factory = whatsapp.NewNoopFactory(logger)
	default:
		factory = whatsapp.NewBridgeFactory(whatsapp.BridgeConfig{
			Command:     sessCfg.BridgeCommand,
			SessionDir:  sessCfg.Dir,
			UserDataDir: sessCfg.UserDataDir(),
			ClientID:    sessCfg.ClientID,
			ChromePath:  sessCfg.ChromePath,
			SendTimeout: sessCfg.SendTimeout,
		}, logger)
	}

	sessOpts := usecase.SessionOptions{
		ClientID: sessCfg.ClientID,
		Policy: usecase.RestartPolicy{
			MaxAttempts: sessCfg.MaxRestarts,
			Delay:       backoff.NewExponential(sessCfg.ReconnectDelay, sessCfg.MaxRestartDelay, 0.2).Delay,
		},
		DestroyTimeout: sessCfg.DestroyTimeout,
		Texts:          texts,
	}
	if sessCfg.PrintQR {
		sessOpts.OnQR = func(qr string) {
			fmt.Fprintln(os.Stdout, "Scan this QR code with WhatsApp on your phone:")
			qrterminal.GenerateHalfBlock(qr, qrterminal.L, os.Stdout)
		}
	}
	sessionUC := usecase.NewSessionUseCase(factory, storage, notifier, sessOpts, logger)

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		_ = sessionUC.Run(ctx)
	}()

	// ---- Jobs ----
	queues := usecase.QueueNames{Pending: cfg.Queue.Pending, DeadLetter: cfg.Queue.DeadLetter}
	jobUC := usecase.NewJobUseCase(store, queues, cfg.Runtime.Dev, logger)

	var dispatcher *worker.DispatchWorker
	if sessCfg.SetupMode {
		logger.Info().Msg("setup mode: queue consumption disabled")
	} else {
		q := cfg.Queue
		opts := worker.Options{
			Pending:      q.Pending,
			DeadLetter:   q.DeadLetter,
			MaxRetries:   q.MaxRetries,
			Backoff:      backoff.NewLinear(q.BaseDelay, q.BackoffCap),
			GateInterval: q.GateInterval,
			SendTimeout:  sessCfg.SendTimeout,
			Texts:        texts,
			Dev:          cfg.Runtime.Dev,
		}
		if q.SendRate > 0 {
			opts.Limiter = rate.NewLimiter(rate.Limit(q.SendRate), q.SendBurst)
		}
		if q.ConsumerLock {
			opts.Lease = red.NewConsumerLease(redisClient, red.LeaseKey(q.Pending), q.LockTTL)
			opts.LeaseRefresh = q.LockTTL / 3
		}
		dispatcher = worker.NewDispatchWorker(store, sessionUC, notifier, opts, logger)
		dispatcher.Start(ctx)
	}

	// ---- Queue depth gauge ----
	if cfg.Metrics.Enabled {
		depth := sched.NewQueueDepthWorker(cfg.Queue.SampleEvery, store, []string{queues.Pending, queues.DeadLetter}, logger)
		go func() { _ = depth.Run(ctx) }()
	}

	// ---- HTTP gateway ----
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	srv := api.NewServer(sessionUC, jobUC, api.Options{
		Port:           cfg.HTTP.Port,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		SetupMode:      sessCfg.SetupMode,
		MetricsPath:    metricsPath,
	}, logger)
	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn().Err(err).Msg("systemd notify failed")
	} else if ok {
		logger.Debug().Msg("systemd notified ready")
	}
	logger.Info().
		Str("version", version).
		Int("port", cfg.HTTP.Port).
		Str("queue", queues.Pending).
		Str("failed_queue", queues.DeadLetter).
		Bool("setup_mode", sessCfg.SetupMode).
		Msg("whatsapp dispatch started")

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
		stop()
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if dispatcher != nil {
		dispatcher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	cancel()
	if err := store.Close(); err != nil {
		logger.Warn().Err(err).Msg("redis close")
	}

	select {
	case <-sessionDone:
	case <-time.After(sessCfg.DestroyTimeout + 5*time.Second):
		logger.Warn().Msg("session teardown timed out")
	}
	logger.Info().Msg("bye")
}
