package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gangwars/joinframe"
	"github.com/gangwars/joinframe/backend"
	"github.com/gangwars/joinframe/config"
	"github.com/gangwars/joinframe/devtools"
	"github.com/gangwars/joinframe/encoding"
	"github.com/gangwars/joinframe/evm"
	"github.com/gangwars/joinframe/flow"
	httpframe "github.com/gangwars/joinframe/http"
	chirouter "github.com/gangwars/joinframe/http/chi"
	"github.com/gangwars/joinframe/notify"
	"github.com/gangwars/joinframe/observability"
)

const serviceName = "joinframe"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", os.Getenv(config.PathEnv), "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser := observability.SetupLogging(observability.LogConfig{
		Service:    serviceName,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}, os.Stdout)
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics(observability.DefaultNamespace)

	codec, err := newCodec(cfg, logger)
	if err != nil {
		return err
	}

	client, err := backend.NewClient(cfg.BackendURL, backend.WithCallObserver(metrics.ObserveBackendCall))
	if err != nil {
		return err
	}

	var alerts notify.Alerter
	if cfg.DiscordWebhook != "" {
		webhook, err := notify.NewWebhook(cfg.DiscordWebhook)
		if err != nil {
			return err
		}
		alerts = webhook
	} else {
		logger.Warn("no alert webhook configured, join notifications are not mirrored")
	}

	notifier := notify.New(client, alerts,
		notify.WithDelay(cfg.NotifyDelay),
		notify.WithOutcomeObserver(metrics.ObserveNotification),
	)

	builder := evm.NewBuilder(common.HexToAddress(cfg.PaymentManager), cfg.ChainID)
	machine := flow.NewMachine(joinframe.DefaultRegistry, flow.NewFetcher(client, flow.WithFetcherRegistry(joinframe.DefaultRegistry)), builder, notifier,
		flow.WithAssetBaseURL(cfg.FrameURL),
	)
	frame := httpframe.NewFrame(machine, codec, httpframe.WithTurnObserver(metrics.ObserveTurn))

	opts := chirouter.Options{Metrics: metrics.Handler()}
	if cfg.DevTools {
		signer, err := devtools.SignerFromConfig(cfg.Dev)
		if err != nil {
			return err
		}
		opts.Dev = devtools.New(joinframe.DefaultRegistry, codec, signer, cfg.ChainID).Handler()
		logger.Warn("dev tools enabled", "signer", signer != nil)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpframe.Instrument(chirouter.NewRouter(frame, opts), serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("joinframe listening", "addr", srv.Addr, "chainId", cfg.ChainID,
			"paymentManager", builder.PaymentManager.Hex(), "devTools", cfg.DevTools)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forcing server stop", "error", err)
	}

	// In-flight join notifications still have to reach the backend.
	done := make(chan struct{})
	go func() {
		notifier.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(notify.DefaultDelay + notify.DefaultTimeout):
		logger.Warn("abandoning pending join notifications")
	}
	return nil
}

func newCodec(cfg config.Config, logger *slog.Logger) (*encoding.Codec, error) {
	secret := []byte(cfg.StateSecret)
	if len(secret) == 0 {
		generated, err := encoding.RandomSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
		logger.Warn("STATE_SECRET not set, using a per-process key; states do not survive restarts")
	}
	return encoding.NewCodec(secret, encoding.WithTTL(cfg.StateTTL))
}
