// Command murmur runs the voice assistant session core headless: a wake
// trigger on stdin toggles the live session on and off.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/murmurkit/murmur/internal/dotenv"
	"github.com/murmurkit/murmur/pkg/capture"
	"github.com/murmurkit/murmur/pkg/config"
	"github.com/murmurkit/murmur/pkg/mail"
	"github.com/murmurkit/murmur/pkg/metrics"
	"github.com/murmurkit/murmur/pkg/playback"
	"github.com/murmurkit/murmur/pkg/record"
	"github.com/murmurkit/murmur/pkg/session"
	"github.com/murmurkit/murmur/pkg/store"
	"github.com/murmurkit/murmur/pkg/tools"
	"github.com/murmurkit/murmur/pkg/wake"
)

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.PostgresDSN != "" {
		logger.Info("using postgres state store")
		return store.OpenPostgres(ctx, cfg.PostgresDSN)
	}
	logger.Info("using file state store", "dir", cfg.StateDir)
	return store.NewFile(afero.NewOsFs(), cfg.StateDir)
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	m := metrics.NewMetrics()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		defer srv.Close()
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	var mailbox *mail.Client
	if cfg.MailBaseURL != "" {
		mailbox = mail.NewClient(cfg.MailBaseURL, nil)
		if cfg.MailToken != "" {
			mailbox.SetAccessToken(cfg.MailToken)
		}
	}

	var mailIface tools.Mailbox
	if mailbox != nil {
		mailIface = mailbox
	}
	dispatcher := tools.NewDispatcher(st, mailIface, logger,
		tools.WithResolvedFunc(func(name string, outcome tools.Outcome) {
			m.ObserveToolCall(name, outcome)
		}))

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize audio: %w", err)
	}
	defer portaudio.Terminate()

	engine, err := playback.NewDeviceEngine(cfg.PlaybackRate, 1, logger)
	if err != nil {
		return fmt.Errorf("open output device: %w", err)
	}
	defer engine.Close()

	sched := playback.NewScheduler(engine,
		playback.WithLogger(logger),
		playback.WithSpeakingFunc(m.ObserveSpeaking))

	pipeline := capture.NewPipeline(cfg.CaptureRate, logger, m)
	transcript := session.NewTranscriptAccumulator(nil)

	routerOpts := []session.RouterOption{session.WithRouterStats(m)}
	if cfg.RecordDir != "" {
		rec, err := record.New(afero.NewOsFs(), cfg.RecordDir, cfg.PlaybackRate)
		if err != nil {
			return fmt.Errorf("open recorder: %w", err)
		}
		defer rec.Close()
		routerOpts = append(routerOpts, session.WithRecorder(rec))
	}
	router := session.NewRouter(sched, transcript, dispatcher, cfg.PlaybackRate, logger, routerOpts...)

	transport := session.TransportConfig{
		URL:          cfg.TransportURL,
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
	}
	ctrl := session.NewController(
		&session.WebsocketDialer{},
		transport,
		pipeline,
		sched,
		router,
		func() (capture.Source, error) {
			return capture.OpenDeviceSource(cfg.CaptureRate, cfg.BlockSize, logger)
		},
		logger,
		session.WithStateFunc(func(s session.State) {
			logger.Info("session state", "state", s.String())
			m.ObserveState(s)
		}))
	defer ctrl.Stop()

	trigger := wake.NewLineTrigger(os.Stdin, logger, nil)
	defer trigger.Close()

	logger.Info("ready; press enter to toggle the session")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
			return ctrl.Stop()
		case _, ok := <-trigger.Activations():
			if !ok {
				logger.Info("wake trigger closed")
				return ctrl.Stop()
			}
			switch ctrl.State() {
			case session.StateConnecting, session.StateConnected:
				if err := ctrl.Stop(); err != nil {
					logger.Warn("stop session", "err", err)
				}
			default:
				if err := ctrl.Start(ctx); err != nil {
					logger.Error("start session", "err", err)
				}
			}
		}
	}
}

func runMain(ctx context.Context, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(); err != nil {
		fmt.Fprintf(stderr, "murmur: %v\n", err)
		return 1
	}

	if err := run(ctx, logger); err != nil && err != context.Canceled {
		fmt.Fprintf(stderr, "murmur: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr))
}
