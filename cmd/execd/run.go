package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tathienbao/quant-exec/internal/alerting"
	"github.com/tathienbao/quant-exec/internal/anomaly"
	"github.com/tathienbao/quant-exec/internal/config"
	"github.com/tathienbao/quant-exec/internal/engine"
	"github.com/tathienbao/quant-exec/internal/execution"
	"github.com/tathienbao/quant-exec/internal/market"
	"github.com/tathienbao/quant-exec/internal/metrics"
	"github.com/tathienbao/quant-exec/internal/persistence"
	"github.com/tathienbao/quant-exec/internal/position"
	"github.com/tathienbao/quant-exec/internal/stops"
	"github.com/tathienbao/quant-exec/internal/tca"
	"github.com/tathienbao/quant-exec/internal/venue"
	"github.com/tathienbao/quant-exec/internal/venue/paper"
	"github.com/tathienbao/quant-exec/internal/venue/stream"
)

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	barsPath := fs.String("bars", "", "CSV bars to replay for stop trailing and snapshots")
	barsSymbol := fs.String("symbol", "", "Symbol of the CSV bars (defaults to the first configured symbol)")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	logger, logCloser := setupLogging(cfg, *verbose)
	defer logCloser.Close()

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("execd starting",
		"version", Version,
		"venue", cfg.Venue.Type,
		"symbols", cfg.Market.Symbols,
		"persistence", cfg.Persistence.Type,
	)
	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	svc, err := newService(ctx, cfg, logger, *barsPath, *barsSymbol)
	if err != nil {
		slog.Error("failed to build service", "err", err)
		os.Exit(1)
	}

	if err := svc.start(ctx); err != nil {
		slog.Error("failed to start service", "err", err)
		svc.close()
		os.Exit(1)
	}

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.ShutdownTimeout(),
	)
	defer cancel()

	if err := svc.shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	slog.Info("execd shutdown complete")
}

// service holds the wired runtime.
type service struct {
	cfg      *config.Config
	logger   *slog.Logger
	started  time.Time
	repo     persistence.Repository
	alerter  *alerting.MultiAlerter
	telegram *alerting.TelegramAlerter
	notifier *alerting.Notifier
	session  *session
	venue    venue.Venue
	stream   *stream.Stream
	observer *market.Observer
	manager  *position.Manager
	engine   *engine.Engine
	server   *metrics.Server
}

func newService(ctx context.Context, cfg *config.Config, logger *slog.Logger, barsPath, barsSymbol string) (*service, error) {
	svc := &service{cfg: cfg, logger: logger, started: time.Now()}
	recorder := metrics.NewRecorder()

	// Alerting
	svc.alerter = alerting.NewMultiAlerter(logger)
	for _, ch := range cfg.Alerting.Channels {
		floor, _ := alerting.ParseSeverity(ch.MinSeverity)
		switch ch.Type {
		case "console":
			svc.alerter.AddChannel(alerting.NewConsoleAlerter(logger), floor)
		case "telegram":
			svc.telegram = alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			})
			svc.alerter.AddChannel(svc.telegram, floor)
		}
	}
	if cfg.Alerting.Enabled && svc.alerter.Len() == 0 {
		logger.Warn("alerting enabled without channels")
	}
	svc.alerter.SetEventFilter(func(e alerting.AlertEvent) bool {
		return cfg.IsAlertEventEnabled(string(e))
	})
	svc.notifier = alerting.NewNotifier(svc.alerter, logger)

	// Persistence
	backend := persistence.BackendMemory
	if cfg.Persistence.Enabled {
		backend = cfg.Persistence.Type
	}
	repo, err := persistence.Open(backend, cfg.Persistence.Path)
	if err != nil {
		svc.notifier.Close()
		return nil, fmt.Errorf("open %s repository: %w", backend, err)
	}
	svc.repo = repo
	svc.session = newSession(svc.notifier, repo)

	// Venue
	paperVenue := paper.New(cfg.ToPaperConfig(), logger)
	svc.venue = paperVenue
	if cfg.Venue.Type == "stream" {
		svc.stream = stream.New(cfg.ToStreamConfig(), logger)
		svc.venue = newStreamVenue(paperVenue, svc.stream)
	}

	// Execution stack
	oracle := tca.NewService(cfg.ToTCAConfig(), repo, logger)
	detector := anomaly.NewDetector(cfg.ToAnomalyConfig(), svc.notifier, recorder, logger)
	executor := execution.NewEngine(cfg.ToExecutionConfig(), execution.Deps{
		Client:  svc.venue,
		Oracle:  oracle,
		Auditor: oracle,
		Monitor: detector,
		Metrics: recorder,
	}, logger)

	svc.manager = position.NewManager(cfg.ToPositionConfig(), position.Deps{
		Store:    repo,
		Venue:    svc.venue,
		Notifier: svc.session,
		Metrics:  recorder,
		Drift:    recorder,
	}, logger)

	// Market data
	if barsPath != "" {
		if barsSymbol == "" && len(cfg.Market.Symbols) > 0 {
			barsSymbol = cfg.Market.Symbols[0]
		}
		if barsSymbol == "" {
			svc.close()
			return nil, fmt.Errorf("--symbol is required with --bars when no market symbols are configured")
		}
		svc.observer = market.NewObserver(
			market.NewCSVFeed(barsPath, strings.ToUpper(barsSymbol)),
			market.NewTracker(market.CalculatorConfig{
				ATRPeriod:   cfg.Market.ATRPeriod,
				VolLookback: cfg.Market.VolLookback,
			}),
		)
	}

	symbols := cfg.Market.Symbols
	if svc.observer == nil {
		symbols = nil
	}
	svc.engine = engine.NewEngine(engine.Config{
		Symbols:                  symbols,
		ReconcileInterval:        cfg.ReconcileInterval(),
		ClosePositionsOnShutdown: cfg.Shutdown.ClosePositionsOnShutdown,
		Version:                  Version,
	}, engine.Deps{
		Venue:     svc.venue,
		Executor:  executor,
		Positions: svc.manager,
		Stops:     stops.NewEngine(cfg.ToStopConfig()),
		Market:    svc.observer,
		Notifier:  svc.notifier,
		Metrics:   recorder,
	}, logger)

	if svc.stream != nil {
		svc.stream.OnReconnect(func(string) {
			if _, err := svc.engine.ReconcileOnce(ctx); err != nil {
				logger.Warn("reconcile after reconnect failed", "err", err)
			}
			recorder.RecordStreamReconnect()
		})
	}

	if cfg.Metrics.Enabled {
		svc.server = metrics.NewServer(cfg.ToServerConfig(), logger)
		svc.server.RegisterHealthCheck("venue", func() metrics.Check {
			if state := svc.venue.State(); state != venue.StateConnected {
				return metrics.Check{Status: metrics.StatusUnhealthy, Message: state.String()}
			}
			return metrics.Check{Status: metrics.StatusHealthy}
		})
		svc.server.RegisterHealthCheck("engine", func() metrics.Check {
			if !svc.engine.IsRunning() {
				return metrics.Check{Status: metrics.StatusUnhealthy, Message: "not running"}
			}
			return metrics.Check{Status: metrics.StatusHealthy}
		})
		svc.server.SetStatusProvider(svc.status)
	}

	return svc, nil
}

func (s *service) start(ctx context.Context) error {
	if s.server != nil {
		if err := s.server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}
	if s.stream != nil {
		s.stream.Start(ctx)
	}
	return s.engine.Start(ctx)
}

// serviceStatus is the /status payload.
type serviceStatus struct {
	Version       string        `json:"version"`
	Running       bool          `json:"running"`
	Venue         string        `json:"venue"`
	OpenPositions int           `json:"open_positions"`
	Session       sessionCounts `json:"session"`
	Uptime        string        `json:"uptime"`
}

func (s *service) status() any {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	open, err := s.manager.OpenPositions(ctx)
	if err != nil {
		s.logger.Warn("status: list open positions failed", "err", err)
	}
	return serviceStatus{
		Version:       Version,
		Running:       s.engine.IsRunning(),
		Venue:         s.venue.State().String(),
		OpenPositions: len(open),
		Session:       s.session.counts(),
		Uptime:        time.Since(s.started).Round(time.Second).String(),
	}
}

func (s *service) shutdown(ctx context.Context) error {
	s.logger.Info("starting graceful shutdown",
		"timeout", s.cfg.ShutdownTimeout(),
	)

	// Shutdown steps with timeout check
	steps := []struct {
		name string
		fn   func() error
	}{
		{"stop engine", func() error {
			return s.engine.Stop(ctx)
		}},
		{"send session summary", func() error {
			return s.sendSummary(ctx)
		}},
		{"stop metrics server", func() error {
			if s.server == nil {
				return nil
			}
			return s.server.Shutdown(ctx)
		}},
		{"close connections", func() error {
			s.close()
			return nil
		}},
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout during: %s", step.name)
		default:
			slog.Debug("shutdown step", "step", step.name)
			if err := step.fn(); err != nil {
				slog.Warn("shutdown step failed", "step", step.name, "err", err)
			}
		}
	}
	return nil
}

func (s *service) sendSummary(ctx context.Context) error {
	open, err := s.manager.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	summary, err := s.session.summary(ctx, s.started, time.Now(), len(open))
	if err != nil {
		return err
	}
	s.logger.Info("session summary",
		"opened", summary.PositionsOpened,
		"closed", summary.PositionsClosed,
		"open", summary.OpenPositions,
		"trades", summary.TotalTrades,
		"realized_pnl", summary.RealizedPL.String(),
		"oco_corrections", summary.OCOCorrections,
	)
	if s.telegram == nil || !s.cfg.IsAlertEventEnabled(string(alerting.EventSessionSummary)) {
		return nil
	}
	return s.telegram.SendSessionSummary(ctx, summary)
}

// close releases the venue, stream, notifier and repository.
func (s *service) close() {
	if s.venue != nil {
		if err := s.venue.Close(); err != nil {
			s.logger.Warn("close venue failed", "err", err)
		}
	}
	if s.observer != nil {
		_ = s.observer.Close()
	}
	if s.notifier != nil {
		s.notifier.Close()
	}
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			s.logger.Warn("close repository failed", "err", err)
		}
	}
}
