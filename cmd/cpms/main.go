package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"cpms/internal/config"
	"cpms/internal/db"
	"cpms/internal/httpapi"
	"cpms/internal/logger"
	"cpms/internal/metrics"
	"cpms/internal/repo"
	"cpms/internal/services"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "cpms",
	Short:        "Charging profile resolution service",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type backend struct {
	profiles services.ProfileStore
	sessions interface {
		services.SessionLog
		services.ActivationSource
	}
	chargers services.ChargerRegistry
	events   services.EventLog
	close    func()
}

func openBackend(ctx context.Context, cfg config.Config, log logger.Logger) (*backend, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warnf("using in-memory storage, profiles are lost on restart")
		return &backend{
			profiles: repo.NewMemoryStore(),
			sessions: repo.NewMemorySessions(),
			chargers: repo.NewMemoryChargers(),
			close:    func() {},
		}, nil
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	d, err := db.Connect(cctx, cfg.DatabaseURL, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := d.Migrate(cctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &backend{
		profiles: repo.NewProfilesRepo(d.Pool),
		sessions: repo.NewSessionsRepo(d.Pool),
		chargers: repo.NewChargersRepo(d.Pool),
		events:   repo.NewEventsRepo(d.Pool),
		close:    d.Close,
	}, nil
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logOpts := logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}
	log := logger.New("main", logOpts)

	b, err := openBackend(ctx, cfg, logger.New("storage", logOpts))
	if err != nil {
		return err
	}
	defer b.close()

	var (
		rec           metrics.Recorder = metrics.Nop{}
		metricHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		prom, err := metrics.NewProm(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		rec = prom
		metricHandler = metrics.Handler(nil)
	}

	engine := services.NewEngine(b.profiles, b.sessions, rec, logger.New("engine", logOpts), cfg.Schedule.MaxWindow)
	processor := services.NewEventsProcessor(b.events, b.chargers, b.sessions, cfg.MaxEventSkew, logger.New("events", logOpts))
	srv := httpapi.NewServer(cfg, engine, b.chargers, processor, metricHandler, logger.New("http", logOpts))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("CPMS listening on %s (storage=%s)", cfg.ListenAddr, cfg.Storage)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	log.Infof("CPMS shutdown complete")
	return nil
}
