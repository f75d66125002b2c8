// Command rcindex indexes rclone remotes into a searchable SQLite catalog.
//
// Usage:
//
//	rcindex serve --config /data/config.yaml
//	rcindex scan gdrive:Movies
//	rcindex rebuild-index
//	rcindex backup
//	rcindex clear -y
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/rcindex/internal/api"
	"github.com/sydlexius/rcindex/internal/api/middleware"
	"github.com/sydlexius/rcindex/internal/backup"
	"github.com/sydlexius/rcindex/internal/catalog"
	"github.com/sydlexius/rcindex/internal/config"
	"github.com/sydlexius/rcindex/internal/database"
	"github.com/sydlexius/rcindex/internal/event"
	"github.com/sydlexius/rcindex/internal/ingest"
	"github.com/sydlexius/rcindex/internal/logging"
	"github.com/sydlexius/rcindex/internal/maintenance"
	"github.com/sydlexius/rcindex/internal/provenance"
	"github.com/sydlexius/rcindex/internal/rclone"
	"github.com/sydlexius/rcindex/internal/watcher"
	"github.com/sydlexius/rcindex/internal/webhook"
)

// CLI defines the command-line interface.
type CLI struct {
	Config string `short:"c" help:"Path to config file." env:"RCX_CONFIG_PATH" default:"/data/config.yaml" type:"path"`

	Serve        ServeCmd        `cmd:"" default:"1" help:"Run the HTTP server (default)."`
	Scan         ScanCmd         `cmd:"" help:"Index a remote and exit."`
	RebuildIndex RebuildIndexCmd `cmd:"" name:"rebuild-index" help:"Rebuild the full-text search index."`
	Backup       BackupCmd       `cmd:"" help:"Write a database snapshot and prune old ones."`
	Clear        ClearCmd        `cmd:"" help:"Delete every catalog record and scan history."`
	DebugDB      DebugDBCmd      `cmd:"" name:"debug-db" help:"Print the first catalog records."`
	Version      VersionCmd      `cmd:"" help:"Show version information."`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("rcindex"),
		kong.Description("Index and search the files of rclone remotes."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the pieces every subcommand needs.
type app struct {
	configPath string
	cfg        *config.Config
	logManager *logging.Manager
	logger     *slog.Logger
	db         *sql.DB
	catalog    *catalog.Service
	provenance *provenance.Service
	rclone     *rclone.Client
}

// bootstrap loads config, sets up logging and opens the migrated database.
func bootstrap(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logManager, logger, err := logging.NewManager(cfg.Logging, nil)
	if err != nil {
		return nil, fmt.Errorf("configuring logging: %w", err)
	}
	slog.SetDefault(logger)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logManager.Close() //nolint:errcheck
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		db.Close()         //nolint:errcheck
		logManager.Close() //nolint:errcheck
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	return &app{
		configPath: configPath,
		cfg:        cfg,
		logManager: logManager,
		logger:     logger,
		db:         db,
		catalog:    catalog.NewService(db),
		provenance: provenance.NewService(db),
		rclone:     rclone.NewClient(cfg.Rclone.Binary, cfg.Rclone.ConfigPath, logger),
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("closing database", "error", err)
	}
	a.logManager.Close() //nolint:errcheck
}

func (a *app) scanService() *ingest.Service {
	opts := ingest.Options{
		BatchSize:      a.cfg.Scan.BatchSize,
		HeartbeatEvery: a.cfg.Scan.HeartbeatEvery,
		FlushOnCancel:  a.cfg.Scan.FlushOnCancel,
	}
	return ingest.NewService(ingest.RcloneLister(a.rclone), a.catalog, a.provenance, opts, a.logger)
}

func (a *app) backupService() *backup.Service {
	policy := backup.Policy{Keep: a.cfg.Backup.Keep, MaxAgeDays: a.cfg.Backup.MaxAgeDays}
	return backup.NewService(a.db, a.cfg.Backup.Dir, policy, a.logger)
}

// ServeCmd runs the HTTP API with its background workers.
type ServeCmd struct {
	Port int `help:"Override the configured listen port."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	a, err := bootstrap(cli.Config)
	if err != nil {
		return err
	}
	defer a.close()
	if c.Port != 0 {
		a.cfg.Server.Port = c.Port
	}
	logger := a.logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := event.NewBus(logger, 256)
	go eventBus.Start()
	var hooks *webhook.Dispatcher
	defer func() { stopEvents(eventBus, hooks) }()

	scans := a.scanService()
	scans.SetEventBus(eventBus)

	maint := maintenance.NewService(a.db, a.cfg.Database.Path, a.catalog, logger)
	maint.SetEventBus(eventBus)
	eventBus.Subscribe(maint.HandleEvent, event.ScanCompleted)

	if len(a.cfg.Webhooks) > 0 {
		hooks = webhook.NewDispatcher(a.cfg.Webhooks, nil, logger)
		eventBus.Subscribe(hooks.HandleEvent, hooks.Types()...)
		logger.Info("webhooks enabled", slog.Int("count", len(a.cfg.Webhooks)))
	}

	backups := a.backupService()

	rcloneConf := a.cfg.Rclone.ConfigPath
	if rcloneConf == "" {
		rcloneConf = rclone.DefaultConfigPath()
	}
	remotes := watcher.NewRemotes(rcloneConf, logger)

	router := api.NewRouter(api.RouterDeps{
		ScanService:        scans,
		CatalogService:     a.catalog,
		ProvenanceService:  a.provenance,
		MaintenanceService: maint,
		BackupService:      backups,
		LogManager:         a.logManager,
		EventBus:           eventBus,
		Browser:            a.rclone,
		Remotes:            remotes,
		RateLimiter:        middleware.NewRateLimiter(ctx, 2*time.Second, 5),
		Logger:             logger,
		BasePath:           a.cfg.Server.BasePath,
	})

	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", addr), slog.String("base_path", a.cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.cfg.Maintenance.Enabled {
		g.Go(func() error {
			maint.StartScheduler(gctx, time.Duration(a.cfg.Maintenance.IntervalHours)*time.Hour)
			return nil
		})
	}

	if a.cfg.Backup.Enabled {
		g.Go(func() error {
			backups.StartScheduler(gctx, time.Duration(a.cfg.Backup.IntervalHours)*time.Hour)
			return nil
		})
	}

	g.Go(func() error {
		remotes.Start(gctx)
		return nil
	})

	g.Go(func() error {
		a.reloadOnHangup(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := scans.Shutdown(shutdownCtx); err != nil {
			logger.Warn("scan did not stop in time", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// stopEvents stops the bus once its queue is empty, then waits for the
// webhook deliveries those last events started. hooks may be nil.
func stopEvents(bus *event.Bus, hooks *webhook.Dispatcher) {
	bus.Stop()
	<-bus.Drained()
	if hooks != nil {
		hooks.Wait()
	}
}

// reloadOnHangup re-reads the config file on SIGHUP and applies its logging
// section. Other settings need a restart.
func (a *app) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(a.configPath)
			if err != nil {
				a.logger.Error("reloading config", "error", err)
				continue
			}
			if err := a.logManager.Reconfigure(cfg.Logging); err != nil {
				a.logger.Error("applying logging config", "error", err)
				continue
			}
			a.logger.Info("logging reconfigured", slog.String("logging", cfg.Logging.String()))
		}
	}
}
