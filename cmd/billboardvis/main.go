package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billboardvis/internal/api"
	"billboardvis/pkg/config"
	"billboardvis/pkg/db"
	"billboardvis/pkg/db/maintenance"
	"billboardvis/pkg/logging"
	"billboardvis/pkg/pipeline"
	"billboardvis/pkg/probe"
	"billboardvis/pkg/session"
	"billboardvis/pkg/store"
	"billboardvis/pkg/version"
)

const defaultConfigPath = "configs/billboardvis.yaml"

var (
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
)

func main() {
	flag.Parse()

	// Handle --init-config flag
	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := config.LoadEnv(".env"); err != nil {
		return err
	}

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("billboardvis Started", "version", version.Version)

	dbConn, st, err := initDB(appCfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := maintenance.Run(ctx, st, maintenance.Options{
		BuildingsPath:   appCfg.Data.Buildings,
		TracesPath:      appCfg.Data.Traces,
		ResultRetention: time.Duration(appCfg.Session.TTL),
	}); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	// Startup Verification
	results := probe.Run(ctx, []probe.Probe{
		probe.Database(dbConn),
		probe.Buildings(st),
	})
	if err := probe.AnalyzeResults(slog.Default(), results); err != nil {
		return err
	}

	engine := pipeline.NewEngine(engineConfig(&appCfg.Analysis), st, slog.Default())

	ttl := time.Duration(appCfg.Session.TTL)
	sessions := session.New(ttl)
	go sessions.Run(ctx, max(ttl/4, time.Minute))

	return runServer(ctx, appCfg, engine, sessions, st)
}

func initDB(appCfg *config.Config) (*db.DB, *store.SQLiteStore, error) {
	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn), nil
}

func engineConfig(a *config.AnalysisConfig) pipeline.Config {
	return pipeline.Config{
		FeatureSize:  a.FeatureSize.Meters(),
		VisualAngle:  a.VisualAngle,
		Segments:     a.CircleSegments,
		ArcSteps:     a.ArcSteps,
		Workers:      a.Workers,
		SpatialIndex: a.SpatialIndex,
	}
}

func runServer(ctx context.Context, cfg *config.Config, engine *pipeline.Engine, sessions *session.Store, st *store.SQLiteStore) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	shutdownFunc := func() { quit <- syscall.SIGTERM }

	srv := api.NewServer(cfg.Server.Address,
		api.NewAnalysisHandler(engine, sessions, st, st),
		api.NewBuildingsHandler(st),
		shutdownFunc,
	)

	srv.Handler = loggingMiddleware(srv.Handler)
	return runServerLifecycle(ctx, srv, quit)
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.RequestLogger.Info("Request Processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
