package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/umputun/go-flags"
	_ "go.uber.org/automaxprocs"

	"texreport/internal/app"
	"texreport/internal/job"
	u "texreport/internal/utils"
)

var opts struct {
	Config string `short:"c" long:"config" env:"CONFIG_PATH" default:"config.yaml" description:"YAML config file"`
	Dbg    bool   `long:"dbg" env:"DEBUG" description:"debug logging, includes compiler output"`
}

var revision = "unknown"

func main() {
	_ = godotenv.Load()

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(flagsExitCode(err))
	}

	cfg := u.LoadConfigFrom(opts.Config)
	if opts.Dbg {
		cfg.Logger.Level = "debug"
	}

	idleConnsClosed := make(chan struct{})
	if err := run(cfg, idleConnsClosed); err != nil {
		u.Error("Startup failed", "error", err)
		os.Exit(1)
	}
}

// flagsExitCode maps a flag parsing error to the process exit status.
// Asking for help is not a failure.
func flagsExitCode(err error) int {
	var fe *flags.Error
	if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
		return 0
	}
	return 2
}

// run wires dependencies, serves until a termination signal and returns once
// the server has shut down.
func run(cfg u.Config, idleConnsClosed chan struct{}) error {
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
	u.Info("texreport starting", "revision", revision, "compiler", cfg.Compiler.Command)

	var rdb *redis.Client
	if cfg.Cache.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.PDFCacheDB,
		})
		defer rdb.Close()
	}

	reaper, err := job.NewReaperFromConfig(cfg).Start(cfg.Publish.ReapSchedule)
	if err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}
	defer func() { <-reaper.Stop().Done() }()

	srv, err := app.SetupApp(cfg, rdb)
	if err != nil {
		return fmt.Errorf("setup app: %w", err)
	}

	startServer(srv, cfg, idleConnsClosed)
	<-idleConnsClosed
	return nil
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			u.Error("Server error", "error", err)
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)
	<-sigint

	u.Warn("Shutdown signal received, closing server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
}
