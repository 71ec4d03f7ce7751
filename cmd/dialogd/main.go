// Command dialogd runs the conversation controller daemon: an HTTP bridge
// in front of the durable conversation manager, backed by an embedded
// libsql transcript store.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dialog-core/dcore/config"
	"github.com/ZanzyTHEbar/dialog-core/dcore/conversation"
	"github.com/ZanzyTHEbar/dialog-core/dcore/db"
	"github.com/ZanzyTHEbar/dialog-core/dcore/prompt"
	"github.com/ZanzyTHEbar/dialog-core/dcore/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if *debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	if err := run(*configPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("dialogd exited")
	}
}

func run(configPath string, logger zerolog.Logger) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	var conn *sql.DB
	if cfg.Database.Path != "" {
		conn, err = db.Connect(cfg.Database.Path, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.Migrate(conn); err != nil {
			return err
		}
	} else {
		logger.Warn().Msg("no database path configured, transcripts are in-memory only")
	}

	manager := conversation.NewFactory(cfg, conn, logger).CreateManager()
	defer manager.Close()

	prompts, err := prompt.NewLoader(cfg.Workspace.Root, logger)
	if err != nil {
		// A missing workspace is survivable; conversations run unprompted.
		logger.Warn().Err(err).Str("root", cfg.Workspace.Root).Msg("workspace prompt unavailable")
		prompts = nil
	} else {
		defer prompts.Close()
		if err := prompts.Watch(); err != nil {
			logger.Warn().Err(err).Msg("workspace watch unavailable, prompt is fixed for this run")
		}
	}

	var source server.PromptSource
	if prompts != nil {
		source = prompts
	}
	srv := server.New(cfg, manager, source, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
