package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/tasksync/internal/credential"
	"github.com/nhle/tasksync/internal/events"
	"github.com/nhle/tasksync/internal/logging"
	"github.com/nhle/tasksync/internal/model"
	"github.com/nhle/tasksync/internal/store"
	appsync "github.com/nhle/tasksync/internal/sync"
)

var configPath string

// session holds what every engine-backed command needs.
type session struct {
	cfg    *model.AppConfig
	logger *zap.Logger
	store  *store.SQLiteStore
	engine *appsync.Engine
	events <-chan events.Event

	unsubscribe func()
}

func (r *session) Close() {
	r.engine.Stop()
	r.unsubscribe()
	if err := r.store.Close(); err != nil {
		r.logger.Warn("closing store", zap.Error(err))
	}
	_ = r.logger.Sync()
}

// openSession loads configuration, resolves the API token and starts the
// engine.
func openSession() (*session, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	if cfg.API.Token == "" {
		tok, err := credential.Token()
		if err != nil {
			logger.Warn("reading API token from keyring", zap.Error(err))
		}
		cfg.API.Token = tok
	}

	s, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	bus := events.NewBus()
	ch, unsubscribe := bus.Subscribe(256)

	engine, err := appsync.New(appsync.Options{
		Config: cfg,
		Store:  s,
		Bus:    bus,
		Logger: logger,
	})
	if err != nil {
		unsubscribe()
		s.Close()
		return nil, err
	}

	return &session{
		cfg:         cfg,
		logger:      logger,
		store:       s,
		engine:      engine,
		events:      ch,
		unsubscribe: unsubscribe,
	}, nil
}

var rootCmd = &cobra.Command{
	Use:           "tasksync",
	Short:         "Dispatch assistant tasks and merge their results locally",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "path to the config file")

	rootCmd.AddCommand(
		newChatCmd(),
		newChecklistCmd(),
		newCheckinCmd(),
		newWatchCmd(),
		newLoginCmd(),
		newLogoutCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
