package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/maxvit/ctrader_meanrev/internal/connection"
	"github.com/maxvit/ctrader_meanrev/internal/domain"
	"github.com/maxvit/ctrader_meanrev/internal/engine"
	"github.com/maxvit/ctrader_meanrev/internal/infrastructure/logger"
	"github.com/maxvit/ctrader_meanrev/internal/infrastructure/notify"
	"github.com/maxvit/ctrader_meanrev/internal/infrastructure/storage"
	"github.com/maxvit/ctrader_meanrev/internal/web"
)

type Config struct {
	Broker struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"broker"`
	Symbol   string `yaml:"symbol"`
	Timezone string `yaml:"timezone"`
	Logging  struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Strategy domain.StrategyConfig `yaml:"strategy"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "botd",
		Short: "Mean-reversion trading bot over the broker's binary API",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the broker and run the strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to config file")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Credentials come from the environment; .env is a convenience for
	// local runs.
	_ = godotenv.Load()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	accountID, err := strconv.ParseInt(os.Getenv("BROKER_ACCOUNT_ID"), 10, 64)
	if err != nil {
		return fmt.Errorf("BROKER_ACCOUNT_ID must be set to a numeric account id")
	}
	clientID := os.Getenv("BROKER_CLIENT_ID")
	clientSecret := os.Getenv("BROKER_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return fmt.Errorf("BROKER_CLIENT_ID and BROKER_CLIENT_SECRET must be set")
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
	}

	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = "bot.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	session := connection.NewSession(connection.Config{
		Addr:         fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}, log)
	client := connection.NewClient(session, accountID)

	// Token is re-read on every auth so an external refresher can rotate
	// it without a restart.
	session.AccountAuth = func(ctx context.Context) error {
		return client.AccountAuth(ctx, os.Getenv("BROKER_ACCESS_TOKEN"))
	}

	hub := web.NewHub(log)
	sink := notify.NewAsyncSink(notify.Fanout{notify.NewLogSink(log), hub}, 256)
	defer sink.Close()

	eng := engine.New(client, store, sink, cfg.Symbol, cfg.Strategy, loc, log)
	if err := eng.Restore(context.Background()); err != nil {
		log.Error("state restore failed", zap.Error(err))
	}
	eng.DailyReset(context.Background(), false)

	session.Handler = eng.HandleEnvelope
	session.OnReady = eng.OnAuthenticated

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session.OnFatal = func(err error) {
		log.Error("connection is gone for good", zap.Error(err))
		cancel()
	}
	session.Start()

	// Periodic duties: daily reset at the calendar boundary, baseline
	// polling until the bar shows up.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				eng.DailyReset(context.Background(), false)
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if session.Ready() {
					pollCtx, pollCancel := context.WithTimeout(context.Background(), 20*time.Second)
					eng.PollBaseline(pollCtx)
					pollCancel()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := web.NewServer(port, eng, session, hub, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	select {
	case <-stop:
	case <-ctx.Done():
	}

	log.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	session.Close()
	return nil
}
