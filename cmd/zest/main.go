package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zestbot/zest/internal/api"
	"github.com/zestbot/zest/internal/bot"
	"github.com/zestbot/zest/internal/command"
	"github.com/zestbot/zest/internal/config"
	"github.com/zestbot/zest/internal/ledger"
	"github.com/zestbot/zest/internal/logging"
	"github.com/zestbot/zest/internal/payments"
	"github.com/zestbot/zest/internal/reconcile"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "zest",
	Short:   "Zest - Telegram entitlement bot with crypto payment reconciliation",
	Long:    `Zest runs a Telegram bot that sells licenses and credit recharges, reconciling confirmed crypto payments into a durable entitlement ledger.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Zest %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup; re-initialized once config is loaded.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "zest",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "zest",
	})

	log.Info().Msg("Starting Zest")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to create data directory")
	}

	store, err := ledger.NewStore(cfg.LedgerFile())
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.LedgerFile()).Msg("Failed to open ledger")
	}
	stats := store.Stats()
	log.Info().
		Int("accounts", stats.Accounts).
		Int64("credits", stats.TotalCredits).
		Int("activeLicenses", stats.ActiveLicenses).
		Msg("Ledger loaded")

	paymentClient := payments.NewClient(payments.Config{
		BaseURL:        cfg.PaymentBase,
		APIKey:         cfg.PaymentAPIKey,
		PriceCurrency:  cfg.PriceCurrency,
		PayCurrency:    cfg.PayCurrency,
		IPNCallbackURL: cfg.IPNCallbackURL(),
	})

	surface := command.New(store, paymentClient, cfg)
	chatBot := bot.New(bot.NewClient(cfg.TelegramBase, cfg.BotToken), surface, cfg)
	reconciler := reconcile.New(store, chatBot, cfg.LicenseGrant)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(cfg, reconciler, Version),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		if err := chatBot.Run(groupCtx); err != nil && groupCtx.Err() == nil {
			return fmt.Errorf("bot poller failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Zest exited with failure")
	}
	log.Info().Msg("Zest stopped")
}
