package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"edulearn/internal/config"
	"edulearn/internal/httpapi"
	"edulearn/internal/logging"
	"edulearn/internal/mcpserver"
	"edulearn/internal/scheduler"
	"edulearn/internal/telegram"
)

var version = "dev"

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "edulearn",
		Short:        "EduLearnAI tutoring backend",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newMCPCmd(), newSweepCmd(), newReportCmd())
	return root
}

// setup loads configuration and the logger shared by every command.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, the Telegram bot and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides HTTP_ADDR")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)

	api := httpapi.New(a.chat, a.registry, logger)
	if a.documents != nil {
		api.WithDocuments(a.documents)
	}
	srv := httpapi.NewHTTPServer(cfg.HTTPAddr, api.Handler())
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down http server")
		return httpapi.Shutdown(srv, 15*time.Second)
	})

	var bot *telegram.Bot
	if cfg.TelegramBotToken != "" {
		var bindings telegram.Bindings = telegram.NewMemoryBindings()
		if cfg.TelegramChatsPath != "" {
			fb, err := telegram.NewFileBindings(cfg.TelegramChatsPath)
			if err != nil {
				return fmt.Errorf("telegram bindings: %w", err)
			}
			bindings = fb
		}
		bot, err = telegram.New(cfg.TelegramBotToken, a.chat, bindings, logger)
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		g.Go(func() error { return bot.Start(ctx) })
	}

	sched := scheduler.New(logger)
	if cfg.SessionTTL > 0 {
		if err := sched.Add(scheduler.ExpiryJob(cfg.SweepSchedule, a.sessions, cfg.SessionTTL)); err != nil {
			return err
		}
	}
	if a.recorder != nil && cfg.ReportSchedule != "" {
		var notify scheduler.Notifier
		if bot != nil && cfg.AdminUserID != 0 {
			notify = func(ctx context.Context, text string) error {
				return bot.Notify(ctx, cfg.AdminUserID, text)
			}
		}
		if err := sched.Add(scheduler.ReportJob(cfg.ReportSchedule, a.recorder, notify, logger)); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	return g.Wait()
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the session tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			logger.Info("mcp server starting on stdio")
			return mcpserver.Run(cmd.Context(), a.chat, version, logger)
		},
	}
}

func newSweepCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete sessions idle for longer than the TTL once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.SessionTTL
			}
			if ttl <= 0 {
				return errors.New("no TTL: set SESSION_TTL or pass --ttl")
			}
			sessions, closer, err := openSessions(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer(context.Background())
			}
			n, err := sessions.Expire(cmd.Context(), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d sessions\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "idle time after which a session is deleted, overrides SESSION_TTL")
	return cmd
}
