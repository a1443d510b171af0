package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/linkvault/internal/account"
	"github.com/MGallo-Code/linkvault/internal/auth"
	"github.com/MGallo-Code/linkvault/internal/config"
	"github.com/MGallo-Code/linkvault/internal/mail"
	"github.com/MGallo-Code/linkvault/internal/metrics"
	"github.com/MGallo-Code/linkvault/internal/password"
	"github.com/MGallo-Code/linkvault/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// Cancel ctx on SIGINT/SIGTERM; commands shut down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("fatal", "err", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	serve := newServeCommand()
	cmd := &cobra.Command{
		Use:           "linkvault",
		Short:         "Account security service for linkvault",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Bare invocation serves.
		RunE: serve.RunE,
	}
	cmd.AddCommand(serve)
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, nil, nil)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ps, err := store.NewPostgresStore(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to set up postgres store: %w", err)
			}
			defer ps.Close()
			return migrate(cmd.Context(), ps)
		},
	}
}

// setup loads config and installs the JSON logger at the configured level.
func setup() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	level := cfg.SlogLevel()
	// Include source location in log entries at debug level only.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})))
	return cfg, nil
}

func migrate(ctx context.Context, ps *store.PostgresStore) error {
	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// mailQueue is the lifecycle shared by mail.Queue and mail.RedisQueue.
type mailQueue interface {
	mail.Mailer
	Start()
	Shutdown(ctx context.Context) error
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
// If ml is non-nil it replaces the SMTP/Nop mailer behind the queue (tests capture tokens this way).
func run(ctx context.Context, cfg *config.Config, ready chan<- string, ml mail.Mailer) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	if err := migrate(ctx, ps); err != nil {
		return err
	}

	hasher, err := password.NewHasher(password.Params{
		Memory:  cfg.Argon2MemoryKiB,
		Time:    cfg.Argon2Time,
		Threads: cfg.Argon2Threads,
		SaltLen: password.DefaultParams.SaltLen,
		KeyLen:  password.DefaultParams.KeyLen,
	})
	if err != nil {
		return fmt.Errorf("invalid argon2 parameters: %w", err)
	}
	core := account.NewCore(hasher, nil)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// NopMailer until SMTP is configured via env vars.
	var inner mail.Mailer
	switch {
	case ml != nil:
		inner = ml
	case cfg.SMTPHost != "":
		inner = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:            cfg.SMTPHost,
			Port:            cfg.SMTPPort,
			Username:        cfg.SMTPUsername,
			Password:        cfg.SMTPPassword,
			FromAddress:     cfg.SMTPFromAddress,
			VerifyURLBase:   cfg.SMTPVerifyURLBase,
			RecoveryURLBase: cfg.SMTPRecoveryURLBase,
		})
	default:
		slog.Warn("SMTP_HOST not set, outbound mail is discarded")
		inner = mail.NopMailer{}
	}

	var (
		queue       mailQueue
		queueHealth auth.HealthChecker
	)
	switch cfg.MailQueue {
	case config.MailQueueRedis:
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()
		rq := mail.NewRedisQueue(inner, rdb, int64(cfg.MailQueueSize), m)
		queue, queueHealth = rq, rq
	default:
		queue = mail.NewQueue(inner, cfg.MailQueueSize, m)
	}
	queue.Start()
	defer func() {
		// Flush queued mail; bounded so a stuck SMTP server cannot hold shutdown.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.MailShutdownTimeout)
		defer cancel()
		if err := queue.Shutdown(shutdownCtx); err != nil {
			slog.Warn("mail queue shutdown incomplete", "error", err)
		}
	}()

	h := auth.NewAuthHandler(ps, core, queue, m)
	h.Queue = queueHealth

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler: buildRouter(h, reg, routerLimits{
			LoginPerMinute:    cfg.RateLoginPerMinute,
			RecoveryPerMinute: cfg.RateRecoveryPerMinute,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("linkvault listening", "addr", ln.Addr().String(), "mail_queue", cfg.MailQueue)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stop taking requests before the mail queue drains so nothing enqueues behind the flush.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// routerLimits are per-IP request budgets for the credential endpoints.
type routerLimits struct {
	LoginPerMinute    int
	RecoveryPerMinute int
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.AuthHandler, reg *prometheus.Registry, limits routerLimits) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.CheckHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Post("/register", h.Register)
	r.Post("/verify/email", h.VerifyEmail)
	r.Post("/password/check", h.CheckPassword)

	// Credential checks: throttle guessing per client IP.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(limits.LoginPerMinute, time.Minute))
		r.Post("/login", h.Login)
		r.Post("/verify/email/resend", h.ResendVerification)
		r.Post("/email/change", h.ChangeEmail)
		r.Post("/password/change", h.ChangePassword)
	})

	// Recovery: tighter budget, each request may send mail.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(limits.RecoveryPerMinute, time.Minute))
		r.Post("/password/recover", h.RequestRecovery)
		r.Post("/password/recover/confirm", h.ConfirmRecovery)
	})

	return r
}
