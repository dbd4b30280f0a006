package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"github.com/vasiliy-maslov/btcshop-orders/internal/auth"
	"github.com/vasiliy-maslov/btcshop-orders/internal/config"
	"github.com/vasiliy-maslov/btcshop-orders/internal/db"
	"github.com/vasiliy-maslov/btcshop-orders/internal/events"
	orderHttp "github.com/vasiliy-maslov/btcshop-orders/internal/handler/http"
	"github.com/vasiliy-maslov/btcshop-orders/internal/metrics"
	"github.com/vasiliy-maslov/btcshop-orders/internal/order"
	"github.com/vasiliy-maslov/btcshop-orders/internal/wallet"
)

const serviceName = "order-service"

func main() {
	app := &cli.App{
		Name:   serviceName,
		Usage:  "storefront orders settled in bitcoin",
		Flags:  serveFlags(),
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Flags:  serveFlags(),
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply pending database migrations",
				Action: migrateUp,
			},
			{
				Name:  "user",
				Usage: "manage store accounts",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "create an account",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "username", Required: true},
							&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"NEW_USER_PASSWORD"}},
							&cli.StringSliceFlag{Name: "role", Value: cli.NewStringSlice(string(auth.RoleCustomer)), Usage: "Admin or Customer, repeatable"},
						},
						Action: addUser,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("Order service failed")
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "migrate", Usage: "apply migrations before serving"},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	setupLogger(cfg.App)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setupLogger(cfg config.AppConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", serviceName).Logger()
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateWallet(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log.Info().Msg("Order service starting...")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool("migrate") {
		if err := db.Migrate(cfg.Postgres.URL(), cfg.Postgres.MigrationsPath); err != nil {
			return err
		}
	}

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	node, err := wallet.NewBitcoindIssuer(cfg.Wallet)
	if err != nil {
		return err
	}
	defer node.Close()

	notifier := events.New(cfg.Kafka)
	if closer, ok := notifier.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close event publisher")
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServerMetrics(reg, "order_service")
	orderMetrics := metrics.NewOrderMetrics(reg, "order_service")

	accounts := auth.NewAccountStore(pg.Pool)
	repo := order.NewRepository(pg.Pool)
	orderSvc := order.NewService(repo, wallet.NewFreshnessGuard(node),
		order.WithNotifier(notifier),
		order.WithObserver(orderMetrics),
	)
	orderHandler := orderHttp.NewOrderHandler(orderSvc, order.NewListingService(repo, accounts), order.NewLookup(repo, accounts))

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(serverMetrics.Middleware)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pg.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("OK"))
	})
	router.Handle("/metrics", metrics.Handler(reg))
	router.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(accounts, cfg.App.AuthRealm))
		orderHandler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second + cfg.Wallet.Timeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}

func migrateUp(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return db.Migrate(cfg.Postgres.URL(), cfg.Postgres.MigrationsPath)
}

func addUser(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	roles := make([]auth.Role, 0, len(c.StringSlice("role")))
	for _, name := range c.StringSlice("role") {
		role, err := auth.ParseRole(name)
		if err != nil {
			return err
		}
		roles = append(roles, role)
	}

	pg, err := db.New(c.Context, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	return auth.NewAccountStore(pg.Pool).CreateUser(c.Context, c.String("username"), c.String("password"), roles...)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
