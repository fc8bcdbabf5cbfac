package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samer-khoury/mizan/config"
	"github.com/samer-khoury/mizan/internal/chat"
	"github.com/samer-khoury/mizan/internal/fetch"
	"github.com/samer-khoury/mizan/internal/identity"
	"github.com/samer-khoury/mizan/internal/live"
	"github.com/samer-khoury/mizan/internal/telemetry"
	"github.com/samer-khoury/mizan/provider"
)

// Run wires the full service and blocks serving HTTP.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := cfg.Server.Validate(); err != nil {
		return err
	}
	secret := []byte(cfg.Server.JWTSecret)

	ctx := context.Background()
	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		baseLogger.Printf("migrations: %v", err)
	}
	users, err := identity.New(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	store, err := chat.NewRedisStore(ctx, cfg.Storage.Redis.Addr(),
		cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.Timeout)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	metrics := telemetry.New(nil)

	index, err := chat.NewSearchIndex()
	if err != nil {
		return err
	}

	engine := chat.NewEngine(store, index, chat.Options{
		TitleMaxChars: cfg.Chat.TitleMaxChars,
		DefaultTitle:  cfg.Chat.DefaultTitle,
		Logger:        log.New(log.Writer(), "[CHAT] ", log.LstdFlags),
		Metrics:       metrics,
	})

	backend, err := provider.NewProvider(provider.Gemini, cfg.Providers.Gemini)
	if err != nil {
		return err
	}

	resolver := fetch.NewTitleResolver(log.New(log.Writer(), "[FETCH] ", log.LstdFlags), false)
	journal := live.NewJournal(store.Client(), cfg.Live.TurnJournal)

	api := e.Group("/api")

	auth := &AuthHandler{Users: users, Secret: secret, TTL: cfg.Server.JWTTTL}
	auth.Register(api.Group("/auth"))

	sh := &SessionsHandler{Engine: engine, Index: index, Users: users}
	sh.Register(api.Group("/sessions"), secret)

	ch := &ChatHandler{Engine: engine, Provider: backend, Users: users, Resolver: resolver}
	ch.Register(api.Group("/chat"), secret)

	lh := &LiveHandler{
		Engine:          engine,
		Provider:        backend,
		Journal:         journal,
		SummaryMinChars: cfg.Live.SummaryMinChars,
		Logger:          log.New(log.Writer(), "[LIVE] ", log.LstdFlags),
		Metrics:         metrics,
	}
	lh.Register(api.Group("/live"), secret)

	if cfg.Retention.Enabled {
		cleaner := &Cleaner{
			Store:   store,
			Index:   index,
			Cron:    cfg.Retention.Cron,
			MaxAge:  cfg.Retention.MaxAge,
			Stop:    make(chan struct{}),
			Metrics: metrics,
		}
		cleaner.Start()
	}

	if addr == "" {
		addr = cfg.Server.Listen
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
