// Package app wires the store, channel adapters, engine and surfaces
// together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/notexe/notekeeper/internal/config"
	"github.com/notexe/notekeeper/internal/httpapi"
	"github.com/notexe/notekeeper/internal/lifecycle"
	"github.com/notexe/notekeeper/internal/metrics"
	"github.com/notexe/notekeeper/internal/notify"
	"github.com/notexe/notekeeper/internal/reminder"
	"github.com/notexe/notekeeper/internal/scheduler"
)

const redisPingTimeout = 5 * time.Second

// App holds the long-lived components of one process.
type App struct {
	Config   *config.Config
	Log      *slog.Logger
	Store    *reminder.Store
	Engine   *lifecycle.Engine
	Browser  *notify.BrowserSender
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	alerter scheduler.Alerter
	closers []func() error
}

// Build opens the database, connects the browser inbox and constructs the
// engine. Close releases everything Build acquired.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Log:      log,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := reminder.NewStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	format := notify.Formatter{Location: cfg.Location(), Layout: cfg.Notify.DateLayout}

	inbox, err := a.browserInbox(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Browser = notify.NewBrowserSender(inbox, format, cfg.Notify.Timeout)

	sms := notify.NewSMSSender(notify.SMSConfig{
		AccountSID:          cfg.SMS.AccountSID,
		AuthToken:           cfg.SMS.AuthToken,
		FromNumber:          cfg.SMS.FromNumber,
		MessagingServiceSID: cfg.SMS.MessagingServiceSID,
		BaseURL:             cfg.SMS.BaseURL,
		RatePerSecond:       cfg.SMS.RatePerSecond,
		Timeout:             cfg.Notify.Timeout,
	}, format)

	email := notify.NewEmailSender(notify.EmailConfig{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		StartTLS: cfg.Email.StartTLS,
		Timeout:  cfg.Notify.Timeout,
	}, format)

	a.Engine = lifecycle.New(store,
		lifecycle.Channels{SMS: sms, Email: email, Browser: a.Browser},
		lifecycle.Config{
			DispatchWindow:  cfg.Scheduler.DispatchWindow,
			SMSScheduleLead: cfg.Notify.SMSScheduleLead,
		},
		lifecycle.WithLogger(log.With("component", "lifecycle")),
		lifecycle.WithMetrics(a.Metrics),
	)

	if t := cfg.Alerts.Telegram; t.Enabled() {
		a.alerter = notify.NewTelegramAlerter(t.BotToken, t.ChatID, t.BaseURL)
	}

	log.Info("notekeeper initialised",
		"database", cfg.Database.Path,
		"sms", sms.Configured(),
		"email", email.Configured(),
		"browser_inbox", inboxKind(cfg),
		"alerts", a.alerter != nil,
	)
	return a, nil
}

func (a *App) browserInbox(ctx context.Context) (notify.Inbox, error) {
	bc := a.Config.Browser
	if bc.RedisAddr == "" {
		return notify.NewMemoryInbox(), nil
	}

	inbox := notify.NewRedisInbox(redis.Options{
		Addr:     bc.RedisAddr,
		Password: bc.RedisPassword,
		DB:       bc.RedisDB,
	}, bc.KeyPrefix)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := inbox.Ping(pingCtx); err != nil {
		_ = inbox.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", bc.RedisAddr, err)
	}
	a.closers = append(a.closers, inbox.Close)
	return inbox, nil
}

func inboxKind(cfg *config.Config) string {
	if cfg.Browser.RedisAddr != "" {
		return "redis"
	}
	return "memory"
}

// Scheduler returns a scheduler driving this app's engine.
func (a *App) Scheduler() *scheduler.Scheduler {
	opts := []scheduler.Option{scheduler.WithLogger(a.Log.With("component", "scheduler"))}
	if a.alerter != nil {
		opts = append(opts, scheduler.WithAlerter(a.alerter))
	}
	return scheduler.New(a.Engine, scheduler.Config{
		DispatchInterval: a.Config.Scheduler.DispatchInterval,
		StatusInterval:   a.Config.Scheduler.StatusInterval,
		RunOnStart:       a.Config.Scheduler.RunOnStart,
	}, opts...)
}

// HTTPServer returns the API server bound to the configured address.
func (a *App) HTTPServer() *http.Server {
	gin.SetMode(a.Config.Server.GinMode)

	api := httpapi.New(a.Engine,
		httpapi.WithLogger(a.Log.With("component", "http")),
		httpapi.WithMetrics(a.Metrics, a.Registry),
		httpapi.WithInbox(a.Browser),
	)
	return &http.Server{
		Addr:         a.Config.Server.Addr,
		Handler:      api.Handler(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
