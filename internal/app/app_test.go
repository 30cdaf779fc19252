package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notexe/notekeeper/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "reminders.db")
	cfg.Browser.RedisAddr = ""
	cfg.Alerts.Telegram = config.TelegramConfig{}
	cfg.Server.GinMode = "test"
	return cfg
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuild(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), quiet())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.Engine)
	assert.NotNil(t, a.Browser)
	assert.Nil(t, a.alerter)

	srv := a.HTTPServer()
	assert.Equal(t, ":8080", srv.Addr)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	s := a.Scheduler()
	assert.False(t, s.Running())
}

func TestBuild_TelegramAlerts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Alerts.Telegram = config.TelegramConfig{BotToken: "token", ChatID: "42"}

	a, err := Build(context.Background(), cfg, quiet())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.NotNil(t, a.alerter)
}

func TestBuild_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Browser.RedisAddr = "127.0.0.1:1"

	_, err := Build(context.Background(), cfg, quiet())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestClose_Idempotent(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), quiet())
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
