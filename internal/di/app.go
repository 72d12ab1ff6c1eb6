// Package di assembles the application graph. Providers stay free of
// construction order concerns; wire_gen.go encodes the order.
package di

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AbdelrhmanGamal26/chatlink/config"
	"github.com/AbdelrhmanGamal26/chatlink/internal/api"
	"github.com/AbdelrhmanGamal26/chatlink/internal/chat"
	"github.com/AbdelrhmanGamal26/chatlink/internal/notify"
	"github.com/AbdelrhmanGamal26/chatlink/internal/realtime"
	"github.com/AbdelrhmanGamal26/chatlink/internal/session"
)

// App bundles every long-lived component the terminal client needs.
type App struct {
	Config   *config.Config
	Logger   logrus.FieldLogger
	Session  *session.Store
	API      *api.Client
	Channel  *realtime.Channel
	Chat     *chat.Service
	Notifier *notify.Notifier
}

// Shutdown tears the graph down in reverse dependency order.
func (a *App) Shutdown() {
	a.Chat.Stop()
	a.Channel.Close()
}

// provideLogger writes to a file under the state directory so log lines
// never fight the terminal UI for the screen. Each run carries a short
// correlation id to keep interleaved runs apart in the same file.
func provideLogger(cfg *config.Config) (logrus.FieldLogger, func(), error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	path := filepath.Join(cfg.StateDir, "chatlink.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	logger.SetOutput(file)

	cleanup := func() { _ = file.Close() }
	return logger.WithField("run", uuid.NewString()[:8]), cleanup, nil
}

func provideSessionStorage(cfg *config.Config) (*session.Storage, error) {
	return session.OpenStorage(cfg.StateDir)
}

func provideSessionStore(storage *session.Storage) *session.Store {
	return session.NewStore(storage)
}

func provideChatStore(cfg *config.Config) *chat.Store {
	return chat.NewStore(cfg.CacheStaleAfter)
}

func provideChannel(cfg *config.Config, logger logrus.FieldLogger) *realtime.Channel {
	return realtime.NewChannel(cfg.SocketURL, logger)
}
