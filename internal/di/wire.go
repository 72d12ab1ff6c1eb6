//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/AbdelrhmanGamal26/chatlink/config"
	"github.com/AbdelrhmanGamal26/chatlink/internal/api"
	"github.com/AbdelrhmanGamal26/chatlink/internal/chat"
	"github.com/AbdelrhmanGamal26/chatlink/internal/notify"
	"github.com/AbdelrhmanGamal26/chatlink/internal/realtime"
)

// InitializeApp builds the full component graph. Regenerate wire_gen.go
// with `wire ./internal/di` after changing providers.
func InitializeApp() (*App, func(), error) {
	wire.Build(
		config.Load,
		provideLogger,
		provideSessionStorage,
		provideSessionStore,
		provideChatStore,
		provideChannel,
		api.NewClient,
		notify.NewNotifier,
		chat.NewService,
		wire.Bind(new(chat.API), new(*api.Client)),
		wire.Bind(new(chat.Channel), new(*realtime.Channel)),
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
