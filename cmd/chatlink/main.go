package main

import (
	"fmt"
	"os"

	"github.com/AbdelrhmanGamal26/chatlink/internal/di"
)

func main() {
	app, cleanup, err := di.InitializeApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatlink: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	defer app.Shutdown()

	if err := app.Session.Restore(); err != nil {
		app.Logger.WithError(err).Warn("restoring persisted session failed")
	}

	if err := newUI(app).run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatlink: %v\n", err)
		os.Exit(1)
	}
}
