package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nguyenhuuduy6592/defituna-fees/app"
)

func main() {
	// Local development convenience; a missing .env is fine.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := app.Initialize(ctx)

	if err := app.NewServer(a); err != nil {
		a.Logger.Fatal("Unable to initialize server", zap.Error(err))
	}

	a.Start(ctx)
}
