package app

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nguyenhuuduy6592/defituna-fees/app/controller"
	"github.com/nguyenhuuduy6592/defituna-fees/app/types"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/utils"
)

// NewServer attaches the admin HTTP surface to the app.
func NewServer(a *types.App) error {
	ctrl := controller.NewController(a)

	router, err := ctrl.NewRouter()
	if err != nil {
		return err
	}

	addr := utils.Env("ADDR", ":3000")
	a.Server = &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           controller.WithCORS(router),
	}

	a.Logger.Info("Admin API listening", zap.String("addr", addr))
	return nil
}
