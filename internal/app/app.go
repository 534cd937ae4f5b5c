package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/davstore/davstore/internal/config"
	"github.com/davstore/davstore/pkg/httpserver"
	"github.com/davstore/davstore/pkg/logger"
)

func Run(cfg *config.Config) {
	l := logger.New(cfg.Log.Level, cfg.App.Env)

	router, err := SetupRouter(l, cfg)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - SetupRouter: %w", err))
	}

	httpServer := httpserver.New(router,
		httpserver.Addr(cfg.HTTP.IP, cfg.HTTP.Port),
		httpserver.ReadTimeout(cfg.HTTP.Timeout),
		httpserver.WriteTimeout(cfg.HTTP.Timeout),
	)
	l.Info("app - Run - http server started", "addr", cfg.HTTP.IP+":"+cfg.HTTP.Port)

	// Waiting signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-interrupt:
		l.Info("app - Run - signal: " + s.String())
	case err = <-httpServer.Notify():
		l.Error("app - Run - httpServer.Notify", logger.Err(err))
	}

	// Shutdown
	err = httpServer.Shutdown()
	if err != nil {
		l.Error("app - Run - httpServer.Shutdown", logger.Err(err))
	}
}
