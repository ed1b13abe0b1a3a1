package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/MIK-RC/aws-aiops/internal/api/routes"
	"github.com/MIK-RC/aws-aiops/internal/api/websocket"
	"github.com/MIK-RC/aws-aiops/internal/app"
	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer application.Close()
	logging.Info("server", "database ready at %s", cfg.Database.URL)

	// Stream swarm events to websocket clients
	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)
	go wsHub.Relay(ctx, application.Service.Manager().Events())

	appServer := routes.Setup(&routes.Dependencies{
		Config:   cfg,
		Tokens:   application.Tokens,
		Service:  application.Service,
		Runs:     application.Runs,
		Sessions: application.Sessions,
		WSHub:    wsHub,
		Context:  ctx,
	})

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logging.Info("server", "gracefully shutting down")
		cancel()
		if err := appServer.Shutdown(); err != nil {
			logging.Error("server", err, "error during shutdown")
		}
	}()

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	logging.Info("server", "starting aws-aiops on %s (environment: %s, auth: %v)",
		addr, cfg.Server.Environment, application.Tokens != nil)

	if err := appServer.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
