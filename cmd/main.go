package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwise1/pothole_watch/config"
	deps "github.com/bwise1/pothole_watch/internal/debs"
	api "github.com/bwise1/pothole_watch/internal/http/rest"
)

const (
	allowConnectionsAfterShutdown = 1 * time.Second
)

func main() {
	cfg := config.New()
	deps := deps.New(cfg)

	if cfg.OperatorJWTSecret == "" {
		log.Println("[Env]: OPERATOR_JWT_SECRET not set, status and delete routes are open")
	}

	a := &api.API{
		Config: cfg,
		Deps:   deps,
	}
	go deps.WebSocket.Run()
	go func() {
		log.Printf("Server running on port %v ...", cfg.Port)
		if err := a.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-stopChan

	log.Println("Request to shutdown server. Doing nothing for ", allowConnectionsAfterShutdown)
	waitTimer := time.NewTimer(allowConnectionsAfterShutdown)
	<-waitTimer.C

	log.Println("Shutting down server...")
	if err := a.Shutdown(); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	deps.Close()
	log.Println("Database connections closed.")
}
