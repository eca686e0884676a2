package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/api"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/transport"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components and manages the server lifecycle.
// Returning the error to main keeps every defer (database close,
// supervisor stop) on the shutdown path.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Repositories, presence table, delivery engine
	messageRepository := repositories.NewMessageRepository(db, log, config.HistoryLimit)
	userRepository := repositories.NewUserRepository(db)
	presence := runtime.NewPresence()
	engine := runtime.NewEngine(log, presence, messageRepository, userRepository)

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Supervised background workers
	sup := workers.NewSupervisor(log)
	sup.Add(workers.NewTelemetryWorker(log, presence, os.Getpid(), config.TelemetryInterval))
	go sup.Run(ctx)

	// 6. HTTP surface
	authHandler := api.NewAuthHandler(userRepository, log, config.AuthTokenDuration)
	messageHandler := api.NewMessageHandler(messageRepository, log)
	wsHandler := transport.NewHandler(engine, log, config.ConnectionBufferSize)
	router := api.NewRouter(authHandler, messageHandler, wsHandler, config.Environment)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	srv := &http.Server{
		Addr:        address,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting server", "address", address, "at", time.Now().UTC())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 8. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	sup.Stop()
	log.Info("Program stopped cleanly")

	return nil
}
