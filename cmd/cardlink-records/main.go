// Command cardlink-records serves the items demo API over SQLite.
//
// Usage:
//
//	cardlink-records [flags]
//
// Flags:
//
//	-address string  HTTP listen address (default ":8080")
//	-db string       SQLite database path (default "records.db")
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardlink-protocol/cardlink-go/pkg/records"
)

func main() {
	address := flag.String("address", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "records.db", "SQLite database path")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := records.OpenStore(*dbPath, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	server := &http.Server{
		Addr:    *address,
		Handler: records.Handler(store),
	}

	go func() {
		logger.Info("records service listening", "address", *address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
