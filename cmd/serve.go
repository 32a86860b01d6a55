package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/alimasry/go-oplog/config"
	"github.com/alimasry/go-oplog/server"
	"github.com/alimasry/go-oplog/store"
	"github.com/alimasry/go-oplog/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve documents over WebSocket",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := server.NewHub(st)
	go hub.Run()
	defer hub.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           otelhttp.NewHandler(server.NewHandler(hub, cfg.StaticDir), "oplog"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s (store: %s)", cfg.Addr, cfg.Store.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore builds the configured document store. The returned func
// releases it, flushing the cache first when one is configured.
func openStore(ctx context.Context, sc config.StoreConfig) (store.DocumentStore, func(), error) {
	var (
		backing store.DocumentStore
		release = func() {}
	)

	switch sc.Backend {
	case config.BackendMemory:
		backing = store.NewMemoryStore()
	case config.BackendSQLite:
		s, err := store.NewSQLiteStore(sc.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		backing = s
		release = func() {
			if err := s.Close(); err != nil {
				log.Printf("sqlite store: close: %v", err)
			}
		}
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, sc.FirestoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("creating firestore client: %w", err)
		}
		backing = store.NewFirestoreStore(client)
		release = func() {
			if err := client.Close(); err != nil {
				log.Printf("firestore store: close: %v", err)
			}
		}
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}

	if !sc.Cache {
		return backing, release, nil
	}
	cs := store.NewCachedStore(backing, sc.FlushInterval)
	return cs, func() {
		cs.Close()
		release()
	}, nil
}
