// Command authstub serves the in-memory authentication backend used by the
// integration tests, so the client CLI can be exercised without a real
// service. A demo account (demo@example.com / Password1) is pre-seeded.
package main

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

	"github.com/common-nighthawk/go-figure"

	"github.com/jrsteele09/go-auth-client/internal/authtest"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error running stub: %s\n", err)
	}
	log.Printf("Stub stopped\n")
}

func run() error {
	displayAppname("Auth Stub")

	backend := authtest.New()
	backend.Seed("demo@example.com", "Password1", true)

	addr := ":" + envOr("PORT", "8000")
	server := &http.Server{Addr: addr, Handler: backend}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Stub listening on %s\n", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server.ListenAndServe: %w", err)
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
