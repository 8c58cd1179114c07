package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trainmeet.org/internal/event"
	"trainmeet.org/internal/httpapi"
	"trainmeet.org/internal/notify"
	"trainmeet.org/internal/obs"
	"trainmeet.org/internal/sharing"
	"trainmeet.org/internal/store/pg"
	"trainmeet.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		events        event.Service
		sessions      sharing.SessionStore
		pings         sharing.PingStore
		notifications notify.Service
		probe         httpapi.ReadyProbe
		store         *pg.Store
	)

	if dsn := os.Getenv("TRAINMEET_PG_DSN"); dsn != "" {
		var err error
		store, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		events = store
		sessions = store
		pings = store
		notifications = store.Notifications()
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		// Without a DSN everything runs in memory, for local development.
		n := notify.NewInMemory()
		mem := sharing.NewInMemory()
		events = event.NewInMemory(event.WithNotifier(n))
		sessions = mem
		pings = mem
		notifications = n
	}

	gate := sharing.NewGate(events, events, sessions, pings)
	live := stream.New()

	api := httpapi.New(probe, events, gate, notifications, live, version)

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting trainmeet-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if store != nil {
		_ = store.Close()
	}
	log.Println("Stopped")
}
