package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devreload/backend/internal/aggregate"
	"github.com/devreload/backend/internal/classify"
	"github.com/devreload/backend/internal/config"
	"github.com/devreload/backend/internal/mock"
	"github.com/devreload/backend/internal/server"
	"github.com/devreload/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Emit synthetic change events")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Printf("No config file at %s, using defaults", *configPath)
		cfg = config.Default()
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	registry := classify.NewRegistry(cfg.Plugins.Timeout, classify.Action(cfg.Plugins.DefaultAction))
	for _, p := range classify.Builtins() {
		if err := registry.Register(p); err != nil {
			log.Fatalf("Failed to register plugin %s: %v", p.Descriptor.Name, err)
		}
	}

	hub := ws.NewHub(cfg)
	orch := aggregate.NewOrchestrator(hub)
	agg := aggregate.NewAggregator(registry, orch, cfg.Watch.Debounce, cfg.Watch.IgnoredPathSubstrings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)

	if *mockMode {
		log.Println("Starting in mock mode (synthetic change events)")
		gen := mock.NewGenerator(time.Now().UnixNano())
		if err := gen.Start(ctx); err != nil {
			log.Fatalf("Failed to start mock generator: %v", err)
		}
		go agg.Run(ctx, gen.Events())
	} else {
		log.Println("Waiting for change events on /api/changes")
	}

	srv := server.New(cfg, hub, registry, orch, agg)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		hub.Close()
		os.Exit(0)
	}()

	if err := server.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
