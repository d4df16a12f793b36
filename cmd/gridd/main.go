// Command gridd is the grid control-plane daemon: it wires the Event Bus,
// Session Map, Node Registry, Distributor, and Router together behind a
// standard-library HTTP server.
//
// Startup sequence:
//  1. Load configuration (JSON file or defaults).
//  2. Initialize logging and metrics.
//  3. Build the event bus, session map, and node registry.
//  4. Build the node RPC client and the distributor.
//  5. Start the health-check scheduler and the reservation janitor.
//  6. Start the downstream HTTP router.
//  7. Block until OS signals SIGINT or SIGTERM, then perform a clean shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gridworks/gridcore/internal/config"
	"github.com/gridworks/gridcore/internal/distributor"
	"github.com/gridworks/gridcore/internal/eventbus"
	"github.com/gridworks/gridcore/internal/gridlog"
	"github.com/gridworks/gridcore/internal/gridmetrics"
	"github.com/gridworks/gridcore/internal/nodeclient"
	"github.com/gridworks/gridcore/internal/registry"
	"github.com/gridworks/gridcore/internal/router"
	"github.com/gridworks/gridcore/internal/sessionmap"
	"github.com/gridworks/gridcore/internal/workerpool"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	configFile := flag.String("config", "", "Path to JSON config file (optional; uses defaults if omitted)")
	peerAddr := flag.String("bus-peer", "", "ws:// URL of another hub replica's event bus to mesh with (optional)")
	flag.Parse()

	// ── Logger ─────────────────────────────────────────────────────────────
	log := gridlog.New(gridlog.LevelInfo)
	log.Info("gridd starting up")

	// ── Configuration ──────────────────────────────────────────────────────
	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Errorf("failed to load config from %q: %v", *configFile, err)
			os.Exit(1)
		}
		log.Infof("configuration loaded from %q", *configFile)
	} else {
		cfg = config.Default()
		log.Info("using default configuration")
	}

	// ── Metrics ────────────────────────────────────────────────────────────
	metrics := gridmetrics.New()

	// ── Event bus ──────────────────────────────────────────────────────────
	local := eventbus.NewLocalBus()
	bus := eventbus.NewNetworkBus(local)
	if *peerAddr != "" {
		if closePeer, err := bus.Dial(*peerAddr); err != nil {
			log.Errorf("failed to dial bus peer %q: %v", *peerAddr, err)
		} else {
			log.Infof("meshed with bus peer %q", *peerAddr)
			defer closePeer() //nolint:errcheck
		}
	}

	// ── Core components ────────────────────────────────────────────────────
	sessions := sessionmap.New(bus)
	reg := registry.New(cfg.RegistrationSecret, bus)
	client := nodeclient.New(cfg.NodeRPCTimeout)

	var seenMu sync.Mutex
	seen := make(map[string]struct{})
	bus.Subscribe("node.heartbeat", func(key string, _ any) {
		seenMu.Lock()
		_, known := seen[key]
		seen[key] = struct{}{}
		seenMu.Unlock()
		if !known {
			metrics.IncrementNodesRegistered()
		}
	})
	bus.Subscribe("node.removed", func(key string, _ any) {
		seenMu.Lock()
		delete(seen, key)
		seenMu.Unlock()
		metrics.IncrementNodesEvicted()
	})

	dist := distributor.New(reg, sessions, client, bus, log, metrics, distributor.Config{
		UnhealthyAfter:       cfg.UnhealthyAfter,
		NewSessionTimeout:    cfg.NewSessionTimeout,
		NodeRPCTimeout:       cfg.NodeRPCTimeout,
		MaxPlacementAttempts: cfg.MaxPlacementAttempts,
		Informational:        cfg.InformationalSet(),
	})

	// ── Health-check scheduler ─────────────────────────────────────────────
	healthPool := workerpool.New(cfg.HealthProbeWorkers)
	healthPool.Start()
	stopHealth := reg.StartHealthChecks(healthPool, cfg.HeartbeatInterval, cfg.UnhealthyAfter, cfg.HealthProbeTimeout,
		func(ctx context.Context, nodeID, externalURI string) error {
			_, err := client.Status(ctx, externalURI)
			return err
		})

	// ── Reservation janitor ────────────────────────────────────────────────
	janitor := distributor.NewJanitor(dist, cfg.JanitorInterval, cfg.NewSessionTimeout)
	janitor.Start()

	// ── Router / HTTP server ───────────────────────────────────────────────
	handler := router.New(dist, sessions, reg, log, cfg.NodeRPCTimeout)
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.HandleFunc("/se/grid/bus", bus.ServeHTTP)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server error: %v", err)
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println() // newline after ^C
	log.Infof("received signal %s; shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http server shutdown error: %v", err)
	}

	stopHealth()
	healthPool.Stop()
	janitor.Stop()

	snap := metrics.Snapshot()
	log.Infof("final metrics – sessions created: %d | failed: %d | placement attempts: %d | nodes registered: %d | nodes evicted: %d | reservations expired: %d",
		snap.SessionsCreated, snap.SessionsFailed, snap.PlacementAttempts, snap.NodesRegistered, snap.NodesEvicted, snap.ReservationsExpired)
	log.Info("gridd shut down cleanly")
}
