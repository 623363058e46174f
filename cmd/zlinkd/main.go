// Command zlinkd is the replication engine daemon: it
// serves the peer-facing JSON RPC API (internal/server), runs the
// periodic role-update + sync loop over every configured link, and
// optionally exposes a Prometheus /metrics endpoint. Its startup sequence
// follows a conventional daemon wiring: parse config, build
// collaborators, start the listener, run until signaled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ixsystems/zlinkd/internal/config"
	"github.com/ixsystems/zlinkd/internal/link"
	"github.com/ixsystems/zlinkd/internal/logging"
	"github.com/ixsystems/zlinkd/internal/metrics"
	"github.com/ixsystems/zlinkd/internal/role"
	"github.com/ixsystems/zlinkd/internal/rpc"
	"github.com/ixsystems/zlinkd/internal/server"
	"github.com/ixsystems/zlinkd/internal/store"
	"github.com/ixsystems/zlinkd/internal/zfs"
)

func main() {
	configPath := flag.String("config", "", "path to zlinkd.yml (default: search standard locations)")
	flag.Parse()

	cfg, err := config.ParseConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "zlinkd:", err)
		os.Exit(1)
	}

	logOpts := cfg.Global.LoggingOrDefault()
	log := logging.New(logging.Options{Level: logOpts.Level, Color: logOpts.Color})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		logging.WithError(log, err, "zlinkd: exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	fileStore, err := store.New(cfg.Global.DataDir)
	if err != nil {
		return fmt.Errorf("zlinkd: open datastore at %q: %w", cfg.Global.DataDir, err)
	}

	peer := rpc.NewJSONClient(peerBaseURL(cfg.Global))
	peer.HTTP.Timeout = cfg.Global.InteractiveTimeout

	keys := link.NewConfigKeyStore(fileStore)
	registry := link.NewRegistry(fileStore, peer, keys, cfg.Global.LocalIPs, cfg.Global.StatusTTL).
		WithDestroyDataset(zfs.DestroyDataset)
	coordinator := role.New(role.LocalZFS{}, role.NoopServices{}, cfg.Global.LocalIPs)

	for _, lc := range cfg.Links {
		if _, err := registry.GetLatestLink(ctx, lc.Name); err != nil {
			localDatasets := localDatasetsFor(ctx, lc.Datasets)
			if _, err := registry.Create(ctx, lc.ToLink(), localDatasets); err != nil {
				log.Warn("zlinkd: seed configured link", "link", lc.Name, "error", err)
			}
		}
	}

	collectors := metrics.New()
	promReg := prometheus.NewRegistry()
	collectors.MustRegister(promReg)

	loop := &syncLoop{
		cfg: cfg, registry: registry, coordinator: coordinator,
		peer: peer, metrics: collectors, log: log,
	}

	rpcServer := server.New(registry, coordinator, loop, log)
	httpServer := &http.Server{Addr: cfg.Global.Listen, Handler: rpcServer}

	serveErrs := make(chan error, 2)
	go func() {
		log.Info("zlinkd: rpc listening", "addr", cfg.Global.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrs <- fmt.Errorf("rpc server: %w", err)
		}
	}()

	for _, m := range cfg.Global.Monitoring {
		if prom, ok := m.Ret.(*config.PrometheusMonitoring); ok {
			go serveMetrics(prom, promReg, log, serveErrs)
		}
	}

	go loop.Run(ctx)
	go watchNetworkChange(ctx, registry, cfg, log)

	select {
	case <-ctx.Done():
		log.Info("zlinkd: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serveErrs:
		return err
	}
}

// peerBaseURL builds the JSONClient target for the HA pair's other
// controller. An unset PeerAddress yields an empty URL, which is
// fine: every call through it fails and degrades to a local-only answer
// with a warning.
func peerBaseURL(g *config.Global) string {
	if g.PeerAddress == "" {
		return ""
	}
	return fmt.Sprintf("http://%s%s", g.PeerAddress, g.Listen)
}

// watchNetworkChange re-runs reserve+sync for every configured link on
// SIGHUP. The retry loop needs a trigger beyond the periodic sync loop:
// a network change on an HA pair's dedicated link won't wait for the
// next tick.
func watchNetworkChange(ctx context.Context, registry *link.Registry, cfg *config.Config, log *slog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			log.Info("zlinkd: sighup received, retrying reserve+sync for all links")
			for _, lc := range cfg.Links {
				plugins := lc.Transport
				if len(plugins) == 0 {
					plugins = cfg.Global.DefaultTransport
				}
				if err := registry.RetryReserveAndSync(ctx, lc.Name, plugins, 3, 5*time.Second); err != nil {
					log.Warn("zlinkd: retry reserve+sync", "link", lc.Name, "error", err)
				}
			}
		}
	}
}

func serveMetrics(cfg *config.PrometheusMonitoring, reg *prometheus.Registry, log *slog.Logger, errs chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info("zlinkd: metrics listening", "addr", cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, mux); err != nil {
		errs <- fmt.Errorf("metrics server: %w", err)
	}
}
