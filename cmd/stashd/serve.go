package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stashd-io/stashd/internal/config"
	"github.com/stashd-io/stashd/internal/datastore"
	"github.com/stashd-io/stashd/internal/logging"
	"github.com/stashd-io/stashd/internal/metrics"
	"github.com/stashd-io/stashd/internal/scheduler"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	Config *config.Config
	Logger *logging.Logger

	// Registry receives the server's metrics. A fresh registry is created
	// when nil.
	Registry *prometheus.Registry
}

// Server ties together the opened datastores, the maintenance scheduler and
// the metrics endpoint.
type Server struct {
	cfg    *config.Config
	log    *logging.Logger
	sched  *scheduler.Scheduler
	stores map[string]*datastore.Store

	metricsSrv *http.Server
	errCh      chan error
}

// NewServer opens every configured datastore and prepares the scheduler.
func NewServer(opts ServerOptions) (*Server, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = logging.Global()
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	gcMetrics := metrics.NewGCMetricsWithRegistry(reg)
	pruneMetrics := metrics.NewPruneMetricsWithRegistry(reg)

	sched := scheduler.New(log, gcMetrics, pruneMetrics)
	stores := make(map[string]*datastore.Store, len(cfg.Datastores))
	for _, ds := range cfg.Datastores {
		store, err := datastore.Open(ds.Name, ds.Path)
		if err != nil {
			return nil, err
		}
		if err := sched.AddDatastore(store, ds); err != nil {
			return nil, err
		}
		stores[ds.Name] = store
		log.Infof("datastore opened", map[string]any{
			"datastore": ds.Name,
			"path":      ds.Path,
		})
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return &Server{
		cfg:    cfg,
		log:    log,
		sched:  sched,
		stores: stores,
		metricsSrv: &http.Server{
			Addr:    cfg.Observability.MetricsAddr,
			Handler: mux,
		},
		errCh: make(chan error, 1),
	}, nil
}

// Start launches the metrics endpoint and the scheduler. It does not block.
func (s *Server) Start() {
	go func() {
		s.log.Infof("metrics endpoint listening", map[string]any{
			"addr": s.metricsSrv.Addr,
		})
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
	}()
	s.sched.Start()
}

// Err reports a fatal server error, if any.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Shutdown stops the scheduler (waiting for in-flight maintenance jobs) and
// then the metrics endpoint.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sched.Stop()
	return s.metricsSrv.Shutdown(ctx)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	metricsAddr := fs.String("metrics-addr", "", "Override metrics endpoint address (e.g., :9633)")

	fs.Usage = func() {
		fmt.Println(`Usage: stashd serve [options]

Start the backup datastore server. Opens every configured datastore and
runs garbage collection and prune jobs on their schedules.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadServeConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	server, err := NewServer(ServerOptions{Config: cfg, Logger: logger})
	if err != nil {
		logger.Errorf("failed to start server", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	server.Start()
	logger.Infof("stashd started", map[string]any{
		"version":    version,
		"datastores": len(cfg.Datastores),
	})

	select {
	case sig := <-sigCh:
		logger.Infof("received shutdown signal", map[string]any{"signal": sig.String()})
	case err := <-server.Err():
		logger.Errorf("server error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func loadServeConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}
