package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielpatrickdp/simuniverse-cert/internal/config"
	"github.com/danielpatrickdp/simuniverse-cert/internal/controlplane"
	"github.com/danielpatrickdp/simuniverse-cert/internal/logging"
	"github.com/danielpatrickdp/simuniverse-cert/internal/metrics"
	"github.com/danielpatrickdp/simuniverse-cert/internal/pipeline"
	"github.com/danielpatrickdp/simuniverse-cert/internal/registry"
	"github.com/danielpatrickdp/simuniverse-cert/internal/rpc"
	"google.golang.org/grpc"
)

// #region main
func main() {
	configPath := flag.String("config", envOr("SIMCERT_CONFIG", ""), "path to simcert YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	g, err := cfg.Gate()
	if err != nil {
		log.Fatalf("failed to compile gate rules: %v", err)
	}

	store, err := registry.NewStore(cfg.Database)
	if err != nil {
		log.Fatalf("failed to open registry: %v", err)
	}
	defer store.Close()

	logger := logging.New("simcert")
	exporter := metrics.NewExporter()
	cert := pipeline.New(cfg.ToPipelineConfig(), pipeline.Deps{
		Store:    store,
		Gate:     g,
		Exporter: exporter,
		Logger:   logger.With("pipeline"),
	})
	svc := controlplane.NewService(controlplane.Deps{
		Store:       store,
		Certifier:   cert,
		Exporter:    exporter,
		Gate:        g,
		Logger:      logger.With("api"),
		DefaultBase: cfg.DefaultBase(),
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           controlplane.NewRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv := grpc.NewServer()
	rpc.RegisterControlPlaneServer(grpcSrv, rpc.NewServer(svc, logger.With("grpc")))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", cfg.GRPCAddr, err)
	}

	errc := make(chan error, 2)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			errc <- err
		}
	}()

	log.Println("SimUniverse control plane ready.")
	log.Printf("  DB: %s | HTTP: %s | gRPC: %s | gate rules: %d", cfg.Database, cfg.HTTPAddr, cfg.GRPCAddr, len(g.Rules()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Printf("received %s, shutting down", s)
	case err := <-errc:
		log.Printf("server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	grpcSrv.GracefulStop()
}

// #endregion main

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
