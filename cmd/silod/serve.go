package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brineio/silo/pkg/config"
	"github.com/brineio/silo/pkg/log"
	"github.com/brineio/silo/pkg/maintenance"
	"github.com/brineio/silo/pkg/metrics"
	"github.com/brineio/silo/pkg/pool"
	"github.com/brineio/silo/pkg/recovery"
	"github.com/brineio/silo/pkg/scheduler"
	"github.com/brineio/silo/pkg/tenant"
	"github.com/brineio/silo/pkg/volume"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run silod as a long-lived process",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "/etc/silo/config.yaml", "path to the YAML configuration file")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address for the metrics/health HTTP server")
}

// app bundles the collaborators Bootstrap wires together, mirroring the
// teacher's Manager: one struct holding a reference to every piece, so
// shutdown can unwind them in the opposite order they were built.
type app struct {
	cfg      *config.Config
	registry *tenant.Registry
	sched    *scheduler.Scheduler
	pool     *pool.StoragePool
	maint    *maintenance.Loop
	volumes  []volume.Volume
}

func bootstrap(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	volumes := make([]volume.Volume, 0, len(cfg.Volumes))
	for _, vc := range cfg.Volumes {
		v, err := volume.NewLocalVolume(vc.VolumeID, vc.MountPath, vc.ShardingDepth)
		if err != nil {
			return nil, fmt.Errorf("init volume %s: %w", vc.VolumeID, err)
		}
		volumes = append(volumes, v)
	}

	registry, err := tenant.NewRegistry(cfg.TenantDirectory,
		tenant.WithAutoCreate(cfg.AutoCreateTenants))
	if err != nil {
		return nil, fmt.Errorf("init tenant registry: %w", err)
	}

	sched := scheduler.NewScheduler(cfg.Retry)
	for _, v := range volumes {
		sched.RegisterVolume(v)
	}

	sp := pool.New(cfg, registry, sched, volumes)

	if cfg.StartupHealthCheck {
		rec := recovery.New(cfg, volumes)
		tenants, err := registry.ListTenants()
		if err != nil {
			return nil, fmt.Errorf("list tenants for startup recovery: %w", err)
		}
		for _, t := range tenants {
			report, err := rec.CheckAndRecover(t.TenantID)
			if err != nil {
				return nil, fmt.Errorf("recover tenant %s: %w", t.TenantID, err)
			}
			if report.MetadataCorrupt || report.QuotaCorrupt {
				log.WithComponent("bootstrap").Warn().
					Str("tenant_id", t.TenantID).
					Int("records_rebuilt", report.RecordsRebuilt).
					Msg("startup recovery rebuilt a corrupt database")
			}
		}
	}

	tenants, err := registry.ListTenants()
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	for _, t := range tenants {
		if err := sp.Warm(t.TenantID); err != nil {
			return nil, fmt.Errorf("warm tenant %s: %w", t.TenantID, err)
		}
	}

	var maint *maintenance.Loop
	if cfg.EnableBackgroundMaintenance {
		maint = maintenance.New(cfg, sched)
	}

	return &app{cfg: cfg, registry: registry, sched: sched, pool: sp, maint: maint, volumes: volumes}, nil
}

func (a *app) shutdown() {
	if a.maint != nil {
		a.maint.Stop()
	}
	if err := a.pool.Close(); err != nil {
		log.WithComponent("bootstrap").Error().Err(err).Msg("error closing storage pool")
	}
	if err := a.registry.Close(); err != nil {
		log.WithComponent("bootstrap").Error().Err(err).Msg("error closing tenant registry")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	a, err := bootstrap(cfgPath)
	if err != nil {
		return err
	}
	defer a.shutdown()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("storage", true, "ready")
	metrics.RegisterComponent("scheduler", true, "ready")
	metrics.RegisterComponent("tenant", true, "ready")

	if a.maint != nil {
		a.maint.Start()
		fmt.Println("✓ Maintenance loop started")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	server := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithComponent("bootstrap").Error().Err(err).Msg("metrics server error")
		}
	}()
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)
	fmt.Printf("✓ Health endpoints: http://%s/healthz, /ready, /live\n", metricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)

	return nil
}
