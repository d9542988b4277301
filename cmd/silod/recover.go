package main

import (
	"fmt"

	"github.com/brineio/silo/pkg/config"
	"github.com/brineio/silo/pkg/recovery"
	"github.com/brineio/silo/pkg/tenant"
	"github.com/brineio/silo/pkg/volume"
	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Check and repair a tenant's on-disk databases",
	RunE:  runRecover,
}

func init() {
	recoverCmd.Flags().String("config", "/etc/silo/config.yaml", "path to the YAML configuration file")
	recoverCmd.Flags().String("tenant", "", "tenant to recover (default: all known tenants)")
}

func runRecover(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	tenantID, _ := cmd.Flags().GetString("tenant")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	volumes := make([]volume.Volume, 0, len(cfg.Volumes))
	for _, vc := range cfg.Volumes {
		v, err := volume.NewLocalVolume(vc.VolumeID, vc.MountPath, vc.ShardingDepth)
		if err != nil {
			return fmt.Errorf("init volume %s: %w", vc.VolumeID, err)
		}
		volumes = append(volumes, v)
	}

	registry, err := tenant.NewRegistry(cfg.TenantDirectory, tenant.WithAutoCreate(false))
	if err != nil {
		return fmt.Errorf("open tenant registry: %w", err)
	}
	defer registry.Close()

	tenantIDs := []string{tenantID}
	if tenantID == "" {
		tenants, err := registry.ListTenants()
		if err != nil {
			return fmt.Errorf("list tenants: %w", err)
		}
		tenantIDs = tenantIDs[:0]
		for _, t := range tenants {
			tenantIDs = append(tenantIDs, t.TenantID)
		}
	}

	rec := recovery.New(cfg, volumes)
	for _, id := range tenantIDs {
		report, err := rec.CheckAndRecover(id)
		if err != nil {
			return fmt.Errorf("recover tenant %s: %w", id, err)
		}
		printReport(report)
	}
	return nil
}

func printReport(report *recovery.Report) {
	fmt.Printf("tenant %s:\n", report.TenantID)
	fmt.Printf("  metadata corrupt: %v", report.MetadataCorrupt)
	if report.MetadataBackupPath != "" {
		fmt.Printf(" (backed up to %s)", report.MetadataBackupPath)
	}
	fmt.Println()
	fmt.Printf("  quota corrupt: %v", report.QuotaCorrupt)
	if report.QuotaBackupPath != "" {
		fmt.Printf(" (backed up to %s)", report.QuotaBackupPath)
	}
	fmt.Println()
	fmt.Printf("  records rebuilt: %d\n", report.RecordsRebuilt)
	fmt.Printf("  directories rebuilt: %d\n", report.DirectoriesRebuilt)
	for _, e := range report.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}
