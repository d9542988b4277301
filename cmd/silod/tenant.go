package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/brineio/silo/pkg/config"
	"github.com/brineio/silo/pkg/tenant"
	"github.com/spf13/cobra"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create <tenant-id>",
	Short: "Create a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd, func(r *tenant.Registry) error {
			rec, err := r.CreateTenant(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("created tenant %s (status=%s)\n", rec.TenantID, rec.Status)
			return nil
		})
	},
}

var tenantEnableCmd = &cobra.Command{
	Use:   "enable <tenant-id>",
	Short: "Enable a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd, func(r *tenant.Registry) error {
			rec, err := r.EnableTenant(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("enabled tenant %s\n", rec.TenantID)
			return nil
		})
	},
}

var tenantDisableCmd = &cobra.Command{
	Use:   "disable <tenant-id>",
	Short: "Disable a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd, func(r *tenant.Registry) error {
			rec, err := r.DisableTenant(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("disabled tenant %s\n", rec.TenantID)
			return nil
		})
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd, func(r *tenant.Registry) error {
			tenants, err := r.ListTenants()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "TENANT ID\tSTATUS\tCREATED AT")
			for _, t := range tenants {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.TenantID, t.Status, t.CreatedAt.Format("2006-01-02T15:04:05Z"))
			}
			return w.Flush()
		})
	},
}

func init() {
	tenantCmd.PersistentFlags().String("config", "/etc/silo/config.yaml", "path to the YAML configuration file")
	tenantCmd.AddCommand(tenantCreateCmd, tenantEnableCmd, tenantDisableCmd, tenantListCmd)
}

// withRegistry opens the tenant registry named by the --config flag's
// tenant directory, runs fn, and closes it regardless of fn's outcome.
func withRegistry(cmd *cobra.Command, fn func(*tenant.Registry) error) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	r, err := tenant.NewRegistry(cfg.TenantDirectory, tenant.WithAutoCreate(false))
	if err != nil {
		return fmt.Errorf("open tenant registry: %w", err)
	}
	defer r.Close()
	return fn(r)
}
