package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// VolumeConfig describes one mounted volume silod may write to.
type VolumeConfig struct {
	VolumeID      string `yaml:"volumeId"`
	MountPath     string `yaml:"mountPath"`
	ShardingDepth int    `yaml:"shardingDepth"`
}

// RetryConfig controls the failure backoff and promotion policy.
type RetryConfig struct {
	MaxRetryCount      uint32        `yaml:"maxRetryCount"`
	InitialDelay       time.Duration `yaml:"initialDelay"`
	MaxDelay           time.Duration `yaml:"maxDelay"`
	ExponentialBackoff bool          `yaml:"exponentialBackoff"`
}

// Config is the fully-resolved, immutable runtime configuration for silod.
// Load a yaml file into a rawConfig, apply defaults, then freeze it here.
type Config struct {
	MetadataDirectory string
	QuotaDirectory    string
	TenantDirectory   string
	Volumes           []VolumeConfig

	Retry RetryConfig

	ProcessingTimeout           time.Duration
	FailedRetention             time.Duration
	MaintenanceInterval         time.Duration
	EnableBackgroundMaintenance bool
	AutoCreateTenants           bool
	DefaultTenantQuota          int64
	StartupHealthCheck          bool
}

// rawConfig mirrors the on-disk YAML shape; zero values are replaced with
// defaults in Load.
type rawConfig struct {
	MetadataDirectory string `yaml:"metadataDirectory"`
	QuotaDirectory    string `yaml:"quotaDirectory"`
	TenantDirectory   string `yaml:"tenantDirectory"`
	Volumes           []struct {
		VolumeID      string `yaml:"volumeId"`
		MountPath     string `yaml:"mountPath"`
		ShardingDepth *int   `yaml:"shardingDepth"`
	} `yaml:"volumes"`

	Retry struct {
		MaxRetryCount      *uint32 `yaml:"maxRetryCount"`
		InitialDelay       string  `yaml:"initialDelay"`
		MaxDelay           string  `yaml:"maxDelay"`
		ExponentialBackoff *bool   `yaml:"exponentialBackoff"`
	} `yaml:"retry"`

	ProcessingTimeout           string `yaml:"processingTimeout"`
	FailedRetention             string `yaml:"failedRetention"`
	MaintenanceInterval         string `yaml:"maintenanceInterval"`
	EnableBackgroundMaintenance *bool  `yaml:"enableBackgroundMaintenance"`
	AutoCreateTenants           *bool  `yaml:"autoCreateTenants"`
	DefaultTenantQuota          *int64 `yaml:"defaultTenantQuota"`
	StartupHealthCheck          *bool  `yaml:"startupHealthCheck"`
}

const (
	defaultMaxRetryCount       = 3
	defaultInitialDelay        = 5 * time.Second
	defaultMaxDelay            = 5 * time.Minute
	defaultProcessingTimeout   = 30 * time.Minute
	defaultFailedRetention     = 7 * 24 * time.Hour
	defaultMaintenanceInterval = time.Hour
	defaultShardingDepth       = 2
)

// Default returns a Config populated entirely with spec defaults and no
// volumes; callers typically start from Load instead.
func Default() *Config {
	return &Config{
		MetadataDirectory:           "/var/lib/silo/metadata",
		QuotaDirectory:              "/var/lib/silo/quota",
		TenantDirectory:             "/var/lib/silo/tenants",
		Retry: RetryConfig{
			MaxRetryCount:      defaultMaxRetryCount,
			InitialDelay:       defaultInitialDelay,
			MaxDelay:           defaultMaxDelay,
			ExponentialBackoff: true,
		},
		ProcessingTimeout:           defaultProcessingTimeout,
		FailedRetention:             defaultFailedRetention,
		MaintenanceInterval:         defaultMaintenanceInterval,
		EnableBackgroundMaintenance: true,
		AutoCreateTenants:           true,
		DefaultTenantQuota:          0,
		StartupHealthCheck:          true,
	}
}

// Load reads and parses a YAML configuration file, applying defaults for any
// option left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := Default()

	if raw.MetadataDirectory != "" {
		cfg.MetadataDirectory = raw.MetadataDirectory
	}
	if raw.QuotaDirectory != "" {
		cfg.QuotaDirectory = raw.QuotaDirectory
	}
	if raw.TenantDirectory != "" {
		cfg.TenantDirectory = raw.TenantDirectory
	}

	cfg.Volumes = make([]VolumeConfig, 0, len(raw.Volumes))
	for _, rv := range raw.Volumes {
		depth := defaultShardingDepth
		if rv.ShardingDepth != nil {
			depth = *rv.ShardingDepth
		}
		if depth < 0 || depth > 3 {
			return nil, fmt.Errorf("volume %s: shardingDepth must be 0..3, got %d",
				rv.VolumeID, depth)
		}
		cfg.Volumes = append(cfg.Volumes, VolumeConfig{VolumeID: rv.VolumeID, MountPath: rv.MountPath, ShardingDepth: depth})
	}

	if raw.Retry.MaxRetryCount != nil {
		cfg.Retry.MaxRetryCount = *raw.Retry.MaxRetryCount
	}
	if raw.Retry.InitialDelay != "" {
		d, err := time.ParseDuration(raw.Retry.InitialDelay)
		if err != nil {
			return nil, fmt.Errorf("retry.initialDelay: %w", err)
		}
		cfg.Retry.InitialDelay = d
	}
	if raw.Retry.MaxDelay != "" {
		d, err := time.ParseDuration(raw.Retry.MaxDelay)
		if err != nil {
			return nil, fmt.Errorf("retry.maxDelay: %w", err)
		}
		cfg.Retry.MaxDelay = d
	}
	if raw.Retry.ExponentialBackoff != nil {
		cfg.Retry.ExponentialBackoff = *raw.Retry.ExponentialBackoff
	}

	if raw.ProcessingTimeout != "" {
		d, err := time.ParseDuration(raw.ProcessingTimeout)
		if err != nil {
			return nil, fmt.Errorf("processingTimeout: %w", err)
		}
		cfg.ProcessingTimeout = d
	}
	if raw.FailedRetention != "" {
		d, err := time.ParseDuration(raw.FailedRetention)
		if err != nil {
			return nil, fmt.Errorf("failedRetention: %w", err)
		}
		cfg.FailedRetention = d
	}
	if raw.MaintenanceInterval != "" {
		d, err := time.ParseDuration(raw.MaintenanceInterval)
		if err != nil {
			return nil, fmt.Errorf("maintenanceInterval: %w", err)
		}
		cfg.MaintenanceInterval = d
	}
	if raw.EnableBackgroundMaintenance != nil {
		cfg.EnableBackgroundMaintenance = *raw.EnableBackgroundMaintenance
	}
	if raw.AutoCreateTenants != nil {
		cfg.AutoCreateTenants = *raw.AutoCreateTenants
	}
	if raw.DefaultTenantQuota != nil {
		cfg.DefaultTenantQuota = *raw.DefaultTenantQuota
	}
	if raw.StartupHealthCheck != nil {
		cfg.StartupHealthCheck = *raw.StartupHealthCheck
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structural invariants that defaulting alone cannot fix.
func (c *Config) Validate() error {
	if len(c.Volumes) == 0 {
		return fmt.Errorf("config: at least one volume is required")
	}
	seen := make(map[string]bool, len(c.Volumes))
	for _, v := range c.Volumes {
		if v.VolumeID == "" {
			return fmt.Errorf("config: volume missing volumeId")
		}
		if v.MountPath == "" {
			return fmt.Errorf("config: volume %s missing mountPath", v.VolumeID)
		}
		if seen[v.VolumeID] {
			return fmt.Errorf("config: duplicate volumeId %s", v.VolumeID)
		}
		seen[v.VolumeID] = true
	}
	return nil
}
