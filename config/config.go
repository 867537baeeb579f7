// Package config loads the orchestrator configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/getpup/metal-orchestrator/action"
	"github.com/getpup/metal-orchestrator/design"
	"github.com/getpup/metal-orchestrator/driver/builtin"
	"github.com/getpup/metal-orchestrator/pkg/migrations"
)

// Config is the orchestrator configuration document.
type Config struct {
	// InstanceID identifies this instance in the leadership lease. Empty
	// means a random ID per process.
	InstanceID string `yaml:"instance_id"`

	PollInterval            time.Duration `yaml:"poll_interval"`
	LeaderGracePeriod       time.Duration `yaml:"leader_grace_period"`
	LeadershipClaimInterval time.Duration `yaml:"leadership_claim_interval"`
	WorkerPoolSize          int           `yaml:"worker_pool_size"`

	Database Database `yaml:"database"`
	Metrics  Metrics  `yaml:"metrics"`
	Timeouts Timeouts `yaml:"timeouts"`
	Drivers  Drivers  `yaml:"drivers"`
	Design   Design   `yaml:"design"`
}

// Database selects the task store.
type Database struct {
	// Driver is postgres, mysql or sqlite.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// Schema qualifies the table names (postgres only).
	Schema string `yaml:"schema"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
}

// IsEnabled reports whether metrics are collected. Unset means enabled.
func (m Metrics) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Timeouts bounds the action phases, in minutes.
type Timeouts struct {
	CollectSubtasks       int `yaml:"collect_subtasks"`
	IdentifyNode          int `yaml:"identify_node"`
	ConfigureHardware     int `yaml:"configure_hardware"`
	ApplyNodeNetworking   int `yaml:"apply_node_networking"`
	ApplyNodeStorage      int `yaml:"apply_node_storage"`
	ApplyNodePlatform     int `yaml:"apply_node_platform"`
	DeployNode            int `yaml:"deploy_node"`
	BootactionFinalStatus int `yaml:"bootaction_final_status"`
	RelabelNode           int `yaml:"relabel_node"`
}

// Action converts t to the action layer timeouts.
func (t Timeouts) Action() action.Timeouts {
	minutes := func(n int) time.Duration { return time.Duration(n) * time.Minute }
	return action.Timeouts{
		Collect:               minutes(t.CollectSubtasks),
		IdentifyNode:          minutes(t.IdentifyNode),
		ConfigureHardware:     minutes(t.ConfigureHardware),
		ApplyNodeNetworking:   minutes(t.ApplyNodeNetworking),
		ApplyNodeStorage:      minutes(t.ApplyNodeStorage),
		ApplyNodePlatform:     minutes(t.ApplyNodePlatform),
		DeployNode:            minutes(t.DeployNode),
		BootactionFinalStatus: minutes(t.BootactionFinalStatus),
		RelabelNode:           minutes(t.RelabelNode),
	}
}

// Drivers names the drivers to enable.
type Drivers struct {
	OOB        []string `yaml:"oob"`
	Node       string   `yaml:"node"`
	Network    string   `yaml:"network"`
	Kubernetes string   `yaml:"kubernetes"`

	// Settings holds per driver options keyed by driver name, such as
	// settings.hcloud.token or settings.kubernetes.kubeconfig.
	Settings map[string]map[string]string `yaml:"settings"`
}

// Selection converts d to the builtin driver selection.
func (d Drivers) Selection() builtin.Selection {
	return builtin.Selection{
		OOB:        d.OOB,
		Node:       d.Node,
		Network:    d.Network,
		Kubernetes: d.Kubernetes,
		Settings:   d.Settings,
	}
}

// Design configures how design references are fetched.
type Design struct {
	// S3 enables s3:// references when set.
	S3 *design.S3Config `yaml:"s3"`

	// CacheSize bounds the effective sites kept in memory.
	CacheSize int `yaml:"cache_size"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	enabled := true
	return &Config{
		PollInterval:            10 * time.Second,
		LeaderGracePeriod:       300 * time.Second,
		LeadershipClaimInterval: 30 * time.Second,
		WorkerPoolSize:          16,
		Database: Database{
			Driver: string(migrations.SQLite),
			DSN:    "metal-orchestrator.db",
		},
		Metrics: Metrics{
			Enabled: &enabled,
			Address: ":9090",
		},
		Timeouts: Timeouts{
			CollectSubtasks:       5,
			IdentifyNode:          10,
			ConfigureHardware:     30,
			ApplyNodeNetworking:   5,
			ApplyNodeStorage:      5,
			ApplyNodePlatform:     5,
			DeployNode:            45,
			BootactionFinalStatus: 15,
			RelabelNode:           5,
		},
		Drivers: Drivers{
			OOB:  []string{"manual"},
			Node: "manual",
		},
		Design: Design{
			CacheSize: 16,
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.InstanceID != "" {
		if _, err := uuid.Parse(c.InstanceID); err != nil {
			errs = append(errs, fmt.Errorf("instance_id: %w", err))
		}
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.LeaderGracePeriod <= 0 {
		errs = append(errs, errors.New("leader_grace_period must be positive"))
	}
	if c.LeadershipClaimInterval <= 0 {
		errs = append(errs, errors.New("leadership_claim_interval must be positive"))
	}
	if c.LeadershipClaimInterval >= c.LeaderGracePeriod {
		errs = append(errs, fmt.Errorf("leadership_claim_interval %s must be shorter than leader_grace_period %s",
			c.LeadershipClaimInterval, c.LeaderGracePeriod))
	}
	if c.WorkerPoolSize <= 0 {
		errs = append(errs, errors.New("worker_pool_size must be positive"))
	}

	if _, err := migrations.ParseDialect(c.Database.Driver); err != nil {
		errs = append(errs, fmt.Errorf("database.driver: %w", err))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	if c.Metrics.IsEnabled() && c.Metrics.Address == "" {
		errs = append(errs, errors.New("metrics.address is required when metrics are enabled"))
	}

	for name, v := range map[string]int{
		"collect_subtasks":        c.Timeouts.CollectSubtasks,
		"identify_node":           c.Timeouts.IdentifyNode,
		"configure_hardware":      c.Timeouts.ConfigureHardware,
		"apply_node_networking":   c.Timeouts.ApplyNodeNetworking,
		"apply_node_storage":      c.Timeouts.ApplyNodeStorage,
		"apply_node_platform":     c.Timeouts.ApplyNodePlatform,
		"deploy_node":             c.Timeouts.DeployNode,
		"bootaction_final_status": c.Timeouts.BootactionFinalStatus,
		"relabel_node":            c.Timeouts.RelabelNode,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must be a positive number of minutes", name))
		}
	}

	if c.Design.S3 != nil && c.Design.S3.AccessKey != "" && c.Design.S3.SecretKey == "" {
		errs = append(errs, errors.New("design.s3.secret_key is required with access_key"))
	}

	return errors.Join(errs...)
}
