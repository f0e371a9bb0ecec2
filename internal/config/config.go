// Package config loads the daemon's configuration (spec §6.2) from
// flags, environment variables and an optional config file via viper,
// the way the teacher's cmd package wires viper into cobra commands.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of options recognized by the daemon.
type Config struct {
	Watch    WatchConfig
	Server   ServerConfig
	Auth     AuthConfig
	Queue    QueueConfig
	Cluster  ClusterConfig
	LogDir   string
}

// WatchConfig groups the script-directory watch options.
type WatchConfig struct {
	Dir       string
	Extension string
}

// ServerConfig groups the control-plane listener options.
type ServerConfig struct {
	Host        string
	Port        int
	TLSCertPath string
	TLSKeyPath  string
	DashboardDir string
}

// AuthConfig groups API-key authentication options.
type AuthConfig struct {
	Enabled    bool
	KeyFilePath string
}

// QueueConfig groups execution-queue retry options.
type QueueConfig struct {
	MaxRetries      int
	RetryDelay      time.Duration
	ExponentialBackoff bool
	ShutdownGrace   time.Duration
	StopGrace       time.Duration
}

// ClusterConfig groups membership and dispatch options.
type ClusterConfig struct {
	Enabled           bool
	NodeID            string
	NodeName          string
	SeedNodes         []string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	DispatchStrategy  string
	LoadThreshold     float64
	AffinityRules     map[string]string // glob pattern -> node id
	DispatchMaxRetries int
	DispatchRetryDelay time.Duration
}

// Default returns the configuration with every spec §6.2 default applied.
func Default() *Config {
	return &Config{
		Watch: WatchConfig{
			Dir:       "./scripts",
			Extension: ".scr",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 19720,
		},
		Auth: AuthConfig{
			Enabled:     true,
			KeyFilePath: "./apikeys.json",
		},
		Queue: QueueConfig{
			MaxRetries:    3,
			RetryDelay:    2 * time.Second,
			ShutdownGrace: 10 * time.Second,
			StopGrace:     5 * time.Second,
		},
		Cluster: ClusterConfig{
			Enabled:            false,
			HeartbeatInterval:  10 * time.Second,
			HeartbeatTimeout:   30 * time.Second,
			DispatchStrategy:   "round-robin",
			LoadThreshold:      90.0,
			DispatchMaxRetries: 2,
			DispatchRetryDelay: 3 * time.Second,
		},
		LogDir: "./logs",
	}
}

// Load builds a Config from defaults overlaid with a config file (if
// present), environment variables prefixed SCRIPTD_, and CLI flags bound
// to v by the caller before Load runs.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()

	v.SetEnvPrefix("scriptd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	bindDefaults(v, cfg)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// bindDefaults seeds viper with the struct defaults so keys that are
// absent from both file and environment still resolve correctly through
// Unmarshal.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("watch.dir", cfg.Watch.Dir)
	v.SetDefault("watch.extension", cfg.Watch.Extension)
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("auth.enabled", cfg.Auth.Enabled)
	v.SetDefault("auth.keyfilepath", cfg.Auth.KeyFilePath)
	v.SetDefault("queue.maxretries", cfg.Queue.MaxRetries)
	v.SetDefault("queue.retrydelay", cfg.Queue.RetryDelay)
	v.SetDefault("queue.shutdowngrace", cfg.Queue.ShutdownGrace)
	v.SetDefault("queue.stopgrace", cfg.Queue.StopGrace)
	v.SetDefault("cluster.enabled", cfg.Cluster.Enabled)
	v.SetDefault("cluster.heartbeatinterval", cfg.Cluster.HeartbeatInterval)
	v.SetDefault("cluster.heartbeattimeout", cfg.Cluster.HeartbeatTimeout)
	v.SetDefault("cluster.dispatchstrategy", cfg.Cluster.DispatchStrategy)
	v.SetDefault("cluster.loadthreshold", cfg.Cluster.LoadThreshold)
	v.SetDefault("cluster.dispatchmaxretries", cfg.Cluster.DispatchMaxRetries)
	v.SetDefault("cluster.dispatchretrydelay", cfg.Cluster.DispatchRetryDelay)
	v.SetDefault("logdir", cfg.LogDir)
}

// HasTLS reports whether both TLS materials are configured (spec §6.3:
// "if both present, run HTTPS").
func (s ServerConfig) HasTLS() bool {
	return s.TLSCertPath != "" && s.TLSKeyPath != ""
}
