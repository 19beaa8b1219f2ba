// Package config carries the configuration surface for one instance:
// defaults, YAML file loading, TANDEM_* environment overrides, and
// validation. Precedence is defaults < file < environment < flags,
// with the flag layer applied by the CLI.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Defaults mirror the original system's settings.
const (
	DefaultPort               = 15001
	DefaultSyncIntervalMillis = 1000
	DefaultMaxHistoryEntries  = 1000
)

// DefaultDBFile is the history database path relative to the project
// root.
const DefaultDBFile = ".tandem/history.db"

// Config is one instance's full configuration.
type Config struct {
	// InstanceID identifies this instance to peers. Defaults to
	// "tandem-" plus a random UUID.
	InstanceID string `yaml:"instance_id"`

	// ProjectRoot is the directory the instance coordinates.
	ProjectRoot string `yaml:"project_root"`

	// DBPath locates the operation log database.
	DBPath string `yaml:"db_path"`

	// Port is the coordination listener port.
	Port int `yaml:"port"`

	// SyncIntervalMillis is the background sync loop period.
	SyncIntervalMillis int `yaml:"sync_interval_ms"`

	// MaxHistoryEntries bounds retained log history; the store evicts
	// oldest-first beyond it.
	MaxHistoryEntries int `yaml:"max_history"`

	// EncryptionEnabled turns on transport encryption to peers.
	EncryptionEnabled bool `yaml:"encryption"`

	// DiscoveryEnabled turns on mDNS peer discovery.
	DiscoveryEnabled bool `yaml:"discovery"`

	// Peers lists static peer addresses (host:port) dialed in
	// addition to discovered ones.
	Peers []string `yaml:"peers"`
}

// Default returns the configuration for a fresh instance rooted at
// projectRoot, with a newly generated instance id.
func Default(projectRoot string) Config {
	return Config{
		InstanceID:         NewInstanceID(),
		ProjectRoot:        projectRoot,
		DBPath:             filepath.Join(projectRoot, filepath.FromSlash(DefaultDBFile)),
		Port:               DefaultPort,
		SyncIntervalMillis: DefaultSyncIntervalMillis,
		MaxHistoryEntries:  DefaultMaxHistoryEntries,
		EncryptionEnabled:  true,
		DiscoveryEnabled:   true,
	}
}

// NewInstanceID generates a fresh instance identifier.
func NewInstanceID() string {
	return "tandem-" + uuid.NewString()
}

// SyncInterval returns the sync loop period as a duration.
func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMillis) * time.Millisecond
}

// Validate rejects configurations the runtime cannot operate with.
func (c Config) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("instance_id must not be empty")
	}
	if c.ProjectRoot == "" {
		return fmt.Errorf("project_root must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}
	if c.SyncIntervalMillis < 1 {
		return fmt.Errorf("sync_interval_ms must be positive, got %d", c.SyncIntervalMillis)
	}
	if c.MaxHistoryEntries < 1 {
		return fmt.Errorf("max_history must be positive, got %d", c.MaxHistoryEntries)
	}
	return nil
}
