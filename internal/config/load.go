package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile layers a YAML file onto c. Keys absent from the file keep
// their current values, so loading over Default preserves defaults.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadEnv layers TANDEM_* environment variables onto c. Unset
// variables keep the current values.
func (c *Config) LoadEnv() error {
	if v, ok := os.LookupEnv("TANDEM_INSTANCE_ID"); ok {
		c.InstanceID = v
	}
	if v, ok := os.LookupEnv("TANDEM_PROJECT_ROOT"); ok {
		c.ProjectRoot = v
	}
	if v, ok := os.LookupEnv("TANDEM_DB_PATH"); ok {
		c.DBPath = v
	}
	if v, ok := os.LookupEnv("TANDEM_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse TANDEM_PORT: %w", err)
		}
		c.Port = port
	}
	if v, ok := os.LookupEnv("TANDEM_SYNC_INTERVAL_MS"); ok {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse TANDEM_SYNC_INTERVAL_MS: %w", err)
		}
		c.SyncIntervalMillis = ms
	}
	if v, ok := os.LookupEnv("TANDEM_MAX_HISTORY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse TANDEM_MAX_HISTORY: %w", err)
		}
		c.MaxHistoryEntries = n
	}
	if v, ok := os.LookupEnv("TANDEM_ENCRYPTION"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse TANDEM_ENCRYPTION: %w", err)
		}
		c.EncryptionEnabled = b
	}
	if v, ok := os.LookupEnv("TANDEM_DISCOVERY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse TANDEM_DISCOVERY: %w", err)
		}
		c.DiscoveryEnabled = b
	}
	if v, ok := os.LookupEnv("TANDEM_PEERS"); ok {
		c.Peers = splitPeers(v)
	}
	return nil
}

// splitPeers parses a comma-separated peer list, dropping empty
// entries so trailing commas are harmless.
func splitPeers(v string) []string {
	parts := strings.Split(v, ",")
	peers := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}
