package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

const (
	StorageSnapshot = "snapshot"
	StorageSQLite   = "sqlite"
)

type Config struct {
	TargetPeerID string  `json:"target_peer_id" yaml:"target_peer_id"`
	AdminIDs     []int64 `json:"admin_ids"      yaml:"admin_ids"`
	Storage      Storage `json:"storage"        yaml:"storage"`
	SessionDir   string  `json:"session_dir"    yaml:"session_dir"`
	HealthAddr   string  `json:"health_addr"    yaml:"health_addr"`
	// PlaybackTTLSeconds is the number of seconds an ephemeral "now playing"
	// render stays in the chat before it is torn down. Zero disables expiry.
	PlaybackTTLSeconds int `json:"playback_ttl_seconds" yaml:"playback_ttl_seconds"`
}

func (cfg *Config) IsAdmin(userID int64) bool {
	return slices.Contains(cfg.AdminIDs, userID)
}

type Storage struct {
	Backend      string `json:"backend"       yaml:"backend"`
	SnapshotPath string `json:"snapshot_path" yaml:"snapshot_path"`
	SQLitePath   string `json:"sqlite_path"   yaml:"sqlite_path"`
}

func (cfg *Config) validate() error {
	if cfg.TargetPeerID == "" {
		return errors.New("target peer ID is empty")
	}

	if cfg.SessionDir == "" {
		return errors.New("session dir is empty")
	}

	switch cfg.Storage.Backend {
	case StorageSnapshot:
		if cfg.Storage.SnapshotPath == "" {
			return errors.New("snapshot storage backend requires snapshot_path")
		}
	case StorageSQLite:
		if cfg.Storage.SQLitePath == "" {
			return errors.New("sqlite storage backend requires sqlite_path")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}

	if cfg.PlaybackTTLSeconds < 0 {
		return errors.New("playback TTL must not be negative")
	}

	return nil
}

func FromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %q: %v", filePath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config file %q: %v", filePath, err)
	}

	if err := cfg.validate(); nil != err {
		return nil, fmt.Errorf("validation failed: %v", err)
	}

	return &cfg, nil
}

func FromString(data string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(data), &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config: %v", err)
	}

	if err := cfg.validate(); nil != err {
		return nil, fmt.Errorf("validation failed: %v", err)
	}

	return &cfg, nil
}
