// Package config loads agent configuration from an optional YAML file with
// environment variable overrides. Precedence: environment > file > defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the agent configuration. All values are injected into
// constructors; nothing reads the environment after startup.
type Config struct {
	// WorkstationID identifies this workstation as a lock owner.
	// Generated and persisted on first run when empty.
	WorkstationID string `env:"DRIVELOCK_WORKSTATION_ID" yaml:"workstation_id"`
	// OwnerName is the display name shown to other users in conflict dialogs.
	OwnerName string `env:"DRIVELOCK_OWNER_NAME" yaml:"owner_name"`

	LockTable       string `env:"DRIVELOCK_LOCK_TABLE" yaml:"lock_table"`
	CredentialTable string `env:"DRIVELOCK_CREDENTIAL_TABLE" yaml:"credential_table"`
	KMSKeyID        string `env:"DRIVELOCK_KMS_KEY_ID" yaml:"kms_key_id"`

	// BaseFolderID is the managed folder on the drive. Empty means the
	// drive root.
	BaseFolderID string `env:"DRIVELOCK_BASE_FOLDER_ID" yaml:"base_folder_id"`

	// SetReadOnly toggles the local read-only attribute on files that are
	// locked by another workstation. Off unless explicitly enabled.
	SetReadOnly bool `env:"DRIVELOCK_SET_READ_ONLY" yaml:"set_read_only"`

	ListenAddr string `env:"DRIVELOCK_LISTEN_ADDR" yaml:"listen_addr"`

	// WatchRoots is ";"-separated in the environment so Windows drive
	// letters (C:\Docs) survive; the YAML list form needs no separator.
	WatchRoots []string `env:"DRIVELOCK_WATCH_ROOTS" envSeparator:";" yaml:"watch_roots"`

	TrackedExtensions []string      `env:"DRIVELOCK_TRACKED_EXTENSIONS" envSeparator:"," yaml:"tracked_extensions"`
	LockTTL           time.Duration `env:"DRIVELOCK_LOCK_TTL" yaml:"lock_ttl"`
	HeartbeatInterval time.Duration `env:"DRIVELOCK_HEARTBEAT_INTERVAL" yaml:"heartbeat_interval"`

	GoogleClientID          string `env:"GOOGLE_CLIENT_ID" yaml:"google_client_id"`
	GoogleClientSecretParam string `env:"DRIVELOCK_GOOGLE_CLIENT_SECRET_PARAM" yaml:"google_client_secret_param"`
	BridgeSecretParam       string `env:"DRIVELOCK_BRIDGE_SECRET_PARAM" yaml:"bridge_secret_param"`

	// DevMode swaps the AWS-backed encryptor and secret resolver for local
	// stand-ins.
	DevMode bool `env:"DRIVELOCK_DEV_MODE" yaml:"dev_mode"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		LockTable:               "DriveLocks",
		CredentialTable:         "DriveCredentials",
		KMSKeyID:                "alias/drivelock-token-key",
		ListenAddr:              "127.0.0.1:7391",
		TrackedExtensions:       []string{".3dm", ".gh", ".ghx"},
		LockTTL:                 5 * time.Minute,
		HeartbeatInterval:       2 * time.Minute,
		GoogleClientSecretParam: "/drivelock/google-client-secret",
		BridgeSecretParam:       "/drivelock/bridge-secret",
	}
}

// Load builds the configuration from defaults, the YAML file at path (if it
// exists), and finally environment variables. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.LockTable == "" {
		return fmt.Errorf("lock_table must not be empty")
	}
	if c.CredentialTable == "" {
		return fmt.Errorf("credential_table must not be empty")
	}
	if len(c.TrackedExtensions) == 0 {
		return fmt.Errorf("tracked_extensions must name at least one extension")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock_ttl must be positive")
	}
	return nil
}
