// Package config provides application configuration from environment
// variables, for both the node and the hive binaries.
package config

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/lithammer/shortuuid/v4"
)

// NodeConfig holds configuration for a counterspell node.
type NodeConfig struct {
	// StateDir is the root of this node's on-disk state: worktrees/,
	// backups/, and the sqlite database.
	StateDir string
	DBPath   string

	// ServerInstanceID is this process's unique identity, used to claim
	// ownership of supervised processes and detect orphans on restart.
	ServerInstanceID string

	ListenAddr string
	PublicURL  string
	NodeName   string

	HiveURL   string
	HiveToken string

	BackupDir       string
	BackupRetention int

	WorkerPoolSize int

	Shell string
}

// HiveConfig holds configuration for the central coordinator.
type HiveConfig struct {
	ListenAddr  string
	DatabaseURL string
	JWTSecret   string
}

// LoadNode loads node configuration from the environment, optionally from a
// .env file if present in the working directory.
func LoadNode() *NodeConfig {
	_ = godotenv.Load()

	stateDir := getEnvString("COUNTERSPELL_STATE_DIR", "./data")
	cfg := &NodeConfig{
		StateDir:         stateDir,
		DBPath:           getEnvString("COUNTERSPELL_DB_PATH", stateDir+"/counterspell.db"),
		ServerInstanceID: getEnvString("COUNTERSPELL_SERVER_INSTANCE_ID", shortuuid.New()),
		ListenAddr:       getEnvString("COUNTERSPELL_LISTEN_ADDR", ":8989"),
		PublicURL:        os.Getenv("COUNTERSPELL_PUBLIC_URL"),
		NodeName:         getEnvString("COUNTERSPELL_NODE_NAME", hostnameOrDefault()),
		HiveURL:          os.Getenv("COUNTERSPELL_HIVE_URL"),
		HiveToken:        os.Getenv("COUNTERSPELL_HIVE_TOKEN"),
		BackupDir:        getEnvString("VK_BACKUP_DIR", stateDir+"/backups"),
		BackupRetention:  getEnvInt("COUNTERSPELL_BACKUP_RETENTION", 5),
		WorkerPoolSize:   getEnvInt("COUNTERSPELL_WORKER_POOL_SIZE", 20),
		Shell:            getEnvString("SHELL", "/bin/bash"),
	}

	slog.Info("[CONFIG] node config loaded",
		"state_dir", cfg.StateDir,
		"server_instance_id", cfg.ServerInstanceID,
		"hive_url", cfg.HiveURL,
	)
	return cfg
}

// LoadHive loads hive configuration from the environment.
func LoadHive() *HiveConfig {
	_ = godotenv.Load()

	cfg := &HiveConfig{
		ListenAddr:  getEnvString("HIVE_LISTEN_ADDR", ":9898"),
		DatabaseURL: os.Getenv("HIVE_DATABASE_URL"),
		JWTSecret:   os.Getenv("HIVE_JWT_SECRET"),
	}
	slog.Info("[CONFIG] hive config loaded", "listen_addr", cfg.ListenAddr)
	return cfg
}

// Validate checks that required node configuration is present.
func (c *NodeConfig) Validate() error {
	if c.DBPath == "" {
		return &ConfigError{Field: "COUNTERSPELL_DB_PATH", Message: "required"}
	}
	return nil
}

// Validate checks that required hive configuration is present.
func (c *HiveConfig) Validate() error {
	if c.DatabaseURL == "" {
		return &ConfigError{Field: "HIVE_DATABASE_URL", Message: "required"}
	}
	return nil
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "node"
	}
	return h
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvString(key string, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

