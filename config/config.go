// Package config handles wallet runtime configuration: data directory,
// transport endpoints and logging. Protocol behavior is fixed by the
// wallet core and is not configurable.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config holds wallet runtime configuration.
type Config struct {
	// DataDir holds wallet.db, keys.bbs and the transport identity.
	DataDir string

	// P2P transport for counterparty wallets.
	P2P P2PConfig

	// Node is the full-node endpoint the wallet syncs against.
	Node NodeConfig

	// Logging.
	Log LogConfig
}

// P2PConfig configures the peer transport.
type P2PConfig struct {
	ListenAddr string
	Port       int
}

// NodeConfig configures the full-node connection.
type NodeConfig struct {
	Addr string
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string
	JSON  bool
	File  string
}

// Default returns the default wallet configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			ListenAddr: "0.0.0.0",
			Port:       10000,
		},
		Node: NodeConfig{
			Addr: "127.0.0.1:10005",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultDataDir returns the per-OS wallet data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".beam"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Beam")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Beam")
		}
		return filepath.Join(home, "AppData", "Roaming", "Beam")
	default:
		return filepath.Join(home, ".beam")
	}
}
