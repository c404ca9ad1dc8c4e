// Package config loads and validates the engine's JSON configuration file:
// the application/logging/trading ambient sections plus the connections
// array that drives which exchange adaptors the pipeline starts. It plays
// the role the teacher's TOML config.Load does, generalized to the
// richer per-connection schema this engine needs and switched to JSON to
// match the documented external interface.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/k4md/engine/internal/k4err"
)

// Config is the top-level document.
type Config struct {
	Application Application  `json:"application"`
	Logging     Logging      `json:"logging"`
	Trading     Trading      `json:"trading"`
	Connections []Connection `json:"connections"`
}

// Application carries process-identity fields: ModuleName is used in log
// lines and LogPath selects the log file.
type Application struct {
	ModuleName string `json:"module_name"`
	LogPath    string `json:"log_path"`
}

// Logging configures the zerolog level the rest of the process inherits.
type Logging struct {
	Level string `json:"level"`
}

// Trading configures the boundary trading client. It is off by default;
// when enabled, EnvFile points at a dotenv file holding API credentials
// and BaseURL is the venue's REST order-entry endpoint.
type Trading struct {
	Enabled bool   `json:"enabled"`
	EnvFile string `json:"env_file"`
	BaseURL string `json:"base_url"`
}

// Connection is one entry of the connections array: everything one
// exchange adaptor needs to build its StreamDefs, plus the SHM sizing and
// naming an adaptor doesn't know about.
type Connection struct {
	Exchange    string `json:"exchange"`
	MDSize      int    `json:"md_size"`
	Redundancy  int    `json:"redundancy"`
	CPUAffinity *int   `json:"cpu_affinity"`

	Spot           *ProductConfig `json:"spot"`
	Futures        *ProductConfig `json:"futures"`
	InverseFutures *ProductConfig `json:"inverse_futures"`

	UDPSender UDPSender `json:"udp_sender"`

	// ListenAddr is only meaningful for exchange=="udp": the local
	// address the UDP source adaptor listens on for re-published
	// datagrams.
	ListenAddr string `json:"listen_addr"`
}

// ProductConfig names the symbols subscribed for one product type and the
// SHM region name each message type's ring store is published under.
type ProductConfig struct {
	Symbols         []string `json:"symbols"`
	BBOShmName      string   `json:"bbo_shm_name"`
	TradeShmName    string   `json:"trade_shm_name"`
	AggTradeShmName string   `json:"agg_trade_shm_name"`
	Depth5ShmName   string   `json:"depth5_shm_name"`
}

// UDPSender configures the optional UDP fan-out for a connection.
type UDPSender struct {
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Enabled bool   `json:"enabled"`
}

var validExchanges = map[string]bool{
	"binance": true,
	"okx":     true,
	"bitget":  true,
	"bybit":   true,
	"udp":     true,
}

// Load reads and validates the configuration file at path. Every failure
// is a *k4err.ConfigError, fatal at startup per the error taxonomy.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &k4err.ConfigError{Field: path, Err: err}
	}

	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, &k4err.ConfigError{Field: path, Err: err}
	}
	for i := range c.Connections {
		if c.Connections[i].Redundancy == 0 {
			c.Connections[i].Redundancy = 1
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the structural invariants Load relies on: every
// connection names a known exchange, md_size is a positive power of two,
// redundancy is at least 1, and at least one product is configured.
func (c *Config) Validate() error {
	if len(c.Connections) == 0 {
		return &k4err.ConfigError{Field: "connections", Err: fmt.Errorf("must list at least one connection")}
	}
	for i, conn := range c.Connections {
		if err := conn.validate(); err != nil {
			return &k4err.ConfigError{Field: fmt.Sprintf("connections[%d]", i), Err: err}
		}
	}
	if c.Trading.Enabled {
		if c.Trading.EnvFile == "" {
			return &k4err.ConfigError{Field: "trading.env_file", Err: fmt.Errorf("required when trading.enabled is true")}
		}
		if c.Trading.BaseURL == "" {
			return &k4err.ConfigError{Field: "trading.base_url", Err: fmt.Errorf("required when trading.enabled is true")}
		}
	}
	return nil
}

func (conn *Connection) validate() error {
	if !validExchanges[conn.Exchange] {
		return fmt.Errorf("unknown exchange %q", conn.Exchange)
	}
	if conn.Exchange == "udp" {
		if conn.ListenAddr == "" {
			return fmt.Errorf("listen_addr required for exchange \"udp\"")
		}
		return nil
	}
	if conn.MDSize <= 0 || conn.MDSize&(conn.MDSize-1) != 0 {
		return fmt.Errorf("md_size %d must be a positive power of two", conn.MDSize)
	}
	if conn.Redundancy < 1 {
		return fmt.Errorf("redundancy must be >= 1, got %d", conn.Redundancy)
	}
	if conn.Spot == nil && conn.Futures == nil && conn.InverseFutures == nil {
		return fmt.Errorf("connection must configure at least one of spot, futures, inverse_futures")
	}
	return nil
}

// CPUAffinityOrDefault returns the configured core id, or def (typically
// -1, meaning "don't pin") if unset.
func (conn *Connection) CPUAffinityOrDefault(def int) int {
	if conn.CPUAffinity == nil {
		return def
	}
	return *conn.CPUAffinity
}
