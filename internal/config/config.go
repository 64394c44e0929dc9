// Package config holds node-level tunables loaded from a JSON file
// (matching the teacher's LoadFromFile/SaveToFile shape) plus the multiplier
// peer list read from an XML constants file, grounded on the original's
// boost::property_tree read of node.multipliers.peer[*].
package config

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/shardnode/shardnode/pkg/types"
)

// Config holds all configuration for a shard/DS node.
type Config struct {
	// Node identity
	NodeID  string `json:"node_id"`
	Address string `json:"address"`

	// Networking
	Port             int  `json:"port"`              // primary P2P listen port
	AdditionalServer bool `json:"additional_server"`  // also bind port+1 for sync traffic
	MaxMessageSize   uint32 `json:"max_message_size"` // inbound body_length ceiling

	// Admin/status HTTP surface
	AdminAddress string `json:"admin_address"`
	AdminPort    int    `json:"admin_port"`

	// Storage
	DataDir     string `json:"data_dir"`
	MaxFileSize int64  `json:"max_file_size"`
	SyncWrites  bool   `json:"sync_writes"`

	// DS committee rotation
	IsLookup            bool `json:"is_lookup"`
	GuardMode           bool `json:"guard_mode"`
	StoreDSCommInterval uint64 `json:"store_ds_comm_interval"`

	// Gossip / rumor round loop
	RoundTimeInMs  time.Duration `json:"round_time_in_ms"`
	GossipFanout   int           `json:"gossip_fanout"`
	GossipMaxRounds uint32       `json:"gossip_max_rounds"`

	// Broadcast dedup
	BroadcastExpiry time.Duration `json:"broadcast_expiry"`

	// PeerSendQueue / SendJobs timeouts
	ReconnectInterval  time.Duration `json:"reconnect_interval"`
	ConnectTimeout     time.Duration `json:"connect_timeout"`
	MessageExpiry      time.Duration `json:"message_expiry"`
	IdleTimeoutIPOnly  time.Duration `json:"idle_timeout_ip_only"`
	IdleTimeoutDNS     time.Duration `json:"idle_timeout_dns"`
	SlowSendToReport   time.Duration `json:"slow_send_to_report"`

	// APIThreadPool
	APIWorkers     int `json:"api_workers"`
	APIMaxQueueSize int `json:"api_max_queue_size"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		NodeID:              hostname,
		Address:             "127.0.0.1",
		Port:                30303,
		AdditionalServer:    true,
		MaxMessageSize:      4 * 1024 * 1024,
		AdminAddress:        "127.0.0.1",
		AdminPort:           8080,
		DataDir:             "./data",
		MaxFileSize:         100 * 1024 * 1024,
		SyncWrites:          false,
		IsLookup:            false,
		GuardMode:           false,
		StoreDSCommInterval: 100,
		RoundTimeInMs:       10 * time.Second,
		GossipFanout:        4,
		GossipMaxRounds:     4,
		BroadcastExpiry:     10 * time.Minute,
		ReconnectInterval:   5 * time.Second,
		ConnectTimeout:      10 * time.Second,
		MessageExpiry:       30 * time.Second,
		IdleTimeoutIPOnly:   120 * time.Second,
		IdleTimeoutDNS:      600 * time.Second,
		SlowSendToReport:    5 * time.Second,
		APIWorkers:          4,
		APIMaxQueueSize:     256,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.MaxMessageSize == 0 {
		return fmt.Errorf("max_message_size must be positive")
	}
	if c.APIWorkers < 1 {
		return fmt.Errorf("api_workers must be at least 1")
	}
	if c.APIMaxQueueSize < 1 {
		return fmt.Errorf("api_max_queue_size must be at least 1")
	}
	return nil
}

// LoadFromFile loads configuration from a JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// FullAddress returns the complete P2P listen address.
func (c *Config) FullAddress() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// AdminFullAddress returns the complete admin/status HTTP listen address.
func (c *Config) AdminFullAddress() string {
	return fmt.Sprintf("%s:%d", c.AdminAddress, c.AdminPort)
}

// multiplierDoc mirrors the subset of constants.xml this loader cares about:
// <node><multipliers><peer ip="..." port="..."/>...</multipliers></node>.
type multiplierDoc struct {
	XMLName     xml.Name `xml:"node"`
	Multipliers struct {
		Peers []struct {
			IP   string `xml:"ip,attr"`
			Port uint16 `xml:"port,attr"`
		} `xml:"peer"`
	} `xml:"multipliers"`
}

// LoadMultipliers reads the always-connected multiplier peer list from an
// XML constants file (node.multipliers.peer[*].{ip,port}). Loopback or zero
// values are rejected per SPEC_FULL §6.
func LoadMultipliers(path string) ([]types.Peer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read multiplier config: %w", err)
	}

	var doc multiplierDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse multiplier config: %w", err)
	}

	peers := make([]types.Peer, 0, len(doc.Multipliers.Peers))
	for _, entry := range doc.Multipliers.Peers {
		ip := net.ParseIP(entry.IP)
		if ip == nil {
			return nil, fmt.Errorf("invalid multiplier ip %q", entry.IP)
		}
		if ip.IsLoopback() || ip.IsUnspecified() || entry.Port == 0 {
			return nil, fmt.Errorf("multiplier peer %s:%d is loopback, zero, or has a zero port", entry.IP, entry.Port)
		}
		v4 := ip.To4()
		ipInt := new(big.Int)
		if v4 != nil {
			ipInt.SetBytes(v4)
		} else {
			ipInt.SetBytes(ip.To16())
		}
		peers = append(peers, types.Peer{IP: ipInt, Port: entry.Port})
	}
	return peers, nil
}
