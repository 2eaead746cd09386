// Package config loads process-level configuration for the naming registry
// from environment variables, following the NACOS_-prefixed convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// AppSysConfig holds process-wide configuration. Mutable fields are behind
// an RWMutex and must be accessed via getter/setter methods, since the
// registry's actor goroutine and any admin surface may read/write concurrently.
type AppSysConfig struct {
	ConfigDBDir         string
	ConfigMaxContent    int
	HTTPPort            uint16
	HTTPConsolePort     uint16
	GRPCPort            uint16
	RaftNodeID          uint64
	RaftNodeAddr        string
	RaftAutoInit        bool
	RaftJoinAddr        string
	RaftSnapshotLogSize uint64
	EnableNoAuthConsole bool

	mu           sync.RWMutex
	clusterToken string
}

// NamingSysConfig holds the registry's own timing constants (spec.md §6).
type NamingSysConfig struct {
	OnceTimeCheckSize             int
	ServiceTimeOutMillis          uint64
	InstanceMetadataTimeOutMillis uint64
}

// NewNamingSysConfig returns the spec-mandated defaults.
func NewNamingSysConfig() NamingSysConfig {
	return NamingSysConfig{
		OnceTimeCheckSize:             10000,
		ServiceTimeOutMillis:          30000,
		InstanceMetadataTimeOutMillis: 60000,
	}
}

// ServiceTimeOut returns the service GC timeout as a time.Duration.
func (c NamingSysConfig) ServiceTimeOut() time.Duration {
	return time.Duration(c.ServiceTimeOutMillis) * time.Millisecond
}

// InstanceMetadataTimeOut returns the ephemeral-instance expiry threshold.
func (c NamingSysConfig) InstanceMetadataTimeOut() time.Duration {
	return time.Duration(c.InstanceMetadataTimeOutMillis) * time.Millisecond
}

// Load reads AppSysConfig from the environment, falling back to the
// defaults in spec.md §6.
func Load() *AppSysConfig {
	httpPort := envUint16("NACOS_HTTP_PORT", 8848)
	grpcPort := envUint16("NACOS_GRPC_PORT", httpPort+1000)
	httpConsolePort := envUint16("NACOS_HTTP_CONSOLE_PORT", httpPort+2000)
	raftNodeID := envUint64("NACOS_RAFT_NODE_ID", 1)

	cfg := &AppSysConfig{
		ConfigDBDir:         envStr("NACOS_CONFIG_DB_DIR", "nacos_db"),
		ConfigMaxContent:    envInt("NACOS_CONFIG_MAX_CONTENT", 10*1024*1024),
		HTTPPort:            httpPort,
		HTTPConsolePort:     httpConsolePort,
		GRPCPort:            grpcPort,
		RaftNodeID:          raftNodeID,
		RaftNodeAddr:        envStr("NACOS_RAFT_NODE_ADDR", fmt.Sprintf("127.0.0.1:%d", grpcPort)),
		RaftJoinAddr:        envStr("NACOS_RAFT_JOIN_ADDR", ""),
		RaftSnapshotLogSize: envUint64("NACOS_RAFT_SNAPSHOT_LOG_SIZE", 10000),
		EnableNoAuthConsole: envBool("NACOS_ENABLE_NO_AUTH_CONSOLE", false),
		clusterToken:        envStr("NACOS_CLUSTER_TOKEN", ""),
	}
	cfg.RaftAutoInit = envBool("NACOS_RAFT_AUTO_INIT", raftNodeID == 1)
	return cfg
}

// ClusterToken returns the shared secret used to authenticate cluster RPCs.
func (c *AppSysConfig) ClusterToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clusterToken
}

// SetClusterToken updates the cluster token at runtime.
func (c *AppSysConfig) SetClusterToken(token string) {
	c.mu.Lock()
	c.clusterToken = token
	c.mu.Unlock()
}

// Validate checks configuration for invalid values.
func (c *AppSysConfig) Validate() error {
	if c.ConfigDBDir == "" {
		return fmt.Errorf("NACOS_CONFIG_DB_DIR must not be empty")
	}
	if c.ConfigMaxContent <= 0 {
		return fmt.Errorf("NACOS_CONFIG_MAX_CONTENT must be > 0, got %d", c.ConfigMaxContent)
	}
	if c.RaftNodeID == 0 {
		return fmt.Errorf("NACOS_RAFT_NODE_ID must be > 0")
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envUint16(key string, def uint16) uint16 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return def
	}
	return uint16(n)
}

func envUint64(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
