package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/log"
)

// Config is the configuration of a burrow node
type Config struct {
	NodeID string `yaml:"nodeId"`

	// RaftAddr is the raft bind address
	RaftAddr string `yaml:"raftAddr"`
	// APIAddr is the gRPC address; AdvertiseAPIAddr is what peers dial
	APIAddr          string `yaml:"apiAddr"`
	AdvertiseAPIAddr string `yaml:"advertiseApiAddr,omitempty"`
	// HTTPAddr serves health, metrics and local task status
	HTTPAddr string `yaml:"httpAddr"`
	DataDir  string `yaml:"dataDir"`

	// Bootstrap forms a new cluster; otherwise Join names a member's API
	Bootstrap bool   `yaml:"bootstrap"`
	Join      string `yaml:"join,omitempty"`

	// InMemory runs a throwaway single-node cluster with nothing on disk
	InMemory bool `yaml:"inMemory"`

	TLS      TLSConfig      `yaml:"tls"`
	Log      LogConfig      `yaml:"log"`
	Executor  ExecutorConfig  `yaml:"executor"`
	RPC       RPCConfig       `yaml:"rpc"`
	Placement PlacementConfig `yaml:"placement"`
}

// TLSConfig enables mutual TLS on the gRPC API when CertDir is set. The
// directory holds node.crt, node.key and ca.crt.
type TLSConfig struct {
	CertDir string `yaml:"certDir,omitempty"`
}

// LogConfig controls logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ExecutorConfig sizes the executor queues
type ExecutorConfig struct {
	Queues           map[string]int `yaml:"queues,omitempty"`
	DefaultQueueSize int            `yaml:"defaultQueueSize"`
}

// PlacementConfig controls the leader's placement recheck
type PlacementConfig struct {
	RecheckInterval time.Duration `yaml:"recheckInterval"`
}

// RPCConfig controls outgoing RPCs
type RPCConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	exec := executor.DefaultConfig()
	hostname, _ := os.Hostname()
	return &Config{
		NodeID:    hostname,
		RaftAddr:  "127.0.0.1:7946",
		APIAddr:   "127.0.0.1:7947",
		HTTPAddr:  "127.0.0.1:9090",
		DataDir:   "./burrow-data",
		Bootstrap: true,
		Log: LogConfig{
			Level: string(log.InfoLevel),
		},
		Executor: ExecutorConfig{
			Queues:           exec.QueueSizes,
			DefaultQueueSize: exec.DefaultQueueSize,
		},
		RPC: RPCConfig{
			Timeout: 10 * time.Second,
		},
		Placement: PlacementConfig{
			RecheckInterval: 30 * time.Second,
		},
	}
}

// Load reads path on top of the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every missing or conflicting setting
func (c *Config) Validate() error {
	var errs []error
	required := map[string]string{
		"nodeId":   c.NodeID,
		"raftAddr": c.RaftAddr,
		"apiAddr":  c.APIAddr,
		"httpAddr": c.HTTPAddr,
		"dataDir":  c.DataDir,
	}
	for _, name := range []string{"nodeId", "raftAddr", "apiAddr", "httpAddr", "dataDir"} {
		if required[name] == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if c.Bootstrap && c.Join != "" {
		errs = append(errs, errors.New("bootstrap and join are mutually exclusive"))
	}
	if !c.Bootstrap && c.Join == "" {
		errs = append(errs, errors.New("either bootstrap or join must be set"))
	}
	if c.InMemory && c.Join != "" {
		errs = append(errs, errors.New("an in-memory node cannot join a cluster"))
	}
	if c.Executor.DefaultQueueSize < 0 {
		errs = append(errs, errors.New("executor.defaultQueueSize must not be negative"))
	}
	for name, size := range c.Executor.Queues {
		if size <= 0 {
			errs = append(errs, fmt.Errorf("executor queue %s must have a positive size", name))
		}
	}
	if c.RPC.Timeout <= 0 {
		errs = append(errs, errors.New("rpc.timeout must be positive"))
	}
	if c.Placement.RecheckInterval <= 0 {
		errs = append(errs, errors.New("placement.recheckInterval must be positive"))
	}
	return errors.Join(errs...)
}

// AdvertisedAPIAddr is the API address peers should dial
func (c *Config) AdvertisedAPIAddr() string {
	if c.AdvertiseAPIAddr != "" {
		return c.AdvertiseAPIAddr
	}
	return c.APIAddr
}

// ExecutorConfig converts the executor section
func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		QueueSizes:       c.Executor.Queues,
		DefaultQueueSize: c.Executor.DefaultQueueSize,
	}
}

// LogConfig converts the log section
func (c *Config) LogConfig() log.Config {
	return log.Config{
		Level:      log.ParseLevel(c.Log.Level),
		JSONOutput: c.Log.JSON,
	}
}
