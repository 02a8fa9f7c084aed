package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sushantsondhi/dcoord/common"
	"gopkg.in/yaml.v2"
)

// Config is the on-disk description of a cluster, shared by every node
// and by clients.
type Config struct {
	Cluster     []common.Server
	CallTimeout int    `yaml:"callTimeout"` // In milliseconds
	DataDir     string `yaml:"dataDir"`
}

const (
	defaultProcesses = 3
	defaultDataDir   = "."
)

// Generate builds a config for the given RPC addresses; process ids are
// assigned in order. httpAddresses may be shorter than addresses (or nil),
// in which case the remaining nodes run without the HTTP gateway.
func Generate(addresses []string, httpAddresses []string, callTimeout time.Duration) Config {
	var cfg Config
	for i, addr := range addresses {
		server := common.Server{
			ID:         common.ProcessID(i),
			NetAddress: common.ServerAddress(strings.TrimSpace(addr)),
		}
		if i < len(httpAddresses) {
			server.HTTPAddress = strings.TrimSpace(httpAddresses[i])
		}
		cfg.Cluster = append(cfg.Cluster, server)
	}
	cfg.CallTimeout = int(callTimeout / time.Millisecond)
	cfg.DataDir = defaultDataDir
	return cfg
}

func Load(path string) (Config, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg Config) Save(path string) error {
	bytes, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, bytes, fs.ModePerm)
}

// FromEnv builds the whole cluster from the environment, the way a
// container deployment describes it:
//
//	TOTAL_PROCESSES  number of nodes (default 3)
//	PEER_<i>         RPC address of node i (default localhost:500<i>)
//
// followed by the overrides of ApplyEnv.
func FromEnv() (Config, common.ProcessID, error) {
	n, err := strconv.Atoi(getenv("TOTAL_PROCESSES", strconv.Itoa(defaultProcesses)))
	if err != nil || n <= 0 {
		return Config{}, 0, fmt.Errorf("invalid TOTAL_PROCESSES %q", os.Getenv("TOTAL_PROCESSES"))
	}
	var addresses []string
	for i := 0; i < n; i++ {
		addresses = append(addresses, fmt.Sprintf("localhost:%d", 5000+i))
	}
	cfg := Generate(addresses, nil, common.DefaultCallTimeout)
	me, err := cfg.ApplyEnv(0)
	return cfg, me, err
}

// ApplyEnv overrides parts of a loaded config from the environment and
// returns the id of the local process (me, unless PROCESS_ID is set):
//
//	PROCESS_ID       id of the local process
//	PEER_<i>         RPC address of node i
//	HTTP_ADDR        HTTP gateway address of the local process
//	DATA_DIR         directory of the bolt files
//	CALL_TIMEOUT_MS  transport call timeout
func (cfg *Config) ApplyEnv(me common.ProcessID) (common.ProcessID, error) {
	if v := os.Getenv("TOTAL_PROCESSES"); v != "" && v != strconv.Itoa(len(cfg.Cluster)) {
		return me, fmt.Errorf("TOTAL_PROCESSES=%s but the cluster has %d processes", v, len(cfg.Cluster))
	}
	if v := os.Getenv("PROCESS_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return me, fmt.Errorf("invalid PROCESS_ID %q: %w", v, err)
		}
		me = common.ProcessID(id)
	}
	for i := range cfg.Cluster {
		key := fmt.Sprintf("PEER_%d", cfg.Cluster[i].ID)
		if v := os.Getenv(key); v != "" {
			cfg.Cluster[i].NetAddress = common.ServerAddress(trimScheme(v))
		}
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		found := false
		for i := range cfg.Cluster {
			if cfg.Cluster[i].ID == me {
				cfg.Cluster[i].HTTPAddress = v
				found = true
			}
		}
		if !found {
			return me, fmt.Errorf("HTTP_ADDR set for unknown process %d", me)
		}
	}
	cfg.DataDir = getenv("DATA_DIR", cfg.DataDir)
	if v := os.Getenv("CALL_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return me, fmt.Errorf("invalid CALL_TIMEOUT_MS %q", v)
		}
		cfg.CallTimeout = ms
	}
	return me, nil
}

// ClusterConfig converts the file representation to the one nodes run on.
func (cfg Config) ClusterConfig() common.ClusterConfig {
	timeout := time.Duration(cfg.CallTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = common.DefaultCallTimeout
	}
	return common.ClusterConfig{
		Cluster:     append([]common.Server(nil), cfg.Cluster...),
		CallTimeout: timeout,
	}
}

// StorePaths returns the bolt files of the given process.
func (cfg Config) StorePaths(id common.ProcessID) (pstore string, deliveryLog string) {
	dir := cfg.DataDir
	if dir == "" {
		dir = defaultDataDir
	}
	return filepath.Join(dir, fmt.Sprintf("node-%d_pstore.db", id)),
		filepath.Join(dir, fmt.Sprintf("node-%d_delivered.db", id))
}

// getenv returns the value of k, or def if it is unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// trimScheme accepts peer URLs such as http://node-1:5000 as well as bare
// host:port addresses.
func trimScheme(address string) string {
	if i := strings.Index(address, "://"); i >= 0 {
		address = address[i+3:]
	}
	return strings.TrimSuffix(address, "/")
}
