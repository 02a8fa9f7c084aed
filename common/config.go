package common

import (
	"fmt"
	"math"
	"time"
)

// ProcessID identifies one node of the cluster. IDs are dense (0..N-1)
// and totally ordered; a higher ID wins elections.
type ProcessID int

// ServerAddress represents a network address of a node (hostname:port)
type ServerAddress string

type Server struct {
	ID         ProcessID
	NetAddress ServerAddress
	// HTTPAddress is optional; when set the node also serves the HTTP gateway.
	HTTPAddress string
}

// ClusterConfig specifies configuration information related to a
// cluster: the static peer directory and transport tunables.
type ClusterConfig struct {
	Cluster     []Server
	CallTimeout time.Duration
}

const DefaultCallTimeout = 2 * time.Second

// MaxAckDelay bounds the ack delay an operator can inject.
const MaxAckDelay = time.Hour

// DelayFromSeconds converts an operator supplied delay in seconds, which
// must lie in [0, MaxAckDelay].
func DelayFromSeconds(seconds float64) (time.Duration, error) {
	if math.IsNaN(seconds) || seconds < 0 || seconds > MaxAckDelay.Seconds() {
		return 0, fmt.Errorf("delay must be between 0 and %v seconds", MaxAckDelay.Seconds())
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Size returns N, the number of nodes in the cluster.
func (config ClusterConfig) Size() int {
	return len(config.Cluster)
}

// DefaultCoordinator is the coordinator every node believes in before
// any election has taken place: the highest ID.
func (config ClusterConfig) DefaultCoordinator() ProcessID {
	return ProcessID(len(config.Cluster) - 1)
}

// Lookup returns the directory entry of the given process.
func (config ClusterConfig) Lookup(id ProcessID) (Server, bool) {
	for _, server := range config.Cluster {
		if server.ID == id {
			return server, true
		}
	}
	return Server{}, false
}

// Validate checks that IDs are dense (0..N-1), unique, and addressed.
func (config ClusterConfig) Validate() error {
	if len(config.Cluster) == 0 {
		return fmt.Errorf("empty cluster")
	}
	seen := make(map[ProcessID]bool)
	for _, server := range config.Cluster {
		if server.ID < 0 || int(server.ID) >= len(config.Cluster) {
			return fmt.Errorf("process id %d out of range [0, %d)", server.ID, len(config.Cluster))
		}
		if seen[server.ID] {
			return fmt.Errorf("duplicate process id %d", server.ID)
		}
		if server.NetAddress == "" {
			return fmt.Errorf("process %d has no address", server.ID)
		}
		seen[server.ID] = true
	}
	return nil
}

const (
	Clock       string = "clock"
	Coordinator string = "coordinator"
)
