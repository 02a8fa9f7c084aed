package node

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sushantsondhi/dcoord/common"
	"github.com/sushantsondhi/dcoord/persistent"
	"go.uber.org/atomic"
)

// network is an in-process stand-in for the transport: peers call each
// other's handlers directly. A process that is not registered (or whose
// manager is disconnected) is unreachable, like a crashed node.
type network struct {
	mutex   sync.Mutex
	servers map[common.ServerAddress]common.RPCServer
}

func newNetwork() *network {
	return &network{servers: make(map[common.ServerAddress]common.RPCServer)}
}

func (net *network) register(address common.ServerAddress, server common.RPCServer) {
	net.mutex.Lock()
	defer net.mutex.Unlock()
	net.servers[address] = server
}

func (net *network) unregister(address common.ServerAddress) {
	net.mutex.Lock()
	defer net.mutex.Unlock()
	delete(net.servers, address)
}

func (net *network) lookup(address common.ServerAddress) (common.RPCServer, bool) {
	net.mutex.Lock()
	defer net.mutex.Unlock()
	server, ok := net.servers[address]
	return server, ok
}

type localManager struct {
	net          *network
	address      common.ServerAddress
	disconnected *atomic.Bool
}

func (net *network) manager() *localManager {
	return &localManager{net: net, disconnected: atomic.NewBool(false)}
}

func (manager *localManager) Start(address common.ServerAddress, server common.RPCServer) error {
	manager.address = address
	manager.net.register(address, server)
	return nil
}

func (manager *localManager) ConnectToPeer(address common.ServerAddress, id common.ProcessID) (common.RPCServer, error) {
	return &localPeer{net: manager.net, address: address, id: id, disconnected: manager.disconnected}, nil
}

func (manager *localManager) Stop() error {
	manager.net.unregister(manager.address)
	return nil
}

func (manager *localManager) Disconnect() { manager.disconnected.Store(true) }

func (manager *localManager) Reconnect() { manager.disconnected.Store(false) }

type localPeer struct {
	net          *network
	address      common.ServerAddress
	id           common.ProcessID
	disconnected *atomic.Bool
}

func (peer *localPeer) target() (common.RPCServer, error) {
	if peer.disconnected.Load() {
		return nil, fmt.Errorf("%w: cannot reach %v", common.ErrDisconnected, peer.id)
	}
	server, ok := peer.net.lookup(peer.address)
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", peer.address)
	}
	return server, nil
}

// call copies args so that the callee never shares memory with the caller,
// as with a real transport.
func call[A any, R any](peer *localPeer, args *A, result *R, method func(common.RPCServer, *A, *R) error) error {
	server, err := peer.target()
	if err != nil {
		return err
	}
	a := *args
	return method(server, &a, result)
}

func (peer *localPeer) GetID() common.ProcessID { return peer.id }

func (peer *localPeer) ReceiveMessage(args *common.Message, result *common.Reply) error {
	return call(peer, args, result, common.RPCServer.ReceiveMessage)
}

func (peer *localPeer) ReceiveAck(args *common.Ack, result *common.Reply) error {
	return call(peer, args, result, common.RPCServer.ReceiveAck)
}

func (peer *localPeer) ReceiveMutexRequest(args *common.MutexRPC, result *common.Reply) error {
	return call(peer, args, result, common.RPCServer.ReceiveMutexRequest)
}

func (peer *localPeer) ReceiveGrant(args *common.MutexRPC, result *common.Reply) error {
	return call(peer, args, result, common.RPCServer.ReceiveGrant)
}

func (peer *localPeer) ReceiveRelease(args *common.MutexRPC, result *common.Reply) error {
	return call(peer, args, result, common.RPCServer.ReceiveRelease)
}

func (peer *localPeer) ElectionMessage(args *common.ElectionRPC, result *common.Reply) error {
	return call(peer, args, result, common.RPCServer.ElectionMessage)
}

func (peer *localPeer) Initiate(args *common.InitiateRPC, result *common.Reply) error {
	return call(peer, args, result, common.RPCServer.Initiate)
}

func (peer *localPeer) RequestResource(args *common.OperatorRPC, result *common.Reply) error {
	return call(peer, args, result, common.RPCServer.RequestResource)
}

func (peer *localPeer) ReleaseResource(args *common.OperatorRPC, result *common.Reply) error {
	return call(peer, args, result, common.RPCServer.ReleaseResource)
}

func (peer *localPeer) SetDelay(args *common.DelayRPC, result *common.Reply) error {
	return call(peer, args, result, common.RPCServer.SetDelay)
}

func (peer *localPeer) StartElection(args *common.OperatorRPC, result *common.Reply) error {
	return call(peer, args, result, common.RPCServer.StartElection)
}

func (peer *localPeer) Health(args *common.OperatorRPC, result *common.Status) error {
	return call(peer, args, result, common.RPCServer.Health)
}

func (peer *localPeer) Delivered(args *common.DeliveredRPC, result *common.DeliveredRPCResult) error {
	return call(peer, args, result, common.RPCServer.Delivered)
}

func generateClusterConfig(n int) common.ClusterConfig {
	var servers []common.Server
	for i := 0; i < n; i++ {
		servers = append(servers, common.Server{
			ID:         common.ProcessID(i),
			NetAddress: common.ServerAddress(fmt.Sprintf("node-%d:5000", i)),
		})
	}
	return common.ClusterConfig{
		Cluster:     servers,
		CallTimeout: time.Second,
	}
}

// makeNode starts one node of config on net. Its stores live in a
// temporary directory removed with the test.
func makeNode(t *testing.T, net *network, config common.ClusterConfig, id common.ProcessID) *Node {
	dir := t.TempDir()
	deliveryLog, err := persistent.CreateDbDeliveryLog(filepath.Join(dir, "delivered.db"))
	require.NoError(t, err)
	pstore, err := persistent.NewPStore(filepath.Join(dir, "pstore.db"))
	require.NoError(t, err)
	node, err := NewNode(config.Cluster[id], config, deliveryLog, pstore, net.manager())
	require.NoError(t, err)
	t.Cleanup(func() { node.Stop() })
	return node
}

func makeCluster(t *testing.T, n int) (*network, []*Node) {
	net := newNetwork()
	config := generateClusterConfig(n)
	var nodes []*Node
	for i := 0; i < n; i++ {
		nodes = append(nodes, makeNode(t, net, config, common.ProcessID(i)))
	}
	return net, nodes
}

func delivered(t *testing.T, node *Node) []common.Message {
	var result common.DeliveredRPCResult
	require.NoError(t, node.Delivered(&common.DeliveredRPC{}, &result))
	return result.Messages
}

// recorder stands in for a remote process and only records what it is sent.
// A down recorder still records mutex requests and election messages but
// fails them, like a process that crashed after the connection was made.
type recorder struct {
	id    common.ProcessID
	mutex sync.Mutex
	down  bool

	messages  []common.Message
	acks      []common.Ack
	requests  []common.MutexRPC
	grants    []common.MutexRPC
	releases  []common.MutexRPC
	elections []common.ElectionRPC
}

var _ common.RPCServer = &recorder{}

func (r *recorder) GetID() common.ProcessID { return r.id }

func (r *recorder) ReceiveMessage(args *common.Message, result *common.Reply) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.messages = append(r.messages, *args)
	return nil
}

func (r *recorder) ReceiveAck(args *common.Ack, result *common.Reply) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.acks = append(r.acks, *args)
	return nil
}

func (r *recorder) ReceiveMutexRequest(args *common.MutexRPC, result *common.Reply) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.requests = append(r.requests, *args)
	if r.down {
		return fmt.Errorf("process %v is down", r.id)
	}
	result.Status = common.StatusReceived
	return nil
}

func (r *recorder) ReceiveGrant(args *common.MutexRPC, result *common.Reply) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.grants = append(r.grants, *args)
	return nil
}

func (r *recorder) ReceiveRelease(args *common.MutexRPC, result *common.Reply) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.releases = append(r.releases, *args)
	return nil
}

func (r *recorder) ElectionMessage(args *common.ElectionRPC, result *common.Reply) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.elections = append(r.elections, *args)
	if r.down {
		return fmt.Errorf("process %v is down", r.id)
	}
	result.Status = common.StatusOK
	return nil
}

func (r *recorder) Initiate(*common.InitiateRPC, *common.Reply) error        { return nil }
func (r *recorder) RequestResource(*common.OperatorRPC, *common.Reply) error { return nil }
func (r *recorder) ReleaseResource(*common.OperatorRPC, *common.Reply) error { return nil }
func (r *recorder) SetDelay(*common.DelayRPC, *common.Reply) error           { return nil }
func (r *recorder) StartElection(*common.OperatorRPC, *common.Reply) error   { return nil }
func (r *recorder) Health(*common.OperatorRPC, *common.Status) error         { return nil }
func (r *recorder) Delivered(*common.DeliveredRPC, *common.DeliveredRPCResult) error {
	return nil
}

func (r *recorder) ackIDs() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var ids []string
	for _, ack := range r.acks {
		ids = append(ids, ack.MessageID)
	}
	return ids
}

func (r *recorder) requestCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.requests)
}

func (r *recorder) grantCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.grants)
}

func (r *recorder) electionMessages() []common.ElectionRPC {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]common.ElectionRPC(nil), r.elections...)
}

// makeNodeWithRecorders starts node `id` of an n-node cluster for real and
// puts recorders at every other address.
func makeNodeWithRecorders(t *testing.T, n int, id common.ProcessID) (*Node, map[common.ProcessID]*recorder) {
	net := newNetwork()
	config := generateClusterConfig(n)
	recorders := make(map[common.ProcessID]*recorder)
	for _, server := range config.Cluster {
		if server.ID == id {
			continue
		}
		r := &recorder{id: server.ID}
		recorders[server.ID] = r
		net.register(server.NetAddress, r)
	}
	return makeNode(t, net, config, id), recorders
}

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)
