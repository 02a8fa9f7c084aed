package node

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sushantsondhi/dcoord/common"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// Node is one process of the cluster. It runs the totally-ordered
// multicast, the client and coordinator halves of the centralized mutex
// and the Bully election over a single serialized state store.
type Node struct {
	// Access to state must be synchronized between multiple goroutines
	state

	// Data Stores
	DeliveryLog     common.DeliveryLog
	PersistentStore common.PersistentStore

	// Peers, including ourselves, sorted by ID
	MyID        common.ProcessID
	Incarnation uuid.UUID
	ClusterSize int
	Peers       []common.RPCServer
	Manager     common.RPCManager
	CallTimeout time.Duration
	links       []*link

	// Synchronization primitives
	Mutex    sync.Mutex
	StopChan chan bool

	// Testing primitives
	Disconnected *atomic.Bool
}

var _ common.RPCServer = &Node{}

func NewNode(
	me common.Server,
	cluster common.ClusterConfig,
	deliveryLog common.DeliveryLog,
	persistentStore common.PersistentStore,
	manager common.RPCManager,
) (*Node, error) {
	if err := cluster.Validate(); err != nil {
		return nil, err
	}
	if _, ok := cluster.Lookup(me.ID); !ok {
		return nil, fmt.Errorf("process %d is not part of the cluster", me.ID)
	}
	newNode := &Node{
		state: state{
			Clock:       getClock(persistentStore),
			Coordinator: getCoordinator(persistentStore, cluster.DefaultCoordinator()),
			AckCounts:   make(map[string]int),
			MutexState:  common.Released,
		},
		DeliveryLog:     deliveryLog,
		PersistentStore: persistentStore,
		MyID:            me.ID,
		Incarnation:     uuid.New(),
		ClusterSize:     cluster.Size(),
		Manager:         manager,
		CallTimeout:     cluster.CallTimeout,
		StopChan:        make(chan bool),
		Disconnected:    atomic.NewBool(false),
	}
	if newNode.CallTimeout <= 0 {
		newNode.CallTimeout = common.DefaultCallTimeout
	}
	// We are one of our own peers: multicasts and COORDINATOR
	// announcements go to every process, self included.
	for _, server := range cluster.Cluster {
		peer, err := manager.ConnectToPeer(server.NetAddress, server.ID)
		if err != nil {
			return nil, fmt.Errorf("can't connect to peer %s: %w", server.NetAddress, err)
		}
		newNode.Peers = append(newNode.Peers, peer)
	}
	sort.Slice(newNode.Peers, func(i, j int) bool {
		return newNode.Peers[i].GetID() < newNode.Peers[j].GetID()
	})
	for _, peer := range newNode.Peers {
		l := newLink(me.ID, peer)
		newNode.links = append(newNode.links, l)
		go l.run(newNode.StopChan)
	}

	if err := manager.Start(me.NetAddress, newNode); err != nil {
		close(newNode.StopChan)
		return nil, fmt.Errorf("%v: failed to start RPC server: %w", me.ID, err)
	}

	log.Printf("Initialization complete for node %v (incarnation %v, clock %d, coordinator %v)\n",
		me.ID, newNode.Incarnation, newNode.Clock, newNode.Coordinator)
	return newNode, nil
}

func (server *Node) GetID() common.ProcessID {
	return server.MyID
}

// Stop stops the node and releases its stores. No method (including Stop)
// should be called on a stopped node.
func (server *Node) Stop() error {
	server.Disconnected.Store(true)
	close(server.StopChan)
	managerErr := server.Manager.Stop()

	server.Mutex.Lock()
	defer server.Mutex.Unlock()
	logErr := server.DeliveryLog.Close()
	pErr := server.PersistentStore.Close()
	log.Printf("%v: SHUTDOWN!", server.MyID)
	return multierr.Combine(managerErr, logErr, pErr)
}

// Disconnect creates an artificial network partition to disconnect this node from its peers (bi-directional).
// The partition is artificial in the sense that although the underlying network communications succeed,
// the implementations themselves are aware of disconnect and respond with a error in such cases.
// Reconnect can be used to heal the disconnected node.
func (server *Node) Disconnect() {
	server.Disconnected.Store(true)
	server.Manager.Disconnect()
}

func (server *Node) Reconnect() {
	server.Disconnected.Store(false)
	server.Manager.Reconnect()
}

func (server *Node) checkConnected() error {
	if server.Disconnected.Load() {
		return fmt.Errorf("%w: node %v", common.ErrDisconnected, server.MyID)
	}
	return nil
}

// peer returns the transport handle of the given process.
func (server *Node) peer(id common.ProcessID) (common.RPCServer, bool) {
	i, found := slices.BinarySearchFunc(server.Peers, id, func(peer common.RPCServer, id common.ProcessID) int {
		return int(peer.GetID()) - int(id)
	})
	if !found {
		return nil, false
	}
	return server.Peers[i], true
}

// broadcast queues a send to every peer (including ourselves) and does not
// wait for the outcome; failures are only logged by the links.
func (server *Node) broadcast(what string, send func(peer common.RPCServer) error) {
	for _, l := range server.links {
		l.enqueue(job{what: what, send: send})
	}
}

// Status is a snapshot of everything an operator may want to see.
func (server *Node) Status() common.Status {
	server.Mutex.Lock()
	defer server.Mutex.Unlock()
	status := common.Status{
		ID:                server.MyID,
		Incarnation:       server.Incarnation,
		Coordinator:       server.Coordinator,
		MutexState:        server.MutexState,
		Clock:             server.Clock,
		ElectionActive:    server.ElectionActive,
		Pending:           len(server.Queue),
		CoordinatorLocked: server.CoordLocked,
		Waiting:           append([]common.ProcessID(nil), server.CoordQueue...),
	}
	if length, err := server.DeliveryLog.Length(); err == nil {
		status.Delivered = length
	} else {
		log.Printf("%v: unable to get delivery log length: %+v\n", server.MyID, err)
	}
	return status
}

func (server *Node) Health(args *common.OperatorRPC, result *common.Status) error {
	*result = server.Status()
	return nil
}

// Delivered returns the delivered messages starting at index args.From,
// in delivery order.
func (server *Node) Delivered(args *common.DeliveredRPC, result *common.DeliveredRPCResult) error {
	if args.From < 0 {
		return fmt.Errorf("invalid delivery log index %d", args.From)
	}
	server.Mutex.Lock()
	defer server.Mutex.Unlock()
	length, err := server.DeliveryLog.Length()
	if err != nil {
		return fmt.Errorf("unable to get delivery log length: %w", err)
	}
	for index := args.From; index < length; index++ {
		msg, err := server.DeliveryLog.Get(index)
		if err != nil {
			return fmt.Errorf("unable to read delivered message %d: %w", index, err)
		}
		result.Messages = append(result.Messages, *msg)
	}
	return nil
}
