package rpc

import (
	"log"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/sushantsondhi/dcoord/common"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// Manager is the implementation of common.RPCManager interface using
// the golang's net/rpc package
type Manager struct {
	CallTimeout time.Duration

	mutex    sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool

	// shared with every Peer handed out by this manager
	disconnected *atomic.Bool
}

var _ common.RPCManager = &Manager{}

func NewManager() *Manager {
	return NewManagerWithTimeout(common.DefaultCallTimeout)
}

func NewManagerWithTimeout(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = common.DefaultCallTimeout
	}
	return &Manager{
		CallTimeout:  timeout,
		conns:        make(map[net.Conn]struct{}),
		disconnected: atomic.NewBool(false),
	}
}

func (manager *Manager) Start(address common.ServerAddress, server common.RPCServer) error {
	rpcServ := rpc.NewServer()
	if err := rpcServ.RegisterName("RPCServer", server); err != nil {
		return err
	}
	listener, err := net.Listen("tcp", string(address))
	if err != nil {
		return err
	}
	manager.mutex.Lock()
	manager.listener = listener
	manager.stopped = false
	manager.mutex.Unlock()

	go manager.serve(rpcServ, listener)
	return nil
}

// Addr returns the address the manager is listening on, which is useful
// when it was started on port 0.
func (manager *Manager) Addr() common.ServerAddress {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	if manager.listener == nil {
		return ""
	}
	return common.ServerAddress(manager.listener.Addr().String())
}

func (manager *Manager) serve(rpcServ *rpc.Server, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			manager.mutex.Lock()
			stopped := manager.stopped
			manager.mutex.Unlock()
			if stopped {
				return
			}
			log.Printf("rpc: accept on %v failed: %v\n", listener.Addr(), err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		manager.mutex.Lock()
		if manager.stopped {
			manager.mutex.Unlock()
			conn.Close()
			return
		}
		manager.conns[conn] = struct{}{}
		manager.mutex.Unlock()

		go func() {
			rpcServ.ServeConn(conn)
			manager.mutex.Lock()
			delete(manager.conns, conn)
			manager.mutex.Unlock()
		}()
	}
}

func (manager *Manager) ConnectToPeer(address common.ServerAddress, id common.ProcessID) (common.RPCServer, error) {
	return NewPeer(address, id, manager.CallTimeout, manager.disconnected), nil
}

// Stop closes the listener and every accepted connection, so that to
// its peers the node looks crashed.
func (manager *Manager) Stop() error {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	manager.stopped = true
	var err error
	if manager.listener != nil {
		err = multierr.Append(err, manager.listener.Close())
		manager.listener = nil
	}
	for conn := range manager.conns {
		err = multierr.Append(err, conn.Close())
		delete(manager.conns, conn)
	}
	return err
}

func (manager *Manager) Disconnect() {
	manager.disconnected.Store(true)
}

func (manager *Manager) Reconnect() {
	manager.disconnected.Store(false)
}
