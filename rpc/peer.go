package rpc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/sushantsondhi/dcoord/common"
	"go.uber.org/atomic"
)

// Peer is the implementation of common.RPCServer interface using the
// golang's net/rpc package
type Peer struct {
	id           common.ProcessID
	address      common.ServerAddress
	timeout      time.Duration
	disconnected *atomic.Bool

	mutex  sync.Mutex
	client *rpc.Client
}

var _ common.RPCServer = &Peer{}

// NewPeer creates a Peer instance with lazy initialization.
// Actual RPC connection is not established until an actual RPC
// call takes place.
func NewPeer(address common.ServerAddress, id common.ProcessID, timeout time.Duration, disconnected *atomic.Bool) *Peer {
	if disconnected == nil {
		disconnected = atomic.NewBool(false)
	}
	return &Peer{
		id:           id,
		address:      address,
		timeout:      timeout,
		disconnected: disconnected,
	}
}

// call redials once if the cached connection was already shut down when the
// request was issued (the remote node restarted), so the request was never
// written. A connection that breaks mid-call is dropped but not retried:
// the remote handler may have run, and acks are not idempotent. Any other
// failure is returned to the caller untouched.
func (peer *Peer) call(method string, args interface{}, result interface{}) (err error) {
	if peer.disconnected.Load() {
		return fmt.Errorf("%w: cannot reach %v", common.ErrDisconnected, peer.id)
	}
	for i := 0; i < 2; i++ {
		var client *rpc.Client
		if client, err = peer.connect(); err != nil {
			return err
		}
		err = peer.invoke(client, method, args, result)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			peer.reset(client)
			break
		}
		if errors.Is(err, rpc.ErrShutdown) {
			peer.reset(client)
			continue
		}
		break
	}
	return
}

func (peer *Peer) connect() (*rpc.Client, error) {
	peer.mutex.Lock()
	defer peer.mutex.Unlock()
	if peer.client == nil {
		conn, err := net.DialTimeout("tcp", string(peer.address), peer.timeout)
		if err != nil {
			return nil, err
		}
		peer.client = rpc.NewClient(conn)
	}
	return peer.client, nil
}

func (peer *Peer) reset(client *rpc.Client) {
	peer.mutex.Lock()
	defer peer.mutex.Unlock()
	if peer.client == client {
		peer.client.Close()
		peer.client = nil
	}
}

func (peer *Peer) invoke(client *rpc.Client, method string, args interface{}, result interface{}) error {
	call := client.Go(method, args, result, make(chan *rpc.Call, 1))
	timer := time.NewTimer(peer.timeout)
	defer timer.Stop()
	select {
	case <-call.Done:
		return call.Error
	case <-timer.C:
		return fmt.Errorf("%s to %v (%s) timed out after %v", method, peer.id, peer.address, peer.timeout)
	}
}

func (peer *Peer) GetID() common.ProcessID {
	return peer.id
}

func (peer *Peer) ReceiveMessage(args *common.Message, result *common.Reply) error {
	return peer.call("RPCServer.ReceiveMessage", args, result)
}

func (peer *Peer) ReceiveAck(args *common.Ack, result *common.Reply) error {
	return peer.call("RPCServer.ReceiveAck", args, result)
}

func (peer *Peer) ReceiveMutexRequest(args *common.MutexRPC, result *common.Reply) error {
	return peer.call("RPCServer.ReceiveMutexRequest", args, result)
}

func (peer *Peer) ReceiveGrant(args *common.MutexRPC, result *common.Reply) error {
	return peer.call("RPCServer.ReceiveGrant", args, result)
}

func (peer *Peer) ReceiveRelease(args *common.MutexRPC, result *common.Reply) error {
	return peer.call("RPCServer.ReceiveRelease", args, result)
}

func (peer *Peer) ElectionMessage(args *common.ElectionRPC, result *common.Reply) error {
	return peer.call("RPCServer.ElectionMessage", args, result)
}

func (peer *Peer) Initiate(args *common.InitiateRPC, result *common.Reply) error {
	return peer.call("RPCServer.Initiate", args, result)
}

func (peer *Peer) RequestResource(args *common.OperatorRPC, result *common.Reply) error {
	return peer.call("RPCServer.RequestResource", args, result)
}

func (peer *Peer) ReleaseResource(args *common.OperatorRPC, result *common.Reply) error {
	return peer.call("RPCServer.ReleaseResource", args, result)
}

func (peer *Peer) SetDelay(args *common.DelayRPC, result *common.Reply) error {
	return peer.call("RPCServer.SetDelay", args, result)
}

func (peer *Peer) StartElection(args *common.OperatorRPC, result *common.Reply) error {
	return peer.call("RPCServer.StartElection", args, result)
}

func (peer *Peer) Health(args *common.OperatorRPC, result *common.Status) error {
	return peer.call("RPCServer.Health", args, result)
}

func (peer *Peer) Delivered(args *common.DeliveredRPC, result *common.DeliveredRPCResult) error {
	return peer.call("RPCServer.Delivered", args, result)
}
