package client

import (
	"fmt"
	"time"

	"github.com/sushantsondhi/dcoord/common"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// Client is a thin library over the cluster's operator RPCs, intended to
// be used by tools and benchmarks. Operations on the mutex, the ack delay
// and elections are node-scoped and name their target; multicasts can be
// initiated by any node.
// This is a thread-safe library.
type Client struct {
	Nodes              []common.RPCServer
	LastKnownResponder *atomic.Int32
}

func NewClient(servers []common.Server, manager common.RPCManager) (*Client, error) {
	c := Client{
		Nodes:              make([]common.RPCServer, len(servers)),
		LastKnownResponder: atomic.NewInt32(0),
	}
	for _, server := range servers {
		if server.ID < 0 || int(server.ID) >= len(servers) {
			return nil, fmt.Errorf("process id %d out of range [0, %d)", server.ID, len(servers))
		}
		peer, err := manager.ConnectToPeer(server.NetAddress, server.ID)
		if err != nil {
			return nil, fmt.Errorf("error connecting to node at %v: %w", server.NetAddress, err)
		}
		c.Nodes[server.ID] = peer
	}
	return &c, nil
}

func (c *Client) node(id common.ProcessID) (common.RPCServer, error) {
	if id < 0 || int(id) >= len(c.Nodes) || c.Nodes[id] == nil {
		return nil, fmt.Errorf("unknown process %d", id)
	}
	return c.Nodes[id], nil
}

// Initiate multicasts content from whichever node answers first, starting
// with the last one that did. It returns the originating node and the id
// of the new message.
func (c *Client) Initiate(content string) (origin common.ProcessID, messageID string, err error) {
	lastKnownResponder := int(c.LastKnownResponder.Load())
	for i := 0; i < len(c.Nodes); i++ {
		index := (i + lastKnownResponder) % len(c.Nodes)
		var reply common.Reply
		reqErr := c.Nodes[index].Initiate(&common.InitiateRPC{Content: content}, &reply)
		if reqErr != nil {
			err = multierr.Append(err, reqErr)
			continue
		}
		c.LastKnownResponder.Store(int32(index))
		return common.ProcessID(index), reply.MessageID, nil
	}
	if err == nil {
		err = fmt.Errorf("no nodes to initiate from")
	}
	return
}

// InitiateAt multicasts content from the given node.
func (c *Client) InitiateAt(id common.ProcessID, content string) (string, error) {
	server, err := c.node(id)
	if err != nil {
		return "", err
	}
	var reply common.Reply
	if err := server.Initiate(&common.InitiateRPC{Content: content}, &reply); err != nil {
		return "", err
	}
	return reply.MessageID, common.ReplyError(reply)
}

// RequestResource asks node id to acquire the shared resource. The
// request is asynchronous: on success the node is WANTED and becomes
// HELD once the coordinator grants it (see Health). If the node found its
// coordinator dead the returned error is common.ErrCoordinatorUnreachable
// and an election is already running.
func (c *Client) RequestResource(id common.ProcessID) (common.MutexState, error) {
	server, err := c.node(id)
	if err != nil {
		return common.Released, err
	}
	var reply common.Reply
	if err := server.RequestResource(&common.OperatorRPC{Origin: "client"}, &reply); err != nil {
		return common.Released, err
	}
	return reply.State, common.ReplyError(reply)
}

func (c *Client) ReleaseResource(id common.ProcessID) error {
	server, err := c.node(id)
	if err != nil {
		return err
	}
	var reply common.Reply
	if err := server.ReleaseResource(&common.OperatorRPC{Origin: "client"}, &reply); err != nil {
		return err
	}
	return common.ReplyError(reply)
}

// SetDelay makes node id hold back the ack of the next message it
// receives by d.
func (c *Client) SetDelay(id common.ProcessID, d time.Duration) error {
	server, err := c.node(id)
	if err != nil {
		return err
	}
	var reply common.Reply
	if err := server.SetDelay(&common.DelayRPC{Delay: d}, &reply); err != nil {
		return err
	}
	return common.ReplyError(reply)
}

func (c *Client) StartElection(id common.ProcessID) error {
	server, err := c.node(id)
	if err != nil {
		return err
	}
	var reply common.Reply
	if err := server.StartElection(&common.OperatorRPC{Origin: "client"}, &reply); err != nil {
		return err
	}
	return common.ReplyError(reply)
}

func (c *Client) Health(id common.ProcessID) (common.Status, error) {
	server, err := c.node(id)
	if err != nil {
		return common.Status{}, err
	}
	var status common.Status
	err = server.Health(&common.OperatorRPC{Origin: "client"}, &status)
	return status, err
}

// ClusterHealth returns the status of every node that answered, in id
// order, along with the combined errors of those that did not.
func (c *Client) ClusterHealth() (statuses []common.Status, err error) {
	for id := range c.Nodes {
		status, healthErr := c.Health(common.ProcessID(id))
		if healthErr != nil {
			err = multierr.Append(err, fmt.Errorf("node %d: %w", id, healthErr))
			continue
		}
		statuses = append(statuses, status)
	}
	return
}

// Leader returns the coordinator as believed by the first node that
// answers, starting with the last one that did.
func (c *Client) Leader() (leader common.ProcessID, err error) {
	lastKnownResponder := int(c.LastKnownResponder.Load())
	for i := 0; i < len(c.Nodes); i++ {
		index := (i + lastKnownResponder) % len(c.Nodes)
		var status common.Status
		reqErr := c.Nodes[index].Health(&common.OperatorRPC{Origin: "client"}, &status)
		if reqErr != nil {
			err = multierr.Append(err, reqErr)
			continue
		}
		c.LastKnownResponder.Store(int32(index))
		return status.Coordinator, nil
	}
	if err == nil {
		err = fmt.Errorf("no nodes to ask")
	}
	return
}

// Delivered returns the messages node id has delivered, from index from
// onwards.
func (c *Client) Delivered(id common.ProcessID, from int64) ([]common.Message, error) {
	server, err := c.node(id)
	if err != nil {
		return nil, err
	}
	var result common.DeliveredRPCResult
	if err := server.Delivered(&common.DeliveredRPC{From: from}, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}
