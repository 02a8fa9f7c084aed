package common

// DeliveryLog is the interface that when implemented can be used as
// a store for the multicast messages one node has delivered, in delivery
// order. Index i holds the (i+1)-th delivered message.
type DeliveryLog interface {
	Append(msg Message) (int64, error)
	Get(index int64) (*Message, error)
	Length() (int64, error)
	Close() error
}

// PersistentStore implementations can be used as general-purpose stores
// for storing non-volatile data (such as a node's logical clock).
type PersistentStore interface {
	Set(key, value []byte) error
	Get(key []byte) ([]byte, error)
	GetDefault(key []byte, defaultVal []byte) ([]byte, error)
	Close() error
}

// RPCServer is the interface exposed by a node to outside
// (including other nodes, and clients)
type RPCServer interface {
	GetID() ProcessID

	// Peer protocol
	ReceiveMessage(args *Message, result *Reply) error
	ReceiveAck(args *Ack, result *Reply) error
	ReceiveMutexRequest(args *MutexRPC, result *Reply) error
	ReceiveGrant(args *MutexRPC, result *Reply) error
	ReceiveRelease(args *MutexRPC, result *Reply) error
	ElectionMessage(args *ElectionRPC, result *Reply) error

	// Operator surface
	Initiate(args *InitiateRPC, result *Reply) error
	RequestResource(args *OperatorRPC, result *Reply) error
	ReleaseResource(args *OperatorRPC, result *Reply) error
	SetDelay(args *DelayRPC, result *Reply) error
	StartElection(args *OperatorRPC, result *Reply) error
	Health(args *OperatorRPC, result *Status) error
	Delivered(args *DeliveredRPC, result *DeliveredRPCResult) error
}

// RPCManager abstracts away RPC handling from RPC servers
type RPCManager interface {
	// Start binds the given address and serves the server in the background.
	// It only returns error if it fails to start the server.
	Start(address ServerAddress, server RPCServer) error
	ConnectToPeer(address ServerAddress, id ProcessID) (RPCServer, error)
	// Stop the RPCManager (permanent)
	Stop() error
	// Disconnect disconnects all managed peers
	Disconnect()
	// Reconnect can heal the disconnected managed peers
	Reconnect()
}
