package node

import (
	"log"

	"github.com/sushantsondhi/dcoord/common"
	"go.uber.org/multierr"
)

func (server *Node) StartElection(args *common.OperatorRPC, result *common.Reply) error {
	if err := server.checkConnected(); err != nil {
		return err
	}
	log.Printf("%v: election requested (origin %q)\n", server.MyID, args.Origin)
	go server.startElection()
	result.Status = common.StatusElectionStarted
	return nil
}

// startElection runs one round of the Bully algorithm. Every higher process
// is challenged in turn; if any challenge reaches its target we consider
// ourselves answered and wait for a COORDINATOR announcement. A successful
// RPC counts as "alive" even though the peer does not say so explicitly.
// There is no timeout on that wait: if the answering peer dies before
// announcing, nothing restarts the election until some later trigger.
func (server *Node) startElection() {
	server.Mutex.Lock()
	server.ElectionActive = true
	server.Mutex.Unlock()
	log.Printf("%v: starting election\n", server.MyID)

	var higher []common.RPCServer
	for _, peer := range server.Peers {
		if peer.GetID() > server.MyID {
			higher = append(higher, peer)
		}
	}
	if len(higher) == 0 {
		server.declareVictory()
		return
	}

	answered := false
	var errs error
	for _, peer := range higher {
		log.Printf("%v: challenging %v\n", server.MyID, peer.GetID())
		var reply common.Reply
		err := peer.ElectionMessage(&common.ElectionRPC{Type: common.Election, SenderID: server.MyID}, &reply)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		answered = true
	}

	if !answered {
		log.Printf("%v: no higher process answered (%v), I am the new coordinator\n", server.MyID, errs)
		server.declareVictory()
		return
	}
	log.Printf("%v: a higher process answered, waiting for the new coordinator\n", server.MyID)
}

// declareVictory makes us the coordinator. The resource lock starts over
// free and with no waiters: requests queued at the previous coordinator
// are dropped and their senders have to ask again.
func (server *Node) declareVictory() {
	server.Mutex.Lock()
	server.Coordinator = server.MyID
	server.ElectionActive = false
	server.CoordLocked = false
	server.CoordQueue = nil
	server.persistCoordinator()
	server.Mutex.Unlock()

	log.Printf("%v: *** I AM THE NEW COORDINATOR ***\n", server.MyID)
	announcement := common.ElectionRPC{Type: common.CoordinatorType, SenderID: server.MyID}
	server.broadcast("coordinator announcement", func(peer common.RPCServer) error {
		var reply common.Reply
		return peer.ElectionMessage(&announcement, &reply)
	})
}

func (server *Node) ElectionMessage(args *common.ElectionRPC, result *common.Reply) error {
	if err := server.checkConnected(); err != nil {
		return err
	}
	switch args.Type {
	case common.Election:
		log.Printf("%v: challenged by %v\n", server.MyID, args.SenderID)
		server.Mutex.Lock()
		start := args.SenderID < server.MyID && !server.ElectionActive
		if start {
			// mark now so a second challenger cannot start a second round
			server.ElectionActive = true
		}
		server.Mutex.Unlock()
		if start {
			go server.startElection()
		}
		result.Status = common.StatusOK
	case common.CoordinatorType:
		server.Mutex.Lock()
		server.Coordinator = args.SenderID
		server.ElectionActive = false
		server.persistCoordinator()
		server.Mutex.Unlock()
		log.Printf("%v: new coordinator recognized: %v\n", server.MyID, args.SenderID)
		result.Status = common.StatusAcknowledged
	default:
		result.Status = common.StatusIgnored
		result.Reason = "unknown election message type " + string(args.Type)
	}
	return nil
}

// persistCoordinator assumes that the caller has already acquired mutex.
func (server *Node) persistCoordinator() {
	if err := setCoordinator(server.PersistentStore, server.Coordinator); err != nil {
		log.Printf("%v: unable to persist coordinator: %+v\n", server.MyID, err)
	}
}
