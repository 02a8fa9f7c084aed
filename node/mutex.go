package node

import (
	"errors"
	"fmt"
	"log"

	"github.com/sushantsondhi/dcoord/common"
)

func (server *Node) RequestResource(args *common.OperatorRPC, result *common.Reply) error {
	if err := server.checkConnected(); err != nil {
		return err
	}
	log.Printf("%v: resource requested (origin %q)\n", server.MyID, args.Origin)
	err := server.requestResource()
	switch {
	case err == nil:
		result.Status = common.StatusRequestSent
		result.State = common.Wanted
	case errors.Is(err, common.ErrCoordinatorUnreachable):
		result.Status = common.StatusLeaderDead
		result.Action = common.StatusElectionStarted
		result.State = common.Wanted
	default:
		result.Status = common.StatusError
		result.Reason = err.Error()
		result.State = server.Status().MutexState
	}
	return nil
}

// requestResource asks the coordinator we currently believe in for the
// resource. A node already WANTED may ask again (e.g. after the coordinator
// it asked first has crashed); a node that holds the resource may not.
// If the coordinator cannot be reached an election is started and
// ErrCoordinatorUnreachable is returned; the node stays WANTED.
func (server *Node) requestResource() error {
	server.Mutex.Lock()
	if server.MutexState == common.Held {
		server.Mutex.Unlock()
		return common.ErrInvalidState
	}
	server.MutexState = common.Wanted
	leader := server.Coordinator
	server.Mutex.Unlock()

	log.Printf("%v: asking coordinator %v for the resource\n", server.MyID, leader)
	peer, ok := server.peer(leader)
	if !ok {
		return fmt.Errorf("unknown coordinator %v", leader)
	}
	var reply common.Reply
	if err := peer.ReceiveMutexRequest(&common.MutexRPC{SenderID: server.MyID}, &reply); err != nil {
		log.Printf("%v: coordinator %v did not answer (%v), starting election\n", server.MyID, leader, err)
		go server.startElection()
		return fmt.Errorf("%w: %v", common.ErrCoordinatorUnreachable, err)
	}
	if reply.Status == common.StatusIgnored {
		log.Printf("%v: %v ignored our request: %s\n", server.MyID, leader, reply.Reason)
	}
	return nil
}

func (server *Node) ReceiveGrant(args *common.MutexRPC, result *common.Reply) error {
	if err := server.checkConnected(); err != nil {
		return err
	}
	server.Mutex.Lock()
	defer server.Mutex.Unlock()
	if server.MutexState == common.Wanted {
		server.MutexState = common.Held
		log.Printf("%v: *** ACCESS GRANTED by coordinator %v ***\n", server.MyID, args.SenderID)
	} else {
		log.Printf("%v: ignoring stale grant from %v (state %v)\n", server.MyID, args.SenderID, server.MutexState)
	}
	result.Status = common.StatusGranted
	result.State = server.MutexState
	return nil
}

func (server *Node) ReleaseResource(args *common.OperatorRPC, result *common.Reply) error {
	if err := server.checkConnected(); err != nil {
		return err
	}
	if err := server.releaseResource(); err != nil {
		result.Status = common.StatusError
		result.Reason = err.Error()
		result.State = server.Status().MutexState
		return nil
	}
	result.Status = common.StatusReleased
	result.State = common.Released
	return nil
}

// releaseResource gives the resource back and notifies the coordinator
// without waiting for (or retrying) the notification.
func (server *Node) releaseResource() error {
	server.Mutex.Lock()
	if server.MutexState != common.Held {
		server.Mutex.Unlock()
		return common.ErrInvalidState
	}
	server.MutexState = common.Released
	leader := server.Coordinator
	server.Mutex.Unlock()

	log.Printf("%v: releasing resource to coordinator %v\n", server.MyID, leader)
	peer, ok := server.peer(leader)
	if !ok {
		log.Printf("%v: unknown coordinator %v, release not sent\n", server.MyID, leader)
		return nil
	}
	go func() {
		var reply common.Reply
		if err := peer.ReceiveRelease(&common.MutexRPC{SenderID: server.MyID}, &reply); err != nil {
			log.Printf("%v: release to %v failed: %+v\n", server.MyID, leader, err)
		}
	}()
	return nil
}

func (server *Node) ReceiveMutexRequest(args *common.MutexRPC, result *common.Reply) error {
	if err := server.checkConnected(); err != nil {
		return err
	}
	server.Mutex.Lock()
	if server.Coordinator != server.MyID {
		server.Mutex.Unlock()
		result.Status = common.StatusIgnored
		result.Reason = common.ErrNotLeader.Error()
		return nil
	}
	log.Printf("%v: received request from %v\n", server.MyID, args.SenderID)
	grant := false
	if !server.CoordLocked {
		server.CoordLocked = true
		grant = true
	} else {
		log.Printf("%v: busy, queueing %v\n", server.MyID, args.SenderID)
		server.CoordQueue = append(server.CoordQueue, args.SenderID)
	}
	server.Mutex.Unlock()

	if grant {
		server.sendGrant(args.SenderID)
	}
	result.Status = common.StatusReceived
	return nil
}

func (server *Node) ReceiveRelease(args *common.MutexRPC, result *common.Reply) error {
	if err := server.checkConnected(); err != nil {
		return err
	}
	server.Mutex.Lock()
	if server.Coordinator != server.MyID {
		server.Mutex.Unlock()
		result.Status = common.StatusIgnored
		result.Reason = common.ErrNotLeader.Error()
		return nil
	}
	log.Printf("%v: resource released by %v\n", server.MyID, args.SenderID)
	var next common.ProcessID
	grant := false
	if len(server.CoordQueue) > 0 {
		// ownership moves straight to the next waiter, the lock stays taken
		next = server.CoordQueue[0]
		server.CoordQueue = server.CoordQueue[1:]
		grant = true
	} else {
		log.Printf("%v: resource is free\n", server.MyID)
		server.CoordLocked = false
	}
	server.Mutex.Unlock()

	if grant {
		server.sendGrant(next)
	}
	result.Status = common.StatusOK
	return nil
}

// sendGrant must be called without holding the mutex: the target may be
// ourselves.
func (server *Node) sendGrant(target common.ProcessID) {
	log.Printf("%v: granting access to %v\n", server.MyID, target)
	peer, ok := server.peer(target)
	if !ok {
		log.Printf("%v: unknown process %v, grant dropped\n", server.MyID, target)
		return
	}
	var reply common.Reply
	if err := peer.ReceiveGrant(&common.MutexRPC{SenderID: server.MyID}, &reply); err != nil {
		log.Printf("%v: grant to %v failed: %+v\n", server.MyID, target, err)
	}
}
