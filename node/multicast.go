package node

import (
	"fmt"
	"log"
	"time"

	"github.com/sushantsondhi/dcoord/common"
)

func (server *Node) Initiate(args *common.InitiateRPC, result *common.Reply) error {
	if err := server.checkConnected(); err != nil {
		return err
	}
	msg := server.initiate(args.Content)
	result.Status = common.StatusOK
	result.MessageID = msg.ID
	return nil
}

// initiate stamps a new message with the next clock value and multicasts
// it to every node, ourselves included. Delivery happens asynchronously
// once every node has acknowledged it.
func (server *Node) initiate(content string) common.Message {
	server.Mutex.Lock()
	server.Clock++
	server.persistClock()
	msg := common.Message{
		ID:        fmt.Sprintf("%d-%d", server.MyID, server.Clock),
		Timestamp: server.Clock,
		SenderID:  server.MyID,
		Content:   content,
	}
	// queued before the mutex is released, so no ack we send later can
	// overtake it
	server.broadcast("multicast "+msg.ID, func(peer common.RPCServer) error {
		var reply common.Reply
		return peer.ReceiveMessage(&msg, &reply)
	})
	server.Mutex.Unlock()

	log.Printf("%v: multicasting message %s (ts=%d)\n", server.MyID, msg.ID, msg.Timestamp)
	return msg
}

func (server *Node) ReceiveMessage(args *common.Message, result *common.Reply) error {
	if err := server.checkConnected(); err != nil {
		return err
	}
	server.receiveMessage(*args)
	result.Status = common.StatusOK
	return nil
}

func (server *Node) receiveMessage(msg common.Message) {
	server.Mutex.Lock()
	if msg.Timestamp > server.Clock {
		server.Clock = msg.Timestamp
	}
	server.Clock++
	server.persistClock()
	server.Queue = server.Queue.push(msg)
	// the delay is one-shot: whoever receives next consumes it
	delay := server.AckDelay
	server.AckDelay = 0
	server.Mutex.Unlock()

	if delay > 0 {
		log.Printf("%v: delaying ack of %s by %v\n", server.MyID, msg.ID, delay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-server.StopChan:
			timer.Stop()
			return
		}
	}

	ack := common.Ack{MessageID: msg.ID, SenderID: server.MyID}
	server.broadcast("ack "+msg.ID, func(peer common.RPCServer) error {
		var reply common.Reply
		return peer.ReceiveAck(&ack, &reply)
	})
}

func (server *Node) ReceiveAck(args *common.Ack, result *common.Reply) error {
	if err := server.checkConnected(); err != nil {
		return err
	}
	server.Mutex.Lock()
	defer server.Mutex.Unlock()
	server.AckCounts[args.MessageID]++
	server.checkDelivery()
	result.Status = common.StatusOK
	return nil
}

// checkDelivery delivers queued messages for as long as the head of the
// queue has been acknowledged by every node. It assumes that the caller
// has already acquired mutex.
func (server *Node) checkDelivery() {
	for {
		head, ok := server.Queue.head()
		if !ok || server.AckCounts[head.ID] < server.ClusterSize {
			return
		}
		server.Queue = server.Queue.pop()
		delete(server.AckCounts, head.ID)
		server.deliver(head)
	}
}

func (server *Node) deliver(msg common.Message) {
	log.Printf("%v: DELIVERED %q (origin %v, ts=%d)\n", server.MyID, msg.Content, msg.SenderID, msg.Timestamp)
	if _, err := server.DeliveryLog.Append(msg); err != nil {
		log.Printf("%v: unable to record delivery of %s: %+v\n", server.MyID, msg.ID, err)
	}
}

func (server *Node) SetDelay(args *common.DelayRPC, result *common.Reply) error {
	if err := server.checkConnected(); err != nil {
		return err
	}
	server.Mutex.Lock()
	defer server.Mutex.Unlock()
	server.AckDelay = args.Delay
	log.Printf("%v: next ack will be delayed by %v\n", server.MyID, args.Delay)
	if args.Delay >= server.CallTimeout {
		// the delay is slept inside the ReceiveMessage handler
		log.Printf("%v: delay reaches the %v call timeout, the sender of the next message will log its send to us as failed although it arrives\n",
			server.MyID, server.CallTimeout)
	}
	result.Status = common.StatusOK
	return nil
}

// persistClock assumes that the caller has already acquired mutex.
func (server *Node) persistClock() {
	if err := setClock(server.PersistentStore, server.Clock); err != nil {
		log.Printf("%v: unable to persist clock: %+v\n", server.MyID, err)
	}
}
