package node

import (
	"log"
	"sync"

	"github.com/sushantsondhi/dcoord/common"
)

type job struct {
	what string
	send func(peer common.RPCServer) error
}

// link carries broadcast traffic to one peer. Jobs are sent one at a time
// in the order they were queued, so everything this node multicasts or
// acknowledges reaches a given peer in FIFO order. The delivery rule
// depends on that: an ack from us for a message stamped T must not
// overtake a message we stamped before T.
type link struct {
	me   common.ProcessID
	peer common.RPCServer

	mutex sync.Mutex
	queue []job
	wake  chan struct{}
}

func newLink(me common.ProcessID, peer common.RPCServer) *link {
	return &link{
		me:   me,
		peer: peer,
		wake: make(chan struct{}, 1),
	}
}

// enqueue never blocks, so it is safe to call with the node mutex held.
func (l *link) enqueue(j job) {
	l.mutex.Lock()
	l.queue = append(l.queue, j)
	l.mutex.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *link) next() (job, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if len(l.queue) == 0 {
		return job{}, false
	}
	j := l.queue[0]
	l.queue[0] = job{}
	l.queue = l.queue[1:]
	return j, true
}

// run should run in a separate goroutine until stop is closed.
func (l *link) run(stop <-chan bool) {
	for {
		select {
		case <-stop:
			return
		case <-l.wake:
		}
		for {
			j, ok := l.next()
			if !ok {
				break
			}
			if err := j.send(l.peer); err != nil {
				log.Printf("%v: %s to %v failed: %+v\n", l.me, j.what, l.peer.GetID(), err)
			}
		}
	}
}
