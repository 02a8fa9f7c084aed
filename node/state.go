package node

import (
	"time"

	"github.com/sushantsondhi/dcoord/common"
)

type state struct {
	// These 2 variables are persisted
	Clock       int64
	Coordinator common.ProcessID

	// Ordering engine
	Queue     deliveryQueue
	AckCounts map[string]int
	AckDelay  time.Duration

	// Mutex client side
	MutexState common.MutexState

	// Mutex coordinator side, only meaningful while Coordinator == MyID
	CoordLocked bool
	CoordQueue  []common.ProcessID

	ElectionActive bool
}
