package node

import (
	"github.com/sushantsondhi/dcoord/common"
	"golang.org/x/exp/slices"
)

// deliveryQueue holds received but not yet delivered messages, always
// sorted by (Timestamp, SenderID). Every node uses the same order, which
// is what makes the delivery sequence identical cluster-wide.
type deliveryQueue []common.Message

func compareMessages(a, b common.Message) int {
	switch {
	case a.Timestamp < b.Timestamp:
		return -1
	case a.Timestamp > b.Timestamp:
		return 1
	case a.SenderID < b.SenderID:
		return -1
	case a.SenderID > b.SenderID:
		return 1
	}
	return 0
}

func (q deliveryQueue) push(msg common.Message) deliveryQueue {
	i, _ := slices.BinarySearchFunc(q, msg, compareMessages)
	return slices.Insert(q, i, msg)
}

func (q deliveryQueue) head() (common.Message, bool) {
	if len(q) == 0 {
		return common.Message{}, false
	}
	return q[0], true
}

func (q deliveryQueue) pop() deliveryQueue {
	return slices.Delete(q, 0, 1)
}
