package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sushantsondhi/dcoord/common"
)

func request(t *testing.T, node *Node) common.Reply {
	var reply common.Reply
	require.NoError(t, node.RequestResource(&common.OperatorRPC{Origin: "test"}, &reply))
	return reply
}

func release(t *testing.T, node *Node) common.Reply {
	var reply common.Reply
	require.NoError(t, node.ReleaseResource(&common.OperatorRPC{Origin: "test"}, &reply))
	return reply
}

func mutexState(node *Node) common.MutexState {
	return node.Status().MutexState
}

func Test_MutualExclusion(t *testing.T) {
	_, nodes := makeCluster(t, 3)
	coordinator := nodes[2]

	reply := request(t, nodes[0])
	assert.Equal(t, common.StatusRequestSent, reply.Status)
	assert.Equal(t, common.Wanted, reply.State)
	require.Eventually(t, func() bool { return mutexState(nodes[0]) == common.Held }, waitFor, tick)

	reply = request(t, nodes[1])
	assert.Equal(t, common.StatusRequestSent, reply.Status)
	assert.Equal(t, common.Wanted, mutexState(nodes[1]))
	assert.Equal(t, []common.ProcessID{1}, coordinator.Status().Waiting)
	assert.True(t, coordinator.Status().CoordinatorLocked)

	reply = release(t, nodes[0])
	assert.Equal(t, common.StatusReleased, reply.Status)
	assert.Equal(t, common.Released, mutexState(nodes[0]))
	require.Eventually(t, func() bool { return mutexState(nodes[1]) == common.Held }, waitFor, tick)

	// ownership was handed over, so the lock never went free
	status := coordinator.Status()
	assert.True(t, status.CoordinatorLocked)
	assert.Empty(t, status.Waiting)

	release(t, nodes[1])
	require.Eventually(t, func() bool { return !coordinator.Status().CoordinatorLocked }, waitFor, tick)
}

func Test_CoordinatorCanRequestFromItself(t *testing.T) {
	_, nodes := makeCluster(t, 3)
	reply := request(t, nodes[2])
	assert.Equal(t, common.StatusRequestSent, reply.Status)
	require.Eventually(t, func() bool { return mutexState(nodes[2]) == common.Held }, waitFor, tick)

	release(t, nodes[2])
	require.Eventually(t, func() bool { return !nodes[2].Status().CoordinatorLocked }, waitFor, tick)
}

func Test_WaitersAreServedInArrivalOrder(t *testing.T) {
	_, nodes := makeCluster(t, 4)
	coordinator := nodes[3]

	request(t, nodes[0])
	require.Eventually(t, func() bool { return mutexState(nodes[0]) == common.Held }, waitFor, tick)
	request(t, nodes[2])
	request(t, nodes[1])
	request(t, nodes[3])
	assert.Equal(t, []common.ProcessID{2, 1, 3}, coordinator.Status().Waiting)

	holder := nodes[0]
	for _, next := range []*Node{nodes[2], nodes[1], nodes[3]} {
		release(t, holder)
		next := next
		require.Eventually(t, func() bool { return mutexState(next) == common.Held }, waitFor, tick)
		// nobody else holds it at the same time
		held := 0
		for _, node := range nodes {
			if mutexState(node) == common.Held {
				held++
			}
		}
		assert.Equal(t, 1, held)
		holder = next
	}
}

func Test_ReleaseWithoutHolding(t *testing.T) {
	_, nodes := makeCluster(t, 3)

	reply := release(t, nodes[0])
	assert.Equal(t, common.StatusError, reply.Status)
	assert.Equal(t, common.ErrInvalidState.Error(), reply.Reason)
	assert.Equal(t, common.Released, reply.State)
	assert.ErrorIs(t, common.ReplyError(reply), common.ErrInvalidState)

	// WANTED is not HELD either
	request(t, nodes[0])
	request(t, nodes[1])
	reply = release(t, nodes[1])
	assert.Equal(t, common.StatusError, reply.Status)
	assert.Equal(t, common.Wanted, reply.State)
}

func Test_RequestWhileHolding(t *testing.T) {
	_, nodes := makeCluster(t, 3)
	request(t, nodes[0])
	require.Eventually(t, func() bool { return mutexState(nodes[0]) == common.Held }, waitFor, tick)

	reply := request(t, nodes[0])
	assert.Equal(t, common.StatusError, reply.Status)
	assert.Equal(t, common.Held, reply.State)
	assert.Equal(t, common.Held, mutexState(nodes[0]))
	assert.Empty(t, nodes[2].Status().Waiting)
}

func Test_NonCoordinatorIgnoresMutexTraffic(t *testing.T) {
	_, nodes := makeCluster(t, 3)

	var reply common.Reply
	require.NoError(t, nodes[0].ReceiveMutexRequest(&common.MutexRPC{SenderID: 1}, &reply))
	assert.Equal(t, common.StatusIgnored, reply.Status)
	assert.ErrorIs(t, common.ReplyError(reply), common.ErrNotLeader)

	reply = common.Reply{}
	require.NoError(t, nodes[1].ReceiveRelease(&common.MutexRPC{SenderID: 0}, &reply))
	assert.Equal(t, common.StatusIgnored, reply.Status)

	status := nodes[0].Status()
	assert.False(t, status.CoordinatorLocked)
	assert.Empty(t, status.Waiting)
}

func Test_StaleGrantIsIgnored(t *testing.T) {
	_, nodes := makeCluster(t, 3)
	var reply common.Reply
	require.NoError(t, nodes[0].ReceiveGrant(&common.MutexRPC{SenderID: 2}, &reply))
	assert.Equal(t, common.StatusGranted, reply.Status)
	assert.Equal(t, common.Released, reply.State)
	assert.Equal(t, common.Released, mutexState(nodes[0]))
}
