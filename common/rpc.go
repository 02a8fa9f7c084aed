package common

import (
	"time"

	"github.com/google/uuid"
)

// Message is one totally-ordered multicast message. It is immutable once
// created by its originator.
type Message struct {
	ID        string
	Timestamp int64
	SenderID  ProcessID
	Content   string
}

type Ack struct {
	MessageID string
	SenderID  ProcessID
}

// MutexRPC carries Mutex-Request, Mutex-Grant and Mutex-Release.
// For a grant SenderID is always the granting coordinator.
type MutexRPC struct {
	SenderID ProcessID
}

type ElectionType string

const (
	Election        ElectionType = "ELECTION"
	CoordinatorType ElectionType = "COORDINATOR"
)

type ElectionRPC struct {
	Type     ElectionType
	SenderID ProcessID
}

type InitiateRPC struct {
	Content string
}

type DelayRPC struct {
	Delay time.Duration
}

type DeliveredRPC struct {
	From int64
}

type DeliveredRPCResult struct {
	Messages []Message
}

// OperatorRPC is the argument of operator calls that need no payload.
// Origin names the caller (cli, http, ...) and only shows up in logs.
type OperatorRPC struct {
	Origin string
}

// Reply is the generic answer to every protocol and operator RPC.
type Reply struct {
	Status string
	// Reason will be non-empty for ignored or failed requests
	Reason string
	// Action names a side effect taken on behalf of the caller (election_started)
	Action    string
	State     MutexState
	MessageID string
}

const (
	StatusOK              = "ok"
	StatusReceived        = "received"
	StatusGranted         = "granted"
	StatusReleased        = "released"
	StatusRequestSent     = "request_sent"
	StatusLeaderDead      = "leader_dead"
	StatusIgnored         = "ignored"
	StatusAcknowledged    = "acknowledged"
	StatusElectionStarted = "election_started"
	StatusError           = "error"
)

type Status struct {
	ID                ProcessID
	Incarnation       uuid.UUID
	Coordinator       ProcessID
	MutexState        MutexState
	Clock             int64
	ElectionActive    bool
	Pending           int
	CoordinatorLocked bool
	Waiting           []ProcessID
	Delivered         int64
}
