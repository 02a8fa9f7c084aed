package common

import (
	"errors"
	"fmt"
	"strings"
)

// MutexState is the client-side state of a node with respect to the
// shared resource.
type MutexState int

const (
	Released MutexState = iota
	Wanted
	Held
)

func (s MutexState) String() string {
	switch s {
	case Released:
		return "RELEASED"
	case Wanted:
		return "WANTED"
	case Held:
		return "HELD"
	}
	return fmt.Sprintf("MutexState(%d)", int(s))
}

func (s MutexState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MutexState) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "RELEASED":
		*s = Released
	case "WANTED":
		*s = Wanted
	case "HELD":
		*s = Held
	default:
		return fmt.Errorf("unknown mutex state %q", text)
	}
	return nil
}

var (
	ErrInvalidState           = errors.New("operation not allowed in current mutex state")
	ErrCoordinatorUnreachable = errors.New("coordinator unreachable, election triggered")
	ErrNotLeader              = errors.New("not leader")
	ErrDisconnected           = errors.New("disconnected")
)

// ReplyError converts an operator reply back into the error the node
// reported, so that callers on the far side of the transport can use
// errors.Is against the sentinels above.
func ReplyError(reply Reply) error {
	switch reply.Status {
	case StatusError:
		if reply.Reason == ErrInvalidState.Error() {
			return ErrInvalidState
		}
		return errors.New(reply.Reason)
	case StatusLeaderDead:
		return ErrCoordinatorUnreachable
	case StatusIgnored:
		if reply.Reason == ErrNotLeader.Error() {
			return ErrNotLeader
		}
	}
	return nil
}
