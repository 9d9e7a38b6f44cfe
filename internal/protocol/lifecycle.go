package protocol

import (
	"fmt"
	"strings"

	"github.com/ent0n29/phoneagent/internal/session"
)

// CallStart signals that the transport connected a new call.
type CallStart struct {
	CallID    string            `json:"call_id"`
	Direction session.Direction `json:"direction"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
}

func (c CallStart) Validate() error {
	if strings.TrimSpace(c.CallID) == "" {
		return fmt.Errorf("%w: call start without call id", ErrValidationFailed)
	}
	if c.Direction != session.DirectionInbound && c.Direction != session.DirectionOutbound {
		return fmt.Errorf("%w: direction %q", ErrValidationFailed, c.Direction)
	}
	return nil
}

// End reasons reported by the transport and the controller.
const (
	EndReasonHangup      = "hangup"
	EndReasonStreamStop  = "stream_stopped"
	EndReasonDisconnect  = "transport_disconnect"
	EndReasonInactivity  = "inactivity"
	EndReasonAgentEnded  = "agent_ended"
	EndReasonTransferred = "transferred"
	EndReasonShutdown    = "shutdown"
)

// CallEnd signals that the call is over.
type CallEnd struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
}

func (c CallEnd) Validate() error {
	if strings.TrimSpace(c.CallID) == "" {
		return fmt.Errorf("%w: call end without call id", ErrValidationFailed)
	}
	return nil
}
