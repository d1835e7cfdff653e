package channel

import (
	"encoding/hex"
	"strconv"

	"statechan/core/types"
)

const (
	EventTypeChannelOpened     = "channel.opened"
	EventTypeChannelActivated  = "channel.activated"
	EventTypeChannelUpdated    = "channel.updated"
	EventTypeChannelChallenged = "channel.challenged"
	EventTypeChannelSettled    = "channel.settled"
	EventTypeOperationPending  = "channel.operation.pending"
	EventTypeOperationApplied  = "channel.operation.applied"
)

type channelEvent struct {
	evt *types.Event
}

func (e channelEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e channelEvent) Event() *types.Event { return e.evt }

func baseAttributes(c *Channel) map[string]string {
	return map[string]string{
		"id":           hex.EncodeToString(c.ID[:]),
		"nonce":        strconv.FormatUint(c.Nonce, 10),
		"stateHash":    hex.EncodeToString(c.StateHash[:]),
		"status":       c.Status.String(),
		"participants": strconv.Itoa(len(c.Participants)),
	}
}

// NewOpenedEvent returns the canonical payload for a newly opened channel.
func NewOpenedEvent(c *Channel) *types.Event {
	return &types.Event{Type: EventTypeChannelOpened, Attributes: baseAttributes(c)}
}

// NewActivatedEvent returns the payload emitted when an enhanced channel is
// activated.
func NewActivatedEvent(c *Channel) *types.Event {
	return &types.Event{Type: EventTypeChannelActivated, Attributes: baseAttributes(c)}
}

// NewUpdatedEvent returns the payload for an accepted state update.
func NewUpdatedEvent(c *Channel) *types.Event {
	attrs := baseAttributes(c)
	attrs["signatures"] = strconv.Itoa(len(c.Signatures))
	return &types.Event{Type: EventTypeChannelUpdated, Attributes: attrs}
}

// NewChallengedEvent returns the payload emitted when a challenge suspends
// the channel.
func NewChallengedEvent(c *Channel) *types.Event {
	attrs := baseAttributes(c)
	if c.Dispute != nil {
		attrs["challenger"] = hex.EncodeToString(c.Dispute.Challenger[:])
		attrs["disputedStateHash"] = hex.EncodeToString(c.Dispute.DisputedStateHash[:])
		attrs["kind"] = string(c.Dispute.Kind)
	}
	return &types.Event{Type: EventTypeChannelChallenged, Attributes: attrs}
}

// NewSettledEvent returns the payload for a finalised channel.
func NewSettledEvent(c *Channel) *types.Event {
	attrs := baseAttributes(c)
	attrs["settlementAmount"] = strconv.FormatUint(c.SettlementAmount, 10)
	return &types.Event{Type: EventTypeChannelSettled, Attributes: attrs}
}

// NewOperationPendingEvent returns the payload for a queued pending
// operation.
func NewOperationPendingEvent(c *Channel, op *PendingOperation) *types.Event {
	attrs := baseAttributes(c)
	attrs["operationId"] = op.ID
	attrs["operationKind"] = string(op.Op.Kind)
	attrs["required"] = strconv.Itoa(len(op.Participants))
	return &types.Event{Type: EventTypeOperationPending, Attributes: attrs}
}

// NewOperationAppliedEvent returns the payload emitted once a pending
// operation gathers its confirmations and is applied to the ledger.
func NewOperationAppliedEvent(c *Channel, op *PendingOperation) *types.Event {
	attrs := baseAttributes(c)
	attrs["operationId"] = op.ID
	attrs["operationKind"] = string(op.Op.Kind)
	attrs["confirmations"] = strconv.Itoa(len(op.Confirmations))
	return &types.Event{Type: EventTypeOperationApplied, Attributes: attrs}
}
