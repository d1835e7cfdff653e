package channel

import (
	"fmt"
	"strings"

	"statechan/native/rewards"
)

const (
	// MinParticipants and MaxParticipants bound the participant set. The
	// upper bound matches the fixed-size persisted layout of ten slots.
	MinParticipants = 1
	MaxParticipants = 10
	// MaxSignatures bounds the stored signature set alongside the
	// participant slots.
	MaxSignatures = MaxParticipants
	// SignatureLength is the recoverable secp256k1 signature size.
	SignatureLength = 65
	// MaxEvidenceBytes caps the evidence attached to a challenge.
	MaxEvidenceBytes = 1024
	// MaxNonce is an explicit anti-overflow ceiling on accepted nonces,
	// not a natural protocol limit. It blocks crafted-nonce griefing.
	MaxNonce = 1_000_000
	// DefaultDisputePeriod is the window after the last update during
	// which a challenge may be raised.
	DefaultDisputePeriod int64 = 24 * 60 * 60
)

// ChannelStatus represents the lifecycle states of a state channel.
type ChannelStatus uint8

const (
	// StatusPendingActivation applies to enhanced channels between
	// creation and the explicit Activate step.
	StatusPendingActivation ChannelStatus = iota
	StatusActive
	StatusDisputed
	StatusSettled
	StatusClosed
)

// Valid reports whether the status value is within the supported range.
func (s ChannelStatus) Valid() bool {
	switch s {
	case StatusPendingActivation, StatusActive, StatusDisputed, StatusSettled, StatusClosed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s ChannelStatus) Terminal() bool {
	return s == StatusSettled || s == StatusClosed
}

func (s ChannelStatus) String() string {
	switch s {
	case StatusPendingActivation:
		return "pending_activation"
	case StatusActive:
		return "active"
	case StatusDisputed:
		return "disputed"
	case StatusSettled:
		return "settled"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// DisputeKind classifies the misbehaviour a challenge alleges.
type DisputeKind string

const (
	DisputeInvalidStateTransition DisputeKind = "INVALID_STATE_TRANSITION"
	DisputeDoubleSpending         DisputeKind = "DOUBLE_SPENDING"
	DisputeUnauthorizedOperation  DisputeKind = "UNAUTHORIZED_OPERATION"
	DisputeTimeoutViolation       DisputeKind = "TIMEOUT_VIOLATION"
	DisputeBalanceInconsistency   DisputeKind = "BALANCE_INCONSISTENCY"
)

var validDisputeKinds = map[DisputeKind]struct{}{
	DisputeInvalidStateTransition: {},
	DisputeDoubleSpending:         {},
	DisputeUnauthorizedOperation:  {},
	DisputeTimeoutViolation:       {},
	DisputeBalanceInconsistency:   {},
}

// ParseDisputeKind normalises a caller-supplied dispute kind.
func ParseDisputeKind(value string) (DisputeKind, error) {
	upper := DisputeKind(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := validDisputeKinds[upper]; !ok {
		return "", fmt.Errorf("unknown dispute kind %q", value)
	}
	return upper, nil
}

// Valid reports whether the kind is a supported dispute classification.
func (k DisputeKind) Valid() bool {
	_, ok := validDisputeKinds[k]
	return ok
}

// Terminal reports whether a proven dispute of this kind closes the channel
// instead of reactivating it.
func (k DisputeKind) Terminal() bool {
	return k == DisputeDoubleSpending
}

// DisputeInfo captures an open challenge. At most one exists per channel; it
// is destroyed on resolution.
type DisputeInfo struct {
	Challenger         [20]byte    `json:"challenger"`
	DisputedStateHash  [32]byte    `json:"disputedStateHash"`
	Evidence           []byte      `json:"evidence"`
	Kind               DisputeKind `json:"kind"`
	ChallengeTimestamp int64       `json:"challengeTimestamp"`
}

// Clone returns a deep copy of the dispute record.
func (d *DisputeInfo) Clone() *DisputeInfo {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Evidence = append([]byte(nil), d.Evidence...)
	return &clone
}

// Channel is the channel-scoped aggregate. The identifier and participant
// set are immutable after creation; nonce, state hash and signatures are
// replaced wholesale on each accepted update.
type Channel struct {
	ID               [32]byte      `json:"id"`
	Participants     [][20]byte    `json:"participants"`
	Nonce            uint64        `json:"nonce"`
	StateHash        [32]byte      `json:"stateHash"`
	Signatures       [][]byte      `json:"signatures"`
	Timeout          int64         `json:"timeout"`
	DisputePeriod    int64         `json:"disputePeriod"`
	LastUpdate       int64         `json:"lastUpdate"`
	CreatedAt        int64         `json:"createdAt"`
	Status           ChannelStatus `json:"status"`
	SettlementAmount uint64        `json:"settlementAmount"`
	Dispute          *DisputeInfo  `json:"dispute,omitempty"`
}

// Active reports whether the channel accepts updates and challenges.
func (c *Channel) Active() bool {
	return c != nil && c.Status == StatusActive
}

// IsParticipant reports whether addr belongs to the channel's participant
// set.
func (c *Channel) IsParticipant(addr [20]byte) bool {
	if c == nil {
		return false
	}
	for _, p := range c.Participants {
		if p == addr {
			return true
		}
	}
	return false
}

// Threshold returns the strict-majority signature count required to accept
// an update.
func (c *Channel) Threshold() int {
	if c == nil {
		return 0
	}
	return QuorumThreshold(len(c.Participants))
}

// Clone returns a deep copy of the channel so callers can safely mutate the
// copy without affecting the stored instance.
func (c *Channel) Clone() *Channel {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Participants = make([][20]byte, len(c.Participants))
	copy(clone.Participants, c.Participants)
	clone.Signatures = make([][]byte, len(c.Signatures))
	for i, sig := range c.Signatures {
		clone.Signatures[i] = append([]byte(nil), sig...)
	}
	clone.Dispute = c.Dispute.Clone()
	return &clone
}

// StateUpdate is the payload submitted to advance a channel by one nonce.
type StateUpdate struct {
	ChannelID [32]byte                    `json:"channelId"`
	Nonce     uint64                      `json:"nonce"`
	StateHash [32]byte                    `json:"stateHash"`
	Payload   []rewards.RewardCalculation `json:"payload,omitempty"`
}

// SanitizeChannel validates structural invariants of a channel record and
// returns a defensive clone. Used by state backends before persisting.
func SanitizeChannel(c *Channel) (*Channel, error) {
	if c == nil {
		return nil, fmt.Errorf("nil channel")
	}
	if len(c.Participants) < MinParticipants || len(c.Participants) > MaxParticipants {
		return nil, fmt.Errorf("participant count %d out of range", len(c.Participants))
	}
	if len(c.Signatures) > MaxSignatures {
		return nil, fmt.Errorf("signature count %d exceeds %d", len(c.Signatures), MaxSignatures)
	}
	for _, sig := range c.Signatures {
		if len(sig) != SignatureLength {
			return nil, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
		}
	}
	if !c.Status.Valid() {
		return nil, fmt.Errorf("invalid channel status: %d", c.Status)
	}
	if c.Dispute != nil {
		if len(c.Dispute.Evidence) > MaxEvidenceBytes {
			return nil, fmt.Errorf("dispute evidence exceeds %d bytes", MaxEvidenceBytes)
		}
		if !c.Dispute.Kind.Valid() {
			return nil, fmt.Errorf("invalid dispute kind %q", c.Dispute.Kind)
		}
	}
	return c.Clone(), nil
}
