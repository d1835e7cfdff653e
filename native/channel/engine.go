package channel

import (
	"bytes"
	"fmt"
	"time"

	"statechan/core/events"
	"statechan/native/rewards"
)

type engineState interface {
	ChannelPut(*Channel) error
	ChannelGet(id [32]byte) (*Channel, bool)
	EnhancedPut(*EnhancedChannel) error
	EnhancedGet(id [32]byte) (*EnhancedChannel, bool)
}

// Engine owns the channel state machine: open, nonce-ordered updates,
// challenges and optimistic settlement. All mutating calls validate fully
// before touching stored state, so a failed call leaves the channel
// byte-for-byte unchanged. Serialisation of concurrent mutations on a single
// channel is the caller's responsibility; the nonce acts as the
// compare-and-swap token.
type Engine struct {
	state         engineState
	emitter       events.Emitter
	nowFn         func() int64
	disputePeriod int64
}

// NewEngine creates a channel engine with a no-op emitter and the default
// 24h dispute period. Callers can override both via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
		disputePeriod: DefaultDisputePeriod,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetDisputePeriod overrides the dispute window applied to newly opened
// channels.
func (e *Engine) SetDisputePeriod(seconds int64) {
	if seconds > 0 {
		e.disputePeriod = seconds
	}
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadChannel(id [32]byte) (*Channel, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ch, ok := e.state.ChannelGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return ch, nil
}

func validateParticipants(participants [][20]byte) error {
	if len(participants) < MinParticipants || len(participants) > MaxParticipants {
		return fmt.Errorf("%w: participant count %d out of range [%d,%d]", ErrValidation, len(participants), MinParticipants, MaxParticipants)
	}
	seen := make(map[[20]byte]struct{}, len(participants))
	for _, p := range participants {
		if _, dup := seen[p]; dup {
			return fmt.Errorf("%w: duplicate participant", ErrValidation)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// Open initialises and persists a basic channel. The channel is active
// immediately, with nonce zero and an all-zero state hash.
func (e *Engine) Open(id [32]byte, participants [][20]byte, timeoutSeconds uint64) (*Channel, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := validateParticipants(participants); err != nil {
		return nil, err
	}
	if _, exists := e.state.ChannelGet(id); exists {
		return nil, fmt.Errorf("%w: channel already exists", ErrState)
	}
	now := e.now()
	ch := &Channel{
		ID:            id,
		Participants:  append([][20]byte(nil), participants...),
		Nonce:         0,
		Timeout:       now + int64(timeoutSeconds),
		DisputePeriod: e.disputePeriod,
		LastUpdate:    now,
		CreatedAt:     now,
		Status:        StatusActive,
	}
	if err := e.state.ChannelPut(ch); err != nil {
		return nil, err
	}
	e.emit(channelEvent{evt: NewOpenedEvent(ch)})
	return ch.Clone(), nil
}

// Get returns a defensive copy of the stored channel.
func (e *Engine) Get(id [32]byte) (*Channel, error) {
	ch, err := e.loadChannel(id)
	if err != nil {
		return nil, err
	}
	return ch.Clone(), nil
}

// UpdateState advances the channel by exactly one nonce, replacing the state
// hash and signature set wholesale. The update must carry a strict majority
// of distinct valid participant signatures over the update digest.
func (e *Engine) UpdateState(id [32]byte, update StateUpdate, signatures [][]byte) (*Channel, error) {
	ch, err := e.loadChannel(id)
	if err != nil {
		return nil, err
	}
	if update.ChannelID != id {
		return nil, fmt.Errorf("%w: update channel id does not match", ErrValidation)
	}
	if ch.Status == StatusDisputed {
		return nil, fmt.Errorf("%w: channel suspended by open dispute", ErrState)
	}
	if !ch.Active() {
		return nil, fmt.Errorf("%w: channel is not active", ErrState)
	}
	if update.Nonce != ch.Nonce+1 {
		return nil, fmt.Errorf("%w: nonce %d does not follow %d", ErrValidation, update.Nonce, ch.Nonce)
	}
	if update.Nonce > MaxNonce {
		return nil, fmt.Errorf("%w: nonce %d exceeds ceiling %d", ErrValidation, update.Nonce, MaxNonce)
	}
	if len(update.Payload) > 0 {
		if rewards.StateHash(update.Payload) != update.StateHash {
			return nil, fmt.Errorf("%w: payload does not hash to the submitted state hash", ErrValidation)
		}
	}
	if len(signatures) > MaxSignatures {
		return nil, fmt.Errorf("%w: signature count %d exceeds %d", ErrValidation, len(signatures), MaxSignatures)
	}
	digest := UpdateDigest(id, update.Nonce, update.StateHash)
	if !VerifyQuorum(ch.Participants, digest, signatures) {
		return nil, fmt.Errorf("%w: have %d of %d required signers", ErrThresholdNotMet,
			CountValidSigners(ch.Participants, digest, signatures), ch.Threshold())
	}
	next := ch.Clone()
	next.Nonce = update.Nonce
	next.StateHash = update.StateHash
	next.Signatures = make([][]byte, len(signatures))
	for i, sig := range signatures {
		next.Signatures[i] = append([]byte(nil), sig...)
	}
	next.LastUpdate = e.now()
	if err := e.state.ChannelPut(next); err != nil {
		return nil, err
	}
	e.emit(channelEvent{evt: NewUpdatedEvent(next)})
	return next.Clone(), nil
}

// Challenge suspends the channel and records the dispute. Only a current
// participant may challenge, only within the dispute window after the last
// update, and only while no other dispute is open.
func (e *Engine) Challenge(id [32]byte, challenger [20]byte, disputedStateHash [32]byte, kind DisputeKind, evidence []byte) (*Channel, error) {
	ch, err := e.loadChannel(id)
	if err != nil {
		return nil, err
	}
	if !ch.IsParticipant(challenger) {
		return nil, fmt.Errorf("%w: challenger is not a participant", ErrUnauthorized)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown dispute kind %q", ErrValidation, kind)
	}
	if len(evidence) > MaxEvidenceBytes {
		return nil, fmt.Errorf("%w: evidence exceeds %d bytes", ErrValidation, MaxEvidenceBytes)
	}
	if ch.Dispute != nil {
		return nil, fmt.Errorf("%w: dispute already open", ErrState)
	}
	if !ch.Active() {
		return nil, fmt.Errorf("%w: channel is not active", ErrState)
	}
	now := e.now()
	if now > ch.LastUpdate+ch.DisputePeriod {
		return nil, fmt.Errorf("%w: dispute window elapsed", ErrTiming)
	}
	next := ch.Clone()
	next.Status = StatusDisputed
	next.Dispute = &DisputeInfo{
		Challenger:         challenger,
		DisputedStateHash:  disputedStateHash,
		Evidence:           append([]byte(nil), evidence...),
		Kind:               kind,
		ChallengeTimestamp: now,
	}
	if err := e.state.ChannelPut(next); err != nil {
		return nil, err
	}
	e.emit(channelEvent{evt: NewChallengedEvent(next)})
	return next.Clone(), nil
}

// Settle finalises the channel after its timeout has elapsed with no open
// dispute. The supplied calculations must reconstruct the committed state
// hash; the settlement amount is their reward sum. Whether that amount is
// covered by the reward pool is the treasury's concern, not the channel's.
func (e *Engine) Settle(id [32]byte, finalCalculations []rewards.RewardCalculation) (*Channel, error) {
	ch, err := e.loadChannel(id)
	if err != nil {
		return nil, err
	}
	if ch.Status.Terminal() {
		return nil, fmt.Errorf("%w: channel already finalised", ErrState)
	}
	if ch.Dispute != nil {
		return nil, fmt.Errorf("%w: open dispute blocks settlement", ErrState)
	}
	now := e.now()
	if now < ch.Timeout {
		return nil, fmt.Errorf("%w: settlement before timeout", ErrTiming)
	}
	if ch.Nonce > 0 && rewards.StateHash(finalCalculations) != ch.StateHash {
		return nil, fmt.Errorf("%w: final calculations do not match committed state", ErrValidation)
	}
	next := ch.Clone()
	next.SettlementAmount = rewards.TotalReward(finalCalculations)
	next.Status = StatusSettled
	if err := e.state.ChannelPut(next); err != nil {
		return nil, err
	}
	e.emit(channelEvent{evt: NewSettledEvent(next)})
	return next.Clone(), nil
}

// ValidateState is a read-only sanity check of the stored channel against
// the structural invariants, including the nonce ceiling.
func (e *Engine) ValidateState(id [32]byte) error {
	ch, err := e.loadChannel(id)
	if err != nil {
		return err
	}
	if err := validateParticipants(ch.Participants); err != nil {
		return err
	}
	if ch.Nonce > MaxNonce {
		return fmt.Errorf("%w: nonce %d exceeds ceiling %d", ErrValidation, ch.Nonce, MaxNonce)
	}
	if len(ch.Signatures) > MaxSignatures {
		return fmt.Errorf("%w: signature count %d exceeds %d", ErrValidation, len(ch.Signatures), MaxSignatures)
	}
	if !ch.Status.Valid() {
		return fmt.Errorf("%w: invalid status %d", ErrValidation, ch.Status)
	}
	if ch.Dispute != nil && len(ch.Dispute.Evidence) > MaxEvidenceBytes {
		return fmt.Errorf("%w: dispute evidence exceeds %d bytes", ErrValidation, MaxEvidenceBytes)
	}
	if ch.Status == StatusDisputed && ch.Dispute == nil {
		return fmt.Errorf("%w: disputed channel without dispute record", ErrState)
	}
	return nil
}

// zeroHash is the state hash of a freshly opened channel.
var zeroHash [32]byte

// HasCommittedState reports whether the channel has accepted at least one
// update.
func (c *Channel) HasCommittedState() bool {
	return c != nil && c.Nonce > 0 && !bytes.Equal(c.StateHash[:], zeroHash[:])
}
