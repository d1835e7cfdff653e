package channel

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"statechan/native/hft"
)

// ChannelConfig carries the fee, batching and dispute-penalty parameters of
// an enhanced channel. All parameters are fixed at creation.
type ChannelConfig struct {
	TradeFeeBps     uint32 `json:"tradeFeeBps"`
	MaxBatchSize    int    `json:"maxBatchSize"`
	SlashingPenalty uint64 `json:"slashingPenalty"`
	DisputeFee      uint64 `json:"disputeFee"`
	// ConfirmationThreshold is the number of confirmations a pending
	// operation needs before it is applied. Zero means the majority rule
	// over the operation's own participant list, the same rule used for
	// channel updates.
	ConfirmationThreshold int `json:"confirmationThreshold"`
	MaxPendingOperations  int `json:"maxPendingOperations"`
}

// DefaultChannelConfig returns conservative baseline parameters.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		TradeFeeBps:          30,
		MaxBatchSize:         100,
		SlashingPenalty:      1_000_000,
		DisputeFee:           100_000,
		MaxPendingOperations: 64,
	}
}

// Validate ensures the configuration values fall within acceptable bounds.
func (c ChannelConfig) Validate() error {
	if c.TradeFeeBps > hft.FeeBpsDenominator {
		return fmt.Errorf("trade fee bps out of range: %d", c.TradeFeeBps)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive")
	}
	if c.MaxPendingOperations <= 0 {
		return fmt.Errorf("max pending operations must be positive")
	}
	if c.ConfirmationThreshold < 0 || c.ConfirmationThreshold > MaxParticipants {
		return fmt.Errorf("confirmation threshold out of range: %d", c.ConfirmationThreshold)
	}
	return nil
}

// PendingOperation is a queued trading operation awaiting confirmations from
// its required participants.
type PendingOperation struct {
	ID            string          `json:"id"`
	Op            hft.Operation   `json:"op"`
	Proposer      [20]byte        `json:"proposer"`
	Participants  [][20]byte      `json:"participants"`
	Confirmations map[string]bool `json:"confirmations"`
	CreatedAt     int64           `json:"createdAt"`
}

// Clone returns a deep copy of the pending operation.
func (p *PendingOperation) Clone() *PendingOperation {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Participants = append([][20]byte(nil), p.Participants...)
	clone.Confirmations = make(map[string]bool, len(p.Confirmations))
	for k, v := range p.Confirmations {
		clone.Confirmations[k] = v
	}
	clone.Op.Sub = append([]hft.Operation(nil), p.Op.Sub...)
	return &clone
}

// threshold resolves the confirmation count this operation needs.
func (p *PendingOperation) threshold(cfg ChannelConfig) int {
	if cfg.ConfirmationThreshold > 0 {
		return cfg.ConfirmationThreshold
	}
	return QuorumThreshold(len(p.Participants))
}

// EnhancedChannel extends the basic channel with per-participant balances, a
// trading ledger and a bounded pending-operation queue. Participants are
// fixed at activation.
type EnhancedChannel struct {
	Channel
	Config    ChannelConfig       `json:"config"`
	Balances  map[string]uint64   `json:"balances"`
	Ledger    hft.Ledger          `json:"ledger"`
	Pending   []*PendingOperation `json:"pending,omitempty"`
	Activated bool                `json:"activated"`
}

// Clone returns a deep copy of the enhanced channel.
func (c *EnhancedChannel) Clone() *EnhancedChannel {
	if c == nil {
		return nil
	}
	clone := &EnhancedChannel{
		Channel:   *c.Channel.Clone(),
		Config:    c.Config,
		Balances:  make(map[string]uint64, len(c.Balances)),
		Ledger:    c.Ledger.Clone(),
		Activated: c.Activated,
	}
	for k, v := range c.Balances {
		clone.Balances[k] = v
	}
	for _, op := range c.Pending {
		clone.Pending = append(clone.Pending, op.Clone())
	}
	return clone
}

func (c *EnhancedChannel) processor() *hft.Processor {
	return hft.NewProcessor(c.Config.TradeFeeBps, c.Config.MaxBatchSize)
}

const confirmSigningDomain = "statechan_confirm"

// ConfirmationDigest derives the digest a participant signs to confirm a
// pending operation.
func ConfirmationDigest(channelID [32]byte, operationID string) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(confirmSigningDomain), channelID[:], []byte(operationID))
}

func (e *Engine) loadEnhanced(id [32]byte) (*EnhancedChannel, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ch, ok := e.state.EnhancedGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return ch, nil
}

// OpenEnhanced initialises an enhanced channel. Unlike the basic variant the
// creator must be among the participants, and the channel stays pending
// until an explicit Activate call fixes the participant set.
func (e *Engine) OpenEnhanced(id [32]byte, creator [20]byte, participants [][20]byte, timeoutSeconds uint64, cfg ChannelConfig) (*EnhancedChannel, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := validateParticipants(participants); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	creatorListed := false
	for _, p := range participants {
		if p == creator {
			creatorListed = true
			break
		}
	}
	if !creatorListed {
		return nil, fmt.Errorf("%w: creator is not a participant", ErrUnauthorized)
	}
	if _, exists := e.state.EnhancedGet(id); exists {
		return nil, fmt.Errorf("%w: channel already exists", ErrState)
	}
	if _, exists := e.state.ChannelGet(id); exists {
		return nil, fmt.Errorf("%w: channel already exists", ErrState)
	}
	now := e.now()
	ch := &EnhancedChannel{
		Channel: Channel{
			ID:            id,
			Participants:  append([][20]byte(nil), participants...),
			Timeout:       now + int64(timeoutSeconds),
			DisputePeriod: e.disputePeriod,
			LastUpdate:    now,
			CreatedAt:     now,
			Status:        StatusPendingActivation,
		},
		Config:   cfg,
		Balances: make(map[string]uint64, len(participants)),
		Ledger:   hft.NewLedger(),
	}
	for _, p := range participants {
		ch.Balances[hft.AddrKey(p)] = 0
	}
	if err := e.state.EnhancedPut(ch); err != nil {
		return nil, err
	}
	e.emit(channelEvent{evt: NewOpenedEvent(&ch.Channel)})
	return ch.Clone(), nil
}

// GetEnhanced returns a defensive copy of the stored enhanced channel.
func (e *Engine) GetEnhanced(id [32]byte) (*EnhancedChannel, error) {
	ch, err := e.loadEnhanced(id)
	if err != nil {
		return nil, err
	}
	return ch.Clone(), nil
}

// Activate transitions an enhanced channel from pending to active, fixing
// its participant set. Only a listed participant may activate.
func (e *Engine) Activate(id [32]byte, caller [20]byte) (*EnhancedChannel, error) {
	ch, err := e.loadEnhanced(id)
	if err != nil {
		return nil, err
	}
	if !ch.IsParticipant(caller) {
		return nil, fmt.Errorf("%w: caller is not a participant", ErrUnauthorized)
	}
	if ch.Status != StatusPendingActivation {
		return nil, fmt.Errorf("%w: channel is not pending activation", ErrState)
	}
	next := ch.Clone()
	next.Status = StatusActive
	next.Activated = true
	if err := e.state.EnhancedPut(next); err != nil {
		return nil, err
	}
	e.emit(channelEvent{evt: NewActivatedEvent(&next.Channel)})
	return next.Clone(), nil
}

// Credit adds funds to a participant balance. Deposits come from the
// treasury collaborator; the channel only tracks them.
func (e *Engine) Credit(id [32]byte, participant [20]byte, amount uint64) (*EnhancedChannel, error) {
	ch, err := e.loadEnhanced(id)
	if err != nil {
		return nil, err
	}
	if !ch.IsParticipant(participant) {
		return nil, fmt.Errorf("%w: recipient is not a participant", ErrUnauthorized)
	}
	if ch.Status.Terminal() {
		return nil, fmt.Errorf("%w: channel already finalised", ErrState)
	}
	next := ch.Clone()
	next.Balances[hft.AddrKey(participant)] += amount
	if err := e.state.EnhancedPut(next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// AddPendingOperation queues an operation for multi-party confirmation. The
// proposer must be among the operation's required participants, and every
// required participant must belong to the channel.
func (e *Engine) AddPendingOperation(id [32]byte, proposer [20]byte, op hft.Operation, required [][20]byte) (*PendingOperation, error) {
	ch, err := e.loadEnhanced(id)
	if err != nil {
		return nil, err
	}
	if !ch.Active() {
		return nil, fmt.Errorf("%w: channel is not active", ErrState)
	}
	if len(required) == 0 {
		return nil, fmt.Errorf("%w: operation requires at least one participant", ErrValidation)
	}
	proposerListed := false
	for _, p := range required {
		if !ch.IsParticipant(p) {
			return nil, fmt.Errorf("%w: required signer is not a channel participant", ErrValidation)
		}
		if p == proposer {
			proposerListed = true
		}
	}
	if !proposerListed {
		return nil, fmt.Errorf("%w: proposer is not among the operation participants", ErrUnauthorized)
	}
	if op.Kind == hft.OpBatch {
		for _, sub := range op.Sub {
			if sub.Kind == hft.OpBatch {
				return nil, fmt.Errorf("%w: nested batch operation", ErrValidation)
			}
		}
		if len(op.Sub) > ch.Config.MaxBatchSize {
			return nil, fmt.Errorf("%w: batch exceeds size limit %d", ErrValidation, ch.Config.MaxBatchSize)
		}
	}
	if len(ch.Pending) >= ch.Config.MaxPendingOperations {
		return nil, fmt.Errorf("%w: pending operation queue is full", ErrValidation)
	}
	pending := &PendingOperation{
		ID:            uuid.NewString(),
		Op:            op,
		Proposer:      proposer,
		Participants:  append([][20]byte(nil), required...),
		Confirmations: make(map[string]bool, len(required)),
		CreatedAt:     e.now(),
	}
	next := ch.Clone()
	next.Pending = append(next.Pending, pending)
	if err := e.state.EnhancedPut(next); err != nil {
		return nil, err
	}
	e.emit(channelEvent{evt: NewOperationPendingEvent(&next.Channel, pending)})
	return pending.Clone(), nil
}

// ConfirmOperation records a participant's signed confirmation of a pending
// operation. Once confirmations reach the configured threshold the operation
// is applied to the ledger within this transition and removed from the
// queue. The returned flag reports whether it was applied.
func (e *Engine) ConfirmOperation(id [32]byte, operationID string, participant [20]byte, signature []byte) (bool, error) {
	ch, err := e.loadEnhanced(id)
	if err != nil {
		return false, err
	}
	if !ch.Active() {
		return false, fmt.Errorf("%w: channel is not active", ErrState)
	}
	next := ch.Clone()
	idx := -1
	for i, op := range next.Pending {
		if op.ID == operationID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, fmt.Errorf("%w: unknown pending operation %s", ErrValidation, operationID)
	}
	pending := next.Pending[idx]
	listed := false
	for _, p := range pending.Participants {
		if p == participant {
			listed = true
			break
		}
	}
	if !listed {
		return false, fmt.Errorf("%w: confirmer is not listed on the operation", ErrUnauthorized)
	}
	digest := ConfirmationDigest(id, operationID)
	if len(signature) != SignatureLength {
		return false, fmt.Errorf("%w: signature must be %d bytes", ErrValidation, SignatureLength)
	}
	pubKey, err := ethcrypto.SigToPub(digest[:], signature)
	if err != nil {
		return false, fmt.Errorf("%w: invalid confirmation signature", ErrUnauthorized)
	}
	var signer [20]byte
	copy(signer[:], ethcrypto.PubkeyToAddress(*pubKey).Bytes())
	if signer != participant {
		return false, fmt.Errorf("%w: signature does not match confirmer", ErrUnauthorized)
	}
	pending.Confirmations[hft.AddrKey(participant)] = true
	applied := false
	if len(pending.Confirmations) >= pending.threshold(ch.Config) {
		proc := next.processor()
		if _, err := proc.Process(&next.Ledger, pending.Op); err != nil {
			return false, err
		}
		next.Pending = append(next.Pending[:idx], next.Pending[idx+1:]...)
		applied = true
	}
	if err := e.state.EnhancedPut(next); err != nil {
		return false, err
	}
	if applied {
		e.emit(channelEvent{evt: NewOperationAppliedEvent(&next.Channel, pending)})
	}
	return applied, nil
}

// ProcessOperations applies a batch of operations to the channel ledger in
// submission order within a single transition.
func (e *Engine) ProcessOperations(id [32]byte, ops []hft.Operation) ([]hft.Result, error) {
	ch, err := e.loadEnhanced(id)
	if err != nil {
		return nil, err
	}
	if !ch.Active() {
		return nil, fmt.Errorf("%w: channel is not active", ErrState)
	}
	next := ch.Clone()
	results, err := next.processor().ProcessBatch(&next.Ledger, ops)
	if err != nil {
		return nil, err
	}
	if err := e.state.EnhancedPut(next); err != nil {
		return nil, err
	}
	return results, nil
}

// ProcessMicroTransaction transfers between two participant balances inside
// the channel, charging the micro fee.
func (e *Engine) ProcessMicroTransaction(id [32]byte, from, to [20]byte, amount uint64) (hft.Result, error) {
	ch, err := e.loadEnhanced(id)
	if err != nil {
		return hft.Result{}, err
	}
	if !ch.Active() {
		return hft.Result{}, fmt.Errorf("%w: channel is not active", ErrState)
	}
	if !ch.IsParticipant(from) || !ch.IsParticipant(to) {
		return hft.Result{}, fmt.Errorf("%w: transfer parties must be participants", ErrUnauthorized)
	}
	next := ch.Clone()
	res, err := next.processor().ProcessMicroTransaction(&next.Ledger, next.Balances, from, to, amount)
	if err != nil {
		return hft.Result{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := e.state.EnhancedPut(next); err != nil {
		return hft.Result{}, err
	}
	return res, nil
}
