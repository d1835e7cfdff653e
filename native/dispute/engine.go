package dispute

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"statechan/core/events"
	"statechan/core/types"
	"statechan/native/channel"
	"statechan/native/hft"
	"statechan/native/rewards"
)

var (
	errNilState = errors.New("dispute engine: state not configured")
	errNilAuth  = errors.New("dispute engine: authorization quorum not configured")
)

type engineState interface {
	ChannelPut(*channel.Channel) error
	ChannelGet(id [32]byte) (*channel.Channel, bool)
	EnhancedPut(*channel.EnhancedChannel) error
	EnhancedGet(id [32]byte) (*channel.EnhancedChannel, bool)
}

// Engine manages the dispute lifecycle after a challenge has suspended a
// channel: classifying evidence, applying penalties and clearing the
// dispute record. Resolution authority belongs to the external multisig
// quorum, not to channel participants.
type Engine struct {
	state   engineState
	auth    AuthorizationQuorum
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a dispute engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend shared with the channel engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAuthorizationQuorum configures the multisig collaborator that
// authorises resolutions.
func (e *Engine) SetAuthorizationQuorum(auth AuthorizationQuorum) { e.auth = auth }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

type disputeEvent struct {
	evt *types.Event
}

func (e disputeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e disputeEvent) Event() *types.Event { return e.evt }

// EventTypeDisputeResolved is emitted once a resolution clears a dispute.
const EventTypeDisputeResolved = "channel.dispute.resolved"

func newResolvedEvent(ch *channel.Channel, info *channel.DisputeInfo, outcome Outcome) *types.Event {
	return &types.Event{
		Type: EventTypeDisputeResolved,
		Attributes: map[string]string{
			"id":             hex.EncodeToString(ch.ID[:]),
			"kind":           string(info.Kind),
			"resolution":     string(outcome.Resolution),
			"penalty":        strconv.FormatUint(outcome.Penalty, 10),
			"reactivated":    strconv.FormatBool(outcome.Reactivated),
			"closed":         strconv.FormatBool(outcome.Closed),
			"evidenceDigest": hex.EncodeToString(func() []byte { d := EvidenceDigest(info.Evidence); return d[:] }()),
		},
	}
}

// Analyze classifies an open dispute by running the type-specific evidence
// predicate. Each predicate is pure over the evidence bytes supplied at
// challenge time; Analyze never mutates channel state.
func (e *Engine) Analyze(ch *channel.Channel) (Resolution, error) {
	if ch == nil || ch.Dispute == nil {
		return "", fmt.Errorf("%w: no open dispute", channel.ErrState)
	}
	info := ch.Dispute
	switch info.Kind {
	case channel.DisputeTimeoutViolation:
		// Pure timing disagreements carry no provable fault on either
		// side.
		return ResolutionSystemIntervention, nil
	case channel.DisputeInvalidStateTransition:
		if provesInvalidTransition(info, ch) {
			return ResolutionChallengerWins, nil
		}
		return ResolutionDefenderWins, nil
	case channel.DisputeDoubleSpending:
		if containsDuplicateSpend(info.Evidence) {
			return ResolutionChallengerWins, nil
		}
		return ResolutionDefenderWins, nil
	case channel.DisputeUnauthorizedOperation:
		if provesUnauthorizedSigner(info.Evidence, ch) {
			return ResolutionChallengerWins, nil
		}
		return ResolutionDefenderWins, nil
	case channel.DisputeBalanceInconsistency:
		if provesBalanceMismatch(info) {
			return ResolutionChallengerWins, nil
		}
		return ResolutionDefenderWins, nil
	default:
		return "", fmt.Errorf("%w: unknown dispute kind %q", channel.ErrValidation, info.Kind)
	}
}

// provesInvalidTransition checks the structural validity of the evidence: it
// must parse as a fraud-proof envelope bound to this channel whose invalid
// hash matches the disputed state hash.
func provesInvalidTransition(info *channel.DisputeInfo, ch *channel.Channel) bool {
	parsed, err := ParseFraudProof(info.Evidence)
	if err != nil {
		return false
	}
	return parsed.ChannelID == ch.ID && parsed.InvalidHash == info.DisputedStateHash
}

// containsDuplicateSpend scans the evidence as a sequence of 32-byte spend
// identifiers and reports whether any identifier repeats.
func containsDuplicateSpend(evidence []byte) bool {
	if len(evidence) == 0 || len(evidence)%32 != 0 {
		return false
	}
	seen := make(map[[32]byte]struct{}, len(evidence)/32)
	for off := 0; off < len(evidence); off += 32 {
		var entry [32]byte
		copy(entry[:], evidence[off:off+32])
		if _, dup := seen[entry]; dup {
			return true
		}
		seen[entry] = struct{}{}
	}
	return false
}

// provesUnauthorizedSigner expects evidence of the form digest (32) ||
// signature (65) and re-checks authorization: recovering a signer outside
// the participant set proves the operation was unauthorized.
func provesUnauthorizedSigner(evidence []byte, ch *channel.Channel) bool {
	if len(evidence) != 32+channel.SignatureLength {
		return false
	}
	digest := evidence[:32]
	sig := evidence[32:]
	pubKey, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return false
	}
	var signer [20]byte
	copy(signer[:], ethcrypto.PubkeyToAddress(*pubKey).Bytes())
	return !ch.IsParticipant(signer)
}

// provesBalanceMismatch recomputes the state hash from the calculation list
// carried in the evidence. A mismatch against the disputed hash proves the
// committed state does not represent the claimed calculations.
func provesBalanceMismatch(info *channel.DisputeInfo) bool {
	var calcs []rewards.RewardCalculation
	if err := json.Unmarshal(info.Evidence, &calcs); err != nil {
		return false
	}
	return rewards.StateHash(calcs) != info.DisputedStateHash
}

// Resolve applies a resolution to the channel's open dispute. The resolver
// must belong to the external authorization quorum. Exactly one successful
// Resolve clears a dispute: it destroys the dispute record and either
// reactivates the channel (nonce unchanged) or, for terminal dispute kinds
// proven against the defenders, closes it.
func (e *Engine) Resolve(id [32]byte, resolution Resolution, resolver [20]byte) (Outcome, error) {
	if e == nil || e.state == nil {
		return Outcome{}, errNilState
	}
	if e.auth == nil {
		return Outcome{}, errNilAuth
	}
	if !resolution.Valid() {
		return Outcome{}, fmt.Errorf("%w: unknown resolution %q", channel.ErrValidation, resolution)
	}
	if !e.auth.IsAuthorizedSigner(resolver) {
		return Outcome{}, fmt.Errorf("%w: resolver is not in the authorization quorum", channel.ErrUnauthorized)
	}
	ch, ok := e.state.ChannelGet(id)
	if !ok {
		return Outcome{}, channel.ErrNotFound
	}
	if ch.Dispute == nil {
		return Outcome{}, fmt.Errorf("%w: no open dispute", channel.ErrState)
	}
	info := ch.Dispute.Clone()

	outcome := Outcome{Resolution: resolution}
	enhanced, hasBalances := e.state.EnhancedGet(id)
	switch resolution {
	case ResolutionChallengerWins:
		if hasBalances {
			outcome.Penalty = slashDefenders(enhanced, info.Challenger, enhanced.Config.SlashingPenalty)
		}
		if info.Kind.Terminal() {
			outcome.Closed = true
		}
	case ResolutionDefenderWins:
		if hasBalances {
			outcome.Penalty = chargeChallenger(enhanced, info.Challenger, enhanced.Config.DisputeFee)
		}
	case ResolutionSystemIntervention:
		// No penalty on either side.
	}
	outcome.Reactivated = !outcome.Closed

	next := ch.Clone()
	next.Dispute = nil
	if outcome.Closed {
		next.Status = channel.StatusClosed
	} else {
		next.Status = channel.StatusActive
	}
	if hasBalances {
		enhanced.Channel = *next.Clone()
		if err := e.state.EnhancedPut(enhanced); err != nil {
			return Outcome{}, err
		}
	} else if err := e.state.ChannelPut(next); err != nil {
		return Outcome{}, err
	}
	e.emit(disputeEvent{evt: newResolvedEvent(next, info, outcome)})
	return outcome, nil
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// slashDefenders charges an equal share of the slashing penalty to every
// participant other than the challenger, bounded by each balance, and
// credits the total to the challenger.
func slashDefenders(ch *channel.EnhancedChannel, challenger [20]byte, penalty uint64) uint64 {
	defenders := make([][20]byte, 0, len(ch.Participants))
	for _, p := range ch.Participants {
		if p != challenger {
			defenders = append(defenders, p)
		}
	}
	if len(defenders) == 0 || penalty == 0 {
		return 0
	}
	share := penalty / uint64(len(defenders))
	if share == 0 {
		share = 1
	}
	var total uint64
	for _, d := range defenders {
		key := hft.AddrKey(d)
		charged := share
		if ch.Balances[key] < charged {
			charged = ch.Balances[key]
		}
		ch.Balances[key] -= charged
		total += charged
	}
	ch.Balances[hft.AddrKey(challenger)] += total
	return total
}

// chargeChallenger debits the dispute fee from the challenger, bounded by
// their balance, and accrues it to the channel's collected fees.
func chargeChallenger(ch *channel.EnhancedChannel, challenger [20]byte, fee uint64) uint64 {
	key := hft.AddrKey(challenger)
	charged := fee
	if ch.Balances[key] < charged {
		charged = ch.Balances[key]
	}
	ch.Balances[key] -= charged
	ch.Ledger.FeesCollected += charged
	return charged
}
