package channel

import "errors"

// Error categories shared across the channel, dispute and hft engines. Every
// failure is wrapped around exactly one of these sentinels so callers can
// classify with errors.Is without string matching.
var (
	// ErrValidation covers malformed requests: bad participant counts,
	// nonce mismatches, oversized evidence, batch-size overflow.
	ErrValidation = errors.New("channel: invalid request")
	// ErrUnauthorized covers non-participant signers and non-quorum
	// resolvers.
	ErrUnauthorized = errors.New("channel: unauthorized")
	// ErrState covers operations against a channel in the wrong lifecycle
	// state: inactive, already disputed, already settled.
	ErrState = errors.New("channel: invalid state")
	// ErrThresholdNotMet is returned when an update carries fewer distinct
	// valid signatures than the majority threshold.
	ErrThresholdNotMet = errors.New("channel: signature threshold not met")
	// ErrTiming covers settle-before-timeout and challenge-after-window.
	ErrTiming = errors.New("channel: timing constraint violated")
	// ErrNotFound is returned when the channel id has no stored state.
	ErrNotFound = errors.New("channel: not found")

	errNilState = errors.New("channel engine: state not configured")
)
