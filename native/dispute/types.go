package dispute

import (
	"fmt"
	"strings"
)

// Resolution is the verdict applied when a dispute is resolved.
type Resolution string

const (
	// ResolutionChallengerWins charges the slashing penalty to the
	// defending side.
	ResolutionChallengerWins Resolution = "CHALLENGER_WINS"
	// ResolutionDefenderWins charges the dispute fee to the challenger,
	// deterring frivolous disputes.
	ResolutionDefenderWins Resolution = "DEFENDER_WINS"
	// ResolutionSystemIntervention applies no penalty. Pure timeout
	// disputes resolve this way.
	ResolutionSystemIntervention Resolution = "SYSTEM_INTERVENTION"
)

var validResolutions = map[Resolution]struct{}{
	ResolutionChallengerWins:     {},
	ResolutionDefenderWins:       {},
	ResolutionSystemIntervention: {},
}

// ParseResolution normalises a caller-supplied resolution.
func ParseResolution(value string) (Resolution, error) {
	upper := Resolution(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := validResolutions[upper]; !ok {
		return "", fmt.Errorf("unknown resolution %q", value)
	}
	return upper, nil
}

// Valid reports whether the resolution is supported.
func (r Resolution) Valid() bool {
	_, ok := validResolutions[r]
	return ok
}

// AuthorizationQuorum is the external multisig collaborator that authorises
// dispute resolutions.
type AuthorizationQuorum interface {
	IsAuthorizedSigner(addr [20]byte) bool
	QuorumThreshold() uint8
}

// Outcome summarises a resolution for callers and event streams.
type Outcome struct {
	Resolution  Resolution `json:"resolution"`
	Penalty     uint64     `json:"penalty"`
	Reactivated bool       `json:"reactivated"`
	Closed      bool       `json:"closed"`
}
