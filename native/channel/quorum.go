package channel

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const updateSigningDomain = "statechan_update"

// UpdateDigest derives the digest participants sign to authorise a state
// update. It binds the channel id and nonce alongside the state hash so a
// signature cannot be replayed across channels or nonces.
func UpdateDigest(channelID [32]byte, nonce uint64, stateHash [32]byte) [32]byte {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	return ethcrypto.Keccak256Hash([]byte(updateSigningDomain), channelID[:], nonceBytes[:], stateHash[:])
}

// QuorumThreshold returns the strict majority for a participant count:
// floor(n/2)+1.
func QuorumThreshold(participantCount int) int {
	if participantCount <= 0 {
		return 1
	}
	return participantCount/2 + 1
}

// CountValidSigners returns the number of distinct participants whose
// recoverable signatures authenticate the digest. Duplicate signatures from
// the same signer count once; signatures from non-participants count zero.
// Pure and side-effect free, safe to call concurrently.
func CountValidSigners(participants [][20]byte, digest [32]byte, signatures [][]byte) int {
	seen := make(map[[20]byte]struct{}, len(signatures))
	for _, sig := range signatures {
		if len(sig) != SignatureLength {
			continue
		}
		pubKey, err := ethcrypto.SigToPub(digest[:], sig)
		if err != nil {
			continue
		}
		var signer [20]byte
		copy(signer[:], ethcrypto.PubkeyToAddress(*pubKey).Bytes())
		if _, dup := seen[signer]; dup {
			continue
		}
		for _, p := range participants {
			if p == signer {
				seen[signer] = struct{}{}
				break
			}
		}
	}
	return len(seen)
}

// VerifyQuorum reports whether the signature set carries a strict majority
// of distinct valid participant signatures over the digest.
func VerifyQuorum(participants [][20]byte, digest [32]byte, signatures [][]byte) bool {
	return CountValidSigners(participants, digest, signatures) >= QuorumThreshold(len(participants))
}
