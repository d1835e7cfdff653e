package dispute

import (
	"encoding/binary"
	"errors"

	"lukechampine.com/blake3"

	"statechan/native/rewards"
)

// Fraud proof layout: channel id (32) || hash of the invalid calculations
// (32) || hash of the believed-correct calculations (32) || raw evidence
// (variable) || nonce (8, big endian). The proof is evidence data, not
// itself authoritative: a verifier must recompute both hashes from the
// supplied calculation lists before trusting it.
const proofFixedLen = 32 + 32 + 32 + 8

var errMalformedProof = errors.New("dispute: malformed fraud proof")

// FraudProof is the parsed form of a proof envelope.
type FraudProof struct {
	ChannelID   [32]byte
	InvalidHash [32]byte
	ValidHash   [32]byte
	Evidence    []byte
	Nonce       uint64
}

// BuildFraudProof assembles a proof linking a disputed transition to both
// the disputed and the believed-correct calculation batches.
func BuildFraudProof(channelID [32]byte, invalid, valid []rewards.RewardCalculation, evidence []byte, nonce uint64) []byte {
	invalidHash := rewards.StateHash(invalid)
	validHash := rewards.StateHash(valid)
	proof := make([]byte, 0, proofFixedLen+len(evidence))
	proof = append(proof, channelID[:]...)
	proof = append(proof, invalidHash[:]...)
	proof = append(proof, validHash[:]...)
	proof = append(proof, evidence...)
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	proof = append(proof, nonceBytes[:]...)
	return proof
}

// ParseFraudProof splits a proof envelope into its fields.
func ParseFraudProof(proof []byte) (FraudProof, error) {
	if len(proof) < proofFixedLen {
		return FraudProof{}, errMalformedProof
	}
	var parsed FraudProof
	copy(parsed.ChannelID[:], proof[0:32])
	copy(parsed.InvalidHash[:], proof[32:64])
	copy(parsed.ValidHash[:], proof[64:96])
	parsed.Evidence = append([]byte(nil), proof[96:len(proof)-8]...)
	parsed.Nonce = binary.BigEndian.Uint64(proof[len(proof)-8:])
	return parsed, nil
}

// VerifyFraudProof recomputes both hashes from the supplied calculation
// lists and confirms they match the proof. Only a proof that passes this
// check should be trusted as evidence.
func VerifyFraudProof(proof []byte, invalid, valid []rewards.RewardCalculation) bool {
	parsed, err := ParseFraudProof(proof)
	if err != nil {
		return false
	}
	return parsed.InvalidHash == rewards.StateHash(invalid) &&
		parsed.ValidHash == rewards.StateHash(valid)
}

// EvidenceDigest derives the compact digest used to reference evidence in
// events and logs without reproducing the raw bytes.
func EvidenceDigest(evidence []byte) [32]byte {
	return blake3.Sum256(evidence)
}
