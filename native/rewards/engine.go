package rewards

import (
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RewardCalculation is the atomic unit carried by a channel state. A batch of
// calculations is hashed into the channel's state hash and summed at
// settlement.
type RewardCalculation struct {
	User                 [20]byte `json:"user"`
	BTCCommitment        uint64   `json:"btcCommitment"`
	CalculatedReward     uint64   `json:"calculatedReward"`
	CalculationTimestamp int64    `json:"calculationTimestamp"`
}

// Commitment pairs a user with the amount they have committed for the batch.
type Commitment struct {
	User   [20]byte
	Amount uint64
}

// UserPoolDivisor fixes the protocol/user split: half of the staking rewards
// are distributed to users, the other half is the protocol share handled by
// the treasury.
const UserPoolDivisor = 2

// CalculateBatchRewards splits the user half of totalStakingRewards across
// the supplied commitments, proportional to each commitment. All math is
// integer with floor rounding, so the sum of the outputs may fall short of
// the user pool by a small remainder; that dust stays with the pool.
//
// A zero total commitment yields an empty batch.
func CalculateBatchRewards(commitments []Commitment, totalStakingRewards uint64, timestamp int64) []RewardCalculation {
	totalCommitments := new(big.Int)
	for _, c := range commitments {
		totalCommitments.Add(totalCommitments, new(big.Int).SetUint64(c.Amount))
	}
	if totalCommitments.Sign() == 0 {
		return []RewardCalculation{}
	}
	userPool := new(big.Int).SetUint64(totalStakingRewards / UserPoolDivisor)
	calcs := make([]RewardCalculation, 0, len(commitments))
	for _, c := range commitments {
		reward := new(big.Int).SetUint64(c.Amount)
		reward.Mul(reward, userPool)
		reward.Div(reward, totalCommitments)
		calcs = append(calcs, RewardCalculation{
			User:                 c.User,
			BTCCommitment:        c.Amount,
			CalculatedReward:     reward.Uint64(),
			CalculationTimestamp: timestamp,
		})
	}
	return calcs
}

// StateHash derives the channel state hash for a batch of calculations. The
// fields are hashed in list order: reordering the same set of calculations
// yields a different hash. This binds the exact off-chain computation order
// and is intentionally not canonicalised.
func StateHash(calcs []RewardCalculation) [32]byte {
	buf := make([]byte, 0, len(calcs)*44)
	var scratch [8]byte
	for _, calc := range calcs {
		buf = append(buf, calc.User[:]...)
		binary.BigEndian.PutUint64(scratch[:], calc.BTCCommitment)
		buf = append(buf, scratch[:]...)
		binary.BigEndian.PutUint64(scratch[:], calc.CalculatedReward)
		buf = append(buf, scratch[:]...)
		binary.BigEndian.PutUint64(scratch[:], uint64(calc.CalculationTimestamp))
		buf = append(buf, scratch[:]...)
	}
	return ethcrypto.Keccak256Hash(buf)
}

// TotalReward sums the calculated rewards of a batch. Used by settlement to
// derive the channel's settlement amount.
func TotalReward(calcs []RewardCalculation) uint64 {
	var total uint64
	for _, calc := range calcs {
		total += calc.CalculatedReward
	}
	return total
}
