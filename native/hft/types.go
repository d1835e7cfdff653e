package hft

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// OpKind identifies the operation a trader submits against a channel ledger.
type OpKind string

const (
	OpMarketBuy  OpKind = "MARKET_BUY"
	OpMarketSell OpKind = "MARKET_SELL"
	OpLimitBuy   OpKind = "LIMIT_BUY"
	OpLimitSell  OpKind = "LIMIT_SELL"
	OpCancel     OpKind = "CANCEL"
	OpBatch      OpKind = "BATCH"
)

// OpMicro tags micro-transaction results in the ledger. It is not a
// submittable operation kind.
const OpMicro OpKind = "MICRO"

var validOpKinds = map[OpKind]struct{}{
	OpMarketBuy:  {},
	OpMarketSell: {},
	OpLimitBuy:   {},
	OpLimitSell:  {},
	OpCancel:     {},
	OpBatch:      {},
}

// ParseOpKind normalises a caller-supplied operation kind.
func ParseOpKind(value string) (OpKind, error) {
	upper := OpKind(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := validOpKinds[upper]; !ok {
		return "", fmt.Errorf("unknown operation kind %q", value)
	}
	return upper, nil
}

// Valid reports whether the kind is supported.
func (k OpKind) Valid() bool {
	_, ok := validOpKinds[k]
	return ok
}

// Market reports whether the kind executes immediately.
func (k OpKind) Market() bool { return k == OpMarketBuy || k == OpMarketSell }

// Limit reports whether the kind queues until matched.
func (k OpKind) Limit() bool { return k == OpLimitBuy || k == OpLimitSell }

// Operation is a single trading instruction. Batch operations carry their
// sub-operations in Sub; nesting a Batch inside a Batch is rejected.
type Operation struct {
	ID       string      `json:"id"`
	Kind     OpKind      `json:"kind"`
	Trader   [20]byte    `json:"trader"`
	Amount   uint64      `json:"amount"`
	Price    uint64      `json:"price"`
	TargetID string      `json:"targetId,omitempty"`
	Sub      []Operation `json:"sub,omitempty"`
}

// NewOperation builds an operation with a fresh identifier.
func NewOperation(kind OpKind, trader [20]byte, amount, price uint64) Operation {
	return Operation{
		ID:     uuid.NewString(),
		Kind:   kind,
		Trader: trader,
		Amount: amount,
		Price:  price,
	}
}

// NewCancel builds a cancel instruction for a previously queued order.
func NewCancel(trader [20]byte, targetID string) Operation {
	return Operation{
		ID:       uuid.NewString(),
		Kind:     OpCancel,
		Trader:   trader,
		TargetID: targetID,
	}
}

// Status is the per-operation outcome recorded in the ledger.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// Result is the per-operation record appended to the channel ledger.
type Result struct {
	OpID           string `json:"opId"`
	Kind           OpKind `json:"kind"`
	Status         Status `json:"status"`
	ExecutedAmount uint64 `json:"executedAmount"`
	Fee            uint64 `json:"fee"`
	Timestamp      int64  `json:"timestamp"`
}

// Ledger is the working trading state carried inside an enhanced channel. It
// is mutated only inside a single channel transition.
type Ledger struct {
	OpenOrders    map[string]Operation `json:"openOrders"`
	Results       []Result             `json:"results"`
	FeesCollected uint64               `json:"feesCollected"`
}

// NewLedger returns an empty ledger.
func NewLedger() Ledger {
	return Ledger{OpenOrders: make(map[string]Operation)}
}

// Clone returns a deep copy of the ledger.
func (l Ledger) Clone() Ledger {
	clone := Ledger{
		OpenOrders:    make(map[string]Operation, len(l.OpenOrders)),
		Results:       append([]Result(nil), l.Results...),
		FeesCollected: l.FeesCollected,
	}
	for id, op := range l.OpenOrders {
		clone.OpenOrders[id] = op
	}
	return clone
}

// AddrKey renders a 20-byte address as the hex key used in balance maps.
func AddrKey(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}
