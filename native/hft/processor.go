package hft

import (
	"errors"
	"fmt"
	"time"
)

const (
	// FeeBpsDenominator is the fixed denominator for trade fee rates.
	FeeBpsDenominator = 10_000
	// MaxMicroAmount caps a micro-transaction in base units.
	MaxMicroAmount = 1_000_000
	// MicroFeeDivisor and MinMicroFee define the micro-transaction fee:
	// max(amount/MicroFeeDivisor, MinMicroFee).
	MicroFeeDivisor = 1000
	MinMicroFee     = 100
)

var (
	// ErrValidation covers structurally invalid operations.
	ErrValidation = errors.New("hft: invalid operation")
	// ErrBatchTooLarge is returned before any execution when a batch
	// exceeds the configured size cap.
	ErrBatchTooLarge = errors.New("hft: batch exceeds size limit")
	// ErrNestedBatch rejects Batch-typed sub-operations to prevent
	// unbounded recursion.
	ErrNestedBatch = errors.New("hft: nested batch operation")
	// ErrUnknownOrder is returned when a cancel targets no open order.
	ErrUnknownOrder = errors.New("hft: unknown order")
)

// Processor applies trading operations and micro-transactions to a channel
// ledger. It holds configuration only; all mutable state lives in the ledger
// and balance map passed per call, so one processor serves many channels.
type Processor struct {
	feeBps   uint32
	maxBatch int
	nowFn    func() int64
}

// NewProcessor creates a processor with the given trade fee rate and batch
// size cap.
func NewProcessor(feeBps uint32, maxBatch int) *Processor {
	return &Processor{
		feeBps:   feeBps,
		maxBatch: maxBatch,
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (p *Processor) SetNowFunc(now func() int64) {
	if now == nil {
		p.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	p.nowFn = now
}

func (p *Processor) now() int64 {
	if p == nil || p.nowFn == nil {
		return time.Now().Unix()
	}
	return p.nowFn()
}

// TradeFee computes the fee for an executed amount at the configured rate.
func (p *Processor) TradeFee(amount uint64) uint64 {
	return amount * uint64(p.feeBps) / FeeBpsDenominator
}

func validateOrder(op Operation) error {
	if op.ID == "" {
		return fmt.Errorf("%w: missing id", ErrValidation)
	}
	switch {
	case op.Kind.Market():
		if op.Amount == 0 {
			return fmt.Errorf("%w: market order amount must be positive", ErrValidation)
		}
	case op.Kind.Limit():
		if op.Amount == 0 || op.Price == 0 {
			return fmt.Errorf("%w: limit order amount and price must be positive", ErrValidation)
		}
	case op.Kind == OpCancel:
		if op.TargetID == "" {
			return fmt.Errorf("%w: cancel requires a target order id", ErrValidation)
		}
	case op.Kind == OpBatch:
		return ErrNestedBatch
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, op.Kind)
	}
	return nil
}

// ProcessMarketOrder executes a market order immediately, charging the trade
// fee on the executed amount.
func (p *Processor) ProcessMarketOrder(l *Ledger, op Operation) (Result, error) {
	if !op.Kind.Market() {
		return Result{}, fmt.Errorf("%w: %q is not a market order", ErrValidation, op.Kind)
	}
	if err := validateOrder(op); err != nil {
		return Result{}, err
	}
	res := Result{
		OpID:           op.ID,
		Kind:           op.Kind,
		Status:         StatusCompleted,
		ExecutedAmount: op.Amount,
		Fee:            p.TradeFee(op.Amount),
		Timestamp:      p.now(),
	}
	l.FeesCollected += res.Fee
	l.Results = append(l.Results, res)
	return res, nil
}

// ProcessLimitOrder queues a limit order unexecuted.
func (p *Processor) ProcessLimitOrder(l *Ledger, op Operation) (Result, error) {
	if !op.Kind.Limit() {
		return Result{}, fmt.Errorf("%w: %q is not a limit order", ErrValidation, op.Kind)
	}
	if err := validateOrder(op); err != nil {
		return Result{}, err
	}
	if l.OpenOrders == nil {
		l.OpenOrders = make(map[string]Operation)
	}
	l.OpenOrders[op.ID] = op
	res := Result{
		OpID:      op.ID,
		Kind:      op.Kind,
		Status:    StatusPending,
		Timestamp: p.now(),
	}
	l.Results = append(l.Results, res)
	return res, nil
}

// CancelOrder removes a queued limit order and records the cancellation.
func (p *Processor) CancelOrder(l *Ledger, op Operation) (Result, error) {
	if op.Kind != OpCancel {
		return Result{}, fmt.Errorf("%w: %q is not a cancel", ErrValidation, op.Kind)
	}
	if err := validateOrder(op); err != nil {
		return Result{}, err
	}
	if _, ok := l.OpenOrders[op.TargetID]; !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownOrder, op.TargetID)
	}
	delete(l.OpenOrders, op.TargetID)
	res := Result{
		OpID:      op.ID,
		Kind:      op.Kind,
		Status:    StatusCancelled,
		Timestamp: p.now(),
	}
	l.Results = append(l.Results, res)
	return res, nil
}

// Process dispatches a single operation by kind. Batch operations are
// expanded via ProcessBatch.
func (p *Processor) Process(l *Ledger, op Operation) ([]Result, error) {
	switch {
	case op.Kind.Market():
		res, err := p.ProcessMarketOrder(l, op)
		if err != nil {
			return nil, err
		}
		return []Result{res}, nil
	case op.Kind.Limit():
		res, err := p.ProcessLimitOrder(l, op)
		if err != nil {
			return nil, err
		}
		return []Result{res}, nil
	case op.Kind == OpCancel:
		res, err := p.CancelOrder(l, op)
		if err != nil {
			return nil, err
		}
		return []Result{res}, nil
	case op.Kind == OpBatch:
		return p.ProcessBatch(l, op.Sub)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrValidation, op.Kind)
	}
}

// ProcessBatch applies operations strictly in submission order within one
// transition. The whole batch is validated before anything executes: size
// cap, no nested batches, structurally sound orders. A cancel that targets
// an order unknown at its point in the sequence records a Failed result
// rather than aborting the already-applied prefix.
func (p *Processor) ProcessBatch(l *Ledger, ops []Operation) ([]Result, error) {
	if p.maxBatch > 0 && len(ops) > p.maxBatch {
		return nil, fmt.Errorf("%w: %d operations, limit %d", ErrBatchTooLarge, len(ops), p.maxBatch)
	}
	for _, op := range ops {
		if op.Kind == OpBatch {
			return nil, ErrNestedBatch
		}
		if err := validateOrder(op); err != nil {
			return nil, err
		}
	}
	results := make([]Result, 0, len(ops))
	for _, op := range ops {
		var (
			res Result
			err error
		)
		switch {
		case op.Kind.Market():
			res, err = p.ProcessMarketOrder(l, op)
		case op.Kind.Limit():
			res, err = p.ProcessLimitOrder(l, op)
		default:
			res, err = p.CancelOrder(l, op)
			if errors.Is(err, ErrUnknownOrder) {
				res = Result{OpID: op.ID, Kind: op.Kind, Status: StatusFailed, Timestamp: p.now()}
				l.Results = append(l.Results, res)
				err = nil
			}
		}
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// MicroFee computes the micro-transaction fee: max(amount/1000, 100).
func MicroFee(amount uint64) uint64 {
	fee := amount / MicroFeeDivisor
	if fee < MinMicroFee {
		fee = MinMicroFee
	}
	return fee
}

// ProcessMicroTransaction transfers amount between two balance entries,
// charging the micro fee to the sender. The amount must lie in
// (0, MaxMicroAmount]. The result is Completed or Failed; a failed transfer
// leaves both balances untouched.
func (p *Processor) ProcessMicroTransaction(l *Ledger, balances map[string]uint64, from, to [20]byte, amount uint64) (Result, error) {
	if amount == 0 || amount > MaxMicroAmount {
		return Result{}, fmt.Errorf("%w: micro amount %d out of range (0,%d]", ErrValidation, amount, MaxMicroAmount)
	}
	fee := MicroFee(amount)
	res := Result{
		OpID:      fmt.Sprintf("micro-%d", len(l.Results)+1),
		Kind:      OpMicro,
		Timestamp: p.now(),
	}
	fromKey, toKey := AddrKey(from), AddrKey(to)
	if balances[fromKey] < amount+fee {
		res.Status = StatusFailed
		l.Results = append(l.Results, res)
		return res, nil
	}
	balances[fromKey] -= amount + fee
	balances[toKey] += amount
	l.FeesCollected += fee
	res.Status = StatusCompleted
	res.ExecutedAmount = amount
	res.Fee = fee
	l.Results = append(l.Results, res)
	return res, nil
}
