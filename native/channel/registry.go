package channel

import (
	"sync"

	"statechan/native/hft"
	"statechan/native/rewards"
	"statechan/observability/metrics"
)

// Counters is a snapshot of the registry's operation counters.
type Counters struct {
	ChannelsOpened   uint64 `json:"channelsOpened"`
	UpdatesAccepted  uint64 `json:"updatesAccepted"`
	UpdatesRejected  uint64 `json:"updatesRejected"`
	DisputesOpened   uint64 `json:"disputesOpened"`
	ChannelsSettled  uint64 `json:"channelsSettled"`
	MicroProcessed   uint64 `json:"microProcessed"`
	BatchesProcessed uint64 `json:"batchesProcessed"`
}

// Registry is the top-level entry point: it creates and looks up channels by
// id and owns the service-level counters. Counters are explicit fields here,
// not globals, so multiple registries can coexist in one process.
type Registry struct {
	engine  *Engine
	metrics *metrics.ChannelMetrics

	mu       sync.Mutex
	counters Counters
}

// NewRegistry wraps an engine. Metrics are optional; pass nil to run
// without instrumentation.
func NewRegistry(engine *Engine, m *metrics.ChannelMetrics) *Registry {
	return &Registry{engine: engine, metrics: m}
}

// Engine exposes the underlying engine for callers that need direct access
// (e.g. the dispute engine sharing the same state backend).
func (r *Registry) Engine() *Engine { return r.engine }

// Counters returns a snapshot of the operation counters.
func (r *Registry) Counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

func (r *Registry) bump(update func(*Counters)) {
	r.mu.Lock()
	update(&r.counters)
	r.mu.Unlock()
}

// Create opens a basic channel.
func (r *Registry) Create(id [32]byte, participants [][20]byte, timeoutSeconds uint64) (*Channel, error) {
	ch, err := r.engine.Open(id, participants, timeoutSeconds)
	if err != nil {
		return nil, err
	}
	r.bump(func(c *Counters) { c.ChannelsOpened++ })
	if r.metrics != nil {
		r.metrics.ChannelsOpened.Inc()
		r.metrics.ActiveChannels.Inc()
	}
	return ch, nil
}

// CreateEnhanced opens an enhanced channel pending activation.
func (r *Registry) CreateEnhanced(id [32]byte, creator [20]byte, participants [][20]byte, timeoutSeconds uint64, cfg ChannelConfig) (*EnhancedChannel, error) {
	ch, err := r.engine.OpenEnhanced(id, creator, participants, timeoutSeconds, cfg)
	if err != nil {
		return nil, err
	}
	r.bump(func(c *Counters) { c.ChannelsOpened++ })
	if r.metrics != nil {
		r.metrics.ChannelsOpened.Inc()
	}
	return ch, nil
}

// Lookup returns the channel stored under id.
func (r *Registry) Lookup(id [32]byte) (*Channel, error) {
	return r.engine.Get(id)
}

// LookupEnhanced returns the enhanced channel stored under id.
func (r *Registry) LookupEnhanced(id [32]byte) (*EnhancedChannel, error) {
	return r.engine.GetEnhanced(id)
}

// Update submits a state update and tracks acceptance counters.
func (r *Registry) Update(id [32]byte, update StateUpdate, signatures [][]byte) (*Channel, error) {
	ch, err := r.engine.UpdateState(id, update, signatures)
	if err != nil {
		r.bump(func(c *Counters) { c.UpdatesRejected++ })
		if r.metrics != nil {
			r.metrics.UpdatesRejected.Inc()
		}
		return nil, err
	}
	r.bump(func(c *Counters) { c.UpdatesAccepted++ })
	if r.metrics != nil {
		r.metrics.UpdatesAccepted.Inc()
	}
	return ch, nil
}

// Challenge raises a dispute against the channel's current state.
func (r *Registry) Challenge(id [32]byte, challenger [20]byte, disputedStateHash [32]byte, kind DisputeKind, evidence []byte) (*Channel, error) {
	ch, err := r.engine.Challenge(id, challenger, disputedStateHash, kind, evidence)
	if err != nil {
		return nil, err
	}
	r.bump(func(c *Counters) { c.DisputesOpened++ })
	if r.metrics != nil {
		r.metrics.DisputesOpened.Inc()
	}
	return ch, nil
}

// Settle finalises the channel after its timeout.
func (r *Registry) Settle(id [32]byte, finalCalculations []rewards.RewardCalculation) (*Channel, error) {
	ch, err := r.engine.Settle(id, finalCalculations)
	if err != nil {
		return nil, err
	}
	r.bump(func(c *Counters) { c.ChannelsSettled++ })
	if r.metrics != nil {
		r.metrics.ChannelsSettled.Inc()
		r.metrics.ActiveChannels.Dec()
	}
	return ch, nil
}

// ProcessOperations applies a batch against an enhanced channel ledger.
func (r *Registry) ProcessOperations(id [32]byte, ops []hft.Operation) ([]hft.Result, error) {
	results, err := r.engine.ProcessOperations(id, ops)
	if err != nil {
		return nil, err
	}
	r.bump(func(c *Counters) { c.BatchesProcessed++ })
	return results, nil
}

// ProcessMicroTransaction applies a micro-payment inside an enhanced
// channel.
func (r *Registry) ProcessMicroTransaction(id [32]byte, from, to [20]byte, amount uint64) (hft.Result, error) {
	res, err := r.engine.ProcessMicroTransaction(id, from, to, amount)
	if err != nil {
		return hft.Result{}, err
	}
	r.bump(func(c *Counters) { c.MicroProcessed++ })
	return res, nil
}

// ValidateState runs the read-only invariant check.
func (r *Registry) ValidateState(id [32]byte) error {
	return r.engine.ValidateState(id)
}
