package channel

import (
	"errors"
	"testing"

	"statechan/native/hft"
)

func openEnhanced(t *testing.T, engine *Engine, id [32]byte, signers []signer, cfg ChannelConfig) *EnhancedChannel {
	t.Helper()
	ch, err := engine.OpenEnhanced(id, signers[0].addr, participantSet(signers), 3600, cfg)
	if err != nil {
		t.Fatalf("open enhanced: %v", err)
	}
	return ch
}

func activateEnhanced(t *testing.T, engine *Engine, id [32]byte, caller [20]byte) *EnhancedChannel {
	t.Helper()
	ch, err := engine.Activate(id, caller)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	return ch
}

func TestOpenEnhancedRequiresCreatorParticipant(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 2)
	outsider := newSigner(t)
	_, err := engine.OpenEnhanced(channelID(0x20), outsider.addr, participantSet(signers), 3600, DefaultChannelConfig())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestOpenEnhancedValidatesConfig(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 2)
	cfg := DefaultChannelConfig()
	cfg.TradeFeeBps = hft.FeeBpsDenominator + 1
	_, err := engine.OpenEnhanced(channelID(0x21), signers[0].addr, participantSet(signers), 3600, cfg)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOpenEnhancedStartsPending(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 3)
	ch := openEnhanced(t, engine, channelID(0x22), signers, DefaultChannelConfig())
	if ch.Status != StatusPendingActivation {
		t.Fatalf("expected pending activation, got %s", ch.Status)
	}
	if ch.Activated {
		t.Fatal("channel must not be activated at creation")
	}
	if len(ch.Balances) != len(signers) {
		t.Fatalf("expected %d balance entries, got %d", len(signers), len(ch.Balances))
	}
	for _, s := range signers {
		if ch.Balances[hft.AddrKey(s.addr)] != 0 {
			t.Fatal("fresh balances must be zero")
		}
	}
}

func TestActivateTransitionsToActive(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 2)
	id := channelID(0x23)
	openEnhanced(t, engine, id, signers, DefaultChannelConfig())

	outsider := newSigner(t)
	if _, err := engine.Activate(id, outsider.addr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected authorization error for outsider, got %v", err)
	}

	ch := activateEnhanced(t, engine, id, signers[1].addr)
	if ch.Status != StatusActive || !ch.Activated {
		t.Fatalf("expected activated channel, got status %s activated %v", ch.Status, ch.Activated)
	}
	if _, err := engine.Activate(id, signers[0].addr); !errors.Is(err, ErrState) {
		t.Fatalf("expected state error on second activation, got %v", err)
	}
}

func TestAddPendingOperationRequiresActiveChannel(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 2)
	id := channelID(0x24)
	openEnhanced(t, engine, id, signers, DefaultChannelConfig())
	op := hft.NewOperation(hft.OpMarketBuy, signers[0].addr, 1000, 0)
	_, err := engine.AddPendingOperation(id, signers[0].addr, op, participantSet(signers))
	if !errors.Is(err, ErrState) {
		t.Fatalf("expected state error before activation, got %v", err)
	}
}

func TestAddPendingOperationRejectsUnlistedProposer(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 3)
	id := channelID(0x25)
	openEnhanced(t, engine, id, signers, DefaultChannelConfig())
	activateEnhanced(t, engine, id, signers[0].addr)
	op := hft.NewOperation(hft.OpMarketBuy, signers[1].addr, 1000, 0)
	required := [][20]byte{signers[1].addr, signers[2].addr}
	_, err := engine.AddPendingOperation(id, signers[0].addr, op, required)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected authorization error for unlisted proposer, got %v", err)
	}
}

func TestAddPendingOperationRejectsForeignSigner(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 2)
	outsider := newSigner(t)
	id := channelID(0x26)
	openEnhanced(t, engine, id, signers, DefaultChannelConfig())
	activateEnhanced(t, engine, id, signers[0].addr)
	op := hft.NewOperation(hft.OpMarketBuy, signers[0].addr, 1000, 0)
	required := [][20]byte{signers[0].addr, outsider.addr}
	_, err := engine.AddPendingOperation(id, signers[0].addr, op, required)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for foreign signer, got %v", err)
	}
}

func TestConfirmOperationReachesThreshold(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 3)
	id := channelID(0x27)
	openEnhanced(t, engine, id, signers, DefaultChannelConfig())
	activateEnhanced(t, engine, id, signers[0].addr)

	op := hft.NewOperation(hft.OpMarketBuy, signers[0].addr, 10_000, 0)
	pending, err := engine.AddPendingOperation(id, signers[0].addr, op, participantSet(signers))
	if err != nil {
		t.Fatalf("add pending: %v", err)
	}

	digest := ConfirmationDigest(id, pending.ID)
	applied, err := engine.ConfirmOperation(id, pending.ID, signers[0].addr, sign(t, signers[0], digest))
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if applied {
		t.Fatal("one of three confirmations must not reach the majority threshold")
	}

	applied, err = engine.ConfirmOperation(id, pending.ID, signers[1].addr, sign(t, signers[1], digest))
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if !applied {
		t.Fatal("two of three confirmations must apply the operation")
	}

	ch, err := engine.GetEnhanced(id)
	if err != nil {
		t.Fatalf("get enhanced: %v", err)
	}
	if len(ch.Pending) != 0 {
		t.Fatalf("applied operation must leave the queue, %d still pending", len(ch.Pending))
	}
	if len(ch.Ledger.Results) != 1 {
		t.Fatalf("expected 1 ledger result, got %d", len(ch.Ledger.Results))
	}
	res := ch.Ledger.Results[0]
	if res.Status != hft.StatusCompleted {
		t.Fatalf("expected completed result, got %s", res.Status)
	}
	// 30 bps of 10000
	if res.Fee != 30 || ch.Ledger.FeesCollected != 30 {
		t.Fatalf("expected trade fee 30, got result %d collected %d", res.Fee, ch.Ledger.FeesCollected)
	}
}

func TestConfirmOperationRejectsMismatchedSignature(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 2)
	id := channelID(0x28)
	openEnhanced(t, engine, id, signers, DefaultChannelConfig())
	activateEnhanced(t, engine, id, signers[0].addr)

	op := hft.NewOperation(hft.OpMarketSell, signers[0].addr, 500, 0)
	pending, err := engine.AddPendingOperation(id, signers[0].addr, op, participantSet(signers))
	if err != nil {
		t.Fatalf("add pending: %v", err)
	}
	digest := ConfirmationDigest(id, pending.ID)
	// signer[1] cannot confirm on signer[0]'s behalf
	_, err = engine.ConfirmOperation(id, pending.ID, signers[0].addr, sign(t, signers[1], digest))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestConfirmOperationExplicitThreshold(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 3)
	id := channelID(0x29)
	cfg := DefaultChannelConfig()
	cfg.ConfirmationThreshold = 1
	openEnhanced(t, engine, id, signers, cfg)
	activateEnhanced(t, engine, id, signers[0].addr)

	op := hft.NewOperation(hft.OpLimitBuy, signers[0].addr, 500, 25)
	pending, err := engine.AddPendingOperation(id, signers[0].addr, op, participantSet(signers))
	if err != nil {
		t.Fatalf("add pending: %v", err)
	}
	digest := ConfirmationDigest(id, pending.ID)
	applied, err := engine.ConfirmOperation(id, pending.ID, signers[2].addr, sign(t, signers[2], digest))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !applied {
		t.Fatal("explicit threshold of one must apply on the first confirmation")
	}
	ch, err := engine.GetEnhanced(id)
	if err != nil {
		t.Fatalf("get enhanced: %v", err)
	}
	if _, ok := ch.Ledger.OpenOrders[op.ID]; !ok {
		t.Fatal("applied limit order must be queued in the ledger")
	}
}

func TestPendingQueueBound(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 2)
	id := channelID(0x2A)
	cfg := DefaultChannelConfig()
	cfg.MaxPendingOperations = 1
	openEnhanced(t, engine, id, signers, cfg)
	activateEnhanced(t, engine, id, signers[0].addr)

	op := hft.NewOperation(hft.OpMarketBuy, signers[0].addr, 100, 0)
	if _, err := engine.AddPendingOperation(id, signers[0].addr, op, participantSet(signers)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	second := hft.NewOperation(hft.OpMarketBuy, signers[0].addr, 200, 0)
	_, err := engine.AddPendingOperation(id, signers[0].addr, second, participantSet(signers))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error on full queue, got %v", err)
	}
}

func TestProcessOperationsBatch(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 2)
	id := channelID(0x2B)
	openEnhanced(t, engine, id, signers, DefaultChannelConfig())
	activateEnhanced(t, engine, id, signers[0].addr)

	limit := hft.NewOperation(hft.OpLimitSell, signers[0].addr, 400, 12)
	ops := []hft.Operation{
		hft.NewOperation(hft.OpMarketBuy, signers[0].addr, 10_000, 0),
		limit,
		hft.NewCancel(signers[0].addr, limit.ID),
	}
	results, err := engine.ProcessOperations(id, ops)
	if err != nil {
		t.Fatalf("process operations: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Status != hft.StatusCompleted || results[1].Status != hft.StatusPending || results[2].Status != hft.StatusCancelled {
		t.Fatalf("unexpected statuses: %s %s %s", results[0].Status, results[1].Status, results[2].Status)
	}
	ch, err := engine.GetEnhanced(id)
	if err != nil {
		t.Fatalf("get enhanced: %v", err)
	}
	if len(ch.Ledger.OpenOrders) != 0 {
		t.Fatal("cancelled limit order must not stay open")
	}
}

func TestCreditRequiresParticipant(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 2)
	outsider := newSigner(t)
	id := channelID(0x2C)
	openEnhanced(t, engine, id, signers, DefaultChannelConfig())
	if _, err := engine.Credit(id, outsider.addr, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestProcessMicroTransactionMovesBalances(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 2)
	id := channelID(0x2D)
	openEnhanced(t, engine, id, signers, DefaultChannelConfig())
	activateEnhanced(t, engine, id, signers[0].addr)
	if _, err := engine.Credit(id, signers[0].addr, 10_000); err != nil {
		t.Fatalf("credit: %v", err)
	}

	res, err := engine.ProcessMicroTransaction(id, signers[0].addr, signers[1].addr, 5000)
	if err != nil {
		t.Fatalf("micro transaction: %v", err)
	}
	if res.Status != hft.StatusCompleted {
		t.Fatalf("expected completed result, got %s", res.Status)
	}
	// fee = max(5000/1000, 100) = 100
	if res.Fee != 100 {
		t.Fatalf("expected fee 100, got %d", res.Fee)
	}
	ch, err := engine.GetEnhanced(id)
	if err != nil {
		t.Fatalf("get enhanced: %v", err)
	}
	if got := ch.Balances[hft.AddrKey(signers[0].addr)]; got != 4900 {
		t.Fatalf("expected sender balance 4900, got %d", got)
	}
	if got := ch.Balances[hft.AddrKey(signers[1].addr)]; got != 5000 {
		t.Fatalf("expected recipient balance 5000, got %d", got)
	}
	if ch.Ledger.FeesCollected != 100 {
		t.Fatalf("expected collected fees 100, got %d", ch.Ledger.FeesCollected)
	}
}

func TestProcessMicroTransactionRejectsOutsider(t *testing.T) {
	engine, _, _ := newTestEngine()
	signers := newSigners(t, 2)
	outsider := newSigner(t)
	id := channelID(0x2E)
	openEnhanced(t, engine, id, signers, DefaultChannelConfig())
	activateEnhanced(t, engine, id, signers[0].addr)
	_, err := engine.ProcessMicroTransaction(id, signers[0].addr, outsider.addr, 100)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}
