package manager

import (
	"context"
	"errors"
	"os"
	"testing"

	"ntt/internal/custody"
	"ntt/internal/ratelimit"
	"ntt/internal/storage"
	"ntt/internal/types"
)

const (
	testChain     = types.ChainID(7)
	testPeerChain = types.ChainID(2)
)

var (
	testManagerAddr = fillAddr(0xAA)
	testToken       = fillAddr(0xBB)
	testCustody     = fillAddr(0xCC)
	testOwner       = fillAddr(0x01)
	testSender      = fillAddr(0x10)
	testRecipient   = fillAddr(0x20)
	testRemoteMgr   = fillAddr(0x55)
	testRemoteXcvr  = fillAddr(0x66)
)

func fillAddr(b byte) types.UniversalAddress {
	var a types.UniversalAddress
	for i := range a {
		a[i] = b
	}

	return a
}

// newTestStore creates a temporary storage cleaned up with the test.
func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	dir, err := os.MkdirTemp("", "manager-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := storage.New(dir)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return st
}

func testConfig(mode types.Mode, outboundLimit uint64) Config {
	return Config{
		Address:       testManagerAddr,
		Chain:         testChain,
		Mode:          mode,
		Token:         testToken,
		TokenDecimals: 8,
		Custody:       testCustody,
		Owner:         testOwner,
		Outbound:      ratelimit.New(outboundLimit),
	}
}

func newTestManager(t *testing.T, mode types.Mode, outboundLimit uint64) (*Manager, *custody.AccountLedger) {
	t.Helper()

	st := newTestStore(t)
	ledger := custody.NewAccountLedger(st)

	m, err := New(st, ledger, testConfig(mode, outboundLimit))
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}

	return m, ledger
}

// setupPeer registers the remote manager on the test peer chain.
func setupPeer(t *testing.T, m *Manager, inboundLimit uint64) {
	t.Helper()

	if err := m.SetPeer(testOwner, testPeerChain, testRemoteMgr, 8, inboundLimit); err != nil {
		t.Fatalf("set peer: %v", err)
	}
}

// setupTransceivers registers n transceivers trusting the remote
// transceiver on the peer chain and binds a recording emitter to each.
func setupTransceivers(t *testing.T, m *Manager, n int) []*fakeEmitter {
	t.Helper()

	emitters := make([]*fakeEmitter, n)
	for i := 0; i < n; i++ {
		index, err := m.RegisterTransceiver(testOwner, "wormhole")
		if err != nil {
			t.Fatalf("register transceiver %d: %v", i, err)
		}
		if err := m.SetTransceiverPeer(testOwner, index, testPeerChain, testRemoteXcvr); err != nil {
			t.Fatalf("set transceiver peer %d: %v", i, err)
		}

		emitters[i] = &fakeEmitter{}
		m.BindEmitter(index, emitters[i])
	}

	return emitters
}

func mint(t *testing.T, ledger *custody.AccountLedger, to types.UniversalAddress, amount uint64) {
	t.Helper()

	if err := ledger.Mint(to, amount); err != nil {
		t.Fatalf("mint %d: %v", amount, err)
	}
}

func balance(t *testing.T, ledger custody.Ledger, addr types.UniversalAddress) uint64 {
	t.Helper()

	b, err := ledger.Balance(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}

	return b
}

// fakeEmitter records emitted payloads and can be told to fail.
type fakeEmitter struct {
	payloads [][]byte
	fail     bool
}

func (e *fakeEmitter) Emit(_ context.Context, payload []byte) error {
	if e.fail {
		return errors.New("transport down")
	}

	p := make([]byte, len(payload))
	copy(p, payload)
	e.payloads = append(e.payloads, p)

	return nil
}

// countingLedger counts custody credits to check exactly-once release.
type countingLedger struct {
	custody.Ledger
	mints     int
	transfers int
}

func (c *countingLedger) Mint(to types.UniversalAddress, amount uint64) error {
	c.mints++
	return c.Ledger.Mint(to, amount)
}

func (c *countingLedger) Transfer(from, to types.UniversalAddress, amount uint64) error {
	c.transfers++
	return c.Ledger.Transfer(from, to, amount)
}

// buildAttestation wraps a remote transfer in the wire envelope and the
// attestation carrying it.
func buildAttestation(id byte, amount uint64, recipient types.UniversalAddress) (types.VerifiedAttestation, types.Digest) {
	transfer := types.NativeTokenTransfer{
		Amount:         types.TrimmedAmount{Amount: amount, Decimals: 8},
		SourceToken:    testToken,
		Recipient:      recipient,
		RecipientChain: testChain,
	}

	var msgID [32]byte
	msgID[0] = id

	msg := types.ManagerMessage{
		ID:      msgID,
		Sender:  fillAddr(0x99),
		Payload: transfer.Encode(),
	}
	envelope := types.TransceiverEnvelope{
		SourceManager:    testRemoteMgr,
		RecipientManager: testManagerAddr,
		Message:          msg,
	}

	att := types.VerifiedAttestation{
		EmitterChain:   testPeerChain,
		EmitterAddress: testRemoteXcvr,
		Sequence:       uint64(id),
		Payload:        envelope.Encode(),
	}

	return att, msg.Digest(testPeerChain)
}

func TestNew_PersistsConfig(t *testing.T) {
	dir, err := os.MkdirTemp("", "manager-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := storage.New(dir)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	ledger := custody.NewAccountLedger(st)
	m, err := New(st, ledger, testConfig(types.Locking, 1000))
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	if err := m.SetOutboundLimit(testOwner, 500); err != nil {
		t.Fatalf("set outbound limit: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close storage: %v", err)
	}

	st, err = storage.New(dir)
	if err != nil {
		t.Fatalf("reopen storage: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	// The stored configuration must win over the init argument.
	reopened, err := New(st, custody.NewAccountLedger(st), testConfig(types.Burning, 9999))
	if err != nil {
		t.Fatalf("reopen manager: %v", err)
	}

	status, err := reopened.Status(0)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Mode != types.Locking {
		t.Fatalf("expected stored locking mode, got %s", status.Mode)
	}
	if status.OutboundLimit != 500 {
		t.Fatalf("expected stored limit 500, got %d", status.OutboundLimit)
	}
	if status.Threshold != 1 {
		t.Fatalf("expected default threshold 1, got %d", status.Threshold)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	st := newTestStore(t)
	ledger := custody.NewAccountLedger(st)

	cfg := testConfig(types.Locking, 1000)
	cfg.Owner = types.UniversalAddress{}

	if _, err := New(st, ledger, cfg); err == nil {
		t.Fatal("expected error for zero owner, got nil")
	}
}

func TestTransfer_Locking(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	emitters := setupTransceivers(t, m, 1)
	mint(t, ledger, testSender, 1000)

	receipt, err := m.Transfer(context.Background(), testSender, 400, testPeerChain, testRecipient, false, 0)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if receipt.Sequence != 0 {
		t.Fatalf("expected sequence 0, got %d", receipt.Sequence)
	}
	if receipt.Queued {
		t.Fatal("expected immediate transfer, got queued")
	}
	if receipt.Dust != 0 {
		t.Fatalf("expected no dust, got %d", receipt.Dust)
	}

	if got := balance(t, ledger, testSender); got != 600 {
		t.Fatalf("expected sender balance 600, got %d", got)
	}
	if got := balance(t, ledger, testCustody); got != 400 {
		t.Fatalf("expected custody balance 400, got %d", got)
	}
	if got := m.OutboundCapacity(0); got != 600 {
		t.Fatalf("expected outbound capacity 600, got %d", got)
	}

	if len(emitters[0].payloads) != 1 {
		t.Fatalf("expected 1 emission, got %d", len(emitters[0].payloads))
	}

	envelope, err := types.DecodeTransceiverEnvelope(emitters[0].payloads[0])
	if err != nil {
		t.Fatalf("decode emitted envelope: %v", err)
	}
	if envelope.SourceManager != testManagerAddr {
		t.Fatalf("expected source %s, got %s", testManagerAddr.Short(), envelope.SourceManager.Short())
	}
	if envelope.RecipientManager != testRemoteMgr {
		t.Fatalf("expected recipient manager %s, got %s", testRemoteMgr.Short(), envelope.RecipientManager.Short())
	}

	transfer, err := types.DecodeNativeTokenTransfer(envelope.Message.Payload)
	if err != nil {
		t.Fatalf("decode emitted transfer: %v", err)
	}
	if transfer.Amount.Amount != 400 || transfer.Amount.Decimals != 8 {
		t.Fatalf("expected 400@8, got %d@%d", transfer.Amount.Amount, transfer.Amount.Decimals)
	}
	if transfer.Recipient != testRecipient {
		t.Fatalf("expected recipient %s, got %s", testRecipient.Short(), transfer.Recipient.Short())
	}
	if transfer.RecipientChain != testPeerChain {
		t.Fatalf("expected chain %d, got %d", testPeerChain, transfer.RecipientChain)
	}

	item, err := m.OutboxItem(0)
	if err != nil {
		t.Fatalf("outbox item: %v", err)
	}
	if item == nil || !item.Consumed {
		t.Fatal("expected consumed outbox item")
	}
	if !item.Emitted.Get(0) {
		t.Fatal("expected emission mark for transceiver 0")
	}
}

func TestTransfer_Burning(t *testing.T) {
	m, ledger := newTestManager(t, types.Burning, 1000)
	setupPeer(t, m, 1000)
	mint(t, ledger, testSender, 1000)

	if _, err := m.Transfer(context.Background(), testSender, 400, testPeerChain, testRecipient, false, 0); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if got := balance(t, ledger, testSender); got != 600 {
		t.Fatalf("expected sender balance 600, got %d", got)
	}

	supply, err := ledger.TotalSupply()
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	if supply != 600 {
		t.Fatalf("expected supply 600 after burn, got %d", supply)
	}
}

func TestTransfer_DustStaysWithSender(t *testing.T) {
	st := newTestStore(t)
	ledger := custody.NewAccountLedger(st)

	cfg := testConfig(types.Locking, 2_000_000_000_000_000_000)
	cfg.TokenDecimals = 18

	m, err := New(st, ledger, cfg)
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	setupPeer(t, m, 1000)

	const amount = 1_234_567_890_123_456_789
	mint(t, ledger, testSender, amount)

	receipt, err := m.Transfer(context.Background(), testSender, amount, testPeerChain, testRecipient, false, 0)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if receipt.Dust != 123_456_789 {
		t.Fatalf("expected dust 123456789, got %d", receipt.Dust)
	}

	// Only the trimmed portion moves; the dust never leaves the sender.
	if got := balance(t, ledger, testSender); got != 123_456_789 {
		t.Fatalf("expected sender to keep the dust, got %d", got)
	}
	if got := balance(t, ledger, testCustody); got != 1_234_567_890_000_000_000 {
		t.Fatalf("expected custody 1234567890000000000, got %d", got)
	}

	item, err := m.OutboxItem(0)
	if err != nil {
		t.Fatalf("outbox item: %v", err)
	}
	if item.Amount.Amount != 123_456_789 || item.Amount.Decimals != 8 {
		t.Fatalf("expected 123456789@8, got %d@%d", item.Amount.Amount, item.Amount.Decimals)
	}
}

func TestTransfer_Validation(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	mint(t, ledger, testSender, 1000)

	ctx := context.Background()

	if _, err := m.Transfer(ctx, testSender, 0, testPeerChain, testRecipient, false, 0); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if _, err := m.Transfer(ctx, testSender, 400, testPeerChain, types.UniversalAddress{}, false, 0); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient, got %v", err)
	}
	if _, err := m.Transfer(ctx, testSender, 400, types.ChainID(9), testRecipient, false, 0); !errors.Is(err, ErrNoPeerRegistered) {
		t.Fatalf("expected ErrNoPeerRegistered, got %v", err)
	}

	if err := m.Pause(testOwner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := m.Transfer(ctx, testSender, 400, testPeerChain, testRecipient, false, 0); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	mint(t, ledger, testSender, 100)

	_, err := m.Transfer(context.Background(), testSender, 400, testPeerChain, testRecipient, false, 0)
	if !errors.Is(err, custody.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// A failed custody action must not burn a sequence number.
	receipt, err := m.Transfer(context.Background(), testSender, 100, testPeerChain, testRecipient, false, 0)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if receipt.Sequence != 0 {
		t.Fatalf("expected sequence 0 after failed attempt, got %d", receipt.Sequence)
	}
}

func TestTransfer_RateLimitRejected(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	mint(t, ledger, testSender, 5000)

	ctx := context.Background()

	if _, err := m.Transfer(ctx, testSender, 800, testPeerChain, testRecipient, false, 0); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// 800 of 1000 consumed; 500 more does not fit and queueing is off.
	_, err := m.Transfer(ctx, testSender, 500, testPeerChain, testRecipient, false, 0)
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
	}

	// The rejection must leave no trace: no sequence, no custody.
	if got := balance(t, ledger, testSender); got != 4200 {
		t.Fatalf("expected sender balance 4200, got %d", got)
	}
	receipt, err := m.Transfer(ctx, testSender, 100, testPeerChain, testRecipient, false, 0)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if receipt.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", receipt.Sequence)
	}
}

func TestTransfer_AboveLimitAlwaysRejected(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	mint(t, ledger, testSender, 5000)

	// More than the limit can never fit, queueing or not.
	_, err := m.Transfer(context.Background(), testSender, 1001, testPeerChain, testRecipient, true, 0)
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
	}
}

func TestTransfer_SequencesAreContiguous(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	mint(t, ledger, testSender, 1000)

	ctx := context.Background()
	for want := uint64(0); want < 5; want++ {
		receipt, err := m.Transfer(ctx, testSender, 100, testPeerChain, testRecipient, false, 0)
		if err != nil {
			t.Fatalf("transfer %d: %v", want, err)
		}
		if receipt.Sequence != want {
			t.Fatalf("expected sequence %d, got %d", want, receipt.Sequence)
		}
	}
}

func TestTransfer_QueuedAndReleased(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	emitters := setupTransceivers(t, m, 1)
	mint(t, ledger, testSender, 2000)

	ctx := context.Background()

	if _, err := m.Transfer(ctx, testSender, 800, testPeerChain, testRecipient, false, 0); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// 200 left of 1000; 500 queues, short 300: 300*86400/1000 = 25920s.
	receipt, err := m.Transfer(ctx, testSender, 500, testPeerChain, testRecipient, true, 0)
	if err != nil {
		t.Fatalf("queued transfer: %v", err)
	}
	if !receipt.Queued {
		t.Fatal("expected queued transfer")
	}
	if receipt.ReleaseAt != 25920 {
		t.Fatalf("expected release at 25920, got %d", receipt.ReleaseAt)
	}

	// Queued transfers are escrowed immediately.
	if got := balance(t, ledger, testCustody); got != 1300 {
		t.Fatalf("expected custody 1300, got %d", got)
	}

	// A queued item does not emit until released.
	if len(emitters[0].payloads) != 1 {
		t.Fatalf("expected only the first transfer emitted, got %d", len(emitters[0].payloads))
	}

	if _, err := m.ReleaseOutbound(ctx, receipt.Sequence, 25919); !errors.Is(err, ErrCantReleaseYet) {
		t.Fatalf("expected ErrCantReleaseYet, got %v", err)
	}

	released, err := m.ReleaseOutbound(ctx, receipt.Sequence, 25920)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Queued {
		t.Fatal("expected release, still queued")
	}
	if len(emitters[0].payloads) != 2 {
		t.Fatalf("expected 2 emissions after release, got %d", len(emitters[0].payloads))
	}

	// Capacity was exactly consumed at drain time.
	if got := m.OutboundCapacity(25920); got != 0 {
		t.Fatalf("expected capacity 0, got %d", got)
	}

	item, err := m.OutboxItem(receipt.Sequence)
	if err != nil {
		t.Fatalf("outbox item: %v", err)
	}
	if !item.Consumed {
		t.Fatal("expected consumed item after release")
	}
}

func TestReleaseOutbound_Missing(t *testing.T) {
	m, _ := newTestManager(t, types.Locking, 1000)

	_, err := m.ReleaseOutbound(context.Background(), 42, 0)
	if !errors.Is(err, ErrOutboxItemNotFound) {
		t.Fatalf("expected ErrOutboxItemNotFound, got %v", err)
	}
}

func TestCancelOutbound(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	mint(t, ledger, testSender, 2000)

	ctx := context.Background()

	if _, err := m.Transfer(ctx, testSender, 900, testPeerChain, testRecipient, false, 0); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	receipt, err := m.Transfer(ctx, testSender, 500, testPeerChain, testRecipient, true, 0)
	if err != nil {
		t.Fatalf("queued transfer: %v", err)
	}
	if !receipt.Queued {
		t.Fatal("expected queued transfer")
	}

	if err := m.CancelOutbound(testRecipient, receipt.Sequence); !errors.Is(err, ErrNotSender) {
		t.Fatalf("expected ErrNotSender, got %v", err)
	}

	if err := m.CancelOutbound(testSender, receipt.Sequence); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The queued escrow is refunded in full.
	if got := balance(t, ledger, testSender); got != 1100 {
		t.Fatalf("expected sender balance 1100, got %d", got)
	}
	if got := balance(t, ledger, testCustody); got != 900 {
		t.Fatalf("expected custody balance 900, got %d", got)
	}

	if err := m.CancelOutbound(testSender, receipt.Sequence); !errors.Is(err, ErrAlreadyInState) {
		t.Fatalf("expected ErrAlreadyInState, got %v", err)
	}
	if _, err := m.ReleaseOutbound(ctx, receipt.Sequence, 99999); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	// A released transfer can no longer be cancelled.
	if err := m.CancelOutbound(testSender, 0); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased, got %v", err)
	}
}

func TestTransfer_EmissionRetry(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	emitters := setupTransceivers(t, m, 2)
	emitters[1].fail = true
	mint(t, ledger, testSender, 1000)

	ctx := context.Background()

	receipt, err := m.Transfer(ctx, testSender, 400, testPeerChain, testRecipient, false, 0)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	item, err := m.OutboxItem(receipt.Sequence)
	if err != nil {
		t.Fatalf("outbox item: %v", err)
	}
	if !item.Emitted.Get(0) || item.Emitted.Get(1) {
		t.Fatalf("expected only transceiver 0 marked, got %v", item.Emitted)
	}

	// Recovered transport: release retries only the missing transceiver.
	emitters[1].fail = false
	if _, err := m.ReleaseOutbound(ctx, receipt.Sequence, 0); err != nil {
		t.Fatalf("release retry: %v", err)
	}
	if len(emitters[0].payloads) != 1 {
		t.Fatalf("expected no duplicate emission, got %d", len(emitters[0].payloads))
	}
	if len(emitters[1].payloads) != 1 {
		t.Fatalf("expected retried emission, got %d", len(emitters[1].payloads))
	}

	if _, err := m.ReleaseOutbound(ctx, receipt.Sequence, 0); !errors.Is(err, ErrAlreadyEmitted) {
		t.Fatalf("expected ErrAlreadyEmitted, got %v", err)
	}
}

func TestTransfer_BackflowRefillsInbound(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	mint(t, ledger, testSender, 1000)

	// Start the inbound pool at 100, then raise the limit: the stored
	// capacity stays, leaving room to observe the backflow.
	setupPeer(t, m, 100)
	if err := m.SetInboundLimit(testOwner, testPeerChain, 1000); err != nil {
		t.Fatalf("raise inbound limit: %v", err)
	}
	if got, err := m.InboundCapacity(testPeerChain, 0); err != nil || got != 100 {
		t.Fatalf("expected inbound capacity 100, got %d (%v)", got, err)
	}

	if _, err := m.Transfer(context.Background(), testSender, 400, testPeerChain, testRecipient, false, 0); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// The outbound transfer frees inbound room for the return path.
	if got, err := m.InboundCapacity(testPeerChain, 0); err != nil || got != 500 {
		t.Fatalf("expected inbound capacity 500 after backflow, got %d (%v)", got, err)
	}
}

func TestAttestAndRedeem_Locking(t *testing.T) {
	st := newTestStore(t)
	ledger := &countingLedger{Ledger: custody.NewAccountLedger(st)}

	m, err := New(st, ledger, testConfig(types.Locking, 1000))
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	setupPeer(t, m, 1000)
	setupTransceivers(t, m, 3)
	if err := m.SetThreshold(testOwner, 2); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	mint(t, ledger.Ledger.(*custody.AccountLedger), testCustody, 1000)

	att, digest := buildAttestation(1, 400, testRecipient)

	// One vote of two: approved must stay false and redeem must fail.
	got, err := m.Attest(att, 0)
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	if got != digest {
		t.Fatalf("expected digest %s, got %s", digest.Short(), got.Short())
	}

	approved, err := m.IsApproved(testPeerChain, digest)
	if err != nil || approved {
		t.Fatalf("expected not approved, got %t (%v)", approved, err)
	}
	if _, err := m.Redeem(testPeerChain, digest, 0); !errors.Is(err, ErrTransferNotApproved) {
		t.Fatalf("expected ErrTransferNotApproved, got %v", err)
	}

	// A replayed vote from the same transceiver must not count twice.
	if _, err := m.Attest(att, 0); err != nil {
		t.Fatalf("replay attest: %v", err)
	}
	status, err := m.InboxItem(testPeerChain, digest)
	if err != nil {
		t.Fatalf("inbox item: %v", err)
	}
	if status.Votes != 1 {
		t.Fatalf("expected 1 vote after replay, got %d", status.Votes)
	}

	if _, err := m.Attest(att, 1); err != nil {
		t.Fatalf("attest: %v", err)
	}
	approved, err = m.IsApproved(testPeerChain, digest)
	if err != nil || !approved {
		t.Fatalf("expected approved, got %t (%v)", approved, err)
	}

	receipt, err := m.Redeem(testPeerChain, digest, 0)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !receipt.Released || receipt.Amount != 400 {
		t.Fatalf("expected release of 400, got %+v", receipt)
	}

	if got := balance(t, ledger, testRecipient); got != 400 {
		t.Fatalf("expected recipient balance 400, got %d", got)
	}
	if got := balance(t, ledger, testCustody); got != 600 {
		t.Fatalf("expected custody balance 600, got %d", got)
	}

	// Exactly one custody credit, ever.
	if ledger.transfers != 1 {
		t.Fatalf("expected 1 custody transfer, got %d", ledger.transfers)
	}
	if _, err := m.Redeem(testPeerChain, digest, 0); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased, got %v", err)
	}
	if ledger.transfers != 1 {
		t.Fatalf("expected still 1 custody transfer, got %d", ledger.transfers)
	}

	executed, err := m.IsExecuted(testPeerChain, digest)
	if err != nil || !executed {
		t.Fatalf("expected executed, got %t (%v)", executed, err)
	}

	// Extra votes on a released transfer are recorded without effect.
	if _, err := m.Attest(att, 2); err != nil {
		t.Fatalf("late attest: %v", err)
	}
	if _, err := m.Redeem(testPeerChain, digest, 0); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased after late vote, got %v", err)
	}
}

func TestAttestAndRedeem_BurningMints(t *testing.T) {
	st := newTestStore(t)
	ledger := &countingLedger{Ledger: custody.NewAccountLedger(st)}

	m, err := New(st, ledger, testConfig(types.Burning, 1000))
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	setupPeer(t, m, 1000)
	setupTransceivers(t, m, 1)

	att, digest := buildAttestation(1, 400, testRecipient)
	if _, err := m.Attest(att, 0); err != nil {
		t.Fatalf("attest: %v", err)
	}

	receipt, err := m.Redeem(testPeerChain, digest, 0)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !receipt.Released {
		t.Fatal("expected release")
	}

	if got := balance(t, ledger, testRecipient); got != 400 {
		t.Fatalf("expected minted balance 400, got %d", got)
	}
	if ledger.mints != 1 {
		t.Fatalf("expected 1 mint, got %d", ledger.mints)
	}
}

func TestAttest_Validation(t *testing.T) {
	m, _ := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	setupTransceivers(t, m, 2)

	att, _ := buildAttestation(1, 400, testRecipient)

	if _, err := m.Attest(att, 9); !errors.Is(err, ErrUnknownOrDisabledTransceiver) {
		t.Fatalf("expected ErrUnknownOrDisabledTransceiver, got %v", err)
	}

	if err := m.SetTransceiverEnabled(testOwner, 1, false); err != nil {
		t.Fatalf("disable transceiver: %v", err)
	}
	if _, err := m.Attest(att, 1); !errors.Is(err, ErrUnknownOrDisabledTransceiver) {
		t.Fatalf("expected ErrUnknownOrDisabledTransceiver for disabled, got %v", err)
	}

	wrongEmitter := att
	wrongEmitter.EmitterAddress = fillAddr(0x77)
	if _, err := m.Attest(wrongEmitter, 0); !errors.Is(err, ErrTransceiverPeerMismatch) {
		t.Fatalf("expected ErrTransceiverPeerMismatch, got %v", err)
	}

	wrongChain := att
	wrongChain.EmitterChain = types.ChainID(9)
	if _, err := m.Attest(wrongChain, 0); !errors.Is(err, ErrTransceiverPeerMismatch) {
		t.Fatalf("expected ErrTransceiverPeerMismatch for unknown chain, got %v", err)
	}

	garbage := att
	garbage.Payload = []byte{0x01, 0x02}
	if _, err := m.Attest(garbage, 0); err == nil {
		t.Fatal("expected decode error, got nil")
	}
}

func TestAttest_EnvelopeChecks(t *testing.T) {
	m, _ := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	setupTransceivers(t, m, 1)

	build := func(mutate func(*types.TransceiverEnvelope)) types.VerifiedAttestation {
		transfer := types.NativeTokenTransfer{
			Amount:         types.TrimmedAmount{Amount: 400, Decimals: 8},
			SourceToken:    testToken,
			Recipient:      testRecipient,
			RecipientChain: testChain,
		}
		envelope := types.TransceiverEnvelope{
			SourceManager:    testRemoteMgr,
			RecipientManager: testManagerAddr,
			Message: types.ManagerMessage{
				ID:      [32]byte{1},
				Sender:  fillAddr(0x99),
				Payload: transfer.Encode(),
			},
		}
		mutate(&envelope)

		return types.VerifiedAttestation{
			EmitterChain:   testPeerChain,
			EmitterAddress: testRemoteXcvr,
			Payload:        envelope.Encode(),
		}
	}

	wrongRecipient := build(func(e *types.TransceiverEnvelope) {
		e.RecipientManager = fillAddr(0x12)
	})
	if _, err := m.Attest(wrongRecipient, 0); !errors.Is(err, ErrInvalidRecipientManager) {
		t.Fatalf("expected ErrInvalidRecipientManager, got %v", err)
	}

	wrongSource := build(func(e *types.TransceiverEnvelope) {
		e.SourceManager = fillAddr(0x13)
	})
	if _, err := m.Attest(wrongSource, 0); !errors.Is(err, ErrManagerPeerMismatch) {
		t.Fatalf("expected ErrManagerPeerMismatch, got %v", err)
	}

	wrongTarget := build(func(e *types.TransceiverEnvelope) {
		transfer := types.NativeTokenTransfer{
			Amount:         types.TrimmedAmount{Amount: 400, Decimals: 8},
			SourceToken:    testToken,
			Recipient:      testRecipient,
			RecipientChain: types.ChainID(3),
		}
		e.Message.Payload = transfer.Encode()
	})
	if _, err := m.Attest(wrongTarget, 0); !errors.Is(err, ErrInvalidTargetChain) {
		t.Fatalf("expected ErrInvalidTargetChain, got %v", err)
	}
}

func TestRedeem_InboundQueued(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 10000)
	setupPeer(t, m, 1000)
	setupTransceivers(t, m, 1)
	mint(t, ledger, testCustody, 5000)

	// First redeem drains 700 of the 1000 inbound pool.
	att1, digest1 := buildAttestation(1, 700, testRecipient)
	if _, err := m.Attest(att1, 0); err != nil {
		t.Fatalf("attest: %v", err)
	}
	if _, err := m.Redeem(testPeerChain, digest1, 0); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	// 400 now exceeds the remaining 300: queued, short 100 at
	// 1000/day, so 8640 seconds.
	att2, digest2 := buildAttestation(2, 400, testRecipient)
	if _, err := m.Attest(att2, 0); err != nil {
		t.Fatalf("attest: %v", err)
	}

	receipt, err := m.Redeem(testPeerChain, digest2, 0)
	if err != nil {
		t.Fatalf("queued redeem: %v", err)
	}
	if receipt.Released {
		t.Fatal("expected queued redeem, got release")
	}
	if receipt.ReleaseAt != 8640 {
		t.Fatalf("expected release at 8640, got %d", receipt.ReleaseAt)
	}

	queued, err := m.IsInboundQueued(testPeerChain, digest2)
	if err != nil || !queued {
		t.Fatalf("expected queued item, got %t (%v)", queued, err)
	}

	if _, err := m.Redeem(testPeerChain, digest2, 8639); !errors.Is(err, ErrCantReleaseYet) {
		t.Fatalf("expected ErrCantReleaseYet, got %v", err)
	}

	retried, err := m.Redeem(testPeerChain, digest2, 8640)
	if err != nil {
		t.Fatalf("retry redeem: %v", err)
	}
	if !retried.Released {
		t.Fatal("expected release at release time")
	}
	if got := balance(t, ledger, testRecipient); got != 1100 {
		t.Fatalf("expected recipient balance 1100, got %d", got)
	}
}

func TestRedeem_BackflowRefillsOutbound(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	setupTransceivers(t, m, 1)
	mint(t, ledger, testSender, 1000)
	mint(t, ledger, testCustody, 1000)

	// Drain outbound to 600, then redeem 700 in: the backflow refills
	// outbound, clamped at its limit.
	if _, err := m.Transfer(context.Background(), testSender, 400, testPeerChain, testRecipient, false, 0); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := m.OutboundCapacity(0); got != 600 {
		t.Fatalf("expected outbound capacity 600, got %d", got)
	}

	att, digest := buildAttestation(1, 700, testRecipient)
	if _, err := m.Attest(att, 0); err != nil {
		t.Fatalf("attest: %v", err)
	}
	if _, err := m.Redeem(testPeerChain, digest, 0); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if got := m.OutboundCapacity(0); got != 1000 {
		t.Fatalf("expected outbound capacity clamped to 1000, got %d", got)
	}
}

func TestRedeem_Paused(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	setupTransceivers(t, m, 1)
	mint(t, ledger, testCustody, 1000)

	att, digest := buildAttestation(1, 400, testRecipient)
	if _, err := m.Attest(att, 0); err != nil {
		t.Fatalf("attest: %v", err)
	}

	if err := m.Pause(testOwner); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if _, err := m.Redeem(testPeerChain, digest, 0); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}

	// Votes still accumulate while paused.
	late, lateDigest := buildAttestation(2, 100, testRecipient)
	if _, err := m.Attest(late, 0); err != nil {
		t.Fatalf("attest while paused: %v", err)
	}
	approved, err := m.IsApproved(testPeerChain, lateDigest)
	if err != nil || !approved {
		t.Fatalf("expected approval while paused, got %t (%v)", approved, err)
	}

	if err := m.Unpause(testOwner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := m.Redeem(testPeerChain, digest, 0); err != nil {
		t.Fatalf("redeem after unpause: %v", err)
	}
}

func TestRedeem_UnknownDigest(t *testing.T) {
	m, _ := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)

	_, err := m.Redeem(testPeerChain, types.Digest{1, 2, 3}, 0)
	if !errors.Is(err, ErrTransferNotApproved) {
		t.Fatalf("expected ErrTransferNotApproved, got %v", err)
	}
}

func TestBroadcastInit(t *testing.T) {
	m, _ := newTestManager(t, types.Locking, 1000)

	// No transceivers yet: nothing can emit.
	if err := m.BroadcastInit(context.Background()); err == nil {
		t.Fatal("expected error with no transceivers, got nil")
	}

	setupPeer(t, m, 1000)
	emitters := setupTransceivers(t, m, 2)

	if err := m.BroadcastInit(context.Background()); err != nil {
		t.Fatalf("broadcast init: %v", err)
	}

	for i, e := range emitters {
		if len(e.payloads) != 1 {
			t.Fatalf("expected init on emitter %d, got %d payloads", i, len(e.payloads))
		}

		init, err := types.DecodeTransceiverInit(e.payloads[0])
		if err != nil {
			t.Fatalf("decode init: %v", err)
		}
		if init.Manager != testManagerAddr || init.Token != testToken {
			t.Fatalf("unexpected init contents: %+v", init)
		}
		if init.Mode != types.Locking || init.TokenDecimals != 8 {
			t.Fatalf("unexpected init mode or decimals: %+v", init)
		}
	}
}

func TestBroadcastTransceiverPeer(t *testing.T) {
	m, _ := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	emitters := setupTransceivers(t, m, 2)

	if err := m.BroadcastTransceiverPeer(context.Background(), 0, testPeerChain); err != nil {
		t.Fatalf("broadcast peer: %v", err)
	}

	if len(emitters[0].payloads) != 1 {
		t.Fatalf("expected 1 payload on emitter 0, got %d", len(emitters[0].payloads))
	}
	if len(emitters[1].payloads) != 0 {
		t.Fatalf("expected no payload on emitter 1, got %d", len(emitters[1].payloads))
	}

	reg, err := types.DecodeTransceiverRegistration(emitters[0].payloads[0])
	if err != nil {
		t.Fatalf("decode registration: %v", err)
	}
	if reg.Chain != testPeerChain || reg.Transceiver != testRemoteXcvr {
		t.Fatalf("unexpected registration: %+v", reg)
	}

	if err := m.BroadcastTransceiverPeer(context.Background(), 0, types.ChainID(9)); !errors.Is(err, ErrNoPeerRegistered) {
		t.Fatalf("expected ErrNoPeerRegistered, got %v", err)
	}
	if err := m.BroadcastTransceiverPeer(context.Background(), 7, testPeerChain); !errors.Is(err, ErrInvalidTransceiverIndex) {
		t.Fatalf("expected ErrInvalidTransceiverIndex, got %v", err)
	}
}

func TestQueuedOutbox_Listing(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	mint(t, ledger, testSender, 3000)

	ctx := context.Background()

	if _, err := m.Transfer(ctx, testSender, 900, testPeerChain, testRecipient, false, 0); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := m.Transfer(ctx, testSender, 500, testPeerChain, testRecipient, true, 0); err != nil {
		t.Fatalf("queued transfer: %v", err)
	}
	if _, err := m.Transfer(ctx, testSender, 300, testPeerChain, testRecipient, true, 0); err != nil {
		t.Fatalf("queued transfer: %v", err)
	}

	queued, err := m.QueuedOutbox()
	if err != nil {
		t.Fatalf("queued outbox: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("expected 2 queued items, got %d", len(queued))
	}
	if queued[0].Sequence != 1 || queued[1].Sequence != 2 {
		t.Fatalf("unexpected queued sequences: %d, %d", queued[0].Sequence, queued[1].Sequence)
	}
}
