package manager

import (
	"context"
	"testing"

	"github.com/klauspost/compress/zstd"

	"ntt/internal/custody"
	"ntt/internal/types"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	m, ledger := newTestManager(t, types.Locking, 1000)
	setupPeer(t, m, 1000)
	setupTransceivers(t, m, 2)
	if err := m.SetThreshold(testOwner, 2); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	mint(t, ledger, testSender, 1000)

	if _, err := m.Transfer(context.Background(), testSender, 400, testPeerChain, testRecipient, false, 0); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	att, digest := buildAttestation(1, 250, testRecipient)
	if _, err := m.Attest(att, 0); err != nil {
		t.Fatalf("attest: %v", err)
	}

	data, err := m.ExportState()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	// A fresh manager with a different genesis gets fully replaced by
	// the import.
	fresh := newTestStore(t)
	restored, err := New(fresh, custody.NewAccountLedger(fresh), testConfig(types.Burning, 5))
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	if err := restored.ImportState(data); err != nil {
		t.Fatalf("import: %v", err)
	}

	status, err := restored.Status(0)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Mode != types.Locking {
		t.Fatalf("expected imported locking mode, got %s", status.Mode)
	}
	if status.OutboundLimit != 1000 || status.Threshold != 2 || status.NextSequence != 1 {
		t.Fatalf("unexpected imported status: %+v", status)
	}

	peer, err := restored.Peer(testPeerChain)
	if err != nil {
		t.Fatalf("get peer: %v", err)
	}
	if peer == nil || peer.Manager != testRemoteMgr {
		t.Fatalf("expected imported peer, got %+v", peer)
	}

	item, err := restored.OutboxItem(0)
	if err != nil {
		t.Fatalf("outbox item: %v", err)
	}
	if item == nil || item.Amount.Amount != 400 {
		t.Fatalf("expected imported outbox item of 400, got %+v", item)
	}

	inbox, err := restored.InboxItem(testPeerChain, digest)
	if err != nil {
		t.Fatalf("inbox item: %v", err)
	}
	if inbox == nil || inbox.Votes != 1 {
		t.Fatalf("expected imported inbox item with 1 vote, got %+v", inbox)
	}

	// Ledger rows travel with the snapshot.
	restoredLedger := custody.NewAccountLedger(fresh)
	if got := balance(t, restoredLedger, testCustody); got != 400 {
		t.Fatalf("expected imported custody balance 400, got %d", got)
	}
}

func TestSnapshot_ChecksumMismatch(t *testing.T) {
	m, _ := newTestManager(t, types.Locking, 1000)

	data, err := m.ExportState()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("create decoder: %v", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	raw[14] ^= 0xFF

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("create encoder: %v", err)
	}
	defer encoder.Close()

	corrupted := encoder.EncodeAll(raw, nil)

	if err := m.ImportState(corrupted); err == nil {
		t.Fatal("expected checksum error, got nil")
	}
}

func TestSnapshot_RejectsGarbage(t *testing.T) {
	m, _ := newTestManager(t, types.Locking, 1000)

	if err := m.ImportState([]byte("not a snapshot")); err == nil {
		t.Fatal("expected error for garbage input, got nil")
	}
}
