package registry

import (
	"os"
	"path/filepath"
	"testing"

	"ntt/internal/ratelimit"
	"ntt/internal/storage"
	"ntt/internal/types"
)

// newRegistryTestStore creates a temporary store for registry tests.
func newRegistryTestStore(t *testing.T) *storage.Store {
	t.Helper()

	dir, err := os.MkdirTemp("", "registry-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	st, err := storage.New(filepath.Join(dir, "db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to create store: %v", err)
	}

	t.Cleanup(func() {
		st.Close()
		os.RemoveAll(dir)
	})

	return st
}

func testAddr(fill byte) types.UniversalAddress {
	var a types.UniversalAddress
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestPeers_PutAndGet(t *testing.T) {
	st := newRegistryTestStore(t)
	peers := NewPeers(st)

	p := &Peer{
		Manager:  testAddr(0xAB),
		Decimals: 9,
		Inbound:  ratelimit.New(5000),
	}
	if err := peers.Put(4, p); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := peers.Get(4)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for registered peer")
	}

	if got.Manager != p.Manager || got.Decimals != 9 || got.Inbound != p.Inbound {
		t.Errorf("peer mismatch: got %+v", got)
	}
}

func TestPeers_GetMissing(t *testing.T) {
	st := newRegistryTestStore(t)
	peers := NewPeers(st)

	got, err := peers.Get(17)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unregistered chain, got %+v", got)
	}
}

// TestPeers_Upsert checks that re-registering a chain replaces the
// record wholesale.
func TestPeers_Upsert(t *testing.T) {
	st := newRegistryTestStore(t)
	peers := NewPeers(st)

	if err := peers.Put(4, &Peer{Manager: testAddr(1), Decimals: 6, Inbound: ratelimit.New(100)}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := peers.Put(4, &Peer{Manager: testAddr(2), Decimals: 18, Inbound: ratelimit.New(200)}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := peers.Get(4)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Manager != testAddr(2) || got.Decimals != 18 || got.Inbound.Limit != 200 {
		t.Errorf("upsert did not replace record: %+v", got)
	}
}

func TestPeers_Iterate(t *testing.T) {
	st := newRegistryTestStore(t)
	peers := NewPeers(st)

	for _, chain := range []types.ChainID{5, 1, 3} {
		if err := peers.Put(chain, &Peer{Manager: testAddr(byte(chain))}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	var order []types.ChainID
	err := peers.Iterate(func(chain types.ChainID, p *Peer) error {
		order = append(order, chain)
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	if len(order) != 3 || order[0] != 1 || order[1] != 3 || order[2] != 5 {
		t.Errorf("iteration order = %v, want [1 3 5]", order)
	}
}

func TestTransceivers_PutAndGet(t *testing.T) {
	st := newRegistryTestStore(t)
	ts := NewTransceivers(st)

	tr := &Transceiver{Index: 2, Kind: "wormhole", Enabled: true}
	if err := ts.Put(tr); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := ts.Get(2)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for registered transceiver")
	}
	if got.Index != 2 || got.Kind != "wormhole" || !got.Enabled {
		t.Errorf("transceiver mismatch: got %+v", got)
	}

	missing, err := ts.Get(3)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unassigned index, got %+v", missing)
	}
}

func TestTransceivers_EnabledCount(t *testing.T) {
	st := newRegistryTestStore(t)
	ts := NewTransceivers(st)

	records := []*Transceiver{
		{Index: 0, Kind: "wormhole", Enabled: true},
		{Index: 1, Kind: "axelar", Enabled: false},
		{Index: 2, Kind: "test", Enabled: true},
	}
	for _, tr := range records {
		if err := ts.Put(tr); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	count, err := ts.EnabledCount()
	if err != nil {
		t.Fatalf("EnabledCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("enabled count = %d, want 2", count)
	}
}

// TestTransceivers_PeerNamespaces checks that peer bindings are
// separate per transceiver and per chain.
func TestTransceivers_PeerNamespaces(t *testing.T) {
	st := newRegistryTestStore(t)
	ts := NewTransceivers(st)

	if err := ts.PutPeer(0, 4, testAddr(0xAA)); err != nil {
		t.Fatalf("PutPeer failed: %v", err)
	}

	got, ok, err := ts.GetPeer(0, 4)
	if err != nil {
		t.Fatalf("GetPeer failed: %v", err)
	}
	if !ok || got != testAddr(0xAA) {
		t.Errorf("peer = %x ok=%v, want stored address", got, ok)
	}

	if _, ok, _ := ts.GetPeer(1, 4); ok {
		t.Error("binding leaked across transceiver indexes")
	}
	if _, ok, _ := ts.GetPeer(0, 5); ok {
		t.Error("binding leaked across chains")
	}
}
