// Package integration exercises the full bridge path: a client calls
// one node's HTTP API, the node's manager emits through its bound
// channels, each channel signs an attestation and delivers it to the
// peer node's attest route, and a redeem on the far side releases the
// funds.
package integration

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"ntt/client"
	"ntt/internal/api"
	"ntt/internal/custody"
	"ntt/internal/manager"
	"ntt/internal/ratelimit"
	"ntt/internal/storage"
	"ntt/internal/types"
	"ntt/internal/vaa"
)

const (
	hubChain   = types.ChainID(1) // hubChain hosts the native token
	spokeChain = types.ChainID(2) // spokeChain hosts the wrapped token
)

// channelKinds names the transports a bridge may carry, in registration
// order.
var channelKinds = []string{"wormhole", "axelar", "hyperlane"}

// Test identities shared across the suite.
var (
	owner = fillAddr(0x0A) // owner administers both deployments
	alice = fillAddr(0xA1) // alice holds the native token on the hub
	bob   = fillAddr(0xB2) // bob receives the wrapped token on the spoke
	carol = fillAddr(0xC3) // carol receives returned funds on the hub
)

func fillAddr(b byte) types.UniversalAddress {
	var a types.UniversalAddress
	for i := range a {
		a[i] = b
	}

	return a
}

// chainAddr derives a per-chain address for a deployment role such as
// 'M' (manager), 'T' (token) or 'C' (custody).
func chainAddr(role byte, chain types.ChainID) types.UniversalAddress {
	var a types.UniversalAddress
	a[0] = role
	a[1] = byte(chain >> 8)
	a[2] = byte(chain)
	for i := 3; i < len(a); i++ {
		a[i] = 0x5F
	}

	return a
}

// channelAddr is the emitter address a channel uses on a chain.
func channelAddr(chain types.ChainID, index uint8) types.UniversalAddress {
	a := chainAddr('X', chain)
	a[3] = index

	return a
}

// bridgeOpts holds configuration for a Bridge.
type bridgeOpts struct {
	channels      int    // channels is the number of transceiver channels
	spokeDecimals uint8  // spokeDecimals is the wrapped token's precision
	outboundLimit uint64 // outboundLimit is each manager's outbound rate limit
	inboundLimit  uint64 // inboundLimit is each side's inbound rate limit
}

// BridgeOption configures bridge behavior.
type BridgeOption func(*bridgeOpts)

// WithChannels sets the number of transceiver channels.
func WithChannels(n int) BridgeOption { return func(o *bridgeOpts) { o.channels = n } }

// WithSpokeDecimals sets the wrapped token's precision on the spoke.
func WithSpokeDecimals(d uint8) BridgeOption { return func(o *bridgeOpts) { o.spokeDecimals = d } }

// WithOutboundLimit sets both managers' outbound rate limit.
func WithOutboundLimit(n uint64) BridgeOption { return func(o *bridgeOpts) { o.outboundLimit = n } }

// WithInboundLimit sets both sides' inbound rate limit.
func WithInboundLimit(n uint64) BridgeOption { return func(o *bridgeOpts) { o.inboundLimit = n } }

// Chain is one manager node under test: its storage, manager, and a
// client talking to it over a real listener.
type Chain struct {
	ID      types.ChainID          // ID is the chain this node serves
	Mode    types.Mode             // Mode is the node's custody mode
	Manager *manager.Manager       // Manager is the node's manager, for emitter wiring
	Ledger  *custody.AccountLedger // Ledger is the node's token ledger
	Client  *client.Client         // Client talks to the node over HTTP

	Address types.UniversalAddress // Address is the manager's universal address
	Token   types.UniversalAddress // Token is the managed token
	Custody types.UniversalAddress // Custody is the escrow account in locking mode
}

// newChain boots a node with fresh storage and serves its API over a
// local listener.
func newChain(t *testing.T, id types.ChainID, mode types.Mode, decimals uint8, outboundLimit uint64, verifier api.Verifier) *Chain {
	t.Helper()

	dir, err := os.MkdirTemp("", fmt.Sprintf("bridge-chain%d-*", id))
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := storage.New(dir)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ledger := custody.NewAccountLedger(st)

	cfg := manager.Config{
		Address:       chainAddr('M', id),
		Chain:         id,
		Mode:          mode,
		Token:         chainAddr('T', id),
		TokenDecimals: decimals,
		Owner:         owner,
		Outbound:      ratelimit.New(outboundLimit),
	}
	if mode == types.Locking {
		cfg.Custody = chainAddr('C', id)
	}

	mgr, err := manager.New(st, ledger, cfg)
	if err != nil {
		t.Fatalf("create manager for chain %d: %v", id, err)
	}

	srv := api.New(":0", mgr, verifier)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &Chain{
		ID:      id,
		Mode:    mode,
		Manager: mgr,
		Ledger:  ledger,
		Client:  client.New(strings.TrimPrefix(ts.URL, "http://")),
		Address: cfg.Address,
		Token:   cfg.Token,
		Custody: cfg.Custody,
	}
}

// channelEmitter carries one direction of a channel. It wraps each
// envelope in a signed attestation and delivers it to the destination
// node's attest route. Init and registration broadcasts are consumed by
// the channel itself, the way a transceiver network would.
type channelEmitter struct {
	source  *Chain
	dest    *Chain
	index   uint8
	address types.UniversalAddress // address is the emitter identity on the source chain
	key     ed25519.PrivateKey     // key signs every delivered attestation

	mu         sync.Mutex
	sequence   uint64
	down       bool
	digests    []types.Digest // digests delivered to the destination
	lastRaw    []byte         // lastRaw is the last delivered attestation's bytes
	broadcasts [][]byte       // broadcasts captured by the channel
}

func (e *channelEmitter) Emit(_ context.Context, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.down {
		return fmt.Errorf("channel %d is down", e.index)
	}

	if !bytes.HasPrefix(payload, types.EnvelopePrefix[:]) {
		e.broadcasts = append(e.broadcasts, payload)
		return nil
	}

	body := &vaa.Body{
		Timestamp:      uint32(time.Now().Unix()),
		Nonce:          uint32(e.sequence),
		EmitterChain:   e.source.ID,
		EmitterAddress: e.address,
		Sequence:       e.sequence,
		Payload:        payload,
	}
	raw := vaa.Sign(body, e.key)

	result, err := e.dest.Client.Attest(e.index, raw)
	if err != nil {
		return fmt.Errorf("deliver attestation:\n%w", err)
	}

	digest, err := types.DigestFromHex(result.Digest)
	if err != nil {
		return fmt.Errorf("parse delivered digest:\n%w", err)
	}

	e.sequence++
	e.digests = append(e.digests, digest)
	e.lastRaw = raw

	return nil
}

func (e *channelEmitter) setDown(down bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.down = down
}

// delivered counts the attestations the emitter has delivered.
func (e *channelEmitter) delivered() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.digests)
}

// lastDigest returns the most recently delivered digest.
func (e *channelEmitter) lastDigest(t *testing.T) types.Digest {
	t.Helper()

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.digests) == 0 {
		t.Fatal("channel has delivered no attestations")
	}

	return e.digests[len(e.digests)-1]
}

// lastRawAttestation returns the bytes of the last delivered
// attestation, for replay scenarios.
func (e *channelEmitter) lastRawAttestation(t *testing.T) []byte {
	t.Helper()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastRaw == nil {
		t.Fatal("channel has delivered no attestations")
	}

	return append([]byte(nil), e.lastRaw...)
}

// capturedBroadcasts returns the init and registration payloads the
// channel consumed.
func (e *channelEmitter) capturedBroadcasts() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([][]byte, len(e.broadcasts))
	for i, b := range e.broadcasts {
		out[i] = append([]byte(nil), b...)
	}

	return out
}

// Channel is one transceiver transport between the chains, with an
// emitter per direction, both signing with the channel's attestor key.
type Channel struct {
	Index uint8           // Index is the transceiver index on both chains
	Kind  string          // Kind is the transport label
	out   *channelEmitter // out carries hub to spoke
	back  *channelEmitter // back carries spoke to hub
}

// SetDown takes both directions of the channel down or back up.
func (c *Channel) SetDown(down bool) {
	c.out.setDown(down)
	c.back.setDown(down)
}

// Bridge is a two-chain deployment: a locking hub holding the native
// token and a burning spoke minting the wrapped one, joined by signed
// attestation channels.
type Bridge struct {
	t        *testing.T
	Hub      *Chain       // Hub locks and unlocks the native token
	Spoke    *Chain       // Spoke mints and burns the wrapped token
	Channels []*Channel   // Channels are the transceiver transports
	Verifier api.Verifier // Verifier authenticates attestations on both nodes
}

// newBridge boots both chains, cross-registers peers and channels, and
// binds the emitters, the way an operator would bring up a deployment.
func newBridge(t *testing.T, options ...BridgeOption) *Bridge {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	opts := bridgeOpts{
		channels:      1,
		spokeDecimals: 8,
		outboundLimit: 1_000_000_000,
		inboundLimit:  1_000_000_000,
	}
	for _, o := range options {
		o(&opts)
	}
	if opts.channels > len(channelKinds) {
		t.Fatalf("at most %d channels supported", len(channelKinds))
	}

	keys := make([]ed25519.PrivateKey, opts.channels)
	pubs := make([]ed25519.PublicKey, opts.channels)
	for i := range keys {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("generate attestor key: %v", err)
		}
		keys[i] = priv
		pubs[i] = pub
	}
	verifier := vaa.NewVerifier(pubs, false)

	hub := newChain(t, hubChain, types.Locking, 8, opts.outboundLimit, verifier)
	spoke := newChain(t, spokeChain, types.Burning, opts.spokeDecimals, opts.outboundLimit, verifier)

	if err := hub.Client.SetPeer(owner, spoke.ID, spoke.Address, opts.spokeDecimals, opts.inboundLimit); err != nil {
		t.Fatalf("register spoke on hub: %v", err)
	}
	if err := spoke.Client.SetPeer(owner, hub.ID, hub.Address, 8, opts.inboundLimit); err != nil {
		t.Fatalf("register hub on spoke: %v", err)
	}

	b := &Bridge{t: t, Hub: hub, Spoke: spoke, Verifier: verifier}

	for i := 0; i < opts.channels; i++ {
		index := uint8(i)
		kind := channelKinds[i]

		for _, c := range []*Chain{hub, spoke} {
			got, err := c.Client.RegisterTransceiver(owner, kind)
			if err != nil {
				t.Fatalf("register %s on chain %d: %v", kind, c.ID, err)
			}
			if got != index {
				t.Fatalf("chain %d assigned %s index %d, want %d", c.ID, kind, got, index)
			}
		}

		if err := hub.Client.SetTransceiverPeer(owner, index, spoke.ID, channelAddr(spoke.ID, index)); err != nil {
			t.Fatalf("bind %s peer on hub: %v", kind, err)
		}
		if err := spoke.Client.SetTransceiverPeer(owner, index, hub.ID, channelAddr(hub.ID, index)); err != nil {
			t.Fatalf("bind %s peer on spoke: %v", kind, err)
		}

		ch := &Channel{
			Index: index,
			Kind:  kind,
			out: &channelEmitter{
				source:  hub,
				dest:    spoke,
				index:   index,
				address: channelAddr(hub.ID, index),
				key:     keys[i],
			},
			back: &channelEmitter{
				source:  spoke,
				dest:    hub,
				index:   index,
				address: channelAddr(spoke.ID, index),
				key:     keys[i],
			},
		}
		hub.Manager.BindEmitter(index, ch.out)
		spoke.Manager.BindEmitter(index, ch.back)

		b.Channels = append(b.Channels, ch)
	}

	return b
}

// emitterFrom returns the channel emitter carrying messages out of src.
func (b *Bridge) emitterFrom(src *Chain, index uint8) *channelEmitter {
	ch := b.Channels[index]
	if src == b.Hub {
		return ch.out
	}

	return ch.back
}

// lastDigestFrom returns the digest channel 0 delivered most recently
// for messages emitted by src.
func (b *Bridge) lastDigestFrom(src *Chain) types.Digest {
	b.t.Helper()

	return b.emitterFrom(src, 0).lastDigest(b.t)
}

func mint(t *testing.T, ledger *custody.AccountLedger, to types.UniversalAddress, amount uint64) {
	t.Helper()

	if err := ledger.Mint(to, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func balance(t *testing.T, ledger *custody.AccountLedger, addr types.UniversalAddress) uint64 {
	t.Helper()

	bal, err := ledger.Balance(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}

	return bal
}

// wantErrStatus asserts err is non-nil and carries the given HTTP
// status code.
func wantErrStatus(t *testing.T, err error, status int) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected status %d error, got nil", status)
	}

	if !strings.Contains(err.Error(), fmt.Sprintf("status %d", status)) {
		t.Fatalf("expected status %d in error, got: %v", status, err)
	}
}
