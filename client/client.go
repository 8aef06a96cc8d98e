// Package client provides a typed HTTP client for a manager node's API.
package client

import (
	"encoding/hex"
	"fmt"

	"ntt/internal/types"
)

// Client connects to a manager node via HTTP.
type Client struct {
	nodeAddr string // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
}

// New creates a client for the node at nodeAddr.
func New(nodeAddr string) *Client {
	return &Client{nodeAddr: nodeAddr}
}

func (c *Client) url(path string) string {
	return "http://" + c.nodeAddr + path
}

// TransferReceipt reports an accepted outbound transfer.
type TransferReceipt struct {
	Sequence  uint64 `json:"sequence"`  // Sequence is the assigned outbound sequence
	Dust      uint64 `json:"dust"`      // Dust is the untransferred sub-precision remainder
	Queued    bool   `json:"queued"`    // Queued marks a transfer waiting for capacity
	ReleaseAt int64  `json:"releaseAt"` // ReleaseAt is the earliest drain time when queued
}

// OutboxItem mirrors one outbox entry.
type OutboxItem struct {
	Sequence       uint64 `json:"sequence"`
	Sender         string `json:"sender"`
	Amount         uint64 `json:"amount"`
	Decimals       uint8  `json:"decimals"`
	RecipientChain uint16 `json:"recipientChain"`
	CreatedAt      int64  `json:"createdAt"`
	ReleaseAt      int64  `json:"releaseAt"`
	Consumed       bool   `json:"consumed"`
	Cancelled      bool   `json:"cancelled"`
	Emitted        int    `json:"emitted"`
	Queued         bool   `json:"queued"`
}

// RedeemReceipt reports a redeem attempt.
type RedeemReceipt struct {
	Released  bool   `json:"released"`  // Released marks funds handed to the recipient
	Amount    uint64 `json:"amount"`    // Amount is the released amount in local precision
	ReleaseAt int64  `json:"releaseAt"` // ReleaseAt is the earliest release time when delayed
}

// AttestResult identifies the message a recorded vote applies to.
type AttestResult struct {
	Chain  uint16 `json:"chain"`  // Chain is the message's source chain
	Digest string `json:"digest"` // Digest is the message digest, hex encoded
}

// MessageStatus reports the consensus state of an inbound message.
type MessageStatus struct {
	Votes     int    `json:"votes"`
	Threshold uint8  `json:"threshold"`
	Approved  bool   `json:"approved"`
	Executed  bool   `json:"executed"`
	Queued    bool   `json:"queued"`
	ReleaseAt int64  `json:"releaseAt"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Decimals  uint8  `json:"decimals"`
}

// Peer mirrors a registered manager peer.
type Peer struct {
	Chain           uint16 `json:"chain"`
	Manager         string `json:"manager"`
	Decimals        uint8  `json:"decimals"`
	InboundLimit    uint64 `json:"inboundLimit"`
	InboundCapacity uint64 `json:"inboundCapacity"`
}

// Transceiver mirrors a registered transceiver.
type Transceiver struct {
	Index   uint8  `json:"index"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

// Status mirrors the node's status report.
type Status struct {
	Chain               uint16 `json:"chain"`
	Address             string `json:"address"`
	Token               string `json:"token"`
	TokenDecimals       uint8  `json:"tokenDecimals"`
	Mode                string `json:"mode"`
	Paused              bool   `json:"paused"`
	Threshold           uint8  `json:"threshold"`
	Transceivers        int    `json:"transceivers"`
	EnabledTransceivers int    `json:"enabledTransceivers"`
	Peers               int    `json:"peers"`
	NextSequence        uint64 `json:"nextSequence"`
	OutboundLimit       uint64 `json:"outboundLimit"`
	OutboundCapacity    uint64 `json:"outboundCapacity"`
	Owner               string `json:"owner"`
	Pauser              string `json:"pauser"`
	PendingOwner        string `json:"pendingOwner"`
}

// Transfer initiates an outbound transfer from sender. With allowQueue
// the transfer is queued instead of rejected when capacity is short.
func (c *Client) Transfer(sender types.UniversalAddress, amount uint64, recipientChain types.ChainID, recipient types.UniversalAddress, allowQueue bool) (*TransferReceipt, error) {
	body := map[string]any{
		"sender":         sender.Hex(),
		"amount":         amount,
		"recipientChain": uint16(recipientChain),
		"recipient":      recipient.Hex(),
		"allowQueue":     allowQueue,
	}

	var receipt TransferReceipt
	if err := httpPostJSON(c.url("/transfer"), body, &receipt); err != nil {
		return nil, fmt.Errorf("transfer:\n%w", err)
	}

	return &receipt, nil
}

// QueuedOutbox lists transfers waiting for outbound capacity.
func (c *Client) QueuedOutbox() ([]OutboxItem, error) {
	var items []OutboxItem
	if err := httpGet(c.url("/outbox"), &items); err != nil {
		return nil, fmt.Errorf("queued outbox:\n%w", err)
	}

	return items, nil
}

// Outbox retrieves one outbox entry by sequence.
func (c *Client) Outbox(seq uint64) (*OutboxItem, error) {
	var item OutboxItem
	if err := httpGet(c.url(fmt.Sprintf("/outbox/%d", seq)), &item); err != nil {
		return nil, fmt.Errorf("outbox %d:\n%w", seq, err)
	}

	return &item, nil
}

// ReleaseOutbound drains a queued transfer if its release time has
// passed and capacity allows, and retries emission for consumed ones.
func (c *Client) ReleaseOutbound(seq uint64) (*TransferReceipt, error) {
	var receipt TransferReceipt
	if err := httpPostJSON(c.url(fmt.Sprintf("/outbox/%d/release", seq)), nil, &receipt); err != nil {
		return nil, fmt.Errorf("release outbound %d:\n%w", seq, err)
	}

	return &receipt, nil
}

// CancelOutbound cancels a queued transfer and refunds the sender. Only
// the original sender may cancel.
func (c *Client) CancelOutbound(caller types.UniversalAddress, seq uint64) error {
	body := map[string]any{"caller": caller.Hex()}

	if err := httpPostJSON(c.url(fmt.Sprintf("/outbox/%d/cancel", seq)), body, nil); err != nil {
		return fmt.Errorf("cancel outbound %d:\n%w", seq, err)
	}

	return nil
}

// Attest submits a raw attestation through the given transceiver.
func (c *Client) Attest(transceiver uint8, attestation []byte) (*AttestResult, error) {
	body := map[string]any{
		"transceiver": transceiver,
		"attestation": hex.EncodeToString(attestation),
	}

	var result AttestResult
	if err := httpPostJSON(c.url("/attest"), body, &result); err != nil {
		return nil, fmt.Errorf("attest:\n%w", err)
	}

	return &result, nil
}

// Redeem releases an approved inbound transfer to its recipient.
func (c *Client) Redeem(chain types.ChainID, digest types.Digest) (*RedeemReceipt, error) {
	body := map[string]any{
		"chain":  uint16(chain),
		"digest": digest.Hex(),
	}

	var receipt RedeemReceipt
	if err := httpPostJSON(c.url("/redeem"), body, &receipt); err != nil {
		return nil, fmt.Errorf("redeem:\n%w", err)
	}

	return &receipt, nil
}

// Message reports the attestation state of an inbound message.
func (c *Client) Message(chain types.ChainID, digest types.Digest) (*MessageStatus, error) {
	var status MessageStatus

	url := c.url(fmt.Sprintf("/messages/%d/%s", chain, digest.Hex()))
	if err := httpGet(url, &status); err != nil {
		return nil, fmt.Errorf("message:\n%w", err)
	}

	return &status, nil
}

// SetPeer registers the manager trusted on a remote chain. Owner only.
func (c *Client) SetPeer(caller types.UniversalAddress, chain types.ChainID, manager types.UniversalAddress, decimals uint8, inboundLimit uint64) error {
	body := map[string]any{
		"caller":       caller.Hex(),
		"chain":        uint16(chain),
		"manager":      manager.Hex(),
		"decimals":     decimals,
		"inboundLimit": inboundLimit,
	}

	if err := httpPostJSON(c.url("/peers"), body, nil); err != nil {
		return fmt.Errorf("set peer:\n%w", err)
	}

	return nil
}

// Peer retrieves the registered peer for a chain.
func (c *Client) Peer(chain types.ChainID) (*Peer, error) {
	var peer Peer
	if err := httpGet(c.url(fmt.Sprintf("/peers/%d", chain)), &peer); err != nil {
		return nil, fmt.Errorf("peer %d:\n%w", chain, err)
	}

	return &peer, nil
}

// Peers lists all registered peers.
func (c *Client) Peers() ([]Peer, error) {
	var peers []Peer
	if err := httpGet(c.url("/peers"), &peers); err != nil {
		return nil, fmt.Errorf("peers:\n%w", err)
	}

	return peers, nil
}

// RegisterTransceiver registers a new transceiver and returns its
// index. Owner only.
func (c *Client) RegisterTransceiver(caller types.UniversalAddress, kind string) (uint8, error) {
	body := map[string]any{
		"caller": caller.Hex(),
		"kind":   kind,
	}

	var resp struct {
		Index uint8 `json:"index"`
	}
	if err := httpPostJSON(c.url("/transceivers"), body, &resp); err != nil {
		return 0, fmt.Errorf("register transceiver:\n%w", err)
	}

	return resp.Index, nil
}

// Transceivers lists all registered transceivers.
func (c *Client) Transceivers() ([]Transceiver, error) {
	var list []Transceiver
	if err := httpGet(c.url("/transceivers"), &list); err != nil {
		return nil, fmt.Errorf("transceivers:\n%w", err)
	}

	return list, nil
}

// SetTransceiverEnabled toggles a transceiver. Owner only.
func (c *Client) SetTransceiverEnabled(caller types.UniversalAddress, index uint8, enabled bool) error {
	body := map[string]any{
		"caller":  caller.Hex(),
		"enabled": enabled,
	}

	if err := httpPostJSON(c.url(fmt.Sprintf("/transceivers/%d/enabled", index)), body, nil); err != nil {
		return fmt.Errorf("set transceiver enabled:\n%w", err)
	}

	return nil
}

// SetTransceiverPeer binds the address trusted for a transceiver on a
// remote chain. Owner only.
func (c *Client) SetTransceiverPeer(caller types.UniversalAddress, index uint8, chain types.ChainID, address types.UniversalAddress) error {
	body := map[string]any{
		"caller":  caller.Hex(),
		"chain":   uint16(chain),
		"address": address.Hex(),
	}

	if err := httpPostJSON(c.url(fmt.Sprintf("/transceivers/%d/peers", index)), body, nil); err != nil {
		return fmt.Errorf("set transceiver peer:\n%w", err)
	}

	return nil
}

// SetThreshold sets the attestation threshold. Owner only.
func (c *Client) SetThreshold(caller types.UniversalAddress, threshold uint8) error {
	body := map[string]any{
		"caller":    caller.Hex(),
		"threshold": threshold,
	}

	if err := httpPostJSON(c.url("/threshold"), body, nil); err != nil {
		return fmt.Errorf("set threshold:\n%w", err)
	}

	return nil
}

// SetOutboundLimit sets the outbound rate limit. Owner only.
func (c *Client) SetOutboundLimit(caller types.UniversalAddress, limit uint64) error {
	body := map[string]any{
		"caller": caller.Hex(),
		"limit":  limit,
	}

	if err := httpPostJSON(c.url("/limits/outbound"), body, nil); err != nil {
		return fmt.Errorf("set outbound limit:\n%w", err)
	}

	return nil
}

// SetInboundLimit sets the inbound rate limit for a peer chain. Owner
// only.
func (c *Client) SetInboundLimit(caller types.UniversalAddress, chain types.ChainID, limit uint64) error {
	body := map[string]any{
		"caller": caller.Hex(),
		"chain":  uint16(chain),
		"limit":  limit,
	}

	if err := httpPostJSON(c.url("/limits/inbound"), body, nil); err != nil {
		return fmt.Errorf("set inbound limit:\n%w", err)
	}

	return nil
}

// Pause stops custody-moving operations. Owner or pauser.
func (c *Client) Pause(caller types.UniversalAddress) error {
	body := map[string]any{"caller": caller.Hex()}

	if err := httpPostJSON(c.url("/pause"), body, nil); err != nil {
		return fmt.Errorf("pause:\n%w", err)
	}

	return nil
}

// Unpause resumes custody-moving operations. Owner or pauser.
func (c *Client) Unpause(caller types.UniversalAddress) error {
	body := map[string]any{"caller": caller.Hex()}

	if err := httpPostJSON(c.url("/unpause"), body, nil); err != nil {
		return fmt.Errorf("unpause:\n%w", err)
	}

	return nil
}

// SetPauser delegates the pause capability. Owner only; the zero
// address clears the delegation.
func (c *Client) SetPauser(caller, pauser types.UniversalAddress) error {
	body := map[string]any{
		"caller": caller.Hex(),
		"pauser": pauser.Hex(),
	}

	if err := httpPostJSON(c.url("/pauser"), body, nil); err != nil {
		return fmt.Errorf("set pauser:\n%w", err)
	}

	return nil
}

// TransferOwnership starts a two-step ownership handover. Owner only.
func (c *Client) TransferOwnership(caller, newOwner types.UniversalAddress) error {
	body := map[string]any{
		"caller":   caller.Hex(),
		"newOwner": newOwner.Hex(),
	}

	if err := httpPostJSON(c.url("/owner"), body, nil); err != nil {
		return fmt.Errorf("transfer ownership:\n%w", err)
	}

	return nil
}

// ClaimOwnership completes a pending handover when called by the
// pending owner, or cancels it when called by the current owner.
func (c *Client) ClaimOwnership(caller types.UniversalAddress) error {
	body := map[string]any{"caller": caller.Hex()}

	if err := httpPostJSON(c.url("/owner/claim"), body, nil); err != nil {
		return fmt.Errorf("claim ownership:\n%w", err)
	}

	return nil
}

// TransferOwnershipOneStep hands ownership over immediately. Owner
// only.
func (c *Client) TransferOwnershipOneStep(caller, newOwner types.UniversalAddress) error {
	body := map[string]any{
		"caller":   caller.Hex(),
		"newOwner": newOwner.Hex(),
	}

	if err := httpPostJSON(c.url("/owner/onestep"), body, nil); err != nil {
		return fmt.Errorf("transfer ownership one-step:\n%w", err)
	}

	return nil
}

// BroadcastInit announces the manager on every enabled transceiver.
func (c *Client) BroadcastInit() error {
	if err := httpPostJSON(c.url("/broadcast/init"), nil, nil); err != nil {
		return fmt.Errorf("broadcast init:\n%w", err)
	}

	return nil
}

// BroadcastPeer announces a transceiver's peer binding for a chain.
func (c *Client) BroadcastPeer(index uint8, chain types.ChainID) error {
	body := map[string]any{
		"index": index,
		"chain": uint16(chain),
	}

	if err := httpPostJSON(c.url("/broadcast/peer"), body, nil); err != nil {
		return fmt.Errorf("broadcast peer:\n%w", err)
	}

	return nil
}

// OutboundCapacity reports the available outbound capacity.
func (c *Client) OutboundCapacity() (uint64, error) {
	var resp struct {
		Capacity uint64 `json:"capacity"`
	}

	if err := httpGet(c.url("/capacity/outbound"), &resp); err != nil {
		return 0, fmt.Errorf("outbound capacity:\n%w", err)
	}

	return resp.Capacity, nil
}

// InboundCapacity reports the available inbound capacity from a chain.
func (c *Client) InboundCapacity(chain types.ChainID) (uint64, error) {
	var resp struct {
		Capacity uint64 `json:"capacity"`
	}

	if err := httpGet(c.url(fmt.Sprintf("/capacity/inbound/%d", chain)), &resp); err != nil {
		return 0, fmt.Errorf("inbound capacity:\n%w", err)
	}

	return resp.Capacity, nil
}

// Status retrieves the node's status report.
func (c *Client) Status() (*Status, error) {
	var status Status
	if err := httpGet(c.url("/status"), &status); err != nil {
		return nil, fmt.Errorf("status:\n%w", err)
	}

	return &status, nil
}

// Health checks the node's liveness.
func (c *Client) Health() error {
	if err := httpGet(c.url("/health"), nil); err != nil {
		return fmt.Errorf("health:\n%w", err)
	}

	return nil
}

// ExportState downloads a state snapshot.
func (c *Client) ExportState() ([]byte, error) {
	data, err := httpGetRaw(c.url("/state/export"))
	if err != nil {
		return nil, fmt.Errorf("export state:\n%w", err)
	}

	return data, nil
}

// ImportState restores the node from a state snapshot.
func (c *Client) ImportState(snapshot []byte) error {
	if err := httpPostRaw(c.url("/state/import"), snapshot); err != nil {
		return fmt.Errorf("import state:\n%w", err)
	}

	return nil
}
