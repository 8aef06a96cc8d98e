package manager

import (
	"fmt"

	"ntt/internal/custody"
	"ntt/internal/logger"
	"ntt/internal/queue"
	"ntt/internal/ratelimit"
	"ntt/internal/storage"
	"ntt/internal/types"
)

// RedeemReceipt reports the outcome of a redeem.
type RedeemReceipt struct {
	Released  bool   // Released means the custody effect was applied
	Amount    uint64 // Amount is the local-precision amount credited, zero while queued
	ReleaseAt int64  // ReleaseAt is when a queued redeem may be retried
}

// Attest records one transceiver's vote for an inbound transfer. The
// attestation must come through an enabled transceiver, from that
// transceiver's registered peer, carry an envelope addressed to this
// manager from the registered peer manager, and target this chain.
// Replayed attestations are ignored: the vote bitmap makes them
// idempotent. Attest is not gated by pause; votes may accumulate while
// redeems are held.
func (m *Manager) Attest(att types.VerifiedAttestation, index uint8) (types.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, err := m.transceivers.Get(index)
	if err != nil {
		return types.Digest{}, fmt.Errorf("load transceiver:\n%w", err)
	}
	if tr == nil || !tr.Enabled {
		return types.Digest{}, fmt.Errorf("index %d:\n%w", index, ErrUnknownOrDisabledTransceiver)
	}

	peerAddr, ok, err := m.transceivers.GetPeer(index, att.EmitterChain)
	if err != nil {
		return types.Digest{}, fmt.Errorf("load transceiver peer:\n%w", err)
	}
	if !ok || peerAddr != att.EmitterAddress {
		return types.Digest{}, fmt.Errorf("chain %d emitter %s:\n%w",
			att.EmitterChain, att.EmitterAddress.Short(), ErrTransceiverPeerMismatch)
	}

	envelope, err := types.DecodeTransceiverEnvelope(att.Payload)
	if err != nil {
		return types.Digest{}, fmt.Errorf("decode envelope:\n%w", err)
	}
	if envelope.RecipientManager != m.cfg.Address {
		return types.Digest{}, fmt.Errorf("recipient %s:\n%w",
			envelope.RecipientManager.Short(), ErrInvalidRecipientManager)
	}

	peer, err := m.peers.Get(att.EmitterChain)
	if err != nil {
		return types.Digest{}, fmt.Errorf("load peer:\n%w", err)
	}
	if peer == nil {
		return types.Digest{}, fmt.Errorf("chain %d:\n%w", att.EmitterChain, ErrNoPeerRegistered)
	}
	if peer.Manager != envelope.SourceManager {
		return types.Digest{}, fmt.Errorf("source %s:\n%w",
			envelope.SourceManager.Short(), ErrManagerPeerMismatch)
	}

	transfer, err := types.DecodeNativeTokenTransfer(envelope.Message.Payload)
	if err != nil {
		return types.Digest{}, fmt.Errorf("decode transfer:\n%w", err)
	}
	if transfer.RecipientChain != m.cfg.Chain {
		return types.Digest{}, fmt.Errorf("target chain %d:\n%w",
			transfer.RecipientChain, ErrInvalidTargetChain)
	}

	digest := envelope.Message.Digest(att.EmitterChain)

	item, err := m.inbox.Get(att.EmitterChain, digest)
	if err != nil {
		return types.Digest{}, fmt.Errorf("load inbox item:\n%w", err)
	}
	if item == nil {
		item = &queue.InboxItem{
			Status:    queue.NotReleased,
			Sender:    envelope.Message.Sender,
			Recipient: transfer.Recipient,
			Amount:    transfer.Amount,
		}
	}

	if item.Votes.Get(index) {
		logger.Debug("duplicate attestation", "digest", digest.Short(), "transceiver", index)
		return digest, nil
	}

	item.Votes.Set(index)
	if err := m.inbox.Put(att.EmitterChain, digest, item); err != nil {
		return types.Digest{}, fmt.Errorf("persist inbox item:\n%w", err)
	}

	logger.Info("attestation recorded",
		"digest", digest.Short(),
		"chain", att.EmitterChain,
		"transceiver", index,
		"votes", item.Votes.Count(),
		"threshold", m.cfg.Threshold)

	return digest, nil
}

// Redeem releases an attested inbound transfer to its recipient. The
// transfer must have reached the attestation threshold. When inbound
// capacity is short the item is parked with a release time instead of
// failing; a later Redeem past that time retries. Release is
// exactly-once: the released mark commits before the custody credit, so
// a crash between the two strands the credit but can never apply it
// twice.
func (m *Manager) Redeem(sourceChain types.ChainID, digest types.Digest, now int64) (*RedeemReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireNotPaused(); err != nil {
		return nil, err
	}

	item, err := m.inbox.Get(sourceChain, digest)
	if err != nil {
		return nil, fmt.Errorf("load inbox item:\n%w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("digest %s:\n%w", digest.Short(), ErrTransferNotApproved)
	}
	if item.Votes.Count() < int(m.cfg.Threshold) {
		return nil, fmt.Errorf("%d of %d attestations:\n%w",
			item.Votes.Count(), m.cfg.Threshold, ErrTransferNotApproved)
	}

	switch item.Status {
	case queue.Released:
		return nil, fmt.Errorf("digest %s:\n%w", digest.Short(), ErrAlreadyReleased)
	case queue.ReleaseAfter:
		if now < item.ReleaseAt {
			return nil, fmt.Errorf("digest %s releases at %d:\n%w",
				digest.Short(), item.ReleaseAt, ErrCantReleaseYet)
		}
	}

	peer, err := m.peers.Get(sourceChain)
	if err != nil {
		return nil, fmt.Errorf("load peer:\n%w", err)
	}
	if peer == nil {
		return nil, fmt.Errorf("chain %d:\n%w", sourceChain, ErrNoPeerRegistered)
	}

	amount, err := item.Amount.Untrim(m.cfg.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("untrim inbox amount:\n%w", err)
	}

	drained := *peer
	res := drained.Inbound.TryConsume(amount, now, true)
	switch res.Status {
	case ratelimit.Rejected:
		return nil, fmt.Errorf("amount %d, inbound limit %d:\n%w",
			amount, peer.Inbound.Limit, ErrRateLimitExceeded)
	case ratelimit.Queued:
		item.Status = queue.ReleaseAfter
		item.ReleaseAt = res.ReleaseAt
		if err := m.inbox.Put(sourceChain, digest, item); err != nil {
			return nil, fmt.Errorf("persist inbox item:\n%w", err)
		}

		logger.Info("redeem queued", "digest", digest.Short(), "releaseAt", res.ReleaseAt)

		return &RedeemReceipt{ReleaseAt: res.ReleaseAt}, nil
	}

	if err := custody.CanReverse(m.cfg.Mode, m.ledger, m.cfg.Custody, amount); err != nil {
		return nil, fmt.Errorf("custody:\n%w", err)
	}

	newCfg := m.cfg
	newCfg.Outbound.Refill(amount, now)

	item.Status = queue.Released
	item.ReleaseAt = now

	pairs := []storage.KeyValue{
		m.inbox.KV(sourceChain, digest, item),
		m.peers.KV(sourceChain, &drained),
		newCfg.kv(),
	}
	if err := m.st.SetBatch(pairs); err != nil {
		return nil, fmt.Errorf("persist redeem:\n%w", err)
	}
	m.cfg = newCfg

	if err := custody.Reverse(m.cfg.Mode, m.ledger, m.cfg.Custody, item.Recipient, amount); err != nil {
		logger.Error("redeem credit failed after release mark",
			"digest", digest.Short(),
			"recipient", item.Recipient.Short(),
			"amount", amount,
			"error", err)
		return nil, fmt.Errorf("custody:\n%w", err)
	}

	logger.Info("transfer released",
		"digest", digest.Short(),
		"recipient", item.Recipient.Short(),
		"amount", amount)

	return &RedeemReceipt{Released: true, Amount: amount}, nil
}
