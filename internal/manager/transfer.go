package manager

import (
	"context"
	"fmt"

	"ntt/internal/custody"
	"ntt/internal/logger"
	"ntt/internal/queue"
	"ntt/internal/ratelimit"
	"ntt/internal/storage"
	"ntt/internal/types"
)

// TransferReceipt reports how a transfer left the manager.
type TransferReceipt struct {
	Sequence  uint64 // Sequence is the assigned outbound sequence
	Dust      uint64 // Dust is the sub-precision remainder left with the sender
	Queued    bool   // Queued means the transfer waits for outbound capacity
	ReleaseAt int64  // ReleaseAt is when a queued transfer may be released
}

// Transfer accepts an outbound transfer of amount (in local token
// units) from sender to recipient on recipientChain. The amount is
// trimmed to the precision shared with the peer; the dust stays with
// the sender. Custody applies immediately, even when the transfer is
// queued for capacity, so a queued transfer is already funded. With
// allowQueue false a transfer that exceeds current capacity is
// rejected instead of queued.
func (m *Manager) Transfer(ctx context.Context, sender types.UniversalAddress, amount uint64, recipientChain types.ChainID, recipient types.UniversalAddress, allowQueue bool, now int64) (*TransferReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireNotPaused(); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if recipient.IsZero() {
		return nil, ErrInvalidRecipient
	}

	peer, err := m.peers.Get(recipientChain)
	if err != nil {
		return nil, fmt.Errorf("load peer:\n%w", err)
	}
	if peer == nil {
		return nil, fmt.Errorf("chain %d:\n%w", recipientChain, ErrNoPeerRegistered)
	}

	trimmed, dust, err := types.RemoveDust(amount, m.cfg.TokenDecimals, peer.Decimals)
	if err != nil {
		return nil, fmt.Errorf("trim %d:\n%w", amount, err)
	}
	if trimmed.IsZero() {
		return nil, fmt.Errorf("%d trims to zero at %d decimals:\n%w", amount, trimmed.Decimals, ErrZeroAmount)
	}
	kept := amount - dust

	outbound := m.cfg.Outbound
	res := outbound.TryConsume(kept, now, allowQueue)
	if res.Status == ratelimit.Rejected {
		return nil, fmt.Errorf("amount %d, outbound capacity %d:\n%w",
			kept, m.cfg.Outbound.Capacity(now), ErrRateLimitExceeded)
	}

	sequence := m.cfg.NextSequence

	transfer := types.NativeTokenTransfer{
		Amount:         trimmed,
		SourceToken:    m.cfg.Token,
		Recipient:      recipient,
		RecipientChain: recipientChain,
	}
	envelope := types.TransceiverEnvelope{
		SourceManager:    m.cfg.Address,
		RecipientManager: peer.Manager,
		Message: types.ManagerMessage{
			ID:      types.MessageID(m.cfg.Chain, m.cfg.Address, sequence),
			Sender:  sender,
			Payload: transfer.Encode(),
		},
	}

	item := &queue.OutboxItem{
		Sequence:       sequence,
		Sender:         sender,
		Amount:         trimmed,
		RecipientChain: recipientChain,
		CreatedAt:      now,
		ReleaseAt:      now,
		Envelope:       envelope.Encode(),
	}
	if res.Status == ratelimit.Consumed {
		item.Consumed = true
	} else {
		item.ReleaseAt = res.ReleaseAt
	}

	// Custody first: a failed lock or burn aborts with nothing written.
	if err := custody.Forward(m.cfg.Mode, m.ledger, m.cfg.Custody, sender, kept); err != nil {
		return nil, fmt.Errorf("custody:\n%w", err)
	}

	newCfg := m.cfg
	newCfg.NextSequence = sequence + 1

	pairs := []storage.KeyValue{m.outbox.KV(item)}
	if item.Consumed {
		newCfg.Outbound = outbound

		refilled := *peer
		refilled.Inbound.Refill(kept, now)
		pairs = append(pairs, m.peers.KV(recipientChain, &refilled))
	}
	pairs = append(pairs, newCfg.kv())

	if err := m.st.SetBatch(pairs); err != nil {
		logger.Error("transfer state not persisted after custody",
			"sequence", sequence, "sender", sender.Short(), "error", err)
		return nil, fmt.Errorf("persist transfer:\n%w", err)
	}
	m.cfg = newCfg

	logger.Info("transfer accepted",
		"sequence", sequence,
		"chain", recipientChain,
		"amount", trimmed.Amount,
		"decimals", trimmed.Decimals,
		"dust", dust,
		"queued", !item.Consumed)

	if item.Consumed {
		m.emitOutbox(ctx, item)
	}

	return &TransferReceipt{
		Sequence:  sequence,
		Dust:      dust,
		Queued:    !item.Consumed,
		ReleaseAt: item.ReleaseAt,
	}, nil
}

// ReleaseOutbound drains a queued outbox item once its release time has
// passed, consuming outbound capacity at drain time. On an item that
// already consumed capacity it retries emission through transceivers
// that have not emitted yet.
func (m *Manager) ReleaseOutbound(ctx context.Context, sequence uint64, now int64) (*TransferReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireNotPaused(); err != nil {
		return nil, err
	}

	item, err := m.outbox.Get(sequence)
	if err != nil {
		return nil, fmt.Errorf("load outbox item:\n%w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("sequence %d:\n%w", sequence, ErrOutboxItemNotFound)
	}
	if item.Cancelled {
		return nil, fmt.Errorf("sequence %d:\n%w", sequence, ErrCancelled)
	}

	if item.Consumed {
		complete, err := m.fullyEmitted(item.Emitted)
		if err != nil {
			return nil, err
		}
		if complete {
			return nil, fmt.Errorf("sequence %d:\n%w", sequence, ErrAlreadyEmitted)
		}

		m.emitOutbox(ctx, item)

		return &TransferReceipt{Sequence: sequence, ReleaseAt: item.ReleaseAt}, nil
	}

	if now < item.ReleaseAt {
		return nil, fmt.Errorf("sequence %d releases at %d:\n%w", sequence, item.ReleaseAt, ErrCantReleaseYet)
	}

	peer, err := m.peers.Get(item.RecipientChain)
	if err != nil {
		return nil, fmt.Errorf("load peer:\n%w", err)
	}
	if peer == nil {
		return nil, fmt.Errorf("chain %d:\n%w", item.RecipientChain, ErrNoPeerRegistered)
	}

	kept, err := item.Amount.Untrim(m.cfg.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("untrim outbox amount:\n%w", err)
	}

	outbound := m.cfg.Outbound
	res := outbound.TryConsume(kept, now, true)
	switch res.Status {
	case ratelimit.Rejected:
		// The limit was lowered below the amount after queueing.
		return nil, fmt.Errorf("amount %d, outbound limit %d:\n%w",
			kept, m.cfg.Outbound.Limit, ErrRateLimitExceeded)
	case ratelimit.Queued:
		item.ReleaseAt = res.ReleaseAt
		if err := m.outbox.Put(item); err != nil {
			return nil, fmt.Errorf("requeue outbox item:\n%w", err)
		}

		logger.Info("transfer requeued", "sequence", sequence, "releaseAt", res.ReleaseAt)

		return &TransferReceipt{Sequence: sequence, Queued: true, ReleaseAt: res.ReleaseAt}, nil
	}

	item.Consumed = true
	item.ReleaseAt = now

	newCfg := m.cfg
	newCfg.Outbound = outbound

	refilled := *peer
	refilled.Inbound.Refill(kept, now)

	pairs := []storage.KeyValue{
		m.outbox.KV(item),
		m.peers.KV(item.RecipientChain, &refilled),
		newCfg.kv(),
	}
	if err := m.st.SetBatch(pairs); err != nil {
		return nil, fmt.Errorf("persist release:\n%w", err)
	}
	m.cfg = newCfg

	logger.Info("queued transfer released", "sequence", sequence, "amount", kept)

	m.emitOutbox(ctx, item)

	return &TransferReceipt{Sequence: sequence, ReleaseAt: now}, nil
}

// CancelOutbound reverses a still-queued transfer and refunds the
// sender. Only the sender may cancel, and only before outbound capacity
// was consumed; a queued item never charged the limiter, so there is
// nothing to refund there.
func (m *Manager) CancelOutbound(caller types.UniversalAddress, sequence uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireNotPaused(); err != nil {
		return err
	}

	item, err := m.outbox.Get(sequence)
	if err != nil {
		return fmt.Errorf("load outbox item:\n%w", err)
	}
	if item == nil {
		return fmt.Errorf("sequence %d:\n%w", sequence, ErrOutboxItemNotFound)
	}
	if item.Cancelled {
		return fmt.Errorf("sequence %d already cancelled:\n%w", sequence, ErrAlreadyInState)
	}
	if item.Consumed {
		return fmt.Errorf("sequence %d:\n%w", sequence, ErrAlreadyReleased)
	}
	if caller != item.Sender {
		return fmt.Errorf("sequence %d:\n%w", sequence, ErrNotSender)
	}

	refund, err := item.Amount.Untrim(m.cfg.TokenDecimals)
	if err != nil {
		return fmt.Errorf("untrim outbox amount:\n%w", err)
	}

	if err := custody.CanReverse(m.cfg.Mode, m.ledger, m.cfg.Custody, refund); err != nil {
		return fmt.Errorf("custody:\n%w", err)
	}

	// The cancelled mark commits before the refund: a crash between the
	// two can strand the refund but never double it.
	item.Cancelled = true
	if err := m.outbox.Put(item); err != nil {
		return fmt.Errorf("persist cancel:\n%w", err)
	}

	if err := custody.Reverse(m.cfg.Mode, m.ledger, m.cfg.Custody, item.Sender, refund); err != nil {
		logger.Error("cancel refund failed after cancel mark",
			"sequence", sequence, "sender", item.Sender.Short(), "amount", refund, "error", err)
		return fmt.Errorf("custody:\n%w", err)
	}

	logger.Info("transfer cancelled", "sequence", sequence, "refund", refund)

	return nil
}

// emitOutbox fans the item's envelope out to enabled transceivers and
// persists any newly emitted indexes. Emission failures are logged, not
// returned; ReleaseOutbound retries them.
func (m *Manager) emitOutbox(ctx context.Context, item *queue.OutboxItem) {
	emitted := m.emitEnabled(ctx, item.Emitted, item.Envelope)
	if emitted == item.Emitted {
		return
	}

	item.Emitted = emitted
	if err := m.outbox.Put(item); err != nil {
		logger.Error("persist emission marks", "sequence", item.Sequence, "error", err)
	}
}
