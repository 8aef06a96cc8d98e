package api

import (
	"net/http"

	"ntt/internal/manager"
	"ntt/internal/queue"
	"ntt/internal/types"
)

// handleTransfer handles POST /transfer requests.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sender         string `json:"sender"`
		Amount         uint64 `json:"amount"`
		RecipientChain uint16 `json:"recipientChain"`
		Recipient      string `json:"recipient"`
		AllowQueue     bool   `json:"allowQueue"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sender, err := parseAddress("sender", req.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := s.manager.Transfer(r.Context(), sender, req.Amount,
		types.ChainID(req.RecipientChain), recipient, req.AllowQueue, s.now())
	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receiptJSON(receipt))
}

// handleReleaseOutbound handles POST /outbox/{seq}/release requests.
func (s *Server) handleReleaseOutbound(w http.ResponseWriter, r *http.Request) {
	seq, err := pathUint(r, "seq", 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := s.manager.ReleaseOutbound(r.Context(), seq, s.now())
	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receiptJSON(receipt))
}

// handleCancelOutbound handles POST /outbox/{seq}/cancel requests.
func (s *Server) handleCancelOutbound(w http.ResponseWriter, r *http.Request) {
	seq, err := pathUint(r, "seq", 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Caller string `json:"caller"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.manager.CancelOutbound(caller, seq); err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleGetOutbox handles GET /outbox/{seq} requests.
func (s *Server) handleGetOutbox(w http.ResponseWriter, r *http.Request) {
	seq, err := pathUint(r, "seq", 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := s.manager.OutboxItem(seq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if item == nil {
		writeError(w, http.StatusNotFound, "outbox item not found")
		return
	}

	writeJSON(w, http.StatusOK, outboxJSON(item))
}

// handleQueuedOutbox handles GET /outbox requests. It lists transfers
// waiting for outbound capacity.
func (s *Server) handleQueuedOutbox(w http.ResponseWriter, r *http.Request) {
	items, err := s.manager.QueuedOutbox()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]map[string]any, 0, len(items))
	for _, item := range items {
		resp = append(resp, outboxJSON(item))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleOutboundCapacity handles GET /capacity/outbound requests.
func (s *Server) handleOutboundCapacity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"capacity": s.manager.OutboundCapacity(s.now()),
	})
}

// handleInboundCapacity handles GET /capacity/inbound/{chain} requests.
func (s *Server) handleInboundCapacity(w http.ResponseWriter, r *http.Request) {
	chain, err := pathUint(r, "chain", 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	capacity, err := s.manager.InboundCapacity(types.ChainID(chain), s.now())
	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chain":    chain,
		"capacity": capacity,
	})
}

// receiptJSON renders a transfer receipt.
func receiptJSON(receipt *manager.TransferReceipt) map[string]any {
	return map[string]any{
		"sequence":  receipt.Sequence,
		"dust":      receipt.Dust,
		"queued":    receipt.Queued,
		"releaseAt": receipt.ReleaseAt,
	}
}

// outboxJSON renders an outbox item.
func outboxJSON(item *queue.OutboxItem) map[string]any {
	return map[string]any{
		"sequence":       item.Sequence,
		"sender":         item.Sender.Hex(),
		"amount":         item.Amount.Amount,
		"decimals":       item.Amount.Decimals,
		"recipientChain": item.RecipientChain,
		"createdAt":      item.CreatedAt,
		"releaseAt":      item.ReleaseAt,
		"consumed":       item.Consumed,
		"cancelled":      item.Cancelled,
		"emitted":        item.Emitted.Count(),
		"queued":         item.Queued(),
	}
}
