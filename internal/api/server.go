// Package api exposes the manager's operations over HTTP. All request
// and response bodies are JSON except the snapshot routes, which carry
// the raw snapshot bytes. Addresses and digests travel as hex strings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"ntt/internal/logger"
	"ntt/internal/manager"
	"ntt/internal/types"
)

const (
	// maxBodySize caps JSON request bodies.
	maxBodySize = 1 << 20 // 1 MB

	// maxSnapshotSize caps uploaded state snapshots.
	maxSnapshotSize = 64 << 20 // 64 MB
)

// Verifier authenticates raw attestation bytes delivered over a
// transceiver channel and extracts the verified envelope. The node
// wires in a concrete verifier per deployment.
type Verifier interface {
	Verify(raw []byte) (types.VerifiedAttestation, error)
}

// Server is the HTTP API server.
type Server struct {
	addr     string           // addr is the HTTP listen address
	manager  *manager.Manager // manager executes transfer and admin operations
	verifier Verifier         // verifier authenticates inbound attestations
	server   *http.Server     // server is the underlying HTTP server
	now      func() int64     // now supplies unix time for rate limit math
}

// New creates a new HTTP API server.
func New(addr string, mgr *manager.Manager, verifier Verifier) *Server {
	return &Server{
		addr:     addr,
		manager:  mgr,
		verifier: verifier,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Handler returns the server's request handler, for callers that
// manage the listener themselves.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /transfer", s.handleTransfer)
	mux.HandleFunc("GET /outbox", s.handleQueuedOutbox)
	mux.HandleFunc("GET /outbox/{seq}", s.handleGetOutbox)
	mux.HandleFunc("POST /outbox/{seq}/release", s.handleReleaseOutbound)
	mux.HandleFunc("POST /outbox/{seq}/cancel", s.handleCancelOutbound)

	mux.HandleFunc("POST /attest", s.handleAttest)
	mux.HandleFunc("POST /redeem", s.handleRedeem)
	mux.HandleFunc("GET /messages/{chain}/{digest}", s.handleGetMessage)

	mux.HandleFunc("POST /peers", s.handleSetPeer)
	mux.HandleFunc("GET /peers", s.handleListPeers)
	mux.HandleFunc("GET /peers/{chain}", s.handleGetPeer)
	mux.HandleFunc("POST /transceivers", s.handleRegisterTransceiver)
	mux.HandleFunc("GET /transceivers", s.handleListTransceivers)
	mux.HandleFunc("POST /transceivers/{index}/enabled", s.handleSetTransceiverEnabled)
	mux.HandleFunc("POST /transceivers/{index}/peers", s.handleSetTransceiverPeer)

	mux.HandleFunc("POST /threshold", s.handleSetThreshold)
	mux.HandleFunc("POST /limits/outbound", s.handleSetOutboundLimit)
	mux.HandleFunc("POST /limits/inbound", s.handleSetInboundLimit)
	mux.HandleFunc("POST /pause", s.handlePause)
	mux.HandleFunc("POST /unpause", s.handleUnpause)
	mux.HandleFunc("POST /pauser", s.handleSetPauser)
	mux.HandleFunc("POST /owner", s.handleTransferOwnership)
	mux.HandleFunc("POST /owner/claim", s.handleClaimOwnership)
	mux.HandleFunc("POST /owner/onestep", s.handleTransferOwnershipOneStep)

	mux.HandleFunc("POST /broadcast/init", s.handleBroadcastInit)
	mux.HandleFunc("POST /broadcast/peer", s.handleBroadcastPeer)

	mux.HandleFunc("GET /capacity/outbound", s.handleOutboundCapacity)
	mux.HandleFunc("GET /capacity/inbound/{chain}", s.handleInboundCapacity)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /state/export", s.handleExportState)
	mux.HandleFunc("POST /state/import", s.handleImportState)

	return mux
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.manager.Status(s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chain":               status.Chain,
		"address":             status.Address.Hex(),
		"token":               status.Token.Hex(),
		"tokenDecimals":       status.TokenDecimals,
		"mode":                status.Mode.String(),
		"paused":              status.Paused,
		"threshold":           status.Threshold,
		"transceivers":        status.Transceivers,
		"enabledTransceivers": status.EnabledTransceivers,
		"peers":               status.Peers,
		"nextSequence":        status.NextSequence,
		"outboundLimit":       status.OutboundLimit,
		"outboundCapacity":    status.OutboundCapacity,
		"owner":               status.Owner.Hex(),
		"pauser":              status.Pauser.Hex(),
		"pendingOwner":        status.PendingOwner.Hex(),
	})
}

// handleExportState handles GET /state/export requests.
func (s *Server) handleExportState(w http.ResponseWriter, r *http.Request) {
	data, err := s.manager.ExportState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleImportState handles POST /state/import requests.
func (s *Server) handleImportState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty snapshot")
		return
	}

	if err := s.manager.ImportState(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// decodeBody decodes a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read body")
	}

	if len(body) == 0 {
		return fmt.Errorf("empty body")
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid json: %v", err)
	}

	return nil
}

// parseAddress decodes a hex address field, rejecting empty values.
func parseAddress(field, s string) (types.UniversalAddress, error) {
	if s == "" {
		return types.UniversalAddress{}, fmt.Errorf("missing %s", field)
	}

	addr, err := types.AddressFromHex(s)
	if err != nil {
		return types.UniversalAddress{}, fmt.Errorf("invalid %s", field)
	}

	return addr, nil
}

// pathUint parses a numeric path segment with the given bit width.
func pathUint(r *http.Request, name string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}

	return v, nil
}

// writeManagerError maps a manager error onto an HTTP status code.
func writeManagerError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// statusFor picks the HTTP status for a manager error: authorization
// failures map to 403, missing records to 404, attestations that fail
// protocol checks to 422, operations blocked by current state or
// capacity to 409, the pause switch to 423, and anything else to 400.
func statusFor(err error) int {
	switch {
	case errors.Is(err, manager.ErrNotOwner),
		errors.Is(err, manager.ErrNotPauser),
		errors.Is(err, manager.ErrNotSender):
		return http.StatusForbidden

	case errors.Is(err, manager.ErrOutboxItemNotFound),
		errors.Is(err, manager.ErrNoPeerRegistered),
		errors.Is(err, manager.ErrInvalidTransceiverIndex):
		return http.StatusNotFound

	case errors.Is(err, manager.ErrAttestationVerificationFailed),
		errors.Is(err, manager.ErrUnknownOrDisabledTransceiver),
		errors.Is(err, manager.ErrTransceiverPeerMismatch),
		errors.Is(err, manager.ErrManagerPeerMismatch),
		errors.Is(err, manager.ErrInvalidRecipientManager),
		errors.Is(err, manager.ErrInvalidTargetChain):
		return http.StatusUnprocessableEntity

	case errors.Is(err, manager.ErrRateLimitExceeded),
		errors.Is(err, manager.ErrTransferNotApproved),
		errors.Is(err, manager.ErrAlreadyReleased),
		errors.Is(err, manager.ErrAlreadyInState),
		errors.Is(err, manager.ErrCantReleaseYet),
		errors.Is(err, manager.ErrCancelled),
		errors.Is(err, manager.ErrAlreadyEmitted),
		errors.Is(err, manager.ErrInvalidPendingOwner),
		errors.Is(err, manager.ErrThresholdTooHigh),
		errors.Is(err, manager.ErrTooManyTransceivers):
		return http.StatusConflict

	case errors.Is(err, manager.ErrPaused):
		return http.StatusLocked

	default:
		return http.StatusBadRequest
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
