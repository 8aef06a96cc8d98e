package manager

import "errors"

// Sentinel errors returned by manager operations. Callers match them
// with errors.Is; the API layer maps them onto HTTP status codes.
var (
	// ErrNoPeerRegistered means no manager peer is registered for the chain.
	ErrNoPeerRegistered = errors.New("no peer registered for chain")
	// ErrThresholdTooHigh means the threshold would exceed the enabled transceiver count.
	ErrThresholdTooHigh = errors.New("threshold exceeds enabled transceiver count")
	// ErrZeroThreshold means a zero threshold was requested.
	ErrZeroThreshold = errors.New("threshold must be nonzero")
	// ErrInvalidTransceiverIndex means no transceiver is registered at the index.
	ErrInvalidTransceiverIndex = errors.New("no transceiver at index")
	// ErrTooManyTransceivers means the transceiver registry is full.
	ErrTooManyTransceivers = errors.New("transceiver registry is full")
	// ErrInvalidPeer means a peer registration carried a zero chain or address.
	ErrInvalidPeer = errors.New("invalid peer")

	// ErrNotOwner means the caller is not the manager owner.
	ErrNotOwner = errors.New("caller is not the owner")
	// ErrNotPauser means the caller is neither the owner nor the pauser.
	ErrNotPauser = errors.New("caller cannot pause")
	// ErrNotSender means the caller did not initiate the transfer.
	ErrNotSender = errors.New("caller is not the transfer sender")
	// ErrInvalidPendingOwner means the caller cannot act on the pending
	// ownership transfer (or none is pending).
	ErrInvalidPendingOwner = errors.New("no claimable ownership transfer")

	// ErrPaused means the manager is paused.
	ErrPaused = errors.New("manager is paused")
	// ErrAlreadyReleased means the transfer's custody effect was already applied.
	ErrAlreadyReleased = errors.New("transfer already released")
	// ErrAlreadyInState means the toggle is already in the requested state.
	ErrAlreadyInState = errors.New("already in the requested state")
	// ErrCantReleaseYet means the transfer's release time has not been reached.
	ErrCantReleaseYet = errors.New("release time not reached")
	// ErrCancelled means the outbox item was cancelled by its sender.
	ErrCancelled = errors.New("transfer was cancelled")
	// ErrOutboxItemNotFound means no outbox item exists for the sequence.
	ErrOutboxItemNotFound = errors.New("no outbox item for sequence")
	// ErrAlreadyEmitted means every enabled transceiver already emitted the item.
	ErrAlreadyEmitted = errors.New("already emitted by every enabled transceiver")

	// ErrRateLimitExceeded means the rate limiter rejected the amount.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrAttestationVerificationFailed means the attestation's signature
	// check failed upstream of the manager.
	ErrAttestationVerificationFailed = errors.New("attestation verification failed")
	// ErrUnknownOrDisabledTransceiver means the attestation names a
	// transceiver index that is unregistered or disabled.
	ErrUnknownOrDisabledTransceiver = errors.New("unknown or disabled transceiver")
	// ErrTransceiverPeerMismatch means the attestation's emitter is not the
	// transceiver's registered peer on the source chain.
	ErrTransceiverPeerMismatch = errors.New("emitter does not match transceiver peer")
	// ErrManagerPeerMismatch means the envelope's source manager is not the
	// registered peer manager for the source chain.
	ErrManagerPeerMismatch = errors.New("source manager does not match registered peer")
	// ErrInvalidRecipientManager means the envelope is addressed to a
	// different manager.
	ErrInvalidRecipientManager = errors.New("envelope not addressed to this manager")
	// ErrInvalidTargetChain means the transfer's recipient chain is not this chain.
	ErrInvalidTargetChain = errors.New("transfer not addressed to this chain")
	// ErrTransferNotApproved means the transfer has not reached the
	// attestation threshold.
	ErrTransferNotApproved = errors.New("attestation threshold not reached")
	// ErrInvalidRecipient means the transfer recipient is the zero address.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrZeroAmount means the amount is zero or trims to zero.
	ErrZeroAmount = errors.New("amount rounds to zero")
)
