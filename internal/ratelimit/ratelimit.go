// Package ratelimit implements the time-decayed capacity pool that
// bounds transfer volume per 24-hour window. Consumed capacity
// replenishes linearly over ReplenishDuration; all arithmetic is exact
// integer math (truncation toward zero) so that independently
// executing chains reproduce identical results.
package ratelimit

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
)

// ReplenishDuration is the time a fully drained pool takes to
// replenish, in seconds.
const ReplenishDuration = 24 * 60 * 60

// EncodedSize is the fixed storage encoding size of a State.
const EncodedSize = 24

// Status is the outcome of a consumption attempt.
type Status uint8

const (
	// Consumed means capacity was available and has been deducted.
	Consumed Status = iota
	// Queued means capacity was insufficient but queueing was allowed;
	// nothing was deducted.
	Queued
	// Rejected means capacity was insufficient and queueing was not
	// allowed (or the amount can never fit); nothing was deducted.
	Rejected
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case Consumed:
		return "consumed"
	case Queued:
		return "queued"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Result is the outcome of TryConsume. ReleaseAt is set only for
// Queued: the first future second at which capacity reaches the
// requested amount under linear replenishment.
type Result struct {
	Status    Status // Status is the consumption outcome
	ReleaseAt int64  // ReleaseAt is when a queued amount becomes available
}

// State is one capacity pool. Limit may be lowered below the stored
// capacity at any time; Capacity always re-clamps into [0, Limit].
type State struct {
	Limit            uint64 // Limit is the maximum capacity
	CapacityAtLastTx uint64 // CapacityAtLastTx is the capacity right after the last consumption
	LastTxTimestamp  int64  // LastTxTimestamp is the unix time of the last consumption
}

// New creates a pool at full capacity.
func New(limit uint64) State {
	return State{Limit: limit, CapacityAtLastTx: limit}
}

// Capacity returns the capacity available at the given time:
// clamp(capacityAtLastTx + elapsed*limit/ReplenishDuration, 0, limit).
func (s *State) Capacity(now int64) uint64 {
	elapsed := now - s.LastTxTimestamp
	if elapsed <= 0 {
		return min(s.CapacityAtLastTx, s.Limit)
	}
	if uint64(elapsed) >= ReplenishDuration {
		return s.Limit
	}

	// elapsed*limit needs 128 bits; elapsed < ReplenishDuration keeps
	// the high word below the divisor, so Div64 cannot trap.
	hi, lo := bits.Mul64(uint64(elapsed), s.Limit)
	replenished, _ := bits.Div64(hi, lo, ReplenishDuration)

	capacity := s.CapacityAtLastTx + replenished
	if capacity < s.CapacityAtLastTx {
		capacity = math.MaxUint64
	}

	return min(capacity, s.Limit)
}

// TryConsume attempts to deduct amount at the given time. On Consumed
// the pool is re-anchored at now with the remainder; Queued and
// Rejected leave the state untouched. An amount above the limit can
// never be satisfied and is Rejected even when queueing is allowed.
func (s *State) TryConsume(amount uint64, now int64, allowQueue bool) Result {
	capacity := s.Capacity(now)
	if capacity >= amount {
		s.CapacityAtLastTx = capacity - amount
		s.LastTxTimestamp = now

		return Result{Status: Consumed}
	}

	if !allowQueue || amount > s.Limit {
		return Result{Status: Rejected}
	}

	// First t with capacity(t) >= amount: now + ceil(needed*D/limit).
	needed := amount - capacity
	hi, lo := bits.Mul64(needed, ReplenishDuration)
	delay, rem := bits.Div64(hi, lo, s.Limit)
	if rem > 0 {
		delay++
	}

	return Result{Status: Queued, ReleaseAt: now + int64(delay)}
}

// Refill returns previously consumed capacity to the pool, clamped at
// the limit, and re-anchors the replenishment clock at now. Inbound
// and outbound pools refill each other so that traffic in one
// direction frees capacity in the other.
func (s *State) Refill(amount uint64, now int64) {
	capacity := s.Capacity(now)

	refilled := capacity + amount
	if refilled < capacity {
		refilled = math.MaxUint64
	}

	s.CapacityAtLastTx = min(refilled, s.Limit)
	s.LastTxTimestamp = now
}

// SetLimit replaces the limit. The stored capacity and timestamp are
// untouched; the next Capacity call re-clamps against the new limit.
func (s *State) SetLimit(limit uint64) {
	s.Limit = limit
}

// Encode serializes the state for embedding in a storage record.
func (s *State) Encode() []byte {
	buf := make([]byte, EncodedSize)
	binary.BigEndian.PutUint64(buf[0:8], s.Limit)
	binary.BigEndian.PutUint64(buf[8:16], s.CapacityAtLastTx)
	binary.BigEndian.PutUint64(buf[16:24], uint64(s.LastTxTimestamp))

	return buf
}

// Decode deserializes a state produced by Encode.
func Decode(data []byte) (State, error) {
	if len(data) != EncodedSize {
		return State{}, fmt.Errorf("invalid rate limit state size: %d bytes", len(data))
	}

	return State{
		Limit:            binary.BigEndian.Uint64(data[0:8]),
		CapacityAtLastTx: binary.BigEndian.Uint64(data[8:16]),
		LastTxTimestamp:  int64(binary.BigEndian.Uint64(data[16:24])),
	}, nil
}
