package ratelimit

import (
	"math"
	"testing"
)

// TestCapacity_ConcreteReplenishment checks the documented reference
// numbers: limit 1000, consume 400 at T0, half the window later the
// pool is full again because 600 + 43200*1000/86400 caps at the limit.
func TestCapacity_ConcreteReplenishment(t *testing.T) {
	const t0 = int64(1_700_000_000)

	s := New(1000)
	res := s.TryConsume(400, t0, false)
	if res.Status != Consumed {
		t.Fatalf("expected Consumed, got %v", res.Status)
	}
	if s.CapacityAtLastTx != 600 {
		t.Fatalf("capacity at last tx = %d, want 600", s.CapacityAtLastTx)
	}

	if got := s.Capacity(t0 + 21600); got != 850 {
		t.Errorf("capacity after 6h = %d, want 850", got)
	}
	if got := s.Capacity(t0 + 43200); got != 1000 {
		t.Errorf("capacity after 12h = %d, want 1000", got)
	}
}

// TestCapacity_Monotonic checks that capacity never decreases over
// time absent consumption and never exceeds the limit.
func TestCapacity_Monotonic(t *testing.T) {
	const t0 = int64(1_700_000_000)

	s := New(999)
	s.TryConsume(999, t0, false)

	prev := uint64(0)
	for dt := int64(0); dt <= 2*ReplenishDuration; dt += 977 {
		got := s.Capacity(t0 + dt)
		if got < prev {
			t.Fatalf("capacity decreased: %d -> %d at dt=%d", prev, got, dt)
		}
		if got > 999 {
			t.Fatalf("capacity %d exceeds limit at dt=%d", got, dt)
		}
		prev = got
	}
}

func TestTryConsume_Rejected(t *testing.T) {
	const t0 = int64(1_700_000_000)

	s := New(100)
	s.TryConsume(100, t0, false)

	before := s
	res := s.TryConsume(1, t0, false)
	if res.Status != Rejected {
		t.Fatalf("expected Rejected, got %v", res.Status)
	}
	if s != before {
		t.Error("Rejected mutated the state")
	}
}

// TestTryConsume_Queued checks that a queued attempt computes the
// first second at which capacity suffices and mutates nothing.
func TestTryConsume_Queued(t *testing.T) {
	const t0 = int64(1_700_000_000)

	s := New(1000)
	s.TryConsume(1000, t0, false)

	before := s
	res := s.TryConsume(500, t0, true)
	if res.Status != Queued {
		t.Fatalf("expected Queued, got %v", res.Status)
	}
	if s != before {
		t.Error("Queued mutated the state")
	}

	// 500 of 1000 replenishes in half a window.
	want := t0 + 43200
	if res.ReleaseAt != want {
		t.Errorf("release at %d, want %d", res.ReleaseAt, want)
	}

	if got := s.Capacity(res.ReleaseAt); got < 500 {
		t.Errorf("capacity at release = %d, want >= 500", got)
	}
	if got := s.Capacity(res.ReleaseAt - 1); got >= 500 {
		t.Errorf("capacity just before release = %d, expected < 500", got)
	}
}

// TestTryConsume_QueueAboveLimit checks that an amount above the limit
// is rejected even when queueing is allowed: no amount of waiting
// makes it fit.
func TestTryConsume_QueueAboveLimit(t *testing.T) {
	s := New(1000)

	res := s.TryConsume(1001, 1_700_000_000, true)
	if res.Status != Rejected {
		t.Errorf("expected Rejected, got %v", res.Status)
	}
}

func TestTryConsume_ZeroLimit(t *testing.T) {
	s := New(0)

	if res := s.TryConsume(1, 1_700_000_000, true); res.Status != Rejected {
		t.Errorf("expected Rejected on zero limit, got %v", res.Status)
	}
}

// TestSetLimit_Reclamp checks the replace-only semantics: lowering the
// limit clamps immediately, raising it lets the stored capacity grow
// back over time rather than jumping.
func TestSetLimit_Reclamp(t *testing.T) {
	const t0 = int64(1_700_000_000)

	s := New(1000)
	s.TryConsume(0, t0, false) // anchor the clock at t0

	s.SetLimit(300)
	if got := s.Capacity(t0); got != 300 {
		t.Errorf("capacity after lowering = %d, want 300", got)
	}

	s.SetLimit(2000)
	if got := s.Capacity(t0); got != 1000 {
		t.Errorf("capacity after raising = %d, want stored 1000", got)
	}
	if got := s.Capacity(t0 + ReplenishDuration); got != 2000 {
		t.Errorf("capacity a window later = %d, want 2000", got)
	}
}

func TestRefill_ClampsAtLimit(t *testing.T) {
	const t0 = int64(1_700_000_000)

	s := New(1000)
	s.TryConsume(400, t0, false)

	s.Refill(1000, t0)
	if got := s.Capacity(t0); got != 1000 {
		t.Errorf("capacity after refill = %d, want 1000", got)
	}
	if s.LastTxTimestamp != t0 {
		t.Errorf("refill did not re-anchor the clock")
	}
}

func TestRefill_Partial(t *testing.T) {
	const t0 = int64(1_700_000_000)

	s := New(1000)
	s.TryConsume(700, t0, false)

	s.Refill(200, t0)
	if got := s.Capacity(t0); got != 500 {
		t.Errorf("capacity after partial refill = %d, want 500", got)
	}
}

// TestCapacity_LargeValues exercises the 128-bit replenishment path
// with the largest possible limit.
func TestCapacity_LargeValues(t *testing.T) {
	const t0 = int64(1_700_000_000)

	s := New(math.MaxUint64)
	if res := s.TryConsume(math.MaxUint64, t0, false); res.Status != Consumed {
		t.Fatalf("expected Consumed, got %v", res.Status)
	}

	half := s.Capacity(t0 + ReplenishDuration/2)
	if half == 0 || half > math.MaxUint64/2+1 {
		t.Errorf("half-window capacity = %d, out of range", half)
	}
	if got := s.Capacity(t0 + ReplenishDuration); got != math.MaxUint64 {
		t.Errorf("full-window capacity = %d, want max", got)
	}
}

func TestCapacity_ClockRegression(t *testing.T) {
	const t0 = int64(1_700_000_000)

	s := New(1000)
	s.TryConsume(400, t0, false)

	if got := s.Capacity(t0 - 100); got != 600 {
		t.Errorf("capacity with regressed clock = %d, want 600", got)
	}
}

func TestState_EncodeRoundTrip(t *testing.T) {
	s := State{Limit: 12345, CapacityAtLastTx: 678, LastTxTimestamp: 1_700_000_000}

	got, err := Decode(s.Encode())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != s {
		t.Errorf("round trip mismatch: %+v != %+v", got, s)
	}

	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated state")
	}
}
