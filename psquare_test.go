package arbor

import (
	"math"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
)

// TestPSquareQuantile_ApproximatesMedianOfUniform feeds a large,
// deterministic sample of uniformly distributed values and checks the
// streaming estimate converges close to the true median, without ever
// storing the full sample.
func TestPSquareQuantile_ApproximatesMedianOfUniform(t *testing.T) {
	ps := newPSquareQuantile(0.5)

	// Deterministic pseudo-random sequence (no math/rand seeding
	// dependent on wall-clock, so the test is reproducible).
	const n = 5000
	x := uint64(88172645463325252)
	next := func() float64 {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		return float64(x%100001) / 100000.0
	}
	for i := 0; i < n; i++ {
		ps.Update(next())
	}

	got := ps.Quantile()
	assert.InDelta(t, 0.5, got, 0.03, "P^2 median estimate should track the true median of U(0,1)")
}

// TestPSquareQuantile_FiveSampleBufferingPhase confirms the initial
// buffering phase (count <= 5) never panics and returns a stable
// value once the buffer fills.
func TestPSquareQuantile_FiveSampleBufferingPhase(t *testing.T) {
	ps := newPSquareQuantile(0.9)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		ps.Update(v)
	}
	got := ps.Quantile()
	assert.False(t, math.IsNaN(got))
	assert.GreaterOrEqual(t, got, 1.0)
	assert.LessOrEqual(t, got, 5.0)
}

// TestPSquareQuantile_ClampsOutOfRangeP confirms construction clamps p
// into [0, 1] rather than propagating an invalid target quantile.
func TestPSquareQuantile_ClampsOutOfRangeP(t *testing.T) {
	assert.Equal(t, 0.0, newPSquareQuantile(-1).p)
	assert.Equal(t, 1.0, newPSquareQuantile(2).p)
}

// TestPSquareQuantile_MonotonicOnSortedInput is a quick.Check-style
// sanity property: feeding a monotonically increasing sequence must
// never yield a quantile estimate outside the observed range.
func TestPSquareQuantile_MonotonicOnSortedInput(t *testing.T) {
	prop := func(seed uint16) bool {
		ps := newPSquareQuantile(0.75)
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := 0; i < 200; i++ {
			v := float64(seed) + float64(i)
			lo, hi = math.Min(lo, v), math.Max(hi, v)
			ps.Update(v)
		}
		q := ps.Quantile()
		return q >= lo-1 && q <= hi+1
	}
	assert.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 20}))
}
