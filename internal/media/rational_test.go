package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRescale(t *testing.T) {
	ms := Rational{Num: 1, Den: 1000}
	tb90k := Rational{Num: 1, Den: 90000}

	t.Run("identity", func(t *testing.T) {
		assert.Equal(t, int64(1234), Rescale(1234, ms, ms))
	})

	t.Run("milliseconds to 90kHz", func(t *testing.T) {
		assert.Equal(t, int64(90000), Rescale(1000, ms, tb90k))
		assert.Equal(t, int64(500_000), Rescale(500, ms, GlobalTimeBase))
	})

	t.Run("90kHz to milliseconds rounds to nearest", func(t *testing.T) {
		// 1 tick of 90kHz is 0.0111ms, rounds to 0.
		assert.Equal(t, int64(0), Rescale(1, tb90k, ms))
		// 45 ticks is exactly 0.5ms, half rounds away from zero.
		assert.Equal(t, int64(1), Rescale(45, tb90k, ms))
		assert.Equal(t, int64(-1), Rescale(-45, tb90k, ms))
	})

	t.Run("no timestamp passes through", func(t *testing.T) {
		assert.Equal(t, NoTimestamp, Rescale(NoTimestamp, ms, tb90k))
	})

	t.Run("global time base round trip", func(t *testing.T) {
		ts := int64(570_000) // 570s in milliseconds
		global := Rescale(ts, ms, GlobalTimeBase)
		assert.Equal(t, int64(570_000_000), global)
		assert.Equal(t, ts, Rescale(global, GlobalTimeBase, ms))
	})
}

func TestRescaleSeconds(t *testing.T) {
	assert.Equal(t, int64(570_000_000), RescaleSeconds(570.0, GlobalTimeBase))
	// Rounds down so seek targets never overshoot.
	assert.Equal(t, int64(1_999), RescaleSeconds(1.9999, Rational{Num: 1, Den: 1000}))
	assert.Equal(t, int64(0), RescaleSeconds(0, GlobalTimeBase))
}

func TestRationalValid(t *testing.T) {
	assert.True(t, Rational{Num: 1, Den: 90000}.Valid())
	assert.False(t, Rational{Num: 0, Den: 1000}.Valid())
	assert.False(t, Rational{Num: 1, Den: 0}.Valid())
	assert.False(t, Rational{Num: -1, Den: 1000}.Valid())
}
