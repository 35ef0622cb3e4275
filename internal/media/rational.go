package media

// Rational is a time base expressed as Num/Den seconds per tick.
type Rational struct {
	Num int64
	Den int64
}

// GlobalTimeBase is the container-independent unit used for seek targets,
// one microsecond per tick.
var GlobalTimeBase = Rational{Num: 1, Den: 1_000_000}

// Valid reports whether the rational can be used as a time base.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Float returns the rational as a float64.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

// Rescale converts a timestamp from one time base to another, rounding to the
// nearest tick with halves away from zero. NoTimestamp passes through
// unchanged so absent pts/dts values survive rebasing.
func Rescale(ts int64, from, to Rational) int64 {
	if ts == NoTimestamp {
		return NoTimestamp
	}
	if from == to {
		return ts
	}
	// ts * (from.Num * to.Den) / (from.Den * to.Num), reduced first to
	// keep the intermediate product inside int64 for realistic time bases.
	num := from.Num * to.Den
	den := from.Den * to.Num
	g := gcd(num, den)
	num /= g
	den /= g

	v := ts * num
	if v >= 0 {
		return (v + den/2) / den
	}
	return (v - den/2) / den
}

// RescaleSeconds converts a duration in seconds into ticks of the given time
// base, rounding down. Used for seek targets where a backward bias is wanted.
func RescaleSeconds(seconds float64, to Rational) int64 {
	return int64(seconds * float64(to.Den) / float64(to.Num))
}
