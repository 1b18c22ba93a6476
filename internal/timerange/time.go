package timerange

import (
	"fmt"
	"math"
	"math/big"
)

// Time is an exact rational timestamp: Value/Scale seconds.
//
// Constructors normalize so that two equal instants compare equal with ==.
// The zero value is 0s. Scale == 0 with a positive Value is +Inf; any other
// non-positive scale reads as 0s.
type Time struct {
	Value int64 `json:"value"`
	Scale int64 `json:"scale"`
}

var (
	// Zero is the 0s instant.
	Zero = Time{}
	// Infinity is the unbounded end of an open range.
	Infinity = Time{Value: 1}
)

// New returns the normalized time value/scale. A non-positive scale yields Zero.
func New(value, scale int64) Time {
	if scale <= 0 {
		return Zero
	}
	return fromRat(new(big.Rat).SetFrac64(value, scale))
}

// Seconds returns the whole-second time n.
func Seconds(n int64) Time {
	return New(n, 1)
}

// FromSeconds approximates f seconds at the given timescale.
func FromSeconds(f float64, scale int64) Time {
	if math.IsInf(f, 1) {
		return Infinity
	}
	if math.IsNaN(f) || scale <= 0 {
		return Zero
	}
	return New(int64(math.Round(f*float64(scale))), scale)
}

// IsInfinite reports whether t is the +Inf sentinel.
func (t Time) IsInfinite() bool {
	return t.Scale == 0 && t.Value > 0
}

// IsZero reports whether t is exactly 0s.
func (t Time) IsZero() bool {
	return t.Value == 0 && t.Scale <= 1
}

// Normalize returns t in canonical form, so values decoded from files compare with ==.
func (t Time) Normalize() Time {
	if t.IsInfinite() {
		return Infinity
	}
	if t.Scale <= 0 {
		return Zero
	}
	return New(t.Value, t.Scale)
}

// Seconds converts t to floating-point seconds. Only use at output boundaries.
func (t Time) Seconds() float64 {
	if t.IsInfinite() {
		return math.Inf(1)
	}
	if t.Scale == 0 {
		return 0
	}
	return float64(t.Value) / float64(t.Scale)
}

// Add returns t+u. Infinity absorbs.
func (t Time) Add(u Time) Time {
	if t.IsInfinite() || u.IsInfinite() {
		return Infinity
	}
	return fromRat(new(big.Rat).Add(t.rat(), u.rat()))
}

// Sub returns t-u. Subtracting from Infinity stays Infinity; subtracting
// Infinity from a finite time is undefined and returns Zero.
func (t Time) Sub(u Time) Time {
	if t.IsInfinite() {
		return Infinity
	}
	if u.IsInfinite() {
		return Zero
	}
	return fromRat(new(big.Rat).Sub(t.rat(), u.rat()))
}

// Cmp compares t and u, returning -1, 0 or +1.
func (t Time) Cmp(u Time) int {
	switch {
	case t.IsInfinite() && u.IsInfinite():
		return 0
	case t.IsInfinite():
		return 1
	case u.IsInfinite():
		return -1
	}
	return t.rat().Cmp(u.rat())
}

// Before reports t < u.
func (t Time) Before(u Time) bool { return t.Cmp(u) < 0 }

// After reports t > u.
func (t Time) After(u Time) bool { return t.Cmp(u) > 0 }

// Mul returns t*n.
func (t Time) Mul(n int64) Time {
	if t.IsInfinite() {
		return Infinity
	}
	return fromRat(new(big.Rat).Mul(t.rat(), new(big.Rat).SetInt64(n)))
}

// MulRatio returns t*num/den, used to map target time onto source time.
// A zero or infinite den yields Zero.
func (t Time) MulRatio(num, den Time) Time {
	if t.IsInfinite() || num.IsInfinite() {
		return Infinity
	}
	if den.IsInfinite() || den.rat().Sign() == 0 {
		return Zero
	}
	r := new(big.Rat).Mul(t.rat(), num.rat())
	return fromRat(r.Quo(r, den.rat()))
}

// FloorDiv returns floor(t/u). It returns 0 when u is not positive or either
// side is infinite.
func FloorDiv(t, u Time) int64 {
	if t.IsInfinite() || u.IsInfinite() || u.rat().Sign() <= 0 {
		return 0
	}
	q := new(big.Rat).Quo(t.rat(), u.rat())
	n := new(big.Int).Quo(q.Num(), q.Denom())
	if q.Sign() < 0 && new(big.Int).Mul(n, q.Denom()).Cmp(q.Num()) != 0 {
		n.Sub(n, big.NewInt(1))
	}
	return n.Int64()
}

// CeilMul returns ceil(t*n) for a finite non-negative t.
func CeilMul(t Time, n int64) int64 {
	if t.IsInfinite() {
		return 0
	}
	p := new(big.Rat).Mul(t.rat(), new(big.Rat).SetInt64(n))
	q, m := new(big.Int).QuoRem(p.Num(), p.Denom(), new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}

// Min returns the earlier of t and u.
func Min(t, u Time) Time {
	if t.Cmp(u) <= 0 {
		return t
	}
	return u
}

// Max returns the later of t and u.
func Max(t, u Time) Time {
	if t.Cmp(u) >= 0 {
		return t
	}
	return u
}

func (t Time) String() string {
	if t.IsInfinite() {
		return "+inf"
	}
	if t.Scale <= 1 {
		return fmt.Sprintf("%ds", t.Value)
	}
	return fmt.Sprintf("%d/%ds", t.Value, t.Scale)
}

func (t Time) rat() *big.Rat {
	if t.Scale <= 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac64(t.Value, t.Scale)
}

// fromRat converts back to int64 form. Denominators that overflow int64 are
// rounded to nanoseconds.
func fromRat(r *big.Rat) Time {
	if r.Sign() == 0 {
		return Zero
	}
	if r.Num().IsInt64() && r.Denom().IsInt64() {
		return Time{Value: r.Num().Int64(), Scale: r.Denom().Int64()}
	}
	f, _ := r.Float64()
	return FromSeconds(f, 1_000_000_000)
}
