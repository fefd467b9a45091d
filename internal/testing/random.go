package testing

import "sync"

// ScriptedRandom replays a fixed sequence of floats. Once the script is
// exhausted it keeps returning Fallback. Intn draws from the same sequence.
type ScriptedRandom struct {
	mu       sync.Mutex
	values   []float64
	next     int
	Fallback float64
}

// NewScriptedRandom creates a source that returns values in order, then 0.99.
func NewScriptedRandom(values ...float64) *ScriptedRandom {
	return &ScriptedRandom{values: values, Fallback: 0.99}
}

// Constant creates a source that always returns v.
func Constant(v float64) *ScriptedRandom {
	return &ScriptedRandom{Fallback: v}
}

// Float64 returns the next scripted value.
func (r *ScriptedRandom) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next < len(r.values) {
		v := r.values[r.next]
		r.next++
		return v
	}
	r.next++
	return r.Fallback
}

// Intn maps the next scripted value onto [0, n).
func (r *ScriptedRandom) Intn(n int) int {
	if n <= 0 {
		panic("invalid argument to Intn")
	}
	v := int(r.Float64() * float64(n))
	if v >= n {
		v = n - 1
	}
	return v
}

// Draws returns how many values have been consumed.
func (r *ScriptedRandom) Draws() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}
