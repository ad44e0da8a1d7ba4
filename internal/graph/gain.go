package graph

import (
	"sync"
	"time"
)

// Gain scales the samples of its single input by a controllable value.
// The value can be set directly or driven by a linear ramp anchored to
// the mixer's clock.
type Gain struct {
	mixer *Mixer

	mu       sync.Mutex
	value    float64
	ramp     bool
	rampFrom float64
	rampTo   float64
	rampBeg  time.Duration
	rampEnd  time.Duration
}

// Value returns the gain evaluated at the current mix time.
func (g *Gain) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.valueAt(g.mixer.Now())
}

// SetValue pins the gain to v immediately, cancelling any active ramp.
func (g *Gain) SetValue(v float64) {
	g.mu.Lock()
	g.value = v
	g.ramp = false
	g.mu.Unlock()
}

// LinearRampTo schedules a linear ramp from the current value to target,
// starting now and ending at mix time end. An end at or before now pins
// the target immediately.
func (g *Gain) LinearRampTo(target float64, end time.Duration) {
	now := g.mixer.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if end <= now {
		g.value = target
		g.ramp = false
		return
	}
	g.rampFrom = g.valueAt(now)
	g.rampTo = target
	g.rampBeg = now
	g.rampEnd = end
	g.ramp = true
}

// CancelRamp freezes the gain at its current ramped value.
func (g *Gain) CancelRamp() {
	now := g.mixer.Now()
	g.mu.Lock()
	if g.ramp {
		g.value = g.valueAt(now)
		g.ramp = false
	}
	g.mu.Unlock()
}

// valueAt evaluates the gain at mix time t. Caller holds g.mu.
func (g *Gain) valueAt(t time.Duration) float64 {
	if !g.ramp {
		return g.value
	}
	if t <= g.rampBeg {
		return g.rampFrom
	}
	if t >= g.rampEnd {
		return g.rampTo
	}
	frac := float64(t-g.rampBeg) / float64(g.rampEnd-g.rampBeg)
	return g.rampFrom + (g.rampTo-g.rampFrom)*frac
}

// apply scales one frame by the gain value at mix time t.
func (g *Gain) apply(frame []int16, t time.Duration) []int16 {
	g.mu.Lock()
	v := g.valueAt(t)
	// settle finished ramps so Value() stays stable afterwards
	if g.ramp && t >= g.rampEnd {
		g.value = g.rampTo
		g.ramp = false
	}
	g.mu.Unlock()

	if v == 1 {
		return frame
	}
	out := make([]int16, len(frame))
	for i, s := range frame {
		out[i] = int16(float64(s) * v)
	}
	return out
}
