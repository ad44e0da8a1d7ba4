package engine

import "time"

// fadeInFloor is the initial fade-in gain. Never exactly zero: some
// backends produce discontinuity artifacts ramping off a true zero.
const fadeInFloor = 0.001

// GainAutomation owns the pair of gain controls driving one crossfade:
// a fade-out gain ramping to silence and a fade-in gain ramping up to the
// steady-state volume.
type GainAutomation struct {
	out    GainControl
	in     GainControl
	volume float64
}

// newGainAutomation creates the gain pair: fade-out pinned at volume,
// fade-in at the non-zero floor.
func newGainAutomation(b Backend, volume float64) *GainAutomation {
	a := &GainAutomation{
		out:    b.NewGain(),
		in:     b.NewGain(),
		volume: volume,
	}
	a.out.SetValue(volume)
	a.in.SetValue(fadeInFloor)
	return a
}

// Schedule arms both linear ramps, anchored to the backend clock, ending
// at mix time end.
func (a *GainAutomation) Schedule(end time.Duration) {
	a.out.LinearRampTo(0, end)
	a.in.LinearRampTo(a.volume, end)
}

// Rescale retargets both gains for a new steady-state volume at the given
// fade progress, then re-arms the ramps toward the same end time so the
// fade's timing is unchanged.
func (a *GainAutomation) Rescale(volume, progress float64, end time.Duration) {
	a.volume = volume
	a.out.SetValue(volume * (1 - progress))
	a.out.LinearRampTo(0, end)
	a.in.SetValue(volume * progress)
	a.in.LinearRampTo(volume, end)
}

// Cancel freezes both ramps in place.
func (a *GainAutomation) Cancel() {
	a.out.CancelRamp()
	a.in.CancelRamp()
}

// Volume returns the steady-state volume the fade-in ramp targets.
func (a *GainAutomation) Volume() float64 { return a.volume }
