package engine

import "time"

// Node is an opaque audio graph node borrowed from the caller. The engine
// re-routes nodes through gain controls but never owns them: every exit
// path leaves them connected somewhere playable.
type Node = any

// GainControl is a schedulable gain parameter supplied by the backend.
type GainControl interface {
	Value() float64
	SetValue(v float64)
	// LinearRampTo ramps linearly from the current value to target,
	// finishing at backend time end.
	LinearRampTo(target float64, end time.Duration)
	CancelRamp()
}

// Backend is the audio-processing capability the engine runs against:
// gain creation, a monotonic scheduling clock, and graph routing into a
// shared destination.
type Backend interface {
	Now() time.Duration
	NewGain() GainControl
	Destination() Node
	Connect(src, dst Node) error
	Disconnect(n Node) error
}

// Playable is the optional pause affordance probed on fade-out sources.
type Playable interface {
	Play()
	Pause()
}

// Positioned is the optional element-level position affordance used for
// proportional position sync between source and target.
type Positioned interface {
	Position() time.Duration
	Duration() time.Duration
	Seek(pos time.Duration) error
}

// Volumer is the optional element-level volume affordance used to pin the
// target's steady-state volume once a fade completes.
type Volumer interface {
	SetVolume(v float64)
}

// Reconnector is a caller-supplied reconnection strategy. When a crossfade's
// metadata implements it, completion routes the target through it instead of
// connecting straight to the destination.
type Reconnector interface {
	Reconnect(target, destination Node) error
}
