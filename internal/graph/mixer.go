package graph

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/strata-audio/strata/internal/audio"
)

// Bus is the shared output every chain ultimately connects to. Mixing of
// its inputs happens in the Mixer render loop.
type Bus struct{}

// Mixer owns the audio graph: elements and gains routed into a single
// destination bus, rendered as 20ms PCM frames at real-time rate. Its frame
// counter doubles as the monotonic scheduling clock gain ramps anchor to.
type Mixer struct {
	log     zerolog.Logger
	dest    *Bus
	frameCh chan []int16
	frames  atomic.Int64 // frames rendered so far

	mu     sync.Mutex
	inputs map[any][]any // downstream node -> ordered upstream nodes
}

// NewMixer creates an empty graph with a single destination bus.
func NewMixer(logger zerolog.Logger) *Mixer {
	return &Mixer{
		log:     logger.With().Str("component", "mixer").Logger(),
		dest:    &Bus{},
		frameCh: make(chan []int16, 100),
		inputs:  make(map[any][]any),
	}
}

// Destination returns the shared output bus.
func (m *Mixer) Destination() any { return m.dest }

// Now returns the current mix time: frames rendered so far. It advances
// with rendering, not wall clock, so scheduled ramps are immune to
// goroutine scheduling jitter.
func (m *Mixer) Now() time.Duration {
	return time.Duration(m.frames.Load()) * audio.FrameDuration
}

// NewGain creates an unconnected gain node bound to this mixer's clock.
func (m *Mixer) NewGain() *Gain {
	return &Gain{mixer: m, value: 1}
}

// Frames returns the channel of rendered PCM frames (20ms each).
func (m *Mixer) Frames() <-chan []int16 {
	return m.frameCh
}

// Connect routes src's output into dst. A gain accepts a single input
// (reconnecting replaces it); the bus sums any number of inputs.
func (m *Mixer) Connect(src, dst any) error {
	if err := validSource(src); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch dst.(type) {
	case *Gain:
		m.inputs[dst] = []any{src}
	case *Bus:
		for _, in := range m.inputs[dst] {
			if in == src {
				return nil
			}
		}
		m.inputs[dst] = append(m.inputs[dst], src)
	default:
		return fmt.Errorf("connect: destination %T cannot accept inputs", dst)
	}
	return nil
}

// Disconnect detaches src from the graph entirely: its output is removed
// from every downstream node and its own input routing is dropped, so
// abandoned nodes hold no references to their upstream chain. Disconnecting
// an unrouted node is a no-op.
func (m *Mixer) Disconnect(src any) error {
	if err := validSource(src); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for dst, ins := range m.inputs {
		kept := ins[:0]
		for _, in := range ins {
			if in != src {
				kept = append(kept, in)
			}
		}
		if len(kept) == 0 {
			delete(m.inputs, dst)
		} else {
			m.inputs[dst] = kept
		}
	}
	delete(m.inputs, src)
	return nil
}

func validSource(n any) error {
	switch n.(type) {
	case *Element, *Gain:
		return nil
	default:
		return fmt.Errorf("graph: %T is not a routable source node", n)
	}
}

// Step renders exactly one frame and advances the clock. Exposed so tests
// can drive the graph without the real-time ticker.
func (m *Mixer) Step() []int16 {
	t := m.Now()

	m.mu.Lock()
	out := make([]int16, audio.FrameSamples)
	for _, in := range m.inputs[m.dest] {
		if f := m.render(in, t); f != nil {
			audio.MixInto(out, f)
		}
	}
	m.mu.Unlock()

	m.frames.Add(1)
	return out
}

// render pulls one frame out of a node chain. Caller holds m.mu.
func (m *Mixer) render(n any, t time.Duration) []int16 {
	switch v := n.(type) {
	case *Element:
		return v.pull()
	case *Gain:
		ins := m.inputs[v]
		if len(ins) == 0 {
			return nil
		}
		f := m.render(ins[0], t)
		if f == nil {
			return nil
		}
		return v.apply(f, t)
	default:
		return nil
	}
}

// Run renders frames at real-time rate until ctx is cancelled.
func (m *Mixer) Run(ctx context.Context) {
	defer close(m.frameCh)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	m.log.Info().Msg("mixer running")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := m.Step()
			select {
			case m.frameCh <- frame:
			case <-ctx.Done():
				return
			default:
				// consumer stalled, drop the frame to stay real-time
			}
		}
	}
}
