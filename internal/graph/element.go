package graph

import (
	"fmt"
	"sync"
	"time"

	"github.com/strata-audio/strata/internal/audio"
)

// Element is a file-backed playable source node: decoded PCM with a play
// cursor, its own volume, and optional looping. It exposes the
// position/duration/pause affordances the engine probes for.
type Element struct {
	name    string
	samples []int16

	mu      sync.Mutex
	cursor  int // frame index into samples
	playing bool
	volume  float64
	loop    bool
}

// NewElement wraps decoded interleaved PCM in a paused element at volume 1.
func NewElement(name string, samples []int16) *Element {
	// drop a ragged tail so the cursor always lands on frame boundaries
	n := len(samples) / audio.FrameSamples * audio.FrameSamples
	return &Element{
		name:    name,
		samples: samples[:n],
		volume:  1,
	}
}

// LoadElement decodes an audio file (mp3 or wav) into an element.
func LoadElement(name, path string) (*Element, error) {
	samples, err := DecodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("load element %s: %w", name, err)
	}
	return NewElement(name, samples), nil
}

func (e *Element) Name() string { return e.name }

// Play starts or resumes playback from the current cursor.
func (e *Element) Play() {
	e.mu.Lock()
	e.playing = true
	e.mu.Unlock()
}

// Pause stops playback without moving the cursor.
func (e *Element) Pause() {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
}

// Playing reports whether the element advances when pulled.
func (e *Element) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// SetLoop makes the element wrap to the start instead of running dry.
func (e *Element) SetLoop(loop bool) {
	e.mu.Lock()
	e.loop = loop
	e.mu.Unlock()
}

// SetVolume sets the element's own volume factor, clamped to [0,1].
func (e *Element) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
}

// Volume returns the element's own volume factor.
func (e *Element) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Position returns the play cursor as a time offset.
func (e *Element) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Duration(e.cursor/audio.FrameSamples) * audio.FrameDuration
}

// Duration returns the total length of the decoded audio.
func (e *Element) Duration() time.Duration {
	return time.Duration(len(e.samples)/audio.FrameSamples) * audio.FrameDuration
}

// Seek moves the play cursor, snapping to a frame boundary.
func (e *Element) Seek(pos time.Duration) error {
	if pos < 0 || pos > e.Duration() {
		return fmt.Errorf("seek %v out of range [0, %v]", pos, e.Duration())
	}
	frame := int(pos / audio.FrameDuration)
	e.mu.Lock()
	e.cursor = frame * audio.FrameSamples
	e.mu.Unlock()
	return nil
}

// pull produces the next 20ms frame and advances the cursor. A paused or
// exhausted element yields silence.
func (e *Element) pull() []int16 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.playing || len(e.samples) == 0 {
		return nil
	}
	if e.cursor+audio.FrameSamples > len(e.samples) {
		if !e.loop {
			e.playing = false
			return nil
		}
		e.cursor = 0
	}

	chunk := e.samples[e.cursor : e.cursor+audio.FrameSamples]
	e.cursor += audio.FrameSamples

	if e.volume == 1 {
		return chunk
	}
	out := make([]int16, len(chunk))
	for i, s := range chunk {
		out[i] = int16(float64(s) * e.volume)
	}
	return out
}
