package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGain records values and ramp requests.
type fakeGain struct {
	mu     sync.Mutex
	value  float64
	target float64
	end    time.Duration
	ramps  int
}

func (g *fakeGain) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func (g *fakeGain) SetValue(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

func (g *fakeGain) LinearRampTo(target float64, end time.Duration) {
	g.mu.Lock()
	g.target = target
	g.end = end
	g.ramps++
	g.mu.Unlock()
}

func (g *fakeGain) CancelRamp() {}

// fakeDest is the shared destination marker node.
type fakeDest struct{}

// fakeSource is a playable, position-bearing node with its own volume.
type fakeSource struct {
	mu       sync.Mutex
	playing  bool
	position time.Duration
	duration time.Duration
	volume   float64
}

func (s *fakeSource) Play() {
	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()
}

func (s *fakeSource) Pause() {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
}

func (s *fakeSource) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *fakeSource) Position() time.Duration { return s.position }
func (s *fakeSource) Duration() time.Duration { return s.duration }

func (s *fakeSource) Seek(pos time.Duration) error {
	s.mu.Lock()
	s.position = pos
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *fakeSource) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// fakeBackend tracks a single outgoing edge per node.
type fakeBackend struct {
	mu    sync.Mutex
	now   time.Duration
	dest  *fakeDest
	edges map[Node]Node
	gains []*fakeGain

	// connectErr, when set, decides per edge whether Connect fails
	connectErr func(src, dst Node) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		dest:  &fakeDest{},
		edges: make(map[Node]Node),
	}
}

func (b *fakeBackend) Now() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

func (b *fakeBackend) NewGain() GainControl {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := &fakeGain{}
	b.gains = append(b.gains, g)
	return g
}

func (b *fakeBackend) Destination() Node { return b.dest }

func (b *fakeBackend) Connect(src, dst Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		if err := b.connectErr(src, dst); err != nil {
			return err
		}
	}
	b.edges[src] = dst
	return nil
}

func (b *fakeBackend) Disconnect(n Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.edges, n)
	return nil
}

func (b *fakeBackend) connectedTo(n Node) Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.edges[n]
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Backend == nil {
		cfg.Backend = newFakeBackend()
	}
	cfg.Logger = zerolog.Nop()
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Dispose)
	return e
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	e := newTestEngine(t, Config{})
	assert.Equal(t, defaultTransitionDur, e.TransitionDuration())
}

func TestEngineDisposeIdempotent(t *testing.T) {
	e := newTestEngine(t, Config{})
	e.Dispose()
	e.Dispose()
	assert.False(t, e.IsTransitioning())
}

func TestLayers(t *testing.T) {
	require.Len(t, Layers(), 4)
	for _, l := range Layers() {
		assert.True(t, ValidLayer(l))
	}
	assert.False(t, ValidLayer(Layer("Layer_99")))
}

func TestEventKindString(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{EventStarted, "started"},
		{EventCompleted, "completed"},
		{EventCanceled, "canceled"},
		{EventPaused, "paused"},
		{EventResumed, "resumed"},
		{EventKind(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String(), fmt.Sprintf("EventKind(%d)", tt.kind))
	}
}
