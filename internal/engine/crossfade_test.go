package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitResult(t *testing.T, ch <-chan bool, timeout time.Duration) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatal("crossfade result not delivered in time")
		return false
	}
}

func TestCrossfadeRejectsMissingParams(t *testing.T) {
	e := newTestEngine(t, Config{})
	src, tgt := &fakeSource{}, &fakeSource{}

	tests := []struct {
		name string
		req  CrossfadeRequest
	}{
		{"invalid layer", CrossfadeRequest{Layer: "bogus", Source: src, Target: tgt}},
		{"nil source", CrossfadeRequest{Layer: Layer1, Target: tgt}},
		{"nil target", CrossfadeRequest{Layer: Layer1, Source: src}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok := waitResult(t, e.Crossfade(tt.req), time.Second)
			assert.False(t, ok)
			assert.False(t, e.IsActive(tt.req.Layer))
		})
	}
}

func TestCrossfadeRoutesNodesThroughGains(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(t, Config{Backend: b})
	src, tgt := &fakeSource{}, &fakeSource{}

	e.Crossfade(CrossfadeRequest{
		Layer: Layer1, Source: src, Target: tgt,
		Volume: 0.6, Duration: 5 * time.Second,
	})

	require.True(t, e.IsActive(Layer1))
	require.Len(t, b.gains, 2)
	out, in := b.gains[0], b.gains[1]

	assert.Equal(t, out, b.connectedTo(src), "source routes through fade-out gain")
	assert.Equal(t, in, b.connectedTo(tgt), "target routes through fade-in gain")
	assert.Equal(t, Node(b.dest), b.connectedTo(out))
	assert.Equal(t, Node(b.dest), b.connectedTo(in))

	assert.InDelta(t, 0.6, out.Value(), 1e-9, "fade-out starts at current volume")
	assert.Greater(t, in.Value(), 0.0, "fade-in floor is never exactly zero")
	assert.Less(t, in.Value(), 0.01)
	assert.Equal(t, 0.0, out.target, "fade-out ramps to silence")
	assert.InDelta(t, 0.6, in.target, 1e-9, "fade-in ramps to steady-state volume")
}

func TestCrossfadeProgressReachesOneAndCompletes(t *testing.T) {
	b := newFakeBackend()
	var last atomic.Value
	e := newTestEngine(t, Config{
		Backend: b,
		OnProgress: func(l Layer, p float64) {
			last.Store(p)
		},
	})
	src, tgt := &fakeSource{playing: true}, &fakeSource{}

	ch := e.Crossfade(CrossfadeRequest{
		Layer: Layer2, Source: src, Target: tgt,
		Volume: 0.8, Duration: 200 * time.Millisecond,
	})

	require.True(t, waitResult(t, ch, 2*time.Second), "fade resolves true after full duration")

	assert.Equal(t, 1.0, e.Progress(Layer2), "progress clamps to 1.0 at completion")
	assert.False(t, e.IsActive(Layer2), "operation record removed on completion")
	assert.False(t, src.Playing(), "fade-out source paused")
	assert.Equal(t, Node(b.dest), b.connectedTo(tgt), "target pinned directly on destination")
	assert.InDelta(t, 0.8, tgt.Volume(), 1e-9, "target gain pinned to steady-state volume")
	if v, ok := last.Load().(float64); assert.True(t, ok, "progress callback fired") {
		assert.Equal(t, 1.0, v)
	}
}

func TestCrossfadeProgressNonDecreasing(t *testing.T) {
	var mu sync.Mutex
	var samples []float64
	e := newTestEngine(t, Config{
		OnProgress: func(_ Layer, p float64) {
			mu.Lock()
			samples = append(samples, p)
			mu.Unlock()
		},
	})
	src, tgt := &fakeSource{}, &fakeSource{}

	ch := e.Crossfade(CrossfadeRequest{
		Layer: Layer1, Source: src, Target: tgt,
		Volume: 0.5, Duration: 300 * time.Millisecond,
	})
	waitResult(t, ch, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, samples)
	for i := 1; i < len(samples); i++ {
		assert.GreaterOrEqual(t, samples[i], samples[i-1], "progress must be non-decreasing")
	}
	assert.Equal(t, 1.0, samples[len(samples)-1])
}

func TestProgressZeroForUntouchedLayer(t *testing.T) {
	e := newTestEngine(t, Config{})
	assert.Equal(t, 0.0, e.Progress(Layer3))
	assert.False(t, e.IsActive(Layer3))
	assert.Nil(t, e.CrossfadeInfo(Layer3))
}

func TestSecondCrossfadeCancelsFirst(t *testing.T) {
	e := newTestEngine(t, Config{})
	srcA, tgtA := &fakeSource{}, &fakeSource{}
	srcB, tgtB := &fakeSource{}, &fakeSource{}

	first := e.Crossfade(CrossfadeRequest{
		Layer: Layer1, Source: srcA, Target: tgtA,
		Volume: 0.5, Duration: 5 * time.Second,
	})
	require.True(t, e.IsActive(Layer1))

	e.Crossfade(CrossfadeRequest{
		Layer: Layer1, Source: srcB, Target: tgtB,
		Volume: 0.5, Duration: 5 * time.Second,
	})

	assert.False(t, waitResult(t, first, time.Second), "replaced fade resolves false")
	assert.True(t, e.IsActive(Layer1), "replacement fade is live")
	infos := e.ActiveCrossfades()
	require.Len(t, infos, 1)
}

func TestCancelCrossfadeReconnectsAndZeroesProgress(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(t, Config{Backend: b})
	src, tgt := &fakeSource{}, &fakeSource{}

	e.Crossfade(CrossfadeRequest{
		Layer: Layer1, Source: src, Target: tgt,
		Volume: 0.5, Duration: 5 * time.Second,
	})
	time.Sleep(120 * time.Millisecond)
	require.Greater(t, e.Progress(Layer1), 0.0)

	require.True(t, e.CancelCrossfade(Layer1, ReconnectBoth))

	assert.Equal(t, 0.0, e.Progress(Layer1), "progress zeroed on cancel")
	assert.False(t, e.IsActive(Layer1))
	assert.Equal(t, Node(b.dest), b.connectedTo(src), "source restored to destination")
	assert.Equal(t, Node(b.dest), b.connectedTo(tgt), "target restored to destination")
}

func TestCancelCrossfadeInactiveLayer(t *testing.T) {
	e := newTestEngine(t, Config{})
	assert.False(t, e.CancelCrossfade(Layer4, ReconnectBoth))
}

func TestCancelCrossfadeSuppressedReconnect(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(t, Config{Backend: b})
	src, tgt := &fakeSource{}, &fakeSource{}

	e.Crossfade(CrossfadeRequest{
		Layer: Layer1, Source: src, Target: tgt,
		Volume: 0.5, Duration: 5 * time.Second,
	})
	e.CancelCrossfade(Layer1, CancelOptions{ReconnectSource: false, ReconnectTarget: true})

	assert.Nil(t, b.connectedTo(src), "source reconnect suppressed")
	assert.Equal(t, Node(b.dest), b.connectedTo(tgt))
}

func TestCancelAllCrossfadesCount(t *testing.T) {
	e := newTestEngine(t, Config{})
	for _, layer := range []Layer{Layer1, Layer2, Layer3} {
		e.Crossfade(CrossfadeRequest{
			Layer: layer, Source: &fakeSource{}, Target: &fakeSource{},
			Volume: 0.5, Duration: 5 * time.Second,
		})
	}

	assert.Equal(t, 3, e.CancelAllCrossfades(ReconnectBoth))
	for _, layer := range Layers() {
		assert.False(t, e.IsActive(layer))
	}
	assert.Equal(t, 0, e.CancelAllCrossfades(ReconnectBoth))
}

func TestAdjustCrossfadeVolume(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(t, Config{Backend: b})
	src, tgt := &fakeSource{}, &fakeSource{}

	e.Crossfade(CrossfadeRequest{
		Layer: Layer1, Source: src, Target: tgt,
		Volume: 0.5, Duration: 10 * time.Second,
	})
	time.Sleep(150 * time.Millisecond)

	require.True(t, e.AdjustCrossfadeVolume(Layer1, 0.8))
	p := e.Progress(Layer1)

	out, in := b.gains[0], b.gains[1]
	// progress advances at most one 50ms tick between the adjust and the
	// read, so compare with a tick of slack
	assert.InDelta(t, 0.8*(1-p), out.Value(), 0.05, "fade-out rescaled to v*(1-p)")
	assert.InDelta(t, 0.8*p, in.Value(), 0.05, "fade-in rescaled to v*p")
	assert.InDelta(t, 0.8, in.target, 1e-9, "fade-in re-targets new volume")

	info := e.CrossfadeInfo(Layer1)
	require.NotNil(t, info)
	assert.InDelta(t, 0.8, info.Volume, 1e-9)
}

func TestAdjustCrossfadeVolumeInactive(t *testing.T) {
	e := newTestEngine(t, Config{})
	assert.False(t, e.AdjustCrossfadeVolume(Layer1, 0.9))
}

func TestCrossfadeInfoSnapshot(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(t, Config{Backend: b})
	meta := map[string]string{"origin": "library"}

	e.Crossfade(CrossfadeRequest{
		Layer: Layer2, Source: &fakeSource{}, Target: &fakeSource{},
		Volume: 0.7, Duration: 5 * time.Second, Metadata: meta,
	})

	info := e.CrossfadeInfo(Layer2)
	require.NotNil(t, info)
	assert.Equal(t, Layer2, info.Layer)
	assert.Equal(t, 5*time.Second, info.EndTime-info.StartTime)
	assert.InDelta(t, 0.7, info.Volume, 1e-9)
	assert.Equal(t, Node(meta), info.Metadata)
}

func TestCrossfadeSyncPosition(t *testing.T) {
	e := newTestEngine(t, Config{})
	src := &fakeSource{position: 30 * time.Second, duration: 60 * time.Second}
	tgt := &fakeSource{duration: 120 * time.Second}

	e.Crossfade(CrossfadeRequest{
		Layer: Layer1, Source: src, Target: tgt,
		Volume: 0.5, Duration: 5 * time.Second, SyncPosition: true,
	})

	assert.Equal(t, 60*time.Second, tgt.Position(), "target seeks to proportional position")
}

func TestCrossfadeSetupFailureRestoresNodes(t *testing.T) {
	b := newFakeBackend()
	b.connectErr = func(src, dst Node) error {
		if _, ok := dst.(*fakeGain); ok {
			return errors.New("gain input refused")
		}
		return nil
	}
	e := newTestEngine(t, Config{Backend: b})
	src, tgt := &fakeSource{}, &fakeSource{}

	ok := waitResult(t, e.Crossfade(CrossfadeRequest{
		Layer: Layer1, Source: src, Target: tgt,
		Volume: 0.5, Duration: time.Second,
	}), time.Second)

	assert.False(t, ok)
	assert.False(t, e.IsActive(Layer1))
	assert.Equal(t, Node(b.dest), b.connectedTo(src), "source restored after failed setup")
	assert.Equal(t, Node(b.dest), b.connectedTo(tgt), "target restored after failed setup")
}

func TestCrossfadeDurationClamped(t *testing.T) {
	e := newTestEngine(t, Config{
		MinFadeDuration: 200 * time.Millisecond,
		MaxFadeDuration: time.Second,
	})

	e.Crossfade(CrossfadeRequest{
		Layer: Layer1, Source: &fakeSource{}, Target: &fakeSource{},
		Volume: 0.5, Duration: time.Millisecond,
	})
	info := e.CrossfadeInfo(Layer1)
	require.NotNil(t, info)
	assert.Equal(t, 200*time.Millisecond, info.EndTime-info.StartTime, "below-min duration clamped up")

	e.Crossfade(CrossfadeRequest{
		Layer: Layer2, Source: &fakeSource{}, Target: &fakeSource{},
		Volume: 0.5, Duration: time.Hour,
	})
	info = e.CrossfadeInfo(Layer2)
	require.NotNil(t, info)
	assert.Equal(t, time.Second, info.EndTime-info.StartTime, "above-max duration clamped down")
}

func TestDisposeSilencesProgressCallbacks(t *testing.T) {
	var calls atomic.Int64
	e := newTestEngine(t, Config{
		OnProgress: func(Layer, float64) { calls.Add(1) },
	})

	e.Crossfade(CrossfadeRequest{
		Layer: Layer1, Source: &fakeSource{}, Target: &fakeSource{},
		Volume: 0.5, Duration: 5 * time.Second,
	})
	time.Sleep(120 * time.Millisecond)
	e.Dispose()

	settled := calls.Load()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, settled, calls.Load(), "no progress callback after dispose")
}

func TestNoProgressCallbackAfterDisposeReturns(t *testing.T) {
	var disposeReturned atomic.Bool
	var late atomic.Bool
	e := newTestEngine(t, Config{
		OnProgress: func(Layer, float64) {
			if disposeReturned.Load() {
				late.Store(true)
			}
		},
	})

	e.Crossfade(CrossfadeRequest{
		Layer: Layer1, Source: &fakeSource{}, Target: &fakeSource{},
		Volume: 0.5, Duration: 5 * time.Second,
	})
	time.Sleep(120 * time.Millisecond)
	e.Dispose()
	disposeReturned.Store(true)

	time.Sleep(200 * time.Millisecond)
	assert.False(t, late.Load(), "progress callback delivered after Dispose returned")
}
