package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// progressTick is the wall-clock sampling cadence for crossfade progress.
// Progress is approximated as ticks elapsed over ticks expected rather than
// read off the backend clock; the two can drift slightly under scheduling
// pressure but completion stays bounded.
const progressTick = 50 * time.Millisecond

// CrossfadeRequest describes one per-layer crossfade.
type CrossfadeRequest struct {
	Layer        Layer
	Source       Node
	Target       Node
	Volume       float64       // steady-state volume once the fade lands
	Duration     time.Duration // clamped to the configured [min, max] range
	SyncPosition bool          // align target position proportionally to source
	Metadata     any           // opaque; may implement Reconnector
}

// CrossfadeInfo is the externally visible snapshot of an active crossfade.
// It never leaks internal node references.
type CrossfadeInfo struct {
	Layer     Layer
	Progress  float64
	StartTime time.Duration
	EndTime   time.Duration
	Remaining time.Duration
	Volume    float64
	Metadata  any
}

// CancelOptions controls which borrowed nodes get reconnected straight to
// the destination when a crossfade is torn down.
type CancelOptions struct {
	ReconnectSource bool
	ReconnectTarget bool
}

// ReconnectBoth restores both nodes to the destination, the default for
// every cancellation path.
var ReconnectBoth = CancelOptions{ReconnectSource: true, ReconnectTarget: true}

// crossfadeOperation is the per-layer record of one live fade. At most one
// exists per layer; starting a new fade on a busy layer cancels the old one.
type crossfadeOperation struct {
	layer      Layer
	start, end time.Duration
	gains      *GainAutomation
	source     Node
	target     Node
	metadata   any

	result     chan bool
	stop       chan struct{}
	ticks      int
	totalTicks int
}

// CrossfadeCoordinator owns all per-layer crossfade operations and their
// progress bookkeeping.
type CrossfadeCoordinator struct {
	backend    Backend
	log        zerolog.Logger
	onProgress func(Layer, float64)
	minDur     time.Duration
	maxDur     time.Duration

	mu       sync.Mutex
	ops      map[Layer]*crossfadeOperation
	progress map[Layer]float64
	disposed bool

	// cbWG tracks in-flight progress callbacks; dispose drains it so no
	// callback outlives Dispose. Add happens under c.mu while !disposed.
	cbWG sync.WaitGroup
}

func newCrossfadeCoordinator(b Backend, logger zerolog.Logger, onProgress func(Layer, float64), minDur, maxDur time.Duration) *CrossfadeCoordinator {
	return &CrossfadeCoordinator{
		backend:    b,
		log:        logger.With().Str("component", "crossfade").Logger(),
		onProgress: onProgress,
		minDur:     minDur,
		maxDur:     maxDur,
		ops:        make(map[Layer]*crossfadeOperation),
		progress:   make(map[Layer]float64),
	}
}

// Crossfade fades the source node out and the target node in on one layer.
// The returned channel resolves true after the full fade duration, false on
// precondition failure, setup failure, or cancellation. Invalid parameters
// are logged, never raised.
func (c *CrossfadeCoordinator) Crossfade(req CrossfadeRequest) <-chan bool {
	result := make(chan bool, 1)

	if !ValidLayer(req.Layer) || req.Source == nil || req.Target == nil {
		c.log.Warn().
			Str("layer", string(req.Layer)).
			Bool("source", req.Source != nil).
			Bool("target", req.Target != nil).
			Msg("crossfade rejected: missing layer or nodes")
		result <- false
		return result
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		result <- false
		return result
	}

	// one live operation per layer
	if _, ok := c.ops[req.Layer]; ok {
		c.cancelLocked(req.Layer, ReconnectBoth)
	}

	auto := newGainAutomation(c.backend, req.Volume)
	if err := c.rewire(req.Source, req.Target, auto); err != nil {
		c.log.Error().Err(err).Str("layer", string(req.Layer)).Msg("crossfade setup failed, nodes restored to destination")
		result <- false
		return result
	}

	if req.SyncPosition {
		c.syncPosition(req.Layer, req.Source, req.Target)
	}

	dur := clampDuration(req.Duration, c.minDur, c.maxDur)
	start := c.backend.Now()
	end := start + dur
	auto.Schedule(end)

	totalTicks := int(dur / progressTick)
	if totalTicks < 1 {
		totalTicks = 1
	}

	op := &crossfadeOperation{
		layer:      req.Layer,
		start:      start,
		end:        end,
		gains:      auto,
		source:     req.Source,
		target:     req.Target,
		metadata:   req.Metadata,
		result:     result,
		stop:       make(chan struct{}),
		totalTicks: totalTicks,
	}
	c.ops[req.Layer] = op
	c.progress[req.Layer] = 0

	c.log.Debug().
		Str("layer", string(req.Layer)).
		Dur("duration", dur).
		Float64("volume", req.Volume).
		Msg("crossfade started")

	go c.sample(op)
	return result
}

// rewire routes source and target through the automation gains into the
// destination. On failure it restores both nodes directly to the
// destination; nodes are never left unconnected.
func (c *CrossfadeCoordinator) rewire(source, target Node, auto *GainAutomation) error {
	dest := c.backend.Destination()

	err := firstErr(
		c.backend.Disconnect(source),
		c.backend.Connect(source, auto.out),
		c.backend.Connect(auto.out, dest),
		c.backend.Disconnect(target),
		c.backend.Connect(target, auto.in),
		c.backend.Connect(auto.in, dest),
	)
	if err == nil {
		return nil
	}

	c.backend.Disconnect(auto.out)
	c.backend.Disconnect(auto.in)
	for _, n := range []Node{source, target} {
		c.backend.Disconnect(n)
		if rerr := c.backend.Connect(n, dest); rerr != nil {
			c.log.Error().Err(rerr).Msg("recovery reconnect failed")
		}
	}
	return err
}

// syncPosition sets the target's playback position to the proportional
// equivalent of the source's. Failure is non-fatal; the fade proceeds.
func (c *CrossfadeCoordinator) syncPosition(layer Layer, source, target Node) {
	src, okS := source.(Positioned)
	tgt, okT := target.(Positioned)
	if !okS || !okT {
		return
	}
	srcDur := src.Duration()
	tgtDur := tgt.Duration()
	if srcDur <= 0 || tgtDur <= 0 {
		return
	}
	rel := float64(src.Position()) / float64(srcDur)
	if err := tgt.Seek(time.Duration(rel * float64(tgtDur))); err != nil {
		c.log.Warn().Err(err).Str("layer", string(layer)).Msg("position sync failed, fading anyway")
	}
}

// sample drives the wall-clock progress ticker for one operation.
func (c *CrossfadeCoordinator) sample(op *crossfadeOperation) {
	ticker := time.NewTicker(progressTick)
	defer ticker.Stop()

	for {
		select {
		case <-op.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.ops[op.layer] != op {
				c.mu.Unlock()
				return
			}
			op.ticks++
			p := float64(op.ticks) / float64(op.totalTicks)
			if p > 1 {
				p = 1
			}
			c.progress[op.layer] = p
			cb := c.onProgress
			fire := cb != nil && !c.disposed
			if fire {
				c.cbWG.Add(1)
			}
			c.mu.Unlock()

			if fire {
				cb(op.layer, p)
				c.cbWG.Done()
			}
			if p >= 1 {
				c.complete(op)
				return
			}
		}
	}
}

// complete lands a finished fade: pauses the outgoing source where
// possible, removes the automation gains, and pins the target directly on
// the destination at its steady-state volume.
func (c *CrossfadeCoordinator) complete(op *crossfadeOperation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ops[op.layer] != op {
		return
	}

	if p, ok := op.source.(Playable); ok {
		p.Pause()
	}

	dest := c.backend.Destination()
	c.backend.Disconnect(op.gains.out)
	c.backend.Disconnect(op.gains.in)
	c.backend.Disconnect(op.target)

	reconnected := false
	if rc, ok := op.metadata.(Reconnector); ok {
		if err := rc.Reconnect(op.target, dest); err != nil {
			c.log.Warn().Err(err).Str("layer", string(op.layer)).Msg("metadata reconnect failed, connecting target directly")
		} else {
			reconnected = true
		}
	}
	if !reconnected {
		if err := c.backend.Connect(op.target, dest); err != nil {
			c.log.Error().Err(err).Str("layer", string(op.layer)).Msg("target reconnect failed on completion")
		}
	}

	if v, ok := op.target.(Volumer); ok {
		v.SetVolume(op.gains.Volume())
	}

	delete(c.ops, op.layer)
	c.log.Debug().Str("layer", string(op.layer)).Msg("crossfade complete")

	op.result <- true
}

// Cancel tears down the active crossfade on one layer, reconnecting nodes
// to the destination unless suppressed. Returns false when the layer has no
// active operation.
func (c *CrossfadeCoordinator) Cancel(layer Layer, opts CancelOptions) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ops[layer]; !ok {
		return false
	}
	c.cancelLocked(layer, opts)
	return true
}

// CancelAll cancels every active crossfade and returns how many there were.
func (c *CrossfadeCoordinator) CancelAll(opts CancelOptions) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.ops)
	for layer := range c.ops {
		c.cancelLocked(layer, opts)
	}
	return n
}

// cancelLocked removes one operation. Caller holds c.mu.
func (c *CrossfadeCoordinator) cancelLocked(layer Layer, opts CancelOptions) {
	op := c.ops[layer]
	close(op.stop)
	op.gains.Cancel()

	dest := c.backend.Destination()
	c.backend.Disconnect(op.gains.out)
	c.backend.Disconnect(op.gains.in)

	if opts.ReconnectSource {
		c.backend.Disconnect(op.source)
		if err := c.backend.Connect(op.source, dest); err != nil {
			c.log.Warn().Err(err).Str("layer", string(layer)).Msg("source reconnect failed on cancel")
		}
	}
	if opts.ReconnectTarget {
		c.backend.Disconnect(op.target)
		if err := c.backend.Connect(op.target, dest); err != nil {
			c.log.Warn().Err(err).Str("layer", string(layer)).Msg("target reconnect failed on cancel")
		}
	}

	delete(c.ops, layer)
	c.progress[layer] = 0

	select {
	case op.result <- false:
	default:
	}

	c.log.Debug().Str("layer", string(layer)).Msg("crossfade canceled")
}

// AdjustVolume rescales both fade gains for a new steady-state volume at
// the current progress without altering timing. No-op on an idle layer.
func (c *CrossfadeCoordinator) AdjustVolume(layer Layer, volume float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.ops[layer]
	if !ok {
		return false
	}
	op.gains.Rescale(volume, c.progress[layer], op.end)
	return true
}

// Progress returns the layer's fade progress in [0,1]. It survives
// operation removal and is 0 for layers never crossfaded.
func (c *CrossfadeCoordinator) Progress(layer Layer) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress[layer]
}

// IsActive reports whether the layer has a live crossfade.
func (c *CrossfadeCoordinator) IsActive(layer Layer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ops[layer]
	return ok
}

// Info returns a snapshot of the layer's active crossfade, or nil.
func (c *CrossfadeCoordinator) Info(layer Layer) *CrossfadeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.ops[layer]
	if !ok {
		return nil
	}
	info := c.infoLocked(op)
	return &info
}

// Active returns snapshots of all active crossfades keyed by layer.
func (c *CrossfadeCoordinator) Active() map[Layer]CrossfadeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Layer]CrossfadeInfo, len(c.ops))
	for layer, op := range c.ops {
		out[layer] = c.infoLocked(op)
	}
	return out
}

func (c *CrossfadeCoordinator) infoLocked(op *crossfadeOperation) CrossfadeInfo {
	remaining := op.end - c.backend.Now()
	if remaining < 0 {
		remaining = 0
	}
	return CrossfadeInfo{
		Layer:     op.layer,
		Progress:  c.progress[op.layer],
		StartTime: op.start,
		EndTime:   op.end,
		Remaining: remaining,
		Volume:    op.gains.Volume(),
		Metadata:  op.metadata,
	}
}

// dispose cancels everything and waits for in-flight progress callbacks so
// none is delivered after it returns.
func (c *CrossfadeCoordinator) dispose() {
	c.mu.Lock()
	c.disposed = true
	for layer := range c.ops {
		c.cancelLocked(layer, ReconnectBoth)
	}
	c.mu.Unlock()

	c.cbWG.Wait()
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
