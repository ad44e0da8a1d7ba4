package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// completionBuffer pads the transition completion timer so per-layer ramps
// scheduled for exactly the transition duration have landed by the time the
// transition is declared complete.
const completionBuffer = 100 * time.Millisecond

// PhaseState is the target state a transition moves the system toward:
// per-layer volumes and per-layer active tracks.
type PhaseState struct {
	Volumes     map[Layer]float64
	ActiveAudio map[Layer]string
}

// TransitionOptions tweaks one transition. A zero Duration uses the
// configured default.
type TransitionOptions struct {
	Duration time.Duration
}

// Transition is one named, time-bounded bundle of per-layer changes.
// Status is implicit in which container holds it: the single current slot
// (active or paused), the FIFO queue (pending), or neither.
type Transition struct {
	PhaseID   string
	State     PhaseState
	Duration  time.Duration
	StartTime time.Time
	Elapsed   time.Duration // set only while paused
	Options   TransitionOptions

	paused bool
}

// VolumeFader fades one layer's volume to a target over a duration. The
// returned channel resolves once with the outcome.
type VolumeFader interface {
	FadeVolume(layer Layer, target float64, d time.Duration) <-chan error
}

// TrackCrossfader swaps one layer's active track over a duration.
type TrackCrossfader interface {
	CrossfadeTrack(layer Layer, trackID string, d time.Duration) <-chan error
}

// TransitionHandlers are the injected capabilities a transition decomposes
// into. They must be set before transitions referencing volumes or tracks
// can do real work.
type TransitionHandlers struct {
	VolumeFader       VolumeFader
	TrackCrossfader   TrackCrossfader
	UpdateVolumeState func(map[Layer]float64)
	UpdateAudioState  func(map[Layer]string)
	CurrentAudio      map[Layer]string
}

// TransitionCoordinator drives the single transition slot and its FIFO
// queue. Completion of a transition is governed solely by its own timer,
// never by the completion order of the per-layer operations it spawned.
type TransitionCoordinator struct {
	log        zerolog.Logger
	onStart    func(phaseID string, state PhaseState)
	onComplete func(phaseID string, state PhaseState)

	mu           sync.Mutex
	handlers     TransitionHandlers
	currentAudio map[Layer]string
	current      *Transition
	queue        []*Transition
	timer        *time.Timer
	defaultDur   time.Duration
	observers    []Observer
	disposed     bool

	// notifyWG tracks in-flight callback and event deliveries; dispose
	// drains it so no notification outlives Dispose. Add happens under
	// t.mu while !disposed, Wait after disposed is set.
	notifyWG sync.WaitGroup
}

func newTransitionCoordinator(logger zerolog.Logger, defaultDur time.Duration, onStart, onComplete func(string, PhaseState)) *TransitionCoordinator {
	return &TransitionCoordinator{
		log:          logger.With().Str("component", "transition").Logger(),
		onStart:      onStart,
		onComplete:   onComplete,
		currentAudio: make(map[Layer]string),
		defaultDur:   defaultDur,
	}
}

// SetHandlers injects the per-layer capabilities and state trackers.
func (t *TransitionCoordinator) SetHandlers(h TransitionHandlers) {
	t.mu.Lock()
	t.handlers = h
	if h.CurrentAudio != nil {
		t.currentAudio = cloneAudio(h.CurrentAudio)
	}
	t.mu.Unlock()
}

// UpdateCurrentAudio replaces the coordinator's view of which track is
// active per layer.
func (t *TransitionCoordinator) UpdateCurrentAudio(state map[Layer]string) {
	t.mu.Lock()
	t.currentAudio = cloneAudio(state)
	t.mu.Unlock()
}

// Subscribe registers an observer for lifecycle events.
func (t *TransitionCoordinator) Subscribe(o Observer) {
	t.mu.Lock()
	t.observers = append(t.observers, o)
	t.mu.Unlock()
}

// Start begins a transition if the slot is idle, otherwise appends it to
// the FIFO queue. Returns false only on invalid input or after disposal.
func (t *TransitionCoordinator) Start(phaseID string, state PhaseState, opts TransitionOptions) bool {
	if phaseID == "" {
		t.log.Warn().Msg("transition rejected: empty phase id")
		return false
	}

	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return false
	}
	tr := &Transition{PhaseID: phaseID, State: state, Options: opts}
	if t.current != nil {
		t.queue = append(t.queue, tr)
		t.log.Debug().Str("phase", phaseID).Int("queued", len(t.queue)).Msg("transition queued behind active one")
		t.mu.Unlock()
		return true
	}
	notify := t.beginLocked(tr)
	t.mu.Unlock()

	notify()
	return true
}

// Queue appends a transition to the pending FIFO without touching the
// current slot. Queued transitions start when the current one completes.
func (t *TransitionCoordinator) Queue(phaseID string, state PhaseState, opts TransitionOptions) bool {
	if phaseID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return false
	}
	t.queue = append(t.queue, &Transition{PhaseID: phaseID, State: state, Options: opts})
	return true
}

// beginLocked occupies the slot, dispatches the per-layer handlers, and
// arms the completion timer. Caller holds t.mu. The returned func fires
// callbacks and events and must be called after unlocking.
func (t *TransitionCoordinator) beginLocked(tr *Transition) func() {
	tr.Duration = tr.Options.Duration
	if tr.Duration <= 0 {
		tr.Duration = t.defaultDur
	}
	tr.StartTime = time.Now()
	tr.paused = false
	tr.Elapsed = 0
	t.current = tr

	t.dispatchLocked(tr)
	t.armTimerLocked(tr, tr.Duration+completionBuffer)

	t.log.Info().
		Str("phase", tr.PhaseID).
		Dur("duration", tr.Duration).
		Int("volumes", len(tr.State.Volumes)).
		Int("tracks", len(tr.State.ActiveAudio)).
		Msg("transition started")

	onStart := t.onStart
	ev := TransitionEvent{Kind: EventStarted, PhaseID: tr.PhaseID, State: tr.State, Duration: tr.Duration}
	obs := append([]Observer(nil), t.observers...)
	t.notifyWG.Add(1)
	return func() {
		defer t.notifyWG.Done()
		if onStart != nil {
			onStart(tr.PhaseID, tr.State)
		}
		for _, o := range obs {
			o.TransitionEvent(ev)
		}
	}
}

// dispatchLocked fans the transition out to the injected handlers. Handler
// outcomes are logged and otherwise ignored: partial per-layer failure
// degrades the result but never aborts the transition. Caller holds t.mu;
// the handlers themselves run on fresh goroutines outside the lock, so they
// may call back into the coordinator freely.
func (t *TransitionCoordinator) dispatchLocked(tr *Transition) {
	h := t.handlers
	dur := tr.Duration

	for layer, vol := range tr.State.Volumes {
		if h.VolumeFader == nil {
			t.log.Warn().Str("phase", tr.PhaseID).Msg("no volume fader injected, skipping volume changes")
			break
		}
		go func(layer Layer, vol float64) {
			t.await("volume fade", tr.PhaseID, layer, h.VolumeFader.FadeVolume(layer, vol, dur))
		}(layer, vol)
	}

	for layer, trackID := range tr.State.ActiveAudio {
		if h.TrackCrossfader == nil {
			t.log.Warn().Str("phase", tr.PhaseID).Msg("no track crossfader injected, skipping track changes")
			break
		}
		if t.currentAudio[layer] == trackID {
			continue
		}
		go func(layer Layer, trackID string) {
			t.await("track crossfade", tr.PhaseID, layer, h.TrackCrossfader.CrossfadeTrack(layer, trackID, dur))
		}(layer, trackID)
	}
}

func (t *TransitionCoordinator) await(what, phaseID string, layer Layer, ch <-chan error) {
	if ch == nil {
		return
	}
	if err := <-ch; err != nil {
		t.log.Warn().Err(err).
			Str("phase", phaseID).
			Str("layer", string(layer)).
			Msgf("%s failed, transition completes regardless", what)
	}
}

// armTimerLocked schedules completion for the slot occupant. Caller holds
// t.mu.
func (t *TransitionCoordinator) armTimerLocked(tr *Transition, after time.Duration) {
	t.stopTimerLocked()
	t.timer = time.AfterFunc(after, func() {
		t.completeIfCurrent(tr)
	})
}

func (t *TransitionCoordinator) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// completeIfCurrent is the timer path: completes only the transition the
// timer was armed for, so a stale fire can never complete a successor.
func (t *TransitionCoordinator) completeIfCurrent(tr *Transition) {
	t.mu.Lock()
	if t.disposed || t.current != tr {
		t.mu.Unlock()
		return
	}
	notify := t.completeLocked()
	next := t.processQueueLocked()
	t.mu.Unlock()

	notify()
	if next != nil {
		next()
	}
}

// Complete finishes the current occupant: clears its timer, pushes the
// target state into the injected trackers, fires completion signals, then
// immediately starts the next queued transition. Idempotent no-op when the
// slot is idle.
func (t *TransitionCoordinator) Complete(phaseID string, state PhaseState) {
	t.mu.Lock()
	if t.current == nil {
		t.mu.Unlock()
		return
	}
	notify := t.completeLocked()
	next := t.processQueueLocked()
	t.mu.Unlock()

	notify()
	if next != nil {
		next()
	}
}

// completeLocked empties the slot and builds the notification closure.
// Caller holds t.mu.
func (t *TransitionCoordinator) completeLocked() func() {
	tr := t.current
	t.stopTimerLocked()
	t.current = nil

	if t.handlers.UpdateVolumeState != nil && tr.State.Volumes != nil {
		t.handlers.UpdateVolumeState(tr.State.Volumes)
	}
	if t.handlers.UpdateAudioState != nil && tr.State.ActiveAudio != nil {
		t.handlers.UpdateAudioState(tr.State.ActiveAudio)
	}
	for layer, trackID := range tr.State.ActiveAudio {
		t.currentAudio[layer] = trackID
	}

	t.log.Info().Str("phase", tr.PhaseID).Msg("transition completed")

	onComplete := t.onComplete
	ev := TransitionEvent{Kind: EventCompleted, PhaseID: tr.PhaseID, State: tr.State, Duration: tr.Duration}
	obs := append([]Observer(nil), t.observers...)
	t.notifyWG.Add(1)
	return func() {
		defer t.notifyWG.Done()
		if onComplete != nil {
			onComplete(tr.PhaseID, tr.State)
		}
		for _, o := range obs {
			o.TransitionEvent(ev)
		}
	}
}

// processQueueLocked dequeues and starts the next pending transition, if
// any. Caller holds t.mu.
func (t *TransitionCoordinator) processQueueLocked() func() {
	if t.current != nil || len(t.queue) == 0 {
		return nil
	}
	next := t.queue[0]
	t.queue = t.queue[1:]
	return t.beginLocked(next)
}

// Cancel aborts only the slot occupant. The queue is left untouched and is
// not auto-advanced.
func (t *TransitionCoordinator) Cancel() bool {
	t.mu.Lock()
	if t.current == nil {
		t.mu.Unlock()
		return false
	}
	tr := t.current
	t.stopTimerLocked()
	t.current = nil
	ev := TransitionEvent{Kind: EventCanceled, PhaseID: tr.PhaseID, State: tr.State, Duration: tr.Duration}
	obs := append([]Observer(nil), t.observers...)
	t.notifyWG.Add(1)
	t.mu.Unlock()

	t.log.Info().Str("phase", tr.PhaseID).Msg("transition canceled")
	for _, o := range obs {
		o.TransitionEvent(ev)
	}
	t.notifyWG.Done()
	return true
}

// CancelAll aborts the occupant and clears the whole queue.
func (t *TransitionCoordinator) CancelAll() bool {
	t.mu.Lock()
	had := t.current != nil || len(t.queue) > 0
	tr := t.current
	t.stopTimerLocked()
	t.current = nil
	t.queue = nil
	var ev TransitionEvent
	var obs []Observer
	if tr != nil {
		ev = TransitionEvent{Kind: EventCanceled, PhaseID: tr.PhaseID, State: tr.State, Duration: tr.Duration}
		obs = append([]Observer(nil), t.observers...)
		t.notifyWG.Add(1)
	}
	t.mu.Unlock()

	if tr != nil {
		for _, o := range obs {
			o.TransitionEvent(ev)
		}
		t.notifyWG.Done()
	}
	return had
}

// Pause freezes the slot occupant: records elapsed time and clears the
// completion timer. The occupant stays in the slot; the queue is untouched.
func (t *TransitionCoordinator) Pause() bool {
	t.mu.Lock()
	if t.current == nil || t.current.paused {
		t.mu.Unlock()
		return false
	}
	tr := t.current
	tr.Elapsed = time.Since(tr.StartTime)
	tr.paused = true
	t.stopTimerLocked()
	ev := TransitionEvent{Kind: EventPaused, PhaseID: tr.PhaseID, State: tr.State, Duration: tr.Duration}
	obs := append([]Observer(nil), t.observers...)
	t.notifyWG.Add(1)
	t.mu.Unlock()

	t.log.Info().Str("phase", tr.PhaseID).Dur("elapsed", tr.Elapsed).Msg("transition paused")
	for _, o := range obs {
		o.TransitionEvent(ev)
	}
	t.notifyWG.Done()
	return true
}

// Resume re-arms a paused occupant for its remaining time, preserving
// total-duration semantics. An occupant past its duration completes
// immediately.
func (t *TransitionCoordinator) Resume() bool {
	t.mu.Lock()
	if t.current == nil || !t.current.paused {
		t.mu.Unlock()
		return false
	}
	tr := t.current
	remaining := tr.Duration - tr.Elapsed
	tr.StartTime = time.Now().Add(-tr.Elapsed)
	tr.paused = false
	tr.Elapsed = 0

	ev := TransitionEvent{Kind: EventResumed, PhaseID: tr.PhaseID, State: tr.State, Duration: tr.Duration}
	obs := append([]Observer(nil), t.observers...)
	t.notifyWG.Add(1)

	if remaining <= 0 {
		notify := t.completeLocked()
		next := t.processQueueLocked()
		t.mu.Unlock()
		for _, o := range obs {
			o.TransitionEvent(ev)
		}
		t.notifyWG.Done()
		notify()
		if next != nil {
			next()
		}
		return true
	}

	t.armTimerLocked(tr, remaining+completionBuffer)
	t.mu.Unlock()

	t.log.Info().Str("phase", tr.PhaseID).Dur("remaining", remaining).Msg("transition resumed")
	for _, o := range obs {
		o.TransitionEvent(ev)
	}
	t.notifyWG.Done()
	return true
}

// IsTransitioning reports whether the slot is occupied (active or paused).
func (t *TransitionCoordinator) IsTransitioning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil
}

// QueueLen returns the number of pending transitions.
func (t *TransitionCoordinator) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// SetDefaultDuration updates the default transition duration. Negative
// durations are rejected with no state change.
func (t *TransitionCoordinator) SetDefaultDuration(d time.Duration) error {
	if d < 0 {
		return errors.New("transition duration must not be negative")
	}
	t.mu.Lock()
	t.defaultDur = d
	t.mu.Unlock()
	return nil
}

// DefaultDuration returns the configured default transition duration.
func (t *TransitionCoordinator) DefaultDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.defaultDur
}

// dispose cancels the occupant and queue, blocks all further timers, and
// waits for in-flight notifications so none is delivered after it returns.
func (t *TransitionCoordinator) dispose() {
	t.mu.Lock()
	t.disposed = true
	t.stopTimerLocked()
	t.current = nil
	t.queue = nil
	t.observers = nil
	t.mu.Unlock()

	t.notifyWG.Wait()
}

func cloneAudio(m map[Layer]string) map[Layer]string {
	out := make(map[Layer]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
