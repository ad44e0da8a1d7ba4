package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMinFade       = 100 * time.Millisecond
	defaultMaxFade       = 30 * time.Second
	defaultTransitionDur = 2 * time.Second
)

// Config wires an Engine to its collaborators. Backend is required;
// everything else has a usable default.
type Config struct {
	Backend Backend
	Logger  zerolog.Logger

	MinFadeDuration           time.Duration
	MaxFadeDuration           time.Duration
	DefaultTransitionDuration time.Duration

	// OnProgress is invoked on every per-layer progress sample.
	OnProgress func(layer Layer, progress float64)
	// OnTransitionStart and OnTransitionComplete fire on transition
	// lifecycle boundaries, alongside observer events.
	OnTransitionStart    func(phaseID string, state PhaseState)
	OnTransitionComplete func(phaseID string, state PhaseState)
}

// Engine is the crossfade and transition scheduling engine. One instance is
// constructed per audio destination and owned by a single orchestrator;
// there is no process-wide state.
type Engine struct {
	log zerolog.Logger

	crossfades  *CrossfadeCoordinator
	transitions *TransitionCoordinator

	mu       sync.Mutex
	disposed bool
}

// New builds an engine around the given backend.
func New(cfg Config) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, errors.New("engine: backend is required")
	}
	if cfg.MinFadeDuration <= 0 {
		cfg.MinFadeDuration = defaultMinFade
	}
	if cfg.MaxFadeDuration <= 0 {
		cfg.MaxFadeDuration = defaultMaxFade
	}
	if cfg.DefaultTransitionDuration <= 0 {
		cfg.DefaultTransitionDuration = defaultTransitionDur
	}

	log := cfg.Logger.With().Str("component", "engine").Logger()
	return &Engine{
		log: log,
		crossfades: newCrossfadeCoordinator(
			cfg.Backend, cfg.Logger, cfg.OnProgress,
			cfg.MinFadeDuration, cfg.MaxFadeDuration,
		),
		transitions: newTransitionCoordinator(
			cfg.Logger, cfg.DefaultTransitionDuration,
			cfg.OnTransitionStart, cfg.OnTransitionComplete,
		),
	}, nil
}

// Crossfade fades one layer from its source node to a target node. The
// result channel resolves after the full fade duration.
func (e *Engine) Crossfade(req CrossfadeRequest) <-chan bool {
	return e.crossfades.Crossfade(req)
}

// CancelCrossfade tears down the layer's active crossfade.
func (e *Engine) CancelCrossfade(layer Layer, opts CancelOptions) bool {
	return e.crossfades.Cancel(layer, opts)
}

// CancelAllCrossfades tears down every active crossfade, returning the
// count of layers that had one.
func (e *Engine) CancelAllCrossfades(opts CancelOptions) int {
	return e.crossfades.CancelAll(opts)
}

// AdjustCrossfadeVolume rescales an in-flight fade for a new steady-state
// volume without altering its timing.
func (e *Engine) AdjustCrossfadeVolume(layer Layer, volume float64) bool {
	return e.crossfades.AdjustVolume(layer, volume)
}

// Progress returns the layer's crossfade progress in [0,1].
func (e *Engine) Progress(layer Layer) float64 { return e.crossfades.Progress(layer) }

// IsActive reports whether the layer has a live crossfade.
func (e *Engine) IsActive(layer Layer) bool { return e.crossfades.IsActive(layer) }

// CrossfadeInfo returns a snapshot of the layer's active crossfade, or nil.
func (e *Engine) CrossfadeInfo(layer Layer) *CrossfadeInfo { return e.crossfades.Info(layer) }

// ActiveCrossfades returns snapshots of every active crossfade.
func (e *Engine) ActiveCrossfades() map[Layer]CrossfadeInfo { return e.crossfades.Active() }

// StartTransition starts a phase transition, or queues it when one is
// already in flight.
func (e *Engine) StartTransition(phaseID string, state PhaseState, opts TransitionOptions) bool {
	return e.transitions.Start(phaseID, state, opts)
}

// QueueTransition appends a transition to the pending FIFO.
func (e *Engine) QueueTransition(phaseID string, state PhaseState, opts TransitionOptions) bool {
	return e.transitions.Queue(phaseID, state, opts)
}

// CompleteTransition finishes the current transition and advances the
// queue. Exposed mainly for observation; the engine calls it from the
// completion timer.
func (e *Engine) CompleteTransition(phaseID string, state PhaseState) {
	e.transitions.Complete(phaseID, state)
}

// CancelTransition aborts the current transition, leaving the queue as-is.
func (e *Engine) CancelTransition() bool { return e.transitions.Cancel() }

// CancelAllTransitions aborts the current transition and clears the queue.
func (e *Engine) CancelAllTransitions() bool { return e.transitions.CancelAll() }

// PauseAllTransitions freezes the current transition.
func (e *Engine) PauseAllTransitions() bool { return e.transitions.Pause() }

// ResumeAllTransitions resumes a paused transition for its remaining time.
func (e *Engine) ResumeAllTransitions() bool { return e.transitions.Resume() }

// IsTransitioning reports whether a transition occupies the slot.
func (e *Engine) IsTransitioning() bool { return e.transitions.IsTransitioning() }

// TransitionQueueLen returns the number of pending transitions.
func (e *Engine) TransitionQueueLen() int { return e.transitions.QueueLen() }

// SetTransitionDuration updates the default transition duration.
func (e *Engine) SetTransitionDuration(d time.Duration) error {
	return e.transitions.SetDefaultDuration(d)
}

// TransitionDuration returns the default transition duration.
func (e *Engine) TransitionDuration() time.Duration { return e.transitions.DefaultDuration() }

// SetTransitionHandlers injects the per-layer volume and track
// capabilities. Must be called before transitions can do real work.
func (e *Engine) SetTransitionHandlers(h TransitionHandlers) { e.transitions.SetHandlers(h) }

// UpdateCurrentAudioState replaces the engine's view of the active track
// per layer, used to skip crossfades to the already-active track.
func (e *Engine) UpdateCurrentAudioState(state map[Layer]string) {
	e.transitions.UpdateCurrentAudio(state)
}

// Subscribe registers an observer for transition lifecycle events.
func (e *Engine) Subscribe(o Observer) { e.transitions.Subscribe(o) }

// Dispose cancels all crossfades and transitions and clears every timer.
// No progress or lifecycle callback fires after Dispose returns.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	e.mu.Unlock()

	e.transitions.dispose()
	e.crossfades.dispose()
	e.log.Debug().Msg("engine disposed")
}
