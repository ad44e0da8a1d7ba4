// Package rotate drifts the player between phases on its own: after a
// randomized dwell in the current phase it picks an adjacent phase and
// requests a transition. Manual phase changes reset the dwell.
package rotate

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/strata-audio/strata/internal/phase"
)

// TransitionFunc requests a phase transition; it reports whether the
// request was accepted.
type TransitionFunc func(phaseID string) bool

// Config holds rotation parameters.
type Config struct {
	StartingPhase string
	DwellMin      time.Duration // min time in a phase before drifting
	DwellMax      time.Duration // max time in a phase before drifting
}

// Status is the externally visible rotation state.
type Status struct {
	CurrentPhase   string  `json:"phase"`
	AutoRotate     bool    `json:"auto_rotate"`
	DwellRemaining float64 `json:"dwell_remaining"` // seconds
}

// Rotator manages phase dwell timing and auto-rotation.
type Rotator struct {
	store *phase.Store
	begin TransitionFunc
	cfg   Config
	log   zerolog.Logger

	mu       sync.RWMutex
	current  string
	enabled  bool
	dwellEnd time.Time

	overrideCh chan string
}

// New creates a rotator that requests transitions through begin.
func New(store *phase.Store, begin TransitionFunc, cfg Config, logger zerolog.Logger) *Rotator {
	return &Rotator{
		store:      store,
		begin:      begin,
		cfg:        cfg,
		log:        logger.With().Str("component", "rotate").Logger(),
		current:    cfg.StartingPhase,
		enabled:    true,
		overrideCh: make(chan string, 1),
	}
}

// Status returns the current rotation state.
func (r *Rotator) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	remaining := time.Until(r.dwellEnd).Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		CurrentPhase:   r.current,
		AutoRotate:     r.enabled,
		DwellRemaining: remaining,
	}
}

// CurrentPhase returns the phase the rotator believes is active.
func (r *Rotator) CurrentPhase() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// SetPhase manually moves to a phase, resetting the dwell.
func (r *Rotator) SetPhase(id string) {
	select {
	case r.overrideCh <- id:
	default:
	}
}

// SetEnabled turns auto-rotation on or off.
func (r *Rotator) SetEnabled(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	if enabled {
		r.resetDwell()
	}
	r.mu.Unlock()
}

// Run drives the rotation loop. Blocks until ctx is cancelled.
func (r *Rotator) Run(ctx context.Context) {
	r.mu.Lock()
	r.resetDwell()
	r.mu.Unlock()

	r.log.Info().Str("phase", r.CurrentPhase()).Msg("rotation started")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.overrideCh:
			r.applyOverride(id)
		case <-ticker.C:
			r.mu.RLock()
			enabled := r.enabled
			expired := time.Now().After(r.dwellEnd)
			r.mu.RUnlock()
			if enabled && expired {
				r.drift()
			}
		}
	}
}

func (r *Rotator) applyOverride(id string) {
	if _, ok := r.store.Get(id); !ok {
		r.log.Warn().Str("phase", id).Msg("manual phase unknown, ignoring")
		return
	}
	if !r.begin(id) {
		r.log.Warn().Str("phase", id).Msg("manual phase transition rejected")
		return
	}
	r.mu.Lock()
	r.current = id
	r.resetDwell()
	r.mu.Unlock()
	r.log.Info().Str("phase", id).Msg("phase manually set")
}

// drift picks the next phase among the current one's adjacency set.
func (r *Rotator) drift() {
	r.mu.Lock()
	candidates := r.store.Adjacent(r.current)
	if len(candidates) == 0 {
		r.resetDwell()
		r.mu.Unlock()
		return
	}
	next := candidates[rand.IntN(len(candidates))]
	prev := r.current
	r.mu.Unlock()

	if !r.begin(next) {
		r.log.Warn().Str("phase", next).Msg("auto-rotation transition rejected")
		r.mu.Lock()
		r.resetDwell()
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.current = next
	r.resetDwell()
	r.mu.Unlock()
	r.log.Info().Str("from", prev).Str("to", next).Msg("auto-rotation drift")
}

// resetDwell arms a new random dwell window. Caller holds r.mu.
func (r *Rotator) resetDwell() {
	spread := r.cfg.DwellMax - r.cfg.DwellMin
	if spread <= 0 {
		spread = time.Second
	}
	dwell := r.cfg.DwellMin + rand.N(spread)
	r.dwellEnd = time.Now().Add(dwell)
}
