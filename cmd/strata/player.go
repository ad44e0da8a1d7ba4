package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/strata-audio/strata/internal/engine"
	"github.com/strata-audio/strata/internal/graph"
	"github.com/strata-audio/strata/internal/phase"
)

// player owns the per-layer playback rig: which element each layer is
// playing and at what steady-state volume. It implements the engine's
// VolumeFader and TrackCrossfader capabilities.
type player struct {
	mixer *graph.Mixer
	store *phase.Store
	log   zerolog.Logger

	mu       sync.Mutex
	engine   *engine.Engine
	elements map[engine.Layer]*graph.Element
	tracks   map[engine.Layer]string
	volumes  map[engine.Layer]float64
}

func newPlayer(mixer *graph.Mixer, store *phase.Store, logger zerolog.Logger) *player {
	return &player{
		mixer:    mixer,
		store:    store,
		log:      logger.With().Str("component", "player").Logger(),
		elements: make(map[engine.Layer]*graph.Element),
		tracks:   make(map[engine.Layer]string),
		volumes:  make(map[engine.Layer]float64),
	}
}

// setEngine breaks the construction cycle: the engine needs the player as
// its handlers, the player needs the engine for crossfades.
func (p *player) setEngine(e *engine.Engine) {
	p.mu.Lock()
	p.engine = e
	p.mu.Unlock()
}

// FadeVolume ramps the layer's element volume to target over d.
func (p *player) FadeVolume(layer engine.Layer, target float64, d time.Duration) <-chan error {
	ch := make(chan error, 1)

	p.mu.Lock()
	el := p.elements[layer]
	p.volumes[layer] = target
	p.mu.Unlock()

	if el == nil {
		// nothing playing on this layer, just remember the volume
		ch <- nil
		return ch
	}

	go func() {
		const step = 50 * time.Millisecond
		start := el.Volume()
		steps := int(d / step)
		if steps < 1 {
			steps = 1
		}
		ticker := time.NewTicker(step)
		defer ticker.Stop()
		for i := 1; i <= steps; i++ {
			<-ticker.C
			frac := float64(i) / float64(steps)
			el.SetVolume(start + (target-start)*frac)
		}
		ch <- nil
	}()
	return ch
}

// CrossfadeTrack swaps the layer's element for the named track. The first
// track on a layer starts directly; later swaps go through the crossfade
// engine so the old element fades out while the new one fades in.
func (p *player) CrossfadeTrack(layer engine.Layer, trackID string, d time.Duration) <-chan error {
	ch := make(chan error, 1)

	track, ok := p.store.Track(trackID)
	if !ok {
		ch <- fmt.Errorf("player: unknown track %q", trackID)
		return ch
	}

	el, err := graph.LoadElement(track.ID, track.Path)
	if err != nil {
		ch <- fmt.Errorf("player: load %q: %w", track.Path, err)
		return ch
	}
	el.SetLoop(true)

	p.mu.Lock()
	eng := p.engine
	prev := p.elements[layer]
	vol, haveVol := p.volumes[layer]
	if !haveVol {
		vol = 1
	}
	p.elements[layer] = el
	p.tracks[layer] = trackID
	p.mu.Unlock()

	if prev == nil {
		el.SetVolume(vol)
		el.Play()
		if err := p.mixer.Connect(el, p.mixer.Destination()); err != nil {
			ch <- err
			return ch
		}
		p.log.Info().Str("layer", string(layer)).Str("track", trackID).Msg("layer started")
		ch <- nil
		return ch
	}

	el.Play()
	res := eng.Crossfade(engine.CrossfadeRequest{
		Layer:    layer,
		Source:   prev,
		Target:   el,
		Volume:   vol,
		Duration: d,
	})
	go func() {
		if !<-res {
			ch <- fmt.Errorf("player: crossfade on %s did not complete", layer)
			return
		}
		p.log.Info().Str("layer", string(layer)).Str("track", trackID).Msg("track crossfaded")
		ch <- nil
	}()
	return ch
}

// applyVolumes records final per-layer volumes once a transition lands.
func (p *player) applyVolumes(v map[engine.Layer]float64) {
	p.mu.Lock()
	for layer, vol := range v {
		p.volumes[layer] = vol
	}
	p.mu.Unlock()
}

// applyTracks records final per-layer track assignments.
func (p *player) applyTracks(tr map[engine.Layer]string) {
	p.mu.Lock()
	for layer, id := range tr {
		p.tracks[layer] = id
	}
	p.mu.Unlock()
}

// layerStatus is one layer's slice of the status API payload.
type layerStatus struct {
	Track    string  `json:"track"`
	Volume   float64 `json:"volume"`
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
	Fading   bool    `json:"fading"`
}

// status snapshots every layer for the HTTP API.
func (p *player) status() map[string]layerStatus {
	p.mu.Lock()
	eng := p.engine
	out := make(map[string]layerStatus, len(p.elements))
	for _, layer := range engine.Layers() {
		el := p.elements[layer]
		if el == nil {
			continue
		}
		out[string(layer)] = layerStatus{
			Track:    p.tracks[layer],
			Volume:   p.volumes[layer],
			Position: el.Position().Seconds(),
			Duration: el.Duration().Seconds(),
		}
	}
	p.mu.Unlock()

	if eng != nil {
		for layer, st := range out {
			st.Fading = eng.IsActive(engine.Layer(layer))
			out[layer] = st
		}
	}
	return out
}
