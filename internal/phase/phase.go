// Package phase loads and serves the named phase definitions the engine
// transitions between. Phases are authored in a YAML file and can be hot
// reloaded while the player runs.
package phase

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/strata-audio/strata/internal/engine"
)

// Track maps a track identifier to its audio file.
type Track struct {
	ID   string `yaml:"id"`
	Path string `yaml:"path"`
	Name string `yaml:"name"`
}

// Phase is one authored target state: per-layer volumes and the track each
// layer should be playing.
type Phase struct {
	ID          string                    `yaml:"id"`
	Name        string                    `yaml:"name"`
	Volumes     map[engine.Layer]float64  `yaml:"volumes"`
	ActiveAudio map[engine.Layer]string   `yaml:"active_audio"`
	Adjacent    []string                  `yaml:"adjacent"` // candidates for auto-rotation
}

// State converts the phase into the engine's transition target shape.
func (p Phase) State() engine.PhaseState {
	return engine.PhaseState{
		Volumes:     p.Volumes,
		ActiveAudio: p.ActiveAudio,
	}
}

// File is the on-disk shape of a phase library.
type File struct {
	Tracks []Track `yaml:"tracks"`
	Phases []Phase `yaml:"phases"`
}

// Load parses and validates a phase library file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("phase file: %w", err)
	}
	return Parse(raw)
}

// Parse parses and validates a phase library document.
func Parse(raw []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("phase file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	tracks := make(map[string]bool, len(f.Tracks))
	for _, tr := range f.Tracks {
		if tr.ID == "" || tr.Path == "" {
			return fmt.Errorf("phase file: track needs id and path, got id=%q path=%q", tr.ID, tr.Path)
		}
		if tracks[tr.ID] {
			return fmt.Errorf("phase file: duplicate track id %q", tr.ID)
		}
		tracks[tr.ID] = true
	}

	seen := make(map[string]bool, len(f.Phases))
	for _, p := range f.Phases {
		if p.ID == "" {
			return fmt.Errorf("phase file: phase needs an id")
		}
		if seen[p.ID] {
			return fmt.Errorf("phase file: duplicate phase id %q", p.ID)
		}
		seen[p.ID] = true

		for layer, vol := range p.Volumes {
			if !engine.ValidLayer(layer) {
				return fmt.Errorf("phase %q: unknown layer %q", p.ID, layer)
			}
			if vol < 0 || vol > 1 {
				return fmt.Errorf("phase %q: volume %v for %s out of [0,1]", p.ID, vol, layer)
			}
		}
		for layer, trackID := range p.ActiveAudio {
			if !engine.ValidLayer(layer) {
				return fmt.Errorf("phase %q: unknown layer %q", p.ID, layer)
			}
			if !tracks[trackID] {
				return fmt.Errorf("phase %q: unknown track %q on %s", p.ID, trackID, layer)
			}
		}
	}
	return nil
}

// Store holds the current phase library and supports atomic reload.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]Phase
	tracks map[string]Track
	order  []string
}

// NewStore builds a store from a parsed phase file.
func NewStore(f *File) *Store {
	s := &Store{}
	s.Replace(f)
	return s
}

// Replace swaps in a freshly loaded library.
func (s *Store) Replace(f *File) {
	byID := make(map[string]Phase, len(f.Phases))
	order := make([]string, 0, len(f.Phases))
	for _, p := range f.Phases {
		byID[p.ID] = p
		order = append(order, p.ID)
	}
	tracks := make(map[string]Track, len(f.Tracks))
	for _, tr := range f.Tracks {
		tracks[tr.ID] = tr
	}

	s.mu.Lock()
	s.byID = byID
	s.tracks = tracks
	s.order = order
	s.mu.Unlock()
}

// Get returns the phase with the given id.
func (s *Store) Get(id string) (Phase, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	return p, ok
}

// Track returns the track with the given id.
func (s *Store) Track(id string) (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tr, ok := s.tracks[id]
	return tr, ok
}

// IDs returns all phase ids in authored order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Adjacent returns the rotation candidates for a phase. When the phase
// declares none, every other phase is a candidate.
func (s *Store) Adjacent(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return nil
	}
	if len(p.Adjacent) > 0 {
		out := make([]string, 0, len(p.Adjacent))
		for _, a := range p.Adjacent {
			if _, known := s.byID[a]; known {
				out = append(out, a)
			}
		}
		return out
	}

	out := make([]string, 0, len(s.order))
	for _, other := range s.order {
		if other != id {
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out
}
