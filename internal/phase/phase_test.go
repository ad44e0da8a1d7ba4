package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-audio/strata/internal/engine"
)

const sampleLibrary = `
tracks:
  - id: rain
    path: /audio/rain.mp3
    name: Rain on Glass
  - id: drone
    path: /audio/drone.wav
phases:
  - id: calm
    name: Calm
    volumes:
      Layer_1: 0.8
      Layer_2: 0.3
    active_audio:
      Layer_1: rain
    adjacent: [deep]
  - id: deep
    volumes:
      Layer_1: 0.2
    active_audio:
      Layer_1: drone
  - id: focus
    volumes:
      Layer_3: 0.5
`

func TestParseLibrary(t *testing.T) {
	f, err := Parse([]byte(sampleLibrary))
	require.NoError(t, err)
	require.Len(t, f.Phases, 3)
	require.Len(t, f.Tracks, 2)

	calm := f.Phases[0]
	assert.Equal(t, "calm", calm.ID)
	assert.Equal(t, 0.8, calm.Volumes[engine.Layer1])
	assert.Equal(t, "rain", calm.ActiveAudio[engine.Layer1])

	state := calm.State()
	assert.Equal(t, calm.Volumes, state.Volumes)
	assert.Equal(t, calm.ActiveAudio, state.ActiveAudio)
}

func TestParseRejectsBadLibraries(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "{nope"},
		{"phase without id", "phases:\n  - name: x\n"},
		{"duplicate phase id", "phases:\n  - id: a\n  - id: a\n"},
		{"unknown layer", "phases:\n  - id: a\n    volumes:\n      Layer_9: 0.5\n"},
		{"volume out of range", "phases:\n  - id: a\n    volumes:\n      Layer_1: 1.5\n"},
		{"unknown track", "phases:\n  - id: a\n    active_audio:\n      Layer_1: ghost\n"},
		{"track without path", "tracks:\n  - id: t\n"},
		{"duplicate track id", "tracks:\n  - id: t\n    path: /a\n  - id: t\n    path: /b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestStoreLookupAndReload(t *testing.T) {
	f, err := Parse([]byte(sampleLibrary))
	require.NoError(t, err)
	s := NewStore(f)

	p, ok := s.Get("calm")
	require.True(t, ok)
	assert.Equal(t, "Calm", p.Name)

	_, ok = s.Get("missing")
	assert.False(t, ok)

	tr, ok := s.Track("rain")
	require.True(t, ok)
	assert.Equal(t, "/audio/rain.mp3", tr.Path)

	assert.Equal(t, []string{"calm", "deep", "focus"}, s.IDs())

	replacement, err := Parse([]byte("phases:\n  - id: only\n"))
	require.NoError(t, err)
	s.Replace(replacement)

	_, ok = s.Get("calm")
	assert.False(t, ok, "reload replaces the whole library")
	assert.Equal(t, []string{"only"}, s.IDs())
}

func TestStoreAdjacent(t *testing.T) {
	f, err := Parse([]byte(sampleLibrary))
	require.NoError(t, err)
	s := NewStore(f)

	assert.Equal(t, []string{"deep"}, s.Adjacent("calm"), "declared adjacency wins")
	assert.ElementsMatch(t, []string{"calm", "focus"}, s.Adjacent("deep"), "no declaration falls back to all others")
	assert.Nil(t, s.Adjacent("missing"))
}
