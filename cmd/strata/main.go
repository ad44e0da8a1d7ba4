package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/strata-audio/strata/internal/config"
	"github.com/strata-audio/strata/internal/engine"
	"github.com/strata-audio/strata/internal/graph"
	"github.com/strata-audio/strata/internal/phase"
	"github.com/strata-audio/strata/internal/rotate"
	"github.com/strata-audio/strata/internal/stream"
)

// mixerBackend narrows *graph.Mixer to the engine's backend capability.
type mixerBackend struct {
	m *graph.Mixer
}

func (b mixerBackend) Now() time.Duration                 { return b.m.Now() }
func (b mixerBackend) NewGain() engine.GainControl        { return b.m.NewGain() }
func (b mixerBackend) Destination() engine.Node           { return b.m.Destination() }
func (b mixerBackend) Connect(src, dst engine.Node) error { return b.m.Connect(src, dst) }
func (b mixerBackend) Disconnect(n engine.Node) error     { return b.m.Disconnect(n) }

func main() {
	cfg := config.Load()

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info().Msg("strata starting up")

	lib, err := phase.Load(cfg.PhasesPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.PhasesPath).Msg("phase library load failed")
	}
	store := phase.NewStore(lib)

	watcher := phase.NewWatcher(cfg.PhasesPath, store, logger)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn().Err(err).Msg("phase library watcher stopped")
		}
	}()

	mixer := graph.NewMixer(logger)
	go mixer.Run(ctx)

	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, mixer.Frames())

	p := newPlayer(mixer, store, logger)

	eng, err := engine.New(engine.Config{
		Backend:                   mixerBackend{mixer},
		Logger:                    logger,
		MinFadeDuration:           cfg.MinFade,
		MaxFadeDuration:           cfg.MaxFade,
		DefaultTransitionDuration: cfg.TransitionDuration,
		OnTransitionStart: func(phaseID string, _ engine.PhaseState) {
			logger.Info().Str("phase", phaseID).Msg("transition started")
		},
		OnTransitionComplete: func(phaseID string, _ engine.PhaseState) {
			logger.Info().Str("phase", phaseID).Msg("transition complete")
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("engine init failed")
	}
	defer eng.Dispose()

	p.setEngine(eng)
	eng.SetTransitionHandlers(engine.TransitionHandlers{
		VolumeFader:       p,
		TrackCrossfader:   p,
		UpdateVolumeState: p.applyVolumes,
		UpdateAudioState:  p.applyTracks,
	})

	startPhase := cfg.StartingPhase
	if startPhase == "" {
		if ids := store.IDs(); len(ids) > 0 {
			startPhase = ids[0]
		}
	}

	beginTransition := func(id string) bool {
		ph, ok := store.Get(id)
		if !ok {
			return false
		}
		return eng.StartTransition(id, ph.State(), engine.TransitionOptions{})
	}

	rotator := rotate.New(store, beginTransition, rotate.Config{
		StartingPhase: startPhase,
		DwellMin:      cfg.DwellMin,
		DwellMax:      cfg.DwellMax,
	}, logger)
	rotator.SetEnabled(cfg.AutoRotate)
	go rotator.Run(ctx)

	if startPhase != "" {
		beginTransition(startPhase)
	} else {
		logger.Warn().Msg("phase library is empty, nothing to play")
	}

	webrtcHandler := stream.NewWebRTCHandler(broadcaster, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexHTML)
	})

	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, logger))
	mux.Handle("/offer", webrtcHandler)

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		rot := rotator.Status()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(map[string]any{
			"phase":            rot.CurrentPhase,
			"phases":           store.IDs(),
			"auto_rotate":      rot.AutoRotate,
			"dwell_remaining":  rot.DwellRemaining,
			"transitioning":    eng.IsTransitioning(),
			"queued":           eng.TransitionQueueLen(),
			"layers":           p.status(),
			"http_listeners":   broadcaster.ListenerCount(),
			"webrtc_listeners": webrtcHandler.PeerCount(),
			"config": map[string]any{
				"transition_ms": eng.TransitionDuration().Milliseconds(),
				"min_fade_ms":   cfg.MinFade.Milliseconds(),
				"max_fade_ms":   cfg.MaxFade.Milliseconds(),
			},
		})
	})

	mux.HandleFunc("/api/phase", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Phase string `json:"phase"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phase == "" {
			http.Error(w, "invalid phase", http.StatusBadRequest)
			return
		}
		if _, ok := store.Get(req.Phase); !ok {
			http.Error(w, "unknown phase", http.StatusBadRequest)
			return
		}
		rotator.SetPhase(req.Phase)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "phase": req.Phase})
	})

	mux.HandleFunc("/api/crossfade", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Layer      string   `json:"layer"`
			Track      string   `json:"track"`
			DurationMS int      `json:"duration_ms"`
			Volume     *float64 `json:"volume"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		layer := engine.Layer(req.Layer)
		if !engine.ValidLayer(layer) {
			http.Error(w, "unknown layer", http.StatusBadRequest)
			return
		}
		if req.Volume != nil {
			if *req.Volume < 0 || *req.Volume > 1 {
				http.Error(w, "volume must be 0-1", http.StatusBadRequest)
				return
			}
			p.applyVolumes(map[engine.Layer]float64{layer: *req.Volume})
		}
		res := p.CrossfadeTrack(layer, req.Track, time.Duration(req.DurationMS)*time.Millisecond)
		select {
		case err := <-res:
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		default:
			// fade in flight
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/transition/pause", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "paused": eng.PauseAllTransitions()})
	})

	mux.HandleFunc("/api/transition/resume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "resumed": eng.ResumeAllTransitions()})
	})

	mux.HandleFunc("/api/transition/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		eng.CancelAllCrossfades(engine.ReconnectBoth)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "canceled": eng.CancelAllTransitions()})
	})

	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			TransitionMS *int  `json:"transition_ms"`
			AutoRotate   *bool `json:"auto_rotate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if req.TransitionMS != nil {
			d := time.Duration(*req.TransitionMS) * time.Millisecond
			if err := eng.SetTransitionDuration(d); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if req.AutoRotate != nil {
			rotator.SetEnabled(*req.AutoRotate)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"ok":            true,
			"transition_ms": eng.TransitionDuration().Milliseconds(),
			"auto_rotate":   rotator.Status().AutoRotate,
		})
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		server.Close()
	}()

	logger.Info().Str("addr", addr).Msg("strata live")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("HTTP server error")
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>strata</title>
<style>
body { font-family: monospace; background: #111; color: #ddd; max-width: 40em; margin: 4em auto; }
a { color: #8cf; }
</style>
</head>
<body>
<h1>strata</h1>
<p>layered ambient audio. press play.</p>
<audio controls src="/stream"></audio>
<p><a href="/api/status">status</a></p>
</body>
</html>
`
