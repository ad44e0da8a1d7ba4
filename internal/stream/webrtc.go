package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"gopkg.in/hraban/opus.v2"

	"github.com/strata-audio/strata/internal/audio"
)

// WebRTCHandler serves WebRTC SDP negotiation for low-latency Opus streaming.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	log         zerolog.Logger
	mu          sync.Mutex
	peers       []*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC stream handler.
func NewWebRTCHandler(b *Broadcaster, logger zerolog.Logger) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		log:         logger.With().Str("component", "webrtc").Logger(),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"strata",
	)
	if err != nil {
		pc.Close()
		http.Error(w, "create audio track failed", http.StatusInternalServerError)
		return
	}

	if _, err := pc.AddTrack(audioTrack); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}

	// Wait for ICE gathering to complete
	<-webrtc.GatheringCompletePromise(pc)

	h.mu.Lock()
	h.peers = append(h.peers, pc)
	h.mu.Unlock()

	h.log.Info().Int("total", h.PeerCount()).Msg("WebRTC peer connected")

	done := make(chan struct{})
	go h.streamToPeer(audioTrack, done)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			// removePeer is true exactly once per peer, so the stream
			// goroutine is released exactly once
			if h.removePeer(pc) {
				close(done)
				pc.Close()
				h.log.Info().Int("remaining", h.PeerCount()).Msg("WebRTC peer disconnected")
			}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (h *WebRTCHandler) streamToPeer(track *webrtc.TrackLocalStaticSample, done <-chan struct{}) {
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		h.log.Error().Err(err).Msg("opus encoder init failed")
		return
	}
	enc.SetBitrate(128000)

	opusBuf := make([]byte, 4000)

	for {
		select {
		case <-done:
			return
		case <-listener.done:
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, opusBuf)
			if err != nil {
				h.log.Error().Err(err).Msg("opus encode failed")
				continue
			}
			if err := track.WriteSample(media.Sample{
				Data:     opusBuf[:n],
				Duration: audio.FrameDuration,
			}); err != nil {
				return
			}
		}
	}
}

// removePeer drops pc from the peer list, reporting whether it was present.
func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.peers {
		if p == pc {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			return true
		}
	}
	return false
}
