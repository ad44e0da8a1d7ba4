package stream

import (
	"encoding/binary"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/strata-audio/strata/internal/audio"
)

// HTTPHandler serves an endless chunked WAV stream over HTTP. The header
// advertises the maximum data size so players treat it as open-ended, and
// raw PCM frames follow straight from the broadcaster.
type HTTPHandler struct {
	broadcaster *Broadcaster
	log         zerolog.Logger
}

// NewHTTPHandler creates an HTTP stream handler.
func NewHTTPHandler(b *Broadcaster, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		broadcaster: b,
		log:         logger.With().Str("component", "httpstream").Logger(),
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if _, err := w.Write(wavHeader()); err != nil {
		return
	}
	flusher.Flush()

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Info().
		Str("listener", listener.ID).
		Int("total", h.broadcaster.ListenerCount()).
		Msg("HTTP listener connected")
	defer h.log.Info().Str("listener", listener.ID).Msg("HTTP listener disconnected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-listener.done:
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// wavHeader builds a 44-byte RIFF/WAVE header describing an effectively
// unbounded 48kHz stereo s16le stream.
func wavHeader() []byte {
	const dataSize = 0xFFFFFFFF - 36

	hdr := make([]byte, 44)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], dataSize+36)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(hdr[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], audio.Channels)
	binary.LittleEndian.PutUint32(hdr[24:28], audio.SampleRate)
	byteRate := uint32(audio.SampleRate * audio.Channels * audio.BitDepth / 8)
	binary.LittleEndian.PutUint32(hdr[28:32], byteRate)
	blockAlign := uint16(audio.Channels * audio.BitDepth / 8)
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], audio.BitDepth)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)
	return hdr
}
