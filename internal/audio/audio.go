package audio

import (
	"encoding/binary"
	"time"
)

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Clip brings a mixed sample back into int16 range.
func Clip(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// MixInto accumulates src into dst sample by sample, clipping the result.
// Both slices must have the same length.
func MixInto(dst, src []int16) {
	for i := range dst {
		dst[i] = Clip(float64(dst[i]) + float64(src[i]))
	}
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToSamples converts little-endian PCM bytes to int16 samples.
// A trailing odd byte is dropped.
func BytesToSamples(buf []byte) []int16 {
	if len(buf)%2 != 0 {
		buf = buf[:len(buf)-1]
	}
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples
}
