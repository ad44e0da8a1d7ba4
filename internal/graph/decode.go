package graph

import (
	"bytes"
	"fmt"
	"io"
	"os"

	mp3 "github.com/hajimehoshi/go-mp3"
	wav "github.com/youpy/go-wav"

	"github.com/strata-audio/strata/internal/audio"
)

// DecodeFile decodes an mp3 or wav file to interleaved stereo int16 samples
// at the engine sample rate. The format is detected from the content, not
// the extension.
func DecodeFile(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	defer f.Close()

	if samples, err := decodeMP3(f); err == nil {
		return samples, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("decode %s: rewind: %w", path, err)
	}
	samples, err := decodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: unsupported or corrupt audio: %w", path, err)
	}
	return samples, nil
}

func decodeMP3(r io.Reader) ([]int16, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3 read: %w", err)
	}
	// go-mp3 always yields 16-bit stereo at the source rate
	return Resample(audio.BytesToSamples(raw), dec.SampleRate(), audio.SampleRate), nil
}

func decodeWAV(r io.Reader) ([]int16, error) {
	// wav.NewReader needs random access for the RIFF chunks
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("wav read: %w", err)
	}
	dec := wav.NewReader(bytes.NewReader(raw))
	format, err := dec.Format()
	if err != nil {
		return nil, fmt.Errorf("wav format: %w", err)
	}

	var samples []int16
	for {
		chunk, err := dec.ReadSamples(4096)
		for _, s := range chunk {
			left := wavSample(dec, s, 0, format)
			right := left
			if format.NumChannels > 1 {
				right = wavSample(dec, s, 1, format)
			}
			samples = append(samples, left, right)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("wav read: %w", err)
		}
	}

	return Resample(samples, int(format.SampleRate), audio.SampleRate), nil
}

func wavSample(dec *wav.Reader, s wav.Sample, ch int, format *wav.WavFormat) int16 {
	v := dec.IntValue(s, uint(ch))
	if format.BitsPerSample == 8 {
		// 8-bit wav is unsigned
		return int16((v - 128) << 8)
	}
	return int16(v)
}

// Resample converts interleaved stereo samples between sample rates using
// linear interpolation. Returns the input unchanged when rates match.
func Resample(samples []int16, from, to int) []int16 {
	if from == to || from <= 0 || len(samples) < audio.Channels {
		return samples
	}

	inFrames := len(samples) / audio.Channels
	outFrames := int(int64(inFrames) * int64(to) / int64(from))
	out := make([]int16, outFrames*audio.Channels)

	for i := 0; i < outFrames; i++ {
		srcPos := float64(i) * float64(from) / float64(to)
		i0 := int(srcPos)
		frac := srcPos - float64(i0)
		i1 := i0 + 1
		if i1 >= inFrames {
			i1 = inFrames - 1
		}
		for ch := 0; ch < audio.Channels; ch++ {
			a := float64(samples[i0*audio.Channels+ch])
			b := float64(samples[i1*audio.Channels+ch])
			out[i*audio.Channels+ch] = int16(a + (b-a)*frac)
		}
	}
	return out
}
