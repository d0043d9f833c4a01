// Package audio holds PCM sample helpers shared by the transcoder and the
// mock provider.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PCM output format constants.
const (
	BitDepth       = 16
	BytesPerSample = BitDepth / 8
)

// BytesToInt16 decodes little-endian PCM16 bytes. A trailing odd byte is dropped.
func BytesToInt16(b []byte) []int16 {
	n := len(b) / BytesPerSample
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
	}
	return out
}

// Int16ToBytes encodes samples as little-endian PCM16.
func Int16ToBytes(in []int16) []byte {
	out := make([]byte, len(in)*BytesPerSample)
	for i, s := range in {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// ToInt16 rescales integer samples of the given bit depth to 16 bits.
// 8-bit input is treated as unsigned, as in WAV.
func ToInt16(in []int, bitDepth int) ([]int16, error) {
	out := make([]int16, len(in))
	switch bitDepth {
	case 8:
		for i, s := range in {
			out[i] = int16((s - 128) << 8)
		}
	case 16:
		for i, s := range in {
			out[i] = clamp16(s)
		}
	case 24:
		for i, s := range in {
			out[i] = clamp16(s >> 8)
		}
	case 32:
		for i, s := range in {
			out[i] = clamp16(s >> 16)
		}
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
	return out, nil
}

// Downmix averages interleaved frames of the given channel count into mono.
// A trailing partial frame is dropped.
func Downmix(in []int16, channels int) []int16 {
	if channels <= 1 {
		return in
	}
	frames := len(in) / channels
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(in[f*channels+c])
		}
		out[f] = int16(sum / channels)
	}
	return out
}

// Resample converts mono samples between rates using linear interpolation.
func Resample(in []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}
	if fromRate == toRate {
		out := make([]int16, len(in))
		copy(out, in)
		return out, nil
	}
	if len(in) == 0 {
		return []int16{}, nil
	}

	n := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	out := make([]int16, n)
	ratio := float64(fromRate) / float64(toRate)
	last := len(in) - 1
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(idx)
		s0 := float64(in[idx])
		s1 := float64(in[idx+1])
		out[i] = int16(math.Round(s0 + frac*(s1-s0)))
	}
	return out, nil
}

// Tone returns a mono sine wave, used for synthetic audio.
func Tone(sampleRate int, seconds float64, freq float64, amplitude float64) []int16 {
	n := int(float64(sampleRate) * seconds)
	out := make([]int16, n)
	for i := range out {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		out[i] = clamp16(int(v * math.MaxInt16))
	}
	return out
}

func clamp16(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
