package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/loqalabs/loqa-voice-relay/internal/audio"
)

const nativeBackend = "native"

// WAVE format tags accepted by the native decoder.
const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// wavStreamingSize is the chunk size written by encoders that do not know
// the final length, e.g. providers streaming a WAV response.
const wavStreamingSize = 0xFFFFFFFF

type container int

const (
	containerUnknown container = iota
	containerWAV
	containerMP3
)

// decoded is interleaved PCM16 as produced by a container decoder.
type decoded struct {
	samples    []int16
	channels   int
	sampleRate int
}

// Native decodes WAV and MP3 in-process.
type Native struct{}

func NewNative() *Native { return &Native{} }

func (n *Native) Transcode(ctx context.Context, data []byte, targetRate int) ([]byte, error) {
	if len(data) == 0 {
		return nil, newError(nativeBackend, KindMalformed, ErrEmptyInput)
	}
	if targetRate <= 0 {
		return nil, newError(nativeBackend, KindConversion, fmt.Errorf("invalid target rate %d", targetRate))
	}

	var (
		src decoded
		err error
	)
	switch sniff(data) {
	case containerWAV:
		src, err = decodeWAV(data)
	case containerMP3:
		src, err = decodeMP3(ctx, data)
	default:
		return nil, newError(nativeBackend, KindUnsupported, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}
	if len(src.samples) == 0 {
		return nil, newError(nativeBackend, KindMalformed, fmt.Errorf("%w: no audio samples", ErrMalformedContainer))
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(nativeBackend, KindConversion, err)
	}

	mono := audio.Downmix(src.samples, src.channels)
	resampled, err := audio.Resample(mono, src.sampleRate, targetRate)
	if err != nil {
		return nil, newError(nativeBackend, KindConversion, err)
	}
	return audio.Int16ToBytes(resampled), nil
}

func sniff(data []byte) container {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return containerWAV
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return containerMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return containerMP3
	default:
		return containerUnknown
	}
}

func decodeWAV(data []byte) (decoded, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return decoded{}, newError(nativeBackend, KindMalformed, fmt.Errorf("%w: %v", ErrMalformedContainer, err))
	}
	if dec.NumChans < 1 || dec.SampleRate == 0 {
		return decoded{}, newError(nativeBackend, KindMalformed, fmt.Errorf("%w: missing fmt chunk", ErrMalformedContainer))
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return decoded{}, newError(nativeBackend, KindUnsupported, fmt.Errorf("%w: wav format tag %d", ErrUnsupportedFormat, dec.WavAudioFormat))
	}

	offset, size, ok := findDataChunk(data)
	if !ok {
		return decoded{}, newError(nativeBackend, KindMalformed, fmt.Errorf("%w: missing data chunk", ErrMalformedContainer))
	}

	var raw []int
	if size == wavStreamingSize || int64(offset)+int64(size) > int64(len(data)) {
		// The declared length is a placeholder or overruns the buffer: the
		// samples run to the end of the input.
		ints, err := pcmInts(data[offset:], int(dec.BitDepth), int(dec.NumChans))
		if err != nil {
			return decoded{}, newError(nativeBackend, KindUnsupported, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err))
		}
		raw = ints
	} else {
		buf, err := dec.FullPCMBuffer()
		if err != nil {
			return decoded{}, newError(nativeBackend, KindMalformed, fmt.Errorf("%w: %v", ErrMalformedContainer, err))
		}
		raw = buf.Data
	}
	samples, err := audio.ToInt16(raw, int(dec.BitDepth))
	if err != nil {
		return decoded{}, newError(nativeBackend, KindUnsupported, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err))
	}
	return decoded{samples: samples, channels: int(dec.NumChans), sampleRate: int(dec.SampleRate)}, nil
}

// findDataChunk walks the RIFF chunk list and returns the payload offset and
// declared size of the data chunk.
func findDataChunk(data []byte) (int, uint32, bool) {
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		if id == "data" {
			return off + 8, size, true
		}
		next := int64(off) + 8 + int64(size) + int64(size&1)
		if size == wavStreamingSize || next > int64(len(data)) {
			return 0, 0, false
		}
		off = int(next)
	}
	return 0, 0, false
}

// pcmInts decodes little-endian integer PCM with the same value ranges as
// go-audio: 8-bit stays unsigned, wider depths are signed. A trailing partial
// frame is dropped.
func pcmInts(raw []byte, bitDepth, channels int) ([]int, error) {
	if bitDepth <= 0 || bitDepth%8 != 0 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
	width := bitDepth / 8
	frame := width * channels
	raw = raw[:len(raw)/frame*frame]

	out := make([]int, len(raw)/width)
	for i := range out {
		b := raw[i*width : (i+1)*width]
		switch width {
		case 1:
			out[i] = int(b[0])
		case 2:
			out[i] = int(int16(binary.LittleEndian.Uint16(b)))
		case 3:
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			out[i] = int((v << 8) >> 8)
		case 4:
			out[i] = int(int32(binary.LittleEndian.Uint32(b)))
		}
	}
	return out, nil
}

// decodeMP3 always yields stereo PCM16; go-mp3 duplicates mono streams.
func decodeMP3(ctx context.Context, data []byte) (decoded, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return decoded{}, newError(nativeBackend, KindMalformed, fmt.Errorf("%w: %v", ErrMalformedContainer, err))
	}

	var pcm bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return decoded{}, newError(nativeBackend, KindConversion, err)
		}
		n, err := dec.Read(chunk)
		pcm.Write(chunk[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return decoded{}, newError(nativeBackend, KindMalformed, fmt.Errorf("%w: %v", ErrMalformedContainer, err))
		}
	}

	const bytesPerFrame = 4
	raw := pcm.Bytes()
	raw = raw[:len(raw)/bytesPerFrame*bytesPerFrame]
	return decoded{samples: audio.BytesToInt16(raw), channels: 2, sampleRate: dec.SampleRate()}, nil
}
