package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/loqalabs/loqa-voice-relay/internal/audio"
	"github.com/loqalabs/loqa-voice-relay/internal/config"
)

var supportedRates = []int{8000, 16000, 22050, 24000, 44100}

func wavFixture(t *testing.T, rate, channels int, seconds float64) []byte {
	t.Helper()
	mono := audio.Tone(rate, seconds, 440, 0.4)
	interleaved := make([]int16, 0, len(mono)*channels)
	for _, s := range mono {
		for c := 0; c < channels; c++ {
			interleaved = append(interleaved, s)
		}
	}
	data, err := audio.EncodeWAV(interleaved, rate, channels)
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return data
}

func TestNativeTranscodeAllRates(t *testing.T) {
	src := wavFixture(t, 24000, 2, 0.25)
	tc := NewNative()
	for _, rate := range supportedRates {
		pcm, err := tc.Transcode(context.Background(), src, rate)
		if err != nil {
			t.Fatalf("rate %d: %v", rate, err)
		}
		if len(pcm) == 0 || len(pcm)%2 != 0 {
			t.Fatalf("rate %d: expected non-empty even length, got %d", rate, len(pcm))
		}
		want := int(int64(6000) * int64(rate) / 24000)
		if got := len(pcm) / 2; got != want {
			t.Fatalf("rate %d: expected %d samples, got %d", rate, want, got)
		}
	}
}

func TestNativeTranscodeDownmixesStereo(t *testing.T) {
	samples := []int16{1000, 3000, -1000, -3000}
	data, err := audio.EncodeWAV(samples, 16000, 2)
	if err != nil {
		t.Fatal(err)
	}
	pcm, err := NewNative().Transcode(context.Background(), data, 16000)
	if err != nil {
		t.Fatalf("transcode: %v", err)
	}
	got := audio.BytesToInt16(pcm)
	if len(got) != 2 || got[0] != 2000 || got[1] != -2000 {
		t.Fatalf("unexpected mono samples: %v", got)
	}
}

func TestNativeRejectsUnknownFormat(t *testing.T) {
	_, err := NewNative().Transcode(context.Background(), []byte("OggS-not-supported"), 16000)
	var tErr *Error
	if !errors.As(err, &tErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if tErr.Kind != KindUnsupported || !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported codec, got %v", err)
	}
}

func TestNativeRejectsEmptyInput(t *testing.T) {
	_, err := NewNative().Transcode(context.Background(), nil, 16000)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestNativeRejectsTruncatedWAV(t *testing.T) {
	data := wavFixture(t, 16000, 1, 0.1)
	_, err := NewNative().Transcode(context.Background(), data[:20], 16000)
	var tErr *Error
	if !errors.As(err, &tErr) || tErr.Kind != KindMalformed {
		t.Fatalf("expected malformed input error, got %v", err)
	}
}

// streamingWAV rewrites the RIFF and data sizes to the placeholder used by
// encoders that stream their output.
func streamingWAV(t *testing.T, data []byte) []byte {
	t.Helper()
	out := append([]byte(nil), data...)
	i := bytes.Index(out, []byte("data"))
	if i < 0 {
		t.Fatal("fixture has no data chunk")
	}
	binary.LittleEndian.PutUint32(out[4:8], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(out[i+4:i+8], 0xFFFFFFFF)
	return out
}

func TestNativeDecodesStreamingWAVHeader(t *testing.T) {
	sized := wavFixture(t, 24000, 1, 0.5)
	tc := NewNative()

	want, err := tc.Transcode(context.Background(), sized, 16000)
	if err != nil {
		t.Fatalf("sized wav: %v", err)
	}
	got, err := tc.Transcode(context.Background(), streamingWAV(t, sized), 16000)
	if err != nil {
		t.Fatalf("streaming wav: %v", err)
	}
	if len(got) != 16000 || !bytes.Equal(got, want) {
		t.Fatalf("expected %d bytes matching the sized decode, got %d", len(want), len(got))
	}
}

func TestNativeDecodesOverrunningDataChunk(t *testing.T) {
	data := wavFixture(t, 16000, 1, 0.1)
	// Drop the last 100 samples while the header still declares them.
	cut := data[:len(data)-200]
	pcm, err := NewNative().Transcode(context.Background(), cut, 16000)
	if err != nil {
		t.Fatalf("transcode: %v", err)
	}
	if got := len(pcm) / 2; got != 1500 {
		t.Fatalf("expected 1500 samples, got %d", got)
	}
}

func TestNativeRejectsWAVWithoutSamples(t *testing.T) {
	data := wavFixture(t, 16000, 1, 0.1)
	i := bytes.Index(data, []byte("data"))
	_, err := NewNative().Transcode(context.Background(), streamingWAV(t, data)[:i+8], 16000)
	var tErr *Error
	if !errors.As(err, &tErr) || tErr.Kind != KindMalformed {
		t.Fatalf("expected malformed input error, got %v", err)
	}
}

// mp3Fixture builds MPEG-1 Layer III frames (128 kbps, 44.1 kHz, stereo)
// whose side info is all zero, which decodes to silence.
func mp3Fixture(frames int) []byte {
	const frameSize = 417
	out := make([]byte, 0, frames*frameSize)
	for f := 0; f < frames; f++ {
		frame := make([]byte, frameSize)
		copy(frame, []byte{0xFF, 0xFB, 0x90, 0x00})
		out = append(out, frame...)
	}
	return out
}

func TestNativeDecodesMP3(t *testing.T) {
	const frames = 10
	tc := NewNative()
	for _, rate := range supportedRates {
		pcm, err := tc.Transcode(context.Background(), mp3Fixture(frames), rate)
		if err != nil {
			t.Fatalf("rate %d: %v", rate, err)
		}
		if len(pcm) == 0 || len(pcm)%2 != 0 {
			t.Fatalf("rate %d: expected non-empty even length, got %d", rate, len(pcm))
		}
		// Allow one frame of slack for decoder priming.
		want := frames * 1152 * rate / 44100
		slack := 1152*rate/44100 + 1
		if got := len(pcm) / 2; got < want-slack || got > want {
			t.Fatalf("rate %d: expected about %d samples, got %d", rate, want, got)
		}
		for i, s := range audio.BytesToInt16(pcm) {
			if s != 0 {
				t.Fatalf("rate %d: expected silence, sample %d = %d", rate, i, s)
			}
		}
	}
}

func TestNativeRejectsMalformedMP3(t *testing.T) {
	_, err := NewNative().Transcode(context.Background(), []byte("ID3\x03\x00garbage"), 16000)
	var tErr *Error
	if !errors.As(err, &tErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
}

func TestSniff(t *testing.T) {
	if sniff([]byte("RIFF\x00\x00\x00\x00WAVEfmt ")) != containerWAV {
		t.Fatal("expected wav")
	}
	if sniff([]byte("ID3\x04")) != containerMP3 {
		t.Fatal("expected mp3 with id3 tag")
	}
	if sniff([]byte{0xFF, 0xFB, 0x90}) != containerMP3 {
		t.Fatal("expected mp3 frame sync")
	}
	if sniff([]byte("fLaC")) != containerUnknown {
		t.Fatal("expected unknown")
	}
}

func TestNewFromConfig(t *testing.T) {
	tc, err := New(config.TranscoderConfig{Mode: "native"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tc.(*Native); !ok {
		t.Fatalf("expected native transcoder, got %T", tc)
	}
	tc, err = New(config.TranscoderConfig{Mode: "ffmpeg", Command: "ffmpeg -loglevel error"})
	if err != nil {
		t.Fatal(err)
	}
	ff, ok := tc.(*FFmpeg)
	if !ok {
		t.Fatalf("expected ffmpeg transcoder, got %T", tc)
	}
	args := ff.args(22050)
	if args[0] != "-loglevel" || args[len(args)-2] != "22050" || args[len(args)-1] != "pipe:1" {
		t.Fatalf("unexpected ffmpeg args: %v", args)
	}
	if _, err := New(config.TranscoderConfig{Mode: "sox"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestFFmpegEmptyCommand(t *testing.T) {
	if _, err := NewFFmpeg("   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestFFmpegTranscode(t *testing.T) {
	ff, err := NewFFmpeg("ffmpeg -hide_banner -loglevel error")
	if err != nil {
		t.Fatal(err)
	}
	if err := ff.Available(); err != nil {
		t.Skip(err)
	}
	pcm, err := ff.Transcode(context.Background(), wavFixture(t, 24000, 1, 0.2), 16000)
	if err != nil {
		t.Fatalf("transcode: %v", err)
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		t.Fatalf("expected non-empty even output, got %d bytes", len(pcm))
	}
}
