// Package transcode converts provider audio into raw mono PCM16 at a target
// sample rate.
package transcode

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-voice-relay/internal/config"
)

// Transcoder turns an encoded audio buffer into mono, signed 16-bit
// little-endian PCM at targetRate. The returned buffer is complete; its length
// is always a multiple of two.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte, targetRate int) ([]byte, error)
}

var (
	ErrEmptyInput         = errors.New("empty audio input")
	ErrUnsupportedFormat  = errors.New("unsupported audio format")
	ErrMalformedContainer = errors.New("malformed audio container")
)

// Kind classifies a transcoding failure.
type Kind string

const (
	KindMalformed   Kind = "malformed_input"
	KindUnsupported Kind = "unsupported_codec"
	KindConversion  Kind = "conversion_fault"
)

// Error is returned by every Transcoder implementation.
type Error struct {
	Kind    Kind
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s transcoder: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(backend string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Err: err}
}

// New builds the transcoder selected by cfg.Mode.
func New(cfg config.TranscoderConfig) (Transcoder, error) {
	switch cfg.Mode {
	case "", "native":
		return NewNative(), nil
	case "ffmpeg":
		return NewFFmpeg(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown transcoder mode %q", cfg.Mode)
	}
}
