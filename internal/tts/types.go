package tts

import "context"

// Request contains parameters to synthesize speech.
type Request struct {
	Text  string
	Voice string
	Model string
}

// Audio is the encoded provider output, e.g. a WAV container.
type Audio struct {
	Data   []byte
	Format string
}

// Provider is the contract for an external text-to-speech service.
// Synthesize returns either the complete encoded buffer or an error.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (Audio, error)
}
