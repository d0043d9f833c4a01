package tts

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-voice-relay/internal/audio"
)

const (
	mockSampleRate  = 24000
	mockPerRune     = 40 * time.Millisecond
	mockMaxDuration = 10 * time.Second
)

type mockProvider struct {
	delay time.Duration
}

// NewMockProvider returns a provider that answers with a WAV tone whose
// length follows the text length.
func NewMockProvider(delay time.Duration) Provider {
	return &mockProvider{delay: delay}
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return Audio{}, &ProviderError{Provider: "mock", Message: "cancelled", Err: ctx.Err()}
		case <-time.After(m.delay):
		}
	}

	duration := time.Duration(utf8.RuneCountInString(req.Text)) * mockPerRune
	if duration > mockMaxDuration {
		duration = mockMaxDuration
	}
	samples := audio.Tone(mockSampleRate, duration.Seconds(), 440, 0.3)
	data, err := audio.EncodeWAV(samples, mockSampleRate, 1)
	if err != nil {
		return Audio{}, &ProviderError{Provider: "mock", Message: "encode tone", Err: err}
	}
	return Audio{Data: data, Format: "wav"}, nil
}
