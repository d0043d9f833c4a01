package tts

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-voice-relay/internal/config"
)

// New returns the provider selected by cfg.Mode.
func New(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Mode {
	case "openai":
		return NewOpenAI(cfg), nil
	case "mock":
		return NewMockProvider(50 * time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown provider mode %q", cfg.Mode)
	}
}
