package tts

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyAudio is returned when the provider answers 2xx with no body.
	ErrEmptyAudio = errors.New("provider returned no audio")

	// ErrAudioTooLarge is returned when the body exceeds the read limit.
	ErrAudioTooLarge = errors.New("provider audio exceeds size limit")

	// ErrProviderTimeout is returned when the provider call exceeds its timeout.
	ErrProviderTimeout = errors.New("provider request timed out")
)

// ProviderError carries upstream failure detail.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Provider
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }
