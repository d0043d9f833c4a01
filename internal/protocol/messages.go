package protocol

import "time"

// SynthesisEvent is published on the bus at each request lifecycle transition.
type SynthesisEvent struct {
	RequestID  string    `json:"request_id"`
	Outcome    string    `json:"outcome"`
	Status     int       `json:"status,omitempty"`
	Voice      string    `json:"voice,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	TextLength int       `json:"text_length,omitempty"`
	PCMBytes   int       `json:"pcm_bytes,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	OutcomeStarted   = "started"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
)

const (
	SubjectSynthesisPrefix    = "relay.synthesis"
	SubjectSynthesisStarted   = SubjectSynthesisPrefix + "." + OutcomeStarted
	SubjectSynthesisCompleted = SubjectSynthesisPrefix + "." + OutcomeCompleted
	SubjectSynthesisFailed    = SubjectSynthesisPrefix + "." + OutcomeFailed
	SubjectSynthesisTimeout   = SubjectSynthesisPrefix + "." + OutcomeTimeout
)

// SubjectFor maps an outcome to its bus subject.
func SubjectFor(outcome string) string {
	return SubjectSynthesisPrefix + "." + outcome
}
