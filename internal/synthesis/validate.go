package synthesis

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// MessageTypeVoiceRequest is the only accepted message type.
const MessageTypeVoiceRequest = "voice-request"

// AssistantContext is the optional assistant block of a request.
type AssistantContext struct {
	Voice string `json:"voice,omitempty"`
}

// Request is a validated synthesis request.
type Request struct {
	Text       string
	SampleRate int
	Assistant  *AssistantContext
}

type inboundPayload struct {
	Message *inboundMessage `json:"message"`
}

type inboundMessage struct {
	Type       string            `json:"type"`
	Text       string            `json:"text"`
	SampleRate int               `json:"sampleRate"`
	Assistant  *AssistantContext `json:"assistant,omitempty"`
}

// Validate decodes body and checks it against the accepted sample rates.
// Checks run in order: shape, message type, text, sample rate.
func Validate(body []byte, rates []int) (Request, error) {
	var payload inboundPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message == nil {
		return Request{}, validationError(ReasonMalformed, msgInvalidBody)
	}
	msg := payload.Message
	if msg.Type != MessageTypeVoiceRequest {
		return Request{}, validationError(ReasonMissingType, msgInvalidType)
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return Request{}, validationError(ReasonEmptyText, msgEmptyText)
	}
	if !slices.Contains(rates, msg.SampleRate) {
		err := validationError(ReasonUnsupportedRate, fmt.Sprintf("Unsupported sample rate: %d", msg.SampleRate))
		err.SupportedRates = slices.Clone(rates)
		return Request{}, err
	}
	return Request{Text: text, SampleRate: msg.SampleRate, Assistant: msg.Assistant}, nil
}
