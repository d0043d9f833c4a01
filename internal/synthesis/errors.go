package synthesis

import (
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure and decides the HTTP status.
type Kind int

const (
	KindAuth Kind = iota + 1
	KindValidation
	KindProvider
	KindTranscode
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindProvider:
		return "provider"
	case KindTranscode:
		return "transcode"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Reason narrows a validation failure.
type Reason string

const (
	ReasonMalformed       Reason = "malformed"
	ReasonMissingType     Reason = "missing_type"
	ReasonEmptyText       Reason = "empty_text"
	ReasonUnsupportedRate Reason = "unsupported_rate"
)

const (
	msgUnauthorized    = "Unauthorized"
	msgInvalidBody     = "Invalid request body"
	msgInvalidType     = "Invalid message type"
	msgEmptyText       = "Empty text provided"
	msgSynthesisFailed = "TTS synthesis failed"
	msgTranscodeFailed = "Audio transcoding failed"
	msgTimeout         = "Request timeout"
)

// Error is the single error type surfaced by the pipeline. Message is the
// client-facing text; Err holds the underlying cause, if any.
type Error struct {
	Kind           Kind
	Reason         Reason
	Message        string
	RequestID      string
	SupportedRates []int
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the error kind to its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error          string `json:"error"`
	SupportedRates []int  `json:"supportedRates,omitempty"`
	RequestID      string `json:"requestId,omitempty"`
	Details        string `json:"details,omitempty"`
}

func (e *Error) response() errorResponse {
	resp := errorResponse{Error: e.Message, SupportedRates: e.SupportedRates}
	switch e.Kind {
	case KindProvider, KindTranscode:
		resp.RequestID = e.RequestID
		if e.Err != nil {
			resp.Details = e.Err.Error()
		}
	}
	return resp
}

func validationError(reason Reason, message string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: message}
}

func providerError(id string, err error) *Error {
	return &Error{Kind: KindProvider, Message: msgSynthesisFailed, RequestID: id, Err: err}
}

func transcodeError(id string, err error) *Error {
	return &Error{Kind: KindTranscode, Message: msgTranscodeFailed, RequestID: id, Err: err}
}

func timeoutError(id string, err error) *Error {
	return &Error{Kind: KindTimeout, Message: msgTimeout, RequestID: id, Err: err}
}
