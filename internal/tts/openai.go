package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-voice-relay/internal/config"
)

const (
	openAIName           = "openai"
	openAISpeechEndpoint = "/audio/speech"

	// maxAudioBytes bounds a single provider response.
	maxAudioBytes = 64 << 20
)

type openAIRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// OpenAIProvider calls an OpenAI-compatible /audio/speech endpoint.
type OpenAIProvider struct {
	endpoint string
	apiKey   string
	model    string
	format   string
	speed    float64
	timeout  time.Duration
	client   *http.Client
}

type OpenAIOption func(*OpenAIProvider)

// WithHTTPClient replaces the default client, e.g. for tests.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.client = client }
}

func NewOpenAI(cfg config.ProviderConfig, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		format:   cfg.ResponseFormat,
		speed:    cfg.Speed,
		timeout:  time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}
	if p.format == "" {
		p.format = "wav"
	}
	if p.speed == 0 {
		p.speed = 1.0
	}
	p.client = &http.Client{Timeout: p.timeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return openAIName }

func (p *OpenAIProvider) Synthesize(ctx context.Context, req Request) (Audio, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	body, err := json.Marshal(openAIRequest{
		Model:          model,
		Voice:          req.Voice,
		Input:          req.Text,
		ResponseFormat: p.format,
		Speed:          p.speed,
	})
	if err != nil {
		return Audio{}, p.fail(0, "", "encode request", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+openAISpeechEndpoint, bytes.NewReader(body))
	if err != nil {
		return Audio{}, p.fail(0, "", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Audio{}, p.fail(0, "", "request failed", p.classify(ctx, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Audio{}, p.handleError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return Audio{}, p.fail(resp.StatusCode, "", "read audio", p.classify(ctx, err))
	}
	if len(data) == 0 {
		return Audio{}, p.fail(resp.StatusCode, "", "empty body", ErrEmptyAudio)
	}
	if len(data) > maxAudioBytes {
		return Audio{}, p.fail(resp.StatusCode, "", "read audio", ErrAudioTooLarge)
	}
	return Audio{Data: data, Format: p.format}, nil
}

func (p *OpenAIProvider) handleError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errResp openAIErrorResponse
	if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Error.Message == "" {
		return p.fail(resp.StatusCode, "", strings.TrimSpace(string(raw)), nil)
	}
	return p.fail(resp.StatusCode, errResp.Error.Code, errResp.Error.Message, nil)
}

// classify maps deadline errors onto ErrProviderTimeout while keeping the
// original error in the chain.
func (p *OpenAIProvider) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrProviderTimeout, err)
	}
	return err
}

func (p *OpenAIProvider) fail(status int, code, message string, err error) *ProviderError {
	return &ProviderError{Provider: openAIName, StatusCode: status, Code: code, Message: message, Err: err}
}
