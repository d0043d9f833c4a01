package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice-relay/internal/config"
)

func testConfig(endpoint string) config.ProviderConfig {
	return config.ProviderConfig{
		Mode:           "openai",
		Endpoint:       endpoint,
		APIKey:         "sk-test",
		Model:          "tts-1",
		ResponseFormat: "wav",
		Speed:          1.0,
		TimeoutMS:      2000,
	}
}

func TestOpenAISynthesize(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF....WAVE"))
	}))
	defer srv.Close()

	p := NewOpenAI(testConfig(srv.URL + "/v1/"))
	out, err := p.Synthesize(context.Background(), Request{Text: "hello", Voice: "nova"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(out.Data) != "RIFF....WAVE" || out.Format != "wav" {
		t.Fatalf("unexpected audio %+v", out)
	}
	if got.Model != "tts-1" || got.Voice != "nova" || got.Input != "hello" || got.ResponseFormat != "wav" || got.Speed != 1.0 {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestOpenAIModelOverride(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte{1, 2})
	}))
	defer srv.Close()

	p := NewOpenAI(testConfig(srv.URL))
	if _, err := p.Synthesize(context.Background(), Request{Text: "x", Voice: "alloy", Model: "tts-1-hd"}); err != nil {
		t.Fatal(err)
	}
	if got.Model != "tts-1-hd" {
		t.Fatalf("expected model override, got %s", got.Model)
	}
}

func TestOpenAIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid voice","code":"invalid_voice"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI(testConfig(srv.URL)).Synthesize(context.Background(), Request{Text: "x", Voice: "nope"})
	var pErr *ProviderError
	if !errors.As(err, &pErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pErr.StatusCode != http.StatusBadRequest || pErr.Code != "invalid_voice" || pErr.Message != "invalid voice" {
		t.Fatalf("unexpected provider error %+v", pErr)
	}
}

func TestOpenAIPlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOpenAI(testConfig(srv.URL)).Synthesize(context.Background(), Request{Text: "x"})
	var pErr *ProviderError
	if !errors.As(err, &pErr) || pErr.Message != "upstream exploded" {
		t.Fatalf("expected raw body as message, got %v", err)
	}
}

func TestOpenAIEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewOpenAI(testConfig(srv.URL)).Synthesize(context.Background(), Request{Text: "x"})
	if !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestOpenAITimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.TimeoutMS = 50
	start := time.Now()
	_, err := NewOpenAI(cfg).Synthesize(context.Background(), Request{Text: "x"})
	if !errors.Is(err, ErrProviderTimeout) {
		t.Fatalf("expected ErrProviderTimeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestMockProviderReturnsWAV(t *testing.T) {
	p := NewMockProvider(0)
	out, err := p.Synthesize(context.Background(), Request{Text: "Hello, this is a test."})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Data) <= 44 || string(out.Data[:4]) != "RIFF" {
		t.Fatalf("expected WAV payload, got %d bytes", len(out.Data))
	}
}

func TestMockProviderHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockProvider(time.Second).Synthesize(ctx, Request{Text: "x"}); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestNewProvider(t *testing.T) {
	if _, err := New(config.ProviderConfig{Mode: "mock"}); err != nil {
		t.Fatal(err)
	}
	if p, err := New(testConfig("http://localhost")); err != nil || p.Name() != "openai" {
		t.Fatalf("expected openai provider, got %v %v", p, err)
	}
	if _, err := New(config.ProviderConfig{Mode: "polly"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
