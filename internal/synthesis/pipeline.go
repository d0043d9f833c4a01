// Package synthesis implements the /synthesize pipeline: authenticate,
// validate, select a voice, call the TTS provider, transcode to PCM and send
// exactly one response before the request deadline.
package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voice-relay/internal/bus"
	"github.com/loqalabs/loqa-voice-relay/internal/config"
	"github.com/loqalabs/loqa-voice-relay/internal/eventstore"
	"github.com/loqalabs/loqa-voice-relay/internal/protocol"
	"github.com/loqalabs/loqa-voice-relay/internal/tracker"
	"github.com/loqalabs/loqa-voice-relay/internal/transcode"
	"github.com/loqalabs/loqa-voice-relay/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// HeaderRequestID echoes the tracker id on every tracked response.
const HeaderRequestID = "X-Request-Id"

const instrumentationName = "github.com/loqalabs/loqa-voice-relay/synthesis"

// Timeline event types written to the event store.
const (
	EventBegun     = "begun"
	EventResponded = "responded"
	EventFailed    = "failed"
	EventTimedOut  = "timed_out"
	EventDiscarded = "late_result_discarded"
)

var errOddPCM = errors.New("transcoder returned odd-length PCM")

// Service owns the synthesis pipeline and its collaborators.
type Service struct {
	cfg        config.Config
	provider   tts.Provider
	transcoder transcode.Transcoder
	tracker    *tracker.Tracker
	bus        *bus.Client
	events     *eventstore.Store
	logger     *slog.Logger
	timeout    time.Duration

	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram

	wg sync.WaitGroup
}

// NewService wires the pipeline. busClient and events may be nil.
func NewService(cfg config.Config, provider tts.Provider, transcoder transcode.Transcoder, track *tracker.Tracker, busClient *bus.Client, events *eventstore.Store, log *slog.Logger) *Service {
	s := &Service{
		cfg:        cfg,
		provider:   provider,
		transcoder: transcoder,
		tracker:    track,
		bus:        busClient,
		events:     events,
		logger:     log.With(slog.String("component", "synthesis")),
		timeout:    time.Duration(cfg.Synthesis.RequestTimeoutMS) * time.Millisecond,
		tracer:     otel.Tracer(instrumentationName),
	}
	if err := s.initMetrics(otel.Meter(instrumentationName)); err != nil {
		s.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

func (s *Service) initMetrics(meter metric.Meter) error {
	var err error
	s.requests, err = meter.Int64Counter("relay.requests.total", metric.WithDescription("Synthesis requests by outcome"))
	if err != nil {
		return err
	}
	s.duration, err = meter.Float64Histogram("relay.request.duration", metric.WithDescription("Synthesis request latency"), metric.WithUnit("ms"))
	return err
}

// Wait blocks until every pipeline worker has returned, including workers
// whose request already timed out.
func (s *Service) Wait() {
	s.wg.Wait()
}

// call carries the per-request state shared by the handler and its worker.
type call struct {
	id    string
	req   Request
	voice string
	start time.Time
	log   *slog.Logger
}

type result struct {
	pcm []byte
	err *Error
}

// HandleSynthesize serves POST /synthesize.
func (s *Service) HandleSynthesize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		_ = writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}

	if err := Authenticate(r, s.cfg.Auth.SharedSecret); err != nil {
		s.logger.Warn("rejected request", slog.String("remote", r.RemoteAddr), slog.String("error", err.Error()))
		s.reject(r.Context(), w, asError(err), start)
		return
	}

	body, err := s.readBody(w, r)
	if err != nil {
		s.logger.Warn("failed to read request body", slog.String("error", err.Error()))
		s.reject(r.Context(), w, validationError(ReasonMalformed, msgInvalidBody), start)
		return
	}
	req, err := Validate(body, config.SupportedSampleRates)
	if err != nil {
		s.logger.Warn("invalid synthesis request", slog.String("error", err.Error()))
		s.reject(r.Context(), w, asError(err), start)
		return
	}

	id := uuid.NewString()
	if err := s.tracker.Begin(id, body); err != nil {
		s.logger.Error("failed to track request", slog.String("request_id", id), slog.String("error", err.Error()))
		_ = writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error", RequestID: id})
		return
	}
	defer s.tracker.End(id)
	w.Header().Set(HeaderRequestID, id)

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "relay.synthesize",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("request.id", id),
			attribute.Int("audio.sample_rate", req.SampleRate),
		),
	)
	defer span.End()

	c := call{
		id:    id,
		req:   req,
		voice: SelectVoice(req.Assistant, s.cfg.Synthesis.DefaultVoice),
		start: start,
		log:   s.logger.With(slog.String("request_id", id)),
	}
	span.SetAttributes(attribute.String("tts.voice", c.voice))
	s.begin(ctx, c)

	resp := newResponder(w)
	// The worker hands its result over only while the handler is still
	// waiting; once abandoned is closed every late result is discarded.
	results := make(chan result)
	abandoned := make(chan struct{})
	defer close(abandoned)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.run(ctx, c)
		select {
		case results <- res:
		case <-abandoned:
			s.discard(c, res)
		}
	}()

	select {
	case res := <-results:
		switch {
		case res.err == nil:
			s.respondAudio(ctx, span, resp, c, res.pcm)
		case res.err.Kind == KindTimeout || errors.Is(ctx.Err(), context.DeadlineExceeded):
			s.respondTimeout(ctx, span, resp, c)
		default:
			s.respondError(ctx, span, resp, c, res.err)
		}
	case <-ctx.Done():
		s.respondTimeout(ctx, span, resp, c)
	}
}

func (s *Service) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	reader := io.Reader(r.Body)
	if limit := s.cfg.Synthesis.MaxBodyBytes; limit > 0 {
		reader = http.MaxBytesReader(w, r.Body, limit)
	}
	return io.ReadAll(reader)
}

// run executes the provider and transcoder stages. Panics are reported as
// errors of the stage that was executing.
func (s *Service) run(ctx context.Context, c call) (res result) {
	stage := KindProvider
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic: %v", p)
			c.log.Error("synthesis worker panicked", slog.String("stage", stage.String()), slog.String("error", err.Error()))
			if stage == KindTranscode {
				res = result{err: transcodeError(c.id, err)}
			} else {
				res = result{err: providerError(c.id, err)}
			}
		}
	}()

	audio, err := s.synthesize(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return result{err: timeoutError(c.id, err)}
		}
		return result{err: providerError(c.id, err)}
	}
	if err := ctx.Err(); err != nil {
		return result{err: timeoutError(c.id, err)}
	}

	stage = KindTranscode
	pcm, err := s.transcode(ctx, c, audio)
	if err != nil {
		if ctx.Err() != nil {
			return result{err: timeoutError(c.id, err)}
		}
		return result{err: transcodeError(c.id, err)}
	}
	return result{pcm: pcm}
}

func (s *Service) synthesize(ctx context.Context, c call) (tts.Audio, error) {
	ctx, span := s.tracer.Start(ctx, "tts.synthesize", trace.WithAttributes(
		attribute.String("tts.provider", s.provider.Name()),
		attribute.String("tts.voice", c.voice),
		attribute.Int("tts.text_length", len(c.req.Text)),
	))
	defer span.End()

	audio, err := s.provider.Synthesize(ctx, tts.Request{Text: c.req.Text, Voice: c.voice, Model: s.cfg.Provider.Model})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return tts.Audio{}, err
	}
	span.SetAttributes(attribute.Int("tts.audio_bytes", len(audio.Data)))
	c.log.Debug("provider returned audio", slog.Int("bytes", len(audio.Data)), slog.String("format", audio.Format))
	return audio, nil
}

func (s *Service) transcode(ctx context.Context, c call, audio tts.Audio) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "audio.transcode", trace.WithAttributes(
		attribute.Int("audio.sample_rate", c.req.SampleRate),
		attribute.Int("audio.input_bytes", len(audio.Data)),
	))
	defer span.End()

	pcm, err := s.transcoder.Transcode(ctx, audio.Data, c.req.SampleRate)
	if err == nil && len(pcm)%2 != 0 {
		err = errOddPCM
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("audio.pcm_bytes", len(pcm)))
	return pcm, nil
}

func (s *Service) respondAudio(ctx context.Context, span trace.Span, resp *responder, c call, pcm []byte) {
	sent, err := resp.audio(pcm)
	if !sent {
		c.log.Warn("response already sent, dropping audio")
		return
	}
	if err != nil {
		c.log.Warn("failed to write audio response", slog.String("error", err.Error()))
	}
	span.SetStatus(codes.Ok, "")
	c.log.Info("synthesis completed",
		slog.String("voice", c.voice),
		slog.Int("sample_rate", c.req.SampleRate),
		slog.Int("pcm_bytes", len(pcm)),
		slog.Duration("elapsed", time.Since(c.start)),
	)
	s.record(ctx, c, protocol.OutcomeCompleted, EventResponded, http.StatusOK, len(pcm), nil)
}

func (s *Service) respondError(ctx context.Context, span trace.Span, resp *responder, c call, e *Error) {
	sent, err := resp.fail(e)
	if !sent {
		c.log.Warn("response already sent, dropping error", slog.String("error", e.Error()))
		return
	}
	if err != nil {
		c.log.Warn("failed to write error response", slog.String("error", err.Error()))
	}
	span.RecordError(e)
	span.SetStatus(codes.Error, e.Message)
	c.log.Error("synthesis failed", slog.String("kind", e.Kind.String()), slog.String("error", e.Error()))
	s.record(ctx, c, protocol.OutcomeFailed, EventFailed, e.Status(), 0, e)
}

func (s *Service) respondTimeout(ctx context.Context, span trace.Span, resp *responder, c call) {
	e := timeoutError(c.id, context.Cause(ctx))
	sent, err := resp.fail(e)
	if !sent {
		return
	}
	if err != nil {
		c.log.Warn("failed to write timeout response", slog.String("error", err.Error()))
	}
	span.SetStatus(codes.Error, msgTimeout)
	c.log.Warn("synthesis timed out", slog.Duration("elapsed", time.Since(c.start)), slog.String("error", e.Error()))
	s.record(ctx, c, protocol.OutcomeTimeout, EventTimedOut, e.Status(), 0, e)
}

// discard logs a worker result that lost the race against the deadline.
func (s *Service) discard(c call, res result) {
	attrs := []any{slog.Int("pcm_bytes", len(res.pcm))}
	if res.err != nil {
		attrs = append(attrs, slog.String("error", res.err.Error()))
	}
	c.log.Info("discarding late synthesis result", attrs...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.events.AppendEvent(ctx, eventstore.Event{RequestID: c.id, Type: EventDiscarded}); err != nil {
		c.log.Warn("failed to append event", slog.String("error", err.Error()))
	}
}

func (s *Service) reject(ctx context.Context, w http.ResponseWriter, e *Error, start time.Time) {
	if err := writeJSON(w, e.Status(), e.response()); err != nil {
		s.logger.Warn("failed to write error response", slog.String("error", err.Error()))
	}
	s.observe(ctx, "rejected", e.Status(), start)
}

func (s *Service) begin(ctx context.Context, c call) {
	evt := protocol.SynthesisEvent{
		RequestID:  c.id,
		Outcome:    protocol.OutcomeStarted,
		Voice:      c.voice,
		SampleRate: c.req.SampleRate,
		TextLength: len(c.req.Text),
		Timestamp:  c.start.UTC(),
	}
	if err := s.bus.PublishSynthesis(evt); err != nil {
		c.log.Warn("failed to publish synthesis event", slog.String("error", err.Error()))
	}

	storeCtx := context.WithoutCancel(ctx)
	err := s.events.BeginRequest(storeCtx, eventstore.Request{
		ID:         c.id,
		Voice:      c.voice,
		SampleRate: c.req.SampleRate,
		TextLength: len(c.req.Text),
		StartedAt:  c.start,
	})
	if err == nil {
		err = s.appendEvent(storeCtx, EventBegun, evt)
	}
	if err != nil {
		c.log.Warn("failed to record request start", slog.String("error", err.Error()))
	}
}

// record fans out the terminal outcome to metrics, the bus and the event store.
func (s *Service) record(ctx context.Context, c call, outcome, eventType string, status, pcmBytes int, cause error) {
	s.observe(ctx, outcome, status, c.start)

	evt := protocol.SynthesisEvent{
		RequestID:  c.id,
		Outcome:    outcome,
		Status:     status,
		Voice:      c.voice,
		SampleRate: c.req.SampleRate,
		TextLength: len(c.req.Text),
		PCMBytes:   pcmBytes,
		DurationMS: time.Since(c.start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	if err := s.bus.PublishSynthesis(evt); err != nil {
		c.log.Warn("failed to publish synthesis event", slog.String("error", err.Error()))
	}

	storeCtx := context.WithoutCancel(ctx)
	err := s.events.FinishRequest(storeCtx, c.id, outcome, status)
	if err == nil {
		err = s.appendEvent(storeCtx, eventType, evt)
	}
	if err != nil {
		c.log.Warn("failed to record request outcome", slog.String("error", err.Error()))
	}
}

func (s *Service) appendEvent(ctx context.Context, eventType string, evt protocol.SynthesisEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return s.events.AppendEvent(ctx, eventstore.Event{RequestID: evt.RequestID, Type: eventType, Payload: payload})
}

func (s *Service) observe(ctx context.Context, outcome string, status int, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("status", status),
	)
	if s.requests != nil {
		s.requests.Add(ctx, 1, attrs)
	}
	if s.duration != nil {
		s.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	}
}

func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindProvider, Message: "Internal server error", Err: err}
}
