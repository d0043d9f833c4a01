package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voice-relay/internal/bus"
	"github.com/loqalabs/loqa-voice-relay/internal/config"
	"github.com/loqalabs/loqa-voice-relay/internal/eventstore"
	"github.com/loqalabs/loqa-voice-relay/internal/natsserver"
	"github.com/loqalabs/loqa-voice-relay/internal/synthesis"
	"github.com/loqalabs/loqa-voice-relay/internal/tracker"
	"github.com/loqalabs/loqa-voice-relay/internal/transcode"
	"github.com/loqalabs/loqa-voice-relay/internal/tts"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	metrics       http.Handler
	tracerClose   func(context.Context) error
	ready         atomic.Bool

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	events   *eventstore.Store
	tracker  *tracker.Tracker
	service  *synthesis.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metrics = metricsHandler

	if err := r.assemble(ctx); err != nil {
		r.teardown(context.Background())
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if r.metrics != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", r.metrics)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(r.httpServer)
	})
	if r.metricsServer != nil {
		g.Go(func() error {
			return serve(r.metricsServer)
		})
		r.logger.Info("metrics server started", slog.String("addr", r.metricsServer.Addr))
	}
	g.Go(func() error {
		r.pruneLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		var errs []error
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if r.metricsServer != nil {
			if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	err = g.Wait()
	if err != nil {
		r.logger.Error("runtime server error", slog.String("error", err.Error()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	r.teardown(shutdownCtx)
	return err
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return nil
}

// assemble builds the relay's collaborators in dependency order.
func (r *Runtime) assemble(ctx context.Context) error {
	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.events = store

	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		embedded, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats-server")))
		if err != nil {
			return fmt.Errorf("failed to start embedded nats: %w", err)
		}
		r.embedded = embedded
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		r.bus = client
	}

	provider, err := tts.New(r.cfg.Provider)
	if err != nil {
		return fmt.Errorf("failed to build tts provider: %w", err)
	}
	transcoder, err := transcode.New(r.cfg.Transcoder)
	if err != nil {
		return fmt.Errorf("failed to build transcoder: %w", err)
	}
	if ff, ok := transcoder.(*transcode.FFmpeg); ok {
		if err := ff.Available(); err != nil {
			r.logger.Warn("ffmpeg transcoder unavailable, requests will fail", slog.String("error", err.Error()))
		}
	}

	r.tracker = tracker.New(r.logger)
	r.service = synthesis.NewService(r.cfg, provider, transcoder, r.tracker, r.bus, r.events, r.logger)
	r.logger.Info("synthesis pipeline ready",
		slog.String("provider", provider.Name()),
		slog.String("transcoder", r.cfg.Transcoder.Mode),
		slog.Any("sample_rates", config.SupportedSampleRates),
	)
	return nil
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/synthesize", r.service.HandleSynthesize)
	mux.HandleFunc("/status", r.service.HandleStatus)
	return otelhttp.NewHandler(mux, r.cfg.RuntimeName)
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.events.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// teardown releases collaborators in reverse order. In-flight pipeline
// workers are drained before the bus and event store close.
func (r *Runtime) teardown(ctx context.Context) {
	if r.service != nil {
		r.service.Wait()
	}
	r.bus.Close()
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if err := r.events.Close(); err != nil {
		r.logger.Error("event store close error", slog.String("error", err.Error()))
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (!r.cfg.Bus.Enabled || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
