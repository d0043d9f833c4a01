package synthesis

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-voice-relay/internal/config"
)

// StatusConfig is the non-secret configuration exposed by /status.
type StatusConfig struct {
	SampleRates       []int  `json:"sampleRates"`
	DefaultVoice      string `json:"defaultVoice"`
	Model             string `json:"model"`
	ResponseFormat    string `json:"responseFormat"`
	Provider          string `json:"provider"`
	Transcoder        string `json:"transcoder"`
	RequestTimeoutMS  int    `json:"requestTimeoutMs"`
	ProviderTimeoutMS int    `json:"providerTimeoutMs"`
}

// InFlight describes one request that has not been answered yet.
type InFlight struct {
	RequestID string    `json:"requestId"`
	StartedAt time.Time `json:"startedAt"`
	AgeMS     int64     `json:"ageMs"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status         string       `json:"status"`
	ActiveRequests int          `json:"activeRequests"`
	Requests       []InFlight   `json:"requests"`
	Config         StatusConfig `json:"config"`
}

// Status reports the relay's current load and configuration.
func (s *Service) Status() StatusResponse {
	now := time.Now()
	snap := s.tracker.Snapshot()
	inflight := make([]InFlight, 0, len(snap))
	for _, rec := range snap {
		inflight = append(inflight, InFlight{
			RequestID: rec.ID,
			StartedAt: rec.StartedAt.UTC(),
			AgeMS:     now.Sub(rec.StartedAt).Milliseconds(),
		})
	}
	return StatusResponse{
		Status:         "operational",
		ActiveRequests: len(inflight),
		Requests:       inflight,
		Config: StatusConfig{
			SampleRates:       config.SupportedSampleRates,
			DefaultVoice:      s.cfg.Synthesis.DefaultVoice,
			Model:             s.cfg.Provider.Model,
			ResponseFormat:    s.cfg.Provider.ResponseFormat,
			Provider:          s.provider.Name(),
			Transcoder:        s.cfg.Transcoder.Mode,
			RequestTimeoutMS:  s.cfg.Synthesis.RequestTimeoutMS,
			ProviderTimeoutMS: s.cfg.Provider.TimeoutMS,
		},
	}
}

// HandleStatus serves GET /status.
func (s *Service) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		_ = writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}
	if err := writeJSON(w, http.StatusOK, s.Status()); err != nil {
		s.logger.Warn("failed to write status response", slog.String("error", err.Error()))
	}
}
