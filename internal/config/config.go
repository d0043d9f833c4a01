package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	LogMaxSizeMB   int    `yaml:"log_max_size_mb"`
	LogMaxBackups  int    `yaml:"log_max_backups"`
	LogMaxAgeDays  int    `yaml:"log_max_age_days"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Auth        AuthConfig       `yaml:"auth"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Provider    ProviderConfig   `yaml:"provider"`
	Transcoder  TranscoderConfig `yaml:"transcoder"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

type AuthConfig struct {
	SharedSecret string `yaml:"shared_secret"`
}

type SynthesisConfig struct {
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
	DefaultVoice     string `yaml:"default_voice"`
	MaxBodyBytes     int64  `yaml:"max_body_bytes"`
}

type ProviderConfig struct {
	Mode           string  `yaml:"mode"` // openai, mock
	Endpoint       string  `yaml:"endpoint"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	ResponseFormat string  `yaml:"response_format"`
	Speed          float64 `yaml:"speed"`
	TimeoutMS      int     `yaml:"timeout_ms"`
}

type TranscoderConfig struct {
	Mode    string `yaml:"mode"` // native, ffmpeg
	Command string `yaml:"command"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRequests   int    `yaml:"max_requests"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// SupportedSampleRates is the canonical set of PCM output rates.
var SupportedSampleRates = []int{8000, 16000, 22050, 24000, 44100}

func Default() Config {
	return Config{
		RuntimeName: "loqa-voice-relay",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 3000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogMaxSizeMB:   64,
			LogMaxBackups:  3,
			LogMaxAgeDays:  7,
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Synthesis: SynthesisConfig{
			RequestTimeoutMS: 30000,
			DefaultVoice:     "alloy",
			MaxBodyBytes:     1 << 20,
		},
		Provider: ProviderConfig{
			Mode:           "openai",
			Endpoint:       "https://api.openai.com/v1",
			Model:          "tts-1",
			ResponseFormat: "wav",
			Speed:          1.0,
			TimeoutMS:      25000,
		},
		Transcoder: TranscoderConfig{
			Mode:    "native",
			Command: "ffmpeg -hide_banner -loglevel error",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/relay-events.db",
			RetentionMode: "ephemeral",
			RetentionDays: 7,
			MaxRequests:   50000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFile, "LOQA_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Auth.SharedSecret, "LOQA_AUTH_SHARED_SECRET")
	overrideInt(&cfg.Synthesis.RequestTimeoutMS, "LOQA_SYNTHESIS_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Synthesis.DefaultVoice, "LOQA_SYNTHESIS_DEFAULT_VOICE")
	overrideString(&cfg.Provider.Mode, "LOQA_PROVIDER_MODE")
	overrideString(&cfg.Provider.Endpoint, "LOQA_PROVIDER_ENDPOINT")
	overrideString(&cfg.Provider.APIKey, "LOQA_PROVIDER_API_KEY")
	overrideString(&cfg.Provider.Model, "LOQA_PROVIDER_MODEL")
	overrideString(&cfg.Provider.ResponseFormat, "LOQA_PROVIDER_RESPONSE_FORMAT")
	overrideFloat(&cfg.Provider.Speed, "LOQA_PROVIDER_SPEED")
	overrideInt(&cfg.Provider.TimeoutMS, "LOQA_PROVIDER_TIMEOUT_MS")
	overrideString(&cfg.Transcoder.Mode, "LOQA_TRANSCODER_MODE")
	overrideString(&cfg.Transcoder.Command, "LOQA_TRANSCODER_COMMAND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRequests, "LOQA_EVENT_STORE_MAX_REQUESTS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("telemetry.log_level %q must be one of debug|info|warn|error", cfg.Telemetry.LogLevel)
	}
	if cfg.Synthesis.RequestTimeoutMS <= 0 {
		return errors.New("synthesis.request_timeout_ms must be positive")
	}
	if strings.TrimSpace(cfg.Synthesis.DefaultVoice) == "" {
		return errors.New("synthesis.default_voice must not be empty")
	}
	if cfg.Synthesis.MaxBodyBytes <= 0 {
		return errors.New("synthesis.max_body_bytes must be positive")
	}
	switch cfg.Provider.Mode {
	case "openai":
		if cfg.Provider.Endpoint == "" {
			return errors.New("provider.endpoint must be set when mode=openai")
		}
	case "mock":
	default:
		return errors.New("provider.mode must be one of openai|mock")
	}
	if cfg.Provider.Model == "" {
		return errors.New("provider.model must not be empty")
	}
	if cfg.Provider.Speed < 0.25 || cfg.Provider.Speed > 4.0 {
		return errors.New("provider.speed must be between 0.25 and 4.0")
	}
	if cfg.Provider.TimeoutMS <= 0 {
		return errors.New("provider.timeout_ms must be positive")
	}
	if cfg.Provider.TimeoutMS >= cfg.Synthesis.RequestTimeoutMS {
		return errors.New("provider.timeout_ms must be shorter than synthesis.request_timeout_ms")
	}
	switch cfg.Transcoder.Mode {
	case "native":
		switch strings.ToLower(cfg.Provider.ResponseFormat) {
		case "wav", "mp3":
		default:
			return fmt.Errorf("provider.response_format %q must be wav or mp3 when transcoder.mode=native", cfg.Provider.ResponseFormat)
		}
	case "ffmpeg":
		if strings.TrimSpace(cfg.Transcoder.Command) == "" {
			return errors.New("transcoder.command must be set when mode=ffmpeg")
		}
	default:
		return errors.New("transcoder.mode must be one of native|ffmpeg")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}
