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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName   string              `yaml:"runtime_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Bus           BusConfig           `yaml:"bus"`
	Capture       CaptureConfig       `yaml:"capture"`
	VAD           VADConfig           `yaml:"vad"`
	Recording     RecordingConfig     `yaml:"recording"`
	STT           STTConfig           `yaml:"stt"`
	TTS           TTSConfig           `yaml:"tts"`
	AnswerStore   AnswerStoreConfig   `yaml:"answer_store"`
	Questionnaire QuestionnaireConfig `yaml:"questionnaire"`
	Session       SessionConfig       `yaml:"session"`
}

type BusConfig struct {
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

type CaptureConfig struct {
	HeartbeatTimeout int `yaml:"heartbeat_timeout_ms"`
	FrameBuffer      int `yaml:"frame_buffer"`
}

type VADConfig struct {
	EnergyThreshold float64 `yaml:"energy_threshold"`
	SustainedFrames int     `yaml:"sustained_frames"`
	SilenceWindowMS int     `yaml:"silence_window_ms"`
	CheckIntervalMS int     `yaml:"check_interval_ms"`
}

type RecordingConfig struct {
	MinPayloadBytes int `yaml:"min_payload_bytes"`
	MaxUtteranceMS  int `yaml:"max_utterance_ms"`
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // mock, http, exec
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Command   string `yaml:"command"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	CacheDir   string `yaml:"cache_dir"`
}

type AnswerStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxAttempts   int    `yaml:"max_attempts"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type QuestionnaireConfig struct {
	Directory       string `yaml:"directory"`
	DefaultFile     string `yaml:"default_file"`
	DefaultLanguage string `yaml:"default_language"`
}

type SessionConfig struct {
	Confirmation       string `yaml:"confirmation"` // explicit, implicit
	ConfirmTimeoutMS   int    `yaml:"confirm_timeout_ms"`
	PlaybackTimeoutMS  int    `yaml:"playback_timeout_ms"`
	MaxQuestionRetries int    `yaml:"max_question_retries"`
	SaveRetries        int    `yaml:"save_retries"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxquest-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			HeartbeatTimeout: 6000,
			FrameBuffer:      64,
		},
		VAD: VADConfig{
			EnergyThreshold: 30,
			SustainedFrames: 3,
			SilenceWindowMS: 1300,
			CheckIntervalMS: 100,
		},
		Recording: RecordingConfig{
			MinPayloadBytes: 2048,
			MaxUtteranceMS:  120000,
			SampleRate:      16000,
			Channels:        1,
		},
		STT: STTConfig{
			Mode:      "mock",
			Language:  "de",
			TimeoutMS: 45000,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			SampleRate: 22050,
			Channels:   1,
			CacheDir:   "./data/prompt-audio",
		},
		AnswerStore: AnswerStoreConfig{
			Path:          "./data/voxquest-answers.db",
			RetentionDays: 30,
			MaxAttempts:   10000,
		},
		Questionnaire: QuestionnaireConfig{
			Directory:       "./questionnaires",
			DefaultFile:     "example_questionnaire.json",
			DefaultLanguage: "de",
		},
		Session: SessionConfig{
			Confirmation:       "explicit",
			ConfirmTimeoutMS:   30000,
			PlaybackTimeoutMS:  30000,
			MaxQuestionRetries: 0,
			SaveRetries:        2,
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
	overrideString(&cfg.RuntimeName, "VOXQUEST_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXQUEST_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXQUEST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXQUEST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXQUEST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXQUEST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXQUEST_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "VOXQUEST_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXQUEST_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VOXQUEST_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VOXQUEST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXQUEST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXQUEST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXQUEST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXQUEST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXQUEST_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Capture.HeartbeatTimeout, "VOXQUEST_CAPTURE_HEARTBEAT_TIMEOUT_MS")
	overrideInt(&cfg.Capture.FrameBuffer, "VOXQUEST_CAPTURE_FRAME_BUFFER")
	overrideFloat(&cfg.VAD.EnergyThreshold, "VOXQUEST_VAD_ENERGY_THRESHOLD")
	overrideInt(&cfg.VAD.SustainedFrames, "VOXQUEST_VAD_SUSTAINED_FRAMES")
	overrideInt(&cfg.VAD.SilenceWindowMS, "VOXQUEST_VAD_SILENCE_WINDOW_MS")
	overrideInt(&cfg.VAD.CheckIntervalMS, "VOXQUEST_VAD_CHECK_INTERVAL_MS")
	overrideInt(&cfg.Recording.MinPayloadBytes, "VOXQUEST_RECORDING_MIN_PAYLOAD_BYTES")
	overrideInt(&cfg.Recording.MaxUtteranceMS, "VOXQUEST_RECORDING_MAX_UTTERANCE_MS")
	overrideInt(&cfg.Recording.SampleRate, "VOXQUEST_RECORDING_SAMPLE_RATE")
	overrideInt(&cfg.Recording.Channels, "VOXQUEST_RECORDING_CHANNELS")
	overrideString(&cfg.STT.Mode, "VOXQUEST_STT_MODE")
	overrideString(&cfg.STT.Endpoint, "VOXQUEST_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "VOXQUEST_STT_API_KEY")
	overrideString(&cfg.STT.Command, "VOXQUEST_STT_COMMAND")
	overrideString(&cfg.STT.Language, "VOXQUEST_STT_LANGUAGE")
	overrideInt(&cfg.STT.TimeoutMS, "VOXQUEST_STT_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "VOXQUEST_TTS_MODE")
	overrideString(&cfg.TTS.Command, "VOXQUEST_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "VOXQUEST_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "VOXQUEST_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "VOXQUEST_TTS_CHANNELS")
	overrideString(&cfg.TTS.CacheDir, "VOXQUEST_TTS_CACHE_DIR")
	overrideString(&cfg.AnswerStore.Path, "VOXQUEST_ANSWER_STORE_PATH")
	overrideInt(&cfg.AnswerStore.RetentionDays, "VOXQUEST_ANSWER_STORE_RETENTION_DAYS")
	overrideInt(&cfg.AnswerStore.MaxAttempts, "VOXQUEST_ANSWER_STORE_MAX_ATTEMPTS")
	overrideBool(&cfg.AnswerStore.VacuumOnStart, "VOXQUEST_ANSWER_STORE_VACUUM_ON_START")
	overrideString(&cfg.Questionnaire.Directory, "VOXQUEST_QUESTIONNAIRE_DIRECTORY")
	overrideString(&cfg.Questionnaire.DefaultFile, "VOXQUEST_QUESTIONNAIRE_DEFAULT_FILE")
	overrideString(&cfg.Questionnaire.DefaultLanguage, "VOXQUEST_QUESTIONNAIRE_DEFAULT_LANGUAGE")
	overrideString(&cfg.Session.Confirmation, "VOXQUEST_SESSION_CONFIRMATION")
	overrideInt(&cfg.Session.ConfirmTimeoutMS, "VOXQUEST_SESSION_CONFIRM_TIMEOUT_MS")
	overrideInt(&cfg.Session.PlaybackTimeoutMS, "VOXQUEST_SESSION_PLAYBACK_TIMEOUT_MS")
	overrideInt(&cfg.Session.MaxQuestionRetries, "VOXQUEST_SESSION_MAX_QUESTION_RETRIES")
	overrideInt(&cfg.Session.SaveRetries, "VOXQUEST_SESSION_SAVE_RETRIES")
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Capture.HeartbeatTimeout <= 0 {
		return errors.New("capture.heartbeat_timeout_ms must be positive")
	}
	if cfg.Capture.FrameBuffer <= 0 {
		return errors.New("capture.frame_buffer must be positive")
	}
	if cfg.VAD.EnergyThreshold < 0 || cfg.VAD.EnergyThreshold > 255 {
		return errors.New("vad.energy_threshold must be within the 0-255 energy scale")
	}
	if cfg.VAD.SustainedFrames <= 0 {
		return errors.New("vad.sustained_frames must be >= 1")
	}
	if cfg.VAD.SilenceWindowMS <= 0 {
		return errors.New("vad.silence_window_ms must be positive")
	}
	if cfg.VAD.CheckIntervalMS <= 0 {
		return errors.New("vad.check_interval_ms must be positive")
	}
	if cfg.Recording.MinPayloadBytes < 0 {
		return errors.New("recording.min_payload_bytes must be >= 0")
	}
	if cfg.Recording.MaxUtteranceMS <= cfg.VAD.SilenceWindowMS {
		return errors.New("recording.max_utterance_ms must be greater than vad.silence_window_ms")
	}
	if cfg.Recording.SampleRate <= 0 {
		return errors.New("recording.sample_rate must be positive")
	}
	if cfg.Recording.Channels <= 0 {
		return errors.New("recording.channels must be positive")
	}
	switch cfg.STT.Mode {
	case "mock", "http", "exec":
	default:
		return errors.New("stt.mode must be one of mock|http|exec")
	}
	if cfg.STT.Mode == "http" && cfg.STT.Endpoint == "" {
		return errors.New("stt.endpoint must be set when mode=http")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.TTS.CacheDir == "" {
		return errors.New("tts.cache_dir must not be empty")
	}
	if cfg.AnswerStore.Path == "" {
		return errors.New("answer_store.path must not be empty")
	}
	if cfg.AnswerStore.RetentionDays < 0 {
		return errors.New("answer_store.retention_days must be >= 0")
	}
	if cfg.Questionnaire.Directory == "" {
		return errors.New("questionnaire.directory must not be empty")
	}
	if cfg.Questionnaire.DefaultLanguage == "" {
		return errors.New("questionnaire.default_language must not be empty")
	}
	switch cfg.Session.Confirmation {
	case "explicit", "implicit":
	default:
		return errors.New("session.confirmation must be one of explicit|implicit")
	}
	if cfg.Session.ConfirmTimeoutMS <= 0 {
		return errors.New("session.confirm_timeout_ms must be positive")
	}
	if cfg.Session.PlaybackTimeoutMS <= 0 {
		return errors.New("session.playback_timeout_ms must be positive")
	}
	if cfg.Session.MaxQuestionRetries < 0 {
		return errors.New("session.max_question_retries must be >= 0")
	}
	if cfg.Session.SaveRetries < 0 {
		return errors.New("session.save_retries must be >= 0")
	}
	return nil
}
