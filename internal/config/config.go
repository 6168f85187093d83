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

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Tier       string            `yaml:"tier"`
	Attributes map[string]string `yaml:"attributes"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ModelsConfig struct {
	Dir          string `yaml:"dir"`
	Model        string `yaml:"model"`
	AutoDownload bool   `yaml:"auto_download"`
}

type STTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"` // native, exec, mock
	Command        string `yaml:"command"`
	Language       string `yaml:"language"`
	Threads        int    `yaml:"threads"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	PartialEveryMS int    `yaml:"partial_every_ms"`
	EmitPartials   bool   `yaml:"emit_partials"`
	MaxBufferSecs  int    `yaml:"max_buffer_secs"`
}

type DiarizeConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Mode        string `yaml:"mode"` // exec, mock
	Command     string `yaml:"command"`
	MinSpeakers int    `yaml:"min_speakers"`
	MaxSpeakers int    `yaml:"max_speakers"`
}

type AttributionConfig struct {
	Enabled       bool `yaml:"enabled"`
	WaitTimeoutMS int  `yaml:"wait_timeout_ms"`
}

type RefineConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Mode        string  `yaml:"mode"` // mock, ollama, exec
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type PluginsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Directory    string `yaml:"directory"`
	Concurrency  int    `yaml:"max_concurrency"`
	AuditPrivacy string `yaml:"audit_privacy_scope"`
}

type Config struct {
	DaemonName  string            `yaml:"daemon_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Node        NodeConfig        `yaml:"node"`
	Store       StoreConfig       `yaml:"store"`
	Models      ModelsConfig      `yaml:"models"`
	STT         STTConfig         `yaml:"stt"`
	Diarize     DiarizeConfig     `yaml:"diarize"`
	Attribution AttributionConfig `yaml:"attribution"`
	Refine      RefineConfig      `yaml:"refine"`
	Plugins     PluginsConfig     `yaml:"plugins"`
}

func Default() Config {
	return Config{
		DaemonName:  "whisperd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
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
		Node: NodeConfig{
			ID:                "whisperd-node-1",
			Role:              "transcriber",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities: []NodeCapability{
				{Name: "stt.whisper", Tier: "balanced"},
			},
		},
		Store: StoreConfig{
			Path:          "./data/whisperd.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Models: ModelsConfig{
			Dir:          "./models",
			Model:        "base-q5",
			AutoDownload: false,
		},
		STT: STTConfig{
			Enabled:        true,
			Mode:           "mock",
			Language:       "auto",
			SampleRate:     16000,
			Channels:       1,
			PartialEveryMS: 800,
			EmitPartials:   true,
			MaxBufferSecs:  300,
		},
		Diarize: DiarizeConfig{
			Enabled: false,
			Mode:    "mock",
		},
		Attribution: AttributionConfig{
			Enabled:       true,
			WaitTimeoutMS: 5000,
		},
		Refine: RefineConfig{
			Enabled:     false,
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   512,
			Temperature: 0.2,
		},
		Plugins: PluginsConfig{
			Enabled:      false,
			Directory:    "./plugins",
			Concurrency:  4,
			AuditPrivacy: "internal",
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
	overrideString(&cfg.DaemonName, "WHISPERD_NAME")
	overrideString(&cfg.Environment, "WHISPERD_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "WHISPERD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "WHISPERD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "WHISPERD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "WHISPERD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "WHISPERD_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "WHISPERD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "WHISPERD_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "WHISPERD_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "WHISPERD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "WHISPERD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "WHISPERD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "WHISPERD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "WHISPERD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "WHISPERD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "WHISPERD_NODE_ID")
	overrideString(&cfg.Node.Role, "WHISPERD_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "WHISPERD_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "WHISPERD_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "WHISPERD_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "WHISPERD_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "WHISPERD_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "WHISPERD_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "WHISPERD_STORE_VACUUM_ON_START")
	overrideString(&cfg.Models.Dir, "WHISPERD_MODELS_DIR")
	overrideString(&cfg.Models.Model, "WHISPERD_MODELS_MODEL")
	overrideBool(&cfg.Models.AutoDownload, "WHISPERD_MODELS_AUTO_DOWNLOAD")
	overrideBool(&cfg.STT.Enabled, "WHISPERD_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "WHISPERD_STT_MODE")
	overrideString(&cfg.STT.Command, "WHISPERD_STT_COMMAND")
	overrideString(&cfg.STT.Language, "WHISPERD_STT_LANGUAGE")
	overrideInt(&cfg.STT.Threads, "WHISPERD_STT_THREADS")
	overrideInt(&cfg.STT.SampleRate, "WHISPERD_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "WHISPERD_STT_CHANNELS")
	overrideInt(&cfg.STT.PartialEveryMS, "WHISPERD_STT_PARTIAL_EVERY_MS")
	overrideBool(&cfg.STT.EmitPartials, "WHISPERD_STT_EMIT_PARTIALS")
	overrideInt(&cfg.STT.MaxBufferSecs, "WHISPERD_STT_MAX_BUFFER_SECS")
	overrideBool(&cfg.Diarize.Enabled, "WHISPERD_DIARIZE_ENABLED")
	overrideString(&cfg.Diarize.Mode, "WHISPERD_DIARIZE_MODE")
	overrideString(&cfg.Diarize.Command, "WHISPERD_DIARIZE_COMMAND")
	overrideInt(&cfg.Diarize.MinSpeakers, "WHISPERD_DIARIZE_MIN_SPEAKERS")
	overrideInt(&cfg.Diarize.MaxSpeakers, "WHISPERD_DIARIZE_MAX_SPEAKERS")
	overrideBool(&cfg.Attribution.Enabled, "WHISPERD_ATTRIBUTION_ENABLED")
	overrideInt(&cfg.Attribution.WaitTimeoutMS, "WHISPERD_ATTRIBUTION_WAIT_TIMEOUT_MS")
	overrideBool(&cfg.Refine.Enabled, "WHISPERD_REFINE_ENABLED")
	overrideString(&cfg.Refine.Mode, "WHISPERD_REFINE_MODE")
	overrideString(&cfg.Refine.Endpoint, "WHISPERD_REFINE_ENDPOINT")
	overrideString(&cfg.Refine.Command, "WHISPERD_REFINE_COMMAND")
	overrideString(&cfg.Refine.Model, "WHISPERD_REFINE_MODEL")
	overrideInt(&cfg.Refine.MaxTokens, "WHISPERD_REFINE_MAX_TOKENS")
	overrideFloat(&cfg.Refine.Temperature, "WHISPERD_REFINE_TEMPERATURE")
	overrideBool(&cfg.Plugins.Enabled, "WHISPERD_PLUGINS_ENABLED")
	overrideString(&cfg.Plugins.Directory, "WHISPERD_PLUGINS_DIRECTORY")
	overrideInt(&cfg.Plugins.Concurrency, "WHISPERD_PLUGINS_MAX_CONCURRENCY")
	overrideString(&cfg.Plugins.AuditPrivacy, "WHISPERD_PLUGINS_AUDIT_PRIVACY_SCOPE")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

func validate(cfg Config) error {
	if cfg.DaemonName == "" {
		return errors.New("daemon_name must not be empty")
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
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if len(cfg.Node.Capabilities) == 0 {
		return errors.New("node.capabilities must not be empty")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "native", "exec", "mock":
		default:
			return errors.New("stt.mode must be one of native|exec|mock")
		}
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
		if cfg.STT.Mode == "native" && cfg.Models.Model == "" {
			return errors.New("models.model must be set when stt.mode=native")
		}
	}
	if cfg.Diarize.Enabled {
		switch cfg.Diarize.Mode {
		case "exec", "mock":
		default:
			return errors.New("diarize.mode must be one of exec|mock")
		}
		if cfg.Diarize.Mode == "exec" && cfg.Diarize.Command == "" {
			return errors.New("diarize.command must be set when mode=exec")
		}
		if cfg.Diarize.MaxSpeakers > 0 && cfg.Diarize.MinSpeakers > cfg.Diarize.MaxSpeakers {
			return errors.New("diarize.min_speakers must not exceed diarize.max_speakers")
		}
	}
	if cfg.Attribution.Enabled && cfg.Attribution.WaitTimeoutMS <= 0 {
		return errors.New("attribution.wait_timeout_ms must be positive")
	}
	if cfg.Refine.Enabled {
		switch cfg.Refine.Mode {
		case "mock", "ollama", "exec":
		default:
			return errors.New("refine.mode must be one of mock|ollama|exec")
		}
		if cfg.Refine.Mode == "ollama" && cfg.Refine.Endpoint == "" {
			return errors.New("refine.endpoint must be set when mode=ollama")
		}
		if cfg.Refine.Mode == "exec" && cfg.Refine.Command == "" {
			return errors.New("refine.command must be set when mode=exec")
		}
		if cfg.Refine.MaxTokens < 0 {
			return errors.New("refine.max_tokens must be >= 0")
		}
	}
	if cfg.Plugins.Enabled {
		if cfg.Plugins.Directory == "" {
			return errors.New("plugins.directory must not be empty when plugins are enabled")
		}
		if cfg.Plugins.Concurrency <= 0 {
			return errors.New("plugins.max_concurrency must be >= 1")
		}
		if cfg.Plugins.AuditPrivacy == "" {
			return errors.New("plugins.audit_privacy_scope must not be empty")
		}
	}
	if cfg.Models.Dir == "" {
		return errors.New("models.dir must not be empty")
	}
	return nil
}
