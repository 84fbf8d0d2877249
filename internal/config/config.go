package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

const keychainService = "carewatch"

type Config struct {
	Server     ServerConfig
	Subject    SubjectConfig
	Storage    StorageConfig
	Log        LogConfig
	MQTT       MQTTConfig
	Reminders  RemindersConfig
	Transport  TransportConfig
	Risk       RiskConfig
	Weather    WeatherConfig
	Ollama     OllamaConfig
	Generation GenerationConfig
	Cloud      CloudConfig
	Retrieval  RetrievalConfig
}

type ServerConfig struct {
	Port        int
	CORSOrigins string
}

type SubjectConfig struct {
	ID   string
	Name string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type MQTTConfig struct {
	Enabled       bool
	Broker        string
	ClientID      string
	ReminderTopic string
	SensorTopic   string
	OutputTopic   string
}

type RemindersConfig struct {
	TriggerInterval time.Duration
}

type TransportConfig struct {
	PublishTimeout time.Duration
}

type RiskConfig struct {
	HighCutoff   float64
	MediumCutoff float64
}

type WeatherConfig struct {
	BaseURL string
	Timeout time.Duration
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type GenerationConfig struct {
	Backend string
}

type CloudConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type RetrievalConfig struct {
	TopK int
}

// Generation backends.
const (
	BackendOllama   = "ollama"
	BackendCloud    = "cloud"
	BackendTemplate = "template"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        4100,
			CORSOrigins: "*",
		},
		Subject: SubjectConfig{
			ID: "user_001",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		MQTT: MQTTConfig{
			Enabled:       true,
			Broker:        "tcp://broker.hivemq.com:1883",
			ReminderTopic: "ierg6200/health/reminders",
			SensorTopic:   "ierg6200/health/monitor1",
			OutputTopic:   "ierg6200/health/llmoutput",
		},
		Reminders: RemindersConfig{
			TriggerInterval: 30 * time.Second,
		},
		Transport: TransportConfig{
			PublishTimeout: 5 * time.Second,
		},
		Risk: RiskConfig{
			HighCutoff:   7,
			MediumCutoff: 4,
		},
		Weather: WeatherConfig{
			BaseURL: "https://data.weather.gov.hk/weatherAPI/opendata/weather.php",
			Timeout: 5 * time.Second,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		Generation: GenerationConfig{
			Backend: BackendOllama,
		},
		Cloud: CloudConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Retrieval: RetrievalConfig{
			TopK: 4,
		},
	}
}

// CORSOriginList splits server.cors_origins on commas.
func (c ServerConfig) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.carewatch.app) and
// secrets live in the login Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/carewatch/config.json
// and secrets live in $XDG_DATA_HOME/carewatch/secrets.json.
//
// Environment variables (CAREWATCH_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// Keychain abstracts the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Cloud.APIKey == "" {
		if key, err := kc.Get(keychainService, "cloud_api_key"); err == nil && key != "" {
			cfg.Cloud.APIKey = key
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Generation.Backend {
	case BackendOllama, BackendTemplate:
	case BackendCloud:
		if cfg.Cloud.APIKey == "" {
			return fmt.Errorf("missing required config: cloud API key for generation.backend=cloud. "+
				"Set it via environment variable CAREWATCH_CLOUD_API_KEY%s", apiKeyHint())
		}
	default:
		return fmt.Errorf("invalid generation.backend %q: want ollama, cloud or template", cfg.Generation.Backend)
	}
	if math.IsNaN(cfg.Risk.MediumCutoff) || math.IsNaN(cfg.Risk.HighCutoff) ||
		cfg.Risk.MediumCutoff <= 0 || cfg.Risk.HighCutoff <= cfg.Risk.MediumCutoff {
		return fmt.Errorf("invalid risk cutoffs: need 0 < risk.medium_cutoff (%g) < risk.high_cutoff (%g)",
			cfg.Risk.MediumCutoff, cfg.Risk.HighCutoff)
	}
	if cfg.Subject.ID == "" {
		return errors.New("missing required config: subject.id")
	}
	return nil
}

// GetAPIToken returns the bearer token for the local API, generating and
// storing one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if token, err := kc.Get(keychainService, "api_token"); err == nil && token != "" {
		return token, nil
	}
	token := uuid.NewString()
	if err := kc.Set(keychainService, "api_token", token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return token, nil
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
