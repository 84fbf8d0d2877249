package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CAREWATCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.cors_origins", typ: kString, env: "CAREWATCH_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigins },
	},
	{
		key: "subject.id", typ: kString, env: "CAREWATCH_SUBJECT_ID",
		apply:   func(cfg *Config, v any) { cfg.Subject.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.Subject.ID },
	},
	{
		key: "subject.name", typ: kString, env: "CAREWATCH_SUBJECT_NAME",
		apply:   func(cfg *Config, v any) { cfg.Subject.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Subject.Name },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CAREWATCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CAREWATCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "mqtt.enabled", typ: kBool, env: "CAREWATCH_MQTT_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.MQTT.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.MQTT.Enabled },
	},
	{
		key: "mqtt.broker", typ: kString, env: "CAREWATCH_MQTT_BROKER",
		apply:   func(cfg *Config, v any) { cfg.MQTT.Broker = v.(string) },
		extract: func(cfg Config) any { return cfg.MQTT.Broker },
	},
	{
		key: "mqtt.client_id", typ: kString, env: "CAREWATCH_MQTT_CLIENT_ID",
		apply:   func(cfg *Config, v any) { cfg.MQTT.ClientID = v.(string) },
		extract: func(cfg Config) any { return cfg.MQTT.ClientID },
	},
	{
		key: "mqtt.reminder_topic", typ: kString, env: "CAREWATCH_MQTT_REMINDER_TOPIC",
		apply:   func(cfg *Config, v any) { cfg.MQTT.ReminderTopic = v.(string) },
		extract: func(cfg Config) any { return cfg.MQTT.ReminderTopic },
	},
	{
		key: "mqtt.sensor_topic", typ: kString, env: "CAREWATCH_MQTT_SENSOR_TOPIC",
		apply:   func(cfg *Config, v any) { cfg.MQTT.SensorTopic = v.(string) },
		extract: func(cfg Config) any { return cfg.MQTT.SensorTopic },
	},
	{
		key: "mqtt.output_topic", typ: kString, env: "CAREWATCH_MQTT_OUTPUT_TOPIC",
		apply:   func(cfg *Config, v any) { cfg.MQTT.OutputTopic = v.(string) },
		extract: func(cfg Config) any { return cfg.MQTT.OutputTopic },
	},
	{
		key: "reminders.trigger_interval", typ: kDuration, env: "CAREWATCH_REMINDERS_TRIGGER_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Reminders.TriggerInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reminders.TriggerInterval },
	},
	{
		key: "transport.publish_timeout", typ: kDuration, env: "CAREWATCH_TRANSPORT_PUBLISH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Transport.PublishTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Transport.PublishTimeout },
	},
	{
		key: "risk.high_cutoff", typ: kFloat, env: "CAREWATCH_RISK_HIGH_CUTOFF",
		apply:   func(cfg *Config, v any) { cfg.Risk.HighCutoff = v.(float64) },
		extract: func(cfg Config) any { return cfg.Risk.HighCutoff },
	},
	{
		key: "risk.medium_cutoff", typ: kFloat, env: "CAREWATCH_RISK_MEDIUM_CUTOFF",
		apply:   func(cfg *Config, v any) { cfg.Risk.MediumCutoff = v.(float64) },
		extract: func(cfg Config) any { return cfg.Risk.MediumCutoff },
	},
	{
		key: "weather.base_url", typ: kString, env: "CAREWATCH_WEATHER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Weather.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Weather.BaseURL },
	},
	{
		key: "weather.timeout", typ: kDuration, env: "CAREWATCH_WEATHER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Weather.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Weather.Timeout },
	},
	{
		key: "ollama.base_url", typ: kString, env: "CAREWATCH_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "CAREWATCH_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "CAREWATCH_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "generation.backend", typ: kString, env: "CAREWATCH_GENERATION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Generation.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Backend },
	},
	{
		key: "cloud.base_url", typ: kString, env: "CAREWATCH_CLOUD_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Cloud.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cloud.BaseURL },
	},
	{
		key: "cloud.model", typ: kString, env: "CAREWATCH_CLOUD_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Cloud.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Cloud.Model },
	},
	{
		key: "cloud.api_key", typ: kString, env: "CAREWATCH_CLOUD_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Cloud.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Cloud.APIKey },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "CAREWATCH_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
}

// parseValue converts raw into the Go type of t.
func parseValue(t keyType, raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
