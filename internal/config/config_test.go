package config

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	data map[string]string
}

func newMemBackend(kv map[string]string) *memBackend {
	if kv == nil {
		kv = map[string]string{}
	}
	return &memBackend{data: kv}
}

func (b *memBackend) Get(key string) (string, bool, error) {
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *memBackend) Set(key, val string) error {
	b.data[key] = val
	return nil
}

func (b *memBackend) Delete(key string) error {
	delete(b.data, key)
	return nil
}

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	mu      sync.Mutex
	secrets map[string]string
	setErr  error
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.secrets[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	if m.secrets == nil {
		m.secrets = map[string]string{}
	}
	m.secrets[service+"/"+account] = value
	return nil
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend(nil), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Subject.ID != "user_001" {
		t.Errorf("Subject.ID = %q, want user_001", cfg.Subject.ID)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "tcp://broker.hivemq.com:1883" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.MQTT.SensorTopic != "ierg6200/health/monitor1" || cfg.MQTT.OutputTopic != "ierg6200/health/llmoutput" {
		t.Errorf("MQTT topics = %+v", cfg.MQTT)
	}
	if cfg.Reminders.TriggerInterval != 30*time.Second {
		t.Errorf("TriggerInterval = %v, want 30s", cfg.Reminders.TriggerInterval)
	}
	if cfg.Transport.PublishTimeout != 5*time.Second {
		t.Errorf("PublishTimeout = %v, want 5s", cfg.Transport.PublishTimeout)
	}
	if cfg.Risk.HighCutoff != 7 || cfg.Risk.MediumCutoff != 4 {
		t.Errorf("Risk = %+v", cfg.Risk)
	}
	if cfg.Generation.Backend != BackendOllama {
		t.Errorf("Generation.Backend = %q", cfg.Generation.Backend)
	}
	if cfg.Retrieval.TopK != 4 {
		t.Errorf("Retrieval.TopK = %d, want 4", cfg.Retrieval.TopK)
	}
}

func TestBackendValues(t *testing.T) {
	b := newMemBackend(map[string]string{
		"server.port":                "5000",
		"subject.name":               "Mrs. Chan",
		"mqtt.enabled":               "false",
		"reminders.trigger_interval": "10s",
		"generation.backend":         "template",
		"risk.high_cutoff":           "6.5",
		"risk.medium_cutoff":         "3.5",
	})

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Subject.Name != "Mrs. Chan" {
		t.Errorf("Subject.Name = %q", cfg.Subject.Name)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled should be false")
	}
	if cfg.Reminders.TriggerInterval != 10*time.Second {
		t.Errorf("TriggerInterval = %v", cfg.Reminders.TriggerInterval)
	}
	if cfg.Generation.Backend != BackendTemplate {
		t.Errorf("Generation.Backend = %q", cfg.Generation.Backend)
	}
	if cfg.Risk.HighCutoff != 6.5 || cfg.Risk.MediumCutoff != 3.5 {
		t.Errorf("Risk = %+v, want cutoffs 6.5/3.5", cfg.Risk)
	}
}

func TestRiskCutoffFromEnvKeepsFraction(t *testing.T) {
	t.Setenv("CAREWATCH_RISK_MEDIUM_CUTOFF", "4.25")

	cfg, err := loadWith(newMemBackend(nil), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Risk.MediumCutoff != 4.25 {
		t.Errorf("MediumCutoff = %g, want 4.25", cfg.Risk.MediumCutoff)
	}
	if err := setKeyWith(newMemBackend(nil), "risk.high_cutoff", "7.5"); err != nil {
		t.Errorf("setKeyWith fractional cutoff: %v", err)
	}
}

func TestBackendUnparseableValueKeepsDefault(t *testing.T) {
	b := newMemBackend(map[string]string{"weather.timeout": "soon"})
	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Weather.Timeout != 5*time.Second {
		t.Errorf("Weather.Timeout = %v, want default 5s", cfg.Weather.Timeout)
	}
}

func TestEnvOverride(t *testing.T) {
	b := newMemBackend(map[string]string{"server.port": "5000", "subject.id": "file-user"})

	t.Setenv("CAREWATCH_SERVER_PORT", "6000")
	t.Setenv("CAREWATCH_SUBJECT_ID", "env-user")
	t.Setenv("CAREWATCH_TRANSPORT_PUBLISH_TIMEOUT", "2s")
	t.Setenv("CAREWATCH_RISK_HIGH_CUTOFF", "not-a-number")

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Subject.ID != "env-user" {
		t.Errorf("Subject.ID = %q", cfg.Subject.ID)
	}
	if cfg.Transport.PublishTimeout != 2*time.Second {
		t.Errorf("PublishTimeout = %v", cfg.Transport.PublishTimeout)
	}
	if cfg.Risk.HighCutoff != 7 {
		t.Errorf("unparseable env should keep default, got %g", cfg.Risk.HighCutoff)
	}
}

func TestCloudBackendRequiresAPIKey(t *testing.T) {
	t.Setenv("CAREWATCH_GENERATION_BACKEND", "cloud")
	t.Setenv("CAREWATCH_CLOUD_API_KEY", "")

	_, err := loadWith(newMemBackend(nil), &mockKeychain{})
	if err == nil || !strings.Contains(err.Error(), "missing required config") {
		t.Fatalf("err = %v, want missing required config", err)
	}
}

func TestCloudAPIKeySources(t *testing.T) {
	t.Setenv("CAREWATCH_GENERATION_BACKEND", "cloud")
	t.Setenv("CAREWATCH_CLOUD_API_KEY", "")

	kc := &mockKeychain{secrets: map[string]string{"carewatch/cloud_api_key": "keychain-secret"}}
	cfg, err := loadWith(newMemBackend(nil), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cloud.APIKey != "keychain-secret" {
		t.Errorf("APIKey = %q, want keychain value", cfg.Cloud.APIKey)
	}

	t.Setenv("CAREWATCH_CLOUD_API_KEY", "env-key")
	cfg, err = loadWith(newMemBackend(nil), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cloud.APIKey != "env-key" {
		t.Errorf("APIKey = %q, env should win", cfg.Cloud.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"CAREWATCH_GENERATION_BACKEND": "gpu"}},
		{"inverted cutoffs", map[string]string{"CAREWATCH_RISK_HIGH_CUTOFF": "3"}},
		{"zero medium cutoff", map[string]string{"CAREWATCH_RISK_MEDIUM_CUTOFF": "0"}},
		{"fractional inverted cutoffs", map[string]string{"CAREWATCH_RISK_HIGH_CUTOFF": "3.9"}},
		{"nan cutoff", map[string]string{"CAREWATCH_RISK_HIGH_CUTOFF": "NaN"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := loadWith(newMemBackend(nil), &mockKeychain{}); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestGetAPIToken(t *testing.T) {
	kc := &mockKeychain{}

	first, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(first) != 36 {
		t.Errorf("token %q does not look like a uuid", first)
	}

	second, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if second != first {
		t.Errorf("token changed between calls: %q then %q", first, second)
	}
}

func TestGetAPIToken_StoreFailure(t *testing.T) {
	kc := &mockKeychain{setErr: errors.New("locked")}
	if _, err := GetAPIToken(kc); err == nil {
		t.Error("expected error when the token cannot be stored")
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend(nil)

	if err := setKeyWith(b, "server.port", "4200"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if err := setKeyWith(b, "reminders.trigger_interval", "1m"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 || cfg.Reminders.TriggerInterval != time.Minute {
		t.Errorf("cfg = %+v %+v", cfg.Server, cfg.Reminders)
	}

	if err := setKeyWith(b, "server.port", "high"); err == nil {
		t.Error("expected error for invalid integer")
	}
	if err := setKeyWith(b, "mqtt.enabled", "maybe"); err == nil {
		t.Error("expected error for invalid bool")
	}
	if err := setKeyWith(b, "cloud.api_key", "x"); err == nil {
		t.Error("expected error for secret key")
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	if err := unsetKeyWith(b, "server.port"); err != nil {
		t.Fatalf("unsetKeyWith: %v", err)
	}
	if cfg, _ := loadWith(b, &mockKeychain{}); cfg.Server.Port != 4100 {
		t.Errorf("unset key should fall back to default, got %d", cfg.Server.Port)
	}
	if err := unsetKeyWith(b, "cloud.api_key"); err == nil {
		t.Error("expected error for secret key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Cloud.APIKey = "sk-secret"
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "cloud.api_key" || ki.Value == "sk-secret" {
			t.Errorf("secret leaked: %+v", ki)
		}
	}
	if len(ValidKeys()) != len(specs)-1 {
		t.Errorf("ValidKeys = %d, want %d", len(ValidKeys()), len(specs)-1)
	}
}

func TestCORSOriginList(t *testing.T) {
	got := ServerConfig{CORSOrigins: " http://a.test, ,http://b.test"}.CORSOriginList()
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Errorf("CORSOriginList = %v", got)
	}
}
