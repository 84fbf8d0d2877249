package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

var (
	// ErrUnknownKey is returned by SetField for keys outside Keys.
	ErrUnknownKey = errors.New("unknown profile key")
	// ErrInvalidValue is returned by SetField for values of the wrong shape.
	ErrInvalidValue = errors.New("invalid profile value")
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SetProfileKey(key, value string) error
	GetAllProfileKeys() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached, structured access to the subject profile.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Profile
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
	}
}

// GetProfile assembles a Profile from storage or the cache. An empty store
// yields a zero-value Profile.
func (m *Manager) GetProfile() (Profile, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		p := deepCopyProfile(m.cached)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return deepCopyProfile(m.cached), nil
	}

	keys, err := m.store.GetAllProfileKeys()
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile keys: %w", err)
	}

	p := buildProfile(keys)
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return deepCopyProfile(&p), nil
}

// SetField validates and persists one profile key, then invalidates the
// cache. List keys accept a JSON array, a []string, or a comma separated
// string. Numeric keys must parse as numbers.
func (m *Manager) SetField(key string, value any) error {
	if !slices.Contains(Keys, key) {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	str, err := encodeField(key, value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetProfileKey(key, str); err != nil {
		return fmt.Errorf("setting profile key %q: %w", key, err)
	}

	m.cached = nil
	return nil
}

func encodeField(key string, value any) (string, error) {
	switch key {
	case KeyConditions, KeyMedications:
		var list []string
		switch v := value.(type) {
		case []string:
			list = v
		case []any:
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return "", fmt.Errorf("%s items must be strings, got %T", key, item)
				}
				list = append(list, s)
			}
		case string:
			if strings.HasPrefix(strings.TrimSpace(v), "[") {
				if err := json.Unmarshal([]byte(v), &list); err != nil {
					return "", fmt.Errorf("parsing %s: %w", key, err)
				}
				break
			}
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					list = append(list, item)
				}
			}
		default:
			return "", fmt.Errorf("%s must be a list, got %T", key, value)
		}
		if list == nil {
			list = []string{}
		}
		b, err := json.Marshal(list)
		if err != nil {
			return "", fmt.Errorf("marshalling value for key %q: %w", key, err)
		}
		return string(b), nil

	case KeyAge, KeyHRLow, KeyHRHigh, KeySleepTarget:
		var s string
		switch v := value.(type) {
		case string:
			s = strings.TrimSpace(v)
		case int:
			s = strconv.Itoa(v)
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return "", fmt.Errorf("%s must be a number, got %T", key, value)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 {
			return "", fmt.Errorf("%s must be a non-negative number, got %q", key, s)
		}
		return s, nil
	}

	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, value)
	}
	return strings.TrimSpace(s), nil
}

// GetSummary returns a compact description of the subject for prompt
// composition. Targets < 500 tokens (~2000 chars).
func (m *Manager) GetSummary() (string, error) {
	p, err := m.GetProfile()
	if err != nil {
		return "", fmt.Errorf("getting profile for summary: %w", err)
	}
	return Summarize(p), nil
}

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

// Summarize renders p as a few short sentences.
func Summarize(p Profile) string {
	var parts []string

	switch {
	case p.Name != "" && p.Age > 0:
		parts = append(parts, fmt.Sprintf("Subject: %s, %d years old.", p.Name, p.Age))
	case p.Name != "":
		parts = append(parts, fmt.Sprintf("Subject: %s.", p.Name))
	case p.Age > 0:
		parts = append(parts, fmt.Sprintf("Subject: %d years old.", p.Age))
	}
	if len(p.Conditions) > 0 {
		parts = append(parts, fmt.Sprintf("Conditions: %s.", strings.Join(p.Conditions, ", ")))
	}
	if len(p.Medications) > 0 {
		parts = append(parts, fmt.Sprintf("Medications: %s.", strings.Join(p.Medications, ", ")))
	}
	if b := p.Baseline; b.RestingHRLow > 0 || b.RestingHRHigh > 0 {
		parts = append(parts, fmt.Sprintf("Resting heart rate %g-%g bpm.", b.RestingHRLow, b.RestingHRHigh))
	}
	if p.Baseline.SleepTargetHours > 0 {
		parts = append(parts, fmt.Sprintf("Sleep target %g hours.", p.Baseline.SleepTargetHours))
	}
	if c := p.EmergencyContact; c.Name != "" {
		contact := c.Name
		if c.Relation != "" {
			contact += " (" + c.Relation + ")"
		}
		parts = append(parts, fmt.Sprintf("Family contact: %s.", contact))
	}
	if p.Language != "" {
		parts = append(parts, fmt.Sprintf("Reply in %s.", p.Language))
	}

	if len(parts) == 0 {
		return "Subject profile: not yet configured."
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		// Ensure we don't split a multi-byte UTF-8 character.
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

func deepCopyProfile(p *Profile) Profile {
	if p == nil {
		return Profile{}
	}
	cp := *p
	cp.Conditions = slices.Clone(p.Conditions)
	cp.Medications = slices.Clone(p.Medications)
	return cp
}

// buildProfile assembles a Profile from flat key-value pairs. List values are
// stored as JSON arrays, numbers as decimal text.
func buildProfile(keys map[string]string) Profile {
	var p Profile

	p.Name = keys[KeyName]
	p.Language = keys[KeyLanguage]
	p.EmergencyContact = Contact{
		Name:     keys[KeyContactName],
		Relation: keys[KeyContactRelation],
		Phone:    keys[KeyContactPhone],
	}

	if age := parseNumber(keys, KeyAge); age > 0 {
		p.Age = int(age)
	}
	p.Baseline = Baseline{
		RestingHRLow:     parseNumber(keys, KeyHRLow),
		RestingHRHigh:    parseNumber(keys, KeyHRHigh),
		SleepTargetHours: parseNumber(keys, KeySleepTarget),
	}

	unmarshalProfileKey(keys, KeyConditions, &p.Conditions)
	unmarshalProfileKey(keys, KeyMedications, &p.Medications)

	return p
}

func parseNumber(keys map[string]string, key string) float64 {
	v, ok := keys[key]
	if !ok || v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("malformed profile key, skipping", "key", key, "error", err)
		return 0
	}
	return f
}

// unmarshalProfileKey unmarshals a JSON value from keys into target, logging
// a warning if the value is present but malformed.
func unmarshalProfileKey(keys map[string]string, key string, target any) {
	v, ok := keys[key]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		slog.Warn("malformed profile key, skipping", "key", key, "error", err)
	}
}
