package profile

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/carewatch/internal/storage"
)

// --- Mock store ---

type mockStore struct {
	mu   sync.Mutex
	data map[string]string

	getAllCalls int
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string)}
}

func (m *mockStore) SetProfileKey(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockStore) GetAllProfileKeys() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getAllCalls++
	cp := make(map[string]string, len(m.data))
	for k, v := range m.data {
		cp[k] = v
	}
	return cp, nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGetProfile_Empty(t *testing.T) {
	mgr := NewManager(newMockStore())

	p, err := mgr.GetProfile()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "" || p.Age != 0 {
		t.Errorf("expected empty identity, got %+v", p)
	}
	if len(p.Conditions) != 0 {
		t.Errorf("expected no conditions, got %v", p.Conditions)
	}
}

func TestSetAndGetField(t *testing.T) {
	mgr := NewManager(newMockStore())

	fields := map[string]any{
		KeyName:         "Mrs. Chan",
		KeyAge:          78,
		KeyConditions:   "hypertension, arthritis",
		KeyMedications:  []string{"amlodipine"},
		KeyContactName:  "Kelvin",
		KeyHRLow:        "55",
		KeyHRHigh:       95.0,
		KeySleepTarget:  "7.5",
		KeyContactPhone: "+852 5555 0101",
	}
	for k, v := range fields {
		if err := mgr.SetField(k, v); err != nil {
			t.Fatalf("SetField(%s): %v", k, err)
		}
	}

	p, err := mgr.GetProfile()
	if err != nil {
		t.Fatalf("GetProfile error: %v", err)
	}
	if p.Name != "Mrs. Chan" || p.Age != 78 {
		t.Errorf("identity = %q/%d", p.Name, p.Age)
	}
	if len(p.Conditions) != 2 || p.Conditions[1] != "arthritis" {
		t.Errorf("conditions = %v", p.Conditions)
	}
	if len(p.Medications) != 1 {
		t.Errorf("medications = %v", p.Medications)
	}
	if p.Baseline.RestingHRLow != 55 || p.Baseline.RestingHRHigh != 95 || p.Baseline.SleepTargetHours != 7.5 {
		t.Errorf("baseline = %+v", p.Baseline)
	}
	if p.EmergencyContact.Phone != "+852 5555 0101" {
		t.Errorf("contact = %+v", p.EmergencyContact)
	}
}

func TestSetField_Rejects(t *testing.T) {
	mgr := NewManager(newMockStore())

	if err := mgr.SetField("identity.role", "engineer"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("unknown key err = %v", err)
	}
	if err := mgr.SetField(KeyAge, "old"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("non-numeric age err = %v", err)
	}
	if err := mgr.SetField(KeyHRLow, "-3"); err == nil {
		t.Error("expected error for negative baseline")
	}
	if err := mgr.SetField(KeyConditions, 42); err == nil {
		t.Error("expected error for non-list conditions")
	}
	if err := mgr.SetField(KeyMedications, []any{"aspirin", 3}); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("mixed list err = %v", err)
	}
}

func TestSetField_DecodedJSONList(t *testing.T) {
	mgr := NewManager(newMockStore())
	if err := mgr.SetField(KeyMedications, []any{"aspirin", "metformin"}); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	p, err := mgr.GetProfile()
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if len(p.Medications) != 2 || p.Medications[1] != "metformin" {
		t.Errorf("medications = %v", p.Medications)
	}
}

func TestGetProfile_ReturnsCopy(t *testing.T) {
	mgr := NewManager(newMockStore())
	mgr.SetField(KeyConditions, []string{"diabetes"})

	p, _ := mgr.GetProfile()
	p.Conditions[0] = "mutated"

	again, _ := mgr.GetProfile()
	if again.Conditions[0] != "diabetes" {
		t.Errorf("cached profile was mutated: %v", again.Conditions)
	}
}

func TestGetSummary_Empty(t *testing.T) {
	summary, err := NewManager(newMockStore()).GetSummary()
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary == "" {
		t.Error("expected non-empty summary for empty profile")
	}
}

func TestGetSummary_Full(t *testing.T) {
	mgr := NewManager(newMockStore())

	mgr.SetField(KeyName, "Mrs. Chan")
	mgr.SetField(KeyAge, 78)
	mgr.SetField(KeyConditions, []string{"hypertension"})
	mgr.SetField(KeyContactName, "Kelvin")
	mgr.SetField(KeyContactRelation, "son")
	mgr.SetField(KeyLanguage, "Cantonese")

	summary, err := mgr.GetSummary()
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}

	for _, want := range []string{"Mrs. Chan, 78", "hypertension", "Kelvin (son)", "Cantonese"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q: %s", want, summary)
		}
	}
}

func TestGetSummary_TokenBudget(t *testing.T) {
	mgr := NewManager(newMockStore())

	conds := make([]string, 80)
	for i := range conds {
		conds[i] = "a long chronic condition description used to exercise the budget"
	}
	mgr.SetField(KeyConditions, conds)

	summary, _ := mgr.GetSummary()
	if tokens := len(summary) / 4; tokens >= 500 {
		t.Errorf("summary too long: %d estimated tokens (len=%d)", tokens, len(summary))
	}
}

func TestCacheTTL(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Now()}
	mgr := NewManagerWithClock(store, clock, 60*time.Second)

	mgr.SetField(KeyName, "Mrs. Chan")

	mgr.GetProfile()
	mgr.GetProfile()

	store.mu.Lock()
	calls := store.getAllCalls
	store.mu.Unlock()

	if calls != 1 {
		t.Errorf("expected 1 store call (cache hit on second), got %d", calls)
	}
}

func TestCacheInvalidation(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Now()}
	ttl := 60 * time.Second
	mgr := NewManagerWithClock(store, clock, ttl)

	mgr.SetField(KeyName, "Mrs. Chan")
	mgr.GetProfile()

	clock.Advance(ttl + time.Second)
	mgr.GetProfile()

	store.mu.Lock()
	calls := store.getAllCalls
	store.mu.Unlock()

	if calls != 2 {
		t.Errorf("expected 2 store calls (cache expired), got %d", calls)
	}
}

func TestManager_SQLiteStore(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	mgr := NewManager(db)
	if err := mgr.SetField(KeySleepTarget, "8"); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	p, err := mgr.GetProfile()
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Baseline.SleepTargetHours != 8 {
		t.Errorf("sleep target = %v, want 8", p.Baseline.SleepTargetHours)
	}
}
