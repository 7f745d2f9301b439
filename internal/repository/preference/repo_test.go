package preference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumatv/nextup/internal/db"
	"github.com/lumatv/nextup/internal/domain"
)

type mockStore struct {
	data      map[string][]byte
	ttls      map[string]time.Duration
	delCalled bool
}

func newMockStore() *mockStore {
	return &mockStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockStore) Set(_ context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}

func (m *mockStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mockStore) Del(_ context.Context, key string) error {
	m.delCalled = true
	delete(m.data, key)
	return nil
}

func TestRecordRoundTrip(t *testing.T) {
	repo := New(newMockStore(), "nextup:", 30*time.Minute)
	ctx := context.Background()

	rec := domain.PreferenceRecord{
		UserID:       "u1",
		Vector:       []float32{0.5, 0.5},
		Interactions: 7,
		Confidence:   1.0,
		SeenGenres:   map[string]int64{"drama": 3},
		UpdatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := repo.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}

	got, err := repo.GetRecord(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.Interactions != 7 || got.SeenGenres["drama"] != 3 {
		t.Errorf("GetRecord() = %+v, want %+v", got, rec)
	}
	if len(got.Vector) != 2 || got.Vector[0] != 0.5 {
		t.Errorf("Vector = %v, want %v", got.Vector, rec.Vector)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	repo := New(newMockStore(), "nextup:", 30*time.Minute)

	_, err := repo.GetRecord(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetRecord() error = %v, want ErrNotFound", err)
	}
}

func TestSessionTTL(t *testing.T) {
	ms := newMockStore()
	repo := New(ms, "nextup:", 30*time.Minute)
	ctx := context.Background()

	sc := domain.SessionContext{
		TimeOfDay: domain.TimeEvening,
		Mood:      domain.MoodRelaxed,
		Social:    domain.SocialAlone,
		Device:    domain.DeviceTV,
		UpdatedAt: time.Now().UTC(),
	}
	if err := repo.SaveSession(ctx, "u1", sc); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	for _, key := range []string{"nextup:session:u1:tv", "nextup:session:u1:last"} {
		if got := ms.ttls[key]; got != 30*time.Minute {
			t.Errorf("ttl for %s = %v, want 30m", key, got)
		}
	}

	got, err := repo.GetSession(ctx, "u1", domain.DeviceTV)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Bucket() != sc.Bucket() {
		t.Errorf("session bucket = %q, want %q", got.Bucket(), sc.Bucket())
	}
}

func TestSessionPerDeviceWithFallback(t *testing.T) {
	repo := New(newMockStore(), "nextup:", 30*time.Minute)
	ctx := context.Background()

	tv := domain.SessionContext{
		TimeOfDay: domain.TimeEvening, Mood: domain.MoodRelaxed,
		Social: domain.SocialFamily, Device: domain.DeviceTV,
	}
	mobile := domain.SessionContext{
		TimeOfDay: domain.TimeMorning, Mood: domain.MoodFocused,
		Social: domain.SocialAlone, Device: domain.DeviceMobile,
	}
	if err := repo.SaveSession(ctx, "u1", tv); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	if err := repo.SaveSession(ctx, "u1", mobile); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	// Each device keeps its own session.
	got, err := repo.GetSession(ctx, "u1", domain.DeviceTV)
	if err != nil {
		t.Fatalf("GetSession(tv) error = %v", err)
	}
	if got.Device != domain.DeviceTV {
		t.Errorf("tv session device = %q, want tv", got.Device)
	}

	// A device without a stored session falls back to the most recent one.
	got, err = repo.GetSession(ctx, "u1", domain.DeviceTablet)
	if err != nil {
		t.Fatalf("GetSession(tablet) error = %v", err)
	}
	if got.Device != domain.DeviceMobile {
		t.Errorf("fallback device = %q, want mobile (most recent)", got.Device)
	}

	// No device hint reads the most recent session directly.
	got, err = repo.GetSession(ctx, "u1", "")
	if err != nil {
		t.Fatalf("GetSession(\"\") error = %v", err)
	}
	if got.Device != domain.DeviceMobile {
		t.Errorf("latest device = %q, want mobile", got.Device)
	}
}

func TestPatternsEmptyWithoutError(t *testing.T) {
	repo := New(newMockStore(), "nextup:", time.Minute)

	pats, err := repo.GetPatterns(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPatterns() error = %v", err)
	}
	if pats != nil {
		t.Errorf("GetPatterns() = %v, want nil", pats)
	}
}

func TestErase(t *testing.T) {
	ms := newMockStore()
	repo := New(ms, "nextup:", time.Minute)
	ctx := context.Background()

	if err := repo.SaveRecord(ctx, domain.PreferenceRecord{UserID: "u1", Vector: []float32{1}}); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}
	if err := repo.SavePatterns(ctx, "u1", []domain.BehavioralPattern{{Type: domain.PatternGenreAffinity, Key: "drama"}}); err != nil {
		t.Fatalf("SavePatterns() error = %v", err)
	}
	if err := repo.SaveSession(ctx, "u1", domain.SessionContext{Device: domain.DeviceMobile}); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	if err := repo.Erase(ctx, "u1"); err != nil {
		t.Fatalf("Erase() error = %v", err)
	}
	if !ms.delCalled {
		t.Fatal("Del was not called")
	}
	if _, err := repo.GetRecord(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetRecord() after erase error = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetSession(ctx, "u1", domain.DeviceMobile); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetSession() after erase error = %v, want ErrNotFound", err)
	}
}
