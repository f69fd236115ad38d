package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/zzkt/aqi/internal/models"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client), srv
}

// TestRedisStore_PutGet verifies the JSON round trip through redis for a
// reading entry.
func TestRedisStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	entry := models.ReadingEntry(sampleReading("Berlin", 42))
	if err := s.Put(ctx, "berlin", entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := s.Get(ctx, "berlin")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.IsFault() {
		t.Fatal("Get() returned fault, want reading")
	}
	if got.Reading.Name != "Berlin" || *got.Reading.AQI != 42 {
		t.Errorf("Get() = %+v, want Berlin/42", got.Reading)
	}
	if got.Reading.Dominant != models.PollutantPM25 {
		t.Errorf("Dominant = %q, want %q", got.Reading.Dominant, models.PollutantPM25)
	}
	if v, ok := got.Reading.SubIndex(models.MeteoTemp); !ok || v != 21.3 {
		t.Errorf("SubIndex(t) = %v/%v, want 21.3/true", v, ok)
	}
}

// TestRedisStore_Get_Miss verifies that redis.Nil maps to plain absence.
func TestRedisStore_Get_Miss(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	_, ok, err := s.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}

	ok, err = s.Has(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Has() error = %v", err)
	}
	if ok {
		t.Error("Has() = true, want false for miss")
	}
}

// TestRedisStore_FaultEntry verifies fault entries survive the round trip.
func TestRedisStore_FaultEntry(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	if err := s.Put(ctx, "nowhere", models.FaultEntry("Request error: Unknown station")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := s.Get(ctx, "nowhere")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if !got.IsFault() {
		t.Fatal("IsFault() = false, want true")
	}
	if got.Fault != "Request error: Unknown station" {
		t.Errorf("Fault = %q, want %q", got.Fault, "Request error: Unknown station")
	}
}

// TestRedisStore_KeyPrefix verifies entries land under the service prefix
// so ClearAll cannot touch foreign keys.
func TestRedisStore_KeyPrefix(t *testing.T) {
	ctx := context.Background()
	s, srv := newTestRedisStore(t)

	if err := s.Put(ctx, "berlin", models.ReadingEntry(sampleReading("Berlin", 42))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !srv.Exists("aqi:berlin") {
		t.Error("expected key aqi:berlin in redis")
	}
}

// TestRedisStore_Clear verifies single-key removal.
func TestRedisStore_Clear(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	s.Put(ctx, "berlin", models.ReadingEntry(sampleReading("Berlin", 42)))
	if err := s.Clear(ctx, "berlin"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if ok, _ := s.Has(ctx, "berlin"); ok {
		t.Error("Has() = true after Clear")
	}

	if err := s.Clear(ctx, "nonexistent"); err != nil {
		t.Errorf("Clear() on absent key error = %v, want nil", err)
	}
}

// TestRedisStore_ClearAll verifies prefix-scoped deletion leaves other
// keys in the database alone.
func TestRedisStore_ClearAll(t *testing.T) {
	ctx := context.Background()
	s, srv := newTestRedisStore(t)

	s.Put(ctx, "berlin", models.ReadingEntry(sampleReading("Berlin", 42)))
	s.Put(ctx, "@1437", models.ReadingEntry(sampleReading("Helsinki Kallio", 12)))
	srv.Set("other:key", "untouched")

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if ok, _ := s.Has(ctx, "berlin"); ok {
		t.Error("Has(berlin) = true after ClearAll")
	}
	if ok, _ := s.Has(ctx, "@1437"); ok {
		t.Error("Has(@1437) = true after ClearAll")
	}
	if !srv.Exists("other:key") {
		t.Error("ClearAll() removed a key outside the service prefix")
	}
}

// TestRedisStore_CorruptValue verifies that undecodable values surface as
// errors rather than phantom entries.
func TestRedisStore_CorruptValue(t *testing.T) {
	ctx := context.Background()
	s, srv := newTestRedisStore(t)

	srv.Set("aqi:berlin", "{not json")

	_, _, err := s.Get(ctx, "berlin")
	if err == nil {
		t.Fatal("Get() error = nil, want decode error")
	}
}
