package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agriguard/cropsentinel/internal/models"
)

func writeTestFile(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "readings.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileSource(t *testing.T) {
	path := writeTestFile(t, []string{
		`{"timestamp":"2026-04-10T06:00:00Z","crop_type":"tomato","humidity":82}`,
		``,
		`not json at all`,
		`{"timestamp":"2026-04-10T06:01:00Z","crop_type":"rice","humidity":60}`,
	})

	s, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()

	first, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if first.CropType != "tomato" || first.Humidity != 82 {
		t.Errorf("got %+v, want the tomato reading", first)
	}

	// Blank and malformed lines are skipped, not fatal.
	second, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if second.CropType != "rice" {
		t.Errorf("got crop %q, want rice", second.CropType)
	}

	if _, err := s.Next(ctx); !errors.Is(err, ErrSourceDrained) {
		t.Errorf("got %v, want ErrSourceDrained at end of file", err)
	}
}

func TestFileSource_CancelledContext(t *testing.T) {
	path := writeTestFile(t, []string{
		`{"timestamp":"2026-04-10T06:00:00Z","crop_type":"tomato"}`,
	})
	s, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestHTTPSource_ArrayResponse(t *testing.T) {
	readings := []models.Reading{
		{Timestamp: time.Date(2026, 4, 10, 6, 0, 0, 0, time.UTC), CropType: "tomato", Humidity: 82},
		{Timestamp: time.Date(2026, 4, 10, 6, 1, 0, 0, time.UTC), CropType: "tomato", Humidity: 84},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(readings)
	}))
	t.Cleanup(server.Close)

	s := NewHTTPSource(HTTPConfig{Endpoint: server.URL, Timeout: 5 * time.Second})
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	for i, want := range readings {
		got, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		if got.Humidity != want.Humidity {
			t.Errorf("reading %d: got humidity %f, want %f", i, got.Humidity, want.Humidity)
		}
	}
}

func TestHTTPSource_SingleObjectResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.Reading{
			Timestamp: time.Date(2026, 4, 10, 6, 0, 0, 0, time.UTC),
			CropType:  "rice",
		})
	}))
	t.Cleanup(server.Close)

	s := NewHTTPSource(HTTPConfig{Endpoint: server.URL, Timeout: 5 * time.Second})
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.CropType != "rice" {
		t.Errorf("got crop %q, want rice", got.CropType)
	}
}

func TestHTTPSource_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]models.Reading{
			{Timestamp: time.Date(2026, 4, 10, 6, 0, 0, 0, time.UTC), CropType: "wheat"},
		})
	}))
	t.Cleanup(server.Close)

	s := NewHTTPSource(HTTPConfig{
		Endpoint:       server.URL,
		Timeout:        5 * time.Second,
		MaxRetries:     3,
		RetryDelayBase: time.Millisecond,
	})
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.CropType != "wheat" {
		t.Errorf("got crop %q, want wheat", got.CropType)
	}
	if calls.Load() != 2 {
		t.Errorf("got %d requests, want 2 (one failure, one retry)", calls.Load())
	}
}

func TestHTTPSource_ExhaustedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	s := NewHTTPSource(HTTPConfig{
		Endpoint:       server.URL,
		Timeout:        5 * time.Second,
		MaxRetries:     2,
		RetryDelayBase: time.Millisecond,
	})
	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.Next(context.Background()); err == nil {
		t.Error("expected error after exhausting retries")
	}
}

func TestDecodeReadings_RejectsGarbage(t *testing.T) {
	if _, err := decodeReadings(strings.NewReader(`"just a string"`)); err == nil {
		t.Error("expected decode error for non-reading payload")
	}
}
