// Package ingest supplies readings to the pipeline from external sources.
// Sources deliver readings one at a time per context, in arrival order.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/agriguard/cropsentinel/internal/logger"
	"github.com/agriguard/cropsentinel/internal/models"
)

// ErrSourceDrained marks the normal end of a finite source.
var ErrSourceDrained = errors.New("source drained")

// Source yields readings for the pipeline. Next blocks until a reading is
// available, the source is exhausted (ErrSourceDrained), or ctx ends.
type Source interface {
	Next(ctx context.Context) (models.Reading, error)
	Close() error
}

// FileSource reads newline-delimited JSON readings from a file. Used for
// replays and local development.
type FileSource struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewFileSource opens a JSONL file of readings.
func NewFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reading file: %w", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	logger.Info("Opened file source %s", path)
	return &FileSource{file: f, scanner: scanner}, nil
}

// Next returns the next reading in the file.
func (s *FileSource) Next(ctx context.Context) (models.Reading, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.Reading{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return models.Reading{}, fmt.Errorf("failed to read line: %w", err)
			}
			return models.Reading{}, ErrSourceDrained
		}
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var reading models.Reading
		if err := json.Unmarshal(line, &reading); err != nil {
			logger.Warn("Skipping malformed reading line: %v", err)
			continue
		}
		return reading, nil
	}
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.file.Close()
}

// HTTPConfig tunes the HTTP polling source.
type HTTPConfig struct {
	Endpoint            string
	PollInterval        time.Duration
	Timeout             time.Duration
	MaxRetries          int
	RetryDelayBase      time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// HTTPSource polls a sensor endpoint that returns either a single reading
// or an array of readings as JSON.
type HTTPSource struct {
	cfg        HTTPConfig
	httpClient *http.Client
	pending    []models.Reading
	lastPoll   time.Time
}

// NewHTTPSource creates a polling source with a pooled HTTP client.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	return &HTTPSource{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// Next returns the next buffered reading, polling the endpoint when the
// buffer is empty. Poll failures are retried with linear backoff and then
// surfaced; the caller decides whether to keep polling.
func (s *HTTPSource) Next(ctx context.Context) (models.Reading, error) {
	for len(s.pending) == 0 {
		if err := s.waitForInterval(ctx); err != nil {
			return models.Reading{}, err
		}
		readings, err := s.poll(ctx)
		if err != nil {
			return models.Reading{}, err
		}
		s.pending = readings
	}

	reading := s.pending[0]
	s.pending = s.pending[1:]
	return reading, nil
}

func (s *HTTPSource) waitForInterval(ctx context.Context) error {
	if s.lastPoll.IsZero() {
		return nil
	}
	wait := s.cfg.PollInterval - time.Since(s.lastPoll)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *HTTPSource) poll(ctx context.Context) ([]models.Reading, error) {
	s.lastPoll = time.Now()

	var lastErr error
	for i := 0; i < s.cfg.MaxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if sleepErr := sleepCtx(ctx, s.cfg.RetryDelayBase*time.Duration(i+1)); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			if sleepErr := sleepCtx(ctx, s.cfg.RetryDelayBase*time.Duration(i+1)); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		readings, err := decodeReadings(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		return readings, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// decodeReadings accepts either a JSON array of readings or one object.
func decodeReadings(r io.Reader) ([]models.Reading, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var list []models.Reading
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var single models.Reading
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("failed to decode readings: %w", err)
	}
	return []models.Reading{single}, nil
}

// Close releases idle connections.
func (s *HTTPSource) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
