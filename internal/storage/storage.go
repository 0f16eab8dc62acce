// Package storage provides SQLite-backed persistence for readings,
// features, assessments, and alerts.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agriguard/cropsentinel/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
// The pipeline treats every write as fire-and-forget.
type Storage struct {
	db          *sql.DB
	maxPerTable int
}

// New opens or creates the SQLite database at dbPath. An empty dbPath
// defaults to $TMPDIR/cropsentinel/data.db. maxPerTable bounds retained
// rows per table; rotation evicts oldest.
func New(maxPerTable int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "cropsentinel", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxPerTable: maxPerTable}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp        INTEGER NOT NULL,
			crop_type        TEXT NOT NULL,
			temperature      REAL, humidity REAL, rain_forecast REAL,
			soil_moisture    REAL, wind_speed REAL, leaf_wetness REAL,
			soil_temperature REAL, soil_ph REAL, solar_radiation REAL
		)`,
		`CREATE TABLE IF NOT EXISTS features (
			id                TEXT PRIMARY KEY,
			timestamp         INTEGER NOT NULL,
			crop_type         TEXT NOT NULL,
			smoothed          TEXT NOT NULL,
			flags             TEXT NOT NULL,
			weather_condition TEXT NOT NULL,
			anomaly_score     REAL NOT NULL,
			min_samples       INTEGER NOT NULL,
			degraded          INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS assessments (
			id              TEXT PRIMARY KEY,
			timestamp       INTEGER NOT NULL,
			crop_type       TEXT NOT NULL,
			risk_score      INTEGER NOT NULL,
			risk_level      TEXT NOT NULL,
			factors         TEXT NOT NULL,
			recommendations TEXT NOT NULL,
			disease         TEXT,
			disease_conf    INTEGER,
			outbreak_eta    INTEGER,
			outbreak_window TEXT,
			confidence      INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id           TEXT PRIMARY KEY,
			crop_type    TEXT NOT NULL,
			triggered_at INTEGER NOT NULL,
			assessment   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_crop_ts ON readings(crop_type, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_crop_ts ON assessments(crop_type, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_triggered ON alerts(triggered_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveReading persists one raw reading.
func (s *Storage) SaveReading(r models.Reading) error {
	_, err := s.db.Exec(`
		INSERT INTO readings
			(timestamp, crop_type, temperature, humidity, rain_forecast,
			 soil_moisture, wind_speed, leaf_wetness, soil_temperature,
			 soil_ph, solar_radiation)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		r.Timestamp.UnixNano(), r.Context(),
		r.Temperature, r.Humidity, r.RainForecast,
		r.SoilMoisture, r.WindSpeed, r.LeafWetness,
		r.SoilTemperature, r.SoilPH, r.SolarRadiation,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// SaveFeature persists one processed feature.
func (s *Storage) SaveFeature(f models.ProcessedFeature) error {
	smoothed, err := json.Marshal(f.Smoothed)
	if err != nil {
		return fmt.Errorf("failed to marshal smoothed values: %w", err)
	}
	flags, err := json.Marshal(f.Flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO features
			(id, timestamp, crop_type, smoothed, flags, weather_condition,
			 anomaly_score, min_samples, degraded)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		f.ID, f.Timestamp.UnixNano(), f.CropType, string(smoothed), string(flags),
		f.WeatherCondition, f.AnomalyScore, f.MinSampleCount, boolToInt(f.Degraded),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feature: %w", err)
	}
	return nil
}

// SaveAssessment persists one risk assessment.
func (s *Storage) SaveAssessment(a models.RiskAssessment) error {
	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}
	recommendations, err := json.Marshal(a.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}

	var etaHours sql.NullInt64
	var etaWindow sql.NullString
	if a.Outbreak != nil {
		etaHours = sql.NullInt64{Int64: int64(a.Outbreak.ETAHours), Valid: true}
		etaWindow = sql.NullString{String: a.Outbreak.Window, Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO assessments
			(id, timestamp, crop_type, risk_score, risk_level, factors,
			 recommendations, disease, disease_conf, outbreak_eta,
			 outbreak_window, confidence)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Timestamp.UnixNano(), a.CropType, a.Score, string(a.Level),
		string(factors), string(recommendations), a.PredictedDisease,
		a.DiseaseConfidence, etaHours, etaWindow, a.Confidence,
	)
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}
	return nil
}

// SaveAlert persists one emitted alert with its assessment snapshot.
func (s *Storage) SaveAlert(a models.Alert) error {
	snapshot, err := json.Marshal(a.Assessment)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment snapshot: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO alerts (id, crop_type, triggered_at, assessment)
		VALUES (?,?,?,?)`,
		a.ID, a.CropType, a.TriggeredAt.UnixNano(), string(snapshot),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// RecentAssessments returns up to limit assessments for a crop, newest first.
func (s *Storage) RecentAssessments(crop string, limit int) ([]models.RiskAssessment, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, crop_type, risk_score, risk_level, factors,
		       recommendations, disease, disease_conf, outbreak_eta,
		       outbreak_window, confidence
		FROM assessments WHERE crop_type = ?
		ORDER BY timestamp DESC LIMIT ?`, crop, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()

	var out []models.RiskAssessment
	for rows.Next() {
		var a models.RiskAssessment
		var ts int64
		var level, factors, recommendations string
		var disease sql.NullString
		var diseaseConf, confidence, etaHours sql.NullInt64
		var etaWindow sql.NullString

		err := rows.Scan(&a.ID, &ts, &a.CropType, &a.Score, &level, &factors,
			&recommendations, &disease, &diseaseConf, &etaHours, &etaWindow, &confidence)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		a.Timestamp = time.Unix(0, ts)
		a.Level = models.RiskLevel(level)
		if err := json.Unmarshal([]byte(factors), &a.Factors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal factors: %w", err)
		}
		if err := json.Unmarshal([]byte(recommendations), &a.Recommendations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recommendations: %w", err)
		}
		a.PredictedDisease = disease.String
		a.DiseaseConfidence = int(diseaseConf.Int64)
		a.Confidence = int(confidence.Int64)
		if etaHours.Valid {
			a.Outbreak = &models.OutbreakForecast{
				ETAHours: int(etaHours.Int64),
				Window:   etaWindow.String,
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *Storage) RecentAlerts(limit int) ([]models.Alert, error) {
	rows, err := s.db.Query(`
		SELECT id, crop_type, triggered_at, assessment
		FROM alerts ORDER BY triggered_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		var ts int64
		var snapshot string
		if err := rows.Scan(&a.ID, &a.CropType, &ts, &snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.TriggeredAt = time.Unix(0, ts)
		if err := json.Unmarshal([]byte(snapshot), &a.Assessment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal assessment snapshot: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Rotate keeps at most maxPerTable newest rows in each table.
func (s *Storage) Rotate() error {
	stmts := []string{
		`DELETE FROM readings WHERE id NOT IN (
			SELECT id FROM readings ORDER BY timestamp DESC LIMIT ?)`,
		`DELETE FROM features WHERE id NOT IN (
			SELECT id FROM features ORDER BY timestamp DESC LIMIT ?)`,
		`DELETE FROM assessments WHERE id NOT IN (
			SELECT id FROM assessments ORDER BY timestamp DESC LIMIT ?)`,
		`DELETE FROM alerts WHERE id NOT IN (
			SELECT id FROM alerts ORDER BY triggered_at DESC LIMIT ?)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt, s.maxPerTable); err != nil {
			return fmt.Errorf("failed to rotate table: %w", err)
		}
	}
	return nil
}

// Counts returns total persisted rows per record kind.
func (s *Storage) Counts() (readings, features, assessments, alerts int, err error) {
	count := func(table string) (int, error) {
		var n int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
		return n, err
	}
	if readings, err = count("readings"); err != nil {
		return
	}
	if features, err = count("features"); err != nil {
		return
	}
	if assessments, err = count("assessments"); err != nil {
		return
	}
	alerts, err = count("alerts")
	return
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
