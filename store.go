package aidefense

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oarkflow/log"
)

// ErrDetectionNotFound is returned by Get when no detection has the given id.
var ErrDetectionNotFound = errors.New("detection not found")

// DetectionStore persists detections and answers aggregate queries over them.
type DetectionStore interface {
	Save(det Detection) error
	Get(id string) (Detection, error)
	Recent(limit int, window time.Duration) ([]Detection, error)
	ByThreatLevel(level ThreatLevel, limit int) ([]Detection, error)
	Statistics(window time.Duration) (StoreStatistics, error)
	PatternDistribution(window time.Duration) (map[PatternType]int, error)
	PurgeOlderThan(age time.Duration) (int64, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// StoreStatistics summarizes the stored detections, optionally restricted to
// a trailing time window.
type StoreStatistics struct {
	TotalDetections int     `json:"total_detections"`
	NormalCount     int     `json:"normal_count"`
	SuspiciousCount int     `json:"suspicious_count"`
	MaliciousCount  int     `json:"malicious_count"`
	AvgThreatScore  float64 `json:"avg_threat_score"`
	PeakThreatScore int     `json:"peak_threat_score"`
}

const detectionSchema = `
CREATE TABLE IF NOT EXISTS detections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	detection_id TEXT NOT NULL UNIQUE,
	timestamp TEXT NOT NULL,
	threat_score INTEGER NOT NULL,
	threat_level TEXT NOT NULL,
	pattern_type TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	ip_address TEXT NOT NULL,
	method TEXT,
	user_agent TEXT,
	parameters TEXT,
	details TEXT,
	created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_timestamp ON detections(timestamp);
CREATE INDEX IF NOT EXISTS idx_threat_level ON detections(threat_level);
CREATE INDEX IF NOT EXISTS idx_pattern_type ON detections(pattern_type);
CREATE INDEX IF NOT EXISTS idx_ip_address ON detections(ip_address);
`

type detectionRow struct {
	ID          int64          `db:"id"`
	DetectionID string         `db:"detection_id"`
	Timestamp   string         `db:"timestamp"`
	ThreatScore int            `db:"threat_score"`
	ThreatLevel string         `db:"threat_level"`
	PatternType string         `db:"pattern_type"`
	Endpoint    string         `db:"endpoint"`
	IPAddress   string         `db:"ip_address"`
	Method      sql.NullString `db:"method"`
	UserAgent   sql.NullString `db:"user_agent"`
	Parameters  sql.NullString `db:"parameters"`
	Details     sql.NullString `db:"details"`
	CreatedAt   sql.NullString `db:"created_at"`
}

// SQLiteDetectionStore is the DetectionStore backed by a local SQLite file.
// When a VectorIndex is attached, every saved detection is also embedded into
// it; index failures are logged, never surfaced to the caller.
type SQLiteDetectionStore struct {
	db      *sqlx.DB
	vectors *VectorIndex
	logger  *log.Logger
}

// NewSQLiteDetectionStore opens (creating if needed) the database at path and
// ensures the schema. vectors may be nil to disable similarity indexing.
func NewSQLiteDetectionStore(path string, vectors *VectorIndex, logger *log.Logger) (*SQLiteDetectionStore, error) {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %v", path, err)
	}
	if _, err := db.Exec(detectionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %v", err)
	}
	return &SQLiteDetectionStore{db: db, vectors: vectors, logger: logger}, nil
}

// Save persists the detection and, if indexing is enabled, adds it to the
// vector index.
func (s *SQLiteDetectionStore) Save(det Detection) error {
	var params, details []byte
	var err error
	if len(det.Request.Parameters) > 0 {
		if params, err = json.Marshal(det.Request.Parameters); err != nil {
			return fmt.Errorf("store: encode parameters: %v", err)
		}
	}
	if details, err = json.Marshal(det.Details); err != nil {
		return fmt.Errorf("store: encode details: %v", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO detections (
			detection_id, timestamp, threat_score, threat_level, pattern_type,
			endpoint, ip_address, method, user_agent, parameters, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		det.ID,
		det.Timestamp.Format(time.RFC3339Nano),
		det.ThreatScore,
		string(det.ThreatLevel),
		string(det.PatternType),
		det.Request.Endpoint,
		det.Request.SourceIP,
		det.Request.Method,
		det.Request.UserAgent,
		nullable(params),
		nullable(details),
	)
	if err != nil {
		return fmt.Errorf("store: insert detection %s: %v", det.ID, err)
	}

	if s.vectors != nil {
		if err := s.vectors.Add(det); err != nil {
			s.logger.Warn().Err(err).Str("detection_id", det.ID).Msg("vector index update failed")
		}
	}
	return nil
}

// Get fetches a single detection by its id.
func (s *SQLiteDetectionStore) Get(id string) (Detection, error) {
	var row detectionRow
	err := s.db.Get(&row, `SELECT * FROM detections WHERE detection_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Detection{}, ErrDetectionNotFound
	}
	if err != nil {
		return Detection{}, fmt.Errorf("store: get detection %s: %v", id, err)
	}
	return rowToDetection(row)
}

// Recent returns the newest detections, optionally restricted to the trailing
// window. A zero window means no time filter.
func (s *SQLiteDetectionStore) Recent(limit int, window time.Duration) ([]Detection, error) {
	var rows []detectionRow
	var err error
	if window > 0 {
		cutoff := time.Now().Add(-window).Format(time.RFC3339Nano)
		err = s.db.Select(&rows, `
			SELECT * FROM detections
			WHERE timestamp >= ?
			ORDER BY timestamp DESC
			LIMIT ?`, cutoff, limit)
	} else {
		err = s.db.Select(&rows, `
			SELECT * FROM detections
			ORDER BY timestamp DESC
			LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: recent detections: %v", err)
	}
	return rowsToDetections(rows)
}

// ByThreatLevel returns the newest detections at the given level.
func (s *SQLiteDetectionStore) ByThreatLevel(level ThreatLevel, limit int) ([]Detection, error) {
	var rows []detectionRow
	err := s.db.Select(&rows, `
		SELECT * FROM detections
		WHERE threat_level = ?
		ORDER BY timestamp DESC
		LIMIT ?`, string(level), limit)
	if err != nil {
		return nil, fmt.Errorf("store: detections by level %s: %v", level, err)
	}
	return rowsToDetections(rows)
}

// Statistics aggregates stored detections. A zero window covers everything.
func (s *SQLiteDetectionStore) Statistics(window time.Duration) (StoreStatistics, error) {
	var agg struct {
		Total      int             `db:"total"`
		Normal     int             `db:"normal_count"`
		Suspicious int             `db:"suspicious_count"`
		Malicious  int             `db:"malicious_count"`
		AvgScore   sql.NullFloat64 `db:"avg_score"`
		MaxScore   sql.NullInt64   `db:"max_score"`
	}
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN threat_level = 'normal' THEN 1 ELSE 0 END), 0) AS normal_count,
			COALESCE(SUM(CASE WHEN threat_level = 'suspicious' THEN 1 ELSE 0 END), 0) AS suspicious_count,
			COALESCE(SUM(CASE WHEN threat_level = 'malicious' THEN 1 ELSE 0 END), 0) AS malicious_count,
			AVG(threat_score) AS avg_score,
			MAX(threat_score) AS max_score
		FROM detections`
	var err error
	if window > 0 {
		cutoff := time.Now().Add(-window).Format(time.RFC3339Nano)
		err = s.db.Get(&agg, query+` WHERE timestamp >= ?`, cutoff)
	} else {
		err = s.db.Get(&agg, query)
	}
	if err != nil {
		return StoreStatistics{}, fmt.Errorf("store: statistics: %v", err)
	}
	return StoreStatistics{
		TotalDetections: agg.Total,
		NormalCount:     agg.Normal,
		SuspiciousCount: agg.Suspicious,
		MaliciousCount:  agg.Malicious,
		AvgThreatScore:  agg.AvgScore.Float64,
		PeakThreatScore: int(agg.MaxScore.Int64),
	}, nil
}

// PatternDistribution counts stored detections per pattern type.
func (s *SQLiteDetectionStore) PatternDistribution(window time.Duration) (map[PatternType]int, error) {
	var rows []struct {
		Pattern string `db:"pattern_type"`
		Count   int    `db:"count"`
	}
	query := `SELECT pattern_type, COUNT(*) AS count FROM detections`
	var err error
	if window > 0 {
		cutoff := time.Now().Add(-window).Format(time.RFC3339Nano)
		err = s.db.Select(&rows, query+` WHERE timestamp >= ? GROUP BY pattern_type`, cutoff)
	} else {
		err = s.db.Select(&rows, query+` GROUP BY pattern_type`)
	}
	if err != nil {
		return nil, fmt.Errorf("store: pattern distribution: %v", err)
	}
	out := make(map[PatternType]int, len(rows))
	for _, r := range rows {
		out[PatternType(r.Pattern)] = r.Count
	}
	return out, nil
}

// PurgeOlderThan deletes detections older than age and returns how many were
// removed.
func (s *SQLiteDetectionStore) PurgeOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).Format(time.RFC3339Nano)
	res, err := s.db.Exec(`DELETE FROM detections WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: purge: %v", err)
	}
	return res.RowsAffected()
}

// HealthCheck pings the underlying database.
func (s *SQLiteDetectionStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLiteDetectionStore) Close() error {
	return s.db.Close()
}

func nullable(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func rowToDetection(row detectionRow) (Detection, error) {
	ts, err := time.Parse(time.RFC3339Nano, row.Timestamp)
	if err != nil {
		return Detection{}, fmt.Errorf("store: parse timestamp %q: %v", row.Timestamp, err)
	}

	var params map[string]string
	if row.Parameters.Valid && row.Parameters.String != "" {
		// Legacy rows may hold malformed JSON; treat that as no parameters.
		_ = json.Unmarshal([]byte(row.Parameters.String), &params)
	}
	var details DetectionDetails
	if row.Details.Valid && row.Details.String != "" {
		_ = json.Unmarshal([]byte(row.Details.String), &details)
	}

	method := row.Method.String
	if method == "" {
		method = "GET"
	}
	return Detection{
		ID:          row.DetectionID,
		Timestamp:   ts,
		ThreatScore: row.ThreatScore,
		ThreatLevel: ThreatLevel(row.ThreatLevel),
		PatternType: PatternType(row.PatternType),
		Details:     details,
		Request: Request{
			Timestamp:  ts,
			SourceIP:   row.IPAddress,
			Endpoint:   row.Endpoint,
			Method:     method,
			UserAgent:  row.UserAgent.String,
			Parameters: params,
		},
	}, nil
}

func rowsToDetections(rows []detectionRow) ([]Detection, error) {
	out := make([]Detection, 0, len(rows))
	for _, row := range rows {
		det, err := rowToDetection(row)
		if err != nil {
			return nil, err
		}
		out = append(out, det)
	}
	return out, nil
}
