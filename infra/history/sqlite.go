package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/infra/logger"
)

const schema = `CREATE TABLE IF NOT EXISTS arrivals (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        distance_km REAL,
        scheduled_ts INTEGER,
        actual_ts INTEGER
    );
    CREATE TABLE IF NOT EXISTS consultations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        reason_code TEXT,
        doctor_id TEXT,
        duration_minutes REAL,
        recorded_ts INTEGER
    );`

// SQLiteStore keeps historical arrivals and consultations in a SQLite
// database. It doubles as a completion observer so finished consultations
// are available to the next day's predictors.
type SQLiteStore struct {
	db  *sql.DB
	log logger.Logger
	now func() time.Time
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db, log: logger.New("history"), now: time.Now}, nil
}

// AppendArrival stores an observed arrival.
func (s *SQLiteStore) AppendArrival(ctx context.Context, rec model.ArrivalRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO arrivals (distance_km, scheduled_ts, actual_ts) VALUES (?, ?, ?)`,
		rec.DistanceKM, rec.ScheduledTime.UnixNano(), rec.ActualTime.UnixNano())
	return err
}

// AppendConsultation stores a finished consultation.
func (s *SQLiteStore) AppendConsultation(ctx context.Context, rec model.ConsultationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consultations (reason_code, doctor_id, duration_minutes, recorded_ts) VALUES (?, ?, ?, ?)`,
		rec.ReasonCode, rec.DoctorID, rec.DurationMinutes, s.now().UnixNano())
	return err
}

// Observe records a completed consultation. Write errors are logged.
func (s *SQLiteStore) Observe(reasonCode, doctorID string, minutes float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := model.ConsultationRecord{ReasonCode: reasonCode, DoctorID: doctorID, DurationMinutes: minutes}
	if err := s.AppendConsultation(ctx, rec); err != nil {
		s.log.Errorf("store consultation %s/%s: %v", doctorID, reasonCode, err)
	}
}

// Load returns every stored record in insertion order.
func (s *SQLiteStore) Load(ctx context.Context) (*model.HistoricalData, error) {
	h := &model.HistoricalData{}
	rows, err := s.db.QueryContext(ctx, `SELECT distance_km, scheduled_ts, actual_ts FROM arrivals ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			r                 model.ArrivalRecord
			scheduled, actual int64
		)
		if err := rows.Scan(&r.DistanceKM, &scheduled, &actual); err != nil {
			_ = rows.Close()
			return nil, err
		}
		r.ScheduledTime = time.Unix(0, scheduled).UTC()
		r.ActualTime = time.Unix(0, actual).UTC()
		h.Arrivals = append(h.Arrivals, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT reason_code, doctor_id, duration_minutes FROM consultations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var r model.ConsultationRecord
		if err := rows.Scan(&r.ReasonCode, &r.DoctorID, &r.DurationMinutes); err != nil {
			return nil, err
		}
		h.Consultations = append(h.Consultations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return h, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// LoadSQLite opens the database at path, reads it and closes it again.
func LoadSQLite(ctx context.Context, path string) (*model.HistoricalData, error) {
	s, err := NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()
	return s.Load(ctx)
}
