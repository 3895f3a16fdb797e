package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/kvernekar/go-ems-dispatch/internal/models"
)

// SQLiteDB is a document store over sqlite: each entity is one JSON doc
// keyed by id, with a few extracted columns for the filter queries.
type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS emergencies (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			severity TEXT NOT NULL,
			responder_id TEXT,
			created_at DATETIME NOT NULL,
			doc BLOB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS hospitals (
			id TEXT PRIMARY KEY,
			surge_mode INTEGER NOT NULL DEFAULT 0,
			doc BLOB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS responders (
			id TEXT PRIMARY KEY,
			doc BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_emergencies_status ON emergencies(status);
		CREATE INDEX IF NOT EXISTS idx_emergencies_responder ON emergencies(responder_id);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) GetEmergency(ctx context.Context, id string) (*models.Emergency, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM emergencies WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying emergency: %w", err)
	}

	var e models.Emergency
	if err := json.Unmarshal(doc, &e); err != nil {
		return nil, fmt.Errorf("error decoding emergency doc: %w", err)
	}
	return &e, nil
}

func (s *SQLiteDB) UpsertEmergency(ctx context.Context, e *models.Emergency) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("error encoding emergency doc: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO emergencies (id, status, severity, responder_id, created_at, doc)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			severity = excluded.severity,
			responder_id = excluded.responder_id,
			doc = excluded.doc`,
		e.ID, string(e.Status), string(e.Severity), e.ResponderID, e.CreatedAt, doc)
	if err != nil {
		return fmt.Errorf("error upserting emergency: %w", err)
	}
	return nil
}

func (s *SQLiteDB) FindEmergencies(ctx context.Context, f EmergencyFilter) ([]models.Emergency, error) {
	query := `SELECT doc FROM emergencies WHERE 1=1`
	var args []any

	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	if f.Severity != nil {
		query += ` AND severity = ?`
		args = append(args, string(*f.Severity))
	}
	if f.ResponderID != nil {
		query += ` AND responder_id = ?`
		args = append(args, *f.ResponderID)
	}
	if f.Active {
		query += ` AND status != ?`
		args = append(args, string(models.StatusCompleted))
	}

	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying emergencies: %w", err)
	}
	defer rows.Close()

	var results []models.Emergency
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("error scanning emergency row: %w", err)
		}
		var e models.Emergency
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, fmt.Errorf("error decoding emergency doc: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func (s *SQLiteDB) GetHospital(ctx context.Context, id string) (*models.Hospital, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM hospitals WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying hospital: %w", err)
	}

	var h models.Hospital
	if err := json.Unmarshal(doc, &h); err != nil {
		return nil, fmt.Errorf("error decoding hospital doc: %w", err)
	}
	return &h, nil
}

func (s *SQLiteDB) UpsertHospital(ctx context.Context, h *models.Hospital) error {
	doc, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("error encoding hospital doc: %w", err)
	}

	surge := 0
	if h.SurgeMode {
		surge = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hospitals (id, surge_mode, doc)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			surge_mode = excluded.surge_mode,
			doc = excluded.doc`,
		h.ID, surge, doc)
	if err != nil {
		return fmt.Errorf("error upserting hospital: %w", err)
	}
	return nil
}

func (s *SQLiteDB) FindHospitals(ctx context.Context, f HospitalFilter) ([]models.Hospital, error) {
	query := `SELECT doc FROM hospitals WHERE 1=1`
	var args []any

	if f.SurgeMode != nil {
		query += ` AND surge_mode = ?`
		surge := 0
		if *f.SurgeMode {
			surge = 1
		}
		args = append(args, surge)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying hospitals: %w", err)
	}
	defer rows.Close()

	var results []models.Hospital
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("error scanning hospital row: %w", err)
		}
		var h models.Hospital
		if err := json.Unmarshal(doc, &h); err != nil {
			return nil, fmt.Errorf("error decoding hospital doc: %w", err)
		}
		results = append(results, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Load < results[j].Load
	})
	return results, nil
}

func (s *SQLiteDB) GetResponder(ctx context.Context, id string) (*models.Responder, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM responders WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying responder: %w", err)
	}

	var r models.Responder
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("error decoding responder doc: %w", err)
	}
	return &r, nil
}

func (s *SQLiteDB) UpsertResponder(ctx context.Context, r *models.Responder) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("error encoding responder doc: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO responders (id, doc)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`,
		r.ID, doc)
	if err != nil {
		return fmt.Errorf("error upserting responder: %w", err)
	}
	return nil
}
