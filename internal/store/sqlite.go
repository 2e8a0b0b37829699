package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/flood-cli/internal/flood"
	"github.com/sells-group/flood-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS assessments (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL,
	polarity   TEXT NOT NULL,
	threshold  TEXT,
	histogram  TEXT,
	baseline   REAL NOT NULL DEFAULT 0,
	affected   REAL NOT NULL DEFAULT 0,
	warnings   TEXT,
	failure    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS assessment_zones (
	assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
	ord           INTEGER NOT NULL,
	region_id     TEXT NOT NULL,
	region_name   TEXT NOT NULL DEFAULT '',
	baseline      REAL NOT NULL,
	affected      REAL NOT NULL,
	geometry      BLOB,
	PRIMARY KEY (assessment_id, ord)
);

CREATE INDEX IF NOT EXISTS idx_assessments_created_at ON assessments(created_at);
CREATE INDEX IF NOT EXISTS idx_assessments_name ON assessments(name);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveAssessment(ctx context.Context, a *model.Assessment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cols, err := encodeColumns(a)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO assessments (id, name, status, polarity, threshold, histogram, baseline, affected, warnings, failure, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, string(a.Status), string(a.Polarity), string(cols.threshold), string(cols.histogram),
		a.Baseline, a.Affected, string(cols.warnings), string(cols.failure), a.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert assessment %s", a.ID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO assessment_zones (assessment_id, ord, region_id, region_name, baseline, affected, geometry) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare zone insert")
	}
	defer stmt.Close() //nolint:errcheck
	for i, z := range a.Zones {
		if _, err := stmt.ExecContext(ctx, a.ID, i, z.RegionID, z.RegionName, z.Baseline, z.Affected, z.Geometry); err != nil {
			return eris.Wrapf(err, "sqlite: insert zone %s", z.RegionID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit assessment")
}

func (s *SQLiteStore) GetAssessment(ctx context.Context, id string) (*model.Assessment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, polarity, threshold, histogram, baseline, affected, warnings, failure, created_at
		 FROM assessments WHERE id = ?`, id)
	a, err := scanSQLiteAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: assessment %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get assessment %s", id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT region_id, region_name, baseline, affected, geometry FROM assessment_zones WHERE assessment_id = ? ORDER BY ord`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query zones %s", id)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var z model.Zone
		if err := rows.Scan(&z.RegionID, &z.RegionName, &z.Baseline, &z.Affected, &z.Geometry); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan zone")
		}
		a.Zones = append(a.Zones, z)
	}
	return a, eris.Wrap(rows.Err(), "sqlite: iterate zones")
}

func (s *SQLiteStore) ListAssessments(ctx context.Context, filter Filter) ([]model.Assessment, error) {
	query := `SELECT id, name, status, polarity, threshold, histogram, baseline, affected, warnings, failure, created_at FROM assessments`
	var (
		where []string
		args  []any
	)
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit(filter), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assessments")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Assessment
	for rows.Next() {
		a, err := scanSQLiteAssessment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assessment")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate assessments")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteAssessment(row scannable) (*model.Assessment, error) {
	var (
		a                                       model.Assessment
		status, polarity                        string
		threshold, histogram, warnings, failure sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Name, &status, &polarity, &threshold, &histogram,
		&a.Baseline, &a.Affected, &warnings, &failure, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Status = model.AssessmentStatus(status)
	a.Polarity = flood.Polarity(polarity)
	cols := jsonColumns{
		threshold: []byte(threshold.String),
		histogram: []byte(histogram.String),
		warnings:  []byte(warnings.String),
		failure:   []byte(failure.String),
	}
	if err := cols.decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}
