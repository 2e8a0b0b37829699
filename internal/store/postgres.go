package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/flood-cli/internal/db"
	"github.com/sells-group/flood-cli/internal/flood"
	"github.com/sells-group/flood-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	insertAssessmentSQL = `INSERT INTO assessments (id, name, status, polarity, threshold, histogram, baseline, affected, warnings, failure, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	getAssessmentSQL    = `SELECT id, name, status, polarity, threshold, histogram, baseline, affected, warnings, failure, created_at FROM assessments WHERE id = $1`
	listZonesSQL        = `SELECT region_id, region_name, baseline, affected, geometry FROM assessment_zones WHERE assessment_id = $1 ORDER BY ord`
)

var zoneColumns = []string{"assessment_id", "ord", "region_id", "region_name", "baseline", "affected", "geometry"}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"get_assessment": getAssessmentSQL,
	"list_zones":     listZonesSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first migrate.
				var pgErr interface{ SQLState() string }
				if errors.As(err, &pgErr) && pgErr.SQLState() == "42P01" {
					continue
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS assessments (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL,
	polarity   TEXT NOT NULL,
	threshold  JSONB,
	histogram  JSONB,
	baseline   DOUBLE PRECISION NOT NULL DEFAULT 0,
	affected   DOUBLE PRECISION NOT NULL DEFAULT 0,
	warnings   JSONB,
	failure    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS assessment_zones (
	assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
	ord           INTEGER NOT NULL,
	region_id     TEXT NOT NULL,
	region_name   TEXT NOT NULL DEFAULT '',
	baseline      DOUBLE PRECISION NOT NULL,
	affected      DOUBLE PRECISION NOT NULL,
	geometry      BYTEA,
	PRIMARY KEY (assessment_id, ord)
);

CREATE INDEX IF NOT EXISTS idx_assessments_created_at ON assessments(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_assessments_name ON assessments(name);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveAssessment(ctx context.Context, a *model.Assessment) error {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, insertAssessmentSQL,
		a.ID, a.Name, string(a.Status), string(a.Polarity), cols.threshold, cols.histogram,
		a.Baseline, a.Affected, cols.warnings, cols.failure, a.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert assessment %s", a.ID)
	}

	if _, err := db.CopyRows(ctx, tx, "assessment_zones", zoneColumns, a.Zones, func(i int, z model.Zone) []any {
		return []any{a.ID, i, z.RegionID, z.RegionName, z.Baseline, z.Affected, z.Geometry}
	}); err != nil {
		return eris.Wrapf(err, "postgres: copy zones of %s", a.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit assessment")
}

func (s *PostgresStore) GetAssessment(ctx context.Context, id string) (*model.Assessment, error) {
	a, err := scanPostgresAssessment(s.pool.QueryRow(ctx, getAssessmentSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: assessment %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get assessment %s", id)
	}

	rows, err := s.pool.Query(ctx, listZonesSQL, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query zones %s", id)
	}
	defer rows.Close()
	for rows.Next() {
		var z model.Zone
		if err := rows.Scan(&z.RegionID, &z.RegionName, &z.Baseline, &z.Affected, &z.Geometry); err != nil {
			return nil, eris.Wrap(err, "postgres: scan zone")
		}
		a.Zones = append(a.Zones, z)
	}
	return a, eris.Wrap(rows.Err(), "postgres: iterate zones")
}

func (s *PostgresStore) ListAssessments(ctx context.Context, filter Filter) ([]model.Assessment, error) {
	query := `SELECT id, name, status, polarity, threshold, histogram, baseline, affected, warnings, failure, created_at FROM assessments`
	var (
		where []string
		args  []any
	)
	if filter.Name != "" {
		args = append(args, filter.Name)
		where = append(where, fmt.Sprintf("name = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit(filter), filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assessments")
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		a, err := scanPostgresAssessment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan assessment")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate assessments")
}

func scanPostgresAssessment(row pgx.Row) (*model.Assessment, error) {
	var (
		a                model.Assessment
		status, polarity string
		cols             jsonColumns
	)
	if err := row.Scan(&a.ID, &a.Name, &status, &polarity, &cols.threshold, &cols.histogram,
		&a.Baseline, &a.Affected, &cols.warnings, &cols.failure, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Status = model.AssessmentStatus(status)
	a.Polarity = flood.Polarity(polarity)
	if err := cols.decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}
