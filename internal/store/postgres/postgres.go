// Package postgres is a store backend that writes straight to PostgreSQL
// (including a Supabase database reached on its direct connection string)
// through pgx. Bulk inserts are single unnest statements, so each call is
// atomic without an explicit transaction.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lenmed/importer/internal/config"
	"github.com/lenmed/importer/internal/core"
	"github.com/lenmed/importer/internal/store"
)

//go:embed schema.sql
var schema string

// PostgreSQL error codes mapped to store sentinels.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Store is a store.Backend on a pgx pool.
type Store struct {
	db   DBTX
	pool *pgxpool.Pool // non-nil when Store owns the pool
}

var _ store.Backend = (*Store)(nil)

// New wraps an existing connection. Close does not close db.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// Open connects with cfg, verifies the connection and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: pool, pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the import tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool if Store opened it.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// mapError translates constraint violations into store sentinels while
// keeping the *pgconn.PgError reachable through errors.As.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %w", store.ErrReference, err)
	}
	return err
}

// ============================================================================
// Hospitals
// ============================================================================

func (s *Store) InsertHospitals(ctx context.Context, names []string) ([]core.Hospital, error) {
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx,
		`INSERT INTO hospitals (name) SELECT unnest($1::text[]) RETURNING id, name`, names)
	if err != nil {
		return nil, fmt.Errorf("insert hospitals: %w", mapError(err))
	}
	out, err := collectHospitals(rows)
	if err != nil {
		return nil, fmt.Errorf("insert hospitals: %w", mapError(err))
	}
	return out, nil
}

func (s *Store) ListHospitals(ctx context.Context) ([]core.Hospital, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name FROM hospitals ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	out, err := collectHospitals(rows)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	return out, nil
}

func collectHospitals(rows pgx.Rows) ([]core.Hospital, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Hospital, error) {
		var (
			id   pgtype.UUID
			name string
		)
		if err := row.Scan(&id, &name); err != nil {
			return core.Hospital{}, err
		}
		return core.Hospital{ID: PgUUIDToString(id), Name: name}, nil
	})
}

// ============================================================================
// Doctors
// ============================================================================

const doctorColumns = `id, title, full_name, disciplines, phone1, phone2, phone3, email, bio_link, permalink, status`

func (s *Store) InsertDoctors(ctx context.Context, doctors []core.Doctor) ([]core.Doctor, error) {
	if len(doctors) == 0 {
		return nil, nil
	}

	n := len(doctors)
	var (
		titles, names, disciplines = make([]string, n), make([]string, n), make([]string, n)
		phone1, phone2, phone3     = make([]string, n), make([]string, n), make([]string, n)
		emails, links, statuses    = make([]string, n), make([]string, n), make([]string, n)
		bioLinks                   = make([]bool, n)
	)
	for i, d := range doctors {
		titles[i], names[i], disciplines[i] = d.Title, d.FullName, d.Disciplines
		phone1[i], phone2[i], phone3[i] = d.Phone1, d.Phone2, d.Phone3
		emails[i], links[i], statuses[i] = d.Email, d.Permalink, d.Status
		bioLinks[i] = d.BioLink
	}

	rows, err := s.db.Query(ctx, `
		INSERT INTO doctors (title, full_name, disciplines, phone1, phone2, phone3, email, bio_link, permalink, status)
		SELECT * FROM unnest(
			$1::text[], $2::text[], $3::text[], $4::text[], $5::text[],
			$6::text[], $7::text[], $8::boolean[], $9::text[], $10::text[]
		)
		RETURNING `+doctorColumns,
		titles, names, disciplines, phone1, phone2, phone3, emails, bioLinks, links, statuses,
	)
	if err != nil {
		return nil, fmt.Errorf("insert doctors: %w", mapError(err))
	}
	out, err := collectDoctors(rows)
	if err != nil {
		return nil, fmt.Errorf("insert doctors: %w", mapError(err))
	}
	return out, nil
}

func (s *Store) InsertDoctor(ctx context.Context, d core.Doctor) (core.Doctor, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO doctors (title, full_name, disciplines, phone1, phone2, phone3, email, bio_link, permalink, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+doctorColumns,
		d.Title, d.FullName, d.Disciplines, d.Phone1, d.Phone2, d.Phone3, d.Email, d.BioLink, d.Permalink, d.Status,
	)
	inserted, err := scanDoctor(row)
	if err != nil {
		return core.Doctor{}, fmt.Errorf("insert doctor %q: %w", d.Permalink, mapError(err))
	}
	return inserted, nil
}

func (s *Store) FindDoctorByPermalink(ctx context.Context, permalink string) (core.Doctor, error) {
	row := s.db.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE permalink = $1`, permalink)
	d, err := scanDoctor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Doctor{}, fmt.Errorf("doctor %q: %w", permalink, store.ErrNotFound)
	}
	if err != nil {
		return core.Doctor{}, fmt.Errorf("find doctor %q: %w", permalink, err)
	}
	return d, nil
}

func (s *Store) ListDoctors(ctx context.Context) ([]core.Doctor, error) {
	rows, err := s.db.Query(ctx, `SELECT `+doctorColumns+` FROM doctors ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	out, err := collectDoctors(rows)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return out, nil
}

func scanDoctor(row pgx.Row) (core.Doctor, error) {
	var (
		id                                                     pgtype.UUID
		title, fullName, disc, p1, p2, p3, email, link, status pgtype.Text
		bioLink                                                pgtype.Bool
	)
	if err := row.Scan(&id, &title, &fullName, &disc, &p1, &p2, &p3, &email, &bioLink, &link, &status); err != nil {
		return core.Doctor{}, err
	}
	return core.Doctor{
		ID:          PgUUIDToString(id),
		Title:       PgTextToString(title),
		FullName:    PgTextToString(fullName),
		Disciplines: PgTextToString(disc),
		Phone1:      PgTextToString(p1),
		Phone2:      PgTextToString(p2),
		Phone3:      PgTextToString(p3),
		Email:       PgTextToString(email),
		BioLink:     bioLink.Valid && bioLink.Bool,
		Permalink:   PgTextToString(link),
		Status:      PgTextToString(status),
	}, nil
}

func collectDoctors(rows pgx.Rows) ([]core.Doctor, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Doctor, error) {
		return scanDoctor(row)
	})
}

// ============================================================================
// Links
// ============================================================================

func (s *Store) InsertLinks(ctx context.Context, pairs []core.IDPair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}

	doctorIDs := make([]pgtype.UUID, len(pairs))
	hospitalIDs := make([]pgtype.UUID, len(pairs))
	for i, p := range pairs {
		doctorIDs[i] = ToPgUUID(p.DoctorID)
		hospitalIDs[i] = ToPgUUID(p.HospitalID)
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO doctor_hospitals (doctor_id, hospital_id)
		SELECT * FROM unnest($1::uuid[], $2::uuid[])`,
		doctorIDs, hospitalIDs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert links: %w", mapError(err))
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) InsertLink(ctx context.Context, p core.IDPair) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO doctor_hospitals (doctor_id, hospital_id) VALUES ($1, $2)`,
		ToPgUUID(p.DoctorID), ToPgUUID(p.HospitalID),
	)
	if err != nil {
		return fmt.Errorf("insert link: %w", mapError(err))
	}
	return nil
}

func (s *Store) ListLinks(ctx context.Context) ([]core.IDPair, error) {
	rows, err := s.db.Query(ctx, `SELECT doctor_id, hospital_id FROM doctor_hospitals ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.IDPair, error) {
		var doctorID, hospitalID pgtype.UUID
		if err := row.Scan(&doctorID, &hospitalID); err != nil {
			return core.IDPair{}, err
		}
		return core.IDPair{DoctorID: PgUUIDToString(doctorID), HospitalID: PgUUIDToString(hospitalID)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return out, nil
}

// ============================================================================
// Admin and counts
// ============================================================================

func (s *Store) ListDoctorRecords(ctx context.Context) ([]store.DoctorRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, full_name, created_at FROM doctors ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list doctor records: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.DoctorRecord, error) {
		var (
			id        pgtype.UUID
			fullName  pgtype.Text
			createdAt time.Time
		)
		if err := row.Scan(&id, &fullName, &createdAt); err != nil {
			return store.DoctorRecord{}, err
		}
		return store.DoctorRecord{
			ID:        PgUUIDToString(id),
			FullName:  PgTextToString(fullName),
			CreatedAt: createdAt,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list doctor records: %w", err)
	}
	return out, nil
}

func (s *Store) ResetDoctorStatus(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE doctors SET status = NULL`)
	if err != nil {
		return 0, fmt.Errorf("reset doctor status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteDoctors(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM doctors WHERE id = ANY($1::uuid[])`, toPgUUIDs(ids))
	if err != nil {
		return 0, fmt.Errorf("delete doctors: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	if !store.KnownTable(table) {
		return 0, fmt.Errorf("count %q: %w", table, store.ErrUnknownTable)
	}
	var n int64
	query := `SELECT COUNT(*) FROM ` + pgx.Identifier{table}.Sanitize()
	if err := s.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
