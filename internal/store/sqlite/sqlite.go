// Package sqlite is a local store backend on modernc.org/sqlite. It mirrors
// the Supabase schema closely enough to rehearse an import offline and to
// run the pipeline end to end in tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lenmed/importer/internal/core"
	"github.com/lenmed/importer/internal/store"
)

//go:embed schema.sql
var schema string

// timeLayout is fixed width so created_at sorts correctly as text.
const timeLayout = "2006-01-02 15:04:05.000000000"

// Store is a store.Backend backed by a SQLite database file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Backend = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

// mapError translates SQLite constraint failures into store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %w", store.ErrReference, err)
	}
	return err
}

// inTx runs fn in a transaction, rolling back on any error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ============================================================================
// Hospitals
// ============================================================================

func (s *Store) InsertHospitals(ctx context.Context, names []string) ([]core.Hospital, error) {
	if len(names) == 0 {
		return nil, nil
	}

	out := make([]core.Hospital, 0, len(names))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		ts := s.timestamp()
		for _, name := range names {
			h := core.Hospital{ID: uuid.NewString(), Name: name}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO hospitals (id, name, created_at) VALUES (?, ?, ?)`,
				h.ID, h.Name, ts,
			); err != nil {
				return mapError(err)
			}
			out = append(out, h)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert hospitals: %w", err)
	}
	return out, nil
}

func (s *Store) ListHospitals(ctx context.Context) ([]core.Hospital, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM hospitals ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	defer rows.Close()

	var out []core.Hospital
	for rows.Next() {
		var h core.Hospital
		if err := rows.Scan(&h.ID, &h.Name); err != nil {
			return nil, fmt.Errorf("scan hospital: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ============================================================================
// Doctors
// ============================================================================

const insertDoctorSQL = `INSERT INTO doctors
	(id, title, full_name, disciplines, phone1, phone2, phone3, email, bio_link, permalink, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertDoctor(ctx context.Context, ex execer, d core.Doctor, ts string) (core.Doctor, error) {
	d.ID = uuid.NewString()
	_, err := ex.ExecContext(ctx, insertDoctorSQL,
		d.ID, d.Title, d.FullName, d.Disciplines, d.Phone1, d.Phone2, d.Phone3,
		d.Email, d.BioLink, d.Permalink, d.Status, ts,
	)
	if err != nil {
		return core.Doctor{}, mapError(err)
	}
	return d, nil
}

func (s *Store) InsertDoctors(ctx context.Context, doctors []core.Doctor) ([]core.Doctor, error) {
	if len(doctors) == 0 {
		return nil, nil
	}

	out := make([]core.Doctor, 0, len(doctors))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		ts := s.timestamp()
		for _, d := range doctors {
			inserted, err := s.insertDoctor(ctx, tx, d, ts)
			if err != nil {
				return err
			}
			out = append(out, inserted)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert doctors: %w", err)
	}
	return out, nil
}

func (s *Store) InsertDoctor(ctx context.Context, d core.Doctor) (core.Doctor, error) {
	inserted, err := s.insertDoctor(ctx, s.db, d, s.timestamp())
	if err != nil {
		return core.Doctor{}, fmt.Errorf("insert doctor %q: %w", d.Permalink, err)
	}
	return inserted, nil
}

const selectDoctorSQL = `SELECT id, title, full_name, disciplines, phone1, phone2, phone3,
	email, bio_link, permalink, status FROM doctors`

type scanner interface {
	Scan(dest ...any) error
}

func scanDoctor(sc scanner) (core.Doctor, error) {
	var (
		d                                                      core.Doctor
		title, fullName, disc, p1, p2, p3, email, link, status sql.NullString
	)
	if err := sc.Scan(&d.ID, &title, &fullName, &disc, &p1, &p2, &p3, &email, &d.BioLink, &link, &status); err != nil {
		return core.Doctor{}, err
	}
	d.Title = title.String
	d.FullName = fullName.String
	d.Disciplines = disc.String
	d.Phone1 = p1.String
	d.Phone2 = p2.String
	d.Phone3 = p3.String
	d.Email = email.String
	d.Permalink = link.String
	d.Status = status.String
	return d, nil
}

func (s *Store) FindDoctorByPermalink(ctx context.Context, permalink string) (core.Doctor, error) {
	row := s.db.QueryRowContext(ctx, selectDoctorSQL+` WHERE permalink = ?`, permalink)
	d, err := scanDoctor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Doctor{}, fmt.Errorf("doctor %q: %w", permalink, store.ErrNotFound)
	}
	if err != nil {
		return core.Doctor{}, fmt.Errorf("find doctor %q: %w", permalink, err)
	}
	return d, nil
}

func (s *Store) ListDoctors(ctx context.Context) ([]core.Doctor, error) {
	rows, err := s.db.QueryContext(ctx, selectDoctorSQL+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var out []core.Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ============================================================================
// Links
// ============================================================================

const insertLinkSQL = `INSERT INTO doctor_hospitals (id, doctor_id, hospital_id, created_at) VALUES (?, ?, ?, ?)`

func (s *Store) InsertLinks(ctx context.Context, pairs []core.IDPair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		ts := s.timestamp()
		for _, p := range pairs {
			if _, err := tx.ExecContext(ctx, insertLinkSQL, uuid.NewString(), p.DoctorID, p.HospitalID, ts); err != nil {
				return mapError(err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert links: %w", err)
	}
	return len(pairs), nil
}

func (s *Store) InsertLink(ctx context.Context, p core.IDPair) error {
	_, err := s.db.ExecContext(ctx, insertLinkSQL, uuid.NewString(), p.DoctorID, p.HospitalID, s.timestamp())
	if err != nil {
		return fmt.Errorf("insert link: %w", mapError(err))
	}
	return nil
}

func (s *Store) ListLinks(ctx context.Context) ([]core.IDPair, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doctor_id, hospital_id FROM doctor_hospitals ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var out []core.IDPair
	for rows.Next() {
		var p core.IDPair
		if err := rows.Scan(&p.DoctorID, &p.HospitalID); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ============================================================================
// Admin and counts
// ============================================================================

func (s *Store) ListDoctorRecords(ctx context.Context) ([]store.DoctorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(full_name, ''), created_at FROM doctors ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list doctor records: %w", err)
	}
	defer rows.Close()

	var out []store.DoctorRecord
	for rows.Next() {
		var (
			r  store.DoctorRecord
			ts string
		)
		if err := rows.Scan(&r.ID, &r.FullName, &ts); err != nil {
			return nil, fmt.Errorf("scan doctor record: %w", err)
		}
		if r.CreatedAt, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("doctor %s created_at %q: %w", r.ID, ts, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ResetDoctorStatus(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE doctors SET status = NULL`)
	if err != nil {
		return 0, fmt.Errorf("reset doctor status: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) DeleteDoctors(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var total int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, `DELETE FROM doctors WHERE id = ?`, id)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete doctors: %w", err)
	}
	return total, nil
}

func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	if !store.KnownTable(table) {
		return 0, fmt.Errorf("count %q: %w", table, store.ErrUnknownTable)
	}
	var n int64
	// table is one of store.Tables, so it is safe to interpolate.
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
