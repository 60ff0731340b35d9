// Package store defines the persistence contract the import pipeline writes
// through, independent of whether rows land in Supabase over PostgREST, in
// PostgreSQL directly, or in a local SQLite file.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lenmed/importer/internal/core"
)

// Table names of the three import targets.
const (
	TableHospitals       = "hospitals"
	TableDoctors         = "doctors"
	TableDoctorHospitals = "doctor_hospitals"
)

// Tables lists every table a backend must be able to count.
var Tables = []string{TableHospitals, TableDoctors, TableDoctorHospitals}

var (
	// ErrDuplicate reports a uniqueness violation. Callers treat it as
	// "row already exists", not as a failure.
	ErrDuplicate = errors.New("duplicate key")

	// ErrReference reports a foreign key violation.
	ErrReference = errors.New("foreign key violation")

	// ErrNotFound reports that a lookup by natural key matched no row.
	ErrNotFound = errors.New("not found")

	// ErrUnknownTable is returned by Count for a table outside Tables.
	ErrUnknownTable = errors.New("unknown table")
)

// Store is what the reconciling writer needs from a backend.
//
// Bulk inserts are atomic: either every row is written or none is, and a
// uniqueness violation on any row fails the whole call with ErrDuplicate.
type Store interface {
	InsertHospitals(ctx context.Context, names []string) ([]core.Hospital, error)
	ListHospitals(ctx context.Context) ([]core.Hospital, error)

	InsertDoctors(ctx context.Context, doctors []core.Doctor) ([]core.Doctor, error)
	InsertDoctor(ctx context.Context, d core.Doctor) (core.Doctor, error)
	FindDoctorByPermalink(ctx context.Context, permalink string) (core.Doctor, error)
	ListDoctors(ctx context.Context) ([]core.Doctor, error)

	InsertLinks(ctx context.Context, pairs []core.IDPair) (int, error)
	InsertLink(ctx context.Context, pair core.IDPair) error
	ListLinks(ctx context.Context) ([]core.IDPair, error)
}

// DoctorRecord is the slice of a doctor row the maintenance commands use.
type DoctorRecord struct {
	ID        string
	FullName  string
	CreatedAt time.Time
}

// Admin exposes the maintenance operations on the doctors table.
type Admin interface {
	// ListDoctorRecords returns every doctor ordered by created_at, then id.
	ListDoctorRecords(ctx context.Context) ([]DoctorRecord, error)
	// ResetDoctorStatus sets status to NULL on every doctor.
	ResetDoctorStatus(ctx context.Context) (int64, error)
	// DeleteDoctors removes the given ids; links cascade.
	DeleteDoctors(ctx context.Context, ids []string) (int64, error)
}

// Counter reports row counts per table.
type Counter interface {
	Count(ctx context.Context, table string) (int64, error)
}

// Backend is a complete store implementation.
type Backend interface {
	Store
	Admin
	Counter
	Close() error
}

// KnownTable reports whether table is one of Tables.
func KnownTable(table string) bool {
	for _, t := range Tables {
		if t == table {
			return true
		}
	}
	return false
}
