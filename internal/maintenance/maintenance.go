// Package maintenance provides cleanup operations on an imported database:
// resetting doctor status, finding and removing doctors that share a name,
// and reporting row counts.
package maintenance

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lenmed/importer/internal/logging"
	"github.com/lenmed/importer/internal/store"
)

// OperationTimeout is the maximum duration of a single maintenance operation.
var OperationTimeout = 30 * time.Second

// Store is what the maintenance operations need from a backend.
type Store interface {
	store.Admin
	store.Counter
}

// DuplicateGroup is a set of doctors sharing a normalized full name,
// earliest created first.
type DuplicateGroup struct {
	Name    string
	Records []store.DoctorRecord
}

// Stats holds table row counts.
type Stats struct {
	Hospitals int64
	Doctors   int64
	Links     int64
}

// Manager runs maintenance operations and writes progress for an operator to out.
type Manager struct {
	store Store
	out   io.Writer
}

// New returns a Manager over s.
func New(s Store, out io.Writer) *Manager {
	if out == nil {
		out = io.Discard
	}
	return &Manager{store: s, out: out}
}

// NormalizeName is the grouping key for duplicate detection.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// GroupDuplicates groups records by NormalizeName and returns the groups
// with more than one member, in order of each group's first record.
// Records with a blank name are never grouped.
func GroupDuplicates(records []store.DoctorRecord) []DuplicateGroup {
	index := map[string]int{}
	var groups []DuplicateGroup

	for _, r := range records {
		key := NormalizeName(r.FullName)
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, DuplicateGroup{Name: key})
		}
		groups[i].Records = append(groups[i].Records, r)
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.Records) > 1 {
			out = append(out, g)
		}
	}
	return out
}

// withTimeout bounds one operation by OperationTimeout.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, OperationTimeout)
}

// ResetStatus sets status to NULL on every doctor.
func (m *Manager) ResetStatus(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	fmt.Fprintln(m.out, "Resetting status column to null for all doctors...")
	n, err := m.store.ResetDoctorStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset status: %w", err)
	}

	logging.FromContext(ctx).Info("doctor status reset", "rows", n)
	fmt.Fprintf(m.out, "Status column reset for %d doctors\n", n)
	return n, nil
}

// FindDuplicates lists the doctors sharing a name.
func (m *Manager) FindDuplicates(ctx context.Context) ([]DuplicateGroup, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	fmt.Fprintln(m.out, "Finding duplicate doctors...")
	records, err := m.store.ListDoctorRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("find duplicates: %w", err)
	}

	groups := GroupDuplicates(records)
	fmt.Fprintf(m.out, "Found %d duplicate name groups:\n", len(groups))
	for _, g := range groups {
		fmt.Fprintf(m.out, "  - %q appears %d times\n", g.Name, len(g.Records))
	}

	logging.FromContext(ctx).Info("duplicate scan finished", "doctors", len(records), "groups", len(groups))
	return groups, nil
}

// RemoveDuplicates deletes every doctor but the earliest created in each
// duplicate group. Their links are removed by cascade.
func (m *Manager) RemoveDuplicates(ctx context.Context) (int64, error) {
	groups, err := m.FindDuplicates(ctx)
	if err != nil {
		return 0, err
	}

	var ids []string
	for _, g := range groups {
		for _, r := range g.Records[1:] {
			ids = append(ids, r.ID)
		}
	}

	fmt.Fprintln(m.out, "Removing duplicate doctors (keeping first entry)...")
	if len(ids) == 0 {
		fmt.Fprintln(m.out, "No duplicates to remove!")
		return 0, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	n, err := m.store.DeleteDoctors(ctx, ids)
	if err != nil {
		return n, fmt.Errorf("remove duplicates: %w", err)
	}

	logging.FromContext(ctx).Info("duplicates removed", "requested", len(ids), "deleted", n)
	fmt.Fprintf(m.out, "Removed %d duplicate doctors\n", n)
	return n, nil
}

// Stats counts the rows of every import table.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var st Stats
	for table, dst := range map[string]*int64{
		store.TableHospitals:       &st.Hospitals,
		store.TableDoctors:         &st.Doctors,
		store.TableDoctorHospitals: &st.Links,
	} {
		n, err := m.store.Count(ctx, table)
		if err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
		*dst = n
	}

	fmt.Fprintf(m.out, "Total doctors in database: %d (hospitals: %d, relationships: %d)\n",
		st.Doctors, st.Hospitals, st.Links)
	return st, nil
}

type step func(ctx context.Context) error

// RunAll runs stats, duplicate removal, status reset and stats again,
// stopping at the first error.
func (m *Manager) RunAll(ctx context.Context) error {
	return m.runSteps(ctx, []step{
		func(ctx context.Context) error { _, err := m.Stats(ctx); return err },
		func(ctx context.Context) error { _, err := m.RemoveDuplicates(ctx); return err },
		func(ctx context.Context) error { _, err := m.ResetStatus(ctx); return err },
		func(ctx context.Context) error { _, err := m.Stats(ctx); return err },
	})
}

func (m *Manager) runSteps(ctx context.Context, steps []step) error {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s(ctx); err != nil {
			return err
		}
	}
	return nil
}
