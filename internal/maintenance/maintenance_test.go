package maintenance

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lenmed/importer/internal/core"
	"github.com/lenmed/importer/internal/store"
	"github.com/lenmed/importer/internal/store/sqlite"
	"github.com/lenmed/importer/internal/store/storetest"
)

type fakeAdmin struct {
	records  []store.DoctorRecord
	deleted  [][]string
	listErr  error
	countErr error
	calls    []string
}

func (f *fakeAdmin) ListDoctorRecords(context.Context) ([]store.DoctorRecord, error) {
	f.calls = append(f.calls, "list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]store.DoctorRecord(nil), f.records...), nil
}

func (f *fakeAdmin) ResetDoctorStatus(context.Context) (int64, error) {
	f.calls = append(f.calls, "reset")
	return int64(len(f.records)), nil
}

func (f *fakeAdmin) DeleteDoctors(_ context.Context, ids []string) (int64, error) {
	f.calls = append(f.calls, "delete")
	f.deleted = append(f.deleted, ids)
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := f.records[:0]
	for _, r := range f.records {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	n := int64(len(f.records) - len(kept))
	f.records = kept
	return n, nil
}

func (f *fakeAdmin) Count(_ context.Context, table string) (int64, error) {
	f.calls = append(f.calls, "count:"+table)
	if f.countErr != nil {
		return 0, f.countErr
	}
	if table == store.TableDoctors {
		return int64(len(f.records)), nil
	}
	return 0, nil
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func record(id, name string, minute int) store.DoctorRecord {
	return store.DoctorRecord{ID: id, FullName: name, CreatedAt: base.Add(time.Duration(minute) * time.Minute)}
}

// ============================================================================
// Grouping
// ============================================================================

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Priya Naidoo", "priya naidoo"},
		{"  PRIYA NAIDOO  ", "priya naidoo"},
		{"", ""},
		{"   ", ""},
		{"Dr O'Brien", "dr o'brien"},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGroupDuplicates(t *testing.T) {
	records := []store.DoctorRecord{
		record("1", "Priya Naidoo", 0),
		record("2", "Thabo Mokoena", 1),
		record("3", "priya naidoo ", 2),
		record("4", "", 3),
		record("5", "  ", 4),
		record("6", "THABO MOKOENA", 5),
		record("7", "Anna van Wyk", 6),
		record("8", "Priya Naidoo", 7),
	}

	got := GroupDuplicates(records)
	if len(got) != 2 {
		t.Fatalf("GroupDuplicates() = %d groups, want 2: %+v", len(got), got)
	}

	wantIDs := map[string][]string{
		"priya naidoo":  {"1", "3", "8"},
		"thabo mokoena": {"2", "6"},
	}
	order := []string{"priya naidoo", "thabo mokoena"}
	for i, g := range got {
		if g.Name != order[i] {
			t.Errorf("group[%d].Name = %q, want %q", i, g.Name, order[i])
		}
		var ids []string
		for _, r := range g.Records {
			ids = append(ids, r.ID)
		}
		if !reflect.DeepEqual(ids, wantIDs[g.Name]) {
			t.Errorf("group %q ids = %v, want %v", g.Name, ids, wantIDs[g.Name])
		}
	}
}

func TestGroupDuplicates_NoDuplicates(t *testing.T) {
	got := GroupDuplicates([]store.DoctorRecord{record("1", "A", 0), record("2", "B", 1), record("3", "", 2), record("4", "", 3)})
	if len(got) != 0 {
		t.Errorf("GroupDuplicates() = %+v, want none", got)
	}
}

// ============================================================================
// Operations
// ============================================================================

func TestManager_RemoveDuplicatesKeepsEarliest(t *testing.T) {
	f := &fakeAdmin{records: []store.DoctorRecord{
		record("a", "Priya Naidoo", 0),
		record("b", "Priya Naidoo", 1),
		record("c", "Thabo Mokoena", 2),
		record("d", "priya naidoo", 3),
	}}
	var out bytes.Buffer

	n, err := New(f, &out).RemoveDuplicates(context.Background())
	if err != nil {
		t.Fatalf("RemoveDuplicates() error = %v", err)
	}
	if n != 2 {
		t.Errorf("RemoveDuplicates() = %d, want 2", n)
	}
	if len(f.deleted) != 1 || !reflect.DeepEqual(f.deleted[0], []string{"b", "d"}) {
		t.Errorf("deleted = %v, want [[b d]]", f.deleted)
	}
	if !strings.Contains(out.String(), `"priya naidoo" appears 3 times`) {
		t.Errorf("output missing group line:\n%s", out.String())
	}
}

func TestManager_RemoveDuplicatesNothingToDo(t *testing.T) {
	f := &fakeAdmin{records: []store.DoctorRecord{record("a", "A", 0)}}
	var out bytes.Buffer

	n, err := New(f, &out).RemoveDuplicates(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("RemoveDuplicates() = %d, %v; want 0, nil", n, err)
	}
	if len(f.deleted) != 0 {
		t.Errorf("DeleteDoctors called with %v, want no call", f.deleted)
	}
	if !strings.Contains(out.String(), "No duplicates to remove!") {
		t.Errorf("output = %q", out.String())
	}
}

func TestManager_Errors(t *testing.T) {
	boom := errors.New("status 503")

	f := &fakeAdmin{listErr: boom}
	if _, err := New(f, nil).FindDuplicates(context.Background()); !errors.Is(err, boom) {
		t.Errorf("FindDuplicates() error = %v, want %v", err, boom)
	}
	if _, err := New(f, nil).RemoveDuplicates(context.Background()); !errors.Is(err, boom) {
		t.Errorf("RemoveDuplicates() error = %v, want %v", err, boom)
	}

	f = &fakeAdmin{countErr: boom}
	if _, err := New(f, nil).Stats(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Stats() error = %v, want %v", err, boom)
	}
}

func TestManager_RunAllOrder(t *testing.T) {
	f := &fakeAdmin{records: []store.DoctorRecord{
		record("a", "Priya Naidoo", 0),
		record("b", "Priya Naidoo", 1),
	}}

	if err := New(f, nil).RunAll(context.Background()); err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}

	var ops []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, "count:") && c != "count:"+store.TableDoctors {
			continue
		}
		ops = append(ops, c)
	}
	want := []string{"count:doctors", "list", "delete", "reset", "count:doctors"}
	if !reflect.DeepEqual(ops, want) {
		t.Errorf("operation order = %v, want %v", ops, want)
	}
	if len(f.records) != 1 || f.records[0].ID != "a" {
		t.Errorf("remaining records = %+v, want only a", f.records)
	}
}

func TestManager_RunAllStopsOnError(t *testing.T) {
	f := &fakeAdmin{countErr: errors.New("status 401")}
	if err := New(f, nil).RunAll(context.Background()); err == nil {
		t.Fatal("RunAll() error = nil, want error")
	}
	for _, c := range f.calls {
		if c == "reset" || c == "delete" {
			t.Errorf("RunAll() ran %q after a failed step", c)
		}
	}
}

func TestManager_RunAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeAdmin{}
	if err := New(f, nil).RunAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("RunAll() error = %v, want context.Canceled", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("calls = %v, want none", f.calls)
	}
}

// ============================================================================
// SQLite
// ============================================================================

func TestManager_SQLite(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	defer s.Close()

	names := map[string]string{
		"dr-a": "Priya Naidoo",
		"dr-b": "PRIYA NAIDOO",
		"dr-c": "Thabo Mokoena",
	}
	for _, p := range []string{"dr-a", "dr-b", "dr-c"} {
		d := storetest.Doctor(p)
		d.FullName = names[p]
		if _, err := s.InsertDoctor(ctx, d); err != nil {
			t.Fatalf("InsertDoctor(%s) error = %v", p, err)
		}
	}
	hs, err := s.InsertHospitals(ctx, []string{"H1"})
	if err != nil {
		t.Fatalf("InsertHospitals() error = %v", err)
	}
	all, err := s.ListDoctors(ctx)
	if err != nil {
		t.Fatalf("ListDoctors() error = %v", err)
	}
	for _, d := range all {
		if err := s.InsertLink(ctx, core.IDPair{DoctorID: d.ID, HospitalID: hs[0].ID}); err != nil {
			t.Fatalf("InsertLink() error = %v", err)
		}
	}

	var out bytes.Buffer
	m := New(s, &out)
	if err := m.RunAll(ctx); err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}

	st, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st != (Stats{Hospitals: 1, Doctors: 2, Links: 2}) {
		t.Errorf("Stats() = %+v, want 1 hospital, 2 doctors, 2 links", st)
	}

	left, err := s.ListDoctors(ctx)
	if err != nil {
		t.Fatalf("ListDoctors() error = %v", err)
	}
	for _, d := range left {
		if d.Status != "" {
			t.Errorf("doctor %q status = %q, want reset", d.Permalink, d.Status)
		}
	}
}
