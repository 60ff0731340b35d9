// Package storetest holds a behavioural suite every store.Backend must pass.
package storetest

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/uuid"

	"github.com/lenmed/importer/internal/core"
	"github.com/lenmed/importer/internal/store"
)

// Factory returns an empty backend. The suite closes it.
type Factory func(t *testing.T) store.Backend

// Run executes the suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("Hospitals", func(t *testing.T) { testHospitals(t, newBackend(t)) })
	t.Run("Doctors", func(t *testing.T) { testDoctors(t, newBackend(t)) })
	t.Run("Links", func(t *testing.T) { testLinks(t, newBackend(t)) })
	t.Run("Admin", func(t *testing.T) { testAdmin(t, newBackend(t)) })
	t.Run("Count", func(t *testing.T) { testCount(t, newBackend(t)) })
}

// Doctor returns a fully populated doctor for permalink.
func Doctor(permalink string) core.Doctor {
	return core.Doctor{
		Title:       "Dr",
		FullName:    "Dr " + permalink,
		Disciplines: "General Practice",
		Phone1:      "011 000 0001",
		Email:       permalink + "@example.com",
		BioLink:     true,
		Permalink:   permalink,
		Status:      core.DefaultStatus,
	}
}

func closeBackend(t *testing.T, b store.Backend) {
	t.Helper()
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func testHospitals(t *testing.T, b store.Backend) {
	defer closeBackend(t, b)
	ctx := context.Background()

	got, err := b.InsertHospitals(ctx, nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("InsertHospitals(nil) = %v, %v; want empty, nil", got, err)
	}

	got, err = b.InsertHospitals(ctx, []string{"Zamokuhle", "Ahmed Kathrada"})
	if err != nil {
		t.Fatalf("InsertHospitals() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("InsertHospitals() returned %d rows, want 2", len(got))
	}
	for _, h := range got {
		if h.ID == "" || h.Name == "" {
			t.Errorf("inserted hospital %+v missing id or name", h)
		}
	}

	_, err = b.InsertHospitals(ctx, []string{"Ahmed Kathrada", "Randfontein"})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("InsertHospitals(overlap) error = %v, want ErrDuplicate", err)
	}

	all, err := b.ListHospitals(ctx)
	if err != nil {
		t.Fatalf("ListHospitals() error = %v", err)
	}
	names := make([]string, 0, len(all))
	for _, h := range all {
		names = append(names, h.Name)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "Ahmed Kathrada" || names[1] != "Zamokuhle" {
		t.Errorf("ListHospitals() names = %v, want the two original rows only", names)
	}
}

func testDoctors(t *testing.T, b store.Backend) {
	defer closeBackend(t, b)
	ctx := context.Background()

	got, err := b.InsertDoctors(ctx, []core.Doctor{Doctor("dr-a"), Doctor("dr-b")})
	if err != nil {
		t.Fatalf("InsertDoctors() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("InsertDoctors() returned %d rows, want 2", len(got))
	}
	ids := map[string]string{}
	for _, d := range got {
		if d.ID == "" {
			t.Errorf("doctor %q has no id", d.Permalink)
		}
		ids[d.Permalink] = d.ID
	}

	_, err = b.InsertDoctors(ctx, []core.Doctor{Doctor("dr-b"), Doctor("dr-c")})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("InsertDoctors(overlap) error = %v, want ErrDuplicate", err)
	}
	if _, err := b.FindDoctorByPermalink(ctx, "dr-c"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("dr-c after failed batch: error = %v, want ErrNotFound", err)
	}

	c, err := b.InsertDoctor(ctx, Doctor("dr-c"))
	if err != nil {
		t.Fatalf("InsertDoctor(dr-c) error = %v", err)
	}
	if c.ID == "" || c.Permalink != "dr-c" {
		t.Errorf("InsertDoctor(dr-c) = %+v", c)
	}

	if _, err := b.InsertDoctor(ctx, Doctor("dr-a")); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("InsertDoctor(dr-a) error = %v, want ErrDuplicate", err)
	}

	a, err := b.FindDoctorByPermalink(ctx, "dr-a")
	if err != nil {
		t.Fatalf("FindDoctorByPermalink(dr-a) error = %v", err)
	}
	if a.ID != ids["dr-a"] {
		t.Errorf("FindDoctorByPermalink(dr-a).ID = %q, want %q", a.ID, ids["dr-a"])
	}

	all, err := b.ListDoctors(ctx)
	if err != nil {
		t.Fatalf("ListDoctors() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListDoctors() returned %d rows, want 3", len(all))
	}
	for _, d := range all {
		want := Doctor(d.Permalink)
		want.ID = d.ID
		if d != want {
			t.Errorf("ListDoctors() row = %+v, want %+v", d, want)
		}
	}
}

func testLinks(t *testing.T, b store.Backend) {
	defer closeBackend(t, b)
	ctx := context.Background()

	hs, err := b.InsertHospitals(ctx, []string{"H1", "H2"})
	if err != nil {
		t.Fatalf("InsertHospitals() error = %v", err)
	}
	ds, err := b.InsertDoctors(ctx, []core.Doctor{Doctor("dr-a")})
	if err != nil {
		t.Fatalf("InsertDoctors() error = %v", err)
	}

	p1 := core.IDPair{DoctorID: ds[0].ID, HospitalID: hs[0].ID}
	p2 := core.IDPair{DoctorID: ds[0].ID, HospitalID: hs[1].ID}

	n, err := b.InsertLinks(ctx, []core.IDPair{p1})
	if err != nil || n != 1 {
		t.Fatalf("InsertLinks() = %d, %v; want 1, nil", n, err)
	}

	if _, err := b.InsertLinks(ctx, []core.IDPair{p2, p1}); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("InsertLinks(overlap) error = %v, want ErrDuplicate", err)
	}
	if err := b.InsertLink(ctx, p1); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("InsertLink(existing) error = %v, want ErrDuplicate", err)
	}
	if err := b.InsertLink(ctx, p2); err != nil {
		t.Errorf("InsertLink(new) error = %v", err)
	}

	orphan := core.IDPair{DoctorID: uuid.NewString(), HospitalID: hs[0].ID}
	err = b.InsertLink(ctx, orphan)
	if err == nil {
		t.Fatal("InsertLink(orphan) error = nil, want foreign key error")
	}
	if errors.Is(err, store.ErrDuplicate) {
		t.Errorf("InsertLink(orphan) error = %v, should not be ErrDuplicate", err)
	}
	if !errors.Is(err, store.ErrReference) {
		t.Errorf("InsertLink(orphan) error = %v, want ErrReference", err)
	}

	count, err := b.Count(ctx, store.TableDoctorHospitals)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count(doctor_hospitals) = %d, want 2", count)
	}

	links, err := b.ListLinks(ctx)
	if err != nil {
		t.Fatalf("ListLinks() error = %v", err)
	}
	got := map[core.IDPair]bool{}
	for _, p := range links {
		got[p] = true
	}
	if len(links) != 2 || !got[p1] || !got[p2] {
		t.Errorf("ListLinks() = %v, want %v and %v", links, p1, p2)
	}
}

func testAdmin(t *testing.T, b store.Backend) {
	defer closeBackend(t, b)
	ctx := context.Background()

	ds, err := b.InsertDoctors(ctx, []core.Doctor{Doctor("dr-a"), Doctor("dr-b"), Doctor("dr-c")})
	if err != nil {
		t.Fatalf("InsertDoctors() error = %v", err)
	}
	hs, err := b.InsertHospitals(ctx, []string{"H1"})
	if err != nil {
		t.Fatalf("InsertHospitals() error = %v", err)
	}
	if _, err := b.InsertLinks(ctx, []core.IDPair{{DoctorID: ds[0].ID, HospitalID: hs[0].ID}}); err != nil {
		t.Fatalf("InsertLinks() error = %v", err)
	}

	records, err := b.ListDoctorRecords(ctx)
	if err != nil {
		t.Fatalf("ListDoctorRecords() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("ListDoctorRecords() returned %d, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].CreatedAt.Before(records[i-1].CreatedAt) {
			t.Errorf("ListDoctorRecords() not ordered by created_at at %d", i)
		}
	}
	for _, r := range records {
		if r.FullName == "" || r.CreatedAt.IsZero() {
			t.Errorf("record %+v missing full name or created_at", r)
		}
	}

	n, err := b.ResetDoctorStatus(ctx)
	if err != nil {
		t.Fatalf("ResetDoctorStatus() error = %v", err)
	}
	if n != 3 {
		t.Errorf("ResetDoctorStatus() = %d, want 3", n)
	}
	all, err := b.ListDoctors(ctx)
	if err != nil {
		t.Fatalf("ListDoctors() error = %v", err)
	}
	for _, d := range all {
		if d.Status != "" {
			t.Errorf("doctor %q status = %q after reset, want empty", d.Permalink, d.Status)
		}
	}

	deleted, err := b.DeleteDoctors(ctx, []string{ds[0].ID, ds[1].ID})
	if err != nil {
		t.Fatalf("DeleteDoctors() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("DeleteDoctors() = %d, want 2", deleted)
	}
	if n, _ := b.Count(ctx, store.TableDoctors); n != 1 {
		t.Errorf("Count(doctors) = %d, want 1", n)
	}
	if n, _ := b.Count(ctx, store.TableDoctorHospitals); n != 0 {
		t.Errorf("Count(doctor_hospitals) = %d, want 0 after cascade", n)
	}

	if n, err := b.DeleteDoctors(ctx, nil); err != nil || n != 0 {
		t.Errorf("DeleteDoctors(nil) = %d, %v; want 0, nil", n, err)
	}
}

func testCount(t *testing.T, b store.Backend) {
	defer closeBackend(t, b)
	ctx := context.Background()

	for _, table := range store.Tables {
		n, err := b.Count(ctx, table)
		if err != nil {
			t.Fatalf("Count(%s) error = %v", table, err)
		}
		if n != 0 {
			t.Errorf("Count(%s) = %d, want 0 on empty store", table, n)
		}
	}

	if _, err := b.Count(ctx, "users"); !errors.Is(err, store.ErrUnknownTable) {
		t.Errorf("Count(users) error = %v, want ErrUnknownTable", err)
	}
}
