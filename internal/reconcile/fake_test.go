package reconcile

import (
	"context"
	"fmt"

	"github.com/lenmed/importer/internal/core"
	"github.com/lenmed/importer/internal/store"
)

// fakeStore is an in-memory store.Store with the same atomic, first-write-wins
// semantics as the real backends. The hook fields inject failures per call.
type fakeStore struct {
	hospitals     map[string]string
	hospitalOrder []string
	doctors       map[string]core.Doctor
	doctorOrder   []string
	links         map[core.IDPair]bool
	linkOrder     []core.IDPair
	nextID        int

	insertHospitalsErr func(names []string) error
	listHospitalsErr   error
	insertDoctorsErr   func(batch []core.Doctor) error
	insertDoctorErr    func(d core.Doctor) error
	findDoctorErr      func(permalink string) error
	listDoctorsErr     error
	insertLinksErr     func(batch []core.IDPair) error
	insertLinkErr      func(p core.IDPair) error
	listLinksErr       error

	calls map[string]int
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		hospitals: map[string]string{},
		doctors:   map[string]core.Doctor{},
		links:     map[core.IDPair]bool{},
		calls:     map[string]int{},
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

// seedHospital stores name as if a previous run wrote it.
func (f *fakeStore) seedHospital(name string) string {
	id := f.id("h")
	f.hospitals[name] = id
	f.hospitalOrder = append(f.hospitalOrder, name)
	return id
}

// seedDoctor stores d as if a previous run wrote it.
func (f *fakeStore) seedDoctor(d core.Doctor) string {
	d.ID = f.id("d")
	f.doctors[d.Permalink] = d
	f.doctorOrder = append(f.doctorOrder, d.Permalink)
	return d.ID
}

func (f *fakeStore) InsertHospitals(_ context.Context, names []string) ([]core.Hospital, error) {
	f.calls["InsertHospitals"]++
	if f.insertHospitalsErr != nil {
		if err := f.insertHospitalsErr(names); err != nil {
			return nil, err
		}
	}
	seen := map[string]bool{}
	for _, n := range names {
		if _, ok := f.hospitals[n]; ok || seen[n] {
			return nil, fmt.Errorf("hospital %q: %w", n, store.ErrDuplicate)
		}
		seen[n] = true
	}
	out := make([]core.Hospital, len(names))
	for i, n := range names {
		out[i] = core.Hospital{ID: f.seedHospital(n), Name: n}
	}
	return out, nil
}

func (f *fakeStore) ListHospitals(context.Context) ([]core.Hospital, error) {
	f.calls["ListHospitals"]++
	if f.listHospitalsErr != nil {
		return nil, f.listHospitalsErr
	}
	out := make([]core.Hospital, 0, len(f.hospitalOrder))
	for _, n := range f.hospitalOrder {
		out = append(out, core.Hospital{ID: f.hospitals[n], Name: n})
	}
	return out, nil
}

func (f *fakeStore) InsertDoctors(_ context.Context, batch []core.Doctor) ([]core.Doctor, error) {
	f.calls["InsertDoctors"]++
	if f.insertDoctorsErr != nil {
		if err := f.insertDoctorsErr(batch); err != nil {
			return nil, err
		}
	}
	seen := map[string]bool{}
	for _, d := range batch {
		if _, ok := f.doctors[d.Permalink]; ok || seen[d.Permalink] {
			return nil, fmt.Errorf("doctor %q: %w", d.Permalink, store.ErrDuplicate)
		}
		seen[d.Permalink] = true
	}
	out := make([]core.Doctor, len(batch))
	for i, d := range batch {
		d.ID = f.seedDoctor(d)
		out[i] = d
	}
	return out, nil
}

func (f *fakeStore) InsertDoctor(_ context.Context, d core.Doctor) (core.Doctor, error) {
	f.calls["InsertDoctor"]++
	if f.insertDoctorErr != nil {
		if err := f.insertDoctorErr(d); err != nil {
			return core.Doctor{}, err
		}
	}
	if _, ok := f.doctors[d.Permalink]; ok {
		return core.Doctor{}, fmt.Errorf("doctor %q: %w", d.Permalink, store.ErrDuplicate)
	}
	d.ID = f.seedDoctor(d)
	return d, nil
}

func (f *fakeStore) FindDoctorByPermalink(_ context.Context, permalink string) (core.Doctor, error) {
	f.calls["FindDoctorByPermalink"]++
	if f.findDoctorErr != nil {
		if err := f.findDoctorErr(permalink); err != nil {
			return core.Doctor{}, err
		}
	}
	d, ok := f.doctors[permalink]
	if !ok {
		return core.Doctor{}, fmt.Errorf("doctor %q: %w", permalink, store.ErrNotFound)
	}
	return d, nil
}

func (f *fakeStore) ListDoctors(context.Context) ([]core.Doctor, error) {
	f.calls["ListDoctors"]++
	if f.listDoctorsErr != nil {
		return nil, f.listDoctorsErr
	}
	out := make([]core.Doctor, 0, len(f.doctorOrder))
	for _, p := range f.doctorOrder {
		out = append(out, f.doctors[p])
	}
	return out, nil
}

func (f *fakeStore) checkLink(p core.IDPair) error {
	if !f.hasDoctorID(p.DoctorID) || !f.hasHospitalID(p.HospitalID) {
		return fmt.Errorf("link %v: %w", p, store.ErrReference)
	}
	if f.links[p] {
		return fmt.Errorf("link %v: %w", p, store.ErrDuplicate)
	}
	return nil
}

func (f *fakeStore) InsertLinks(_ context.Context, batch []core.IDPair) (int, error) {
	f.calls["InsertLinks"]++
	if f.insertLinksErr != nil {
		if err := f.insertLinksErr(batch); err != nil {
			return 0, err
		}
	}
	for _, p := range batch {
		if err := f.checkLink(p); err != nil {
			return 0, err
		}
	}
	for _, p := range batch {
		f.seedLink(p)
	}
	return len(batch), nil
}

func (f *fakeStore) InsertLink(_ context.Context, p core.IDPair) error {
	f.calls["InsertLink"]++
	if f.insertLinkErr != nil {
		if err := f.insertLinkErr(p); err != nil {
			return err
		}
	}
	if err := f.checkLink(p); err != nil {
		return err
	}
	f.seedLink(p)
	return nil
}

// seedLink stores p as if a previous run or an operator wrote it.
func (f *fakeStore) seedLink(p core.IDPair) {
	f.links[p] = true
	f.linkOrder = append(f.linkOrder, p)
}

func (f *fakeStore) ListLinks(context.Context) ([]core.IDPair, error) {
	f.calls["ListLinks"]++
	if f.listLinksErr != nil {
		return nil, f.listLinksErr
	}
	return append([]core.IDPair(nil), f.linkOrder...), nil
}

func (f *fakeStore) hasDoctorID(id string) bool {
	for _, d := range f.doctors {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (f *fakeStore) hasHospitalID(id string) bool {
	for _, h := range f.hospitals {
		if h == id {
			return true
		}
	}
	return false
}
