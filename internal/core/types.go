package core

// Recognized CSV header names. Matching is exact after trimming.
const (
	ColHospitalName   = "Hospital Name"
	ColPermalink      = "Permalink"
	ColTitle          = "Title"
	ColFullName       = "Dr Full Name"
	ColDisciplines    = "Doctors Disciplines"
	ColPhone1         = "wpcf-doctor-telephone"
	ColPhone2         = "wpcf-doctor-telephone-2"
	ColPhone3         = "wpcf-doctor-telephone-3"
	ColEmail          = "wpcf-contact-email"
	ColDisplayBioLink = "wpcf-display-bio-link"
	ColStatus         = "Status"
)

// RecognizedColumns lists every header the parser maps onto a RawRecord.
var RecognizedColumns = []string{
	ColHospitalName,
	ColPermalink,
	ColTitle,
	ColFullName,
	ColDisciplines,
	ColPhone1,
	ColPhone2,
	ColPhone3,
	ColEmail,
	ColDisplayBioLink,
	ColStatus,
}

// RequiredColumns must be present in the header for a parse to succeed.
var RequiredColumns = []string{ColHospitalName, ColPermalink}

// DefaultStatus is applied to doctors whose Status cell is empty.
const DefaultStatus = "publish"

// RawRecord is one data row of the flat extract, with every cell trimmed.
type RawRecord struct {
	Line           int // 1-indexed source line, for diagnostics
	HospitalName   string
	Permalink      string
	Title          string
	FullName       string
	Disciplines    string
	Phone1         string
	Phone2         string
	Phone3         string
	Email          string
	DisplayBioLink string // raw flag, see ParseBioLink
	Status         string
}

// Hospital is a hospital row. ID is empty until persisted.
type Hospital struct {
	ID   string
	Name string
}

// Doctor is a doctor row keyed by Permalink. ID is empty until persisted.
type Doctor struct {
	ID          string
	Title       string
	FullName    string
	Disciplines string
	Phone1      string
	Phone2      string
	Phone3      string
	Email       string
	BioLink     bool
	Permalink   string
	Status      string
}

// LinkKey identifies a doctor/hospital association by natural keys.
type LinkKey struct {
	Permalink    string
	HospitalName string
}

// IDPair identifies a doctor/hospital association by resolved ids.
type IDPair struct {
	DoctorID   string
	HospitalID string
}

// DoctorSet is an insertion-ordered permalink -> Doctor mapping.
type DoctorSet struct {
	order []string
	byKey map[string]Doctor
}

// NewDoctorSet returns an empty set.
func NewDoctorSet() *DoctorSet {
	return &DoctorSet{byKey: make(map[string]Doctor)}
}

// add stores d unless its permalink is already present. It reports whether d was stored.
func (s *DoctorSet) add(d Doctor) bool {
	if _, ok := s.byKey[d.Permalink]; ok {
		return false
	}
	s.order = append(s.order, d.Permalink)
	s.byKey[d.Permalink] = d
	return true
}

// Len returns the number of distinct permalinks.
func (s *DoctorSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Get returns the doctor stored under permalink.
func (s *DoctorSet) Get(permalink string) (Doctor, bool) {
	if s == nil {
		return Doctor{}, false
	}
	d, ok := s.byKey[permalink]
	return d, ok
}

// All returns the doctors in first-appearance order.
func (s *DoctorSet) All() []Doctor {
	if s == nil {
		return nil
	}
	out := make([]Doctor, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, s.byKey[p])
	}
	return out
}

// Permalinks returns the keys in first-appearance order.
func (s *DoctorSet) Permalinks() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// Dataset is the normalized output of one import run. It is threaded
// explicitly through the writers and never shared between runs.
type Dataset struct {
	Records   int
	Hospitals []string
	Doctors   *DoctorSet
	Links     []LinkKey
}
