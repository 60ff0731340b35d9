package core

import (
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"
)

// ============================================================================
// ParseBioLink Tests
// ============================================================================

func TestParseBioLink(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"1", true},
		{"1.0", true},
		{"", false},
		{"0", false},
		{"0.0", false},
		{"yes", false},
		{"true", false},
		{"TRUE", false},
		{"1.00", false},
		{" 1", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.raw), func(t *testing.T) {
			if got := ParseBioLink(tt.raw); got != tt.want {
				t.Errorf("ParseBioLink(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

// ============================================================================
// ExtractHospitals Tests
// ============================================================================

func TestExtractHospitals(t *testing.T) {
	records := []RawRecord{
		{HospitalName: "Zamokuhle", Permalink: "a"},
		{HospitalName: "Ahmed Kathrada", Permalink: "b"},
		{HospitalName: "Zamokuhle", Permalink: "c"},
		{HospitalName: "", Permalink: "d"},
		{HospitalName: "zamokuhle", Permalink: "e"},
	}

	got := ExtractHospitals(records)
	want := []string{"Zamokuhle", "Ahmed Kathrada", "zamokuhle"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractHospitals() = %v, want %v", got, want)
	}
}

func TestExtractHospitals_EmptyNameContributesNothing(t *testing.T) {
	records := []RawRecord{{HospitalName: "", Permalink: "dr-solo"}}

	if got := ExtractHospitals(records); len(got) != 0 {
		t.Errorf("ExtractHospitals() = %v, want empty", got)
	}
	if got := ExtractLinks(records); len(got) != 0 {
		t.Errorf("ExtractLinks() = %v, want empty", got)
	}
}

// ============================================================================
// ExtractDoctors Tests
// ============================================================================

func TestExtractDoctors_FirstOccurrenceWins(t *testing.T) {
	records := []RawRecord{
		{HospitalName: "H1", Permalink: "dr-smith", FullName: "John Smith", Disciplines: "Cardiology"},
		{HospitalName: "H2", Permalink: "dr-smith", FullName: "J. Smith", Disciplines: "Neurology"},
	}

	set := ExtractDoctors(records)
	if set.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", set.Len())
	}
	d, ok := set.Get("dr-smith")
	if !ok {
		t.Fatal("Get(dr-smith) not found")
	}
	if d.Disciplines != "Cardiology" {
		t.Errorf("Disciplines = %q, want Cardiology", d.Disciplines)
	}
	if d.FullName != "John Smith" {
		t.Errorf("FullName = %q, want John Smith", d.FullName)
	}
}

func TestExtractDoctors_Fallbacks(t *testing.T) {
	tests := []struct {
		name         string
		record       RawRecord
		wantFullName string
		wantStatus   string
		wantBioLink  bool
	}{
		{
			name:         "full name present",
			record:       RawRecord{Permalink: "p", Title: "Dr", FullName: "Ann Lee", Status: "draft", DisplayBioLink: "1"},
			wantFullName: "Ann Lee",
			wantStatus:   "draft",
			wantBioLink:  true,
		},
		{
			name:         "full name falls back to title",
			record:       RawRecord{Permalink: "p", Title: "Dr Ann Lee"},
			wantFullName: "Dr Ann Lee",
			wantStatus:   DefaultStatus,
		},
		{
			name:         "neither name nor title",
			record:       RawRecord{Permalink: "p"},
			wantFullName: "",
			wantStatus:   DefaultStatus,
		},
		{
			name:         "bio link 1.0",
			record:       RawRecord{Permalink: "p", DisplayBioLink: "1.0"},
			wantStatus:   DefaultStatus,
			wantBioLink:  true,
		},
		{
			name:        "bio link yes",
			record:      RawRecord{Permalink: "p", DisplayBioLink: "yes"},
			wantStatus:  DefaultStatus,
			wantBioLink: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := ExtractDoctors([]RawRecord{tt.record}).Get("p")
			if !ok {
				t.Fatal("doctor not extracted")
			}
			if d.FullName != tt.wantFullName {
				t.Errorf("FullName = %q, want %q", d.FullName, tt.wantFullName)
			}
			if d.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", d.Status, tt.wantStatus)
			}
			if d.BioLink != tt.wantBioLink {
				t.Errorf("BioLink = %v, want %v", d.BioLink, tt.wantBioLink)
			}
		})
	}
}

func TestExtractDoctors_SkipsMissingPermalink(t *testing.T) {
	set := ExtractDoctors([]RawRecord{
		{HospitalName: "H1", FullName: "No Key"},
		{HospitalName: "H1", Permalink: "p1"},
	})
	if got := set.Permalinks(); !reflect.DeepEqual(got, []string{"p1"}) {
		t.Errorf("Permalinks() = %v, want [p1]", got)
	}
}

// ============================================================================
// ExtractLinks Tests
// ============================================================================

func TestExtractLinks(t *testing.T) {
	records := []RawRecord{
		{HospitalName: "H1", Permalink: "a"},
		{HospitalName: "H2", Permalink: "a"},
		{HospitalName: "H1", Permalink: "a"},
		{HospitalName: "H1", Permalink: ""},
		{HospitalName: "", Permalink: "b"},
		{HospitalName: "H1", Permalink: "b"},
	}

	got := ExtractLinks(records)
	want := []LinkKey{
		{Permalink: "a", HospitalName: "H1"},
		{Permalink: "a", HospitalName: "H2"},
		{Permalink: "b", HospitalName: "H1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractLinks() = %v, want %v", got, want)
	}
}

// ============================================================================
// Properties over generated inputs
// ============================================================================

func randomRecords(rng *rand.Rand, n int) []RawRecord {
	records := make([]RawRecord, n)
	for i := range records {
		var hospital, permalink string
		if rng.Intn(6) > 0 {
			hospital = fmt.Sprintf("H%d", rng.Intn(5))
		}
		if rng.Intn(6) > 0 {
			permalink = fmt.Sprintf("dr-%d", rng.Intn(12))
		}
		records[i] = RawRecord{
			Line:         i + 2,
			HospitalName: hospital,
			Permalink:    permalink,
			Disciplines:  fmt.Sprintf("row-%d", i),
		}
	}
	return records
}

func TestNormalize_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		records := randomRecords(rng, rng.Intn(60))
		ds := Normalize(records)

		// hospitals: unique, first-appearance order
		var wantHospitals []string
		seenH := map[string]bool{}
		for _, r := range records {
			if r.HospitalName != "" && !seenH[r.HospitalName] {
				seenH[r.HospitalName] = true
				wantHospitals = append(wantHospitals, r.HospitalName)
			}
		}
		if !reflect.DeepEqual(ds.Hospitals, wantHospitals) {
			t.Fatalf("iter %d: Hospitals = %v, want %v", iter, ds.Hospitals, wantHospitals)
		}

		// doctors: one per distinct permalink, attributes from the first row
		first := map[string]RawRecord{}
		for _, r := range records {
			if r.Permalink == "" {
				continue
			}
			if _, ok := first[r.Permalink]; !ok {
				first[r.Permalink] = r
			}
		}
		if ds.Doctors.Len() != len(first) {
			t.Fatalf("iter %d: Doctors.Len() = %d, want %d", iter, ds.Doctors.Len(), len(first))
		}
		for p, r := range first {
			d, _ := ds.Doctors.Get(p)
			if d.Disciplines != r.Disciplines {
				t.Fatalf("iter %d: %s Disciplines = %q, want %q", iter, p, d.Disciplines, r.Disciplines)
			}
		}

		// links: no duplicates, both keys present
		seenL := map[LinkKey]bool{}
		for _, l := range ds.Links {
			if seenL[l] {
				t.Fatalf("iter %d: duplicate link %v", iter, l)
			}
			if l.Permalink == "" || l.HospitalName == "" {
				t.Fatalf("iter %d: link with empty key %v", iter, l)
			}
			seenL[l] = true
		}

		// determinism
		if again := Normalize(records); !reflect.DeepEqual(again, ds) {
			t.Fatalf("iter %d: Normalize is not deterministic", iter)
		}
	}
}

// ============================================================================
// End to end through the parser
// ============================================================================

func TestNormalize_FromCSV(t *testing.T) {
	input := fullHeader +
		"H1,dr-smith,Dr,John Smith,Cardiology,,,,,1.0,\n" +
		"H2,dr-smith,Dr,John Smith,Neurology,,,,,1.0,\n" +
		",dr-jones,Prof,,Surgery,,,,,yes,draft\n"

	records, err := ParseRecords(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseRecords() error = %v", err)
	}
	ds := Normalize(records)

	if ds.Records != 3 {
		t.Errorf("Records = %d, want 3", ds.Records)
	}
	if !reflect.DeepEqual(ds.Hospitals, []string{"H1", "H2"}) {
		t.Errorf("Hospitals = %v", ds.Hospitals)
	}
	if ds.Doctors.Len() != 2 {
		t.Errorf("Doctors.Len() = %d, want 2", ds.Doctors.Len())
	}
	if len(ds.Links) != 2 {
		t.Errorf("len(Links) = %d, want 2", len(ds.Links))
	}

	jones, _ := ds.Doctors.Get("dr-jones")
	if jones.FullName != "Prof" || jones.BioLink || jones.Status != "draft" {
		t.Errorf("dr-jones = %+v", jones)
	}
	smith, _ := ds.Doctors.Get("dr-smith")
	if !smith.BioLink || smith.Status != DefaultStatus {
		t.Errorf("dr-smith = %+v", smith)
	}
}
