package core

// ParseBioLink converts the wpcf-display-bio-link cell to a boolean.
//
//	"1"   -> true
//	"1.0" -> true
//	other -> false ("", "0", "yes", "true", "1.00", ...)
//
// Matching is exact; callers pass the already trimmed cell.
func ParseBioLink(raw string) bool {
	switch raw {
	case "1", "1.0":
		return true
	default:
		return false
	}
}

// ExtractHospitals returns the distinct non-empty hospital names in
// first-appearance order.
func ExtractHospitals(records []RawRecord) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, r := range records {
		if r.HospitalName == "" {
			continue
		}
		if _, ok := seen[r.HospitalName]; ok {
			continue
		}
		seen[r.HospitalName] = struct{}{}
		names = append(names, r.HospitalName)
	}
	return names
}

// ExtractDoctors builds one Doctor per distinct permalink. The first row
// carrying a permalink supplies every attribute; later rows are ignored.
func ExtractDoctors(records []RawRecord) *DoctorSet {
	set := NewDoctorSet()
	for _, r := range records {
		if r.Permalink == "" {
			continue
		}
		set.add(doctorFromRecord(r))
	}
	return set
}

func doctorFromRecord(r RawRecord) Doctor {
	fullName := r.FullName
	if fullName == "" {
		fullName = r.Title
	}
	status := r.Status
	if status == "" {
		status = DefaultStatus
	}
	return Doctor{
		Title:       r.Title,
		FullName:    fullName,
		Disciplines: r.Disciplines,
		Phone1:      r.Phone1,
		Phone2:      r.Phone2,
		Phone3:      r.Phone3,
		Email:       r.Email,
		BioLink:     ParseBioLink(r.DisplayBioLink),
		Permalink:   r.Permalink,
		Status:      status,
	}
}

// ExtractLinks returns the distinct (permalink, hospital name) pairs in
// first-appearance order, skipping rows that lack either key.
func ExtractLinks(records []RawRecord) []LinkKey {
	seen := make(map[LinkKey]struct{})
	var links []LinkKey
	for _, r := range records {
		if r.Permalink == "" || r.HospitalName == "" {
			continue
		}
		k := LinkKey{Permalink: r.Permalink, HospitalName: r.HospitalName}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		links = append(links, k)
	}
	return links
}

// Normalize runs every extractor over records and returns the combined Dataset.
func Normalize(records []RawRecord) *Dataset {
	return &Dataset{
		Records:   len(records),
		Hospitals: ExtractHospitals(records),
		Doctors:   ExtractDoctors(records),
		Links:     ExtractLinks(records),
	}
}
