package reconcile

import (
	"fmt"
	"time"
)

// IDMap maps a natural key (hospital name or doctor permalink) to the id the
// store assigned. Each run builds its own.
type IDMap map[string]string

// Counts summarises one entity.
//
// For hospitals and doctors Resolved = Written + Existing and
// Failed = Expected - Resolved. For links Resolved is unused and
// Expected = Written + Existing + Orphaned + Failed.
type Counts struct {
	Expected int
	Written  int
	Resolved int
	Existing int
	Orphaned int
	Failed   int
}

// Report is the result of one writer run.
type Report struct {
	Hospitals Counts
	Doctors   Counts
	Links     Counts

	Stages []StageResult

	HospitalIDs IDMap
	DoctorIDs   IDMap

	Duration time.Duration
}

// StagesFor returns the results recorded for entity in execution order.
func (r *Report) StagesFor(entity Entity) []StageResult {
	var out []StageResult
	for _, s := range r.Stages {
		if s.Entity == entity {
			out = append(out, s)
		}
	}
	return out
}

// Ran reports whether stage ran at least once for entity.
func (r *Report) Ran(entity Entity, stage Stage) bool {
	for _, s := range r.Stages {
		if s.Entity == entity && s.Stage == stage {
			return true
		}
	}
	return false
}

// Summary renders the final operator summary.
func (r *Report) Summary() string {
	return fmt.Sprintf(
		"Hospitals: %d (inserted %d, existing %d, failed %d)\n"+
			"Doctors: %d (inserted %d, existing %d, failed %d)\n"+
			"Relationships: %d (inserted %d, existing %d, orphaned %d, failed %d)",
		r.Hospitals.Resolved, r.Hospitals.Written, r.Hospitals.Existing, r.Hospitals.Failed,
		r.Doctors.Resolved, r.Doctors.Written, r.Doctors.Existing, r.Doctors.Failed,
		r.Links.Written+r.Links.Existing, r.Links.Written, r.Links.Existing, r.Links.Orphaned, r.Links.Failed,
	)
}

// Progress is reported after every store round-trip.
type Progress struct {
	Entity Entity
	Stage  Stage
	Done   int
	Total  int
}

// Percent returns Done as a percentage of Total (0-100).
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return (p.Done * 100) / p.Total
}

// ProgressCallback is called as the writer advances.
type ProgressCallback func(Progress)
