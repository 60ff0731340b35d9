// Package reconcile writes a normalized dataset into a store that may
// already hold some of it.
//
// Hospitals are written first, then doctors, then the links between them.
// Every write is first-write-wins: a row that already exists is never
// updated, its id is looked up instead. When an insert fails the writer
// walks down a fixed chain of fallback stages (see Stage) rather than
// aborting, and records what each stage achieved in the Report.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lenmed/importer/internal/core"
	"github.com/lenmed/importer/internal/logging"
	"github.com/lenmed/importer/internal/store"
)

// ErrNilStore is returned by Run when the writer has no store.
var ErrNilStore = errors.New("reconcile: nil store")

// Writer runs the reconciling import.
type Writer struct {
	store    store.Store
	policy   Policy
	progress ProgressCallback
}

// Option configures a Writer.
type Option func(*Writer)

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(w *Writer) { w.policy = p }
}

// WithProgress registers a progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(w *Writer) { w.progress = cb }
}

// New returns a writer over s.
func New(s store.Store, opts ...Option) *Writer {
	w := &Writer{store: s, policy: DefaultPolicy()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run writes ds. Row and batch failures are absorbed into the report; the
// only errors returned are a nil store and context cancellation, in which
// case the partial report is still returned.
func (w *Writer) Run(ctx context.Context, ds *core.Dataset) (*Report, error) {
	if w == nil || w.store == nil {
		return nil, ErrNilStore
	}
	if ds == nil {
		ds = &core.Dataset{}
	}

	r := &run{
		ctx:    ctx,
		w:      w,
		report: &Report{HospitalIDs: IDMap{}, DoctorIDs: IDMap{}},
	}
	start := time.Now()
	defer func() { r.report.Duration = time.Since(start) }()

	steps := []func(*core.Dataset){
		r.writeHospitals,
		r.writeDoctors,
		r.writeLinks,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return r.report, fmt.Errorf("import cancelled: %w", err)
		}
		step(ds)
	}
	if err := ctx.Err(); err != nil {
		return r.report, fmt.Errorf("import cancelled: %w", err)
	}

	logging.FromContext(ctx).Info("import finished",
		"hospitals", r.report.Hospitals.Resolved,
		"doctors", r.report.Doctors.Resolved,
		"links_written", r.report.Links.Written,
		"links_existing", r.report.Links.Existing,
		"links_orphaned", r.report.Links.Orphaned,
		"links_failed", r.report.Links.Failed,
	)
	return r.report, nil
}

// run holds the state of one Run call.
type run struct {
	ctx    context.Context
	w      *Writer
	report *Report
}

func (r *run) record(res StageResult) {
	r.report.Stages = append(r.report.Stages, res)

	log := logging.WithFields(r.ctx, "entity", res.Entity, "stage", res.Stage)
	if res.Err != nil {
		log.Warn("stage failed",
			"attempted", res.Attempted, "succeeded", res.Succeeded,
			"reason", res.Reason, "error", res.Err)
		return
	}
	log.Debug("stage done", "attempted", res.Attempted, "succeeded", res.Succeeded, "reason", res.Reason)
}

func (r *run) notify(entity Entity, stage Stage, done, total int) {
	if r.w.progress != nil {
		r.w.progress(Progress{Entity: entity, Stage: stage, Done: done, Total: total})
	}
}

func (r *run) cancelled() bool {
	return r.ctx.Err() != nil
}

// finish derives Resolved, Existing and Failed from the id map.
func finish(c *Counts, keys []string, ids IDMap) {
	c.Resolved = 0
	for _, k := range keys {
		if _, ok := ids[k]; ok {
			c.Resolved++
		}
	}
	c.Existing = c.Resolved - c.Written
	c.Failed = c.Expected - c.Resolved
}

func missing(keys []string, ids IDMap) int {
	n := 0
	for _, k := range keys {
		if _, ok := ids[k]; !ok {
			n++
		}
	}
	return n
}

// ============================================================================
// Hospitals
// ============================================================================

func (r *run) writeHospitals(ds *core.Dataset) {
	names := ds.Hospitals
	counts := &r.report.Hospitals
	counts.Expected = len(names)
	ids := r.report.HospitalIDs
	if len(names) == 0 {
		return
	}

	inserted, err := r.w.store.InsertHospitals(r.ctx, names)
	res := StageResult{Stage: StageBulkInsert, Entity: EntityHospitals, Attempted: len(names), Reason: reason(err), Err: err}
	if err == nil {
		for _, h := range inserted {
			ids[h.Name] = h.ID
		}
		res.Succeeded = len(inserted)
		counts.Written = len(inserted)
	}
	r.record(res)
	r.notify(EntityHospitals, StageBulkInsert, len(ids), len(names))

	if err != nil && r.w.policy.FullRefetch && !r.cancelled() {
		r.refetchHospitals(StageFullRefetch, names)
	}
	if err != nil && missing(names, ids) > 0 && r.w.policy.RowInsert && !r.cancelled() {
		r.insertHospitalRows(names)
	}
	if missing(names, ids) > 0 && r.w.policy.SafetyRefetch && !r.cancelled() {
		r.refetchHospitals(StageSafetyRefetch, names)
	}

	finish(counts, names, ids)
}

// insertHospitalRows writes the names a failed bulk insert left unresolved,
// one at a time. A name that turns out to exist is picked up by the
// safety refetch.
func (r *run) insertHospitalRows(names []string) {
	ids := r.report.HospitalIDs
	res := StageResult{Stage: StageRowInsert, Entity: EntityHospitals, Reason: "ok"}

	for _, name := range names {
		if _, ok := ids[name]; ok {
			continue
		}
		if r.cancelled() {
			break
		}

		res.Attempted++
		inserted, err := r.w.store.InsertHospitals(r.ctx, []string{name})
		if err != nil {
			if res.Err == nil {
				res.Err, res.Reason = err, reason(err)
			}
			continue
		}
		for _, h := range inserted {
			ids[h.Name] = h.ID
			r.report.Hospitals.Written++
		}
		res.Succeeded++
	}
	r.record(res)
}

func (r *run) refetchHospitals(stage Stage, names []string) {
	ids := r.report.HospitalIDs
	before := missing(names, ids)

	all, err := r.w.store.ListHospitals(r.ctx)
	for _, h := range all {
		if _, ok := ids[h.Name]; !ok {
			ids[h.Name] = h.ID
		}
	}

	r.record(StageResult{
		Stage:     stage,
		Entity:    EntityHospitals,
		Attempted: before,
		Succeeded: before - missing(names, ids),
		Reason:    reason(err),
		Err:       err,
	})
	r.notify(EntityHospitals, stage, len(names)-missing(names, ids), len(names))
}

// ============================================================================
// Doctors
// ============================================================================

func (r *run) writeDoctors(ds *core.Dataset) {
	doctors := ds.Doctors.All()
	permalinks := ds.Doctors.Permalinks()
	counts := &r.report.Doctors
	counts.Expected = len(doctors)
	ids := r.report.DoctorIDs

	for _, batch := range chunk(doctors, r.w.policy.batchSize()) {
		if r.cancelled() {
			break
		}

		inserted, err := r.w.store.InsertDoctors(r.ctx, batch)
		res := StageResult{Stage: StageBatchInsert, Entity: EntityDoctors, Attempted: len(batch), Reason: reason(err), Err: err}
		if err == nil {
			for _, d := range inserted {
				ids[d.Permalink] = d.ID
			}
			res.Succeeded = len(inserted)
			counts.Written += len(inserted)
		}
		r.record(res)

		if err != nil && r.w.policy.RowInsert && !r.cancelled() {
			r.insertDoctorRows(batch)
		}
		r.notify(EntityDoctors, StageBatchInsert, len(ids), len(doctors))
	}

	if missing(permalinks, ids) > 0 && r.w.policy.SafetyRefetch && !r.cancelled() {
		r.refetchDoctors(permalinks)
	}

	finish(counts, permalinks, ids)
}

// insertDoctorRows retries a failed batch one row at a time, recovering the
// id of rows that already exist by permalink.
func (r *run) insertDoctorRows(batch []core.Doctor) {
	ids := r.report.DoctorIDs
	rowRes := StageResult{Stage: StageRowInsert, Entity: EntityDoctors, Reason: "ok"}
	lookupRes := StageResult{Stage: StageKeyLookup, Entity: EntityDoctors, Reason: "ok"}

	for _, d := range batch {
		if r.cancelled() {
			break
		}

		rowRes.Attempted++
		inserted, err := r.w.store.InsertDoctor(r.ctx, d)
		if err == nil {
			ids[d.Permalink] = inserted.ID
			r.report.Doctors.Written++
			rowRes.Succeeded++
			continue
		}
		if rowRes.Err == nil {
			rowRes.Err, rowRes.Reason = err, reason(err)
		}

		if !r.w.policy.KeyLookup || r.cancelled() {
			continue
		}
		lookupRes.Attempted++
		existing, err := r.w.store.FindDoctorByPermalink(r.ctx, d.Permalink)
		if err != nil {
			if lookupRes.Err == nil {
				lookupRes.Err, lookupRes.Reason = err, reason(err)
			}
			continue
		}
		ids[d.Permalink] = existing.ID
		lookupRes.Succeeded++
	}

	r.record(rowRes)
	if lookupRes.Attempted > 0 {
		r.record(lookupRes)
	}
}

func (r *run) refetchDoctors(permalinks []string) {
	ids := r.report.DoctorIDs
	before := missing(permalinks, ids)

	all, err := r.w.store.ListDoctors(r.ctx)
	for _, d := range all {
		if _, ok := ids[d.Permalink]; !ok {
			ids[d.Permalink] = d.ID
		}
	}

	r.record(StageResult{
		Stage:     StageSafetyRefetch,
		Entity:    EntityDoctors,
		Attempted: before,
		Succeeded: before - missing(permalinks, ids),
		Reason:    reason(err),
		Err:       err,
	})
	r.notify(EntityDoctors, StageSafetyRefetch, len(permalinks)-missing(permalinks, ids), len(permalinks))
}

// ============================================================================
// Links
// ============================================================================

// resolveLinks turns natural-key links into id pairs. Links whose doctor or
// hospital has no id are orphans; pairs already seen are counted as existing.
func (r *run) resolveLinks(links []core.LinkKey) []core.IDPair {
	counts := &r.report.Links
	seen := make(map[core.IDPair]struct{}, len(links))
	pairs := make([]core.IDPair, 0, len(links))

	for _, lk := range links {
		doctorID, okD := r.report.DoctorIDs[lk.Permalink]
		hospitalID, okH := r.report.HospitalIDs[lk.HospitalName]
		if !okD || !okH {
			counts.Orphaned++
			logging.WithFields(r.ctx, "entity", EntityLinks).Debug("orphan link dropped",
				"permalink", lk.Permalink, "hospital", lk.HospitalName,
				"doctor_resolved", okD, "hospital_resolved", okH)
			continue
		}

		p := core.IDPair{DoctorID: doctorID, HospitalID: hospitalID}
		if _, dup := seen[p]; dup {
			counts.Existing++
			continue
		}
		seen[p] = struct{}{}
		pairs = append(pairs, p)
	}
	return pairs
}

// prefetchLinks drops pairs that are already stored and counts them as
// existing. On a list error every pair is kept.
func (r *run) prefetchLinks(pairs []core.IDPair) []core.IDPair {
	if len(pairs) == 0 {
		return pairs
	}

	stored, err := r.w.store.ListLinks(r.ctx)
	res := StageResult{Stage: StageLinkPrefetch, Entity: EntityLinks, Attempted: len(pairs), Reason: reason(err), Err: err}
	if err != nil {
		r.record(res)
		return pairs
	}

	have := make(map[core.IDPair]struct{}, len(stored))
	for _, p := range stored {
		have[p] = struct{}{}
	}

	pending := pairs[:0:0]
	for _, p := range pairs {
		if _, ok := have[p]; ok {
			r.report.Links.Existing++
			res.Succeeded++
			continue
		}
		pending = append(pending, p)
	}
	r.record(res)
	return pending
}

func (r *run) writeLinks(ds *core.Dataset) {
	counts := &r.report.Links
	counts.Expected = len(ds.Links)

	pairs := r.resolveLinks(ds.Links)
	if r.w.policy.LinkPrefetch && !r.cancelled() {
		pairs = r.prefetchLinks(pairs)
	}
	done := 0

	for _, batch := range chunk(pairs, r.w.policy.batchSize()) {
		if r.cancelled() {
			break
		}

		n, err := r.w.store.InsertLinks(r.ctx, batch)
		res := StageResult{Stage: StageBatchInsert, Entity: EntityLinks, Attempted: len(batch), Reason: reason(err), Err: err}
		switch {
		case err == nil:
			res.Succeeded = n
			counts.Written += n
		case errors.Is(err, store.ErrDuplicate):
			// Not retried. A stored pair in the batch means none of it was
			// written, so the rows are unverified.
			res.Reason = "duplicate, not retried"
			counts.Failed += len(batch)
		}
		r.record(res)

		if err != nil && !errors.Is(err, store.ErrDuplicate) {
			if r.w.policy.RowInsert && !r.cancelled() {
				r.insertLinkRows(batch)
			} else {
				counts.Failed += len(batch)
			}
		}

		done += len(batch)
		r.notify(EntityLinks, StageBatchInsert, done, len(pairs))
	}
}

func (r *run) insertLinkRows(batch []core.IDPair) {
	counts := &r.report.Links
	res := StageResult{Stage: StageRowInsert, Entity: EntityLinks, Reason: "ok"}

	for i, p := range batch {
		if r.cancelled() {
			counts.Failed += len(batch) - i
			break
		}

		res.Attempted++
		err := r.w.store.InsertLink(r.ctx, p)
		switch {
		case err == nil:
			counts.Written++
			res.Succeeded++
		case errors.Is(err, store.ErrDuplicate):
			counts.Existing++
			res.Succeeded++
		default:
			counts.Failed++
			if res.Err == nil {
				res.Err, res.Reason = err, reason(err)
			}
		}
	}
	r.record(res)
}
