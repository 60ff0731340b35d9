// Package metrics records import outcomes as Prometheus metrics and pushes
// them to a Pushgateway. The commands are short-lived, so nothing is scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/lenmed/importer/internal/core"
	"github.com/lenmed/importer/internal/reconcile"
)

const namespace = "lenmed_import"

// Recorder owns a registry for one process.
type Recorder struct {
	reg *prometheus.Registry

	rows        *prometheus.CounterVec
	stages      *prometheus.CounterVec
	runs        *prometheus.CounterVec
	scriptRows  *prometheus.GaugeVec
	duration    prometheus.Gauge
	lastSuccess prometheus.Gauge

	now func() time.Time
}

// NewRecorder registers the import metrics on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows handled by the live import, by entity and outcome.",
		}, []string{"entity", "outcome"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Fallback stage invocations, by entity, stage and result.",
		}, []string{"entity", "stage", "result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Import runs, by status.",
		}, []string{"status"}),
		scriptRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "script_rows",
			Help:      "Rows in the last generated SQL script, by entity.",
		}, []string{"entity"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last import run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last import run that finished without error.",
		}),
		now: time.Now,
	}

	r.reg.MustRegister(r.rows, r.stages, r.runs, r.scriptRows, r.duration, r.lastSuccess)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// Observe records a writer run. rep may be partial when err is non-nil.
func (r *Recorder) Observe(rep *reconcile.Report, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.runs.WithLabelValues(status).Inc()

	if rep == nil {
		return
	}

	for entity, c := range map[reconcile.Entity]reconcile.Counts{
		reconcile.EntityHospitals: rep.Hospitals,
		reconcile.EntityDoctors:   rep.Doctors,
		reconcile.EntityLinks:     rep.Links,
	} {
		e := string(entity)
		r.rows.WithLabelValues(e, "written").Add(float64(c.Written))
		r.rows.WithLabelValues(e, "existing").Add(float64(c.Existing))
		r.rows.WithLabelValues(e, "orphaned").Add(float64(c.Orphaned))
		r.rows.WithLabelValues(e, "failed").Add(float64(c.Failed))
	}

	for _, s := range rep.Stages {
		result := "ok"
		if s.Err != nil {
			result = "error"
		}
		r.stages.WithLabelValues(string(s.Entity), string(s.Stage), result).Inc()
	}

	r.duration.Set(rep.Duration.Seconds())
	if err == nil {
		r.lastSuccess.Set(float64(r.now().Unix()))
	}
}

// ObserveScript records the size of a generated script.
func (r *Recorder) ObserveScript(ds *core.Dataset) {
	if ds == nil {
		ds = &core.Dataset{}
	}
	r.scriptRows.WithLabelValues(string(reconcile.EntityHospitals)).Set(float64(len(ds.Hospitals)))
	r.scriptRows.WithLabelValues(string(reconcile.EntityDoctors)).Set(float64(ds.Doctors.Len()))
	r.scriptRows.WithLabelValues(string(reconcile.EntityLinks)).Set(float64(len(ds.Links)))
}

// Push sends every metric to the Pushgateway at url under job, replacing
// the previous push for that job.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
