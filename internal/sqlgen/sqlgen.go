// Package sqlgen renders a dataset as a standalone SQL script that can be
// pasted into the Supabase SQL editor. Every statement is idempotent
// (ON CONFLICT DO NOTHING) and links are resolved by natural key inside the
// script, so no ids are needed up front.
package sqlgen

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/lenmed/importer/internal/core"
)

// DefaultSource is the file name written in the script header.
const DefaultSource = "flume_expanded.csv"

// emptyLinks is a well-formed relation with the right shape and no rows.
const emptyLinks = "(SELECT NULL::text, NULL::text WHERE false)"

type options struct {
	source string
}

// Option configures Emit.
type Option func(*options)

// WithSource names the input file in the script header.
func WithSource(name string) Option {
	return func(o *options) {
		if name != "" {
			o.source = name
		}
	}
}

// Emit writes the import script for ds to w.
func Emit(w io.Writer, ds *core.Dataset, opts ...Option) error {
	o := options{source: DefaultSource}
	for _, opt := range opts {
		opt(&o)
	}
	if ds == nil {
		ds = &core.Dataset{}
	}

	bw := bufio.NewWriter(w)

	writeHeader(bw, o.source)
	writeHospitals(bw, ds.Hospitals)
	writeDoctors(bw, ds.Doctors.All())
	writeLinks(bw, ds.Links)
	writeCounts(bw)

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	return nil
}

// Escape renders s as a SQL string literal, or NULL when s is empty.
func Escape(s string) string {
	if s == "" {
		return "NULL"
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func writeHeader(w *bufio.Writer, source string) {
	fmt.Fprintf(w, "-- Lenmed Data Import\n-- Generated from %s\n-- Run this in Supabase SQL Editor\n\n", source)
}

func writeHospitals(w *bufio.Writer, names []string) {
	w.WriteString("-- Insert Hospitals\n")
	if len(names) == 0 {
		w.WriteString("-- No hospitals to insert\n\n")
		return
	}

	rows := make([]string, len(names))
	for i, n := range names {
		rows[i] = "(" + Escape(n) + ")"
	}
	w.WriteString("INSERT INTO hospitals (name) VALUES\n")
	w.WriteString(strings.Join(rows, ",\n"))
	w.WriteString("\nON CONFLICT DO NOTHING;\n\n")
}

func doctorRow(d core.Doctor) string {
	return fmt.Sprintf("(%s, %s, %s, %s, %s, %s, %s, %t, %s, %s)",
		Escape(d.Title),
		Escape(d.FullName),
		Escape(d.Disciplines),
		Escape(d.Phone1),
		Escape(d.Phone2),
		Escape(d.Phone3),
		Escape(d.Email),
		d.BioLink,
		Escape(d.Permalink),
		Escape(d.Status),
	)
}

func writeDoctors(w *bufio.Writer, doctors []core.Doctor) {
	w.WriteString("-- Insert Doctors\n")
	if len(doctors) == 0 {
		w.WriteString("-- No doctors to insert\n\n")
		return
	}

	rows := make([]string, len(doctors))
	for i, d := range doctors {
		rows[i] = doctorRow(d)
	}
	w.WriteString("INSERT INTO doctors (title, full_name, disciplines, phone1, phone2, phone3, email, bio_link, permalink, status) VALUES\n")
	w.WriteString(strings.Join(rows, ",\n"))
	w.WriteString("\nON CONFLICT DO NOTHING;\n\n")
}

func writeLinks(w *bufio.Writer, links []core.LinkKey) {
	w.WriteString("-- Insert Doctor-Hospital Relationships\n")
	w.WriteString("INSERT INTO doctor_hospitals (doctor_id, hospital_id)\n")
	w.WriteString("SELECT d.id, h.id\n")

	if len(links) == 0 {
		w.WriteString("FROM " + emptyLinks + " AS v(permalink, hospital_name)\n")
	} else {
		rows := make([]string, len(links))
		for i, l := range links {
			rows[i] = "(" + Escape(l.Permalink) + ", " + Escape(l.HospitalName) + ")"
		}
		w.WriteString("FROM (VALUES\n")
		w.WriteString(strings.Join(rows, ",\n"))
		w.WriteString("\n) AS v(permalink, hospital_name)\n")
	}

	w.WriteString("JOIN doctors d ON d.permalink = v.permalink\n")
	w.WriteString("JOIN hospitals h ON h.name = v.hospital_name\n")
	w.WriteString("ON CONFLICT DO NOTHING;\n\n")
}

func writeCounts(w *bufio.Writer) {
	w.WriteString("-- Show counts\n")
	w.WriteString("SELECT 'Hospitals' as table_name, COUNT(*) as count FROM hospitals\n")
	w.WriteString("UNION ALL\n")
	w.WriteString("SELECT 'Doctors', COUNT(*) FROM doctors\n")
	w.WriteString("UNION ALL\n")
	w.WriteString("SELECT 'Relationships', COUNT(*) FROM doctor_hospitals;\n")
}
