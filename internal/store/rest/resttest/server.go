// Package resttest runs an in-memory PostgREST lookalike for tests. It
// understands the subset of the protocol the rest backend speaks and
// enforces the same unique and foreign key constraints as the real schema.
package resttest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Row is one stored record keyed by column name.
type Row map[string]any

// Server is a fake Supabase project.
type Server struct {
	*httptest.Server
	Key string

	mu     sync.Mutex
	tables map[string][]Row
	clock  time.Time
	fail   map[string]failure
	calls  map[string]int
}

type failure struct {
	remaining int
	status    int
}

// New starts a server accepting key and stops it when the test ends.
func New(t *testing.T, key string) *Server {
	t.Helper()
	s := &Server{
		Key: key,
		tables: map[string][]Row{
			"hospitals":        nil,
			"doctors":          nil,
			"doctor_hospitals": nil,
		},
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		fail:  map[string]failure{},
		calls: map[string]int{},
	}

	r := chi.NewRouter()
	r.Use(s.authenticate)
	r.Route("/rest/v1/{table}", func(r chi.Router) {
		r.Use(s.knownTable)
		r.Get("/", s.handleSelect)
		r.Head("/", s.handleSelect)
		r.Post("/", s.handleInsert)
		r.Patch("/", s.handleUpdate)
		r.Delete("/", s.handleDelete)
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// FailNext makes the next n requests for method on table answer status.
func (s *Server) FailNext(method, table string, n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[method+" "+table] = failure{remaining: n, status: status}
}

// Calls reports how many requests reached method on table.
func (s *Server) Calls(method, table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+table]
}

// Rows returns a copy of the stored rows of table.
func (s *Server) Rows(table string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.tables[table]))
	for i, r := range s.tables[table] {
		out[i] = r.clone()
	}
	return out
}

func (r Row) clone() Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// ============================================================================
// Middleware
// ============================================================================

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != s.Key || r.Header.Get("Authorization") != "Bearer "+s.Key {
			writeError(w, http.StatusUnauthorized, "", "Invalid API key", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) knownTable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		table := chi.URLParam(r, "table")

		s.mu.Lock()
		_, ok := s.tables[table]
		key := r.Method + " " + table
		s.calls[key]++
		f := s.fail[key]
		inject := f.remaining > 0
		if inject {
			f.remaining--
			s.fail[key] = f
		}
		s.mu.Unlock()

		if !ok {
			writeError(w, http.StatusNotFound, "42P01",
				fmt.Sprintf("relation \"public.%s\" does not exist", table), "")
			return
		}
		if inject {
			writeError(w, f.status, "", "injected failure", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    nilIfEmpty(code),
		"message": message,
		"details": nilIfEmpty(details),
		"hint":    nil,
	})
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func wantsCount(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Prefer"), "count=exact")
}

func wantsRepresentation(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Prefer"), "return=representation")
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	q := r.URL.Query()

	s.mu.Lock()
	matched := s.filter(table, q)
	s.mu.Unlock()

	if order := q.Get("order"); order != "" {
		sortRows(matched, order)
	}

	total := len(matched)
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n < len(matched) {
			matched = matched[:n]
		}
	}

	if wantsCount(r) {
		w.Header().Set("Content-Range", contentRange(offset, len(matched), total))
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, project(matched, q.Get("select")))
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	var batch []Row
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "PGRST102", "Empty or invalid json", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if status, code, msg, details := s.check(table, batch); status != 0 {
		writeError(w, status, code, msg, details)
		return
	}

	inserted := make([]Row, len(batch))
	for i, in := range batch {
		row := in.clone()
		row["id"] = uuid.NewString()
		row["created_at"] = s.clock.Format(timeLayout)
		s.clock = s.clock.Add(time.Millisecond)
		if table == "doctors" {
			if _, ok := row["status"]; !ok {
				row["status"] = "publish"
			}
		}
		s.tables[table] = append(s.tables[table], row)
		inserted[i] = row.clone()
	}

	if !wantsRepresentation(r) {
		w.WriteHeader(http.StatusCreated)
		return
	}
	writeJSON(w, http.StatusCreated, project(inserted, r.URL.Query().Get("select")))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	q := r.URL.Query()
	if !hasFilter(q) {
		writeError(w, http.StatusBadRequest, "21000", "UPDATE requires a WHERE clause", "")
		return
	}

	var patch Row
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "PGRST102", "Empty or invalid json", err.Error())
		return
	}

	s.mu.Lock()
	n := 0
	for _, row := range s.tables[table] {
		if matches(row, q) {
			for k, v := range patch {
				row[k] = v
			}
			n++
		}
	}
	s.mu.Unlock()

	if wantsCount(r) {
		w.Header().Set("Content-Range", contentRange(0, n, n))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	q := r.URL.Query()
	if !hasFilter(q) {
		writeError(w, http.StatusBadRequest, "21000", "DELETE requires a WHERE clause", "")
		return
	}

	s.mu.Lock()
	var kept []Row
	removed := map[string]bool{}
	for _, row := range s.tables[table] {
		if matches(row, q) {
			removed[fmt.Sprint(row["id"])] = true
			continue
		}
		kept = append(kept, row)
	}
	s.tables[table] = kept
	s.cascade(table, removed)
	s.mu.Unlock()

	if wantsCount(r) {
		w.Header().Set("Content-Range", contentRange(0, len(removed), len(removed)))
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Constraints
// ============================================================================

// check validates a whole batch against the stored rows and itself. Nothing
// is written when any row fails.
func (s *Server) check(table string, batch []Row) (status int, code, msg, details string) {
	switch table {
	case "hospitals":
		return s.unique(table, batch, "hospitals_name_key", "name")
	case "doctors":
		return s.unique(table, batch, "doctors_permalink_key", "permalink")
	case "doctor_hospitals":
		for _, row := range batch {
			if !s.exists("doctors", row["doctor_id"]) {
				return http.StatusConflict, "23503",
					`insert or update on table "doctor_hospitals" violates foreign key constraint "doctor_hospitals_doctor_id_fkey"`,
					fmt.Sprintf(`Key (doctor_id)=(%v) is not present in table "doctors".`, row["doctor_id"])
			}
			if !s.exists("hospitals", row["hospital_id"]) {
				return http.StatusConflict, "23503",
					`insert or update on table "doctor_hospitals" violates foreign key constraint "doctor_hospitals_hospital_id_fkey"`,
					fmt.Sprintf(`Key (hospital_id)=(%v) is not present in table "hospitals".`, row["hospital_id"])
			}
		}
		return s.unique(table, batch, "doctor_hospitals_doctor_id_hospital_id_key", "doctor_id", "hospital_id")
	}
	return 0, "", "", ""
}

func (s *Server) unique(table string, batch []Row, constraint string, cols ...string) (int, string, string, string) {
	key := func(r Row) string {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = fmt.Sprint(r[c])
		}
		return strings.Join(parts, ", ")
	}

	seen := map[string]bool{}
	for _, r := range s.tables[table] {
		seen[key(r)] = true
	}
	for _, r := range batch {
		k := key(r)
		if seen[k] {
			return http.StatusConflict, "23505",
				fmt.Sprintf("duplicate key value violates unique constraint %q", constraint),
				fmt.Sprintf("Key (%s)=(%s) already exists.", strings.Join(cols, ", "), k)
		}
		seen[k] = true
	}
	return 0, "", "", ""
}

func (s *Server) exists(table string, id any) bool {
	for _, r := range s.tables[table] {
		if r["id"] == id {
			return true
		}
	}
	return false
}

// cascade drops links whose doctor or hospital was removed.
func (s *Server) cascade(table string, removed map[string]bool) {
	var col string
	switch table {
	case "doctors":
		col = "doctor_id"
	case "hospitals":
		col = "hospital_id"
	default:
		return
	}
	var kept []Row
	for _, link := range s.tables["doctor_hospitals"] {
		if !removed[fmt.Sprint(link[col])] {
			kept = append(kept, link)
		}
	}
	s.tables["doctor_hospitals"] = kept
}

// ============================================================================
// Query helpers
// ============================================================================

var reserved = map[string]bool{"select": true, "limit": true, "offset": true, "order": true}

func hasFilter(q map[string][]string) bool {
	for k := range q {
		if !reserved[k] {
			return true
		}
	}
	return false
}

func (s *Server) filter(table string, q map[string][]string) []Row {
	var out []Row
	for _, r := range s.tables[table] {
		if matches(r, q) {
			out = append(out, r.clone())
		}
	}
	return out
}

// matches applies eq., neq. and in.() filters.
func matches(r Row, q map[string][]string) bool {
	for col, vals := range q {
		if reserved[col] {
			continue
		}
		for _, v := range vals {
			got := fmt.Sprint(r[col])
			op, arg, _ := strings.Cut(v, ".")
			switch op {
			case "eq":
				if got != arg {
					return false
				}
			case "neq":
				if got == arg {
					return false
				}
			case "in":
				list := strings.Split(strings.TrimSuffix(strings.TrimPrefix(arg, "("), ")"), ",")
				found := false
				for _, item := range list {
					if item == got {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
		}
	}
	return true
}

func sortRows(rows []Row, order string) {
	keys := strings.Split(order, ",")
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			col, dir, _ := strings.Cut(k, ".")
			a, b := fmt.Sprint(rows[i][col]), fmt.Sprint(rows[j][col])
			if a == b {
				continue
			}
			if dir == "desc" {
				return a > b
			}
			return a < b
		}
		return false
	})
}

func project(rows []Row, sel string) []Row {
	if sel == "" || sel == "*" {
		return rows
	}
	cols := strings.Split(sel, ",")
	out := make([]Row, len(rows))
	for i, r := range rows {
		p := make(Row, len(cols))
		for _, c := range cols {
			p[c] = r[c]
		}
		out[i] = p
	}
	return out
}

func contentRange(offset, n, total int) string {
	if n == 0 {
		return "*/" + strconv.Itoa(total)
	}
	return fmt.Sprintf("%d-%d/%d", offset, offset+n-1, total)
}
