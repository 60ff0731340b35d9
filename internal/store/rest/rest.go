// Package rest is a store backend that talks to Supabase through its
// PostgREST endpoint (/rest/v1). It authenticates with the project key and
// relies on the table constraints for duplicate detection, exactly as the
// JavaScript client would.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lenmed/importer/internal/config"
	"github.com/lenmed/importer/internal/core"
	"github.com/lenmed/importer/internal/store"
)

// DefaultPageSize matches the Supabase default max-rows setting.
const DefaultPageSize = 1000

// deleteChunk bounds the id list in a single id=in.(...) filter.
const deleteChunk = 100

// zeroUUID is used as a match-everything filter; PostgREST refuses
// unfiltered updates.
const zeroUUID = "00000000-0000-0000-0000-000000000000"

// Client is a store.Backend over PostgREST.
type Client struct {
	baseURL  string
	key      string
	http     *http.Client
	pageSize int
}

var _ store.Backend = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithPageSize sets rows per page when listing a table.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// New returns a client for the project at projectURL authenticating with key.
func New(projectURL, key string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(projectURL, "/") + "/rest/v1",
		key:      key,
		http:     newHTTPClient(60 * time.Second),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds a client from the remote settings, preferring the service key.
func NewFromConfig(cfg config.RemoteConfig) *Client {
	return New(cfg.URL, cfg.Key(),
		WithHTTPClient(newHTTPClient(cfg.Timeout)),
		WithPageSize(cfg.PageSize),
	)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// APIError is a non-2xx PostgREST response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("postgrest: status %d: %s", e.Status, e.Message)
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// Is maps Postgres error codes carried in the body onto store sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case store.ErrDuplicate:
		return e.Code == "23505" || (e.Code == "" && e.Status == http.StatusConflict)
	case store.ErrReference:
		return e.Code == "23503"
	}
	return false
}

// request describes one PostgREST call.
type request struct {
	method string
	table  string
	query  url.Values
	body   any
	prefer []string
}

// do executes req, decoding a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, req request, out any) (http.Header, error) {
	u := c.baseURL + "/" + req.table
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", req.table, err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.table, err)
	}
	httpReq.Header.Set("apikey", c.key)
	httpReq.Header.Set("Authorization", "Bearer "+c.key)
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if len(req.prefer) > 0 {
		httpReq.Header.Set("Prefer", strings.Join(req.prefer, ","))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.method, req.table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		return resp.Header, apiErr
	}

	if out != nil && req.method != http.MethodHead {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, fmt.Errorf("decode %s response: %w", req.table, err)
		}
	}
	return resp.Header, nil
}

// parseCount extracts the row count from a Content-Range header such as
// "0-24/3573", "*/3573" or "0-9/*".
func parseCount(header string) (int64, error) {
	rng, total, ok := strings.Cut(header, "/")
	if !ok {
		return 0, fmt.Errorf("malformed Content-Range %q", header)
	}
	if total != "*" {
		return strconv.ParseInt(total, 10, 64)
	}
	if rng == "*" {
		return 0, nil
	}
	lo, hi, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, fmt.Errorf("malformed Content-Range %q", header)
	}
	from, err := strconv.ParseInt(lo, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range %q: %w", header, err)
	}
	to, err := strconv.ParseInt(hi, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range %q: %w", header, err)
	}
	return to - from + 1, nil
}

// listAll pages through table until a short page is returned.
func listAll[T any](ctx context.Context, c *Client, table string, query url.Values) ([]T, error) {
	var out []T
	for offset := 0; ; offset += c.pageSize {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(c.pageSize))
		q.Set("offset", strconv.Itoa(offset))

		var page []T
		if _, err := c.do(ctx, request{method: http.MethodGet, table: table, query: q}, &page); err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < c.pageSize {
			return out, nil
		}
	}
}

// ============================================================================
// Hospitals
// ============================================================================

type hospitalRow struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

func (c *Client) InsertHospitals(ctx context.Context, names []string) ([]core.Hospital, error) {
	if len(names) == 0 {
		return nil, nil
	}

	body := make([]hospitalRow, len(names))
	for i, n := range names {
		body[i] = hospitalRow{Name: n}
	}

	var rows []hospitalRow
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		table:  store.TableHospitals,
		query:  url.Values{"select": {"id,name"}},
		body:   body,
		prefer: []string{"return=representation"},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("insert hospitals: %w", err)
	}
	return toHospitals(rows), nil
}

func (c *Client) ListHospitals(ctx context.Context) ([]core.Hospital, error) {
	rows, err := listAll[hospitalRow](ctx, c, store.TableHospitals, url.Values{
		"select": {"id,name"},
		"order":  {"id.asc"},
	})
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	return toHospitals(rows), nil
}

func toHospitals(rows []hospitalRow) []core.Hospital {
	out := make([]core.Hospital, len(rows))
	for i, r := range rows {
		out[i] = core.Hospital{ID: r.ID, Name: r.Name}
	}
	return out
}

// ============================================================================
// Doctors
// ============================================================================

const doctorSelect = "id,title,full_name,disciplines,phone1,phone2,phone3,email,bio_link,permalink,status"

type doctorRow struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	FullName    string `json:"full_name"`
	Disciplines string `json:"disciplines"`
	Phone1      string `json:"phone1"`
	Phone2      string `json:"phone2"`
	Phone3      string `json:"phone3"`
	Email       string `json:"email"`
	BioLink     bool   `json:"bio_link"`
	Permalink   string `json:"permalink"`
	Status      string `json:"status"`
}

func fromDoctor(d core.Doctor) doctorRow {
	return doctorRow{
		Title:       d.Title,
		FullName:    d.FullName,
		Disciplines: d.Disciplines,
		Phone1:      d.Phone1,
		Phone2:      d.Phone2,
		Phone3:      d.Phone3,
		Email:       d.Email,
		BioLink:     d.BioLink,
		Permalink:   d.Permalink,
		Status:      d.Status,
	}
}

func (r doctorRow) doctor() core.Doctor {
	return core.Doctor{
		ID:          r.ID,
		Title:       r.Title,
		FullName:    r.FullName,
		Disciplines: r.Disciplines,
		Phone1:      r.Phone1,
		Phone2:      r.Phone2,
		Phone3:      r.Phone3,
		Email:       r.Email,
		BioLink:     r.BioLink,
		Permalink:   r.Permalink,
		Status:      r.Status,
	}
}

func toDoctors(rows []doctorRow) []core.Doctor {
	out := make([]core.Doctor, len(rows))
	for i, r := range rows {
		out[i] = r.doctor()
	}
	return out
}

func (c *Client) insertDoctors(ctx context.Context, doctors []core.Doctor) ([]core.Doctor, error) {
	body := make([]doctorRow, len(doctors))
	for i, d := range doctors {
		body[i] = fromDoctor(d)
	}

	var rows []doctorRow
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		table:  store.TableDoctors,
		query:  url.Values{"select": {doctorSelect}},
		body:   body,
		prefer: []string{"return=representation"},
	}, &rows)
	if err != nil {
		return nil, err
	}
	return toDoctors(rows), nil
}

func (c *Client) InsertDoctors(ctx context.Context, doctors []core.Doctor) ([]core.Doctor, error) {
	if len(doctors) == 0 {
		return nil, nil
	}
	out, err := c.insertDoctors(ctx, doctors)
	if err != nil {
		return nil, fmt.Errorf("insert doctors: %w", err)
	}
	return out, nil
}

func (c *Client) InsertDoctor(ctx context.Context, d core.Doctor) (core.Doctor, error) {
	out, err := c.insertDoctors(ctx, []core.Doctor{d})
	if err != nil {
		return core.Doctor{}, fmt.Errorf("insert doctor %q: %w", d.Permalink, err)
	}
	if len(out) != 1 {
		return core.Doctor{}, fmt.Errorf("insert doctor %q: got %d rows back", d.Permalink, len(out))
	}
	return out[0], nil
}

func (c *Client) FindDoctorByPermalink(ctx context.Context, permalink string) (core.Doctor, error) {
	var rows []doctorRow
	_, err := c.do(ctx, request{
		method: http.MethodGet,
		table:  store.TableDoctors,
		query: url.Values{
			"select":    {doctorSelect},
			"permalink": {"eq." + permalink},
			"limit":     {"1"},
		},
	}, &rows)
	if err != nil {
		return core.Doctor{}, fmt.Errorf("find doctor %q: %w", permalink, err)
	}
	if len(rows) == 0 {
		return core.Doctor{}, fmt.Errorf("doctor %q: %w", permalink, store.ErrNotFound)
	}
	return rows[0].doctor(), nil
}

func (c *Client) ListDoctors(ctx context.Context) ([]core.Doctor, error) {
	rows, err := listAll[doctorRow](ctx, c, store.TableDoctors, url.Values{
		"select": {doctorSelect},
		"order":  {"id.asc"},
	})
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return toDoctors(rows), nil
}

// ============================================================================
// Links
// ============================================================================

type linkRow struct {
	DoctorID   string `json:"doctor_id"`
	HospitalID string `json:"hospital_id"`
}

func (c *Client) insertLinks(ctx context.Context, pairs []core.IDPair) error {
	body := make([]linkRow, len(pairs))
	for i, p := range pairs {
		body[i] = linkRow{DoctorID: p.DoctorID, HospitalID: p.HospitalID}
	}
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		table:  store.TableDoctorHospitals,
		body:   body,
		prefer: []string{"return=minimal"},
	}, nil)
	return err
}

func (c *Client) InsertLinks(ctx context.Context, pairs []core.IDPair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	if err := c.insertLinks(ctx, pairs); err != nil {
		return 0, fmt.Errorf("insert links: %w", err)
	}
	return len(pairs), nil
}

func (c *Client) InsertLink(ctx context.Context, p core.IDPair) error {
	if err := c.insertLinks(ctx, []core.IDPair{p}); err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func (c *Client) ListLinks(ctx context.Context) ([]core.IDPair, error) {
	rows, err := listAll[linkRow](ctx, c, store.TableDoctorHospitals, url.Values{
		"select": {"doctor_id,hospital_id"},
		"order":  {"id.asc"},
	})
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	out := make([]core.IDPair, len(rows))
	for i, r := range rows {
		out[i] = core.IDPair{DoctorID: r.DoctorID, HospitalID: r.HospitalID}
	}
	return out, nil
}

// ============================================================================
// Admin and counts
// ============================================================================

type doctorRecordRow struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Client) ListDoctorRecords(ctx context.Context) ([]store.DoctorRecord, error) {
	rows, err := listAll[doctorRecordRow](ctx, c, store.TableDoctors, url.Values{
		"select": {"id,full_name,created_at"},
		"order":  {"created_at.asc,id.asc"},
	})
	if err != nil {
		return nil, fmt.Errorf("list doctor records: %w", err)
	}
	out := make([]store.DoctorRecord, len(rows))
	for i, r := range rows {
		out[i] = store.DoctorRecord{ID: r.ID, FullName: r.FullName, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

func (c *Client) ResetDoctorStatus(ctx context.Context) (int64, error) {
	header, err := c.do(ctx, request{
		method: http.MethodPatch,
		table:  store.TableDoctors,
		query:  url.Values{"id": {"neq." + zeroUUID}},
		body:   map[string]any{"status": nil},
		prefer: []string{"return=minimal", "count=exact"},
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("reset doctor status: %w", err)
	}
	return parseCount(header.Get("Content-Range"))
}

func (c *Client) DeleteDoctors(ctx context.Context, ids []string) (int64, error) {
	var total int64
	for start := 0; start < len(ids); start += deleteChunk {
		end := min(start+deleteChunk, len(ids))
		header, err := c.do(ctx, request{
			method: http.MethodDelete,
			table:  store.TableDoctors,
			query:  url.Values{"id": {"in.(" + strings.Join(ids[start:end], ",") + ")"}},
			prefer: []string{"return=minimal", "count=exact"},
		}, nil)
		if err != nil {
			return total, fmt.Errorf("delete doctors: %w", err)
		}
		n, err := parseCount(header.Get("Content-Range"))
		if err != nil {
			return total, fmt.Errorf("delete doctors: %w", err)
		}
		total += n
	}
	return total, nil
}

func (c *Client) Count(ctx context.Context, table string) (int64, error) {
	if !store.KnownTable(table) {
		return 0, fmt.Errorf("count %q: %w", table, store.ErrUnknownTable)
	}
	header, err := c.do(ctx, request{
		method: http.MethodHead,
		table:  table,
		query:  url.Values{"select": {"id"}},
		prefer: []string{"count=exact"},
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	n, err := parseCount(header.Get("Content-Range"))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
