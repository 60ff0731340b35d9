package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxFileSize is the maximum accepted extract size (100MB).
var MaxFileSize int64 = 100 * 1024 * 1024

var (
	// ErrMissingHeader is returned when the input has no header row.
	ErrMissingHeader = errors.New("missing header row")

	// ErrFileTooLarge is returned when the input exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")
)

// ParseError reports a header or row problem that aborts the whole parse.
type ParseError struct {
	Line int // 0 when the error is not tied to a line
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("csv parse: line %d: %s", e.Line, e.Msg)
	}
	return "csv parse: " + e.Msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// utf8BOM is the byte order mark some spreadsheet exports prepend.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseRecords reads a CSV extract with a header row into RawRecords in
// source order. Any malformed header or row fails the whole parse.
func ParseRecords(r io.Reader) ([]RawRecord, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	data = sanitizeUTF8(data)

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = 0 // every row must match the header width

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ParseError{Msg: "input is empty", Err: ErrMissingHeader}
	}
	if err != nil {
		return nil, wrapCSVError(err)
	}

	idx, err := makeHeaderIndex(header)
	if err != nil {
		return nil, err
	}

	var records []RawRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrapCSVError(err)
		}
		if isEmptyRow(row) {
			continue
		}
		line, _ := cr.FieldPos(0)
		records = append(records, idx.record(row, line))
	}

	return records, nil
}

// headerIndex maps recognized column names to their position.
type headerIndex map[string]int

func makeHeaderIndex(header []string) (headerIndex, error) {
	recognized := make(map[string]bool, len(RecognizedColumns))
	for _, c := range RecognizedColumns {
		recognized[c] = true
	}

	idx := make(headerIndex, len(header))
	blank := true
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h != "" {
			blank = false
		}
		if !recognized[h] {
			continue
		}
		// A repeated column takes the value of its last occurrence.
		idx[h] = i
	}
	if blank {
		return nil, &ParseError{Line: 1, Msg: "header row is blank", Err: ErrMissingHeader}
	}

	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &ParseError{
			Line: 1,
			Msg:  fmt.Sprintf("missing required column: %s", strings.Join(missing, ", ")),
			Err:  ErrMissingHeader,
		}
	}

	return idx, nil
}

func (idx headerIndex) cell(row []string, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (idx headerIndex) record(row []string, line int) RawRecord {
	return RawRecord{
		Line:           line,
		HospitalName:   idx.cell(row, ColHospitalName),
		Permalink:      idx.cell(row, ColPermalink),
		Title:          idx.cell(row, ColTitle),
		FullName:       idx.cell(row, ColFullName),
		Disciplines:    idx.cell(row, ColDisciplines),
		Phone1:         idx.cell(row, ColPhone1),
		Phone2:         idx.cell(row, ColPhone2),
		Phone3:         idx.cell(row, ColPhone3),
		Email:          idx.cell(row, ColEmail),
		DisplayBioLink: idx.cell(row, ColDisplayBioLink),
		Status:         idx.cell(row, ColStatus),
	}
}

func wrapCSVError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Line: pe.Line, Msg: pe.Err.Error(), Err: err}
	}
	return &ParseError{Msg: err.Error(), Err: err}
}

func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('\uFFFD')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
