package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ContextCheckInterval is how often (in rows) the CSV scanner checks for cancellation.
var ContextCheckInterval = 100

// CSV column names. Matching is case-insensitive and ignores surrounding whitespace.
const (
	ColumnFilename = "filename"
	ColumnURL      = "url"
	ColumnWidth    = "width"
	ColumnHeight   = "height"
	ColumnPrompt   = "prompt"
	ColumnImageKey = "img_key"
)

// RequiredCSVColumns lists the columns every CSV upload must carry.
var RequiredCSVColumns = []string{ColumnFilename, ColumnURL, ColumnWidth, ColumnHeight, ColumnPrompt}

const csvEmptyMessage = "no valid rows: every row was missing a required field"

// HeaderIndex maps cleaned, lowercase column names to their position in a row.
type HeaderIndex map[string]int

// MakeHeaderIndex builds a HeaderIndex from a header row. The first
// occurrence of a duplicated column name wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(cleanHeader(h))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// cleanHeader removes spreadsheet artifacts from a header cell.
func cleanHeader(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	}
	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// RawCSVRow is one data row together with its source line.
type RawCSVRow struct {
	Line   int
	Fields []string
	header HeaderIndex
}

// Get returns the trimmed value of column, or "" when the row lacks it.
func (r RawCSVRow) Get(column string) string {
	pos, ok := r.header[column]
	if !ok || pos >= len(r.Fields) {
		return ""
	}
	return strings.TrimSpace(r.Fields[pos])
}

func (r RawCSVRow) blank() bool {
	for _, v := range r.Fields {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ParseCSV parses a CSV upload into an ordered batch. The input is consumed
// row by row; see ScanCSV for the fully streaming form.
func ParseCSV(ctx context.Context, r io.Reader, opts ...ParseOption) (*ParseResult, error) {
	return scanCSV(ctx, r, nil, opts)
}

// ScanCSV streams accepted records to fn in file order instead of collecting
// them; the returned ParseResult carries counts and skips but no Records.
// An error from fn stops the scan and is returned unchanged.
func ScanCSV(ctx context.Context, r io.Reader, fn func(ImageRecord) error, opts ...ParseOption) (*ParseResult, error) {
	if fn == nil {
		return nil, errors.New("csv: nil record callback")
	}
	return scanCSV(ctx, r, fn, opts)
}

func scanCSV(ctx context.Context, r io.Reader, fn func(ImageRecord) error, opts []ParseOption) (*ParseResult, error) {
	o := buildParseOptions(opts)

	cr := csv.NewReader(NewStreamingUTF8Sanitizer(NewBOMSkippingReader(r)))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, structuralError(FormatCSV, "empty file: no header row", nil)
	}
	if err != nil {
		return nil, structuralError(FormatCSV, "invalid csv header", err)
	}

	idx := MakeHeaderIndex(header)
	var missing []string
	for _, col := range RequiredCSVColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, structuralError(FormatCSV,
			fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")), nil)
	}

	b := newBatchBuilder(FormatCSV, o)
	b.emit = fn

	dataRows := 0
	for n := 0; ; n++ {
		if n%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, structuralError(FormatCSV, "upload aborted", err)
			}
		}

		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, structuralError(FormatCSV, "invalid csv", err)
		}

		line, _ := cr.FieldPos(0)
		row := RawCSVRow{Line: line, Fields: fields, header: idx}
		if row.blank() {
			continue
		}
		dataRows++

		rec, reason := csvRecord(row)
		if reason != "" {
			b.skip(row.Line, row.Get(ColumnFilename), reason)
			continue
		}
		if err := b.add(row.Line, rec.Filename, rec); err != nil {
			return nil, err
		}
	}

	if dataRows == 0 {
		return nil, emptyResultError(FormatCSV, "empty file: no data rows after header")
	}
	return b.finish(csvEmptyMessage)
}

// csvRecord converts a row, or returns the reason it must be skipped.
func csvRecord(row RawCSVRow) (ImageRecord, string) {
	for _, col := range RequiredCSVColumns {
		if row.Get(col) == "" {
			return ImageRecord{}, "missing required field " + col
		}
	}

	width, ok := parseDimension(row.Get(ColumnWidth))
	if !ok {
		return ImageRecord{}, "invalid width"
	}
	height, ok := parseDimension(row.Get(ColumnHeight))
	if !ok {
		return ImageRecord{}, "invalid height"
	}

	return ImageRecord{
		ImageKey:           row.Get(ColumnImageKey),
		Filename:           row.Get(ColumnFilename),
		PrimaryURL:         row.Get(ColumnURL),
		Width:              width,
		Height:             height,
		Caption:            row.Get(ColumnPrompt),
		AdditionalCaptions: []string{},
	}, ""
}

// parseDimension accepts a non-negative integer, also written as "512.0".
func parseDimension(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, false
		}
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
