package core

// normalize.go is the shared normalization and validation step.
//
// Both parsers feed candidate records into a batchBuilder one at a time. The
// builder trims and defaults fields, generates missing image keys, validates
// the record invariants, rejects duplicate keys and assigns OrderIndex on
// acceptance. Because numbering happens only for accepted records, the
// OrderIndex values of a batch are always exactly 1..N.

import (
	"errors"
	"net/url"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// DefaultSkipSampleSize is how many soft skips are kept verbatim per batch.
const DefaultSkipSampleSize = 10

// missingContentReasons are the skip reasons meaning a record had no usable
// URL or caption.
var missingContentReasons = map[string]bool{
	"missing url":                   true,
	"no caption":                    true,
	"missing required field url":    true,
	"missing required field prompt": true,
	"missing primaryUrl":            true,
	"missing caption":               true,
}

var (
	recordValidate     *validator.Validate
	recordValidateOnce sync.Once
)

// recordValidator returns the shared validator, reporting json field names.
func recordValidator() *validator.Validate {
	recordValidateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		recordValidate = v
	})
	return recordValidate
}

// batchBuilder accumulates one parse's accepted records.
type batchBuilder struct {
	format  Format
	keys    KeyGenerator
	seen    map[string]int
	records []ImageRecord
	skipped SkipReport
	dimWarn int
	count   int

	// emit, when set, receives each accepted record instead of collecting it.
	emit func(ImageRecord) error
}

func newBatchBuilder(format Format, o parseOptions) *batchBuilder {
	return &batchBuilder{
		format:  format,
		keys:    o.keys,
		seen:    make(map[string]int),
		skipped: newSkipReport(o.sampleSize),
	}
}

// skip records a soft skip for the source record at pos.
func (b *batchBuilder) skip(pos int, ref, reason string) {
	b.skipped.add(SoftSkipWarning{Position: pos, Ref: ref, Reason: reason})
}

// add normalizes and validates rec. Invalid records become soft skips; a
// duplicate image key is fatal to the whole batch.
func (b *batchBuilder) add(pos int, ref string, rec ImageRecord) error {
	normalizeRecord(&rec)
	if rec.ImageKey == "" {
		rec.ImageKey = b.keys.NewKey()
	}

	if err := recordValidator().Struct(rec); err != nil {
		b.skip(pos, ref, validationReason(err))
		return nil
	}

	if first, ok := b.seen[rec.ImageKey]; ok {
		return duplicateKeyError(b.format, &DuplicateKeyError{
			Key:            rec.ImageKey,
			FirstPosition:  first,
			SecondPosition: pos,
		})
	}
	b.seen[rec.ImageKey] = pos

	b.count++
	rec.OrderIndex = b.count

	if needsDimensionWarning(rec.Width) || needsDimensionWarning(rec.Height) {
		b.dimWarn++
	}

	if b.emit != nil {
		return b.emit(rec)
	}
	b.records = append(b.records, rec)
	return nil
}

// finish returns the batch, or an EmptyResult failure when nothing survived.
func (b *batchBuilder) finish(emptyMsg string) (*ParseResult, error) {
	if b.count == 0 {
		return nil, emptyResultError(b.format, emptyMsg)
	}
	return &ParseResult{
		Format:            b.format,
		Records:           b.records,
		Skipped:           b.skipped,
		DimensionWarnings: b.dimWarn,
	}, nil
}

// normalizeRecord trims text fields and fills derived defaults in place.
func normalizeRecord(rec *ImageRecord) {
	rec.ImageKey = strings.TrimSpace(rec.ImageKey)
	rec.Filename = strings.TrimSpace(rec.Filename)
	rec.PrimaryURL = strings.TrimSpace(rec.PrimaryURL)
	rec.Caption = strings.TrimSpace(rec.Caption)
	rec.SecondaryURL = trimOptional(rec.SecondaryURL)
	rec.License = trimOptional(rec.License)

	extra := make([]string, 0, len(rec.AdditionalCaptions))
	for _, c := range rec.AdditionalCaptions {
		if c = strings.TrimSpace(c); c != "" {
			extra = append(extra, c)
		}
	}
	rec.AdditionalCaptions = extra

	if rec.Filename == "" {
		rec.Filename = filenameFromURL(rec.PrimaryURL)
	}
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// filenameFromURL returns the final path segment of rawURL.
// Query strings and fragments are ignored when the URL parses.
func filenameFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// needsDimensionWarning flags sizes most training pipelines reject or pad.
func needsDimensionWarning(v int) bool {
	return v == 0 || v%2 != 0
}

// validationReason turns a validator failure into a short skip reason.
func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return "missing " + fe.Field()
	case "gte":
		return "negative " + fe.Field()
	default:
		return "invalid " + fe.Field()
	}
}
