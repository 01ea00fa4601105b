package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/JonMunkholm/captionset/internal/jsonx"
)

// COCOID is a COCO identifier. The COCO convention uses numbers, but string
// ids occur in the wild; both decode here and compare by canonical value, so
// image id 1 matches an annotation's image_id "1". Any other JSON type is a
// decode error.
type COCOID struct {
	text string
	set  bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *COCOID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = COCOID{}
		return nil
	}

	switch c := b[0]; {
	case c == '"':
		var s string
		if err := jsonx.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		*id = COCOID{text: canonicalID(s), set: s != ""}
	case c == '-' || (c >= '0' && c <= '9'):
		*id = COCOID{text: canonicalID(string(b)), set: true}
	default:
		return fmt.Errorf("id must be a number or string, got %s", b)
	}
	return nil
}

// Valid reports whether the id was present and non-empty.
func (id COCOID) Valid() bool {
	return id.set
}

func (id COCOID) String() string {
	return id.text
}

// Int64 returns the id as an integer when it is integral.
func (id COCOID) Int64() (int64, bool) {
	if !id.set {
		return 0, false
	}
	n, err := strconv.ParseInt(id.text, 10, 64)
	return n, err == nil
}

// canonicalID renders integral numbers without sign noise or fraction
// ("01", "1.0" and "1" all become "1"); other text is returned unchanged.
func canonicalID(s string) string {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

// COCODimension is an image width or height. It accepts any JSON number
// with an integral, non-negative value ("512" and "512.0" alike) and numeric
// strings, matching the CSV column rules.
type COCODimension struct {
	value int
	set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *COCODimension) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = COCODimension{}
		return nil
	}

	raw := string(b)
	if b[0] == '"' {
		if err := jsonx.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
	}
	n, ok := parseDimension(raw)
	if !ok {
		return fmt.Errorf("dimension must be a non-negative integer, got %s", b)
	}
	*d = COCODimension{value: n, set: true}
	return nil
}

// Int returns the dimension, or 0 when it was absent.
func (d COCODimension) Int() int {
	return d.value
}

// RawCOCOImage is one entry of a COCO "images" array.
type RawCOCOImage struct {
	ID        COCOID        `json:"id"`
	FileName  string        `json:"file_name"`
	CocoURL   string        `json:"coco_url"`
	FlickrURL string        `json:"flickr_url"`
	Width     COCODimension `json:"width"`
	Height    COCODimension `json:"height"`
	License   *COCOID       `json:"license"`
}

// RawCOCOAnnotation is one entry of a COCO "annotations" array.
type RawCOCOAnnotation struct {
	ID      COCOID `json:"id"`
	ImageID COCOID `json:"image_id"`
	Caption string `json:"caption"`
}

// RawCOCOLicense is one entry of a COCO "licenses" array.
type RawCOCOLicense struct {
	ID   COCOID `json:"id"`
	Name string `json:"name"`
}

// cocoDocument holds the top-level arrays undecoded so one malformed entry
// only costs that entry.
type cocoDocument struct {
	Images      *[]json.RawMessage `json:"images"`
	Annotations *[]json.RawMessage `json:"annotations"`
	Licenses    json.RawMessage    `json:"licenses"`
}

const cocoEmptyMessage = "no valid images: every image was missing a URL or caption"

// ParseCOCO parses a COCO captions document into an ordered batch.
//
// Only unparsable JSON or a missing "images" or "annotations" array fails
// the document. Images without a URL (coco_url, falling back to flickr_url),
// without a non-blank caption, or whose entry does not decode are
// soft-skipped. The first caption of an image becomes its Caption and the
// rest its AdditionalCaptions, in annotation order. If no image survives,
// the whole batch fails with ErrEmptyResult.
func ParseCOCO(data []byte, opts ...ParseOption) (*ParseResult, error) {
	o := buildParseOptions(opts)
	data = bytes.TrimPrefix(data, utf8BOM)

	if !jsonx.Valid(data) {
		return nil, structuralError(FormatCOCO, "invalid JSON", nil)
	}
	var doc cocoDocument
	if err := jsonx.Unmarshal(data, &doc); err != nil {
		return nil, structuralError(FormatCOCO, `"images" and "annotations" must be arrays`, err)
	}
	if doc.Images == nil {
		return nil, structuralError(FormatCOCO, `missing "images" array`, nil)
	}
	if doc.Annotations == nil {
		return nil, structuralError(FormatCOCO, `missing "annotations" array`, nil)
	}

	licenses := decodeLicenses(doc.Licenses)

	captions := make(map[string][]string)
	discarded := 0
	for i, raw := range *doc.Annotations {
		var a RawCOCOAnnotation
		if err := jsonx.Unmarshal(raw, &a); err != nil {
			slog.Warn("coco: undecodable annotation", "position", i+1, "error", entryError(err))
			discarded++
			continue
		}
		c := strings.TrimSpace(a.Caption)
		if c == "" || !a.ImageID.Valid() {
			discarded++
			continue
		}
		captions[a.ImageID.String()] = append(captions[a.ImageID.String()], c)
	}
	if discarded > 0 {
		slog.Debug("coco: discarded annotations", "count", discarded)
	}

	b := newBatchBuilder(FormatCOCO, o)
	for i, raw := range *doc.Images {
		pos := i + 1

		var img RawCOCOImage
		if err := jsonx.Unmarshal(raw, &img); err != nil {
			b.skip(pos, entryRef(raw), "invalid entry: "+entryError(err))
			continue
		}
		ref := img.ID.String()

		primary := strings.TrimSpace(img.CocoURL)
		flickr := strings.TrimSpace(img.FlickrURL)
		resolved := primary
		if resolved == "" {
			resolved = flickr
		}
		if resolved == "" {
			b.skip(pos, ref, "missing url")
			continue
		}

		var group []string
		if img.ID.Valid() {
			group = captions[ref]
		}
		if len(group) == 0 {
			b.skip(pos, ref, "no caption")
			continue
		}

		rec := ImageRecord{
			Filename:           img.FileName,
			PrimaryURL:         resolved,
			Caption:            group[0],
			AdditionalCaptions: group[1:],
			Width:              img.Width.Int(),
			Height:             img.Height.Int(),
		}
		if flickr != "" {
			rec.SecondaryURL = &flickr
		}
		if n, ok := img.ID.Int64(); ok {
			rec.ExternalImageID = &n
		}
		if img.License != nil && img.License.Valid() {
			name := licenses[img.License.String()]
			if name == "" {
				name = img.License.String()
			}
			rec.License = &name
		}

		if err := b.add(pos, ref, rec); err != nil {
			return nil, err
		}
	}

	return b.finish(cocoEmptyMessage)
}

// decodeLicenses maps license ids to names. The array is optional; a
// malformed array or entry only loses the names, never the images.
func decodeLicenses(raw json.RawMessage) map[string]string {
	names := make(map[string]string)
	if len(bytes.TrimSpace(raw)) == 0 {
		return names
	}
	var entries []json.RawMessage
	if err := jsonx.Unmarshal(raw, &entries); err != nil {
		slog.Warn("coco: ignoring licenses", "error", entryError(err))
		return names
	}
	for _, e := range entries {
		var l RawCOCOLicense
		if err := jsonx.Unmarshal(e, &l); err == nil && l.ID.Valid() {
			names[l.ID.String()] = strings.TrimSpace(l.Name)
		}
	}
	return names
}

// entryRef recovers the id of an entry that failed to decode, if it has one.
func entryRef(raw json.RawMessage) string {
	var e struct {
		ID COCOID `json:"id"`
	}
	if err := jsonx.Unmarshal(raw, &e); err != nil {
		return ""
	}
	return e.ID.String()
}

// entryError shortens a decode error to its first line.
func entryError(err error) string {
	msg, _, _ := strings.Cut(err.Error(), "\n")
	msg = strings.TrimSpace(msg)
	if r := []rune(msg); len(r) > 120 {
		msg = string(r[:117]) + "..."
	}
	return msg
}

var (
	_ json.Unmarshaler = (*COCOID)(nil)
	_ json.Unmarshaler = (*COCODimension)(nil)
)
