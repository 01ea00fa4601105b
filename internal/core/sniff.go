package core

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/captionset/internal/jsonx"
)

// sniffWindow is how many leading bytes SniffReader inspects before deciding
// whether the payload has to be buffered.
const sniffWindow = 4096

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectFormat classifies a payload as COCO or CSV.
//
// A JSON object carrying both an "images" array and an "annotations" array is
// COCO. Everything else that is not blank is assumed to be CSV; the CSV parser
// reports the real problem if it is not. Blank input is FormatUnrecognized.
// DetectFormat never panics.
func DetectFormat(data []byte) (format Format) {
	defer func() {
		if r := recover(); r != nil {
			format = FormatCSV
		}
	}()

	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))
	if len(trimmed) == 0 {
		return FormatUnrecognized
	}
	if trimmed[0] != '{' {
		return FormatCSV
	}

	var probe struct {
		Images      json.RawMessage `json:"images"`
		Annotations json.RawMessage `json:"annotations"`
	}
	if err := jsonx.Unmarshal(trimmed, &probe); err != nil {
		return FormatCSV
	}
	if isJSONArray(probe.Images) && isJSONArray(probe.Annotations) {
		return FormatCOCO
	}
	return FormatCSV
}

func isJSONArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

// Sniffed is the outcome of SniffReader.
type Sniffed struct {
	Format Format

	// Data holds the whole payload when it had to be buffered to decide
	// (input starting with '{'). Nil for streamed CSV.
	Data []byte

	// Reader yields the complete payload from its first byte.
	Reader io.Reader
}

// SniffReader classifies a stream while keeping the CSV path streaming.
//
// Only input whose first significant byte is '{' can be COCO, so only that
// input is read fully into memory and passed to DetectFormat. Any other
// input is classified CSV after peeking at most sniffWindow bytes.
func SniffReader(r io.Reader) (*Sniffed, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	head, err := br.Peek(sniffWindow)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	atEOF := errors.Is(err, io.EOF)

	head = bytes.TrimPrefix(head, utf8BOM)
	first := bytes.TrimLeft(head, " \t\r\n")
	switch {
	case len(first) == 0 && atEOF:
		return &Sniffed{Format: FormatUnrecognized, Reader: br}, nil
	case len(first) == 0 || first[0] != '{':
		return &Sniffed{Format: FormatCSV, Reader: br}, nil
	}

	data, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return &Sniffed{
		Format: DetectFormat(data),
		Data:   data,
		Reader: bytes.NewReader(data),
	}, nil
}
