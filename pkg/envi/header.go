// Package envi reads and writes hyperspectral cubes stored in the ENVI
// layout: a raw binary data file paired with a text header describing its
// geometry, sample type, interleave order and byte order.
//
// Only the fields needed to decode the raw data are interpreted. Every other
// header field is kept, in file order, in Metadata and written back unchanged.
package envi

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"

	"hsiprep/internal/models"
	"hsiprep/pkg/hsierr"
)

// Header field names interpreted by the loader
const (
	FieldSamples      = "samples"
	FieldLines        = "lines"
	FieldBands        = "bands"
	FieldHeaderOffset = "header offset"
	FieldDataType     = "data type"
	FieldInterleave   = "interleave"
	FieldByteOrder    = "byte order"
	FieldFileType     = "file type"
	FieldDescription  = "description"
	FieldWavelength   = "wavelength"
)

// geometryFields are rewritten by the writer from the cube itself
var geometryFields = map[string]bool{
	FieldSamples:      true,
	FieldLines:        true,
	FieldBands:        true,
	FieldHeaderOffset: true,
	FieldDataType:     true,
	FieldInterleave:   true,
	FieldByteOrder:    true,
	FieldFileType:     true,
}

// Interleave is the on-disk ordering of the three cube axes
type Interleave string

const (
	// BSQ stores whole bands one after another
	BSQ Interleave = "bsq"
	// BIL stores, for each line, every band of that line
	BIL Interleave = "bil"
	// BIP stores the full spectrum of each pixel contiguously
	BIP Interleave = "bip"
)

// ParseInterleave converts a header value into an Interleave
func ParseInterleave(value string) (Interleave, error) {
	switch il := Interleave(strings.ToLower(strings.TrimSpace(value))); il {
	case BSQ, BIL, BIP:
		return il, nil
	default:
		return "", &hsierr.UnsupportedFormatError{Field: FieldInterleave, Value: value}
	}
}

// ENVI data type codes
var dataTypeCodes = map[int]models.SampleType{
	1:  models.SampleUint8,
	4:  models.SampleFloat32,
	5:  models.SampleFloat64,
	12: models.SampleUint16,
}

// DataTypeCode returns the ENVI code for a sample type
func DataTypeCode(t models.SampleType) (int, error) {
	for code, st := range dataTypeCodes {
		if st == t {
			return code, nil
		}
	}
	return 0, &hsierr.UnsupportedFormatError{Field: FieldDataType, Value: t.String()}
}

// Metadata is an ordered mapping of header field names to raw string values.
// Field names are stored lower-cased.
type Metadata struct {
	keys   []string
	values map[string]string
}

// NewMetadata creates an empty Metadata
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]string)}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.Join(strings.Fields(key), " "))
}

// Set stores a field. A new field is appended to the key order, an existing
// one keeps its position.
func (m *Metadata) Set(key, value string) {
	key = normalizeKey(key)
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the raw value of a field
func (m *Metadata) Get(key string) (string, bool) {
	v, ok := m.values[normalizeKey(key)]
	return v, ok
}

// Delete removes a field
func (m *Metadata) Delete(key string) {
	key = normalizeKey(key)
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in header order
func (m *Metadata) Keys() []string {
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// Len returns the number of fields
func (m *Metadata) Len() int {
	return len(m.keys)
}

// Clone returns an independent copy
func (m *Metadata) Clone() *Metadata {
	c := NewMetadata()
	for _, k := range m.keys {
		c.Set(k, m.values[k])
	}
	return c
}

// Int parses a required integer field
func (m *Metadata) Int(key string) (int, error) {
	raw, ok := m.Get(key)
	if !ok {
		return 0, &hsierr.FormatError{Field: key, Reason: "missing required field"}
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &hsierr.FormatError{Field: key, Reason: fmt.Sprintf("not an integer: %q", raw)}
	}
	return v, nil
}

// IntOr parses an optional integer field, returning def when absent
func (m *Metadata) IntOr(key string, def int) (int, error) {
	if _, ok := m.Get(key); !ok {
		return def, nil
	}
	return m.Int(key)
}

// List splits a brace-delimited list value into its trimmed elements
func (m *Metadata) List(key string) ([]string, bool) {
	raw, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if strings.TrimSpace(raw) == "" {
		return []string{}, true
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, true
}

// Float64List parses a brace-delimited numeric list such as wavelength
func (m *Metadata) Float64List(key string) ([]float64, error) {
	parts, ok := m.List(key)
	if !ok {
		return nil, &hsierr.FormatError{Field: key, Reason: "missing field"}
	}
	values := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, &hsierr.FormatError{Field: key, Reason: fmt.Sprintf("element %d is not a number: %q", i, p)}
		}
		values[i] = v
	}
	return values, nil
}

// SetFloat64List stores values as a brace-delimited list
func (m *Metadata) SetFloat64List(key string, values []float64) {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	m.Set(key, "{"+strings.Join(parts, ", ")+"}")
}

// Geometry is the decoded subset of the header the loader needs
type Geometry struct {
	Samples      int
	Lines        int
	Bands        int
	HeaderOffset int
	SampleType   models.SampleType
	Interleave   Interleave
	ByteOrder    binary.ByteOrder
}

// DataSize returns the number of raw sample bytes the geometry describes,
// excluding the header offset.
func (g Geometry) DataSize() int64 {
	return int64(g.Samples) * int64(g.Lines) * int64(g.Bands) * int64(g.SampleType.Size())
}

// FileSize returns the expected length of the data file
func (g Geometry) FileSize() int64 {
	return int64(g.HeaderOffset) + g.DataSize()
}

// fits reports whether header offset + samples*lines*bands*size is
// representable as an int64 byte count
func (g Geometry) fits() bool {
	acc := int64(g.SampleType.Size())
	for _, n := range []int{g.Samples, g.Lines, g.Bands} {
		if acc > math.MaxInt64/int64(n) {
			return false
		}
		acc *= int64(n)
	}
	return acc <= math.MaxInt64-int64(g.HeaderOffset)
}

// Geometry decodes and validates the geometry fields
func (m *Metadata) Geometry() (Geometry, error) {
	var g Geometry
	var err error

	for _, f := range []struct {
		key string
		dst *int
	}{
		{FieldSamples, &g.Samples},
		{FieldLines, &g.Lines},
		{FieldBands, &g.Bands},
	} {
		if *f.dst, err = m.Int(f.key); err != nil {
			return g, err
		}
		if *f.dst <= 0 {
			return g, &hsierr.FormatError{Field: f.key, Reason: fmt.Sprintf("must be positive, got %d", *f.dst)}
		}
	}

	if g.HeaderOffset, err = m.IntOr(FieldHeaderOffset, 0); err != nil {
		return g, err
	}
	if g.HeaderOffset < 0 {
		return g, &hsierr.FormatError{Field: FieldHeaderOffset, Reason: "must not be negative"}
	}

	code, err := m.Int(FieldDataType)
	if err != nil {
		return g, err
	}
	st, ok := dataTypeCodes[code]
	if !ok {
		return g, &hsierr.UnsupportedFormatError{Field: FieldDataType, Value: strconv.Itoa(code)}
	}
	g.SampleType = st
	if !g.fits() {
		return g, &hsierr.FormatError{Field: FieldSamples, Reason: "declared geometry overflows"}
	}

	raw, ok := m.Get(FieldInterleave)
	if !ok {
		return g, &hsierr.FormatError{Field: FieldInterleave, Reason: "missing required field"}
	}
	if g.Interleave, err = ParseInterleave(raw); err != nil {
		return g, err
	}

	order, err := m.IntOr(FieldByteOrder, 0)
	if err != nil {
		return g, err
	}
	switch order {
	case 0:
		g.ByteOrder = binary.LittleEndian
	case 1:
		g.ByteOrder = binary.BigEndian
	default:
		return g, &hsierr.UnsupportedFormatError{Field: FieldByteOrder, Value: strconv.Itoa(order)}
	}

	return g, nil
}

// ParseHeader reads ENVI header text. The first non-blank line must be
// "ENVI". Values enclosed in braces may span several lines; lines starting
// with ';' are comments.
func ParseHeader(r io.Reader) (*Metadata, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	meta := NewMetadata()
	lineNo := 0
	sawMagic := false

	var pendingKey string
	var pending strings.Builder
	pendingLine := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if pendingKey != "" {
			pending.WriteString(" ")
			pending.WriteString(line)
			if strings.Contains(line, "}") {
				meta.Set(pendingKey, collapseList(pending.String()))
				pendingKey = ""
				pending.Reset()
			}
			continue
		}

		if line == "" {
			continue
		}
		if !sawMagic {
			if !strings.EqualFold(line, "ENVI") {
				return nil, &hsierr.FormatError{Line: lineNo, Reason: "header must start with ENVI"}
			}
			sawMagic = true
			continue
		}
		if strings.HasPrefix(line, ";") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" {
			return nil, &hsierr.FormatError{Line: lineNo, Reason: fmt.Sprintf("expected 'key = value', got %q", line)}
		}

		if strings.HasPrefix(value, "{") && !strings.Contains(value, "}") {
			pendingKey = key
			pendingLine = lineNo
			pending.WriteString(value)
			continue
		}
		meta.Set(key, collapseList(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}
	if !sawMagic {
		return nil, &hsierr.FormatError{Reason: "empty header"}
	}
	if pendingKey != "" {
		return nil, &hsierr.FormatError{Line: pendingLine, Field: normalizeKey(pendingKey), Reason: "unterminated '{'"}
	}
	return meta, nil
}

// collapseList normalises whitespace inside a brace value so multi-line
// lists are stored on one line.
func collapseList(value string) string {
	if !strings.HasPrefix(value, "{") {
		return value
	}
	return strings.Join(strings.Fields(value), " ")
}

// ReadHeader opens and parses a header file
func ReadHeader(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &hsierr.NotFoundError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("error opening header: %w", err)
	}
	defer f.Close()

	meta, err := ParseHeader(f)
	if err != nil {
		return nil, withPath(err, path)
	}
	return meta, nil
}

// withPath fills in the file path of a FormatError produced by a parser
// that only sees a reader.
func withPath(err error, path string) error {
	var fe *hsierr.FormatError
	if errors.As(err, &fe) && fe.Path == "" {
		fe.Path = path
	}
	return err
}
