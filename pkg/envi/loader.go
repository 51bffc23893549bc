package envi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"hsiprep/internal/models"
	"hsiprep/pkg/hsierr"
)

// dataExtensions are tried, in order, when looking for the data file that
// belongs to a header
var dataExtensions = []string{".img", ".raw", ".dat", ".bil", ".bip", ".bsq", ""}

// Load reads a header and its raw data file and returns the cube in
// (row, column, band) order together with the header metadata.
//
// The data file must be exactly header offset + lines*samples*bands*size
// bytes long. Nothing is returned unless the whole cube decodes.
func Load(headerPath, dataPath string) (*models.Cube, *Metadata, error) {
	meta, err := ReadHeader(headerPath)
	if err != nil {
		return nil, nil, err
	}

	geom, err := meta.Geometry()
	if err != nil {
		return nil, nil, withPath(err, headerPath)
	}

	info, err := os.Stat(dataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, &hsierr.NotFoundError{Path: dataPath, Err: err}
		}
		return nil, nil, fmt.Errorf("error accessing data file: %w", err)
	}

	expected := geom.FileSize()
	if info.Size() != expected {
		return nil, nil, sizeMismatch(dataPath, expected, info.Size())
	}

	raw, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading data file: %w", err)
	}
	if int64(len(raw)) != expected {
		return nil, nil, sizeMismatch(dataPath, expected, int64(len(raw)))
	}

	return Decode(raw[geom.HeaderOffset:], geom), meta, nil
}

func sizeMismatch(path string, expected, actual int64) error {
	return &hsierr.FormatError{
		Path:     path,
		Reason:   "data file size does not match header geometry",
		Expected: expected,
		Actual:   actual,
	}
}

// Decode converts raw sample bytes laid out as described by geom into a
// cube indexed (row, column, band). raw must hold exactly geom.DataSize()
// bytes.
func Decode(raw []byte, geom Geometry) *models.Cube {
	cube := models.NewCube(geom.Lines, geom.Samples, geom.Bands, geom.SampleType)
	size := geom.SampleType.Size()
	read := sampleReader(geom.SampleType, geom.ByteOrder)

	h, w, nb := geom.Lines, geom.Samples, geom.Bands
	off := 0
	next := func() float64 {
		v := read(raw[off : off+size])
		off += size
		return v
	}

	switch geom.Interleave {
	case BSQ:
		for b := 0; b < nb; b++ {
			for r := 0; r < h; r++ {
				for c := 0; c < w; c++ {
					cube.Data[cube.Index(r, c, b)] = next()
				}
			}
		}
	case BIL:
		for r := 0; r < h; r++ {
			for b := 0; b < nb; b++ {
				for c := 0; c < w; c++ {
					cube.Data[cube.Index(r, c, b)] = next()
				}
			}
		}
	case BIP:
		// file order already matches the in-memory layout
		for i := range cube.Data {
			cube.Data[i] = next()
		}
	}

	return cube
}

func sampleReader(t models.SampleType, order binary.ByteOrder) func([]byte) float64 {
	switch t {
	case models.SampleUint8:
		return func(p []byte) float64 { return float64(p[0]) }
	case models.SampleUint16:
		return func(p []byte) float64 { return float64(order.Uint16(p)) }
	case models.SampleFloat32:
		return func(p []byte) float64 { return float64(math.Float32frombits(order.Uint32(p))) }
	case models.SampleFloat64:
		return func(p []byte) float64 { return math.Float64frombits(order.Uint64(p)) }
	default:
		panic(fmt.Sprintf("envi: no reader for sample type %v", t))
	}
}

// DataPathFor finds the data file that accompanies a header. Both the
// "cube.hdr + cube.img" and the "cube.img + cube.img.hdr" conventions are
// recognised.
func DataPathFor(headerPath string) (string, error) {
	stem := strings.TrimSuffix(headerPath, filepath.Ext(headerPath))
	for _, ext := range dataExtensions {
		candidate := stem + ext
		if candidate == headerPath {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", &hsierr.NotFoundError{Path: stem + dataExtensions[0]}
}
