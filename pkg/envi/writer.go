package envi

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"hsiprep/internal/models"
)

// SaveOption configures Save and SaveMask
type SaveOption func(*saveOptions)

type saveOptions struct {
	interleave  Interleave
	metadata    *Metadata
	description string
}

func defaultSaveOptions() *saveOptions {
	return &saveOptions{interleave: BSQ}
}

// WithInterleave sets the on-disk interleave of the written cube (default BSQ)
func WithInterleave(il Interleave) SaveOption {
	return func(o *saveOptions) {
		if il == BSQ || il == BIL || il == BIP {
			o.interleave = il
		}
	}
}

// WithMetadata passes non-geometry fields through to the written header
func WithMetadata(meta *Metadata) SaveOption {
	return func(o *saveOptions) {
		o.metadata = meta
	}
}

// WithDescription sets the header description field
func WithDescription(desc string) SaveOption {
	return func(o *saveOptions) {
		o.description = desc
	}
}

// Save writes cube as a little-endian ENVI header/data pair. The data type
// follows cube.SampleType; integer types are rounded and saturated.
func Save(cube *models.Cube, headerPath, dataPath string, opts ...SaveOption) error {
	if err := cube.Validate(); err != nil {
		return err
	}
	o := defaultSaveOptions()
	for _, opt := range opts {
		opt(o)
	}

	code, err := DataTypeCode(cube.SampleType)
	if err != nil {
		return err
	}

	meta := NewMetadata()
	if o.description != "" {
		meta.Set(FieldDescription, "{"+o.description+"}")
	}
	meta.Set(FieldSamples, fmt.Sprint(cube.Width))
	meta.Set(FieldLines, fmt.Sprint(cube.Height))
	meta.Set(FieldBands, fmt.Sprint(cube.Bands))
	meta.Set(FieldHeaderOffset, "0")
	meta.Set(FieldFileType, "ENVI Standard")
	meta.Set(FieldDataType, fmt.Sprint(code))
	meta.Set(FieldInterleave, string(o.interleave))
	meta.Set(FieldByteOrder, "0")
	if o.metadata != nil {
		for _, k := range o.metadata.Keys() {
			if geometryFields[k] {
				continue
			}
			if k == FieldDescription && o.description != "" {
				continue
			}
			v, _ := o.metadata.Get(k)
			meta.Set(k, v)
		}
	}

	if err := writeFile(headerPath, func(w io.Writer) error { return WriteHeader(w, meta) }); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	if err := writeFile(dataPath, func(w io.Writer) error { return Encode(w, cube, o.interleave) }); err != nil {
		return fmt.Errorf("error writing data file: %w", err)
	}
	return nil
}

// SaveMask writes a mask as a one-band uint8 cube, 1 for foreground
func SaveMask(mask *models.Mask, headerPath, dataPath string, opts ...SaveOption) error {
	cube := models.NewCube(mask.Height, mask.Width, 1, models.SampleUint8)
	for i, v := range mask.Data {
		if v {
			cube.Data[i] = 1
		}
	}
	return Save(cube, headerPath, dataPath, opts...)
}

// WriteHeader writes meta as ENVI header text
func WriteHeader(w io.Writer, meta *Metadata) error {
	if _, err := fmt.Fprintln(w, "ENVI"); err != nil {
		return err
	}
	for _, k := range meta.Keys() {
		v, _ := meta.Get(k)
		if _, err := fmt.Fprintf(w, "%s = %s\n", k, v); err != nil {
			return err
		}
	}
	return nil
}

// Encode writes the cube samples in the given interleave, little-endian
func Encode(w io.Writer, cube *models.Cube, il Interleave) error {
	size := cube.SampleType.Size()
	write := sampleWriter(cube.SampleType, binary.LittleEndian)
	buf := make([]byte, size)
	put := func(v float64) error {
		write(buf, v)
		_, err := w.Write(buf)
		return err
	}

	h, wd, nb := cube.Shape()
	switch il {
	case BSQ:
		for b := 0; b < nb; b++ {
			for r := 0; r < h; r++ {
				for c := 0; c < wd; c++ {
					if err := put(cube.At(r, c, b)); err != nil {
						return err
					}
				}
			}
		}
	case BIL:
		for r := 0; r < h; r++ {
			for b := 0; b < nb; b++ {
				for c := 0; c < wd; c++ {
					if err := put(cube.At(r, c, b)); err != nil {
						return err
					}
				}
			}
		}
	case BIP:
		for _, v := range cube.Data {
			if err := put(v); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown interleave %q", il)
	}
	return nil
}

func sampleWriter(t models.SampleType, order binary.ByteOrder) func([]byte, float64) {
	switch t {
	case models.SampleUint8:
		return func(p []byte, v float64) { p[0] = uint8(saturate(v, 255)) }
	case models.SampleUint16:
		return func(p []byte, v float64) { order.PutUint16(p, uint16(saturate(v, 65535))) }
	case models.SampleFloat32:
		return func(p []byte, v float64) { order.PutUint32(p, math.Float32bits(float32(v))) }
	case models.SampleFloat64:
		return func(p []byte, v float64) { order.PutUint64(p, math.Float64bits(v)) }
	default:
		panic(fmt.Sprintf("envi: no writer for sample type %v", t))
	}
}

func saturate(v, limit float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return math.Round(v)
}

func writeFile(path string, fill func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := fill(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
