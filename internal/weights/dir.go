package weights

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"github.com/x448/float16"
)

type DType string

const (
	DTypeF32 DType = "f32"
	DTypeF16 DType = "f16"
)

func (d DType) width() (int, error) {
	switch d {
	case DTypeF32, "":
		return 4, nil
	case DTypeF16:
		return 2, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", d)
	}
}

// DirSource reads one little-endian file per parameter from Dir. A
// parameter may be stored whole as <name>, or split into <name>.0,
// <name>.1, ... which are concatenated in order. Any file may carry a .zst
// suffix and is then zstd-decompressed.
type DirSource struct {
	Dir   string
	DType DType
}

func NewDirSource(dir string, dtype DType) (*DirSource, error) {
	if _, err := dtype.width(); err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &DirSource{Dir: dir, DType: dtype}, nil
}

func (s *DirSource) Load(ctx context.Context, name string, shape []int) ([]float32, error) {
	parts, err := s.parts(name)
	if err != nil {
		return nil, err
	}
	var raw []byte
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := readPart(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		raw = append(raw, b...)
	}
	data, err := decode(raw, s.DType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := checkLen(name, shape, len(data)); err != nil {
		return nil, err
	}
	return data, nil
}

// parts resolves the files backing name.
func (s *DirSource) parts(name string) ([]string, error) {
	base := filepath.Join(s.Dir, name)
	if p, ok := existing(base); ok {
		return []string{p}, nil
	}
	var parts []string
	for i := 0; ; i++ {
		p, ok := existing(base + "." + strconv.Itoa(i))
		if !ok {
			break
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%s in %s: %w", name, s.Dir, ErrNotFound)
	}
	return parts, nil
}

func existing(path string) (string, bool) {
	for _, p := range []string{path, path + ".zst"} {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

var (
	zstdDecoder, _ = zstd.NewReader(nil)
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
)

func readPart(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) == ".zst" {
		return zstdDecoder.DecodeAll(b, nil)
	}
	return b, nil
}

func decode(raw []byte, dtype DType) ([]float32, error) {
	w, err := dtype.width()
	if err != nil {
		return nil, err
	}
	if len(raw)%w != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of %s values", len(raw), dtype)
	}
	out := make([]float32, len(raw)/w)
	if w == 4 {
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	}
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
	}
	return out, nil
}

func encode(data []float32, dtype DType) ([]byte, error) {
	w, err := dtype.width()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data)*w)
	if w == 4 {
		for i, v := range data {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out, nil
	}
	for i, v := range data {
		binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
	}
	return out, nil
}

type WriteOptions struct {
	DType    DType
	Compress bool
	// MaxPartBytes splits larger parameters into numbered parts. Zero
	// disables splitting.
	MaxPartBytes int
}

// WriteDir copies every parameter from src into dir in the layout DirSource
// reads.
func WriteDir(ctx context.Context, src Source, params []Param, dir string, opts WriteOptions) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, p := range params {
		data, err := src.Load(ctx, p.Name, p.Shape)
		if err != nil {
			return fmt.Errorf("load %s: %w", p.Name, err)
		}
		raw, err := encode(data, opts.DType)
		if err != nil {
			return err
		}
		if err := writeParam(filepath.Join(dir, p.Name), raw, opts); err != nil {
			return fmt.Errorf("write %s: %w", p.Name, err)
		}
	}
	return nil
}

func writeParam(base string, raw []byte, opts WriteOptions) error {
	suffix := ""
	if opts.Compress {
		suffix = ".zst"
	}
	put := func(path string, b []byte) error {
		if opts.Compress {
			b = zstdEncoder.EncodeAll(b, nil)
		}
		return os.WriteFile(path+suffix, b, 0o644)
	}
	if opts.MaxPartBytes <= 0 || len(raw) <= opts.MaxPartBytes {
		return put(base, raw)
	}
	w, _ := opts.DType.width()
	chunk := opts.MaxPartBytes - opts.MaxPartBytes%w
	if chunk == 0 {
		return errors.New("MaxPartBytes smaller than one value")
	}
	for i := 0; len(raw) > 0; i++ {
		n := min(chunk, len(raw))
		if err := put(base+"."+strconv.Itoa(i), raw[:n]); err != nil {
			return err
		}
		raw = raw[n:]
	}
	return nil
}
