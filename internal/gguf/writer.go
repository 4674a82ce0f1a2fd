package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/x448/float16"
)

// Writer assembles a GGUF v3 image. Keys are written in sorted order and
// tensors in insertion order.
type Writer struct {
	kv      map[string]interface{}
	tensors []pendingTensor
}

type pendingTensor struct {
	name string
	dims []uint64
	typ  GGMLType
	data []byte
}

func NewWriter() *Writer {
	return &Writer{kv: make(map[string]interface{})}
}

// SetKV records a metadata value. Supported types are uint32, uint64,
// int32, float32, bool, string and []string.
func (w *Writer) SetKV(key string, val interface{}) error {
	switch val.(type) {
	case uint32, uint64, int32, float32, bool, string, []string:
		w.kv[key] = val
		return nil
	default:
		return fmt.Errorf("gguf: unsupported metadata value %T for %s", val, key)
	}
}

// AddTensor stores data with the given row-major shape, encoded as typ
// (F32 or F16).
func (w *Writer) AddTensor(name string, shape []int, typ GGMLType, data []float32) error {
	n := 1
	dims := make([]uint64, len(shape))
	for i, d := range shape {
		n *= d
		dims[len(shape)-1-i] = uint64(d)
	}
	if n != len(data) {
		return fmt.Errorf("gguf: tensor %s: shape %v holds %d elements, got %d", name, shape, n, len(data))
	}
	var buf []byte
	switch typ {
	case GGMLTypeF32:
		buf = make([]byte, 4*n)
		for i, v := range data {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
	case GGMLTypeF16:
		buf = make([]byte, 2*n)
		for i, v := range data {
			binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
		}
	default:
		return ErrUnsupportedType{Name: name, Type: typ}
	}
	w.tensors = append(w.tensors, pendingTensor{name: name, dims: dims, typ: typ, data: buf})
	return nil
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) put(v interface{}) error {
	return binary.Write(c, binary.LittleEndian, v)
}

func (c *countingWriter) putString(s string) error {
	if err := c.put(uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(c, s)
	return err
}

func (c *countingWriter) pad() error {
	if rem := c.n % DefaultAlignment; rem != 0 {
		_, err := c.Write(make([]byte, DefaultAlignment-rem))
		return err
	}
	return nil
}

func alignUp(n uint64) uint64 {
	return (n + DefaultAlignment - 1) / DefaultAlignment * DefaultAlignment
}

func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	cw := &countingWriter{w: bufio.NewWriter(out)}

	header := []interface{}{uint32(GGUFMagic), uint32(GGUFVersion), uint64(len(w.tensors)), uint64(len(w.kv))}
	for _, v := range header {
		if err := cw.put(v); err != nil {
			return cw.n, err
		}
	}

	keys := make([]string, 0, len(w.kv))
	for k := range w.kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := cw.putString(k); err != nil {
			return cw.n, err
		}
		if err := cw.putValue(w.kv[k]); err != nil {
			return cw.n, err
		}
	}

	var offset uint64
	for _, t := range w.tensors {
		if err := cw.putString(t.name); err != nil {
			return cw.n, err
		}
		if err := cw.put(uint32(len(t.dims))); err != nil {
			return cw.n, err
		}
		for _, d := range t.dims {
			if err := cw.put(d); err != nil {
				return cw.n, err
			}
		}
		if err := cw.put(uint32(t.typ)); err != nil {
			return cw.n, err
		}
		if err := cw.put(offset); err != nil {
			return cw.n, err
		}
		offset = alignUp(offset + uint64(len(t.data)))
	}

	for _, t := range w.tensors {
		if err := cw.pad(); err != nil {
			return cw.n, err
		}
		if _, err := cw.Write(t.data); err != nil {
			return cw.n, err
		}
	}
	return cw.n, cw.w.Flush()
}

func (c *countingWriter) putValue(val interface{}) error {
	switch v := val.(type) {
	case uint32:
		return c.putTyped(GGUFMetadataValueTypeUint32, v)
	case uint64:
		return c.putTyped(GGUFMetadataValueTypeUint64, v)
	case int32:
		return c.putTyped(GGUFMetadataValueTypeInt32, v)
	case float32:
		return c.putTyped(GGUFMetadataValueTypeFloat32, v)
	case bool:
		b := uint8(0)
		if v {
			b = 1
		}
		return c.putTyped(GGUFMetadataValueTypeBool, b)
	case string:
		if err := c.put(uint32(GGUFMetadataValueTypeString)); err != nil {
			return err
		}
		return c.putString(v)
	case []string:
		if err := c.put(uint32(GGUFMetadataValueTypeArray)); err != nil {
			return err
		}
		if err := c.put(uint32(GGUFMetadataValueTypeString)); err != nil {
			return err
		}
		if err := c.put(uint64(len(v))); err != nil {
			return err
		}
		for _, s := range v {
			if err := c.putString(s); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("gguf: unsupported metadata value %T", val)
	}
}

func (c *countingWriter) putTyped(typ GGUFMetadataValueType, v interface{}) error {
	if err := c.put(uint32(typ)); err != nil {
		return err
	}
	return c.put(v)
}
