package tensor

import (
	"errors"
	"testing"
)

func TestNewZeroFilled(t *testing.T) {
	x, err := New[float32](2, 3, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if x.Len() != 24 {
		t.Fatalf("Len = %d, want 24", x.Len())
	}
	for i, v := range x.Data() {
		if v != 0 {
			t.Fatalf("data[%d] = %v, want 0", i, v)
		}
	}
	if x.Width() != 4 || x.Rows() != 6 {
		t.Errorf("Width/Rows = %d/%d, want 4/6", x.Width(), x.Rows())
	}
}

func TestNewRejectsNonConcreteShape(t *testing.T) {
	tests := []struct {
		name  string
		shape []int
	}{
		{"empty", nil},
		{"zero", []int{2, 0}},
		{"placeholder", []int{-1, 768}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New[float32](tt.shape...)
			if !errors.Is(err, ErrInvalidShape) {
				t.Errorf("err = %v, want ErrInvalidShape", err)
			}
		})
	}
}

func TestFromDataLengthMismatch(t *testing.T) {
	_, err := FromData([]float32{1, 2, 3}, 2, 2)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
	var se *ShapeError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ShapeError, got %T", err)
	}
}

func TestStrideAndOffset(t *testing.T) {
	x := Must(New[float32](2, 3, 4))
	if s := x.Stride(0); s != 12 {
		t.Errorf("Stride(0) = %d, want 12", s)
	}
	if s := x.Stride(1); s != 4 {
		t.Errorf("Stride(1) = %d, want 4", s)
	}
	if s := x.Stride(2); s != 1 {
		t.Errorf("Stride(2) = %d, want 1", s)
	}
	off, err := x.Offset(1, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if off != 23 {
		t.Errorf("Offset(1,2,3) = %d, want 23", off)
	}
	if _, err := x.Offset(2, 0, 0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("err = %v, want ErrOutOfRange", err)
	}
}

func TestRowIsAliasedView(t *testing.T) {
	x := Must(FromData([]float32{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	}, 2, 6))

	r1, err := x.Row(1)
	if err != nil {
		t.Fatal(err)
	}
	if got := r1.Shape(); len(got) != 1 || got[0] != 6 {
		t.Fatalf("Row shape = %v, want [6]", got)
	}
	r1.Data()[0] = 100
	if x.Data()[6] != 100 {
		t.Errorf("write through view not visible in owner: %v", x.Data())
	}
	x.Data()[11] = -1
	if r1.Data()[5] != -1 {
		t.Errorf("write through owner not visible in view: %v", r1.Data())
	}
}

func TestRowOutOfRange(t *testing.T) {
	x := Must(New[float32](2, 3))
	for _, i := range []int{-1, 2, 10} {
		_, err := x.Row(i)
		if !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Row(%d) err = %v, want ErrOutOfRange", i, err)
		}
	}
}

func TestRowViewCannotGrowIntoNeighbour(t *testing.T) {
	x := Must(New[float32](3, 2))
	r, _ := x.Row(0)
	if cap(r.Data()) != 2 {
		t.Errorf("view capacity = %d, want 2", cap(r.Data()))
	}
}

func TestCopy(t *testing.T) {
	src := Must(FromData([]float32{1, 2, 3, 4}, 2, 2))
	dst := Must(New[float32](2, 2))
	if err := Copy(dst, src); err != nil {
		t.Fatal(err)
	}
	if !Equal(dst, src) {
		t.Errorf("dst = %v, want %v", dst, src)
	}

	wrong := Must(New[float32](4))
	if err := Copy(wrong, src); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestCopyIntoView(t *testing.T) {
	x := Must(New[float32](2, 3))
	row, _ := x.Row(1)
	if err := Copy(row, Must(FromData([]float32{7, 8, 9}, 3))); err != nil {
		t.Fatal(err)
	}
	want := []float32{0, 0, 0, 7, 8, 9}
	for i, v := range want {
		if x.Data()[i] != v {
			t.Fatalf("owner = %v, want %v", x.Data(), want)
		}
	}
}

func TestCheckInvalidParameter(t *testing.T) {
	var missing *Tensor[float32]
	if err := Check("op", missing); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("err = %v, want ErrInvalidParameter", err)
	}
}

func TestReshape(t *testing.T) {
	x := Must(FromData([]int8{1, 2, 3, 4, 5, 6}, 2, 3))
	y, err := x.Reshape(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := y.At(2, 1); v != 6 {
		t.Errorf("At(2,1) = %d, want 6", v)
	}
	if _, err := x.Reshape(4, 2); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestAllocatedBytesGrows(t *testing.T) {
	before := AllocatedBytes()
	Must(New[float32](16))
	if got := AllocatedBytes() - before; got != 64 {
		t.Errorf("allocated delta = %d, want 64", got)
	}
}

func TestKind(t *testing.T) {
	if k := Kind(&RangeError{Op: "row"}); k != "out_of_range" {
		t.Errorf("Kind = %q", k)
	}
	if k := Kind(&ShapeError{Op: "add"}); k != "shape_mismatch" {
		t.Errorf("Kind = %q", k)
	}
}
