package cpu

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/23skdu/longbow-gpt2/internal/tensor"
)

func TestQuantizeRoundTrip(t *testing.T) {
	a := tensor.Must(tensor.FromData([]float32{-1, -0.5, 0, 0.25, 1}, 5))
	q, err := Quantize(a)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(q.Scale)-1.0/127) > 1e-9 {
		t.Errorf("Scale = %v, want 1/127", q.Scale)
	}
	if q.Data()[0] != -127 || q.Data()[4] != 127 {
		t.Errorf("extremes not mapped to +-127: %v", q.Data())
	}
	back, err := Dequantize(q)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range a.Data() {
		if math.Abs(float64(back.Data()[i]-v)) > float64(q.Scale) {
			t.Errorf("[%d] = %v, want %v", i, back.Data()[i], v)
		}
	}
}

func TestQuantizeZeros(t *testing.T) {
	q, err := Quantize(tensor.Must(tensor.New[float32](4)))
	if err != nil {
		t.Fatal(err)
	}
	if q.Scale != 0 {
		t.Errorf("Scale = %v, want 0", q.Scale)
	}
}

func TestMultiplyQ8Approximates(t *testing.T) {
	r := rand.New(rand.NewSource(8))
	a := randTensor(r, 4, 32)
	w := randTensor(r, 32, 6)

	exact, err := Multiply(a, w)
	if err != nil {
		t.Fatal(err)
	}
	qw, err := Quantize(w)
	if err != nil {
		t.Fatal(err)
	}
	approx, err := MultiplyQ8(a, qw)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range exact.Data() {
		if math.Abs(float64(approx.Data()[i]-v)) > 0.1 {
			t.Errorf("[%d] q8 = %v, f32 = %v", i, approx.Data()[i], v)
		}
	}
}

func TestLinearQ8(t *testing.T) {
	x := tensor.Must(tensor.FromData([]float32{1, 0, 0, 1}, 2, 2))
	w := tensor.Must(tensor.FromData([]float32{1, -1, 0.5, 0.25}, 2, 2))
	b := tensor.Must(tensor.FromData([]float32{10, 20}, 2))
	qw, err := Quantize(w)
	if err != nil {
		t.Fatal(err)
	}
	out, err := LinearQ8(x, qw, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{11, 19, 10.5, 20.25}
	for i, v := range want {
		if math.Abs(float64(out.Data()[i]-v)) > 0.02 {
			t.Errorf("[%d] = %v, want %v", i, out.Data()[i], v)
		}
	}
	if _, err := LinearQ8(x, qw, tensor.Must(tensor.New[float32](3))); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
	if _, err := LinearQ8(x, nil, b); !errors.Is(err, tensor.ErrInvalidParameter) {
		t.Errorf("err = %v, want ErrInvalidParameter", err)
	}
}

func TestMultiplyQ8ShapeMismatch(t *testing.T) {
	qw, _ := Quantize(tensor.Must(tensor.New[float32](3, 2)))
	if _, err := MultiplyQ8(tensor.Must(tensor.New[float32](2, 4)), qw); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
}
