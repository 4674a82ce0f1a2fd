package cpu

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-gpt2/internal/tensor"
)

func randTensor(r *rand.Rand, shape ...int) *tensor.Tensor[float32] {
	t := tensor.Must(tensor.New[float32](shape...))
	for i := range t.Data() {
		t.Data()[i] = r.Float32()*2 - 1
	}
	return t
}

func toDense(t *tensor.Tensor[float32]) *mat.Dense {
	data := make([]float64, t.Len())
	for i, v := range t.Data() {
		data[i] = float64(v)
	}
	return mat.NewDense(t.Dim(0), t.Dim(1), data)
}

func identity(n int) *tensor.Tensor[float32] {
	t := tensor.Must(tensor.New[float32](n, n))
	for i := 0; i < n; i++ {
		t.Data()[i*n+i] = 1
	}
	return t
}

func TestMultiplySmall(t *testing.T) {
	a := tensor.Must(tensor.FromData([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
	b := tensor.Must(tensor.FromData([]float32{7, 8, 9, 10, 11, 12}, 3, 2))
	c, err := Multiply(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{58, 64, 139, 154}
	for i, v := range want {
		if c.Data()[i] != v {
			t.Fatalf("got %v, want %v", c.Data(), want)
		}
	}
}

func TestMultiplyMatchesGonum(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	a := randTensor(r, 7, 13)
	b := randTensor(r, 13, 5)

	got, err := Multiply(a, b)
	if err != nil {
		t.Fatal(err)
	}
	var want mat.Dense
	want.Mul(toDense(a), toDense(b))

	for i := 0; i < 7; i++ {
		for j := 0; j < 5; j++ {
			g := float64(got.Data()[i*5+j])
			if math.Abs(g-want.At(i, j)) > 1e-5 {
				t.Fatalf("(%d,%d) = %v, want %v", i, j, g, want.At(i, j))
			}
		}
	}
}

func TestMultiplyIdentity(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for _, shape := range [][2]int{{1, 1}, {3, 4}, {8, 8}, {5, 2}} {
		a := randTensor(r, shape[0], shape[1])
		got, err := Multiply(a, identity(shape[1]))
		if err != nil {
			t.Fatal(err)
		}
		if !tensor.Equal(got, a) {
			t.Errorf("A x I != A for shape %v", shape)
		}
	}
}

func TestMultiplyShapeMismatch(t *testing.T) {
	a := tensor.Must(tensor.New[float32](2, 3))
	b := tensor.Must(tensor.New[float32](4, 2))
	_, err := Multiply(a, b)
	if !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
	var nilT *tensor.Tensor[float32]
	if _, err := Multiply(a, nilT); !errors.Is(err, tensor.ErrInvalidParameter) {
		t.Fatalf("err = %v, want ErrInvalidParameter", err)
	}
}

func TestMultiplyParallelIsBitIdentical(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	a := randTensor(r, 17, 9)
	b := randTensor(r, 9, 11)

	seq, err := Multiply(a, b)
	if err != nil {
		t.Fatal(err)
	}
	SetParallelism(4)
	defer SetParallelism(1)
	par, err := Multiply(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if !tensor.Equal(seq, par) {
		t.Error("parallel product differs from sequential")
	}
}

func TestSetParallelismClamps(t *testing.T) {
	SetParallelism(0)
	defer SetParallelism(1)
	if Parallelism() != 1 {
		t.Errorf("Parallelism = %d, want 1", Parallelism())
	}
}

func TestTransposeTwiceIsIdentity(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	a := randTensor(r, 3, 5)
	at, err := Transpose(a)
	if err != nil {
		t.Fatal(err)
	}
	if got := at.Shape(); got[0] != 5 || got[1] != 3 {
		t.Fatalf("shape = %v, want [5 3]", got)
	}
	if v, _ := at.At(4, 1); v != a.Data()[1*5+4] {
		t.Errorf("At(4,1) = %v, want %v", v, a.Data()[9])
	}
	att, err := Transpose(at)
	if err != nil {
		t.Fatal(err)
	}
	if !tensor.Equal(att, a) {
		t.Error("transpose(transpose(A)) != A")
	}
	at.Data()[0] = 99
	if a.Data()[0] == 99 {
		t.Error("transpose must copy")
	}
}

func TestAdd(t *testing.T) {
	a := tensor.Must(tensor.FromData([]float32{1, 2, 3}, 3))
	b := tensor.Must(tensor.FromData([]float32{10, 20, 30}, 3))
	c, err := Add(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := tensor.Must(tensor.FromData([]float32{11, 22, 33}, 3))
	if !tensor.Equal(c, want) {
		t.Errorf("got %v, want %v", c, want)
	}
	if _, err := Add(a, tensor.Must(tensor.New[float32](4))); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestDivScalar(t *testing.T) {
	a := tensor.Must(tensor.FromData([]float32{2, 4, 8}, 3))
	if err := DivScalar(a, 2); err != nil {
		t.Fatal(err)
	}
	if a.Data()[2] != 4 {
		t.Errorf("got %v", a.Data())
	}
	if err := DivScalar(a, 0); !errors.Is(err, tensor.ErrInvalidParameter) {
		t.Errorf("err = %v, want ErrInvalidParameter", err)
	}
}

func TestLinearAddsBiasPerRow(t *testing.T) {
	x := tensor.Must(tensor.FromData([]float32{1, 0, 0, 1}, 2, 2))
	w := tensor.Must(tensor.FromData([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
	b := tensor.Must(tensor.FromData([]float32{10, 20, 30}, 3))
	out, err := Linear(x, w, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{11, 22, 33, 14, 25, 36}
	for i, v := range want {
		if out.Data()[i] != v {
			t.Fatalf("got %v, want %v", out.Data(), want)
		}
	}
	if _, err := Linear(x, w, tensor.Must(tensor.New[float32](2))); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestArgmax(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want int
	}{
		{"single", []float32{3}, 0},
		{"max last", []float32{1, 2, 3}, 2},
		{"tie picks first", []float32{5, 1, 5}, 0},
		{"negative", []float32{-3, -1, -2}, 1},
		{"nan skipped", []float32{float32(math.NaN()), 1, 2}, 2},
		{"all negative infinity", []float32{float32(math.Inf(-1)), float32(math.Inf(-1))}, 0},
		{"nan before negative infinity", []float32{float32(math.NaN()), float32(math.Inf(-1))}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Argmax(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Argmax = %d, want %d", got, tt.want)
			}
		})
	}
	nan := float32(math.NaN())
	for _, in := range [][]float32{{}, {nan}, {nan, nan, nan}} {
		if _, err := Argmax(in); !errors.Is(err, tensor.ErrInvalidParameter) {
			t.Errorf("Argmax(%v) err = %v, want ErrInvalidParameter", in, err)
		}
	}
}
