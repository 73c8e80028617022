package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 planar projective transform. Indices are [row][column].
type Homography [3][3]float64

// IdentityHomography returns the identity transform.
func IdentityHomography() Homography {
	return Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// At returns the element at row, col.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps pt through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h[0][0]*pt.X + h[0][1]*pt.Y + h[0][2]
	y := h[1][0]*pt.X + h[1][1]*pt.Y + h[1][2]
	z := h[2][0]*pt.X + h[2][1]*pt.Y + h[2][2]
	if z == 0 {
		return r2.Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return r2.Point{X: x / z, Y: y / z}
}

// Flat returns the matrix in row-major order.
func (h *Homography) Flat() []float64 {
	out := make([]float64, 0, 9)
	for _, row := range h {
		out = append(out, row[:]...)
	}
	return out
}

// EstimateHomography computes the homography mapping src onto dst with the
// normalized direct linear transform. At least four correspondences are
// required; with exactly four the mapping is exact.
func EstimateHomography(src, dst []r2.Point) (Homography, error) {
	if len(src) != len(dst) {
		return Homography{}, errors.New("source and destination point sets differ in length")
	}
	if len(src) < 4 {
		return Homography{}, errors.Errorf("need at least 4 correspondences, got %d", len(src))
	}

	nsrc, t1, err := normalizePoints(src)
	if err != nil {
		return Homography{}, err
	}
	ndst, t2, err := normalizePoints(dst)
	if err != nil {
		return Homography{}, err
	}

	// pad to a square system so the full V always has a null column
	rows := 2 * len(src)
	if rows < 9 {
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range nsrc {
		x, y := nsrc[i].X, nsrc[i].Y
		u, v := ndst[i].X, ndst[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Homography{}, errors.New("homography SVD failed to factorize")
	}
	var vm mat.Dense
	svd.VTo(&vm)
	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, vm.At(i, 8))
	}

	// denormalize: T2^-1 * Hn * T1
	var t2inv mat.Dense
	if err := t2inv.Inverse(t2); err != nil {
		return Homography{}, errors.Wrap(err, "degenerate destination points")
	}
	var left, full mat.Dense
	left.Mul(&t2inv, hn)
	full.Mul(&left, t1)

	scale := full.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		return Homography{}, errors.New("degenerate homography")
	}
	var h Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r][c] = full.At(r, c) / scale
		}
	}
	return h, nil
}

// normalizePoints moves the centroid to the origin and scales the mean
// distance to sqrt(2), following Hartley's normalization.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1 / float64(len(pts)))

	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm()
	}
	d /= float64(len(pts))
	if d < 1e-12 {
		return nil, nil, errors.New("points are coincident")
	}

	s := math.Sqrt2 / d
	t := mat.NewDense(3, 3, []float64{
		s, 0, -s * mu.X,
		0, s, -s * mu.Y,
		0, 0, 1,
	})
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(s)
	}
	return out, t, nil
}
