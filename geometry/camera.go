package geometry

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Intrinsics is a pinhole camera matrix.
type Intrinsics struct {
	Fx, Fy float64
	Cx, Cy float64
}

// IdentityIntrinsics is used when a device has never been calibrated.
func IdentityIntrinsics() Intrinsics {
	return Intrinsics{Fx: 1, Fy: 1}
}

// IntrinsicsFromMatrix reads a row-major 3x3 camera matrix.
func IntrinsicsFromMatrix(m []float64) (Intrinsics, error) {
	if len(m) != 9 {
		return Intrinsics{}, errors.Errorf("camera matrix needs 9 values, got %d", len(m))
	}
	if m[0] == 0 || m[4] == 0 {
		return Intrinsics{}, errors.New("camera matrix has a zero focal length")
	}
	return Intrinsics{Fx: m[0], Fy: m[4], Cx: m[2], Cy: m[5]}, nil
}

// Matrix returns the row-major 3x3 camera matrix.
func (k Intrinsics) Matrix() []float64 {
	return []float64{
		k.Fx, 0, k.Cx,
		0, k.Fy, k.Cy,
		0, 0, 1,
	}
}

// Normalize converts a pixel to normalized image coordinates.
func (k Intrinsics) Normalize(px r2.Point) r2.Point {
	return r2.Point{X: (px.X - k.Cx) / k.Fx, Y: (px.Y - k.Cy) / k.Fy}
}

// Pixel converts normalized image coordinates to a pixel.
func (k Intrinsics) Pixel(n r2.Point) r2.Point {
	return r2.Point{X: n.X*k.Fx + k.Cx, Y: n.Y*k.Fy + k.Cy}
}

// Distortion holds Brown-Conrady coefficients in the k1, k2, p1, p2, k3
// order used by calibration output.
type Distortion struct {
	K1, K2, P1, P2, K3 float64
}

// DistortionFromCoeffs reads up to five coefficients; missing ones are zero.
func DistortionFromCoeffs(c []float64) Distortion {
	if len(c) > 5 {
		c = c[:5]
	}
	var padded [5]float64
	copy(padded[:], c)
	return Distortion{K1: padded[0], K2: padded[1], P1: padded[2], P2: padded[3], K3: padded[4]}
}

// Coeffs returns the five coefficients.
func (d Distortion) Coeffs() []float64 {
	return []float64{d.K1, d.K2, d.P1, d.P2, d.K3}
}

// Distort applies the forward model to a normalized point.
func (d Distortion) Distort(n r2.Point) r2.Point {
	x, y := n.X, n.Y
	rr := x*x + y*y
	radial := 1 + d.K1*rr + d.K2*rr*rr + d.K3*rr*rr*rr
	return r2.Point{
		X: x*radial + 2*d.P1*x*y + d.P2*(rr+2*x*x),
		Y: y*radial + d.P1*(rr+2*y*y) + 2*d.P2*x*y,
	}
}

// Undistort inverts Distort by fixed-point iteration.
func (d Distortion) Undistort(n r2.Point) r2.Point {
	const iterations = 20
	x, y := n.X, n.Y
	for i := 0; i < iterations; i++ {
		rr := x*x + y*y
		radial := 1 + d.K1*rr + d.K2*rr*rr + d.K3*rr*rr*rr
		if radial == 0 {
			break
		}
		dx := 2*d.P1*x*y + d.P2*(rr+2*x*x)
		dy := d.P1*(rr+2*y*y) + 2*d.P2*x*y
		x = (n.X - dx) / radial
		y = (n.Y - dy) / radial
	}
	return r2.Point{X: x, Y: y}
}
