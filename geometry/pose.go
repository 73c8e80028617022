package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Pose is the rigid transform from marker coordinates into the camera frame.
type Pose struct {
	R [3][3]float64
	T r3.Vector
}

// Transform moves a marker-frame point into the camera frame.
func (p Pose) Transform(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: p.R[0][0]*v.X + p.R[0][1]*v.Y + p.R[0][2]*v.Z + p.T.X,
		Y: p.R[1][0]*v.X + p.R[1][1]*v.Y + p.R[1][2]*v.Z + p.T.Y,
		Z: p.R[2][0]*v.X + p.R[2][1]*v.Y + p.R[2][2]*v.Z + p.T.Z,
	}
}

// Camera is a calibrated pinhole camera.
type Camera struct {
	K Intrinsics
	D Distortion
}

// EstimatePlanarPose recovers the pose of a planar target from the pixel
// positions of known points on it (z = 0 in the target frame).
func (c Camera) EstimatePlanarPose(object, image []r2.Point) (Pose, error) {
	if len(object) != len(image) || len(object) < 4 {
		return Pose{}, errors.New("planar pose needs at least 4 matching points")
	}
	normalized := make([]r2.Point, len(image))
	for i, px := range image {
		normalized[i] = c.D.Undistort(c.K.Normalize(px))
	}
	h, err := EstimateHomography(object, normalized)
	if err != nil {
		return Pose{}, errors.Wrap(err, "marker homography")
	}

	h1 := r3.Vector{X: h[0][0], Y: h[1][0], Z: h[2][0]}
	h2 := r3.Vector{X: h[0][1], Y: h[1][1], Z: h[2][1]}
	h3 := r3.Vector{X: h[0][2], Y: h[1][2], Z: h[2][2]}
	norm := (h1.Norm() + h2.Norm()) / 2
	if norm < 1e-12 {
		return Pose{}, errors.New("degenerate marker homography")
	}
	lambda := 1 / norm
	// the target must sit in front of the camera
	if h3.Z < 0 {
		lambda = -lambda
	}
	r1 := h1.Mul(lambda)
	r2v := h2.Mul(lambda)
	t := h3.Mul(lambda)
	r3v := r1.Cross(r2v)

	rot, err := nearestRotation([3]r3.Vector{r1, r2v, r3v})
	if err != nil {
		return Pose{}, err
	}
	return Pose{R: rot, T: t}, nil
}

// Project maps marker-frame points on the z = 0 plane to pixels.
func (c Camera) Project(pose Pose, pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		v := pose.Transform(r3.Vector{X: pt.X, Y: pt.Y})
		if math.Abs(v.Z) < 1e-12 {
			out[i] = r2.Point{X: math.Inf(1), Y: math.Inf(1)}
			continue
		}
		n := c.D.Distort(r2.Point{X: v.X / v.Z, Y: v.Y / v.Z})
		out[i] = c.K.Pixel(n)
	}
	return out
}

// nearestRotation orthonormalizes the columns into a proper rotation.
func nearestRotation(cols [3]r3.Vector) ([3][3]float64, error) {
	m := mat.NewDense(3, 3, nil)
	for c, v := range cols {
		m.Set(0, c, v.X)
		m.Set(1, c, v.Y)
		m.Set(2, c, v.Z)
	}
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return [3][3]float64{}, errors.New("rotation SVD failed to factorize")
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// flip the weakest axis to get a right-handed frame
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}

	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r.At(i, j)
		}
	}
	return out, nil
}

// Lerp blends the current points toward next with cur*f + next*(1-f). When
// the sets differ in length next is returned as a copy.
func Lerp(cur, next []r2.Point, f float64) []r2.Point {
	out := make([]r2.Point, len(next))
	if len(cur) != len(next) {
		copy(out, next)
		return out
	}
	for i := range next {
		out[i] = cur[i].Mul(f).Add(next[i].Mul(1 - f))
	}
	return out
}
