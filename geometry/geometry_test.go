package geometry

import (
	"image"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlaneGeometry(t *testing.T) {
	tests := []struct {
		name          string
		ratio         float64
		scaling       float64
		width, height float64
	}{
		{"sheet ratio", DefaultRatio, 1, 0.274, 0.184},
		{"square is height bound", 1, 1, 0.184, 0.184},
		{"wide ratio", 2, 1, 0.274, 0.124},
		{"scaled", DefaultRatio, 0.5, 0.137, 0.092},
		{"invalid falls back", 0, -1, 0.274, 0.184},
		{"too narrow falls back", 0.01, 1, 0.274, 0.184},
		{"too wide falls back", 1000, 1, 0.274, 0.184},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlaneGeometry(tt.ratio, tt.scaling)
			assert.InDelta(t, tt.width, p.Width, 1e-9)
			assert.InDelta(t, tt.height, p.Height, 1e-9)
			assert.Equal(t, MarkerSize, p.MarkerSize)
			assert.Positive(t, p.CanonicalHeight())
		})
	}
}

func TestPlaneCorners(t *testing.T) {
	p := NewPlaneGeometry(DefaultRatio, 1)
	c := p.Corners()
	require.Len(t, c, 4)
	assert.InDelta(t, -0.015, c[0].X, 1e-9)
	assert.InDelta(t, 0.015, c[0].Y, 1e-9)
	assert.InDelta(t, -0.015+0.274, c[1].X, 1e-9)
	assert.InDelta(t, 0.015-0.184, c[2].Y, 1e-9)
	assert.InDelta(t, -0.015, c[3].X, 1e-9)
}

func TestMarkerStamp(t *testing.T) {
	p := NewPlaneGeometry(DefaultRatio, 1)
	h := p.CanonicalHeight()
	w := 0.274
	assert.Equal(t, int(0.184*CanonicalWidth/w), h)
	assert.Equal(t, 644, h)

	stamp := p.MarkerStamp()
	assert.Equal(t, image.Point{}, stamp.Min)
	assert.Equal(t, int(MarkerSize*CanonicalWidth/w+40), stamp.Dx())
	// 0.030 * 644 / 0.184 sits on 105 exactly
	assert.InDelta(t, 145, stamp.Dy(), 1)
}

func TestEstimateHomographyRectifiesQuad(t *testing.T) {
	p := NewPlaneGeometry(DefaultRatio, 1)
	src := []r2.Point{{X: 100, Y: 100}, {X: 500, Y: 100}, {X: 500, Y: 400}, {X: 100, Y: 400}}
	dst := p.CanonicalCorners()

	h, err := EstimateHomography(src, dst)
	require.NoError(t, err)
	for i := range src {
		got := h.Apply(src[i])
		assert.InDelta(t, dst[i].X, got.X, 1e-6)
		assert.InDelta(t, dst[i].Y, got.Y, 1e-6)
	}
	assert.InDelta(t, float64(p.CanonicalHeight()), dst[2].Y, 0)
	mid := h.Apply(r2.Point{X: 300, Y: 250})
	assert.InDelta(t, 480, mid.X, 1e-6)
}

func TestEstimateHomographyErrors(t *testing.T) {
	_, err := EstimateHomography([]r2.Point{{}, {}}, []r2.Point{{}})
	assert.Error(t, err)

	same := []r2.Point{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}
	_, err = EstimateHomography(same, same)
	assert.Error(t, err)
}

func TestDistortionRoundTrip(t *testing.T) {
	d := Distortion{K1: -0.21, K2: 0.05, P1: 0.001, P2: -0.0005}
	for _, pt := range []r2.Point{{X: 0.1, Y: -0.2}, {X: -0.3, Y: 0.25}, {}} {
		back := d.Undistort(d.Distort(pt))
		assert.InDelta(t, pt.X, back.X, 1e-6)
		assert.InDelta(t, pt.Y, back.Y, 1e-6)
	}
	assert.Equal(t, Distortion{K1: 1, K2: 2}, DistortionFromCoeffs([]float64{1, 2}))
}

func TestIntrinsicsFromMatrix(t *testing.T) {
	k, err := IntrinsicsFromMatrix([]float64{800, 0, 640, 0, 810, 360, 0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, Intrinsics{Fx: 800, Fy: 810, Cx: 640, Cy: 360}, k)
	assert.Equal(t, []float64{800, 0, 640, 0, 810, 360, 0, 0, 1}, k.Matrix())

	_, err = IntrinsicsFromMatrix([]float64{1, 2})
	assert.Error(t, err)
}

func TestPlanarPoseProjection(t *testing.T) {
	cam := Camera{
		K: Intrinsics{Fx: 800, Fy: 800, Cx: 640, Cy: 360},
		D: Distortion{K1: -0.05},
	}
	truth := Pose{R: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, T: r3.Vector{X: 0.02, Y: -0.01, Z: 0.5}}
	plane := NewPlaneGeometry(DefaultRatio, 1)

	markerPx := cam.Project(truth, plane.MarkerCorners())
	pose, err := cam.EstimatePlanarPose(plane.MarkerCorners(), markerPx)
	require.NoError(t, err)
	assert.InDelta(t, truth.T.Z, pose.T.Z, 1e-6)
	assert.InDelta(t, truth.T.X, pose.T.X, 1e-6)

	want := cam.Project(truth, plane.Corners())
	got := cam.Project(pose, plane.Corners())
	for i := range want {
		assert.InDelta(t, want[i].X, got[i].X, 1e-3)
		assert.InDelta(t, want[i].Y, got[i].Y, 1e-3)
	}
}

func TestLerp(t *testing.T) {
	cur := []r2.Point{{X: 10, Y: 10}}
	next := []r2.Point{{X: 20, Y: 0}}
	got := Lerp(cur, next, 0.8)
	assert.InDelta(t, 12, got[0].X, 1e-9)
	assert.InDelta(t, 8, got[0].Y, 1e-9)

	first := Lerp(nil, next, 0.8)
	assert.Equal(t, next, first)
}
