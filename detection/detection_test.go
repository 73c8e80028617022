package detection

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"

	"paperscope/tracking"
)

func TestThresholdClamping(t *testing.T) {
	th := NewThresholds(50, 100, 150)
	assert.Equal(t, 99, th.SetDark(200))
	assert.Equal(t, 99, th.Values().Dark)

	assert.Equal(t, 100, th.SetLight(20))
	assert.Equal(t, 100, th.Values().Light)

	assert.Equal(t, 180, th.SetLight(180))
	assert.Equal(t, 60, th.SetDark(60))
	th.SetRed(90)
	assert.Equal(t, ThresholdValues{Dark: 60, Light: 180, Red: 90}, th.Values())
}

func TestClassifyPixels(t *testing.T) {
	levels := ThresholdValues{Dark: DefaultThresholdDark, Light: DefaultThresholdLight, Red: DefaultThresholdRed}
	tests := []struct {
		name   string
		bgr    [3]byte
		hsv    [3]byte
		value  byte
		street byte
	}{
		{"red ink", [3]byte{0, 0, 200}, [3]byte{0, 200, 100}, 0, 255},
		{"gray", [3]byte{160, 165, 170}, [3]byte{100, 15, 170}, 0, 0},
		{"dark and dull", [3]byte{100, 100, 100}, [3]byte{0, 10, 230}, 0, 0},
		{"light", [3]byte{20, 20, 20}, [3]byte{0, 0, 20}, 255, 0},
		{"saturated", [3]byte{200, 100, 20}, [3]byte{100, 200, 160}, 255, 0},
		{"unmatched keeps inverted value", [3]byte{128, 128, 128}, [3]byte{0, 40, 128}, 127, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, streets := ClassifyPixels(tt.bgr[:], tt.hsv[:], levels)
			require.Len(t, value, 1)
			assert.Equal(t, tt.value, value[0])
			assert.Equal(t, tt.street, streets[0])
		})
	}
}

func TestSkeletonizeBar(t *testing.T) {
	const w, h = 40, 21
	bar := gocv.Zeros(h, w, gocv.MatTypeCV8U)
	defer bar.Close()
	gocv.Rectangle(&bar, image.Rect(4, 6, 36, 15), color.RGBA{255, 255, 255, 0}, -1)
	barPixels := gocv.CountNonZero(bar)
	require.Positive(t, barPixels)

	skeleton := skeletonize(bar)
	defer skeleton.Close()
	require.Equal(t, h, skeleton.Rows())
	require.Equal(t, w, skeleton.Cols())

	n := gocv.CountNonZero(skeleton)
	assert.Positive(t, n)
	assert.Less(t, n, barPixels/3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if skeleton.GetUCharAt(y, x) != 0 {
				assert.True(t, y >= 6 && y < 15 && x >= 4 && x < 36, "pixel (%d,%d) outside the bar", x, y)
			}
		}
	}
}

func TestSkeletonizeEmpty(t *testing.T) {
	empty := gocv.Zeros(9, 9, gocv.MatTypeCV8U)
	defer empty.Close()
	skeleton := skeletonize(empty)
	defer skeleton.Close()
	assert.Zero(t, gocv.CountNonZero(skeleton))
}

func TestAcceptContour(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		area   float64
		w, h   float64
		accept bool
	}{
		{"typical", 4, 2500, 50, 50, true},
		{"too few points", 2, 2500, 50, 50, false},
		{"area 50", 4, 50, 10, 5, false},
		{"too large", 4, 100000, 400, 250, false},
		{"aspect 15", 4, 1500, 150, 10, false},
		{"aspect 1/15", 4, 1500, 10, 150, false},
		{"aspect 10", 4, 1000, 100, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.accept, acceptContour(tt.n, tt.area, tt.w, tt.h))
		})
	}
}

func TestConvexHull(t *testing.T) {
	pts := []image.Point{{0, 0}, {10, 0}, {5, 5}, {10, 10}, {0, 10}, {0, 0}, {5, 0}}
	hull := convexHull(pts)
	assert.ElementsMatch(t, []image.Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}}, hull)
}

func TestMinEnclosingTriangle(t *testing.T) {
	t.Run("triangle input", func(t *testing.T) {
		tri := minEnclosingTriangle([]image.Point{{0, 0}, {20, 0}, {10, 20}, {10, 5}})
		assert.ElementsMatch(t, []image.Point{{0, 0}, {20, 0}, {10, 20}}, tri)
	})

	t.Run("hexagon", func(t *testing.T) {
		var hex []image.Point
		for k := 0; k < 6; k++ {
			a := float64(k) * math.Pi / 3
			hex = append(hex, image.Pt(10+int(math.Round(10*math.Cos(a))), 10+int(math.Round(10*math.Sin(a)))))
		}
		tri := minEnclosingTriangle(hex)
		require.Len(t, tri, 3)
		var corners [3]vec
		for i, p := range tri {
			corners[i] = vec{float64(p.X), float64(p.Y)}
		}
		assert.InDelta(t, 405, triangleArea(corners), 1)
		for _, p := range hex {
			assert.True(t, contains(corners, p, 1e-6), "point %v outside", p)
		}
	})

	t.Run("square falls back to box triangle", func(t *testing.T) {
		tri := minEnclosingTriangle([]image.Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}})
		assert.Equal(t, []image.Point{{-5, 11}, {16, 11}, {5, -11}}, tri)
	})
}

func TestEllipsePoly(t *testing.T) {
	pts := ellipsePoly(image.Pt(100, 50), 20, 10, 0, 20)
	require.Len(t, pts, 19)
	assert.Equal(t, pts[0], pts[18])
	assert.Equal(t, image.Pt(120, 50), pts[0])
	assert.Contains(t, pts, image.Pt(100, 60))
	assert.Contains(t, pts, image.Pt(80, 50))

	rotated := ellipsePoly(image.Pt(0, 0), 20, 10, 90, 20)
	assert.Equal(t, image.Pt(0, 20), rotated[0])
}

func TestArgmaxShape(t *testing.T) {
	assert.Equal(t, tracking.ShapeRectangle, ArgmaxShape(nil))
	assert.Equal(t, tracking.ShapeTriangle, ArgmaxShape([]float32{0.1, 0.2, 0.6, 0.05, 0.05}))
	assert.Equal(t, tracking.ShapeCircle, ArgmaxShape([]float32{0.1, 0.4, 0.4}))
	// scores past the classified shapes are ignored
	assert.Equal(t, tracking.ShapeOrganic, ArgmaxShape([]float32{0, 0, 0, 0, 0.5, 0.9}))
}

func TestMarkerCorner(t *testing.T) {
	assert.Equal(t, image.Rect(0, 0, 240, 240), markerCorner(image.Pt(960, 672)))
	assert.Equal(t, image.Rect(0, 0, 100, 80), markerCorner(image.Pt(100, 80)))
}

type fakeProvider struct {
	info    ProviderInfo
	initErr error
	inferOK bool
	closed  bool
}

func (f *fakeProvider) Initialize(string) error { return f.initErr }

func (f *fakeProvider) Infer(gocv.Mat) ([]float32, error) {
	if !f.inferOK {
		return nil, errors.New("no device")
	}
	return []float32{1, 0, 0, 0, 0}, nil
}

func (f *fakeProvider) Close() error {
	f.closed = true
	return nil
}

func (f *fakeProvider) GetProviderInfo() ProviderInfo { return f.info }

func TestProviderManagerFallback(t *testing.T) {
	gpu := &fakeProvider{info: ProviderInfo{Type: "GPU"}}
	cpu := &fakeProvider{info: ProviderInfo{Type: "CPU"}, inferOK: true}

	pm := NewProviderManager(zaptest.NewLogger(t).Sugar())
	pm.hasGPU = func() bool { return true }
	pm.newGPU = func() InferenceProvider { return gpu }
	pm.newCPU = func() InferenceProvider { return cpu }

	require.NoError(t, pm.Initialize("shapes.onnx"))
	assert.True(t, gpu.closed)
	assert.Same(t, cpu, pm.GetProvider())
	assert.Equal(t, "CPU", pm.GetProviderInfo().Type)
}

func TestProviderManagerPrefersWorkingGPU(t *testing.T) {
	gpu := &fakeProvider{info: ProviderInfo{Type: "GPU"}, inferOK: true}

	pm := NewProviderManager(zaptest.NewLogger(t).Sugar())
	pm.hasGPU = func() bool { return true }
	pm.newGPU = func() InferenceProvider { return gpu }

	require.NoError(t, pm.Initialize("shapes.onnx"))
	assert.Same(t, gpu, pm.GetProvider())
}

func TestProviderManagerNoModel(t *testing.T) {
	pm := NewProviderManager(zaptest.NewLogger(t).Sugar())
	assert.ErrorIs(t, pm.Initialize(""), ErrNoModel)

	pm.hasGPU = func() bool { return false }
	pm.newCPU = func() InferenceProvider { return &fakeProvider{initErr: errors.New("bad file")} }
	assert.ErrorIs(t, pm.Initialize("missing.onnx"), ErrNoModel)
}

func TestClassifierWithoutProvider(t *testing.T) {
	roi := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC1)
	defer roi.Close()

	shape, err := NewClassifier(nil).Classify(roi)
	require.NoError(t, err)
	assert.Equal(t, tracking.ShapeRectangle, shape)
}

func TestPadROI(t *testing.T) {
	roi := gocv.NewMatWithSize(30, 20, gocv.MatTypeCV8UC1)
	defer roi.Close()
	roi.SetTo(gocv.NewScalar(255, 0, 0, 0))

	crop := PadROI(roi)
	defer crop.Close()
	assert.Equal(t, ModelInput, crop.Rows())
	assert.Equal(t, ModelInput, crop.Cols())
	assert.Equal(t, uint8(0), crop.GetUCharAt(0, 0))
	assert.Equal(t, uint8(255), crop.GetUCharAt(32, 32))
}

func TestDatasetRecorderArming(t *testing.T) {
	d := NewDatasetRecorder(t.TempDir(), zaptest.NewLogger(t).Sugar())
	assert.False(t, d.take())
	d.Arm()
	assert.True(t, d.take())
	assert.False(t, d.take())

	off := NewDatasetRecorder("", nil)
	off.Arm()
	assert.False(t, off.take())

	var none *DatasetRecorder
	none.Arm()
	assert.False(t, none.take())
}

func TestDetectorSkipsWhenIdle(t *testing.T) {
	d := NewDetector(nil, nil, nil, zaptest.NewLogger(t).Sugar())
	buf := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer buf.Close()
	render := gocv.NewMat()
	defer render.Close()

	candidates, err := d.Update(&buf, &render, tracking.ModeIdle)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	empty := gocv.NewMat()
	defer empty.Close()
	candidates, err = d.Update(&empty, &render, tracking.ModeTracking)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
