package pipeline

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"

	"paperscope/tracking"
)

type fakePoster struct {
	mu    sync.Mutex
	paths []string
	posts []tracking.ScenePayload
}

func (f *fakePoster) Post(_ context.Context, path string, body any, done func(map[string]any)) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	if p, ok := body.(tracking.ScenePayload); ok {
		f.posts = append(f.posts, p)
	}
	f.mu.Unlock()
	done(nil)
}

func rect(x0, y0, x1, y1 int) []image.Point {
	return []image.Point{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

// bluish BGR that converts to about (110, 165, 128) in HSV
var bluish = gocv.NewScalar(128, 73, 45, 0)

func TestSampleColor(t *testing.T) {
	buf := gocv.NewMatWithSizeFromScalar(bluish, 100, 100, gocv.MatTypeCV8UC3)
	defer buf.Close()

	o := &tracking.TrackedObject{Shape: tracking.ShapeRectangle, LastSeen: rect(10, 10, 40, 40)}
	sampleColor(buf, o)
	assert.Equal(t, tracking.ColorBlue, o.Color)
	assert.InDelta(t, 110, o.AvgColor.H, 1)
	assert.InDelta(t, 165, o.AvgColor.S, 1)
	assert.InDelta(t, 128, o.AvgColor.V, 1)
}

func TestSampleColorKeepsColor(t *testing.T) {
	buf := gocv.NewMatWithSizeFromScalar(bluish, 100, 100, gocv.MatTypeCV8UC3)
	defer buf.Close()

	tests := []struct {
		name  string
		shape tracking.ShapeType
		pts   []image.Point
	}{
		{"outside frame", tracking.ShapeRectangle, rect(80, 80, 120, 120)},
		{"street", tracking.ShapeStreet, rect(10, 10, 40, 40)},
		{"single point", tracking.ShapeCross, []image.Point{{50, 50}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &tracking.TrackedObject{Shape: tt.shape, Color: tracking.ColorYellow, LastSeen: tt.pts}
			sampleColor(buf, o)
			assert.Equal(t, tracking.ColorYellow, o.Color)
		})
	}
}

func TestDescriberClearsOutsideTracking(t *testing.T) {
	d := NewDescriber(nil, clock.NewMock(), nil, zaptest.NewLogger(t).Sugar())
	buf := gocv.NewMatWithSizeFromScalar(bluish, 200, 300, gocv.MatTypeCV8UC3)
	defer buf.Close()
	render := gocv.NewMat()
	defer render.Close()

	c := tracking.Candidate{Contour: rect(20, 20, 60, 60), Shape: tracking.ShapeRectangle, Points: rect(20, 20, 60, 60)}
	require.NoError(t, d.Update(context.Background(), &buf, &render, tracking.ModeTracking, []tracking.Candidate{c}))
	objs := d.Objects()
	require.Len(t, objs, 1)
	assert.Equal(t, tracking.ColorBlue, objs[0].Color)

	require.NoError(t, d.Update(context.Background(), &buf, &render, tracking.ModeStopped, []tracking.Candidate{c}))
	assert.Empty(t, d.Objects())
}

func TestDescriberPushesStableScene(t *testing.T) {
	clk := clock.NewMock()
	poster := &fakePoster{}
	d := NewDescriber(poster, clk, nil, zaptest.NewLogger(t).Sugar())
	d.SetProjectID("demo")

	buf := gocv.NewMatWithSizeFromScalar(bluish, 200, 300, gocv.MatTypeCV8UC3)
	defer buf.Close()
	render := gocv.NewMat()
	defer render.Close()
	c := tracking.Candidate{Contour: rect(20, 20, 60, 60), Shape: tracking.ShapeRectangle, Points: rect(20, 20, 60, 60)}

	// +8 per match against -4 per tick: stable on the sixth tick
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Update(context.Background(), &buf, &render, tracking.ModeTracking, []tracking.Candidate{c}))
	}
	assert.Empty(t, poster.paths)

	clk.Add(5 * time.Second)
	require.NoError(t, d.Update(context.Background(), &buf, &render, tracking.ModeTracking, []tracking.Candidate{c}))
	require.Equal(t, []string{tracking.SaveScenePath}, poster.paths)
	require.Len(t, poster.posts, 1)
	assert.Equal(t, "demo", poster.posts[0].Slug)
	require.Len(t, poster.posts[0].Scene, 1)
	assert.Equal(t, tracking.ColorBlue, poster.posts[0].Scene[0].Color)
}
