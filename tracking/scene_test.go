package tracking

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var frame = image.Pt(960, 644)

func box(x0, y0, x1, y1 int) []image.Point {
	return []image.Point{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

func candidate(shape ShapeType, pts []image.Point) Candidate {
	return Candidate{Contour: pts, Shape: shape, Points: pts}
}

func newTestScene(t *testing.T) *Scene {
	s := NewScene(zaptest.NewLogger(t).Sugar())
	n := 0
	s.newID = func() string {
		n++
		return string(rune('a' - 1 + n))
	}
	return s
}

func TestSceneCreatesSeededObject(t *testing.T) {
	s := newTestScene(t)
	changed := s.Update([]Candidate{candidate(ShapeCircle, box(96, 64, 192, 128))}, frame)
	assert.False(t, changed)

	objs := s.Objects()
	require.Len(t, objs, 1)
	assert.Equal(t, "a", objs[0].ID)
	assert.Equal(t, SeedConfidence, objs[0].Confidence)
	assert.Equal(t, ShapeCircle, objs[0].Shape)
	assert.InDelta(t, 0.1, objs[0].Points[0].X, 1e-9)
	assert.InDelta(t, 64.0/644.0, objs[0].Points[0].Y, 1e-9)
}

func TestSceneCenterMatchBoost(t *testing.T) {
	tests := []struct {
		name  string
		shape ShapeType
		want  int
	}{
		{"same shape", ShapeRectangle, SeedConfidence - DecayPerTick + 8},
		{"other shape", ShapeCircle, SeedConfidence - DecayPerTick + 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScene(t)
			s.Update([]Candidate{candidate(ShapeRectangle, box(100, 100, 200, 200))}, frame)
			// shifted by a few pixels, centers stay within 10px
			s.Update([]Candidate{candidate(tt.shape, box(104, 103, 204, 203))}, frame)

			objs := s.Objects()
			require.Len(t, objs, 1)
			assert.Equal(t, tt.want, objs[0].Confidence)
			assert.Equal(t, ShapeRectangle, objs[0].Shape)
			assert.Equal(t, "a", objs[0].ID)
		})
	}
}

func TestSceneConfidenceBounds(t *testing.T) {
	s := newTestScene(t)
	c := candidate(ShapeTriangle, box(300, 300, 360, 360))
	for i := 0; i < 40; i++ {
		s.Update([]Candidate{c}, frame)
		for _, o := range s.Objects() {
			assert.GreaterOrEqual(t, o.Confidence, 0)
			assert.LessOrEqual(t, o.Confidence, MaxConfidence)
		}
	}
	require.Len(t, s.Objects(), 1)
	assert.Equal(t, MaxConfidence, s.Objects()[0].Confidence)

	for i := 0; i < MaxConfidence/DecayPerTick-1; i++ {
		s.Update(nil, frame)
	}
	require.Len(t, s.Objects(), 1)
	assert.Equal(t, DecayPerTick, s.Objects()[0].Confidence)

	s.Update(nil, frame)
	assert.Empty(t, s.Objects())
}

func TestSceneStreetsNeverMatchByOverlap(t *testing.T) {
	s := newTestScene(t)
	street := candidate(ShapeStreet, box(0, 0, 200, 20))
	s.Update([]Candidate{street}, frame)
	s.Update([]Candidate{street}, frame)
	require.Len(t, s.Objects(), 1)
	require.Equal(t, SeedConfidence-DecayPerTick+8, s.Objects()[0].Confidence)

	s.Update([]Candidate{candidate(ShapeStreet, box(30, 0, 230, 20))}, frame)
	objs := s.Objects()
	require.Len(t, objs, 2)
	assert.Equal(t, SeedConfidence-2*DecayPerTick+8, objs[0].Confidence)
	assert.Equal(t, SeedConfidence, objs[1].Confidence)

	s = newTestScene(t)
	s.Update([]Candidate{candidate(ShapeRectangle, box(0, 0, 200, 20))}, frame)
	s.Update([]Candidate{candidate(ShapeRectangle, box(30, 0, 230, 20))}, frame)
	require.Len(t, s.Objects(), 1)
	assert.Equal(t, SeedConfidence-DecayPerTick+8, s.Objects()[0].Confidence)
}

func TestSceneMatchesCreationOutline(t *testing.T) {
	s := newTestScene(t)
	s.Update([]Candidate{candidate(ShapeRectangle, box(100, 100, 200, 200))}, frame)
	// matched candidates never replace the creation outline
	s.Update([]Candidate{candidate(ShapeRectangle, box(108, 100, 208, 200))}, frame)
	s.Update([]Candidate{candidate(ShapeRectangle, box(200, 100, 300, 200))}, frame)

	objs := s.Objects()
	require.Len(t, objs, 2)
	assert.Equal(t, box(100, 100, 200, 200), objs[0].Pixels)
	assert.Equal(t, box(108, 100, 208, 200), objs[0].LastSeen)
}

func TestSceneReportsStableCountChange(t *testing.T) {
	s := newTestScene(t)
	c := candidate(ShapeCross, box(500, 300, 540, 340))

	var changes []bool
	for i := 0; i < 6; i++ {
		changes = append(changes, s.Update([]Candidate{c}, frame))
	}
	// confidence 4, 8, 12, 16, 20, 24
	assert.Equal(t, []bool{false, false, false, false, false, true}, changes)
	assert.Equal(t, 1, s.StableCount())

	s.Clear()
	assert.Empty(t, s.Objects())
}

func TestNormalizeRoundTrip(t *testing.T) {
	pts := []image.Point{{0, 0}, {960, 644}, {123, 456}, {17, 3}}
	back := Denormalize(Normalize(pts, frame), frame)
	assert.Equal(t, pts, back)

	assert.Len(t, Normalize(pts, image.Point{}), len(pts))
}
