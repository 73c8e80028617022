package tracking

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// StableConfidence is the confidence an object must exceed to count
	// as part of the scene.
	StableConfidence = 20
	MaxConfidence    = 100
	SeedConfidence   = 4
	DecayPerTick     = 4

	sameShapeBoost      = 8
	otherShapeBoost     = 2
	centerMatchDistance = 10.0
	overlapMatchRatio   = 0.5
)

// Scene owns the tracked objects and their confidence lifecycle
type Scene struct {
	objects []*TrackedObject
	newID   func() string
	logger  *zap.SugaredLogger
}

// NewScene creates an empty scene
func NewScene(logger *zap.SugaredLogger) *Scene {
	return &Scene{
		newID:  uuid.NewString,
		logger: logger,
	}
}

// Update ages every object, matches the candidates against the existing
// objects and drops the ones whose confidence ran out. It reports whether
// the number of stable objects changed.
func (s *Scene) Update(candidates []Candidate, frame image.Point) bool {
	before := 0
	for _, o := range s.objects {
		o.Confidence -= DecayPerTick
		if o.Stable() {
			before++
		}
	}

	// greedy, first match wins
	for _, c := range candidates {
		matched := false
		for _, o := range s.objects {
			if o.match(c) {
				matched = true
				break
			}
		}
		if !matched {
			o := s.newObject(c, frame)
			s.objects = append(s.objects, o)
			s.logger.Debugf("new %s object %s", o.Shape, o.ID)
		}
	}

	after := 0
	alive := s.objects[:0]
	for _, o := range s.objects {
		if o.Confidence <= 0 {
			s.logger.Debugf("dropped %s object %s", o.Shape, o.ID)
			continue
		}
		if o.Stable() {
			after++
		}
		alive = append(alive, o)
	}
	for i := len(alive); i < len(s.objects); i++ {
		s.objects[i] = nil
	}
	s.objects = alive

	return before != after
}

// Objects returns the current objects in creation order.
func (s *Scene) Objects() []*TrackedObject {
	out := make([]*TrackedObject, len(s.objects))
	copy(out, s.objects)
	return out
}

// StableCount is the number of objects above StableConfidence.
func (s *Scene) StableCount() int {
	n := 0
	for _, o := range s.objects {
		if o.Stable() {
			n++
		}
	}
	return n
}

// Clear removes every object.
func (s *Scene) Clear() {
	s.objects = nil
}

func (s *Scene) newObject(c Candidate, frame image.Point) *TrackedObject {
	pixels := append([]image.Point(nil), c.Points...)
	return &TrackedObject{
		ID:         s.newID(),
		Shape:      c.Shape,
		Confidence: SeedConfidence,
		Points:     Normalize(pixels, frame),
		Pixels:     pixels,
		LastSeen:   pixels,
	}
}

// match tests c against the object and boosts confidence on success.
func (o *TrackedObject) match(c Candidate) bool {
	rect := o.Bounds()
	target := BoundingRect(c.Points)

	if centerDistance(rect, target) < centerMatchDistance {
		o.boost(c)
		return true
	}

	// long thin streets would merge through overlap
	if c.Shape == ShapeStreet || o.Shape == ShapeStreet {
		return false
	}
	area := target.Dx() * target.Dy()
	if area <= 0 {
		return false
	}
	inter := rect.Intersect(target)
	overlap := float64(inter.Dx()*inter.Dy()) / float64(area)
	if overlap > overlapMatchRatio {
		o.boost(c)
		return true
	}
	return false
}

func (o *TrackedObject) boost(c Candidate) {
	if c.Shape == o.Shape {
		o.Confidence += sameShapeBoost
	} else {
		o.Confidence += otherShapeBoost
	}
	if o.Confidence > MaxConfidence {
		o.Confidence = MaxConfidence
	}
	o.LastSeen = c.Points
}

func centerDistance(a, b image.Rectangle) float64 {
	ca := a.Min.Add(image.Pt(a.Dx()/2, a.Dy()/2))
	cb := b.Min.Add(image.Pt(b.Dx()/2, b.Dy()/2))
	d := ca.Sub(cb)
	return math.Hypot(float64(d.X), float64(d.Y))
}

// Normalize divides pixel coordinates by the frame size.
func Normalize(pts []image.Point, frame image.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	if frame.X <= 0 || frame.Y <= 0 {
		return out
	}
	for i, p := range pts {
		out[i] = r2.Point{X: float64(p.X) / float64(frame.X), Y: float64(p.Y) / float64(frame.Y)}
	}
	return out
}

// Denormalize maps normalized points back to pixels in a frame.
func Denormalize(pts []r2.Point, frame image.Point) []image.Point {
	out := make([]image.Point, len(pts))
	for i, p := range pts {
		out[i] = image.Pt(int(math.Round(p.X*float64(frame.X))), int(math.Round(p.Y*float64(frame.Y))))
	}
	return out
}
