package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	// SaveScenePath is the API route that stores a project scene.
	SaveScenePath = "api/project/scene/save"

	// PushInterval is the minimum time between two scene pushes.
	PushInterval = 4 * time.Second
)

// Poster sends a JSON body to the project server. Post must not block;
// done is called once the request finished, successful or not.
type Poster interface {
	Post(ctx context.Context, path string, body any, done func(map[string]any))
}

// PayloadPoint is a normalized outline vertex.
type PayloadPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PayloadObject is one object of a scene push.
type PayloadObject struct {
	UID    string         `json:"uid"`
	Shape  ShapeType      `json:"shape"`
	Color  ColorType      `json:"color"`
	Points []PayloadPoint `json:"points"`
}

// ScenePayload is the body of a scene push.
type ScenePayload struct {
	Slug  string          `json:"slug"`
	Scene []PayloadObject `json:"scene"`
}

// NewScenePayload serializes objects for project slug.
func NewScenePayload(slug string, objects []*TrackedObject) ScenePayload {
	p := ScenePayload{Slug: slug, Scene: make([]PayloadObject, 0, len(objects))}
	for _, o := range objects {
		obj := PayloadObject{
			UID:    o.ID,
			Shape:  o.Shape,
			Color:  o.Color,
			Points: make([]PayloadPoint, len(o.Points)),
		}
		for i, pt := range o.Points {
			obj.Points[i] = PayloadPoint{X: pt.X, Y: pt.Y}
		}
		p.Scene = append(p.Scene, obj)
	}
	return p
}

// SceneSync rate limits scene pushes and keeps at most one in flight
type SceneSync struct {
	mu        sync.Mutex
	poster    Poster
	clock     clock.Clock
	logger    *zap.SugaredLogger
	projectID string

	needed   bool
	sending  bool
	lastSent time.Time

	// stable counts seen on the latest tick and when the in-flight push
	// was built
	stable       int
	stableAtSend int
}

// NewSceneSync creates a sync whose throttle window starts now.
func NewSceneSync(poster Poster, clk clock.Clock, logger *zap.SugaredLogger) *SceneSync {
	if clk == nil {
		clk = clock.New()
	}
	return &SceneSync{
		poster:   poster,
		clock:    clk,
		logger:   logger,
		lastSent: clk.Now(),
	}
}

// SetProjectID sets the slug scenes are saved under.
func (s *SceneSync) SetProjectID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectID = id
}

// Tick records the latest scene state and sends a push when one is due.
// It reports whether a push was handed to the poster.
func (s *SceneSync) Tick(ctx context.Context, objects []*TrackedObject, changed bool) bool {
	s.mu.Lock()
	s.stable = 0
	for _, o := range objects {
		if o.Stable() {
			s.stable++
		}
	}
	if changed {
		s.needed = true
	}

	if len(objects) == 0 || s.sending || !s.needed || s.projectID == "" {
		s.mu.Unlock()
		return false
	}
	now := s.clock.Now()
	if now.Sub(s.lastSent) < PushInterval {
		s.mu.Unlock()
		return false
	}

	s.lastSent = now
	s.sending = true
	s.needed = false
	s.stableAtSend = s.stable
	payload := NewScenePayload(s.projectID, objects)
	s.mu.Unlock()

	s.logger.Infof("pushing scene with %d objects", len(payload.Scene))
	s.poster.Post(ctx, SaveScenePath, payload, s.onSent)
	return true
}

// onSent clears the in-flight flag. A stable count that moved while the
// push was in flight queues another push.
func (s *SceneSync) onSent(map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = false
	if s.stable != s.stableAtSend {
		s.needed = true
	}
	s.logger.Debug("scene saved")
}

// Sending reports whether a push is in flight.
func (s *SceneSync) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}
