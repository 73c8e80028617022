package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingPoster struct {
	mu    sync.Mutex
	paths []string
	posts []ScenePayload
	done  []func(map[string]any)
}

func (p *recordingPoster) Post(_ context.Context, path string, body any, done func(map[string]any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
	p.posts = append(p.posts, body.(ScenePayload))
	p.done = append(p.done, done)
}

func (p *recordingPoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posts)
}

func (p *recordingPoster) complete(i int) {
	p.mu.Lock()
	done := p.done[i]
	p.mu.Unlock()
	done(nil)
}

func stableObjects(n int) []*TrackedObject {
	objs := make([]*TrackedObject, n)
	for i := range objs {
		objs[i] = &TrackedObject{
			ID:         string(rune('a' + i)),
			Shape:      ShapeCircle,
			Color:      ColorBlue,
			Confidence: 50,
			Points:     Normalize(box(10, 10, 20, 20), frame),
		}
	}
	return objs
}

func newTestSync(t *testing.T) (*SceneSync, *recordingPoster, *clock.Mock) {
	poster := &recordingPoster{}
	clk := clock.NewMock()
	s := NewSceneSync(poster, clk, zaptest.NewLogger(t).Sugar())
	s.SetProjectID("river-map")
	return s, poster, clk
}

func TestSceneSyncThrottle(t *testing.T) {
	s, poster, clk := newTestSync(t)
	ctx := context.Background()

	// the window starts at construction
	assert.False(t, s.Tick(ctx, stableObjects(1), true))
	assert.Equal(t, 0, poster.count())

	clk.Add(PushInterval)
	assert.True(t, s.Tick(ctx, stableObjects(1), false))
	require.Equal(t, 1, poster.count())
	assert.Equal(t, SaveScenePath, poster.paths[0])
	assert.Equal(t, "river-map", poster.posts[0].Slug)
	require.Len(t, poster.posts[0].Scene, 1)
	assert.Equal(t, ShapeCircle, poster.posts[0].Scene[0].Shape)
	assert.Len(t, poster.posts[0].Scene[0].Points, 4)

	poster.complete(0)
	clk.Add(time.Second)
	assert.False(t, s.Tick(ctx, stableObjects(2), true))
	assert.Equal(t, 1, poster.count())

	clk.Add(PushInterval)
	assert.True(t, s.Tick(ctx, stableObjects(2), false))
	assert.Equal(t, 2, poster.count())
}

func TestSceneSyncSingleFlight(t *testing.T) {
	s, poster, clk := newTestSync(t)
	ctx := context.Background()

	clk.Add(PushInterval)
	require.True(t, s.Tick(ctx, stableObjects(1), true))
	assert.True(t, s.Sending())

	clk.Add(PushInterval)
	assert.False(t, s.Tick(ctx, stableObjects(2), true))
	assert.Equal(t, 1, poster.count())

	// the change seen while in flight is pushed once the first completes
	poster.complete(0)
	assert.False(t, s.Sending())
	assert.True(t, s.Tick(ctx, stableObjects(2), false))
	assert.Equal(t, 2, poster.count())
}

func TestSceneSyncReevaluatesAfterCompletion(t *testing.T) {
	s, poster, clk := newTestSync(t)
	ctx := context.Background()

	clk.Add(PushInterval)
	require.True(t, s.Tick(ctx, stableObjects(1), true))
	s.mu.Lock()
	// a stable count observed without a change edge
	s.stable = 3
	s.mu.Unlock()

	poster.complete(0)
	clk.Add(PushInterval)
	assert.True(t, s.Tick(ctx, stableObjects(3), false))
}

func TestSceneSyncPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		project string
		objects []*TrackedObject
		changed bool
	}{
		{"no project", "", stableObjects(1), true},
		{"no objects", "river-map", nil, true},
		{"not needed", "river-map", stableObjects(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, poster, clk := newTestSync(t)
			s.SetProjectID(tt.project)
			clk.Add(PushInterval)
			assert.False(t, s.Tick(context.Background(), tt.objects, tt.changed))
			assert.Equal(t, 0, poster.count())
		})
	}
}
