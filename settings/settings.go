// Package settings is the key/value store behind every tunable of the
// pipeline. Stores notify subscribers of every change so stages can pick up
// new values at their next tick.
package settings

import (
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/geo/r2"
	"go.uber.org/zap"
)

// Keys understood by the pipeline.
const (
	KeyCameraDevice      = "cameraDevice"
	KeyCameraDevices     = "cameraDevices"
	KeyCameraFormat      = "cameraFormat"
	KeySmoothing         = "smoothing"
	KeyScaling           = "scaling"
	KeyCalibrationMode   = "calibration_mode"
	KeyCalibrationPoints = "calibration_points"
	KeyRenderMode        = "renderMode"
	KeyViewMode          = "paperscope_viewmode"
	KeyProjectID         = "project_id"
	KeyProject           = "project"
	KeyThresholdDark     = "threshold_dark"
	KeyThresholdLight    = "threshold_light"
	KeyThresholdRed      = "threshold_red"
	KeyCaptureDataset    = "capture_dataset"
	KeyAPIURL            = "api_url"
)

// Calibration modes stored under KeyCalibrationMode.
const (
	CalibrationAuto   = "auto"
	CalibrationManual = "manual"
)

// CameraMatrixKey is the key of the stored camera matrix of a device.
func CameraMatrixKey(device string) string {
	return "cameraMatrix_" + deviceSuffix(device)
}

// DistCoeffsKey is the key of the stored distortion coefficients of a device.
func DistCoeffsKey(device string) string {
	return "distCoeffs_" + deviceSuffix(device)
}

func deviceSuffix(device string) string {
	return strings.ReplaceAll(device, " ", "_")
}

// Change is delivered to subscribers after a key was written.
type Change struct {
	Key   string
	Value any
}

// Store reads and writes settings. Getters fall back to the default when
// the key is missing or holds an incompatible value.
type Store interface {
	String(key, def string) string
	Int(key string, def int) int
	Float(key string, def float64) float64
	Bool(key string, def bool) bool
	Floats(key string, def []float64) []float64
	Strings(key string, def []string) []string
	Points(key string, def []r2.Point) []r2.Point
	Map(key string) map[string]any

	Set(key string, value any) error
	SetPoints(key string, pts []r2.Point) error
	// SetValues writes every key in one step.
	SetValues(values map[string]any) error

	// Subscribe returns a channel of changes and a func that ends the
	// subscription.
	Subscribe() (<-chan Change, func())
}

// subscriberBuffer is the number of changes a slow subscriber may lag.
const subscriberBuffer = 64

// MemoryStore is a Store that lives only in memory
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]any

	subMu  sync.Mutex
	subs   map[int]chan Change
	nextID int

	logger *zap.SugaredLogger
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(logger *zap.SugaredLogger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MemoryStore{
		values: map[string]any{},
		subs:   map[int]chan Change{},
		logger: logger,
	}
}

func (m *MemoryStore) get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// String implements Store.
func (m *MemoryStore) String(key, def string) string {
	v, ok := m.get(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return def
}

// Int implements Store.
func (m *MemoryStore) Int(key string, def int) int {
	v, ok := m.get(key)
	if !ok {
		return def
	}
	if f, ok := toFloat(v); ok {
		return int(f)
	}
	return def
}

// Float implements Store.
func (m *MemoryStore) Float(key string, def float64) float64 {
	v, ok := m.get(key)
	if !ok {
		return def
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return def
}

// Bool implements Store.
func (m *MemoryStore) Bool(key string, def bool) bool {
	v, ok := m.get(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		if err == nil {
			return b
		}
	case int:
		return t != 0
	}
	return def
}

// Floats implements Store.
func (m *MemoryStore) Floats(key string, def []float64) []float64 {
	v, ok := m.get(key)
	if !ok {
		return def
	}
	list, ok := v.([]any)
	if !ok {
		return def
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		f, ok := toFloat(item)
		if !ok {
			return def
		}
		out = append(out, f)
	}
	return out
}

// Strings implements Store.
func (m *MemoryStore) Strings(key string, def []string) []string {
	v, ok := m.get(key)
	if !ok {
		return def
	}
	list, ok := v.([]any)
	if !ok {
		return def
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return def
		}
		out = append(out, s)
	}
	return out
}

// Points implements Store.
func (m *MemoryStore) Points(key string, def []r2.Point) []r2.Point {
	v, ok := m.get(key)
	if !ok {
		return def
	}
	list, ok := v.([]any)
	if !ok {
		return def
	}
	out := make([]r2.Point, 0, len(list))
	for _, item := range list {
		p, ok := item.(map[string]any)
		if !ok {
			return def
		}
		x, okx := toFloat(p["x"])
		y, oky := toFloat(p["y"])
		if !okx || !oky {
			return def
		}
		out = append(out, r2.Point{X: x, Y: y})
	}
	return out
}

// Map implements Store. Missing keys give nil.
func (m *MemoryStore) Map(key string) map[string]any {
	v, ok := m.get(key)
	if !ok {
		return nil
	}
	if mv, ok := v.(map[string]any); ok {
		return mv
	}
	return nil
}

// Set implements Store.
func (m *MemoryStore) Set(key string, value any) error {
	plain := plainValue(value)
	m.mu.Lock()
	m.values[key] = plain
	m.mu.Unlock()
	m.notify(Change{Key: key, Value: plain})
	return nil
}

// SetValues implements Store.
func (m *MemoryStore) SetValues(values map[string]any) error {
	changed := make([]Change, 0, len(values))
	m.mu.Lock()
	for k, v := range values {
		plain := plainValue(v)
		m.values[k] = plain
		changed = append(changed, Change{Key: k, Value: plain})
	}
	m.mu.Unlock()
	for _, c := range changed {
		m.notify(c)
	}
	return nil
}

// SetPoints implements Store.
func (m *MemoryStore) SetPoints(key string, pts []r2.Point) error {
	return m.Set(key, pointsValue(pts))
}

// Subscribe implements Store.
func (m *MemoryStore) Subscribe() (<-chan Change, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan Change, subscriberBuffer)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// notify never blocks; a full subscriber misses the change.
func (m *MemoryStore) notify(c Change) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- c:
		default:
			m.logger.Warnf("subscriber %d is full, dropped change of %q", id, c.Key)
		}
	}
}

// snapshot copies the current values.
func (m *MemoryStore) snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// replace swaps in values read from elsewhere and notifies every key whose
// value differs. Keys missing from values are removed with a nil change.
func (m *MemoryStore) replace(values map[string]any) {
	m.mu.Lock()
	var changed []Change
	for k := range m.values {
		if _, ok := values[k]; !ok {
			delete(m.values, k)
			changed = append(changed, Change{Key: k})
		}
	}
	for k, v := range values {
		v = plainValue(v)
		if old, ok := m.values[k]; !ok || !equalValues(old, v) {
			changed = append(changed, Change{Key: k, Value: v})
		}
		m.values[k] = v
	}
	m.mu.Unlock()
	for _, c := range changed {
		m.notify(c)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, !math.IsNaN(t)
	case float32:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// plainValue converts typed values into the shapes a YAML round trip
// produces, so reads behave the same before and after a reload.
func plainValue(v any) any {
	switch t := v.(type) {
	case []float64:
		out := make([]any, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []r2.Point:
		return pointsValue(t)
	case float32:
		return float64(t)
	case int64:
		return int(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = plainValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plainValue(item)
		}
		return out
	}
	return v
}

func pointsValue(pts []r2.Point) []any {
	out := make([]any, len(pts))
	for i, p := range pts {
		out[i] = map[string]any{"x": p.X, "y": p.Y}
	}
	return out
}

func equalValues(a, b any) bool {
	switch at := a.(type) {
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !equalValues(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, v := range at {
			if !equalValues(v, bt[k]) {
				return false
			}
		}
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	_, as := a.(string)
	_, bs := b.(string)
	if aok && bok && !as && !bs {
		return af == bf
	}
	return a == b
}

// ProjectRatio reads the aspect ratio of the active project, 0 when unset.
func ProjectRatio(s Store) float64 {
	project := s.Map(KeyProject)
	if project == nil {
		return 0
	}
	f, _ := toFloat(project["ratio"])
	return f
}
