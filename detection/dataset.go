package detection

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// DatasetRecorder saves the padded crops of one tick as training images
// each time it is armed.
type DatasetRecorder struct {
	dir    string
	armed  atomic.Bool
	newID  func() string
	logger *zap.SugaredLogger
}

// NewDatasetRecorder writes under dir/raw. An empty dir disables recording.
func NewDatasetRecorder(dir string, logger *zap.SugaredLogger) *DatasetRecorder {
	return &DatasetRecorder{dir: dir, newID: uuid.NewString, logger: logger}
}

// Arm requests recording of the next tick.
func (d *DatasetRecorder) Arm() {
	if d == nil || d.dir == "" {
		return
	}
	d.armed.Store(true)
}

// take consumes the armed flag.
func (d *DatasetRecorder) take() bool {
	return d != nil && d.armed.CompareAndSwap(true, false)
}

func (d *DatasetRecorder) path() string {
	return filepath.Join(d.dir, "raw", d.newID()+".png")
}

// Save writes crop as a PNG and returns its path.
func (d *DatasetRecorder) Save(crop gocv.Mat) (string, error) {
	p := d.path()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", errors.Wrap(err, "dataset dir")
	}
	if !gocv.IMWrite(p, crop) {
		return "", errors.Errorf("write %s", p)
	}
	return p, nil
}
