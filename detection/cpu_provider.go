package detection

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// netProvider runs a gocv DNN on a fixed backend and target.
type netProvider struct {
	net     gocv.Net
	backend gocv.NetBackendType
	target  gocv.NetTargetType
	info    ProviderInfo
	mu      sync.Mutex
}

func (np *netProvider) Initialize(modelPath string) error {
	np.net = gocv.ReadNet(modelPath, "")
	if np.net.Empty() {
		return errors.Errorf("failed to load network from %s", modelPath)
	}
	if err := np.net.SetPreferableBackend(np.backend); err != nil {
		return errors.Wrap(err, "set backend")
	}
	if err := np.net.SetPreferableTarget(np.target); err != nil {
		return errors.Wrap(err, "set target")
	}
	return nil
}

// Infer feeds a single-channel crop scaled to [0,1].
func (np *netProvider) Infer(crop gocv.Mat) ([]float32, error) {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.net.Empty() {
		return nil, ErrNoModel
	}

	blob := gocv.BlobFromImage(crop, 1.0/255.0, image.Pt(ModelInput, ModelInput), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	np.net.SetInput(blob, "")
	output := np.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read scores")
	}
	return append([]float32(nil), data...), nil
}

func (np *netProvider) Close() error {
	np.mu.Lock()
	defer np.mu.Unlock()
	return np.net.Close()
}

func (np *netProvider) GetProviderInfo() ProviderInfo {
	return np.info
}

// CPUProvider implements shape inference using OpenCV CPU backend
type CPUProvider struct {
	netProvider
}

// NewCPUProvider returns an uninitialized CPU provider.
func NewCPUProvider() *CPUProvider {
	return &CPUProvider{netProvider{
		backend: gocv.NetBackendDefault,
		target:  gocv.NetTargetCPU,
		info:    ProviderInfo{Type: "CPU", Backend: "OpenCV CPU", Device: "CPU"},
	}}
}
