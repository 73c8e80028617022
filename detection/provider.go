package detection

import (
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"paperscope/pkg/logging"
	"paperscope/tracking"
)

// ErrNoModel is returned when no shape model could be loaded.
var ErrNoModel = errors.New("shape model not available")

// InferenceProvider runs the shape model on a prepared 64x64 crop and
// returns the raw class scores.
type InferenceProvider interface {
	Initialize(modelPath string) error
	Infer(crop gocv.Mat) ([]float32, error)
	Close() error
	GetProviderInfo() ProviderInfo
}

// ProviderInfo contains information about the inference provider
type ProviderInfo struct {
	Type     string        // "GPU" or "CPU"
	Backend  string        // "CUDA", "CPU"
	Device   string        // Device identifier
	InitTime time.Duration // Time taken to initialize
}

// ProviderManager handles automatic provider selection and fallback
type ProviderManager struct {
	logger          *zap.SugaredLogger
	currentProvider InferenceProvider
	providerInfo    ProviderInfo

	hasGPU func() bool
	newGPU func() InferenceProvider
	newCPU func() InferenceProvider
}

// NewProviderManager creates a new provider manager with auto-detection
func NewProviderManager(logger *zap.SugaredLogger) *ProviderManager {
	return &ProviderManager{
		logger: logging.Named(logger, logging.PROVIDER),
		hasGPU: hasGPUCapability,
		newGPU: func() InferenceProvider { return NewGPUProvider() },
		newCPU: func() InferenceProvider { return NewCPUProvider() },
	}
}

// Initialize performs auto-detection and initializes the best available provider
func (pm *ProviderManager) Initialize(modelPath string) error {
	if modelPath == "" {
		return ErrNoModel
	}
	pm.logger.Info("auto-detecting best inference provider")

	if pm.hasGPU() {
		pm.logger.Info("GPU capability detected, attempting GPU initialization")
		gpu := pm.newGPU()

		start := time.Now()
		if err := gpu.Initialize(modelPath); err != nil {
			pm.logger.Warnw("GPU initialization failed, falling back to CPU", "error", err)
		} else if !testProvider(gpu) {
			pm.logger.Warn("GPU test inference failed, falling back to CPU")
			gpu.Close()
		} else {
			pm.use(gpu, time.Since(start))
			return nil
		}
	} else {
		pm.logger.Debug("no GPU capability detected")
	}

	cpu := pm.newCPU()
	start := time.Now()
	if err := cpu.Initialize(modelPath); err != nil {
		return errors.Wrapf(ErrNoModel, "load %s: %v", modelPath, err)
	}
	pm.use(cpu, time.Since(start))
	return nil
}

func (pm *ProviderManager) use(p InferenceProvider, took time.Duration) {
	pm.currentProvider = p
	pm.providerInfo = p.GetProviderInfo()
	pm.providerInfo.InitTime = took
	pm.logger.Infow("inference provider ready",
		"type", pm.providerInfo.Type, "backend", pm.providerInfo.Backend, "init", took)
}

// GetProvider returns the current active provider
func (pm *ProviderManager) GetProvider() InferenceProvider {
	return pm.currentProvider
}

// GetProviderInfo returns information about the current provider
func (pm *ProviderManager) GetProviderInfo() ProviderInfo {
	return pm.providerInfo
}

// Close closes the current provider
func (pm *ProviderManager) Close() error {
	if pm.currentProvider != nil {
		return pm.currentProvider.Close()
	}
	return nil
}

// hasGPUCapability checks for an NVIDIA card with drivers loaded. CUDA
// itself is only proven by the test inference.
func hasGPUCapability() bool {
	return hasNVIDIAGPU() && hasNVIDIADriver()
}

func hasNVIDIAGPU() bool {
	output, err := exec.Command("lspci").Output()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(output)), "nvidia")
}

func hasNVIDIADriver() bool {
	if err := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Run(); err != nil {
		return false
	}
	matches, _ := filepath.Glob("/dev/nvidia*")
	return len(matches) > 0
}

// testProvider performs a quick test inference to verify the provider works
func testProvider(provider InferenceProvider) bool {
	frame := gocv.NewMatWithSize(ModelInput, ModelInput, gocv.MatTypeCV8UC1)
	defer frame.Close()

	scores, err := provider.Infer(frame)
	return err == nil && len(scores) >= tracking.ClassifiedShapes
}
