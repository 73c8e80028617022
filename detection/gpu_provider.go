package detection

import "gocv.io/x/gocv"

// GPUProvider implements shape inference using OpenCV CUDA backend
type GPUProvider struct {
	netProvider
}

// NewGPUProvider returns an uninitialized CUDA provider.
func NewGPUProvider() *GPUProvider {
	return &GPUProvider{netProvider{
		backend: gocv.NetBackendCUDA,
		target:  gocv.NetTargetCUDA,
		info:    ProviderInfo{Type: "GPU", Backend: "OpenCV CUDA", Device: "NVIDIA GPU"},
	}}
}
