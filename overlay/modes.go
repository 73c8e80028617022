package overlay

// RenderMode selects what the render buffer shows.
type RenderMode int

const (
	RenderCamera RenderMode = iota
	RenderPaperScope
	RenderNone
)

func (m RenderMode) String() string {
	switch m {
	case RenderCamera:
		return "camera"
	case RenderPaperScope:
		return "paperscope"
	case RenderNone:
		return "none"
	default:
		return "unknown"
	}
}

// Emits reports whether frames are handed to the render sink.
func (m RenderMode) Emits() bool {
	return m == RenderCamera || m == RenderPaperScope
}

// ViewMode selects the intermediate stage shown in paperscope rendering.
type ViewMode int

const (
	ViewPlane2D ViewMode = iota
	ViewProcessing
	ViewThreshold
	ViewStreets
	ViewBoundingBoxes
	ViewContours
)

func (m ViewMode) String() string {
	switch m {
	case ViewPlane2D:
		return "plane2d"
	case ViewProcessing:
		return "processing"
	case ViewThreshold:
		return "threshold"
	case ViewStreets:
		return "streets"
	case ViewBoundingBoxes:
		return "boundingboxes"
	case ViewContours:
		return "contours"
	default:
		return "unknown"
	}
}
