package detection

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"paperscope/tracking"
)

// Model input geometry: crops are resized to ModelCrop and padded to
// ModelInput on every side.
const (
	ModelInput = 64
	ModelCrop  = 54
	modelPad   = (ModelInput - ModelCrop) / 2
)

// ShapeClassifier maps a binary crop to a shape.
type ShapeClassifier interface {
	Classify(roi gocv.Mat) (tracking.ShapeType, error)
}

// Classifier classifies crops through an inference provider. A nil
// provider classifies everything as a rectangle.
type Classifier struct {
	provider InferenceProvider
}

// NewClassifier wraps p.
func NewClassifier(p InferenceProvider) *Classifier {
	return &Classifier{provider: p}
}

// Classify returns ShapeRectangle for empty crops and on inference
// failure; the error is returned alongside for logging.
func (c *Classifier) Classify(roi gocv.Mat) (tracking.ShapeType, error) {
	if roi.Empty() || c.provider == nil {
		return tracking.ShapeRectangle, nil
	}
	crop := PadROI(roi)
	defer crop.Close()

	scores, err := c.provider.Infer(crop)
	if err != nil {
		return tracking.ShapeRectangle, errors.Wrap(err, "classify")
	}
	return ArgmaxShape(scores), nil
}

// PadROI resizes roi to the model crop size and pads it with black to the
// model input size. The caller closes the result.
func PadROI(roi gocv.Mat) gocv.Mat {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(roi, &resized, image.Pt(ModelCrop, ModelCrop), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &padded, modelPad, modelPad, modelPad, modelPad, gocv.BorderConstant, color.RGBA{})
	return padded
}

// ArgmaxShape picks the highest of the first ClassifiedShapes scores; the
// first wins ties and an empty slice is a rectangle.
func ArgmaxShape(scores []float32) tracking.ShapeType {
	best := tracking.ShapeRectangle
	if len(scores) == 0 {
		return best
	}
	n := len(scores)
	if n > tracking.ClassifiedShapes {
		n = tracking.ClassifiedShapes
	}
	for i := 1; i < n; i++ {
		if scores[i] > scores[best] {
			best = tracking.ShapeType(i)
		}
	}
	return best
}
