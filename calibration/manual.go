package calibration

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"paperscope/settings"
)

// cornerNames is the order in which manual sheet corners are entered.
var cornerNames = []string{"top-left", "top-right", "bottom-right", "bottom-left"}

// ManualPrompt guides the user through entering the four sheet corners in
// camera pixels.
type ManualPrompt struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewManualPrompt reads answers from r and writes prompts to w.
func NewManualPrompt(r io.Reader, w io.Writer) *ManualPrompt {
	return &ManualPrompt{scanner: bufio.NewScanner(r), out: w}
}

// PromptManualPoints asks for the four corners and stores them with
// manual calibration mode.
func PromptManualPoints(r io.Reader, w io.Writer, store settings.Store) ([]r2.Point, error) {
	mp := NewManualPrompt(r, w)
	pts, err := mp.Collect()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "Save these corners? (y/n): ")
	if !mp.askYesNo() {
		return nil, errors.New("manual calibration cancelled")
	}
	if err := store.SetPoints(settings.KeyCalibrationPoints, pts); err != nil {
		return nil, errors.Wrap(err, "save corners")
	}
	if err := store.Set(settings.KeyCalibrationMode, settings.CalibrationManual); err != nil {
		return nil, errors.Wrap(err, "save calibration mode")
	}
	fmt.Fprintf(w, "Saved %d corners, calibration mode is now %s\n", len(pts), settings.CalibrationManual)
	return pts, nil
}

// Collect reads one "x,y" or "x y" pair per corner, repeating a prompt on
// invalid input until the input ends.
func (mp *ManualPrompt) Collect() ([]r2.Point, error) {
	fmt.Fprintf(mp.out, "MANUAL SHEET CORNERS\n")
	fmt.Fprintf(mp.out, "Enter the camera pixel position of each sheet corner.\n\n")

	pts := make([]r2.Point, 0, len(cornerNames))
	for i, name := range cornerNames {
		for {
			fmt.Fprintf(mp.out, "[%d/%d] %s corner (x,y): ", i+1, len(cornerNames), name)
			if !mp.scanner.Scan() {
				if err := mp.scanner.Err(); err != nil {
					return nil, errors.Wrap(err, "read corner")
				}
				return nil, errors.Errorf("input ended before the %s corner", name)
			}
			p, err := parsePoint(mp.scanner.Text())
			if err != nil {
				fmt.Fprintf(mp.out, "Invalid point: %v\n", err)
				continue
			}
			pts = append(pts, p)
			fmt.Fprintf(mp.out, "Recorded %s at (%.1f, %.1f)\n", name, p.X, p.Y)
			break
		}
	}
	return pts, nil
}

func (mp *ManualPrompt) askYesNo() bool {
	mp.scanner.Scan()
	response := strings.ToLower(strings.TrimSpace(mp.scanner.Text()))
	return response == "y" || response == "yes"
}

func parsePoint(s string) (r2.Point, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) != 2 {
		return r2.Point{}, errors.Errorf("want two numbers, got %q", strings.TrimSpace(s))
	}
	x, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return r2.Point{}, errors.Wrap(err, "x")
	}
	y, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return r2.Point{}, errors.Wrap(err, "y")
	}
	if x < 0 || y < 0 {
		return r2.Point{}, errors.New("coordinates must not be negative")
	}
	return r2.Point{X: x, Y: y}, nil
}
