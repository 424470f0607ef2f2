package vision

import (
	"fmt"
	"image/color"

	"gocv.io/x/gocv"
)

var fillColor = color.RGBA{R: 255, G: 255, B: 255, A: 0}

// Tracker follows the single largest region of the fused mask. Smaller
// concurrent regions are ignored.
type Tracker struct {
	persistence int
	prev        gocv.Mat
	misses      int
}

// NewTracker creates a tracker that holds a lost region for up to
// persistence consecutive empty masks.
func NewTracker(persistence int) *Tracker {
	return &Tracker{persistence: persistence, prev: gocv.NewMat()}
}

// Close releases the tracker state.
func (t *Tracker) Close() {
	t.prev.Close()
}

// Update returns a filled CV8UC1 mask of the tracked region, owned by the
// caller. The result is all zeros when nothing is tracked.
func (t *Tracker) Update(mask gocv.Mat) (gocv.Mat, error) {
	out := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), mask.Rows(), mask.Cols(), gocv.MatTypeCV8UC1)

	// A held region from another resolution cannot be reused.
	if !t.prev.Empty() && (t.prev.Rows() != mask.Rows() || t.prev.Cols() != mask.Cols()) {
		t.clear()
	}

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		if t.misses < t.persistence && !t.prev.Empty() {
			t.misses++
			if err := t.prev.CopyTo(&out); err != nil {
				out.Close()
				return gocv.Mat{}, fmt.Errorf("failed to copy tracked region: %w", err)
			}
			return out, nil
		}
		t.clear()
		return out, nil
	}

	largest, largestArea := 0, -1.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > largestArea {
			largest, largestArea = i, area
		}
	}

	if err := gocv.DrawContours(&out, contours, largest, fillColor, -1); err != nil {
		out.Close()
		return gocv.Mat{}, fmt.Errorf("failed to fill tracked region: %w", err)
	}
	if err := out.CopyTo(&t.prev); err != nil {
		out.Close()
		return gocv.Mat{}, fmt.Errorf("failed to store tracked region: %w", err)
	}
	t.misses = 0
	return out, nil
}

func (t *Tracker) clear() {
	t.prev.Close()
	t.prev = gocv.NewMat()
	t.misses = 0
}

// Tracking reports whether a region is currently held.
func (t *Tracker) Tracking() bool {
	return !t.prev.Empty()
}
