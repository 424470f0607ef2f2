package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

const (
	// ForegroundWeight and MotionWeight form the fixed confidence blend.
	ForegroundWeight = 0.6
	MotionWeight     = 0.4

	foregroundThreshold = 200
	motionThreshold     = 25
	medianKernel        = 5

	// DefaultHistory and DefaultVarThreshold configure the background model.
	DefaultHistory      = 200
	DefaultVarThreshold = 16
)

// VarThresholdFor maps a detection sensitivity in [0,1] to a MOG2 variance
// threshold. Higher sensitivity means a lower threshold, never below 4.
func VarThresholdFor(sensitivity float64) float64 {
	if sensitivity < 0 {
		sensitivity = 0
	}
	if sensitivity > 1 {
		sensitivity = 1
	}
	v := float64(int(32 * (1 - sensitivity)))
	if v < 4 {
		return 4
	}
	return v
}

// Detection is the output of one Segmenter.Apply call. The caller owns the
// Mats and must call Close.
type Detection struct {
	Mask       gocv.Mat // CV8UC1, 0/255 foreground
	Confidence gocv.Mat // CV32FC1 in [0,1]
	Motion     gocv.Mat // CV8UC1, 0/255 thresholded motion
	Flow       gocv.Mat // CV32FC2 dense flow previous->current; empty on the first call
}

// Close releases all Mats of the detection.
func (d *Detection) Close() {
	d.Mask.Close()
	d.Confidence.Close()
	d.Motion.Close()
	d.Flow.Close()
}

// Segmenter combines adaptive background subtraction with dense optical flow.
type Segmenter struct {
	bg       gocv.BackgroundSubtractorMOG2
	prevGray gocv.Mat
	hasPrev  bool
	open     gocv.Mat
	close    gocv.Mat
}

// NewSegmenter creates a segmenter with a MOG2 background model.
func NewSegmenter(history int, varThreshold float64) *Segmenter {
	return &Segmenter{
		bg:       gocv.NewBackgroundSubtractorMOG2WithParams(history, varThreshold, false),
		prevGray: gocv.NewMat(),
		open:     gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
		close:    gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5)),
	}
}

// Close releases the background model and cached state.
func (s *Segmenter) Close() {
	s.bg.Close()
	s.prevGray.Close()
	s.open.Close()
	s.close.Close()
}

// Apply updates the background model with frame and returns the foreground
// mask, the blended confidence map and the motion estimate.
func (s *Segmenter) Apply(frame gocv.Mat) (Detection, error) {
	if frame.Empty() {
		return Detection{}, fmt.Errorf("empty frame")
	}

	fg := gocv.NewMat()
	defer fg.Close()
	if err := s.bg.Apply(frame, &fg); err != nil {
		return Detection{}, fmt.Errorf("failed to update background model: %w", err)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray); err != nil {
		return Detection{}, fmt.Errorf("failed to convert frame to grayscale: %w", err)
	}

	// A reconnected camera may deliver a new resolution; restart motion.
	if s.hasPrev && (s.prevGray.Rows() != gray.Rows() || s.prevGray.Cols() != gray.Cols()) {
		s.hasPrev = false
	}

	det := Detection{
		Mask:       gocv.NewMat(),
		Confidence: gocv.NewMat(),
		Motion:     gocv.NewMat(),
		Flow:       gocv.NewMat(),
	}
	if err := s.detect(fg, gray, &det); err != nil {
		det.Close()
		return Detection{}, err
	}

	if err := gray.CopyTo(&s.prevGray); err != nil {
		det.Close()
		return Detection{}, fmt.Errorf("failed to store previous frame: %w", err)
	}
	s.hasPrev = true
	return det, nil
}

func (s *Segmenter) detect(fg, gray gocv.Mat, det *Detection) error {
	if err := s.denoiseForeground(fg, &det.Mask); err != nil {
		return err
	}

	magnitude := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), gray.Rows(), gray.Cols(), gocv.MatTypeCV8UC1)
	defer magnitude.Close()

	if s.hasPrev {
		if err := DenseFlow(s.prevGray, gray, &det.Flow); err != nil {
			return err
		}
		if err := flowMagnitude(det.Flow, &magnitude); err != nil {
			return err
		}
	}

	gocv.Threshold(magnitude, &det.Motion, motionThreshold, 255, gocv.ThresholdBinary)
	if err := gocv.MedianBlur(det.Motion, &det.Motion, medianKernel); err != nil {
		return fmt.Errorf("failed to denoise motion: %w", err)
	}

	return blendConfidence(fg, magnitude, &det.Confidence)
}

// denoiseForeground median-filters, binarizes, opens and closes the raw score.
func (s *Segmenter) denoiseForeground(fg gocv.Mat, dst *gocv.Mat) error {
	blurred := gocv.NewMat()
	defer blurred.Close()
	if err := gocv.MedianBlur(fg, &blurred, medianKernel); err != nil {
		return fmt.Errorf("failed to blur foreground: %w", err)
	}
	gocv.Threshold(blurred, dst, foregroundThreshold, 255, gocv.ThresholdBinary)
	if err := gocv.MorphologyEx(*dst, dst, gocv.MorphOpen, s.open); err != nil {
		return fmt.Errorf("failed to open foreground: %w", err)
	}
	if err := gocv.MorphologyEx(*dst, dst, gocv.MorphClose, s.close); err != nil {
		return fmt.Errorf("failed to close foreground: %w", err)
	}
	return nil
}

// blendConfidence writes 0.6*fg/255 + 0.4*motion/255 clipped to [0,1].
func blendConfidence(fg, motion gocv.Mat, dst *gocv.Mat) error {
	fgF := gocv.NewMat()
	defer fgF.Close()
	if err := fg.ConvertToWithParams(&fgF, gocv.MatTypeCV32F, float32(ForegroundWeight/255.0), 0); err != nil {
		return fmt.Errorf("failed to scale foreground: %w", err)
	}

	motionF := gocv.NewMat()
	defer motionF.Close()
	if err := motion.ConvertToWithParams(&motionF, gocv.MatTypeCV32F, float32(MotionWeight/255.0), 0); err != nil {
		return fmt.Errorf("failed to scale motion: %w", err)
	}

	if err := gocv.Add(fgF, motionF, dst); err != nil {
		return fmt.Errorf("failed to blend confidence: %w", err)
	}
	gocv.Threshold(*dst, dst, 1.0, 1.0, gocv.ThresholdTrunc)
	return nil
}

// flowMagnitude writes the min-max normalized flow magnitude as CV8UC1.
func flowMagnitude(flow gocv.Mat, dst *gocv.Mat) error {
	parts := gocv.Split(flow)
	defer func() {
		for _, p := range parts {
			p.Close()
		}
	}()
	if len(parts) != 2 {
		return fmt.Errorf("flow has %d channels, want 2", len(parts))
	}

	mag := gocv.NewMat()
	defer mag.Close()
	angle := gocv.NewMat()
	defer angle.Close()
	if err := gocv.CartToPolar(parts[0], parts[1], &mag, &angle, false); err != nil {
		return fmt.Errorf("failed to compute flow magnitude: %w", err)
	}

	norm := gocv.NewMat()
	defer norm.Close()
	if err := gocv.Normalize(mag, &norm, 0, 255, gocv.NormMinMax); err != nil {
		return fmt.Errorf("failed to normalize flow magnitude: %w", err)
	}
	if err := norm.ConvertTo(dst, gocv.MatTypeCV8U); err != nil {
		return fmt.Errorf("failed to convert flow magnitude: %w", err)
	}
	return nil
}
