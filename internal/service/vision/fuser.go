package vision

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// MinForegroundPixels is the pixel count below which a fused detection is
// treated as weak and the previous mask is carried forward.
const MinForegroundPixels = 200

// FuserOptions holds the fusion weights and hysteresis thresholds.
type FuserOptions struct {
	SegWeight         float64
	MotionWeight      float64
	OnThreshold       float64
	OffThreshold      float64
	PersistenceFrames int
}

// DefaultFuserOptions returns the stock fusion parameters.
func DefaultFuserOptions() FuserOptions {
	return FuserOptions{
		SegWeight:         0.6,
		MotionWeight:      0.4,
		OnThreshold:       0.4,
		OffThreshold:      0.2,
		PersistenceFrames: 10,
	}
}

// Fuser stabilizes per-frame masks over time. It is not safe for concurrent
// use; one Fuser belongs to one camera pipeline.
type Fuser struct {
	opts FuserOptions

	prevMask gocv.Mat
	prevGray gocv.Mat
	hasPrev  bool
	misses   int

	open  gocv.Mat
	close gocv.Mat
}

// NewFuser creates a fuser with empty state.
func NewFuser(opts FuserOptions) *Fuser {
	return &Fuser{
		opts:     opts,
		prevMask: gocv.NewMat(),
		prevGray: gocv.NewMat(),
		open:     gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
		close:    gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5)),
	}
}

// Close releases the fusion state.
func (f *Fuser) Close() {
	f.prevMask.Close()
	f.prevGray.Close()
	f.open.Close()
	f.close.Close()
}

// Misses reports the current consecutive weak-detection count.
func (f *Fuser) Misses() int {
	return f.misses
}

// Fuse combines det with the previous fused mask and returns a new CV8UC1
// 0/255 mask owned by the caller. det is not modified.
func (f *Fuser) Fuse(frame gocv.Mat, det Detection) (gocv.Mat, error) {
	if det.Mask.Empty() {
		return gocv.Mat{}, fmt.Errorf("empty detection mask")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray); err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to convert frame to grayscale: %w", err)
	}

	// History from a different resolution cannot be warped onto this frame.
	if f.hasPrev && (f.prevMask.Rows() != det.Mask.Rows() || f.prevMask.Cols() != det.Mask.Cols()) {
		f.reset()
	}

	fused := gocv.NewMat()
	if err := f.fuse(&fused, gray, det); err != nil {
		fused.Close()
		return gocv.Mat{}, err
	}

	if err := fused.CopyTo(&f.prevMask); err != nil {
		fused.Close()
		return gocv.Mat{}, fmt.Errorf("failed to store fused mask: %w", err)
	}
	if err := gray.CopyTo(&f.prevGray); err != nil {
		fused.Close()
		return gocv.Mat{}, fmt.Errorf("failed to store previous frame: %w", err)
	}
	f.hasPrev = true

	return fused, nil
}

func (f *Fuser) fuse(fused *gocv.Mat, gray gocv.Mat, det Detection) error {
	score := gocv.NewMat()
	defer score.Close()
	if err := f.score(det, &score); err != nil {
		return err
	}

	threshold := f.opts.OnThreshold
	if f.hasPrev {
		threshold = f.opts.OffThreshold
	}

	// score >= threshold, as 0/255 CV8UC1
	lower := gocv.NewScalar(threshold, 0, 0, 0)
	upper := gocv.NewScalar(math.MaxFloat32, 0, 0, 0)
	if err := gocv.InRangeWithScalar(score, lower, upper, fused); err != nil {
		return fmt.Errorf("failed to binarize fused score: %w", err)
	}

	weak := gocv.CountNonZero(*fused) < MinForegroundPixels
	switch {
	case weak && f.hasPrev && f.misses < f.opts.PersistenceFrames:
		if err := f.carryForward(fused, gray, det.Flow); err != nil {
			return err
		}
		f.misses++
	case !weak:
		f.misses = 0
	}

	if err := gocv.MorphologyEx(*fused, fused, gocv.MorphClose, f.close); err != nil {
		return fmt.Errorf("failed to close fused mask: %w", err)
	}
	if err := gocv.MorphologyEx(*fused, fused, gocv.MorphOpen, f.open); err != nil {
		return fmt.Errorf("failed to open fused mask: %w", err)
	}
	return nil
}

// reset drops the fusion history.
func (f *Fuser) reset() {
	f.prevMask.Close()
	f.prevMask = gocv.NewMat()
	f.prevGray.Close()
	f.prevGray = gocv.NewMat()
	f.hasPrev = false
	f.misses = 0
}

// score writes seg*mask/255 + motion*confidence as CV32FC1.
func (f *Fuser) score(det Detection, dst *gocv.Mat) error {
	if err := det.Mask.ConvertToWithParams(dst, gocv.MatTypeCV32F, float32(f.opts.SegWeight/255.0), 0); err != nil {
		return fmt.Errorf("failed to scale mask: %w", err)
	}
	if det.Confidence.Empty() {
		return nil
	}

	conf := gocv.NewMat()
	defer conf.Close()
	if err := det.Confidence.ConvertToWithParams(&conf, gocv.MatTypeCV32F, float32(f.opts.MotionWeight), 0); err != nil {
		return fmt.Errorf("failed to scale confidence: %w", err)
	}
	if err := gocv.Add(*dst, conf, dst); err != nil {
		return fmt.Errorf("failed to add confidence: %w", err)
	}
	return nil
}

// carryForward ORs the motion-compensated previous mask into fused.
func (f *Fuser) carryForward(fused *gocv.Mat, gray, flow gocv.Mat) error {
	field := flow
	if field.Empty() {
		own := gocv.NewMat()
		defer own.Close()
		if err := DenseFlow(f.prevGray, gray, &own); err != nil {
			return err
		}
		field = own
	}

	warped, err := WarpMask(f.prevMask, field)
	if err != nil {
		return fmt.Errorf("failed to warp previous mask: %w", err)
	}
	defer warped.Close()

	if err := gocv.BitwiseOr(*fused, warped, fused); err != nil {
		return fmt.Errorf("failed to merge previous mask: %w", err)
	}
	return nil
}
