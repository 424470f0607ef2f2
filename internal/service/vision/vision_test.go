package vision

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"
)

const (
	testW = 64
	testH = 48
)

// ========================================
// Helpers
// ========================================

func blankFrame(v float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), testH, testW, gocv.MatTypeCV8UC3)
}

func blankMask() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), testH, testW, gocv.MatTypeCV8UC1)
}

func squareMask(r image.Rectangle) gocv.Mat {
	m := blankMask()
	gocv.Rectangle(&m, r, color.RGBA{R: 255, G: 255, B: 255}, -1)
	return m
}

// detection builds a Detection with a zero confidence map and zero flow.
func detection(mask gocv.Mat) Detection {
	return Detection{
		Mask:       mask,
		Confidence: gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), testH, testW, gocv.MatTypeCV32F),
		Motion:     blankMask(),
		Flow:       gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), testH, testW, gocv.MatTypeCV32FC2),
	}
}

func fuseOnce(t *testing.T, f *Fuser, frame gocv.Mat, mask gocv.Mat) int {
	t.Helper()
	det := detection(mask)
	defer det.Close()

	out, err := f.Fuse(frame, det)
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	defer out.Close()

	if out.Rows() != testH || out.Cols() != testW {
		t.Fatalf("Expected %dx%d fused mask, got %dx%d", testW, testH, out.Cols(), out.Rows())
	}
	return gocv.CountNonZero(out)
}

func track(t *testing.T, tr *Tracker, mask gocv.Mat) gocv.Mat {
	t.Helper()
	out, err := tr.Update(mask)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	return out
}

// ========================================
// Segmenter
// ========================================

func TestSegmenter_FirstCallHasNoMotion(t *testing.T) {
	s := NewSegmenter(DefaultHistory, DefaultVarThreshold)
	defer s.Close()

	frame := blankFrame(80)
	defer frame.Close()

	det, err := s.Apply(frame)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	defer det.Close()

	if n := gocv.CountNonZero(det.Motion); n != 0 {
		t.Errorf("Expected no motion on first call, got %d pixels", n)
	}
	if !det.Flow.Empty() {
		t.Error("Expected empty flow on first call")
	}
	if det.Mask.Rows() != testH || det.Mask.Cols() != testW {
		t.Errorf("Mask size mismatch: %dx%d", det.Mask.Cols(), det.Mask.Rows())
	}
	if det.Mask.Type() != gocv.MatTypeCV8UC1 {
		t.Errorf("Expected CV8UC1 mask, got %v", det.Mask.Type())
	}
}

func TestSegmenter_ConfidenceInUnitRange(t *testing.T) {
	s := NewSegmenter(DefaultHistory, DefaultVarThreshold)
	defer s.Close()

	for i := 0; i < 5; i++ {
		frame := blankFrame(30)
		if i == 4 {
			gocv.Rectangle(&frame, image.Rect(10, 10, 40, 40), color.RGBA{R: 250, G: 250, B: 250}, -1)
		}
		det, err := s.Apply(frame)
		frame.Close()
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}

		minVal, maxVal, _, _ := gocv.MinMaxLoc(det.Confidence)
		if minVal < 0 || maxVal > 1.0001 {
			t.Errorf("Frame %d: confidence outside [0,1]: min=%v max=%v", i, minVal, maxVal)
		}
		if i > 0 && det.Flow.Type() != gocv.MatTypeCV32FC2 {
			t.Errorf("Frame %d: expected CV32FC2 flow", i)
		}
		det.Close()
	}
}

func TestSegmenter_RejectsEmptyFrame(t *testing.T) {
	s := NewSegmenter(DefaultHistory, DefaultVarThreshold)
	defer s.Close()

	empty := gocv.NewMat()
	defer empty.Close()
	if _, err := s.Apply(empty); err == nil {
		t.Error("Expected error for empty frame")
	}
}

func TestSegmenter_ResolutionChangeRestartsMotion(t *testing.T) {
	s := NewSegmenter(DefaultHistory, DefaultVarThreshold)
	defer s.Close()

	first := blankFrame(40)
	defer first.Close()
	det, err := s.Apply(first)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	det.Close()

	smaller := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), testH/2, testW/2, gocv.MatTypeCV8UC3)
	defer smaller.Close()
	det, err = s.Apply(smaller)
	if err != nil {
		t.Fatalf("Apply after resolution change failed: %v", err)
	}
	defer det.Close()

	if det.Mask.Cols() != testW/2 || det.Mask.Rows() != testH/2 {
		t.Errorf("Expected %dx%d mask, got %dx%d", testW/2, testH/2, det.Mask.Cols(), det.Mask.Rows())
	}
	if !det.Flow.Empty() || gocv.CountNonZero(det.Motion) != 0 {
		t.Error("Expected motion to restart after a resolution change")
	}
}

func TestDenseFlow_RejectsSizeMismatch(t *testing.T) {
	a := blankMask()
	defer a.Close()
	b := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), testH/2, testW/2, gocv.MatTypeCV8UC1)
	defer b.Close()
	flow := gocv.NewMat()
	defer flow.Close()

	if err := DenseFlow(a, b, &flow); err == nil {
		t.Error("Expected error for frames of different sizes")
	}
}

func TestFlowMagnitude_RejectsSingleChannel(t *testing.T) {
	notFlow := blankMask()
	defer notFlow.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	if err := flowMagnitude(notFlow, &dst); err == nil {
		t.Error("Expected error for a single-channel flow field")
	}
}

func TestVarThresholdFor(t *testing.T) {
	tests := []struct {
		sensitivity float64
		want        float64
	}{
		{0, 32},
		{0.5, 16},
		{1, 4},
		{0.95, 4},
		{-1, 32},
	}
	for _, tt := range tests {
		if got := VarThresholdFor(tt.sensitivity); got != tt.want {
			t.Errorf("VarThresholdFor(%v) = %v, want %v", tt.sensitivity, got, tt.want)
		}
	}
}

// ========================================
// Warp
// ========================================

func TestWarpMask_ShiftsAlongFlow(t *testing.T) {
	mask := squareMask(image.Rect(10, 10, 20, 20))
	defer mask.Close()

	// Uniform flow of +5 px in x.
	flow := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(5, 0, 0, 0), testH, testW, gocv.MatTypeCV32FC2)
	defer flow.Close()

	warped, err := WarpMask(mask, flow)
	if err != nil {
		t.Fatalf("WarpMask failed: %v", err)
	}
	defer warped.Close()

	if v := warped.GetUCharAt(15, 22); v != 255 {
		t.Errorf("Expected shifted pixel at x=22 to be set, got %d", v)
	}
	if v := warped.GetUCharAt(15, 12); v != 0 {
		t.Errorf("Expected vacated pixel at x=12 to be clear, got %d", v)
	}
}

func TestWarpMask_ZeroFillOutsideBounds(t *testing.T) {
	mask := squareMask(image.Rect(0, 0, testW, testH))
	defer mask.Close()

	flow := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 0, 0, 0), testH, testW, gocv.MatTypeCV32FC2)
	defer flow.Close()

	warped, err := WarpMask(mask, flow)
	if err != nil {
		t.Fatalf("WarpMask failed: %v", err)
	}
	defer warped.Close()

	if v := warped.GetUCharAt(5, 3); v != 0 {
		t.Errorf("Expected zero fill at left edge, got %d", v)
	}
	if v := warped.GetUCharAt(5, 30); v != 255 {
		t.Errorf("Expected interior pixel set, got %d", v)
	}
}

// ========================================
// Fuser
// ========================================

func TestFuser_PersistsExactlyNFrames(t *testing.T) {
	for _, n := range []int{1, 3, 10} {
		f := NewFuser(FuserOptions{SegWeight: 0.6, MotionWeight: 0.4, OnThreshold: 0.4, OffThreshold: 0.2, PersistenceFrames: n})

		frame := blankFrame(50)
		if got := fuseOnce(t, f, frame, squareMask(image.Rect(10, 10, 40, 40))); got == 0 {
			t.Fatalf("N=%d: expected initial detection to pass", n)
		}

		for i := 1; i <= n; i++ {
			if got := fuseOnce(t, f, frame, blankMask()); got == 0 {
				t.Errorf("N=%d: mask cleared early at empty frame %d", n, i)
			}
		}
		if got := fuseOnce(t, f, frame, blankMask()); got != 0 {
			t.Errorf("N=%d: expected empty mask after %d empty frames, got %d pixels", n, n+1, got)
		}

		frame.Close()
		f.Close()
	}
}

func TestFuser_CounterResetsOnDetection(t *testing.T) {
	f := NewFuser(FuserOptions{SegWeight: 0.6, MotionWeight: 0.4, OnThreshold: 0.4, OffThreshold: 0.2, PersistenceFrames: 2})
	defer f.Close()
	frame := blankFrame(50)
	defer frame.Close()

	fuseOnce(t, f, frame, squareMask(image.Rect(10, 10, 40, 40)))
	fuseOnce(t, f, frame, blankMask())
	if f.Misses() != 1 {
		t.Fatalf("Expected 1 miss, got %d", f.Misses())
	}

	fuseOnce(t, f, frame, squareMask(image.Rect(10, 10, 40, 40)))
	if f.Misses() != 0 {
		t.Errorf("Expected counter reset after detection, got %d", f.Misses())
	}
}

func TestFuser_Hysteresis(t *testing.T) {
	// Seg weight 0.5 maps a full mask to score 0.5: above off (0.2),
	// below on (0.6).
	opts := FuserOptions{SegWeight: 0.5, MotionWeight: 0, OnThreshold: 0.6, OffThreshold: 0.2, PersistenceFrames: 0}
	region := image.Rect(5, 5, 45, 40)

	cold := NewFuser(opts)
	defer cold.Close()
	frame := blankFrame(50)
	defer frame.Close()

	if got := fuseOnce(t, cold, frame, squareMask(region)); got != 0 {
		t.Errorf("Expected cold start to require the on threshold, got %d pixels", got)
	}
	if got := fuseOnce(t, cold, frame, squareMask(region)); got == 0 {
		t.Error("Expected the off threshold to apply once a prior mask exists")
	}
}

func TestFuser_ThresholdIsInclusive(t *testing.T) {
	// Score equals the on threshold everywhere.
	f := NewFuser(FuserOptions{SegWeight: 0, MotionWeight: 1, OnThreshold: 0.25, OffThreshold: 0.1, PersistenceFrames: 0})
	defer f.Close()
	frame := blankFrame(50)
	defer frame.Close()

	det := Detection{
		Mask:       blankMask(),
		Confidence: gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0.25, 0, 0, 0), testH, testW, gocv.MatTypeCV32F),
		Motion:     blankMask(),
		Flow:       gocv.NewMat(),
	}
	defer det.Close()

	out, err := f.Fuse(frame, det)
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	defer out.Close()
	if got := gocv.CountNonZero(out); got != testW*testH {
		t.Errorf("Expected every pixel at the threshold to be on, got %d", got)
	}
}

func TestFuser_ResolutionChangeDropsHistory(t *testing.T) {
	f := NewFuser(DefaultFuserOptions())
	defer f.Close()
	frame := blankFrame(50)
	defer frame.Close()
	fuseOnce(t, f, frame, squareMask(image.Rect(10, 10, 40, 40)))

	small := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(50, 50, 50, 0), testH/2, testW/2, gocv.MatTypeCV8UC3)
	defer small.Close()
	det := Detection{
		Mask:       gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), testH/2, testW/2, gocv.MatTypeCV8UC1),
		Confidence: gocv.NewMat(),
		Motion:     gocv.NewMat(),
		Flow:       gocv.NewMat(),
	}
	defer det.Close()

	out, err := f.Fuse(small, det)
	if err != nil {
		t.Fatalf("Fuse after resolution change failed: %v", err)
	}
	defer out.Close()
	if gocv.CountNonZero(out) != 0 || f.Misses() != 0 {
		t.Errorf("Expected a cold start at the new size, got %d pixels, %d misses", gocv.CountNonZero(out), f.Misses())
	}
}

func TestFuser_WeakDetectionWithoutHistoryStaysEmpty(t *testing.T) {
	f := NewFuser(DefaultFuserOptions())
	defer f.Close()
	frame := blankFrame(50)
	defer frame.Close()

	if got := fuseOnce(t, f, frame, blankMask()); got != 0 {
		t.Errorf("Expected empty mask on cold start, got %d", got)
	}
	if f.Misses() != 0 {
		t.Errorf("Expected no miss accounting without a prior mask, got %d", f.Misses())
	}
}

// ========================================
// Tracker
// ========================================

func TestTracker_KeepsLargestRegion(t *testing.T) {
	tr := NewTracker(3)
	defer tr.Close()

	mask := squareMask(image.Rect(2, 2, 8, 8))
	gocv.Rectangle(&mask, image.Rect(20, 10, 50, 40), color.RGBA{R: 255, G: 255, B: 255}, -1)
	defer mask.Close()

	out := track(t, tr, mask)
	defer out.Close()

	if v := out.GetUCharAt(25, 35); v != 255 {
		t.Errorf("Expected large region kept, got %d", v)
	}
	if v := out.GetUCharAt(4, 4); v != 0 {
		t.Errorf("Expected small region discarded, got %d", v)
	}
}

func TestTracker_FillsRegion(t *testing.T) {
	tr := NewTracker(3)
	defer tr.Close()

	ring := squareMask(image.Rect(10, 10, 40, 40))
	gocv.Rectangle(&ring, image.Rect(18, 18, 32, 32), color.RGBA{}, -1)
	defer ring.Close()

	out := track(t, tr, ring)
	defer out.Close()
	if v := out.GetUCharAt(25, 25); v != 255 {
		t.Errorf("Expected hole to be filled, got %d", v)
	}
}

func TestTracker_ClearsAfterNMisses(t *testing.T) {
	const n = 4
	tr := NewTracker(n)
	defer tr.Close()

	mask := squareMask(image.Rect(10, 10, 40, 40))
	defer mask.Close()
	empty := blankMask()
	defer empty.Close()

	out := track(t, tr, mask)
	out.Close()

	for i := 1; i <= n; i++ {
		out := track(t, tr, empty)
		if gocv.CountNonZero(out) == 0 {
			t.Errorf("Region dropped early at miss %d", i)
		}
		out.Close()
	}

	out = track(t, tr, empty)
	defer out.Close()
	if gocv.CountNonZero(out) != 0 {
		t.Errorf("Expected region cleared after %d misses", n)
	}
	if tr.Tracking() {
		t.Error("Expected tracker to report nothing tracked")
	}
}
