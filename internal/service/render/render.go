package render

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
)

// Effect names accepted by Compose. Unknown names fall back to EffectTrace.
const (
	EffectGlow    = "glow"
	EffectDensity = "density"
	EffectTrace   = "trace"
)

var (
	outlineColor = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	traceColor   = gocv.NewScalar(0, 255, 255, 0) // BGR yellow
	countColor   = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	shadowColor  = color.RGBA{R: 0, G: 0, B: 0, A: 0}
	recColor     = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

// NormalizeEffect maps effect aliases to their canonical name.
func NormalizeEffect(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "glow":
		return EffectGlow
	case "density", "density-heatmap", "heatmap":
		return EffectDensity
	default:
		return EffectTrace
	}
}

// Renderer composites effects at a fixed output resolution.
type Renderer struct {
	width  int
	height int
	dilate gocv.Mat
}

// NewRenderer creates a renderer producing width x height frames.
func NewRenderer(width, height int) *Renderer {
	return &Renderer{
		width:  width,
		height: height,
		dilate: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(9, 9)),
	}
}

// Close releases the renderer's kernels.
func (r *Renderer) Close() {
	r.dilate.Close()
}

// Size returns the output resolution.
func (r *Renderer) Size() (int, int) {
	return r.width, r.height
}

// Compose resizes frame and mask to the output resolution, applies the
// named effect scaled by intensity and outlines the tracked region. The
// returned Mat is owned by the caller.
func (r *Renderer) Compose(frame, mask gocv.Mat, effect string, intensity float64) (gocv.Mat, error) {
	sized := gocv.NewMat()
	defer sized.Close()
	if err := r.resize(frame, &sized, gocv.InterpolationLinear); err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to resize frame: %w", err)
	}

	var m gocv.Mat
	if mask.Empty() {
		m = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), r.height, r.width, gocv.MatTypeCV8UC1)
	} else {
		m = gocv.NewMat()
		if err := r.resize(mask, &m, gocv.InterpolationNearestNeighbor); err != nil {
			m.Close()
			return gocv.Mat{}, fmt.Errorf("failed to resize mask: %w", err)
		}
	}
	defer m.Close()

	if intensity < 0 {
		intensity = 0
	}

	out := gocv.NewMat()
	var err error
	switch NormalizeEffect(effect) {
	case EffectGlow:
		err = r.glow(sized, m, intensity, &out)
	case EffectDensity:
		err = density(sized, m, intensity, &out)
	default:
		err = trace(sized, m, &out)
	}
	if err == nil {
		err = outline(&out, m)
	}
	if err != nil {
		out.Close()
		return gocv.Mat{}, err
	}
	return out, nil
}

// Countdown draws a large centered number on frame.
func (r *Renderer) Countdown(frame *gocv.Mat, remaining int) error {
	text := strconv.Itoa(remaining)
	scale := float64(r.height) / 120
	thickness := int(scale * 3)
	if thickness < 2 {
		thickness = 2
	}

	size := gocv.GetTextSize(text, gocv.FontHersheyDuplex, scale, thickness)
	org := image.Pt((frame.Cols()-size.X)/2, (frame.Rows()+size.Y)/2)

	if err := gocv.PutText(frame, text, org.Add(image.Pt(3, 3)), gocv.FontHersheyDuplex, scale, shadowColor, thickness+2); err != nil {
		return fmt.Errorf("failed to draw countdown shadow: %w", err)
	}
	if err := gocv.PutText(frame, text, org, gocv.FontHersheyDuplex, scale, countColor, thickness); err != nil {
		return fmt.Errorf("failed to draw countdown: %w", err)
	}
	return nil
}

// RecordingBadge marks frame as being recorded in the top-left corner.
func (r *Renderer) RecordingBadge(frame *gocv.Mat) error {
	if err := gocv.Circle(frame, image.Pt(24, 24), 10, recColor, -1); err != nil {
		return fmt.Errorf("failed to draw recording badge: %w", err)
	}
	if err := gocv.PutText(frame, "REC", image.Pt(42, 32), gocv.FontHersheySimplex, 0.8, recColor, 2); err != nil {
		return fmt.Errorf("failed to draw recording badge: %w", err)
	}
	return nil
}

func (r *Renderer) resize(src gocv.Mat, dst *gocv.Mat, interp gocv.InterpolationFlags) error {
	if src.Cols() == r.width && src.Rows() == r.height {
		return src.CopyTo(dst)
	}
	return gocv.Resize(src, dst, image.Pt(r.width, r.height), 0, 0, interp)
}

// glow dilates and blurs the mask, colors it and adds it to the frame.
func (r *Renderer) glow(frame, mask gocv.Mat, intensity float64, dst *gocv.Mat) error {
	dil := gocv.NewMat()
	defer dil.Close()
	if err := gocv.Dilate(mask, &dil, r.dilate); err != nil {
		return fmt.Errorf("failed to dilate mask: %w", err)
	}

	blur := gocv.NewMat()
	defer blur.Close()
	if err := gocv.GaussianBlur(dil, &blur, image.Pt(21, 21), 0, 0, gocv.BorderDefault); err != nil {
		return fmt.Errorf("failed to blur mask: %w", err)
	}

	colored := gocv.NewMat()
	defer colored.Close()
	if err := gocv.ApplyColorMap(blur, &colored, gocv.ColormapAutumn); err != nil {
		return fmt.Errorf("failed to color glow: %w", err)
	}

	if err := gocv.AddWeighted(frame, 1.0, colored, 0.6*intensity, 0, dst); err != nil {
		return fmt.Errorf("failed to blend glow: %w", err)
	}
	return nil
}

// density blends a heat colormap of the raw mask.
func density(frame, mask gocv.Mat, intensity float64, dst *gocv.Mat) error {
	heat := gocv.NewMat()
	defer heat.Close()
	if err := gocv.ApplyColorMap(mask, &heat, gocv.ColormapJet); err != nil {
		return fmt.Errorf("failed to color density: %w", err)
	}

	if err := gocv.AddWeighted(frame, 0.6, heat, 0.7*intensity, 0, dst); err != nil {
		return fmt.Errorf("failed to blend density: %w", err)
	}
	return nil
}

// trace paints the mask edges in yellow.
func trace(frame, mask gocv.Mat, dst *gocv.Mat) error {
	if err := frame.CopyTo(dst); err != nil {
		return fmt.Errorf("failed to copy frame: %w", err)
	}

	edges := gocv.NewMat()
	defer edges.Close()
	if err := gocv.Canny(mask, &edges, 50, 150); err != nil {
		return fmt.Errorf("failed to find mask edges: %w", err)
	}

	paint := gocv.NewMatWithSizeFromScalar(traceColor, frame.Rows(), frame.Cols(), frame.Type())
	defer paint.Close()
	if err := paint.CopyToWithMask(dst, edges); err != nil {
		return fmt.Errorf("failed to paint edges: %w", err)
	}
	return nil
}

// outline draws the external contour of mask in white.
func outline(dst *gocv.Mat, mask gocv.Mat) error {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return nil
	}
	if err := gocv.DrawContours(dst, contours, -1, outlineColor, 2); err != nil {
		return fmt.Errorf("failed to draw outline: %w", err)
	}
	return nil
}
