package vision

import (
	"fmt"
	"image/color"

	"gocv.io/x/gocv"
)

// Farneback parameters shared by motion estimation and mask warping.
const (
	flowPyrScale   = 0.5
	flowLevels     = 2
	flowWinSize    = 15
	flowIterations = 2
	flowPolyN      = 5
	flowPolySigma  = 1.1
)

// DenseFlow computes per-pixel flow from prev to cur. Both inputs are
// single-channel 8-bit images of equal size; flow receives CV32FC2.
func DenseFlow(prev, cur gocv.Mat, flow *gocv.Mat) error {
	if prev.Rows() != cur.Rows() || prev.Cols() != cur.Cols() {
		return fmt.Errorf("flow between %dx%d and %dx%d frames", prev.Cols(), prev.Rows(), cur.Cols(), cur.Rows())
	}
	if err := gocv.CalcOpticalFlowFarneback(prev, cur, flow,
		flowPyrScale, flowLevels, flowWinSize, flowIterations, flowPolyN, flowPolySigma, 0); err != nil {
		return fmt.Errorf("failed to compute optical flow: %w", err)
	}
	return nil
}

// WarpMask moves mask along flow. Each output pixel (x,y) samples the input
// at (x-fx, y-fy) with nearest-neighbour lookup; samples outside the image
// become 0. flow must be CV32FC2 with the same size as mask.
func WarpMask(mask, flow gocv.Mat) (gocv.Mat, error) {
	rows, cols := mask.Rows(), mask.Cols()
	if flow.Empty() || flow.Rows() != rows || flow.Cols() != cols {
		return mask.Clone(), nil
	}

	vec, err := flow.DataPtrFloat32()
	if err != nil {
		return gocv.Mat{}, err
	}

	mapX := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)
	defer mapX.Close()
	mapY := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)
	defer mapY.Close()

	xs, err := mapX.DataPtrFloat32()
	if err != nil {
		return gocv.Mat{}, err
	}
	ys, err := mapY.DataPtrFloat32()
	if err != nil {
		return gocv.Mat{}, err
	}

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			i := y*cols + x
			xs[i] = float32(x) - vec[2*i]
			ys[i] = float32(y) - vec[2*i+1]
		}
	}

	warped := gocv.NewMat()
	if err := gocv.Remap(mask, &warped, &mapX, &mapY, gocv.InterpolationNearestNeighbor, gocv.BorderConstant, color.RGBA{}); err != nil {
		warped.Close()
		return gocv.Mat{}, fmt.Errorf("failed to remap mask: %w", err)
	}
	return warped, nil
}
