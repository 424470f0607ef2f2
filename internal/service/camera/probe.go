package camera

import (
	"fmt"

	"gocv.io/x/gocv"
)

// DeviceInfo describes a capture device found by Probe.
type DeviceInfo struct {
	Index   int     `json:"index"`
	Backend string  `json:"backend"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	FPS     float64 `json:"fps"`
}

// String formats the device for pickers and CLI output.
func (d DeviceInfo) String() string {
	return fmt.Sprintf("Index %d | backend %s | %dx%d @ %.0ffps", d.Index, d.Backend, d.Width, d.Height, d.FPS)
}

// Probe tries device indexes 0..maxIndex with the platform backends and
// returns every device that opens and delivers a frame.
func Probe(maxIndex int) []DeviceInfo {
	var found []DeviceInfo
	backends := PreferredBackends()

	for i := 0; i <= maxIndex; i++ {
		for _, api := range backends {
			if info, ok := probeOne(i, api); ok {
				found = append(found, info)
				break
			}
		}
	}
	return found
}

func probeOne(index int, api gocv.VideoCaptureAPI) (DeviceInfo, bool) {
	vc, err := gocv.OpenVideoCaptureWithAPI(index, api)
	if err != nil {
		return DeviceInfo{}, false
	}
	defer vc.Close()

	if !vc.IsOpened() {
		return DeviceInfo{}, false
	}

	frame := gocv.NewMat()
	defer frame.Close()
	if !vc.Read(&frame) || frame.Empty() {
		return DeviceInfo{}, false
	}

	return DeviceInfo{
		Index:   index,
		Backend: BackendName(api),
		Width:   int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:  int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:     vc.Get(gocv.VideoCaptureFPS),
	}, true
}
