package camera

import (
	"runtime"
	"strings"

	"gocv.io/x/gocv"
)

var backendNames = map[string]gocv.VideoCaptureAPI{
	"any":          gocv.VideoCaptureAny,
	"v4l2":         gocv.VideoCaptureV4L2,
	"dshow":        gocv.VideoCaptureDshow,
	"msmf":         gocv.VideoCaptureMSMF,
	"avfoundation": gocv.VideoCaptureAVFoundation,
	"ffmpeg":       gocv.VideoCaptureFFmpeg,
	"gstreamer":    gocv.VideoCaptureGstreamer,
}

// PreferredBackends returns the platform capture APIs to try, generic last.
func PreferredBackends() []gocv.VideoCaptureAPI {
	return backendsFor(runtime.GOOS)
}

func backendsFor(goos string) []gocv.VideoCaptureAPI {
	switch goos {
	case "windows":
		return []gocv.VideoCaptureAPI{gocv.VideoCaptureMSMF, gocv.VideoCaptureDshow, gocv.VideoCaptureAny}
	case "darwin":
		return []gocv.VideoCaptureAPI{gocv.VideoCaptureAVFoundation, gocv.VideoCaptureAny}
	default:
		return []gocv.VideoCaptureAPI{gocv.VideoCaptureV4L2, gocv.VideoCaptureAny}
	}
}

// ParseBackends turns a comma separated list ("v4l2,any") into capture APIs.
// Unknown names are skipped; an empty result means platform defaults.
func ParseBackends(list string) []gocv.VideoCaptureAPI {
	var apis []gocv.VideoCaptureAPI
	for _, name := range strings.Split(list, ",") {
		if api, ok := backendNames[strings.ToLower(strings.TrimSpace(name))]; ok {
			apis = append(apis, api)
		}
	}
	return apis
}

// BackendName is the inverse of ParseBackends for logs and probe output.
func BackendName(api gocv.VideoCaptureAPI) string {
	for name, v := range backendNames {
		if v == api {
			return name
		}
	}
	return "unknown"
}
