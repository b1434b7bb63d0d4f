package detect

import (
	"context"
	"image"
	"sort"
)

// Detection is one detected object in source-frame pixel coordinates.
// Box is x1,y1,x2,y2.
type Detection struct {
	Class string  `json:"class"`
	Box   [4]int  `json:"bbox"`
	Conf  float64 `json:"conf"`
}

// Detector runs object detection on single frames.
type Detector interface {
	DetectFrame(ctx context.Context, img image.Image) ([]Detection, error)
	Close() error
}

// IoU computes intersection over union of two x1,y1,x2,y2 boxes.
func IoU(a, b [4]int) float64 {
	ix1 := max(a[0], b[0])
	iy1 := max(a[1], b[1])
	ix2 := min(a[2], b[2])
	iy2 := min(a[3], b[3])
	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	areaA := float64((a[2] - a[0]) * (a[3] - a[1]))
	areaB := float64((b[2] - b[0]) * (b[3] - b[1]))
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NMS suppresses overlapping detections of the same class, keeping the
// highest-confidence box of each overlapping group.
func NMS(dets []Detection, iouThreshold float64) []Detection {
	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Conf > sorted[j].Conf })

	var kept []Detection
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].Class != sorted[i].Class {
				continue
			}
			if IoU(sorted[i].Box, sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
