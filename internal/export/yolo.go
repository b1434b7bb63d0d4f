package export

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"

	"framelabel/internal/database/repository"
)

// YOLOLines renders one frame's boxes in YOLO txt format: class index and
// normalized center-x, center-y, width, height.
func YOLOLines(boxes []repository.Box, classIDs map[string]int, imgW, imgH int) string {
	var sb strings.Builder
	for _, b := range boxes {
		id, ok := classIDs[b.Class]
		if !ok {
			continue
		}
		cx := (float64(b.Bbox[0]) + float64(b.Bbox[2])) / 2 / float64(imgW)
		cy := (float64(b.Bbox[1]) + float64(b.Bbox[3])) / 2 / float64(imgH)
		w := float64(b.Bbox[2]-b.Bbox[0]) / float64(imgW)
		h := float64(b.Bbox[3]-b.Bbox[1]) / float64(imgH)
		// YOLO class ids are 0-based; ClassIndex is 1-based for COCO
		fmt.Fprintf(&sb, "%d %.6f %.6f %.6f %.6f\n", id-1, cx, cy, w, h)
	}
	return sb.String()
}

// WriteYOLOZip writes a zip with one label file per annotated frame plus
// classes.txt listing class names in id order.
func WriteYOLOZip(w io.Writer, frames map[int][]repository.Box, videoName string, imgW, imgH int, labels []string) error {
	nums := sortedFrames(frames)
	classIDs := ClassIndex(labels, frames)

	wrote := false
	zw := zip.NewWriter(w)
	for _, n := range nums {
		boxes := frames[n]
		if len(boxes) == 0 {
			continue
		}
		f, err := zw.Create(fmt.Sprintf("%s_frame_%d.txt", videoName, n))
		if err != nil {
			return err
		}
		if _, err := io.WriteString(f, YOLOLines(boxes, classIDs, imgW, imgH)); err != nil {
			return err
		}
		wrote = true
	}
	if !wrote {
		return ErrNoAnnotations
	}

	names := make([]string, len(classIDs))
	for n, id := range classIDs {
		names[id-1] = n
	}
	f, err := zw.Create("classes.txt")
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, strings.Join(names, "\n")+"\n"); err != nil {
		return err
	}
	return zw.Close()
}
