package export

import (
	"fmt"
	"io"
	"sort"

	json "github.com/goccy/go-json"

	"framelabel/internal/database/repository"
)

type cocoImage struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type cocoAnnotation struct {
	ID         int        `json:"id"`
	ImageID    int        `json:"image_id"`
	CategoryID int        `json:"category_id"`
	Bbox       [4]float64 `json:"bbox"` // x, y, width, height
	Area       float64    `json:"area"`
	Iscrowd    int        `json:"iscrowd"`
	Score      float64    `json:"score,omitempty"`
}

type cocoCategory struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type cocoDataset struct {
	Images      []cocoImage      `json:"images"`
	Annotations []cocoAnnotation `json:"annotations"`
	Categories  []cocoCategory   `json:"categories"`
}

// ClassIndex assigns stable 1-based COCO category ids. When labels is
// empty the classes found in the annotations are used, sorted.
func ClassIndex(labels []string, frames map[int][]repository.Box) map[string]int {
	names := labels
	if len(names) == 0 {
		seen := map[string]bool{}
		for _, boxes := range frames {
			for _, b := range boxes {
				seen[b.Class] = true
			}
		}
		for n := range seen {
			names = append(names, n)
		}
		sort.Strings(names)
	}
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i + 1
	}
	return idx
}

// WriteCOCO renders a COCO detection dataset for one video. Image ids
// are frame numbers; file names match the VOC/dataset frame naming.
func WriteCOCO(w io.Writer, frames map[int][]repository.Box, videoName string, width, height int, labels []string) error {
	nums := sortedFrames(frames)
	if len(nums) == 0 {
		return ErrNoAnnotations
	}
	classIDs := ClassIndex(labels, frames)

	ds := cocoDataset{
		Images:      []cocoImage{},
		Annotations: []cocoAnnotation{},
		Categories:  []cocoCategory{},
	}
	names := make([]string, 0, len(classIDs))
	for n := range classIDs {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return classIDs[names[i]] < classIDs[names[j]] })
	for _, n := range names {
		ds.Categories = append(ds.Categories, cocoCategory{ID: classIDs[n], Name: n})
	}

	annID := 1
	for _, frame := range nums {
		boxes := frames[frame]
		if len(boxes) == 0 {
			continue
		}
		ds.Images = append(ds.Images, cocoImage{
			ID:       frame,
			FileName: fmt.Sprintf("%s_frame_%d.jpg", videoName, frame),
			Width:    width,
			Height:   height,
		})
		for _, b := range boxes {
			id, ok := classIDs[b.Class]
			if !ok {
				// class removed from the project after annotation
				continue
			}
			bw := float64(b.Bbox[2] - b.Bbox[0])
			bh := float64(b.Bbox[3] - b.Bbox[1])
			ds.Annotations = append(ds.Annotations, cocoAnnotation{
				ID:         annID,
				ImageID:    frame,
				CategoryID: id,
				Bbox:       [4]float64{float64(b.Bbox[0]), float64(b.Bbox[1]), bw, bh},
				Area:       bw * bh,
				Score:      b.Conf,
			})
			annID++
		}
	}
	if len(ds.Images) == 0 {
		return ErrNoAnnotations
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ds)
}

func sortedFrames(frames map[int][]repository.Box) []int {
	nums := make([]int, 0, len(frames))
	for n := range frames {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}
