package export

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"

	"framelabel/internal/database/repository"
)

// ErrNoAnnotations means there is nothing to export.
var ErrNoAnnotations = errors.New("no annotations to export")

type vocSource struct {
	Database string `xml:"database"`
}

type vocSize struct {
	Width  int `xml:"width"`
	Height int `xml:"height"`
	Depth  int `xml:"depth"`
}

type vocBndbox struct {
	Xmin int `xml:"xmin"`
	Ymin int `xml:"ymin"`
	Xmax int `xml:"xmax"`
	Ymax int `xml:"ymax"`
}

type vocObject struct {
	Name      string    `xml:"name"`
	Pose      string    `xml:"pose"`
	Truncated int       `xml:"truncated"`
	Difficult int       `xml:"difficult"`
	Bndbox    vocBndbox `xml:"bndbox"`
}

type vocAnnotation struct {
	XMLName   xml.Name    `xml:"annotation"`
	Folder    string      `xml:"folder"`
	Filename  string      `xml:"filename"`
	Source    vocSource   `xml:"source"`
	Size      vocSize     `xml:"size"`
	Segmented int         `xml:"segmented"`
	Objects   []vocObject `xml:"object"`
}

// GenerateVOC renders one Pascal VOC document per annotated frame.
// Frames with no boxes are skipped.
func GenerateVOC(frames map[int][]repository.Box, videoName string, width, height, depth int) (map[int][]byte, error) {
	out := make(map[int][]byte)
	for frame, boxes := range frames {
		if len(boxes) == 0 {
			continue
		}
		doc := vocAnnotation{
			Folder:   "frames",
			Filename: fmt.Sprintf("%s_frame_%d.jpg", videoName, frame),
			Source:   vocSource{Database: "Custom Video Annotation"},
			Size:     vocSize{Width: width, Height: height, Depth: depth},
		}
		for _, b := range boxes {
			doc.Objects = append(doc.Objects, vocObject{
				Name: b.Class,
				Pose: "Unspecified",
				Bndbox: vocBndbox{
					Xmin: b.Bbox[0],
					Ymin: b.Bbox[1],
					Xmax: b.Bbox[2],
					Ymax: b.Bbox[3],
				},
			})
		}
		data, err := xml.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		out[frame] = append(data, '\n')
	}
	return out, nil
}

// WriteVOCZip writes a zip of per-frame VOC XML files named
// <video>_frame_<n>.xml, in frame order.
func WriteVOCZip(w io.Writer, frames map[int][]repository.Box, videoName string, width, height, depth int) error {
	docs, err := GenerateVOC(frames, videoName, width, height, depth)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return ErrNoAnnotations
	}
	nums := make([]int, 0, len(docs))
	for n := range docs {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	zw := zip.NewWriter(w)
	for _, n := range nums {
		f, err := zw.Create(fmt.Sprintf("%s_frame_%d.xml", videoName, n))
		if err != nil {
			return err
		}
		if _, err := f.Write(docs[n]); err != nil {
			return err
		}
	}
	return zw.Close()
}
