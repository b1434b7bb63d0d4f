package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"framelabel/internal/database/repository"
	"framelabel/internal/detect"
	"framelabel/internal/events"
	"framelabel/internal/video"
)

// ErrNoDetector means detection was requested without a configured model.
var ErrNoDetector = errors.New("no detector configured")

// DetectionService runs object detection over stored videos and can feed
// the results back into the annotation store.
type DetectionService struct {
	Detector    detect.Detector
	Library     *LibraryService
	Annotations *AnnotationService
	Labels      *repository.LabelRepo
	Events      events.Publisher
	MinConf     float64
}

// SweepResult holds per-frame detections and counts of one video sweep.
type SweepResult struct {
	Frames map[int][]repository.Box
	Counts map[int]int
}

// DetectFrame runs the detector on a single frame of a stored video.
func (s *DetectionService) DetectFrame(ctx context.Context, userID, projectID, videoName string, frameNum int) ([]detect.Detection, error) {
	if s.Detector == nil {
		return nil, ErrNoDetector
	}
	path, err := s.Library.VideoPath(userID, projectID, videoName)
	if err != nil {
		return nil, err
	}
	img, err := video.DecodeFrame(ctx, path, frameNum)
	if err != nil {
		return nil, err
	}
	dets, err := s.Detector.DetectFrame(ctx, img)
	if err != nil {
		return nil, err
	}
	return s.filter(dets), nil
}

// DetectVideo sweeps every stride-th frame of a video. When save is set,
// each swept frame's detections replace its stored annotations.
func (s *DetectionService) DetectVideo(ctx context.Context, userID, projectID, videoName string, stride int, save bool) (SweepResult, error) {
	if s.Detector == nil {
		return SweepResult{}, ErrNoDetector
	}
	path, err := s.Library.VideoPath(userID, projectID, videoName)
	if err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{
		Frames: make(map[int][]repository.Box),
		Counts: make(map[int]int),
	}
	err = video.Walk(ctx, path, stride, func(f video.Frame) error {
		dets, err := s.Detector.DetectFrame(ctx, f.Image)
		if err != nil {
			return err
		}
		dets = s.filter(dets)
		boxes := toBoxes(dets)
		res.Frames[f.Num] = boxes
		res.Counts[f.Num] = len(boxes)
		if save {
			// model classes become project labels on first sight
			if err := s.ensureLabels(ctx, projectID, boxes); err != nil {
				return err
			}
			return s.Annotations.SaveFrame(ctx, projectID, videoName, f.Num, boxes)
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}
	if s.Events != nil {
		total := 0
		for _, n := range res.Counts {
			total += n
		}
		s.Events.Publish(projectID, events.TypeDetectionCompleted, map[string]any{
			"video":      videoName,
			"frames":     len(res.Frames),
			"detections": total,
			"saved":      save,
		})
	}
	return res, nil
}

func (s *DetectionService) ensureLabels(ctx context.Context, projectID string, boxes []repository.Box) error {
	if s.Labels == nil {
		return nil
	}
	existing, err := s.Labels.ListByProject(ctx, projectID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, l := range existing {
		known[l.Name] = true
	}
	for _, b := range boxes {
		if known[b.Class] {
			continue
		}
		l := repository.Label{ID: uuid.NewString(), ProjectID: projectID, Name: b.Class}
		if err := s.Labels.Upsert(ctx, l); err != nil {
			return err
		}
		known[b.Class] = true
	}
	return nil
}

func (s *DetectionService) filter(dets []detect.Detection) []detect.Detection {
	if s.MinConf <= 0 {
		return dets
	}
	out := dets[:0]
	for _, d := range dets {
		if d.Conf >= s.MinConf {
			out = append(out, d)
		}
	}
	return out
}

func toBoxes(dets []detect.Detection) []repository.Box {
	boxes := make([]repository.Box, len(dets))
	for i, d := range dets {
		boxes[i] = repository.Box{Class: d.Class, Bbox: d.Box, Conf: d.Conf}
	}
	return boxes
}
