package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	"framelabel/internal/database"
	"framelabel/internal/database/repository"
	"framelabel/internal/events"
	"framelabel/internal/video"
)

var (
	ErrUnknownLabel = errors.New("unknown annotation class")
	ErrInvalidBox   = errors.New("invalid bounding box")
)

// AnnotationService manages per-frame bounding-box annotations. When
// Library is set, saves are validated against the probed video dimensions
// and frame count.
type AnnotationService struct {
	DB          *sql.DB
	Annotations *repository.AnnotationRepo
	Projects    *repository.ProjectRepo
	Labels      *repository.LabelRepo
	Library     *LibraryService
	Events      events.Publisher

	// ProbeVideo defaults to video.Probe; overridable in tests.
	ProbeVideo func(ctx context.Context, path string) (video.Info, error)

	mu    sync.Mutex
	infos map[string]video.Info
}

// SaveFrame replaces the box list of one frame. Every box class must be a
// label of the project, coordinates must form a proper rectangle inside
// the video frame, and the frame number must exist in the video. The
// upsert and the project's updated_at bump commit atomically.
func (s *AnnotationService) SaveFrame(ctx context.Context, projectID, videoName string, frameNum int, boxes []repository.Box) error {
	if frameNum < 0 {
		return fmt.Errorf("%w: negative frame number", ErrInvalidBox)
	}
	known, err := s.labelSet(ctx, projectID)
	if err != nil {
		return err
	}
	for i, b := range boxes {
		if !known[b.Class] {
			return fmt.Errorf("%w: %q", ErrUnknownLabel, b.Class)
		}
		if b.Bbox[2] <= b.Bbox[0] || b.Bbox[3] <= b.Bbox[1] || b.Bbox[0] < 0 || b.Bbox[1] < 0 {
			return fmt.Errorf("%w: box %d", ErrInvalidBox, i)
		}
	}
	if info, ok := s.videoInfo(ctx, projectID, videoName); ok {
		if frameNum >= info.TotalFrames {
			return fmt.Errorf("%w: frame %d beyond video (%d frames)", ErrInvalidBox, frameNum, info.TotalFrames)
		}
		for i, b := range boxes {
			if b.Bbox[2] > info.Width || b.Bbox[3] > info.Height {
				return fmt.Errorf("%w: box %d outside %dx%d frame", ErrInvalidBox, i, info.Width, info.Height)
			}
		}
	}
	err = database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := s.Annotations.UpsertFrameTx(ctx, tx, projectID, videoName, frameNum, boxes); err != nil {
			return err
		}
		return s.Projects.TouchTx(ctx, tx, projectID)
	})
	if err != nil {
		return err
	}
	s.publish(projectID, events.TypeAnnotationSaved, videoName, frameNum, len(boxes))
	return nil
}

// ClearFrame empties a frame's box list while keeping the row, matching
// the save-an-empty-list behavior of clearing in the annotation UI flow.
func (s *AnnotationService) ClearFrame(ctx context.Context, projectID, videoName string, frameNum int) error {
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := s.Annotations.UpsertFrameTx(ctx, tx, projectID, videoName, frameNum, nil); err != nil {
			return err
		}
		return s.Projects.TouchTx(ctx, tx, projectID)
	})
	if err != nil {
		return err
	}
	s.publish(projectID, events.TypeAnnotationCleared, videoName, frameNum, 0)
	return nil
}

// LoadVideo returns every annotated frame of a video.
func (s *AnnotationService) LoadVideo(ctx context.Context, projectID, videoName string) (map[int][]repository.Box, error) {
	return s.Annotations.LoadVideo(ctx, projectID, videoName)
}

// LoadFrame returns one frame's boxes; nil when never annotated.
func (s *AnnotationService) LoadFrame(ctx context.Context, projectID, videoName string, frameNum int) ([]repository.Box, error) {
	return s.Annotations.LoadFrame(ctx, projectID, videoName, frameNum)
}

// Stats summarizes annotation progress against the video's frame count.
type Stats struct {
	TotalBoxes      int `json:"total_boxes"`
	AnnotatedFrames int `json:"annotated_frames"`
	RemainingFrames int `json:"remaining_frames"`
}

func (s *AnnotationService) Stats(ctx context.Context, projectID, videoName string, totalFrames int) (Stats, error) {
	vs, err := s.Annotations.Stats(ctx, projectID, videoName)
	if err != nil {
		return Stats{}, err
	}
	remaining := totalFrames - vs.AnnotatedFrames
	if remaining < 0 {
		remaining = 0
	}
	return Stats{
		TotalBoxes:      vs.TotalBoxes,
		AnnotatedFrames: vs.AnnotatedFrames,
		RemainingFrames: remaining,
	}, nil
}

// videoInfo resolves and caches the probed metadata of a stored video.
// Bounds checks are skipped when the service has no library, the file is
// not stored yet, or the probe fails.
func (s *AnnotationService) videoInfo(ctx context.Context, projectID, videoName string) (video.Info, bool) {
	if s.Library == nil {
		return video.Info{}, false
	}
	key := projectID + "/" + videoName
	s.mu.Lock()
	if info, ok := s.infos[key]; ok {
		s.mu.Unlock()
		return info, true
	}
	s.mu.Unlock()

	p, err := s.Projects.Get(ctx, projectID)
	if err != nil || p == nil {
		return video.Info{}, false
	}
	path, err := s.Library.VideoPath(p.UserID, projectID, videoName)
	if err != nil {
		return video.Info{}, false
	}
	probe := s.ProbeVideo
	if probe == nil {
		probe = video.Probe
	}
	info, err := probe(ctx, path)
	if err != nil {
		log.Printf("[WARN] annotate: probe %s: %v", videoName, err)
		return video.Info{}, false
	}
	s.mu.Lock()
	if s.infos == nil {
		s.infos = make(map[string]video.Info)
	}
	s.infos[key] = info
	s.mu.Unlock()
	return info, true
}

func (s *AnnotationService) labelSet(ctx context.Context, projectID string) (map[string]bool, error) {
	labels, err := s.Labels.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(labels))
	for _, l := range labels {
		known[l.Name] = true
	}
	return known, nil
}

func (s *AnnotationService) publish(projectID, eventType, videoName string, frameNum, boxes int) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(projectID, eventType, map[string]any{
		"video": videoName,
		"frame": frameNum,
		"boxes": boxes,
	})
}
