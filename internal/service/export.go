package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"framelabel/internal/events"
	"framelabel/internal/export"
	"framelabel/internal/video"
)

// Export formats.
const (
	FormatVOC  = "voc"
	FormatCOCO = "coco"
	FormatYOLO = "yolo"
)

// ExportService renders a video's annotations in interchange formats.
type ExportService struct {
	Annotations *AnnotationService
	Labels      *LabelService
	Library     *LibraryService
	Events      events.Publisher
}

// ContentType returns the MIME type of an export format's output.
func ContentType(format string) string {
	if format == FormatCOCO {
		return "application/json"
	}
	return "application/zip"
}

// Export writes the annotations of one video in the requested format.
// VOC and YOLO produce zip bundles, COCO a single JSON document.
func (s *ExportService) Export(ctx context.Context, userID, projectID, videoName, format string, w io.Writer) error {
	frames, err := s.Annotations.LoadVideo(ctx, projectID, videoName)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return export.ErrNoAnnotations
	}
	info, err := s.Library.Probe(ctx, userID, projectID, videoName)
	if err != nil {
		return err
	}
	base := videoBase(videoName)

	switch strings.ToLower(format) {
	case FormatVOC, "":
		err = export.WriteVOCZip(w, frames, base, info.Width, info.Height, 3)
	case FormatCOCO:
		var names []string
		names, err = s.Labels.Names(ctx, projectID)
		if err != nil {
			return err
		}
		err = export.WriteCOCO(w, frames, base, info.Width, info.Height, names)
	case FormatYOLO:
		var names []string
		names, err = s.Labels.Names(ctx, projectID)
		if err != nil {
			return err
		}
		err = export.WriteYOLOZip(w, frames, base, info.Width, info.Height, names)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return err
	}
	if s.Events != nil {
		s.Events.Publish(projectID, events.TypeExportCompleted, map[string]any{
			"video":  videoName,
			"format": format,
			"frames": len(frames),
		})
	}
	return nil
}

// videoBase strips the container extension, matching frame file naming.
func videoBase(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 && video.HasVideoExt(name) {
		return name[:i]
	}
	return name
}
