package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"framelabel/internal/validate"
	"framelabel/internal/video"
)

var (
	ErrFileTooLarge      = errors.New("file exceeds the 500 MiB upload limit")
	ErrUnsupportedFormat = errors.New("unsupported video format")
)

// LibraryService manages the video files of a project.
type LibraryService struct {
	Workspace *WorkspaceService
}

// AddResult reports a stored upload.
type AddResult struct {
	Path    string
	Warning bool // large but accepted
}

// AddVideo stores an uploaded video in the project directory. Files over
// the hard limit are rejected; files over the warning threshold are
// accepted with Warning set.
func (s *LibraryService) AddVideo(ctx context.Context, userID, projectID, name string, size int64, r io.Reader) (AddResult, error) {
	if !video.HasVideoExt(name) {
		return AddResult{}, ErrUnsupportedFormat
	}
	status := validate.CheckFileSize(size)
	if status == validate.SizeReject {
		return AddResult{}, ErrFileTooLarge
	}

	dir := s.Workspace.ProjectDir(userID, projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return AddResult{}, fmt.Errorf("create project dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(name))
	f, err := os.Create(path)
	if err != nil {
		return AddResult{}, fmt.Errorf("create video file: %w", err)
	}
	defer f.Close()

	// enforce the limit on the actual stream, not just the declared size
	n, err := io.Copy(f, io.LimitReader(r, validate.MaxSizeBytes+1))
	if err != nil {
		_ = os.Remove(path)
		return AddResult{}, fmt.Errorf("store video: %w", err)
	}
	if n > validate.MaxSizeBytes {
		_ = os.Remove(path)
		return AddResult{}, ErrFileTooLarge
	}
	return AddResult{Path: path, Warning: validate.CheckFileSize(n) == validate.SizeWarn}, nil
}

// ListVideos returns the names of videos in the project directory.
func (s *LibraryService) ListVideos(ctx context.Context, userID, projectID string) ([]string, error) {
	return video.ListVideos(s.Workspace.ProjectDir(userID, projectID))
}

// VideoPath resolves a video name within the project, or ErrNotFound.
func (s *LibraryService) VideoPath(userID, projectID, name string) (string, error) {
	path := filepath.Join(s.Workspace.ProjectDir(userID, projectID), filepath.Base(name))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return path, nil
}

// Probe returns video metadata for a stored video.
func (s *LibraryService) Probe(ctx context.Context, userID, projectID, name string) (video.Info, error) {
	path, err := s.VideoPath(userID, projectID, name)
	if err != nil {
		return video.Info{}, err
	}
	return video.Probe(ctx, path)
}
