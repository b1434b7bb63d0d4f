package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"framelabel/internal/validate"
)

func TestAddVideoAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ws := newWorkspace(t, db)
	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	p, err := ws.CreateProject(ctx, u.ID, "cups")
	require.NoError(t, err)

	lib := &LibraryService{Workspace: ws}

	res, err := lib.AddVideo(ctx, u.ID, p.ID, "clip.mp4", 1024, bytes.NewReader(make([]byte, 1024)))
	require.NoError(t, err)
	require.False(t, res.Warning)
	require.FileExists(t, res.Path)

	_, err = lib.AddVideo(ctx, u.ID, p.ID, "notes.txt", 10, bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = lib.AddVideo(ctx, u.ID, p.ID, "big.mp4", validate.MaxSizeBytes+1, bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrFileTooLarge)

	videos, err := lib.ListVideos(ctx, u.ID, p.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"clip.mp4"}, videos)

	path, err := lib.VideoPath(u.ID, p.ID, "clip.mp4")
	require.NoError(t, err)
	require.Equal(t, res.Path, path)

	_, err = lib.VideoPath(u.ID, p.ID, "missing.mp4")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAddVideoStripsPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ws := newWorkspace(t, db)
	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	p, err := ws.CreateProject(ctx, u.ID, "cups")
	require.NoError(t, err)

	lib := &LibraryService{Workspace: ws}
	res, err := lib.AddVideo(ctx, u.ID, p.ID, "../../evil.mp4", 4, bytes.NewReader([]byte("data")))
	require.NoError(t, err)
	require.Contains(t, res.Path, ws.ProjectDir(u.ID, p.ID))
}
