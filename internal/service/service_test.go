package service

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"framelabel/internal/database"
	"framelabel/internal/database/repository"
	"framelabel/internal/video"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.RunMigrationsWithDB(db))
	return db
}

func newWorkspace(t *testing.T, db *sql.DB) *WorkspaceService {
	t.Helper()
	return &WorkspaceService{
		DB:       db,
		Users:    repository.NewUserRepo(db),
		Projects: repository.NewProjectRepo(db),
		Root:     t.TempDir(),
	}
}

func TestEnterWorkspace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ws := newWorkspace(t, newTestDB(t))

	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)

	// entering again returns the same workspace
	again, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, again.ID)

	_, err = ws.EnterWorkspace(ctx, "not-an-email")
	require.ErrorIs(t, err, ErrInvalidEmail)

	users, err := ws.ListWorkspaces(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func TestCreateProjectSeedsLabelsAndDir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ws := newWorkspace(t, db)

	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)

	p, err := ws.CreateProject(ctx, u.ID, "cups")
	require.NoError(t, err)
	require.DirExists(t, ws.ProjectDir(u.ID, p.ID))

	labels := &LabelService{Labels: repository.NewLabelRepo(db)}
	names, err := labels.Names(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"bad-cup", "good-cup", "no-cup"}, names)

	_, err = ws.CreateProject(ctx, u.ID, "cups")
	require.ErrorIs(t, err, ErrProjectExists)

	_, err = ws.CreateProject(ctx, u.ID, "  ")
	require.ErrorIs(t, err, ErrEmptyName)
}

func TestSaveFrameUpsertAndTouch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ws := newWorkspace(t, db)
	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	p, err := ws.CreateProject(ctx, u.ID, "cups")
	require.NoError(t, err)

	ann := &AnnotationService{
		DB:          db,
		Annotations: repository.NewAnnotationRepo(db),
		Projects:    ws.Projects,
		Labels:      repository.NewLabelRepo(db),
	}

	boxes := []repository.Box{{Class: "good-cup", Bbox: [4]int{1, 2, 30, 40}}}
	require.NoError(t, ann.SaveFrame(ctx, p.ID, "clip.mp4", 0, boxes))

	// replace with a different list: still one row
	boxes2 := []repository.Box{
		{Class: "good-cup", Bbox: [4]int{1, 2, 30, 40}},
		{Class: "bad-cup", Bbox: [4]int{5, 5, 20, 20}, Conf: 0.8},
	}
	require.NoError(t, ann.SaveFrame(ctx, p.ID, "clip.mp4", 0, boxes2))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM annotations").Scan(&count))
	require.Equal(t, 1, count)

	got, err := ann.LoadFrame(ctx, p.ID, "clip.mp4", 0)
	require.NoError(t, err)
	require.Equal(t, boxes2, got)

	frames, err := ann.LoadVideo(ctx, p.ID, "clip.mp4")
	require.NoError(t, err)
	require.Len(t, frames, 1)
}

func TestSaveFrameValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ws := newWorkspace(t, db)
	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	p, err := ws.CreateProject(ctx, u.ID, "cups")
	require.NoError(t, err)

	ann := &AnnotationService{
		DB:          db,
		Annotations: repository.NewAnnotationRepo(db),
		Projects:    ws.Projects,
		Labels:      repository.NewLabelRepo(db),
	}

	err = ann.SaveFrame(ctx, p.ID, "clip.mp4", 0,
		[]repository.Box{{Class: "zebra", Bbox: [4]int{0, 0, 10, 10}}})
	require.ErrorIs(t, err, ErrUnknownLabel)

	err = ann.SaveFrame(ctx, p.ID, "clip.mp4", 0,
		[]repository.Box{{Class: "good-cup", Bbox: [4]int{10, 10, 10, 20}}})
	require.ErrorIs(t, err, ErrInvalidBox)

	err = ann.SaveFrame(ctx, p.ID, "clip.mp4", -1, nil)
	require.ErrorIs(t, err, ErrInvalidBox)
}

func TestSaveFrameRejectsOutOfBounds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ws := newWorkspace(t, db)
	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	p, err := ws.CreateProject(ctx, u.ID, "cups")
	require.NoError(t, err)

	lib := &LibraryService{Workspace: ws}
	_, err = lib.AddVideo(ctx, u.ID, p.ID, "clip.mp4", 4, bytes.NewReader([]byte("data")))
	require.NoError(t, err)

	ann := &AnnotationService{
		DB:          db,
		Annotations: repository.NewAnnotationRepo(db),
		Projects:    ws.Projects,
		Labels:      repository.NewLabelRepo(db),
		Library:     lib,
		ProbeVideo: func(ctx context.Context, path string) (video.Info, error) {
			return video.Info{Width: 100, Height: 100, TotalFrames: 10}, nil
		},
	}

	// box past the right edge
	err = ann.SaveFrame(ctx, p.ID, "clip.mp4", 0,
		[]repository.Box{{Class: "good-cup", Bbox: [4]int{0, 0, 150, 50}}})
	require.ErrorIs(t, err, ErrInvalidBox)

	// frame number beyond the video
	err = ann.SaveFrame(ctx, p.ID, "clip.mp4", 10,
		[]repository.Box{{Class: "good-cup", Bbox: [4]int{0, 0, 50, 50}}})
	require.ErrorIs(t, err, ErrInvalidBox)

	// inside bounds on the last frame
	require.NoError(t, ann.SaveFrame(ctx, p.ID, "clip.mp4", 9,
		[]repository.Box{{Class: "good-cup", Bbox: [4]int{10, 10, 90, 90}}}))

	// videos not stored yet are saved without bounds enforcement
	require.NoError(t, ann.SaveFrame(ctx, p.ID, "other.mp4", 50,
		[]repository.Box{{Class: "good-cup", Bbox: [4]int{0, 0, 500, 500}}}))
}

func TestClearFrameKeepsRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ws := newWorkspace(t, db)
	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	p, err := ws.CreateProject(ctx, u.ID, "cups")
	require.NoError(t, err)

	ann := &AnnotationService{
		DB:          db,
		Annotations: repository.NewAnnotationRepo(db),
		Projects:    ws.Projects,
		Labels:      repository.NewLabelRepo(db),
	}

	require.NoError(t, ann.SaveFrame(ctx, p.ID, "clip.mp4", 3,
		[]repository.Box{{Class: "good-cup", Bbox: [4]int{0, 0, 5, 5}}}))
	require.NoError(t, ann.ClearFrame(ctx, p.ID, "clip.mp4", 3))

	got, err := ann.LoadFrame(ctx, p.ID, "clip.mp4", 3)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)

	stats, err := ann.Stats(ctx, p.ID, "clip.mp4", 100)
	require.NoError(t, err)
	require.Equal(t, Stats{TotalBoxes: 0, AnnotatedFrames: 1, RemainingFrames: 99}, stats)
}

func TestLabelServiceAddRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ws := newWorkspace(t, db)
	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	p, err := ws.CreateProject(ctx, u.ID, "cups")
	require.NoError(t, err)

	svc := &LabelService{Labels: repository.NewLabelRepo(db)}

	res, err := svc.Add(ctx, p.ID, "plate")
	require.NoError(t, err)
	require.Empty(t, res.Warning)

	// near-duplicate: distance 1 from "plate"
	res, err = svc.Add(ctx, p.ID, "plates")
	require.NoError(t, err)
	require.Contains(t, res.Warning, "plate")

	// distance 3 from anything: no warning
	res, err = svc.Add(ctx, p.ID, "saucer")
	require.NoError(t, err)
	require.Empty(t, res.Warning)

	_, err = svc.Add(ctx, p.ID, "Plate")
	require.ErrorIs(t, err, ErrDuplicateLabel)

	require.NoError(t, svc.Remove(ctx, p.ID, "plate"))
}

func TestLabelServiceRefusesLastLabel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ws := newWorkspace(t, db)
	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	p, err := ws.CreateProject(ctx, u.ID, "cups")
	require.NoError(t, err)

	svc := &LabelService{Labels: repository.NewLabelRepo(db)}
	require.NoError(t, svc.Remove(ctx, p.ID, "good-cup"))
	require.NoError(t, svc.Remove(ctx, p.ID, "bad-cup"))
	require.ErrorIs(t, svc.Remove(ctx, p.ID, "no-cup"), ErrLastLabel)
}

func TestProjectTouchOnSave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ws := newWorkspace(t, db)
	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	p, err := ws.CreateProject(ctx, u.ID, "cups")
	require.NoError(t, err)

	// sqlite CURRENT_TIMESTAMP has second resolution
	time.Sleep(1100 * time.Millisecond)

	ann := &AnnotationService{
		DB:          db,
		Annotations: repository.NewAnnotationRepo(db),
		Projects:    ws.Projects,
		Labels:      repository.NewLabelRepo(db),
	}
	require.NoError(t, ann.SaveFrame(ctx, p.ID, "clip.mp4", 0,
		[]repository.Box{{Class: "good-cup", Bbox: [4]int{0, 0, 5, 5}}}))

	after, err := ws.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, after.UpdatedAt.After(p.UpdatedAt))
}
