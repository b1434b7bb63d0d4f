package service

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"framelabel/internal/database/repository"
)

func newTrainingService(t *testing.T, db *sql.DB, ws *WorkspaceService) *TrainingService {
	t.Helper()
	return &TrainingService{
		Jobs: repository.NewTrainingJobRepo(db),
		Annotations: &AnnotationService{
			DB:          db,
			Annotations: repository.NewAnnotationRepo(db),
			Projects:    ws.Projects,
			Labels:      repository.NewLabelRepo(db),
		},
		Labels:  &LabelService{Labels: repository.NewLabelRepo(db)},
		Library: &LibraryService{Workspace: ws},
	}
}

// writeStubTrainer creates a trainer that emits one metrics line and
// leaves weights in the dataset dir ($2 is the --data value).
func writeStubTrainer(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trainer.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestParseMetricLines(t *testing.T) {
	t.Parallel()
	out := strings.Join([]string{
		"loading dataset",
		`{"epoch": 0, "metrics": {"map": 0.31, "map_50": 0.52}}`,
		"checkpoint saved",
		`{"epoch": 1, "metrics": {"map": 0.42}}`,
		"{not json",
		"",
	}, "\n")

	metrics := ParseMetricLines(strings.NewReader(out))
	require.Len(t, metrics, 2)
	require.Equal(t, 0, metrics[0].Epoch)
	require.InDelta(t, 0.31, metrics[0].Metrics["map"], 1e-9)
	require.Equal(t, 1, metrics[1].Epoch)
	require.InDelta(t, 0.42, metrics[1].Metrics["map"], 1e-9)
}

func TestParseMetricLinesEmpty(t *testing.T) {
	t.Parallel()
	require.Empty(t, ParseMetricLines(strings.NewReader("")))
}

func TestJobRecordsDatasetBuildFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ws := newWorkspace(t, db)
	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	p, err := ws.CreateProject(ctx, u.ID, "cups")
	require.NoError(t, err)

	svc := newTrainingService(t, db, ws)
	svc.Command = "/bin/true"

	// the row exists as pending before any work happens
	job, err := svc.CreateJob(ctx, u.ID, p.ID, "clip.mp4", FormatVOC)
	require.NoError(t, err)
	require.Equal(t, repository.JobPending, job.Status)

	// no annotations: the dataset build fails and the row records it
	require.Error(t, svc.RunJob(ctx, u.ID, job))

	after, err := svc.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, after)
	require.Equal(t, repository.JobFailed, after.Status)
	require.NotNil(t, after.Error)
	require.Contains(t, *after.Error, "no annotations")
}

func TestRunTrainerRecordsResult(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ws := newWorkspace(t, db)
	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	p, err := ws.CreateProject(ctx, u.ID, "cups")
	require.NoError(t, err)

	dir := t.TempDir()
	svc := newTrainingService(t, db, ws)
	svc.Command = writeStubTrainer(t, "#!/bin/sh\n"+
		"echo 'loading dataset'\n"+
		`echo '{"epoch": 0, "metrics": {"map": 0.5}}'`+"\n"+
		`touch "$2/model.pt"`+"\n")

	job := repository.TrainingJob{
		ID: "job-1", ProjectID: p.ID, VideoName: "clip.mp4",
		Format: FormatVOC, Status: repository.JobPending, DatasetDir: &dir,
	}
	require.NoError(t, svc.Jobs.Create(ctx, job))

	require.NoError(t, svc.runTrainer(ctx, job.ID, dir, FormatVOC))

	after, err := svc.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, after)
	require.Equal(t, repository.JobSucceeded, after.Status)
	require.NotNil(t, after.ModelPath)
	require.Equal(t, filepath.Join(dir, "model.pt"), *after.ModelPath)
	require.NotNil(t, after.Metrics)
	require.Contains(t, *after.Metrics, "0.5")
}

func TestRunTrainerFailsWithoutWeights(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	ws := newWorkspace(t, db)
	u, err := ws.EnterWorkspace(ctx, "user@example.com")
	require.NoError(t, err)
	p, err := ws.CreateProject(ctx, u.ID, "cups")
	require.NoError(t, err)

	dir := t.TempDir()
	svc := newTrainingService(t, db, ws)
	svc.Command = writeStubTrainer(t, "#!/bin/sh\nexit 0\n")

	job := repository.TrainingJob{
		ID: "job-2", ProjectID: p.ID, VideoName: "clip.mp4",
		Format: FormatVOC, Status: repository.JobPending, DatasetDir: &dir,
	}
	require.NoError(t, svc.Jobs.Create(ctx, job))

	err = svc.runTrainer(ctx, job.ID, dir, FormatVOC)
	require.ErrorContains(t, err, "no weights")
}

func TestRegisterModelUploads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	model := filepath.Join(t.TempDir(), "model.pt")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0o644))

	var gotAuth, gotRepo, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotRepo = r.FormValue("repo_id")
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		gotFile = header.Filename
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	svc := &TrainingService{RegistryURL: srv.URL, RegistryToken: "tok"}
	require.NoError(t, svc.RegisterModel(ctx, model, "cups/clip"))
	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, "cups/clip", gotRepo)
	require.Equal(t, "model.pt", gotFile)

	none := &TrainingService{}
	require.ErrorIs(t, none.RegisterModel(ctx, model, "cups/clip"), ErrNoRegistry)
}

func TestRegisterModelRejectedUpload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	model := filepath.Join(t.TempDir(), "model.pt")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	svc := &TrainingService{RegistryURL: srv.URL}
	require.ErrorContains(t, svc.RegisterModel(ctx, model, "cups/clip"), "403")
}
