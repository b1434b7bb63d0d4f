package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"framelabel/internal/database/repository"
	"framelabel/internal/events"
	"framelabel/internal/export"
	"framelabel/internal/video"
)

var (
	ErrNoTrainer  = errors.New("no trainer command configured")
	ErrNoRegistry = errors.New("no model registry configured")
)

// TrainingService turns a video's annotations into a detection dataset
// and drives an external trainer process over it. Jobs are tracked in
// the training_jobs table; the trainer reports per-epoch metrics as JSON
// lines on stdout and leaves its weights in the dataset directory.
type TrainingService struct {
	Jobs        *repository.TrainingJobRepo
	Annotations *AnnotationService
	Labels      *LabelService
	Library     *LibraryService
	Events      events.Publisher

	Command       string
	Epochs        int
	RegistryURL   string
	RegistryToken string
}

// EpochMetrics is one parsed trainer metrics line.
type EpochMetrics struct {
	Epoch   int                `json:"epoch"`
	Metrics map[string]float64 `json:"metrics"`
}

// BuildDataset materializes the annotated frames of a video as JPEGs plus
// annotation files in VOC or COCO layout:
//
//	<dir>/images/<video>_frame_<n>.jpg
//	<dir>/annotations.json            (coco)
//	<dir>/annotations/<...>.xml       (voc)
func (s *TrainingService) BuildDataset(ctx context.Context, userID, projectID, videoName, format, dir string) error {
	frames, err := s.Annotations.LoadVideo(ctx, projectID, videoName)
	if err != nil {
		return err
	}
	annotated := make(map[int][]repository.Box)
	for n, boxes := range frames {
		if len(boxes) > 0 {
			annotated[n] = boxes
		}
	}
	if len(annotated) == 0 {
		return export.ErrNoAnnotations
	}

	path, err := s.Library.VideoPath(userID, projectID, videoName)
	if err != nil {
		return err
	}
	info, err := video.Probe(ctx, path)
	if err != nil {
		return err
	}
	base := videoBase(videoName)

	imgDir := filepath.Join(dir, "images")
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	for n := range annotated {
		data, err := video.ExtractFrame(ctx, path, n)
		if err != nil {
			return fmt.Errorf("extract frame %d: %w", n, err)
		}
		name := fmt.Sprintf("%s_frame_%d.jpg", base, n)
		if err := os.WriteFile(filepath.Join(imgDir, name), data, 0o644); err != nil {
			return err
		}
	}

	names, err := s.Labels.Names(ctx, projectID)
	if err != nil {
		return err
	}
	switch strings.ToLower(format) {
	case FormatCOCO:
		f, err := os.Create(filepath.Join(dir, "annotations.json"))
		if err != nil {
			return err
		}
		defer f.Close()
		return export.WriteCOCO(f, annotated, base, info.Width, info.Height, names)
	case FormatVOC, "":
		docs, err := export.GenerateVOC(annotated, base, info.Width, info.Height, 3)
		if err != nil {
			return err
		}
		annDir := filepath.Join(dir, "annotations")
		if err := os.MkdirAll(annDir, 0o755); err != nil {
			return err
		}
		for n, doc := range docs {
			name := fmt.Sprintf("%s_frame_%d.xml", base, n)
			if err := os.WriteFile(filepath.Join(annDir, name), doc, 0o644); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown dataset format %q", format)
	}
}

// CreateJob records a pending job row before any work happens, so pollers
// can see the job even when the dataset build fails later.
func (s *TrainingService) CreateJob(ctx context.Context, userID, projectID, videoName, format string) (repository.TrainingJob, error) {
	if s.Command == "" {
		return repository.TrainingJob{}, ErrNoTrainer
	}
	if format == "" {
		format = FormatVOC
	}
	jobID := uuid.NewString()
	dir := filepath.Join(s.Library.Workspace.ProjectDir(userID, projectID), "datasets", jobID)
	job := repository.TrainingJob{
		ID:         jobID,
		ProjectID:  projectID,
		VideoName:  videoName,
		Format:     format,
		Status:     repository.JobPending,
		DatasetDir: &dir,
	}
	if err := s.Jobs.Create(ctx, job); err != nil {
		return repository.TrainingJob{}, err
	}
	if s.Events != nil {
		s.Events.Publish(projectID, events.TypeTrainingStarted, map[string]any{
			"job": jobID, "video": videoName, "format": format,
		})
	}
	return job, nil
}

// RunJob builds the dataset and drives the trainer over it, recording
// every failure on the job row. On success the model is pushed to the
// registry when one is configured.
func (s *TrainingService) RunJob(ctx context.Context, userID string, job repository.TrainingJob) error {
	dir := *job.DatasetDir
	if err := s.BuildDataset(ctx, userID, job.ProjectID, job.VideoName, job.Format, dir); err != nil {
		_ = s.Jobs.SetError(ctx, job.ID, err.Error())
		s.finish(job.ProjectID, job.ID, repository.JobFailed)
		return err
	}
	if err := s.runTrainer(ctx, job.ID, dir, job.Format); err != nil {
		_ = s.Jobs.SetError(ctx, job.ID, err.Error())
		s.finish(job.ProjectID, job.ID, repository.JobFailed)
		return err
	}
	s.finish(job.ProjectID, job.ID, repository.JobSucceeded)

	if s.RegistryURL != "" {
		repoID := job.ProjectID + "/" + videoBase(job.VideoName)
		modelPath := filepath.Join(dir, "model.pt")
		if err := s.RegisterModel(ctx, modelPath, repoID); err != nil {
			log.Printf("[WARN] training: register model for job %s: %v", job.ID, err)
		}
	}
	return nil
}

// StartJob creates a job and runs it to completion. It blocks until the
// trainer exits; callers wanting asynchrony use CreateJob plus RunJob in
// a goroutine and poll the job row.
func (s *TrainingService) StartJob(ctx context.Context, userID, projectID, videoName, format string) (repository.TrainingJob, error) {
	job, err := s.CreateJob(ctx, userID, projectID, videoName, format)
	if err != nil {
		return repository.TrainingJob{}, err
	}
	if err := s.RunJob(ctx, userID, job); err != nil {
		return repository.TrainingJob{}, err
	}
	done, err := s.Jobs.Get(ctx, job.ID)
	if err != nil {
		return repository.TrainingJob{}, err
	}
	if done == nil {
		return repository.TrainingJob{}, ErrNotFound
	}
	return *done, nil
}

func (s *TrainingService) runTrainer(ctx context.Context, jobID, dir, format string) error {
	if err := s.Jobs.UpdateStatus(ctx, jobID, repository.JobRunning); err != nil {
		return err
	}
	epochs := s.Epochs
	if epochs < 1 {
		epochs = 1
	}
	parts := strings.Fields(s.Command)
	args := append(parts[1:],
		"--data", dir,
		"--format", format,
		"--epochs", strconv.Itoa(epochs),
	)
	cmd := exec.CommandContext(ctx, parts[0], args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start trainer: %w", err)
	}

	metrics := ParseMetricLines(stdout)
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("trainer failed: %w", err)
	}

	modelPath := filepath.Join(dir, "model.pt")
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("trainer produced no weights at %s", modelPath)
	}
	encoded, err := json.Marshal(metrics)
	if err != nil {
		return err
	}
	return s.Jobs.SetResult(ctx, jobID, modelPath, string(encoded))
}

// ParseMetricLines reads trainer stdout, collecting JSON metric lines of
// the form {"epoch": 0, "metrics": {"map": 0.42}}. Non-JSON lines are
// echoed to the log.
func ParseMetricLines(r io.Reader) []EpochMetrics {
	var out []EpochMetrics
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			if line != "" {
				log.Printf("[INFO] trainer: %s", line)
			}
			continue
		}
		var m EpochMetrics
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			log.Printf("[WARN] trainer: bad metrics line: %v", err)
			continue
		}
		out = append(out, m)
	}
	return out
}

// RegisterModel uploads a trained weights file to the configured model
// registry with a bearer token.
func (s *TrainingService) RegisterModel(ctx context.Context, modelPath, repoID string) error {
	if s.RegistryURL == "" {
		return ErrNoRegistry
	}
	f, err := os.Open(modelPath)
	if err != nil {
		return err
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("repo_id", repoID); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("file", filepath.Base(modelPath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.RegistryURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.RegistryToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.RegistryToken)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("upload model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("registry rejected upload: %d", resp.StatusCode)
	}
	return nil
}

func (s *TrainingService) finish(projectID, jobID, status string) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(projectID, events.TypeTrainingFinished, map[string]any{
		"job": jobID, "status": status,
	})
}
