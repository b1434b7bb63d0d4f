package api

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"framelabel/internal/database/repository"
	"framelabel/internal/service"
)

type workspaceView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (s *Server) handleEnterWorkspace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: bad request body", service.ErrInvalidEmail))
		return
	}
	u, err := s.Workspace.EnterWorkspace(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, workspaceView{ID: u.ID, Email: u.Email})
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	users, err := s.Workspace.ListWorkspaces(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]workspaceView, 0, len(users))
	for _, u := range users {
		out = append(out, workspaceView{ID: u.ID, Email: u.Email})
	}
	writeJSON(w, http.StatusOK, out)
}

type projectView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func projectToView(p repository.Project) projectView {
	return projectView{
		ID:        p.ID,
		Name:      p.Name,
		CreatedAt: p.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt: p.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, service.ErrEmptyName)
		return
	}
	p, err := s.Workspace.CreateProject(r.Context(), r.PathValue("uid"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectToView(p))
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Workspace.ListProjects(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]projectView, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectToView(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.Workspace.DeleteProject(r.Context(), r.PathValue("uid"), r.PathValue("pid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request) {
	names, err := s.Labels.Names(r.Context(), r.PathValue("pid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleAddLabel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, fmt.Errorf("bad request body: %w", err))
		return
	}
	res, err := s.Labels.Add(r.Context(), r.PathValue("pid"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"name":    res.Label.Name,
		"warning": res.Warning,
	})
}

func (s *Server) handleRemoveLabel(w http.ResponseWriter, r *http.Request) {
	if err := s.Labels.Remove(r.Context(), r.PathValue("pid"), r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadVideo(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: missing file field", service.ErrUnsupportedFormat))
		return
	}
	defer file.Close()

	res, err := s.Library.AddVideo(r.Context(), r.PathValue("uid"), r.PathValue("pid"),
		header.Filename, header.Size, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"name":    header.Filename,
		"warning": res.Warning,
	})
}

type videoView struct {
	Name            string `json:"name"`
	AnnotatedFrames int    `json:"annotated_frames"`
	TotalBoxes      int    `json:"total_boxes"`
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	uid, pid := r.PathValue("uid"), r.PathValue("pid")
	names, err := s.Library.ListVideos(r.Context(), uid, pid)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]videoView, 0, len(names))
	for _, name := range names {
		stats, err := s.Annotations.Stats(r.Context(), pid, name, 0)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, videoView{
			Name:            name,
			AnnotatedFrames: stats.AnnotatedFrames,
			TotalBoxes:      stats.TotalBoxes,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLoadAnnotations(w http.ResponseWriter, r *http.Request) {
	frames, err := s.Annotations.LoadVideo(r.Context(), r.PathValue("pid"), r.PathValue("video"))
	if err != nil {
		writeError(w, err)
		return
	}
	// map keys must be strings in JSON
	out := make(map[string][]repository.Box, len(frames))
	for n, boxes := range frames {
		out[strconv.Itoa(n)] = boxes
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSaveFrame(w http.ResponseWriter, r *http.Request) {
	frame, err := strconv.Atoi(r.PathValue("frame"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad frame number", service.ErrInvalidBox))
		return
	}
	var boxes []repository.Box
	if err := decodeBody(r, &boxes); err != nil {
		writeError(w, fmt.Errorf("%w: bad request body", service.ErrInvalidBox))
		return
	}
	if err := s.Annotations.SaveFrame(r.Context(), r.PathValue("pid"), r.PathValue("video"), frame, boxes); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearFrame(w http.ResponseWriter, r *http.Request) {
	frame, err := strconv.Atoi(r.PathValue("frame"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad frame number", service.ErrInvalidBox))
		return
	}
	if err := s.Annotations.ClearFrame(r.Context(), r.PathValue("pid"), r.PathValue("video"), frame); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = service.FormatVOC
	}
	video := r.PathValue("video")

	// render fully before touching headers so failures stay clean errors
	var buf bytes.Buffer
	if err := s.Export.Export(r.Context(), r.PathValue("uid"), r.PathValue("pid"), video, format, &buf); err != nil {
		writeError(w, err)
		return
	}

	ext := "zip"
	if format == service.FormatCOCO {
		ext = "json"
	}
	w.Header().Set("Content-Type", service.ContentType(format))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s_annotations.%s"`, video, ext))
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("[WARN] api: export %s: %v", video, err)
	}
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Frame  *int `json:"frame"`
		Stride int  `json:"stride"`
		Save   bool `json:"save"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, fmt.Errorf("bad request body: %w", err))
		return
	}
	uid, pid, video := r.PathValue("uid"), r.PathValue("pid"), r.PathValue("video")

	if req.Frame != nil {
		dets, err := s.Detection.DetectFrame(r.Context(), uid, pid, video, *req.Frame)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"detections": dets})
		return
	}

	res, err := s.Detection.DetectVideo(r.Context(), uid, pid, video, req.Stride, req.Save)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"frames": res.Frames,
		"counts": res.Counts,
	})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Format string `json:"format"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, fmt.Errorf("bad request body: %w", err))
		return
	}
	uid, pid, video := r.PathValue("uid"), r.PathValue("pid"), r.PathValue("video")

	job, err := s.Training.CreateJob(r.Context(), uid, pid, video, req.Format)
	if err != nil {
		writeError(w, err)
		return
	}
	// training runs for minutes; detach from the request and poll the row
	go func() {
		if err := s.Training.RunJob(context.Background(), uid, job); err != nil {
			log.Printf("[WARN] training job %s for %s failed: %v", job.ID, video, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"job": job.ID, "status": job.Status})
}

type jobView struct {
	ID        string `json:"id"`
	VideoName string `json:"video"`
	Format    string `json:"format"`
	Status    string `json:"status"`
	ModelPath string `json:"model_path,omitempty"`
	Error     string `json:"error,omitempty"`
	Metrics   string `json:"metrics,omitempty"`
}

func jobToView(j repository.TrainingJob) jobView {
	v := jobView{ID: j.ID, VideoName: j.VideoName, Format: j.Format, Status: j.Status}
	if j.ModelPath != nil {
		v.ModelPath = *j.ModelPath
	}
	if j.Error != nil {
		v.Error = *j.Error
	}
	if j.Metrics != nil {
		v.Metrics = *j.Metrics
	}
	return v
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Training.Jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeError(w, service.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, jobToView(*job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Training.Jobs.ListByProject(r.Context(), r.PathValue("pid"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobToView(j))
	}
	writeJSON(w, http.StatusOK, out)
}
