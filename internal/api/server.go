package api

import (
	"errors"
	"log"
	"net/http"

	json "github.com/goccy/go-json"

	"framelabel/internal/export"
	"framelabel/internal/service"
)

// Server exposes the annotation backend as a JSON HTTP API.
type Server struct {
	Workspace   *service.WorkspaceService
	Library     *service.LibraryService
	Annotations *service.AnnotationService
	Labels      *service.LabelService
	Export      *service.ExportService
	Detection   *service.DetectionService
	Training    *service.TrainingService
}

// Routes builds the request mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/workspaces", s.handleEnterWorkspace)
	mux.HandleFunc("GET /api/workspaces", s.handleListWorkspaces)

	mux.HandleFunc("POST /api/workspaces/{uid}/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/workspaces/{uid}/projects", s.handleListProjects)
	mux.HandleFunc("DELETE /api/workspaces/{uid}/projects/{pid}", s.handleDeleteProject)

	mux.HandleFunc("GET /api/workspaces/{uid}/projects/{pid}/labels", s.handleListLabels)
	mux.HandleFunc("POST /api/workspaces/{uid}/projects/{pid}/labels", s.handleAddLabel)
	mux.HandleFunc("DELETE /api/workspaces/{uid}/projects/{pid}/labels/{name}", s.handleRemoveLabel)

	mux.HandleFunc("POST /api/workspaces/{uid}/projects/{pid}/videos", s.handleUploadVideo)
	mux.HandleFunc("GET /api/workspaces/{uid}/projects/{pid}/videos", s.handleListVideos)

	mux.HandleFunc("GET /api/workspaces/{uid}/projects/{pid}/videos/{video}/annotations", s.handleLoadAnnotations)
	mux.HandleFunc("PUT /api/workspaces/{uid}/projects/{pid}/videos/{video}/frames/{frame}", s.handleSaveFrame)
	mux.HandleFunc("DELETE /api/workspaces/{uid}/projects/{pid}/videos/{video}/frames/{frame}", s.handleClearFrame)

	mux.HandleFunc("GET /api/workspaces/{uid}/projects/{pid}/videos/{video}/export", s.handleExport)
	mux.HandleFunc("POST /api/workspaces/{uid}/projects/{pid}/videos/{video}/detect", s.handleDetect)
	mux.HandleFunc("POST /api/workspaces/{uid}/projects/{pid}/videos/{video}/train", s.handleTrain)
	mux.HandleFunc("GET /api/workspaces/{uid}/projects/{pid}/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)

	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] api: encode response: %v", err)
	}
}

// writeError maps service sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrEmptyName),
		errors.Is(err, service.ErrInvalidBox),
		errors.Is(err, service.ErrUnknownLabel),
		errors.Is(err, service.ErrUnsupportedFormat):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrProjectExists),
		errors.Is(err, service.ErrDuplicateLabel),
		errors.Is(err, service.ErrLastLabel):
		status = http.StatusConflict
	case errors.Is(err, service.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, export.ErrNoAnnotations):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNoDetector),
		errors.Is(err, service.ErrNoTrainer):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Printf("[WARN] api: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
