package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"framelabel/internal/database"
	"framelabel/internal/database/repository"
	"framelabel/internal/validate"
)

var (
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrProjectExists = errors.New("project name already exists")
	ErrEmptyName     = errors.New("name is empty")
	ErrNotFound      = errors.New("not found")
)

// WorkspaceService manages workspace users and their projects. Each
// workspace is keyed by email; each project owns a storage directory
// under <root>/user_<id>/project_<id>.
type WorkspaceService struct {
	DB       *sql.DB
	Users    *repository.UserRepo
	Projects *repository.ProjectRepo
	Root     string
}

// EnterWorkspace validates the email and returns the workspace user,
// creating it on first entry.
func (s *WorkspaceService) EnterWorkspace(ctx context.Context, email string) (repository.User, error) {
	email = strings.TrimSpace(email)
	if !validate.Email(email) {
		return repository.User{}, ErrInvalidEmail
	}
	return s.Users.GetOrCreate(ctx, email)
}

// ListWorkspaces returns all registered workspace users.
func (s *WorkspaceService) ListWorkspaces(ctx context.Context) ([]repository.User, error) {
	return s.Users.List(ctx)
}

// CreateProject creates a project, its storage directory, and its default
// label set. Duplicate names per workspace return ErrProjectExists.
func (s *WorkspaceService) CreateProject(ctx context.Context, userID, name string) (repository.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return repository.Project{}, ErrEmptyName
	}
	p := repository.Project{ID: uuid.NewString(), UserID: userID, Name: name}
	if err := s.Projects.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return repository.Project{}, ErrProjectExists
		}
		return repository.Project{}, err
	}
	if err := os.MkdirAll(s.ProjectDir(userID, p.ID), 0o755); err != nil {
		return repository.Project{}, fmt.Errorf("create project dir: %w", err)
	}
	if err := database.SeedProjectLabels(ctx, s.DB, p.ID); err != nil {
		return repository.Project{}, fmt.Errorf("seed labels: %w", err)
	}
	created, err := s.Projects.Get(ctx, p.ID)
	if err != nil {
		return repository.Project{}, err
	}
	return *created, nil
}

// ListProjects returns the workspace's projects, most recently updated first.
func (s *WorkspaceService) ListProjects(ctx context.Context, userID string) ([]repository.Project, error) {
	return s.Projects.ListByUser(ctx, userID)
}

// GetProject returns a project or ErrNotFound.
func (s *WorkspaceService) GetProject(ctx context.Context, id string) (repository.Project, error) {
	p, err := s.Projects.Get(ctx, id)
	if err != nil {
		return repository.Project{}, err
	}
	if p == nil {
		return repository.Project{}, ErrNotFound
	}
	return *p, nil
}

// DeleteProject removes the project row (annotations cascade) and its
// storage directory.
func (s *WorkspaceService) DeleteProject(ctx context.Context, userID, projectID string) error {
	if err := s.Projects.Delete(ctx, projectID); err != nil {
		return err
	}
	return os.RemoveAll(s.ProjectDir(userID, projectID))
}

// ProjectDir returns the project's storage directory.
func (s *WorkspaceService) ProjectDir(userID, projectID string) string {
	return filepath.Join(s.Root, "user_"+userID, "project_"+projectID)
}
