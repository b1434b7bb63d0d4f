package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"framelabel/internal/database/repository"
	"framelabel/internal/validate"
)

var (
	ErrDuplicateLabel = errors.New("label already exists")
	ErrLastLabel      = errors.New("a project must keep at least one label")
)

// LabelService manages a project's annotation classes.
type LabelService struct {
	Labels *repository.LabelRepo
}

// AddResult carries an optional near-duplicate warning.
type LabelAddResult struct {
	Label   repository.Label
	Warning string
}

// Add creates a label. Exact duplicates fail; names within edit distance
// 2 of an existing label succeed with a warning naming the near match.
func (s *LabelService) Add(ctx context.Context, projectID, name string) (LabelAddResult, error) {
	name, err := validate.LabelName(name)
	if err != nil {
		return LabelAddResult{}, err
	}
	existing, err := s.Labels.ListByProject(ctx, projectID)
	if err != nil {
		return LabelAddResult{}, err
	}
	var warning string
	for _, l := range existing {
		if strings.EqualFold(l.Name, name) {
			return LabelAddResult{}, fmt.Errorf("%w: %q", ErrDuplicateLabel, l.Name)
		}
		if warning == "" && levenshtein.ComputeDistance(strings.ToLower(l.Name), strings.ToLower(name)) <= 2 {
			warning = fmt.Sprintf("%q is very similar to existing label %q", name, l.Name)
		}
	}
	label := repository.Label{ID: uuid.NewString(), ProjectID: projectID, Name: name}
	if err := s.Labels.Upsert(ctx, label); err != nil {
		return LabelAddResult{}, err
	}
	return LabelAddResult{Label: label, Warning: warning}, nil
}

// Remove deletes a label but refuses to delete the last one.
func (s *LabelService) Remove(ctx context.Context, projectID, name string) error {
	n, err := s.Labels.Count(ctx, projectID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastLabel
	}
	return s.Labels.Delete(ctx, projectID, name)
}

// List returns the project's labels sorted by name.
func (s *LabelService) List(ctx context.Context, projectID string) ([]repository.Label, error) {
	return s.Labels.ListByProject(ctx, projectID)
}

// Names returns just the label names, in list order.
func (s *LabelService) Names(ctx context.Context, projectID string) ([]string, error) {
	labels, err := s.Labels.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return names, nil
}
