package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"framelabel/internal/database/repository"
)

// DefaultLabels are seeded into every new project so annotation can start
// immediately. Projects edit their own set afterwards.
var DefaultLabels = []string{"good-cup", "bad-cup", "no-cup"}

// SeedProjectLabels ensures a project has at least the default label set.
// It is idempotent and safe to run on every project open.
func SeedProjectLabels(ctx context.Context, db *sql.DB, projectID string) error {
	labelRepo := repository.NewLabelRepo(db)
	existing, err := labelRepo.ListByProject(ctx, projectID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, name := range DefaultLabels {
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("label:"+projectID+":"+name)).String()
		if err := labelRepo.Upsert(ctx, repository.Label{ID: id, ProjectID: projectID, Name: name}); err != nil {
			return err
		}
	}
	return nil
}
