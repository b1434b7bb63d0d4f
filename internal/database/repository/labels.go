package repository

import (
	"context"
	"database/sql"
)

// LabelRepo handles per-project annotation classes.
type LabelRepo struct {
	db *sql.DB
}

func NewLabelRepo(db *sql.DB) *LabelRepo { return &LabelRepo{db: db} }

func (r *LabelRepo) Upsert(ctx context.Context, l Label) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO labels(id, project_id, name, color)
	VALUES(?, ?, ?, ?)
	ON CONFLICT(project_id, name) DO UPDATE SET color=excluded.color;
	`, l.ID, l.ProjectID, l.Name, l.Color)
	return err
}

func (r *LabelRepo) ListByProject(ctx context.Context, projectID string) ([]Label, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, project_id, name, color FROM labels WHERE project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Label
	for rows.Next() {
		var l Label
		var color sql.NullString
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &color); err != nil {
			return nil, err
		}
		if color.Valid {
			l.Color = &color.String
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *LabelRepo) Delete(ctx context.Context, projectID, name string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM labels WHERE project_id = ? AND name = ?`, projectID, name)
	return err
}

func (r *LabelRepo) Count(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM labels WHERE project_id = ?`, projectID).Scan(&n)
	return n, err
}
