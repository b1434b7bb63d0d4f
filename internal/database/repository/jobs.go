package repository

import (
	"context"
	"database/sql"
)

// TrainingJobRepo handles training job rows.
type TrainingJobRepo struct {
	db *sql.DB
}

func NewTrainingJobRepo(db *sql.DB) *TrainingJobRepo { return &TrainingJobRepo{db: db} }

func (r *TrainingJobRepo) Create(ctx context.Context, j TrainingJob) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO training_jobs(id, project_id, video_name, format, status, dataset_dir, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`, j.ID, j.ProjectID, j.VideoName, j.Format, j.Status, j.DatasetDir)
	return err
}

func (r *TrainingJobRepo) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE training_jobs SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

func (r *TrainingJobRepo) SetError(ctx context.Context, id, msg string) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE training_jobs SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		JobFailed, msg, id)
	return err
}

func (r *TrainingJobRepo) SetResult(ctx context.Context, id, modelPath, metrics string) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE training_jobs SET status = ?, model_path = ?, metrics = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		JobSucceeded, modelPath, metrics, id)
	return err
}

func (r *TrainingJobRepo) Get(ctx context.Context, id string) (*TrainingJob, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT id, project_id, video_name, format, status, dataset_dir, model_path, error, metrics, created_at, updated_at
	FROM training_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &j, nil
}

func (r *TrainingJobRepo) ListByProject(ctx context.Context, projectID string) ([]TrainingJob, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, project_id, video_name, format, status, dataset_dir, model_path, error, metrics, created_at, updated_at
	FROM training_jobs WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TrainingJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// scanJob handles nullable fields for both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (TrainingJob, error) {
	var j TrainingJob
	var dataset, model, errMsg, metrics sql.NullString
	if err := row.Scan(&j.ID, &j.ProjectID, &j.VideoName, &j.Format, &j.Status,
		&dataset, &model, &errMsg, &metrics, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return TrainingJob{}, err
	}
	if dataset.Valid {
		j.DatasetDir = &dataset.String
	}
	if model.Valid {
		j.ModelPath = &model.String
	}
	if errMsg.Valid {
		j.Error = &errMsg.String
	}
	if metrics.Valid {
		j.Metrics = &metrics.String
	}
	return j, nil
}
