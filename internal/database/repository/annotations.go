package repository

import (
	"context"
	"database/sql"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// AnnotationRepo handles per-frame annotation blobs.
type AnnotationRepo struct {
	db *sql.DB
}

func NewAnnotationRepo(db *sql.DB) *AnnotationRepo { return &AnnotationRepo{db: db} }

// execer is satisfied by *sql.DB and *sql.Tx, so writes can join a
// caller's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertFrame stores the full box list for one frame, replacing any
// previous payload. An empty list is stored as-is: a cleared frame keeps
// its row so exports and stats can tell "cleared" from "never touched".
func (r *AnnotationRepo) UpsertFrame(ctx context.Context, projectID, videoName string, frameNum int, boxes []Box) error {
	return upsertFrame(ctx, r.db, projectID, videoName, frameNum, boxes)
}

// UpsertFrameTx is UpsertFrame inside an existing transaction.
func (r *AnnotationRepo) UpsertFrameTx(ctx context.Context, tx *sql.Tx, projectID, videoName string, frameNum int, boxes []Box) error {
	return upsertFrame(ctx, tx, projectID, videoName, frameNum, boxes)
}

func upsertFrame(ctx context.Context, ex execer, projectID, videoName string, frameNum int, boxes []Box) error {
	if boxes == nil {
		boxes = []Box{}
	}
	payload, err := json.Marshal(boxes)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
	INSERT INTO annotations(id, project_id, video_name, frame_num, payload, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(project_id, video_name, frame_num) DO UPDATE SET
	 payload=excluded.payload,
	 updated_at=CURRENT_TIMESTAMP;
	`, uuid.NewString(), projectID, videoName, frameNum, string(payload))
	return err
}

// LoadFrame returns the boxes for one frame, or nil when the frame has
// never been annotated.
func (r *AnnotationRepo) LoadFrame(ctx context.Context, projectID, videoName string, frameNum int) ([]Box, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT payload FROM annotations
	WHERE project_id = ? AND video_name = ? AND frame_num = ?`,
		projectID, videoName, frameNum)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var boxes []Box
	if err := json.Unmarshal([]byte(payload), &boxes); err != nil {
		return nil, err
	}
	return boxes, nil
}

// LoadVideo returns all annotated frames of a video keyed by frame number.
func (r *AnnotationRepo) LoadVideo(ctx context.Context, projectID, videoName string) (map[int][]Box, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT frame_num, payload FROM annotations
	WHERE project_id = ? AND video_name = ?`,
		projectID, videoName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int][]Box)
	for rows.Next() {
		var frame int
		var payload string
		if err := rows.Scan(&frame, &payload); err != nil {
			return nil, err
		}
		var boxes []Box
		if err := json.Unmarshal([]byte(payload), &boxes); err != nil {
			return nil, err
		}
		out[frame] = boxes
	}
	return out, rows.Err()
}

func (r *AnnotationRepo) DeleteFrame(ctx context.Context, projectID, videoName string, frameNum int) error {
	_, err := r.db.ExecContext(ctx, `
	DELETE FROM annotations
	WHERE project_id = ? AND video_name = ? AND frame_num = ?`,
		projectID, videoName, frameNum)
	return err
}

// VideoStats summarizes annotation progress for one video.
type VideoStats struct {
	AnnotatedFrames int
	TotalBoxes      int
}

func (r *AnnotationRepo) Stats(ctx context.Context, projectID, videoName string) (VideoStats, error) {
	frames, err := r.LoadVideo(ctx, projectID, videoName)
	if err != nil {
		return VideoStats{}, err
	}
	var s VideoStats
	s.AnnotatedFrames = len(frames)
	for _, boxes := range frames {
		s.TotalBoxes += len(boxes)
	}
	return s, nil
}
