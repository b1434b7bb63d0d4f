package repository

import (
	"errors"
	"time"
)

// ErrDuplicate reports a violated uniqueness constraint.
var ErrDuplicate = errors.New("duplicate row")

// User represents a workspace row, keyed by email.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Project represents a project row.
type Project struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Label represents an annotation class available within a project.
type Label struct {
	ID        string
	ProjectID string
	Name      string
	Color     *string
}

// Box is a single bounding box within a frame. Coordinates are pixel
// x1,y1,x2,y2 in source-frame space. Conf is zero for hand-drawn boxes.
type Box struct {
	Class string  `json:"class"`
	Bbox  [4]int  `json:"bbox"`
	Conf  float64 `json:"conf,omitempty"`
}

// FrameAnnotation represents one annotated frame of one video.
type FrameAnnotation struct {
	ID        string
	ProjectID string
	VideoName string
	FrameNum  int
	Boxes     []Box
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TrainingJob represents a training job row.
type TrainingJob struct {
	ID         string
	ProjectID  string
	VideoName  string
	Format     string
	Status     string
	DatasetDir *string
	ModelPath  *string
	Error      *string
	Metrics    *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Training job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)
