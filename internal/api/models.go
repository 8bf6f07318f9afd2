package api

import (
	"encoding/json"
	"time"
)

// Common request/response structures

// CreateTaskRequest defines the payload for the task creation endpoint. The
// payload is the opaque prompt-task document handed to the execution
// service.
type CreateTaskRequest struct {
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// TaskResponse defines the response data for a created task.
type TaskResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// TransitionRecord is one audit entry in a task's status history.
type TransitionRecord struct {
	FromStatus       string    `json:"from_status"`
	ToStatus         string    `json:"to_status"`
	Reason           string    `json:"reason"`
	Actor            string    `json:"actor"`
	ResultingVersion int64     `json:"resulting_version"`
	CreatedAt        time.Time `json:"created_at"`
}

// TaskStatusResponse defines the response data for a status query.
type TaskStatusResponse struct {
	ID             string             `json:"id"`
	Status         string             `json:"status"`
	Version        int64              `json:"version"`
	RetryCount     int                `json:"retry_count"`
	SubmissionTime *time.Time         `json:"submission_time,omitempty"`
	ExecutionTime  *time.Time         `json:"execution_time,omitempty"`
	LastError      string             `json:"last_error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	History        []TransitionRecord `json:"history"`
}

// TransitionResponse defines the response data for a manual transition.
type TransitionResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Version int64  `json:"version"`
}
