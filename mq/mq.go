package mq

import (
	"context"
	"encoding/json"
	"errors"
)

const DeleteProjectDrawingsQueue = "DeleteProjectDrawingsQueue"

type MessageQueue interface {
	Send(ctx context.Context, body string) error
	// Receive returns a nil message when the poll came back empty.
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

// Message Id is the handle needed to delete it, not a stable message id.
// Attempt counts deliveries starting at 1; zero means the queue does not
// report it.
type Message struct {
	Id      string
	Body    string
	Attempt int
}

type DeleteProjectDrawingsJob struct {
	ProjectId   string `json:"projectId"`
	RequestedBy string `json:"requestedBy"`
	RequestedAt int64  `json:"requestedAt"`
}

func (job DeleteProjectDrawingsJob) Encode() (string, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func DecodeDeleteProjectDrawingsJob(body string) (DeleteProjectDrawingsJob, error) {
	var job DeleteProjectDrawingsJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return DeleteProjectDrawingsJob{}, err
	}
	if job.ProjectId == "" {
		return DeleteProjectDrawingsJob{}, errors.New("job has no projectId")
	}
	return job, nil
}
