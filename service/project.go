package service

import (
	"context"
	"errors"
	"time"

	"github.com/zlnvch/surveycanvas/models"
	"github.com/zlnvch/surveycanvas/mq"
	"github.com/zlnvch/surveycanvas/store"
)

// DeleteProject queues the removal of every drawing in the project. The
// drawings disappear once the consumer has processed the job.
func (s *Service) DeleteProject(ctx context.Context, user models.User, projectId string) error {
	if err := ValidateProjectId(projectId); err != nil {
		return err
	}

	body, err := mq.DeleteProjectDrawingsJob{
		ProjectId:   projectId,
		RequestedBy: user.Id,
		RequestedAt: time.Now().Unix(),
	}.Encode()
	if err != nil {
		return err
	}

	return s.MQ.Send(ctx, body)
}

// GetProjectActivity reports a project nobody saved in yet as zero activity.
func (s *Service) GetProjectActivity(ctx context.Context, projectId string) (models.ProjectActivity, error) {
	if err := ValidateProjectId(projectId); err != nil {
		return models.ProjectActivity{}, err
	}

	activity, err := s.Store.GetProjectActivity(ctx, projectId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.ProjectActivity{ProjectId: projectId}, nil
		}
		return models.ProjectActivity{}, err
	}

	return activity, nil
}
