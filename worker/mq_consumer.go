package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zlnvch/surveycanvas/cache"
	"github.com/zlnvch/surveycanvas/mq"
	"github.com/zlnvch/surveycanvas/store"
)

type MQConsumer struct {
	deleteProjectQueue mq.MessageQueue
	surveyStore        store.SurveyStore
	surveyCache        cache.SurveyCache
}

func NewMQConsumer(deleteProjectQueue mq.MessageQueue, surveyStore store.SurveyStore, surveyCache cache.SurveyCache) *MQConsumer {
	return &MQConsumer{
		deleteProjectQueue: deleteProjectQueue,
		surveyStore:        surveyStore,
		surveyCache:        surveyCache,
	}
}

// Allow up to 5 minutes for the throttled deletion of a large project
const visibilityTimeout = 300

// A job still failing after this many deliveries is dropped
const maxDeliveryAttempts = 10

const receiveErrorBackoff = 5 * time.Second

func (mqConsumer *MQConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := mqConsumer.deleteProjectQueue.Receive(shutdownCtx, visibilityTimeout)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("mqConsumer receive error: %v", err)
			select {
			case <-shutdownCtx.Done():
				return
			case <-time.After(receiveErrorBackoff):
			}
			continue
		}

		if msg == nil {
			if shutdownCtx.Err() != nil {
				return
			}
			continue
		}

		mqConsumer.handle(msg)
	}
}

func (mqConsumer *MQConsumer) handle(msg *mq.Message) {
	job, err := mq.DecodeDeleteProjectDrawingsJob(msg.Body)
	if err != nil {
		// a body that never decodes would be redelivered forever
		log.Error().Err(err).Str("body", msg.Body).Msg("dropping undecodable deletion job")
		if err := mqConsumer.deleteProjectQueue.Delete(context.Background(), msg); err != nil {
			log.Printf("mqConsumer delete error: %v", err)
		}
		return
	}

	if msg.Attempt > maxDeliveryAttempts {
		log.Error().Str("projectId", job.ProjectId).Int("attempt", msg.Attempt).Msg("giving up on project deletion")
		if err := mqConsumer.deleteProjectQueue.Delete(context.Background(), msg); err != nil {
			log.Printf("mqConsumer delete error: %v", err)
		}
		return
	}

	// timeout should be a little less than queue visibility timeout
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(visibilityTimeout-1)*time.Second)
	defer cancel()

	deleted, err := mqConsumer.surveyStore.SoftDeleteProjectDrawings(ctx, job.ProjectId, time.Now().Unix())

	// Whatever was deleted must leave the cache and close open sessions, even on partial failure
	if len(deleted) > 0 {
		if err := mqConsumer.surveyCache.InvalidateDrawings(ctx, deleted); err != nil {
			log.Printf("Failed to invalidate drawings of project %s: %v", job.ProjectId, err)
		}
		for _, drawingId := range deleted {
			if err := mqConsumer.surveyCache.Publish(ctx, cache.DrawingDeletedChannel, []byte(drawingId)); err != nil {
				log.Printf("Failed to publish drawing-deleted for %s: %v", drawingId, err)
			}
		}
	}

	if err != nil {
		log.Error().Err(err).Str("projectId", job.ProjectId).Int("deleted", len(deleted)).Msg("project deletion failed, will retry")
		return
	}

	log.Printf("Deleted %d drawings of project %s", len(deleted), job.ProjectId)

	if err := mqConsumer.deleteProjectQueue.Delete(context.Background(), msg); err != nil {
		log.Printf("mqConsumer delete error: %v", err)
	}
}
