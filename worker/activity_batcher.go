package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zlnvch/surveycanvas/store"
)

type ActivityUpdate struct {
	ProjectId string
	SavedAt   int64
	Saves     int
}

type projectActivity struct {
	lastSaved int64
	saves     int
}

// ActivityBatcher folds canvas saves into per-project counters and writes
// them out on a ticker, when too many projects are pending, or on shutdown.
type ActivityBatcher struct {
	UpdateCh           chan ActivityUpdate
	surveyStore        store.SurveyStore
	tickerMilliseconds int
	maxPending         int
}

func NewActivityBatcher(surveyStore store.SurveyStore, tickerMilliseconds int) *ActivityBatcher {
	return &ActivityBatcher{
		UpdateCh:           make(chan ActivityUpdate, 1024),
		surveyStore:        surveyStore,
		tickerMilliseconds: tickerMilliseconds,
		maxPending:         100,
	}
}

// Record never blocks a save: when the buffer is full the update is dropped.
func (b *ActivityBatcher) Record(update ActivityUpdate) {
	select {
	case b.UpdateCh <- update:
	default:
		log.Warn().Str("projectId", update.ProjectId).Msg("activity buffer full, dropping update")
	}
}

func (b *ActivityBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	pending := make(map[string]projectActivity)

	flush := func(wait bool) {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = make(map[string]projectActivity)

		done := make(chan struct{}, len(batch))
		for projectId, activity := range batch {
			go func(projectId string, activity projectActivity) {
				defer func() { done <- struct{}{} }()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := b.surveyStore.AddProjectActivity(ctx, projectId, activity.lastSaved, activity.saves); err != nil {
					log.Printf("Failed to update activity for project %s: %v", projectId, err)
				}
			}(projectId, activity)
		}
		if wait {
			for range batch {
				<-done
			}
		}
	}

	for {
		select {
		case update := <-b.UpdateCh:
			mergeActivity(pending, update)
			if len(pending) >= b.maxPending {
				flush(false)
			}

		case <-ticker.C:
			flush(false)

		case <-shutdownCtx.Done():
			// drain buffered updates before the final flush
			for {
				select {
				case update := <-b.UpdateCh:
					mergeActivity(pending, update)
				default:
					flush(true)
					return
				}
			}
		}
	}
}

func mergeActivity(pending map[string]projectActivity, update ActivityUpdate) {
	if update.ProjectId == "" {
		return
	}
	activity := pending[update.ProjectId]
	activity.saves += update.Saves
	if update.SavedAt > activity.lastSaved {
		activity.lastSaved = update.SavedAt
	}
	pending[update.ProjectId] = activity
}
