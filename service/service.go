package service

import (
	"github.com/zlnvch/surveycanvas/cache"
	"github.com/zlnvch/surveycanvas/mq"
	"github.com/zlnvch/surveycanvas/store"
	"github.com/zlnvch/surveycanvas/worker"
	"golang.org/x/oauth2"
)

type Service struct {
	Store           store.SurveyStore
	Cache           cache.SurveyCache
	MQ              mq.MessageQueue
	ActivityBatcher *worker.ActivityBatcher
	OAuthConfigs    map[string]*oauth2.Config
	JWTSecret       []byte
}

func NewService(
	store store.SurveyStore,
	cache cache.SurveyCache,
	mq mq.MessageQueue,
	activityBatcher *worker.ActivityBatcher,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
) (*Service, error) {
	oauthConfigs, err := addOauthEndpointsAndScopes(oauthConfigs)
	if err != nil {
		return nil, err
	}

	return &Service{
		Store:           store,
		Cache:           cache,
		MQ:              mq,
		ActivityBatcher: activityBatcher,
		OAuthConfigs:    oauthConfigs,
		JWTSecret:       jwtSecret,
	}, nil
}
