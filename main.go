package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zlnvch/surveycanvas/api"
	"github.com/zlnvch/surveycanvas/cache/redis"
	"github.com/zlnvch/surveycanvas/config"
	"github.com/zlnvch/surveycanvas/mq/sqsmq"
	"github.com/zlnvch/surveycanvas/store"
	"github.com/zlnvch/surveycanvas/store/dynamo"
	"github.com/zlnvch/surveycanvas/store/postgres"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.DevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	surveyStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("Failed to create store")
	}
	defer closeStore()

	deleteProjectQueue, err := sqsmq.NewSQSMessageQueue(ctx, cfg.DevMode, cfg.SQSEndpoint, cfg.SQSQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create SQS MQ")
	}

	surveyCache, err := redis.NewRedisSurveyCache(ctx, cfg.DevMode, cfg.RedisEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create redis cache")
	}
	defer surveyCache.Close()

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to decode jwt secret")
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	surveyAPI, err := api.NewSurveyAPI(surveyStore, deleteProjectQueue, surveyCache, cfg.OAuthConfigs(), jwtSecret, shutdownCtx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create survey api")
	}

	mux := http.NewServeMux()
	surveyAPI.RegisterRoutes(mux, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              ":" + cfg.HostPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting server on host port: %s", cfg.HostPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-shutdownCtx.Done()
	log.Printf("Server shutting down...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(timeoutCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	// activity still buffered is flushed before the store closes
	surveyAPI.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (store.SurveyStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pgStore, err := postgres.NewPostgresSurveyStore(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		return pgStore, func() {
			if err := pgStore.Close(); err != nil {
				log.Printf("Failed to close postgres store: %v", err)
			}
		}, nil

	default:
		dynamoStore, err := dynamo.NewDynamoSurveyStore(ctx, cfg.DevMode, cfg.DynamoDBEndpoint, cfg.DynamoDBTable)
		if err != nil {
			return nil, nil, err
		}
		return dynamoStore, func() {}, nil
	}
}
