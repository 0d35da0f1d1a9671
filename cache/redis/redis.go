package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type RedisSurveyCache struct {
	client redis.UniversalClient
}

func NewRedisSurveyCache(ctx context.Context, devMode bool, redisEndpoint string) (*RedisSurveyCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &RedisSurveyCache{client: client}, nil
}

func (redisCache *RedisSurveyCache) Close() error {
	return redisCache.client.Close()
}

func (redisCache *RedisSurveyCache) Publish(ctx context.Context, channel string, message []byte) error {
	if err := redisCache.client.Publish(ctx, channel, message).Err(); err != nil {
		return err
	}
	return nil
}

func (redisCache *RedisSurveyCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.Printf("Pubsub channel closed: %s", channel)
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Hash tags keep every key of one drawing in the same cluster slot
func buildCanvasKey(drawingId string) string {
	return "drawing:{" + drawingId + "}:canvas"
}

const cacheTTL = 10 * time.Minute

// The cached value is the serialized document exactly as the store holds it,
// so a hit can be handed to the codec without touching the store.
func (redisCache *RedisSurveyCache) GetCanvas(ctx context.Context, drawingId string) ([]byte, bool, error) {
	key := buildCanvasKey(drawingId)

	data, err := redisCache.client.GetEx(ctx, key, cacheTTL).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return data, true, nil
}

func (redisCache *RedisSurveyCache) SetCanvas(ctx context.Context, drawingId string, data []byte) error {
	return redisCache.client.Set(ctx, buildCanvasKey(drawingId), data, cacheTTL).Err()
}

func (redisCache *RedisSurveyCache) SetCanvasIfAbsent(ctx context.Context, drawingId string, data []byte) error {
	return redisCache.client.SetNX(ctx, buildCanvasKey(drawingId), data, cacheTTL).Err()
}

func (redisCache *RedisSurveyCache) InvalidateDrawings(ctx context.Context, drawingIds []string) error {
	if len(drawingIds) == 0 {
		return nil
	}

	// Keys of different drawings may live in different slots, so no multi-key DEL
	for _, drawingId := range drawingIds {
		if err := redisCache.client.Del(ctx, buildCanvasKey(drawingId)).Err(); err != nil {
			return err
		}
	}

	return nil
}
