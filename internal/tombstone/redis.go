package tombstone

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the set in a Redis SET so several clients of one user share it
type Redis struct {
	client *redis.Client
	key    string
}

// RedisConfig holds the connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(ctx context.Context, cfg RedisConfig, key string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedisWithClient(client, key), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: "apitester:" + key}
}

func (r *Redis) Load(ctx context.Context) (IDs, error) {
	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	return newIDs(members), nil
}

func (r *Redis) Add(ctx context.Context, id string) error {
	return r.client.SAdd(ctx, r.key, id).Err()
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}
