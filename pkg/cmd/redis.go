package cmd

import (
	redis "github.com/redis/go-redis/v9"
)

// NewRedisClient parses a redis:// URL and returns a connected client. Used
// for the agent task queue and the scheduler leader lease.
func NewRedisClient(redisURL string) redis.UniversalClient {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic("Invalid Redis URL: " + err.Error())
	}

	return redis.NewClient(opts)
}
