// Package testutil provides testing utilities for the flash-sale packages.
package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewRedis starts an in-process Redis server and returns a client connected to it.
// Both are torn down when the test ends. Use the returned server to fast-forward
// TTLs or inspect keys directly.
func NewRedis(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: server.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
	})

	return client, server
}
