package redis

import (
	"context"
	"time"

	"mpesa-settlement/internal/domain/ports/adapter"
)

var _ adapter.Deduper = (*Deduper)(nil)

// Deduper marks keys with SETNX so repeated jobs (reminders) fire once per ttl.
type Deduper struct {
	client RedisClient
	prefix string
}

func NewDeduper(client RedisClient, prefix string) *Deduper {
	return &Deduper{client: client, prefix: prefix}
}

func (d *Deduper) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+key, time.Now().Unix(), ttl)
}
