package bus

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// CommandDeduper answers "have I already processed this command id" for
// the control plane's command-topic consumer (spec §4.D: "keeps a
// bounded LRU of processed command ids per partition and silently drops
// duplicates"). Implementations must be safe for concurrent use.
type CommandDeduper interface {
	// SeenAndRemember reports whether id was already recorded, and
	// records it if not (an atomic check-and-set, not two calls).
	SeenAndRemember(ctx context.Context, id string) (alreadySeen bool, err error)
}

// lruDeduper is the default single-instance control-plane deduper: a
// bounded in-process LRU, grounded on outbox_relay.go's bounded-batch
// shape generalized from "unpublished message batch" to "seen command
// ids". github.com/hashicorp/golang-lru/v2 is used rather than a
// hand-rolled map+list, matching the rest of the retrieval pack's choice
// of that library for bounded caches.
type lruDeduper struct {
	cache *lru.Cache[string, struct{}]
}

// NewLRUDeduper constructs an in-process deduper bounded to size
// entries. Appropriate for a single control-plane instance; use
// NewRedisDeduper when multiple instances share one command stream.
func NewLRUDeduper(size int) (CommandDeduper, error) {
	if size <= 0 {
		size = 100_000
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &lruDeduper{cache: cache}, nil
}

func (d *lruDeduper) SeenAndRemember(ctx context.Context, id string) (bool, error) {
	// ContainsOrAdd is the atomic check-and-set this method promises;
	// Get-then-Add would let two concurrent callers for the same new id
	// both observe a miss and both proceed.
	alreadySeen, _ := d.cache.ContainsOrAdd(id, struct{}{})
	return alreadySeen, nil
}

// redisDeduper backs the same interface with Redis SETNX, so a
// multi-instance control plane shares one dedup set across replicas.
type redisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper constructs a Redis-backed deduper. Entries expire
// after ttl (bounding the set's growth the way the LRU's fixed size
// does for the in-process variant).
func NewRedisDeduper(client *redis.Client, keyPrefix string, ttl time.Duration) CommandDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisDeduper{client: client, prefix: keyPrefix, ttl: ttl}
}

func (d *redisDeduper) SeenAndRemember(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	// SetNX returns true when the key was newly set, i.e. not seen before.
	return !ok, nil
}
