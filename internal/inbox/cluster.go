package inbox

import (
	"context"
	"strconv"
	"sync"
	"time"

	"clinic-inbox/internal/logger"

	"github.com/redis/go-redis/v9"
)

const (
	defaultClusterTTL = 30 * time.Second
	clusterOpTimeout  = 2 * time.Second
)

// Cluster shares open-conversation and typing state between instances that
// serve the same inbox. Each instance is one member of a Redis sorted set per
// contact, scored by the time its claim expires, so a crashed instance stops
// counting after one TTL.
type Cluster struct {
	presence *sharedSet
	typing   *sharedSet
	ttl      time.Duration
	log      *logger.Logger
}

// NewCluster uses origin as this instance's member name; pass the relay
// bus origin so both identify the process the same way.
func NewCluster(rdb *redis.Client, origin string, log *logger.Logger) *Cluster {
	log = log.With("component", "cluster")
	return &Cluster{
		presence: newSharedSet(rdb, "inbox:presence:", origin, defaultClusterTTL, log),
		typing:   newSharedSet(rdb, "inbox:typing:", origin, defaultClusterTTL, log),
		ttl:      defaultClusterTTL,
		log:      log,
	}
}

// WithTTL changes how long a claim survives without a refresh.
func (c *Cluster) WithTTL(ttl time.Duration) *Cluster {
	if ttl > 0 {
		c.ttl = ttl
		c.presence.ttl = ttl
		c.typing.ttl = ttl
	}
	return c
}

// Run refreshes this instance's claims until ctx is cancelled, then
// withdraws them.
func (c *Cluster) Run(ctx context.Context) {
	ticker := time.NewTicker(c.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.presence.withdraw()
			c.typing.withdraw()
			return
		case <-ticker.C:
			c.presence.refresh(ctx)
			c.typing.refresh(ctx)
		}
	}
}

type sharedSet struct {
	rdb    *redis.Client
	prefix string
	origin string
	ttl    time.Duration
	log    *logger.Logger

	mu   sync.Mutex
	held map[string]struct{}
}

func newSharedSet(rdb *redis.Client, prefix, origin string, ttl time.Duration, log *logger.Logger) *sharedSet {
	return &sharedSet{
		rdb:    rdb,
		prefix: prefix,
		origin: origin,
		ttl:    ttl,
		log:    log,
		held:   make(map[string]struct{}),
	}
}

func (s *sharedSet) key(id string) string {
	return s.prefix + id
}

// sync publishes the current local state of id. Calls are serialized and
// each one reads present afresh, so the last call always wins even when
// acquire and release race.
func (s *sharedSet) sync(id string, present func(string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), clusterOpTimeout)
	defer cancel()

	var err error
	if present(id) {
		s.held[id] = struct{}{}
		err = s.claim(ctx, id)
	} else {
		delete(s.held, id)
		err = s.rdb.ZRem(ctx, s.key(id), s.origin).Err()
	}
	if err != nil {
		s.log.Warn("cluster state update failed", "key", s.key(id), "error", err)
	}
}

func (s *sharedSet) claim(ctx context.Context, id string) error {
	expires := time.Now().Add(s.ttl).UnixMilli()
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.key(id), redis.Z{Score: float64(expires), Member: s.origin})
		p.Expire(ctx, s.key(id), 2*s.ttl)
		return nil
	})
	return err
}

// has reports whether any instance holds a live claim on id.
func (s *sharedSet) has(ctx context.Context, id string) (bool, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	n, err := s.rdb.ZCount(ctx, s.key(id), "("+now, "+inf").Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sharedSet) refresh(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.held {
		opCtx, cancel := context.WithTimeout(ctx, clusterOpTimeout)
		if err := s.claim(opCtx, id); err != nil {
			s.log.Warn("cluster claim refresh failed", "key", s.key(id), "error", err)
		}
		cancel()
	}
}

func (s *sharedSet) withdraw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.held {
		ctx, cancel := context.WithTimeout(context.Background(), clusterOpTimeout)
		_ = s.rdb.ZRem(ctx, s.key(id), s.origin).Err()
		cancel()
		delete(s.held, id)
	}
}
