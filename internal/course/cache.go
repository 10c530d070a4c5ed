package course

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultCacheTTL bounds how stale a cached classroom location can be.
const DefaultCacheTTL = time.Hour

// Cached puts a Redis read-through cache of course locations in front of
// a Reader. Check-in bursts hit the cache instead of the database. Courses
// without a configured location are never cached.
type Cached struct {
	Reader
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewCached wraps next with a location cache.
func NewCached(next Reader, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{Reader: next, rdb: rdb, ttl: ttl, log: log}
}

func locationKey(id string) string { return "course_loc:" + id }

// Location serves from Redis and falls back to the wrapped reader. Redis
// failures degrade to a database read.
func (c *Cached) Location(ctx context.Context, id string) (Location, error) {
	data, err := c.rdb.Get(ctx, locationKey(id)).Bytes()
	switch {
	case err == nil:
		var loc Location
		if jerr := json.Unmarshal(data, &loc); jerr == nil {
			return loc, nil
		}
		c.log.Warn().Str("course_id", id).Msg("dropping undecodable cached location")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("course_id", id).Msg("location cache read failed")
	}

	loc, err := c.Reader.Location(ctx, id)
	if err != nil {
		return Location{}, err
	}
	if loc.Set {
		c.store(ctx, id, loc)
	}
	return loc, nil
}

// Invalidate drops the cached location of a course after it was edited.
func (c *Cached) Invalidate(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, locationKey(id)).Err()
}

func (c *Cached) store(ctx context.Context, id string, loc Location) {
	data, err := json.Marshal(loc)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, locationKey(id), data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("course_id", id).Msg("location cache write failed")
	}
}
