// Package analytics keeps time-bucketed notification volume counters
// in Redis, keyed per scope and resource. Best effort: a write failure
// never touches notification processing.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/opsched/internal/domain"
)

// DefaultRetention is how long a volume bucket survives after its
// last increment.
const DefaultRetention = 7 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	window    time.Duration
	retention time.Duration
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{
		client:    client,
		window:    time.Minute,
		retention: DefaultRetention,
	}
}

func (s *RedisSink) WithWindow(window time.Duration) *RedisSink {
	s.window = window
	return s
}

func (s *RedisSink) WithRetention(retention time.Duration) *RedisSink {
	s.retention = retention
	return s
}

// Record increments the volume bucket for the event. Failures are
// logged and swallowed; counters are not worth blocking the worker.
func (s *RedisSink) Record(ctx context.Context, event domain.NotificationEvent) {
	key := buildKey(event.ScopeID.String(), event.Resource, event.EventTime(), s.window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline: %v", err)
	}
}

func buildKey(scopeID, resource string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("s:%s:r:%s:notif:%s", scopeID, resource, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
