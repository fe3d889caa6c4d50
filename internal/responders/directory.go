package responders

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"crisis-comms/internal/models"
)

const (
	onDutySetKey     = "onduty_responders"
	responderKeyPref = "responder:"
)

// Directory supplies the set of currently on-duty crisis responders. The
// engines only consume responder IDs and contact metadata from it.
type Directory interface {
	OnDuty(ctx context.Context) ([]models.Responder, error)
	SetOnDuty(ctx context.Context, responder models.Responder) error
	SetOffDuty(ctx context.Context, responderID string) error
	Mode() string
}

// RedisDirectory keeps the on-duty roster in Redis with a TTL so stale
// entries expire on their own when a responder's client stops checking in.
type RedisDirectory struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisDirectory constructs the directory over an existing client.
func NewRedisDirectory(client *redis.Client, ttl time.Duration) *RedisDirectory {
	return &RedisDirectory{redis: client, ttl: ttl}
}

// SetOnDuty registers or refreshes a responder on the roster.
func (d *RedisDirectory) SetOnDuty(ctx context.Context, responder models.Responder) error {
	data, err := json.Marshal(responder)
	if err != nil {
		return fmt.Errorf("marshal responder: %w", err)
	}

	pipe := d.redis.Pipeline()
	pipe.Set(ctx, responderKeyPref+responder.ID, data, d.ttl)
	pipe.SAdd(ctx, onDutySetKey, responder.ID)
	pipe.Expire(ctx, onDutySetKey, d.ttl*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set on duty: %w", err)
	}
	return nil
}

// SetOffDuty removes a responder from the roster.
func (d *RedisDirectory) SetOffDuty(ctx context.Context, responderID string) error {
	pipe := d.redis.Pipeline()
	pipe.Del(ctx, responderKeyPref+responderID)
	pipe.SRem(ctx, onDutySetKey, responderID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set off duty: %w", err)
	}
	return nil
}

// OnDuty returns the current roster. Entries whose detail key has expired are
// dropped from the set as a side effect.
func (d *RedisDirectory) OnDuty(ctx context.Context) ([]models.Responder, error) {
	ids, err := d.redis.SMembers(ctx, onDutySetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list on duty: %w", err)
	}
	if len(ids) == 0 {
		return []models.Responder{}, nil
	}

	pipe := d.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, responderKeyPref+id)
	}
	_, _ = pipe.Exec(ctx)

	roster := make([]models.Responder, 0, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			if err == redis.Nil {
				d.redis.SRem(ctx, onDutySetKey, ids[i])
			}
			continue
		}
		var responder models.Responder
		if err := json.Unmarshal([]byte(data), &responder); err != nil {
			log.Printf("responder directory: bad entry for %s: %v", ids[i], err)
			continue
		}
		roster = append(roster, responder)
	}
	return roster, nil
}

// Mode reports the collaborator mode for the health endpoint.
func (d *RedisDirectory) Mode() string { return "ok" }

// NewDirectory connects to Redis and verifies it is reachable, falling back
// to an empty in-memory roster when it is not. Crisis triggering must keep
// working without the directory; broadcasts then reach on-call therapists
// through their live connections only.
func NewDirectory(redisURL string, ttl time.Duration) Directory {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("responder directory disabled, using static: %v", err)
		return &StaticDirectory{}
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("responder directory disabled, using static: %v", err)
		return &StaticDirectory{}
	}

	log.Printf("responder directory connected")
	return NewRedisDirectory(client, ttl)
}
