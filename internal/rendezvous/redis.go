// ABOUTME: Redis-backed presence and room directory
// ABOUTME: Lets several rendezvous nodes share room metadata and membership
package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix = "jam:room:"
	presenceTTL   = 24 * time.Hour
)

func roomKey(roomID string) string {
	return roomKeyPrefix + roomID
}

func peersKey(roomID string) string {
	return roomKeyPrefix + roomID + ":peers"
}

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// ConnectRedis opens a client and verifies the server responds
func ConnectRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisDirectory stores room metadata as JSON under jam:room:<id>
type RedisDirectory struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDirectory creates a directory; ttl 0 keeps rooms forever
func NewRedisDirectory(client *redis.Client, ttl time.Duration) *RedisDirectory {
	return &RedisDirectory{client: client, ttl: ttl}
}

func (d *RedisDirectory) Lookup(ctx context.Context, roomID string) (RoomMeta, error) {
	data, err := d.client.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RoomMeta{}, ErrRoomNotFound
	}
	if err != nil {
		return RoomMeta{}, fmt.Errorf("room lookup failed: %w", err)
	}

	var meta RoomMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return RoomMeta{}, fmt.Errorf("failed to parse room %s: %w", roomID, err)
	}
	return meta, nil
}

func (d *RedisDirectory) Put(ctx context.Context, meta RoomMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode room: %w", err)
	}
	if err := d.client.Set(ctx, roomKey(meta.ID), data, d.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store room: %w", err)
	}
	return nil
}

// RedisPresence keeps each room's members in a set
type RedisPresence struct {
	client *redis.Client
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func (p *RedisPresence) Add(ctx context.Context, roomID, participantID string) error {
	key := peersKey(roomID)
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, key, participantID)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence add failed: %w", err)
	}
	return nil
}

func (p *RedisPresence) Remove(ctx context.Context, roomID, participantID string) error {
	if err := p.client.SRem(ctx, peersKey(roomID), participantID).Err(); err != nil {
		return fmt.Errorf("presence remove failed: %w", err)
	}
	return nil
}

func (p *RedisPresence) Members(ctx context.Context, roomID string) ([]string, error) {
	members, err := p.client.SMembers(ctx, peersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence lookup failed: %w", err)
	}
	sort.Strings(members)
	return members, nil
}
