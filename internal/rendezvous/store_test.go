// ABOUTME: Directory and presence store tests
// ABOUTME: Runs the same cases against memory and miniredis-backed stores
package rendezvous

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := ConnectRedis(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDirectory(t *testing.T) {
	tests := []struct {
		name string
		dir  func(t *testing.T) Directory
	}{
		{name: "memory", dir: func(t *testing.T) Directory { return NewMemoryDirectory() }},
		{name: "redis", dir: func(t *testing.T) Directory { return NewRedisDirectory(newTestRedis(t), 0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			dir := tt.dir(t)

			_, err := dir.Lookup(ctx, "jam")
			assert.ErrorIs(t, err, ErrRoomNotFound)

			meta := RoomMeta{ID: "jam", Name: "Friday jam", SongID: "song-7", MaxParticipants: 4}
			require.NoError(t, dir.Put(ctx, meta))

			got, err := dir.Lookup(ctx, "jam")
			require.NoError(t, err)
			assert.Equal(t, meta, got)
		})
	}
}

func TestPresence(t *testing.T) {
	tests := []struct {
		name     string
		presence func(t *testing.T) Presence
	}{
		{name: "memory", presence: func(t *testing.T) Presence { return NewMemoryPresence() }},
		{name: "redis", presence: func(t *testing.T) Presence { return NewRedisPresence(newTestRedis(t)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			p := tt.presence(t)

			require.NoError(t, p.Add(ctx, "jam", "b"))
			require.NoError(t, p.Add(ctx, "jam", "a"))
			require.NoError(t, p.Add(ctx, "jam", "a"))
			require.NoError(t, p.Add(ctx, "other", "c"))

			members, err := p.Members(ctx, "jam")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, members)

			require.NoError(t, p.Remove(ctx, "jam", "a"))
			require.NoError(t, p.Remove(ctx, "jam", "missing"))
			members, err = p.Members(ctx, "jam")
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, members)

			members, err = p.Members(ctx, "empty")
			require.NoError(t, err)
			assert.Empty(t, members)
		})
	}
}

func TestRedisPresenceExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := ConnectRedis(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	p := NewRedisPresence(client)
	require.NoError(t, p.Add(context.Background(), "jam", "a"))
	assert.Equal(t, presenceTTL, mr.TTL(peersKey("jam")))

	mr.FastForward(presenceTTL + 1)
	members, err := p.Members(context.Background(), "jam")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestConnectRedisFailure(t *testing.T) {
	_, err := ConnectRedis(context.Background(), RedisOptions{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
