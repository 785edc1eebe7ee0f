package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPresenceCountsConnections(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()
	task := uuid.New()
	ada := OnlineUser{UserID: "1", UserName: "ada"}
	bob := OnlineUser{UserID: "2", UserName: "bob"}

	require.NoError(t, p.Join(ctx, task, bob))
	require.NoError(t, p.Join(ctx, task, ada))
	require.NoError(t, p.Join(ctx, task, ada))

	online, err := p.Online(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, []OnlineUser{ada, bob}, online)

	require.NoError(t, p.Leave(ctx, task, ada))
	require.NoError(t, p.Leave(ctx, task, bob))
	online, err = p.Online(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, []OnlineUser{ada}, online)

	require.NoError(t, p.Leave(ctx, task, ada))
	online, err = p.Online(ctx, task)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func newRedisPair(t *testing.T) (*miniredis.Miniredis, *RedisPresence, *RedisPresence) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisPresence(client, 10*time.Second), NewRedisPresence(client, 10*time.Second)
}

func TestRedisPresenceAcrossInstances(t *testing.T) {
	_, a, b := newRedisPair(t)
	ctx := context.Background()
	task := uuid.New()
	ada := OnlineUser{UserID: uuid.NewString(), UserName: "ada"}

	require.NoError(t, a.Join(ctx, task, ada))
	require.NoError(t, b.Join(ctx, task, ada))
	require.NoError(t, a.Leave(ctx, task, ada))

	online, err := b.Online(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, []OnlineUser{ada}, online)

	require.NoError(t, b.Leave(ctx, task, ada))
	online, err = a.Online(ctx, task)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestRedisPresenceCountsTabs(t *testing.T) {
	_, a, _ := newRedisPair(t)
	ctx := context.Background()
	task := uuid.New()
	ada := OnlineUser{UserID: uuid.NewString(), UserName: "ada"}
	bob := OnlineUser{UserID: uuid.NewString(), UserName: "bob"}

	require.NoError(t, a.Join(ctx, task, ada))
	require.NoError(t, a.Join(ctx, task, ada))
	require.NoError(t, a.Join(ctx, task, bob))
	require.NoError(t, a.Leave(ctx, task, ada))

	online, err := a.Online(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, []OnlineUser{ada, bob}, online)

	// an extra leave must not push the count below zero
	require.NoError(t, a.Leave(ctx, task, ada))
	require.NoError(t, a.Leave(ctx, task, ada))
	require.NoError(t, a.Join(ctx, task, ada))
	online, err = a.Online(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, []OnlineUser{ada, bob}, online)
}

func TestRedisPresencePrunesDeadInstance(t *testing.T) {
	mr, a, b := newRedisPair(t)
	ctx := context.Background()
	task := uuid.New()
	ada := OnlineUser{UserID: uuid.NewString(), UserName: "ada"}
	bob := OnlineUser{UserID: uuid.NewString(), UserName: "bob"}

	require.NoError(t, a.Join(ctx, task, ada))
	require.NoError(t, b.Join(ctx, task, bob))

	// a stops heartbeating, b keeps going
	mr.FastForward(6 * time.Second)
	require.NoError(t, b.Heartbeat(ctx))
	mr.FastForward(6 * time.Second)

	online, err := b.Online(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, []OnlineUser{bob}, online)
	fields, err := mr.HKeys(b.taskKey(task))
	require.NoError(t, err)
	assert.Equal(t, []string{b.field(bob.UserID)}, fields)
}

func TestRedisPresenceRunRetiresInstance(t *testing.T) {
	mr, a, b := newRedisPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	task := uuid.New()
	ada := OnlineUser{UserID: uuid.NewString(), UserName: "ada"}

	require.NoError(t, a.Join(ctx, task, ada))
	done := make(chan struct{})
	go func() {
		a.Run(ctx, nil)
		close(done)
	}()
	cancel()
	<-done

	assert.False(t, mr.Exists(a.instanceKey(a.instance)))
	online, err := b.Online(context.Background(), task)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestConnectRedis(t *testing.T) {
	_, err := ConnectRedis(context.Background(), "not a url")
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	client, err := ConnectRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	client.Close()
}
