package realtime

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Presence tracks which users are viewing a task. Join and Leave are called
// once per connection, so a user with two tabs open stays online until both
// have left.
type Presence interface {
	Join(ctx context.Context, taskID uuid.UUID, user OnlineUser) error
	Leave(ctx context.Context, taskID uuid.UUID, user OnlineUser) error
	Online(ctx context.Context, taskID uuid.UUID) ([]OnlineUser, error)
}

type presenceEntry struct {
	user  OnlineUser
	conns int
}

// MemoryPresence is the single instance implementation.
type MemoryPresence struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]map[string]*presenceEntry
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{tasks: make(map[uuid.UUID]map[string]*presenceEntry)}
}

func (p *MemoryPresence) Join(_ context.Context, taskID uuid.UUID, user OnlineUser) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	users, ok := p.tasks[taskID]
	if !ok {
		users = make(map[string]*presenceEntry)
		p.tasks[taskID] = users
	}
	entry, ok := users[user.UserID]
	if !ok {
		entry = &presenceEntry{}
		users[user.UserID] = entry
	}
	entry.user = user
	entry.conns++
	return nil
}

func (p *MemoryPresence) Leave(_ context.Context, taskID uuid.UUID, user OnlineUser) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	users, ok := p.tasks[taskID]
	if !ok {
		return nil
	}
	if entry, ok := users[user.UserID]; ok {
		entry.conns--
		if entry.conns <= 0 {
			delete(users, user.UserID)
		}
	}
	if len(users) == 0 {
		delete(p.tasks, taskID)
	}
	return nil
}

func (p *MemoryPresence) Online(_ context.Context, taskID uuid.UUID) ([]OnlineUser, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]OnlineUser, 0, len(p.tasks[taskID]))
	for _, e := range p.tasks[taskID] {
		out = append(out, e.user)
	}
	sortUsers(out)
	return out, nil
}

// leaveScript decrements a connection count and drops the field at zero.
var leaveScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return n
`)

const (
	defaultInstanceTTL = 30 * time.Second
	taskKeyTTL         = 24 * time.Hour
)

// RedisPresence shares presence between instances. Each task is a hash of
// "<instance>|<user>" to a connection count. Every instance keeps a
// heartbeat key alive; counts owned by an instance whose heartbeat expired
// are ignored and pruned, so a crashed instance does not leave ghosts.
type RedisPresence struct {
	client   *redis.Client
	prefix   string
	instance string
	ttl      time.Duration
}

// NewRedisPresence registers a new instance. ttl is how long the instance
// stays alive without a heartbeat.
func NewRedisPresence(client *redis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = defaultInstanceTTL
	}
	return &RedisPresence{
		client:   client,
		prefix:   "taskflow:presence:",
		instance: uuid.NewString(),
		ttl:      ttl,
	}
}

// ConnectRedis parses a redis:// URL and checks the server answers.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (p *RedisPresence) taskKey(taskID uuid.UUID) string {
	return p.prefix + "task:" + taskID.String()
}

func (p *RedisPresence) namesKey() string {
	return p.prefix + "names"
}

func (p *RedisPresence) instanceKey(instance string) string {
	return p.prefix + "instance:" + instance
}

func (p *RedisPresence) field(userID string) string {
	return p.instance + "|" + userID
}

// Heartbeat marks this instance as alive for another ttl.
func (p *RedisPresence) Heartbeat(ctx context.Context) error {
	return p.client.Set(ctx, p.instanceKey(p.instance), time.Now().Unix(), p.ttl).Err()
}

// Run refreshes the heartbeat until ctx is cancelled, then retires the
// instance so its connections drop out of every task at once.
func (p *RedisPresence) Run(ctx context.Context, onError func(error)) {
	ticker := time.NewTicker(p.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.Heartbeat(ctx); err != nil && onError != nil {
				onError(err)
			}
		case <-ctx.Done():
			retire, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			p.client.Del(retire, p.instanceKey(p.instance))
			cancel()
			return
		}
	}
}

func (p *RedisPresence) Join(ctx context.Context, taskID uuid.UUID, user OnlineUser) error {
	key := p.taskKey(taskID)
	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.instanceKey(p.instance), time.Now().Unix(), p.ttl)
	pipe.HSet(ctx, p.namesKey(), user.UserID, user.UserName)
	pipe.HIncrBy(ctx, key, p.field(user.UserID), 1)
	pipe.Expire(ctx, key, taskKeyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPresence) Leave(ctx context.Context, taskID uuid.UUID, user OnlineUser) error {
	return leaveScript.Run(ctx, p.client, []string{p.taskKey(taskID)}, p.field(user.UserID)).Err()
}

func (p *RedisPresence) Online(ctx context.Context, taskID uuid.UUID) ([]OnlineUser, error) {
	key := p.taskKey(taskID)
	counts, err := p.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return []OnlineUser{}, nil
	}

	byInstance := make(map[string][]string)
	for field := range counts {
		instance, _, ok := strings.Cut(field, "|")
		if !ok {
			continue
		}
		byInstance[instance] = append(byInstance[instance], field)
	}

	pipe := p.client.Pipeline()
	alive := make(map[string]*redis.IntCmd, len(byInstance))
	for instance := range byInstance {
		alive[instance] = pipe.Exists(ctx, p.instanceKey(instance))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	var stale []string
	seen := make(map[string]bool)
	var userIDs []string
	for instance, fields := range byInstance {
		if alive[instance].Val() == 0 {
			stale = append(stale, fields...)
			continue
		}
		for _, field := range fields {
			_, userID, _ := strings.Cut(field, "|")
			if !seen[userID] {
				seen[userID] = true
				userIDs = append(userIDs, userID)
			}
		}
	}
	if len(stale) > 0 {
		if err := p.client.HDel(ctx, key, stale...).Err(); err != nil {
			return nil, err
		}
	}

	out := make([]OnlineUser, 0, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	names, err := p.client.HMGet(ctx, p.namesKey(), userIDs...).Result()
	if err != nil {
		return nil, err
	}
	for i, userID := range userIDs {
		name, _ := names[i].(string)
		out = append(out, OnlineUser{UserID: userID, UserName: name})
	}
	sortUsers(out)
	return out, nil
}

func sortUsers(users []OnlineUser) {
	sort.Slice(users, func(i, j int) bool {
		if users[i].UserName != users[j].UserName {
			return users[i].UserName < users[j].UserName
		}
		return users[i].UserID < users[j].UserID
	})
}
