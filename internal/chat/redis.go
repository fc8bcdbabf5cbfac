package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/samer-khoury/mizan/models"
)

const (
	sessionKeyPrefix = "chat:sessions:"
	orderKeyPrefix   = "chat:order:"
	currentKeyPrefix = "chat:current:"
)

// RedisStore persists sessions in Redis: one hash per user (field = session
// id, value = JSON session), a JSON order list and a current-session pointer.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore pings the server and returns the store.
func NewRedisStore(ctx context.Context, addr, password string, db int, timeout time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping %s: %v", models.ErrStorage, addr, err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client (tests, shared pools).
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying connection for components that share it
// (retention locks, the live turn journal).
func (r *RedisStore) Client() *redis.Client { return r.client }

func (r *RedisStore) Get(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	raw, err := r.client.HGet(ctx, sessionKeyPrefix+userID, sessionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: hget session: %v", models.ErrStorage, err)
	}
	var sess models.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("%w: decode session %s: %v", models.ErrStorage, sessionID, err)
	}
	return &sess, nil
}

func (r *RedisStore) Put(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%w: encode session %s: %v", models.ErrStorage, sess.ID, err)
	}
	if err := r.client.HSet(ctx, sessionKeyPrefix+sess.UserID, sess.ID, data).Err(); err != nil {
		return fmt.Errorf("%w: hset session: %v", models.ErrStorage, err)
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context, userID string) (map[string]*models.Session, error) {
	raw, err := r.client.HGetAll(ctx, sessionKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall sessions: %v", models.ErrStorage, err)
	}
	out := make(map[string]*models.Session, len(raw))
	for id, val := range raw {
		var sess models.Session
		if err := json.Unmarshal([]byte(val), &sess); err != nil {
			return nil, fmt.Errorf("%w: decode session %s: %v", models.ErrStorage, id, err)
		}
		out[id] = &sess
	}
	return out, nil
}

func (r *RedisStore) Order(ctx context.Context, userID string) ([]string, error) {
	raw, err := r.client.Get(ctx, orderKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get order: %v", models.ErrStorage, err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("%w: decode order: %v", models.ErrStorage, err)
	}
	return ids, nil
}

func (r *RedisStore) SaveOrder(ctx context.Context, userID string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("%w: encode order: %v", models.ErrStorage, err)
	}
	if err := r.client.Set(ctx, orderKeyPrefix+userID, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: set order: %v", models.ErrStorage, err)
	}
	return nil
}

func (r *RedisStore) Current(ctx context.Context, userID string) (string, error) {
	val, err := r.client.Get(ctx, currentKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: get current: %v", models.ErrStorage, err)
	}
	return val, nil
}

func (r *RedisStore) SetCurrent(ctx context.Context, userID, sessionID string) error {
	if err := r.client.Set(ctx, currentKeyPrefix+userID, sessionID, 0).Err(); err != nil {
		return fmt.Errorf("%w: set current: %v", models.ErrStorage, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID, sessionID string) error {
	if err := r.client.HDel(ctx, sessionKeyPrefix+userID, sessionID).Err(); err != nil {
		return fmt.Errorf("%w: hdel session: %v", models.ErrStorage, err)
	}
	ids, err := r.Order(ctx, userID)
	if err != nil {
		return err
	}
	for i, id := range ids {
		if id == sessionID {
			if err := r.SaveOrder(ctx, userID, append(ids[:i], ids[i+1:]...)); err != nil {
				return err
			}
			break
		}
	}
	cur, err := r.Current(ctx, userID)
	if err != nil {
		return err
	}
	if cur == sessionID {
		if err := r.client.Del(ctx, currentKeyPrefix+userID).Err(); err != nil {
			return fmt.Errorf("%w: del current: %v", models.ErrStorage, err)
		}
	}
	return nil
}

func (r *RedisStore) ClearAll(ctx context.Context, userID string) error {
	keys := []string{sessionKeyPrefix + userID, orderKeyPrefix + userID, currentKeyPrefix + userID}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: clear sessions: %v", models.ErrStorage, err)
	}
	return nil
}
