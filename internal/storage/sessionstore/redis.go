package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
)

const DefaultTTL = 7 * 24 * time.Hour

// Metadata is the JSON document kept next to the cookie.
type Metadata struct {
	CreatedAt time.Time       `json:"created_at"`
	Profile   json.RawMessage `json:"profile,omitempty"`
}

// RedisStore keeps one session token per owner.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %v", model.ErrStoreOperationFailed, err)
	}
	return New(client), nil
}

// New wraps an existing client. The store does not take ownership of it.
func New(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func cookieKey(owner string) string {
	return fmt.Sprintf("netease:music:user:%s:cookie", owner)
}

func userdataKey(owner string) string {
	return fmt.Sprintf("netease:music:user:%s:userdata", owner)
}

// Get returns the owner's token, or nil when there is none.
func (s *RedisStore) Get(ctx context.Context, owner string) (*model.SessionToken, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cookieCmd := pipe.Get(ctx, cookieKey(owner))
	ttlCmd := pipe.PTTL(ctx, cookieKey(owner))
	metaCmd := pipe.Get(ctx, userdataKey(owner))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: get %s: %v", model.ErrStoreOperationFailed, owner, err)
	}

	cookie, err := cookieCmd.Result()
	if errors.Is(err, redis.Nil) || strings.TrimSpace(cookie) == "" {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", model.ErrStoreOperationFailed, owner, err)
	}

	now := s.now()
	token := &model.SessionToken{Owner: owner, Cookie: cookie}
	if ttl, err := ttlCmd.Result(); err == nil && ttl > 0 {
		token.ExpiresAt = now.Add(ttl)
	}
	if raw, err := metaCmd.Result(); err == nil {
		var meta Metadata
		if json.Unmarshal([]byte(raw), &meta) == nil {
			token.CreatedAt = meta.CreatedAt
		}
	}
	if token.Expired(now) {
		return nil, nil
	}
	return token, nil
}

// Put overwrites the owner's token and metadata and refreshes their TTL.
func (s *RedisStore) Put(ctx context.Context, token model.SessionToken, ttl time.Duration) error {
	if !token.Valid() {
		return model.ErrEmptyToken
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = s.now()
	}

	meta, err := json.Marshal(Metadata{CreatedAt: token.CreatedAt.UTC()})
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %v", model.ErrStoreOperationFailed, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, cookieKey(token.Owner), token.Cookie, ttl)
		pipe.Set(ctx, userdataKey(token.Owner), meta, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", model.ErrStoreOperationFailed, token.Owner, err)
	}
	return nil
}

// PutMetadata attaches a profile snapshot to an existing session without touching its TTL.
func (s *RedisStore) PutMetadata(ctx context.Context, owner string, profile any) error {
	pipe := s.client.Pipeline()
	ttlCmd := pipe.PTTL(ctx, cookieKey(owner))
	metaCmd := pipe.Get(ctx, userdataKey(owner))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: read metadata %s: %v", model.ErrStoreOperationFailed, owner, err)
	}

	ttl, err := ttlCmd.Result()
	if err != nil || ttl <= 0 {
		return fmt.Errorf("%w: no live session for %s", model.ErrStoreOperationFailed, owner)
	}

	var meta Metadata
	if raw, err := metaCmd.Result(); err == nil {
		_ = json.Unmarshal([]byte(raw), &meta)
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.now().UTC()
	}
	if meta.Profile, err = json.Marshal(profile); err != nil {
		return fmt.Errorf("%w: encode profile: %v", model.ErrStoreOperationFailed, err)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %v", model.ErrStoreOperationFailed, err)
	}
	if err := s.client.Set(ctx, userdataKey(owner), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: put metadata %s: %v", model.ErrStoreOperationFailed, owner, err)
	}
	return nil
}

func (s *RedisStore) Metadata(ctx context.Context, owner string) (*Metadata, error) {
	raw, err := s.client.Get(ctx, userdataKey(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get metadata %s: %v", model.ErrStoreOperationFailed, owner, err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: decode metadata %s: %v", model.ErrStoreOperationFailed, owner, err)
	}
	return &meta, nil
}

// Invalidate removes the owner's token. Removing an absent token is not an error.
func (s *RedisStore) Invalidate(ctx context.Context, owner string) error {
	if err := s.client.Del(ctx, cookieKey(owner), userdataKey(owner)).Err(); err != nil {
		return fmt.Errorf("%w: invalidate %s: %v", model.ErrStoreOperationFailed, owner, err)
	}
	return nil
}
