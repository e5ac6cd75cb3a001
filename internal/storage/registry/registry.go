package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
)

const TaskHashKey = "netease:music:task"

// entry is the JSON value of one hash field. uid is written as a number by older tools.
type entry struct {
	UID      json.RawMessage `json:"uid,omitempty"`
	Phone    string          `json:"phone"`
	Password string          `json:"password"`
}

// Registry lists the accounts to run from the task hash.
type Registry struct {
	client *redis.Client
	key    string
}

func New(client *redis.Client) *Registry {
	return &Registry{client: client, key: TaskHashKey}
}

// List returns every decodable entry ordered by task key. Broken entries are skipped and
// reported through skipped.
func (r *Registry) List(ctx context.Context) (creds []model.Credential, skipped []string, err error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: list accounts: %v", model.ErrStoreOperationFailed, err)
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, taskKey := range keys {
		var e entry
		if err := json.Unmarshal([]byte(all[taskKey]), &e); err != nil || strings.TrimSpace(e.Phone) == "" {
			skipped = append(skipped, taskKey)
			continue
		}
		uid := decodeUID(e.UID)
		if uid == "" {
			uid = taskKey
		}
		creds = append(creds, model.Credential{
			AccountID: uid,
			Phone:     strings.TrimSpace(e.Phone),
			Password:  e.Password,
			TaskKey:   taskKey,
		})
	}
	return creds, skipped, nil
}

// BindUID writes the real uid back into the entry. It reports whether the entry changed.
func (r *Registry) BindUID(ctx context.Context, taskKey, uid string) (bool, error) {
	raw, err := r.client.HGet(ctx, r.key, taskKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %v", model.ErrStoreOperationFailed, taskKey, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", model.ErrStoreOperationFailed, taskKey, err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	if decodeUID(fields["uid"]) == uid {
		return false, nil
	}
	encoded, err := json.Marshal(uid)
	if err != nil {
		return false, fmt.Errorf("%w: encode %s: %v", model.ErrStoreOperationFailed, taskKey, err)
	}
	fields["uid"] = encoded

	data, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("%w: encode %s: %v", model.ErrStoreOperationFailed, taskKey, err)
	}
	if err := r.client.HSet(ctx, r.key, taskKey, data).Err(); err != nil {
		return false, fmt.Errorf("%w: write %s: %v", model.ErrStoreOperationFailed, taskKey, err)
	}
	return true, nil
}

func decodeUID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}
