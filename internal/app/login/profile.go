package login

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
)

// profileLocks serializes browsers on one user-data-dir. Chrome refuses a second instance on
// a profile that is in use, and accounts share a directory when PROFILE_PER_USER is off.
var profileLocks = &dirLocks{held: make(map[string]chan struct{})}

type dirLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func (l *dirLocks) slot(dir string) chan struct{} {
	key := filepath.Clean(dir)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.held[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.held[key] = ch
	}
	return ch
}

// acquire blocks until dir is free or ctx ends. The returned func releases it.
func (l *dirLocks) acquire(ctx context.Context, dir string) (func(), error) {
	ch := l.slot(dir)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// profileDir returns the persisted browser profile for cred.
func (o *Orchestrator) profileDir(cred model.Credential) string {
	base := o.opts.ProfileBaseDir
	if base == "" {
		base = filepath.Join("data", "profiles")
	}
	if !o.opts.ProfilePerUser {
		return base
	}
	hash := sha1.Sum([]byte(strings.TrimSpace(cred.Phone)))
	return filepath.Join(base, hex.EncodeToString(hash[:]))
}
