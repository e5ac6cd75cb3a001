package login

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmynofan/netease-music-bot/internal/adapters/browser"
	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
)

func TestDirLocksSerializeSameDir(t *testing.T) {
	locks := &dirLocks{held: make(map[string]chan struct{})}
	dir := t.TempDir()

	release, err := locks.acquire(context.Background(), dir)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, filepath.Join(dir, "."))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locks.acquire(context.Background(), filepath.Join(dir, "other"))
	require.NoError(t, err)
	other()

	release()
	again, err := locks.acquire(context.Background(), dir)
	require.NoError(t, err)
	again()
}

// overlapBrowser records how many Open calls run at the same time.
type overlapBrowser struct {
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (b *overlapBrowser) Open(ctx context.Context, _ browser.Profile) (browser.Page, error) {
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		seen := b.maxSeen.Load()
		if n <= seen || b.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(40 * time.Millisecond)
	return nil, errors.New("no chrome in tests")
}

func TestSharedProfileLoginsDoNotOverlap(t *testing.T) {
	b := &overlapBrowser{}
	base := t.TempDir()

	var wg sync.WaitGroup
	for _, phone := range []string{"13800000001", "13800000002", "13800000003"} {
		o := New(Options{
			Method:         MethodBrowser,
			ProfileBaseDir: base,
			ProfilePerUser: false,
			Timings:        fastTimings(),
			Captcha:        fastCaptcha(),
		}, newTestClient(t, accountHandler("")), b, nil)

		wg.Add(1)
		go func(cred model.Credential) {
			defer wg.Done()
			_, err := o.Login(context.Background(), cred)
			assert.Error(t, err)
		}(model.Credential{Phone: phone, Password: "pw"})
	}
	wg.Wait()

	assert.Equal(t, int32(1), b.maxSeen.Load())
}

func TestProfileDirPerUser(t *testing.T) {
	o := New(Options{ProfileBaseDir: "profiles", ProfilePerUser: true}, nil, nil, nil)
	a := o.profileDir(model.Credential{Phone: "13800000001"})
	b := o.profileDir(model.Credential{Phone: "13800000002"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, "profiles", filepath.Dir(a))

	shared := New(Options{ProfileBaseDir: "profiles"}, nil, nil, nil)
	assert.Equal(t, "profiles", shared.profileDir(model.Credential{Phone: "13800000001"}))
}
