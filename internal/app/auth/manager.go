// Package auth hands out platform clients bound to a live session, logging in again
// whenever the cached cookie stops working.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	adhttp "github.com/ohmynofan/netease-music-bot/internal/adapters/http"
	"github.com/ohmynofan/netease-music-bot/internal/app/login"
	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
	"github.com/ohmynofan/netease-music-bot/internal/platform/logger"
	"github.com/ohmynofan/netease-music-bot/internal/storage/sessionstore"
)

const (
	StatusValid    = "VALID"
	StatusLoggedIn = "LOGGED IN"
	StatusExpired  = "EXPIRED"
	StatusFailed   = "FAILED"
)

type Store interface {
	Get(ctx context.Context, owner string) (*model.SessionToken, error)
	Put(ctx context.Context, token model.SessionToken, ttl time.Duration) error
	PutMetadata(ctx context.Context, owner string, profile any) error
	Invalidate(ctx context.Context, owner string) error
}

type UIDBinder interface {
	BindUID(ctx context.Context, taskKey, uid string) (bool, error)
}

type Authenticator interface {
	Login(ctx context.Context, cred model.Credential) (*login.Result, error)
}

// Call is one business request made through a session-bound client.
type Call func(ctx context.Context, c *adhttp.Client) (*adhttp.Response, error)

// Manager owns the session of one account. Calls for the same account must not overlap.
type Manager struct {
	store   Store
	binder  UIDBinder
	auth    Authenticator
	base    *adhttp.Client
	ttl     time.Duration
	session *model.Session
	Log     *logger.ClassLogger

	mu     sync.Mutex
	uid    string
	client *adhttp.Client
}

// NewManager wires the collaborators. binder may be nil when accounts come from a file.
func NewManager(store Store, binder UIDBinder, auth Authenticator, base *adhttp.Client, ttl time.Duration, session *model.Session) *Manager {
	if ttl <= 0 {
		ttl = sessionstore.DefaultTTL
	}
	m := &Manager{
		store:   store,
		binder:  binder,
		auth:    auth,
		base:    base,
		ttl:     ttl,
		session: session,
	}
	m.Log = logger.NewLogger(m, session)
	return m
}

// UID is the platform uid of the current session, if one is known.
func (m *Manager) UID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uid
}

func (m *Manager) owner(cred model.Credential) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uid != "" {
		return m.uid
	}
	if cred.KnownUID() {
		return strings.TrimSpace(cred.AccountID)
	}
	return ""
}

func (m *Manager) setStatus(status string) {
	if m.session != nil {
		m.session.SessionStatus = status
	}
}

// Client returns a client bound to a session that just passed the probe, logging in
// when there is no cached session or the cached one is rejected.
func (m *Manager) Client(ctx context.Context, cred model.Credential) (*adhttp.Client, error) {
	if owner := m.owner(cred); owner != "" {
		token, err := m.store.Get(ctx, owner)
		if err != nil {
			return nil, err
		}
		if token != nil {
			client := m.base.WithCookie(token.Cookie, m.session)
			valid, err := m.Probe(ctx, client, owner)
			if err != nil {
				return nil, err
			}
			if valid {
				m.Log.Log(fmt.Sprintf("Cached session for %s is valid", owner))
				m.ready(owner, client)
				m.setStatus(StatusValid)
				return client, nil
			}

			m.Log.Log(fmt.Sprintf("Cached session for %s was rejected, logging in again", owner))
			m.setStatus(StatusExpired)
			if err := m.store.Invalidate(ctx, owner); err != nil {
				return nil, err
			}
		} else {
			m.Log.Log(fmt.Sprintf("No cached session for %s", owner))
		}
	}
	return m.relogin(ctx, cred)
}

// Probe checks a cookie with the unencrypted user detail endpoint. It has no side effects.
func (m *Manager) Probe(ctx context.Context, client *adhttp.Client, uid string) (bool, error) {
	res, err := client.Call(ctx, http.MethodGet, "/api/v1/user/detail/"+uid, nil, false)
	if err != nil {
		return false, err
	}
	profile, ok := res.Field("profile").(map[string]any)
	if !res.OK() || !ok || len(profile) == 0 {
		m.Log.JustLog(fmt.Sprintf("Probe for %s failed with code %d", uid, res.Code))
		return false, nil
	}
	if nickname, _ := profile["nickname"].(string); nickname != "" {
		m.Log.JustLog(fmt.Sprintf("Probe for %s ok (nickname %s)", uid, nickname))
	}
	return true, nil
}

func (m *Manager) relogin(ctx context.Context, cred model.Credential) (*adhttp.Client, error) {
	m.mu.Lock()
	m.client = nil
	m.mu.Unlock()

	res, err := m.auth.Login(ctx, cred)
	if err != nil {
		m.setStatus(StatusFailed)
		return nil, err
	}

	if err := m.store.Put(ctx, res.Token, m.ttl); err != nil {
		m.setStatus(StatusFailed)
		return nil, err
	}
	if res.Profile != nil {
		if err := m.store.PutMetadata(ctx, res.Token.Owner, res.Profile); err != nil {
			m.Log.JustLog(fmt.Sprintf("Saving profile snapshot failed: %v", err))
		}
	}
	if m.binder != nil && cred.TaskKey != "" {
		changed, err := m.binder.BindUID(ctx, cred.TaskKey, res.UID)
		switch {
		case err != nil:
			m.Log.JustLog(fmt.Sprintf("Binding uid %s to %s failed: %v", res.UID, cred.TaskKey, err))
		case changed:
			m.Log.Log(fmt.Sprintf("Bound real uid %s to %s", res.UID, cred.TaskKey))
		}
	}

	client := m.base.WithCookie(res.Token.Cookie, m.session)
	m.ready(res.UID, client)
	m.setStatus(StatusLoggedIn)
	return client, nil
}

func (m *Manager) ready(uid string, client *adhttp.Client) {
	m.mu.Lock()
	m.uid = uid
	m.client = client
	m.mu.Unlock()
	if m.session != nil {
		m.session.UID = uid
	}
}

// Do runs call with the current client. When the platform answers 301 the session is
// dropped, the account logs in once more and call is retried once.
func (m *Manager) Do(ctx context.Context, cred model.Credential, call Call) (*adhttp.Response, error) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil {
		var err error
		if client, err = m.Client(ctx, cred); err != nil {
			return nil, err
		}
	}

	res, err := call(ctx, client)
	if err != nil || !res.SessionExpired() {
		return res, err
	}

	m.Log.Log("Session expired mid-cycle, logging in again")
	m.setStatus(StatusExpired)
	if owner := m.owner(cred); owner != "" {
		if err := m.store.Invalidate(ctx, owner); err != nil {
			return nil, err
		}
	}
	if client, err = m.relogin(ctx, cred); err != nil {
		return nil, err
	}

	res, err = call(ctx, client)
	if err != nil {
		return res, err
	}
	if res.SessionExpired() {
		m.setStatus(StatusExpired)
		return res, fmt.Errorf("%w: rejected again right after login", model.ErrSessionExpired)
	}
	return res, nil
}

// IsTerminal reports whether err should end the account's cycle.
func IsTerminal(err error) bool {
	return errors.Is(err, model.ErrLoginFailed) || errors.Is(err, model.ErrSessionExpired) || errors.Is(err, model.ErrCodec)
}
