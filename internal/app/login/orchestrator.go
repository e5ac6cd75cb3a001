// Package login turns a phone/password credential into a platform session cookie.
package login

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ohmynofan/netease-music-bot/internal/adapters/browser"
	"github.com/ohmynofan/netease-music-bot/internal/adapters/captcha"
	adhttp "github.com/ohmynofan/netease-music-bot/internal/adapters/http"
	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
	"github.com/ohmynofan/netease-music-bot/internal/platform/logger"
	"github.com/ohmynofan/netease-music-bot/internal/storage/sessionstore"
)

const (
	MethodAPI     = "api"
	MethodBrowser = "browser"

	DefaultLoginURL = "https://music.163.com/#/login?targetUrl=https%3A%2F%2Fmusic.163.com%2Fst%2Fmusician"
	DefaultTimeout  = 5 * time.Minute

	cookieDomain = "music.163.com"
)

// Timings bounds every wait of the browser flow.
type Timings struct {
	Step            time.Duration
	Find            time.Duration
	PasswordTab     time.Duration
	BounceSettle    time.Duration
	BounceProbe     time.Duration
	SecondaryDetect time.Duration
	SecondaryPoll   time.Duration
	SecondaryWait   time.Duration
	ScanApply       time.Duration
	ConfirmSettle   time.Duration
	ImageWait       time.Duration
	CookiePoll      time.Duration
	CookieWait      time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Step:            200 * time.Millisecond,
		Find:            15 * time.Second,
		PasswordTab:     20 * time.Second,
		BounceSettle:    time.Second,
		BounceProbe:     2500 * time.Millisecond,
		SecondaryDetect: 10 * time.Second,
		SecondaryPoll:   2 * time.Second,
		SecondaryWait:   120 * time.Second,
		ScanApply:       15 * time.Second,
		ConfirmSettle:   2 * time.Second,
		ImageWait:       10 * time.Second,
		CookiePoll:      time.Second,
		CookieWait:      60 * time.Second,
	}
}

type Options struct {
	Method         string
	Timeout        time.Duration
	SessionTTL     time.Duration
	LoginURL       string
	ProfileBaseDir string
	ProfilePerUser bool
	Headless       bool
	UserAgent      string
	Proxy          string
	BounceLimit    int
	Captcha        captcha.Options
	Timings        Timings
}

// Result is a complete login outcome. Token is always valid when err is nil.
type Result struct {
	Token     model.SessionToken
	UID       string
	Profile   any
	Method    string
	AttemptID string
	Secondary SecondaryState
}

// Orchestrator runs one login at a time for one account.
type Orchestrator struct {
	opts    Options
	client  *adhttp.Client
	browser browser.Browser
	solver  *captcha.Solver
	session *model.Session
	now     func() time.Time
	Log     *logger.ClassLogger

	mu        sync.Mutex
	state     State
	secondary SecondaryState
}

// New builds an orchestrator. client supplies transport settings for the API exchange,
// UID discovery and captcha downloads; its own cookies are never used. b may be nil
// when only the API method is configured.
func New(opts Options, client *adhttp.Client, b browser.Browser, session *model.Session) *Orchestrator {
	if opts.Method != MethodAPI {
		opts.Method = MethodBrowser
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = sessionstore.DefaultTTL
	}
	if opts.LoginURL == "" {
		opts.LoginURL = DefaultLoginURL
	}
	if opts.BounceLimit <= 0 {
		opts.BounceLimit = 3
	}
	if opts.Timings == (Timings{}) {
		opts.Timings = DefaultTimings()
	}
	if opts.Captcha.MaxAttempts == 0 {
		opts.Captcha = captcha.DefaultOptions()
	}

	o := &Orchestrator{
		opts:    opts,
		client:  client,
		browser: b,
		solver:  captcha.NewSolver(opts.Captcha, session),
		session: session,
		now:     time.Now,
	}
	o.Log = logger.NewLogger(o, session)
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Secondary() SecondaryState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.secondary
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.Log.JustLog(fmt.Sprintf("Login state: %s", s))
}

func (o *Orchestrator) setSecondary(s SecondaryState) {
	o.mu.Lock()
	o.secondary = s
	o.mu.Unlock()
}

type outcome struct {
	cookie  string
	uid     string
	profile any
}

// Login authenticates cred within the configured deadline. It never returns a partial
// token: every failure wraps model.ErrLoginFailed.
func (o *Orchestrator) Login(ctx context.Context, cred model.Credential) (*Result, error) {
	attemptID := uuid.NewString()
	o.setState(StateStart)
	o.setSecondary(SecondaryNone)

	res, err := o.login(ctx, cred, attemptID)
	if err != nil {
		o.setState(StateFailed)
		o.Log.Log(fmt.Sprintf("Login failed via %s: %v", o.opts.Method, err))
		return nil, fmt.Errorf("%w: %s login attempt %s: %w", model.ErrLoginFailed, o.opts.Method, attemptID[:8], err)
	}
	o.setState(StateDone)
	o.Log.Log(fmt.Sprintf("Login succeeded via %s, uid %s", o.opts.Method, res.UID))
	return res, nil
}

func (o *Orchestrator) login(ctx context.Context, cred model.Credential, attemptID string) (*Result, error) {
	if strings.TrimSpace(cred.Phone) == "" || cred.Password == "" {
		return nil, fmt.Errorf("phone and password are required")
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	o.Log.Log(fmt.Sprintf("Logging in via %s (attempt %s)", o.opts.Method, attemptID[:8]))

	var (
		out outcome
		err error
	)
	if o.opts.Method == MethodAPI {
		out, err = o.loginAPI(ctx, cred)
	} else {
		out, err = o.loginBrowser(ctx, cred)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.cookie) == "" {
		return nil, fmt.Errorf("no session cookies captured")
	}

	if out.uid == "" {
		bound := o.client.WithCookie(out.cookie, o.session)
		uid, profile, err := DiscoverUID(ctx, bound)
		if err != nil {
			return nil, err
		}
		if uid != "" {
			out.uid, out.profile = uid, profile
		}
	}
	if out.uid == "" && cred.KnownUID() {
		o.Log.JustLog("UID discovery found nothing, keeping the configured uid")
		out.uid = strings.TrimSpace(cred.AccountID)
	}
	if out.uid == "" {
		return nil, fmt.Errorf("could not determine the account uid")
	}

	if out.profile != nil {
		o.Log.LogObject("Account profile", out.profile)
	}

	now := o.now()
	return &Result{
		Token: model.SessionToken{
			Owner:     out.uid,
			Cookie:    out.cookie,
			CreatedAt: now,
			ExpiresAt: now.Add(o.opts.SessionTTL),
		},
		UID:       out.uid,
		Profile:   out.profile,
		Method:    o.opts.Method,
		AttemptID: attemptID,
		Secondary: o.Secondary(),
	}, nil
}

// pause waits between form steps for a slightly randomized duration.
func (o *Orchestrator) pause(ctx context.Context) error {
	d := o.opts.Timings.Step
	if d <= 0 {
		return ctx.Err()
	}
	d += time.Duration(rand.Int64N(int64(d)*3/2 + 1))
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
