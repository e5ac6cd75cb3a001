package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ohmynofan/netease-music-bot/internal/adapters/browser"
	adhttp "github.com/ohmynofan/netease-music-bot/internal/adapters/http"
	"github.com/ohmynofan/netease-music-bot/internal/app/auth"
	"github.com/ohmynofan/netease-music-bot/internal/app/login"
	"github.com/ohmynofan/netease-music-bot/internal/app/worker"
	"github.com/ohmynofan/netease-music-bot/internal/config"
	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
	"github.com/ohmynofan/netease-music-bot/internal/platform/logger"
	"github.com/ohmynofan/netease-music-bot/internal/platform/ui"
	"github.com/ohmynofan/netease-music-bot/internal/storage/registry"
	"github.com/ohmynofan/netease-music-bot/internal/storage/sessionstore"
	"github.com/ohmynofan/netease-music-bot/internal/storage/signlog"
)

type App struct{ cfg config.Config }

func New(cfg config.Config) *App { return &App{cfg: cfg} }

// LoginOptions maps the environment onto the login orchestrator.
func LoginOptions(cfg config.Config) login.Options {
	return login.Options{
		Method:         cfg.LoginMethod,
		Timeout:        cfg.LoginTimeout(),
		SessionTTL:     cfg.SessionTTL(),
		ProfileBaseDir: cfg.ProfileBaseDir,
		ProfilePerUser: cfg.ProfilePerUser,
		Headless:       cfg.Headless,
		UserAgent:      adhttp.DefaultUserAgent,
		Proxy:          cfg.Proxy,
	}
}

// NewTransport picks the HTTP stack named by HTTP_CLIENT.
func NewTransport(cfg config.Config) (adhttp.Transport, error) {
	if cfg.HTTPClient == config.HTTPClientTLS {
		return adhttp.NewTLSTransport(cfg.Proxy, adhttp.DefaultTimeout)
	}
	return adhttp.NewStdTransport(cfg.Proxy, adhttp.DefaultTimeout)
}

// NewSession builds the per-account view shared by the status board and the logger.
func NewSession(idx int, cred model.Credential, cfg config.Config) *model.Session {
	session := &model.Session{
		AccIdx:      idx,
		Phone:       cred.Phone,
		LoginMethod: cfg.LoginMethod,
	}
	if cred.KnownUID() {
		session.UID = cred.AccountID
	}
	return session
}

// accounts prefers the accounts file and falls back to the task registry when there is none.
// The binder is only returned for registry accounts.
func (app *App) accounts(ctx context.Context, reg *registry.Registry, log *logger.ClassLogger) ([]model.Credential, auth.UIDBinder, error) {
	creds, err := app.cfg.LoadAccounts()
	if err == nil {
		log.JustLog(fmt.Sprintf("Loaded %d accounts from %s", len(creds), app.cfg.AccountsPath))
		return creds, nil, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, err
	}

	creds, skipped, err := reg.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, key := range skipped {
		log.JustLog(fmt.Sprintf("Skipping registry entry %s: undecodable or missing phone", key))
	}
	log.JustLog(fmt.Sprintf("Loaded %d accounts from the task registry", len(creds)))
	return creds, reg, nil
}

func (app *App) Run(ctx context.Context) error {
	log := logger.NewNamed("App", nil)

	store, err := sessionstore.NewRedisStore(ctx, app.cfg.RedisURL)
	if err != nil {
		return err
	}
	defer store.Close()

	creds, binder, err := app.accounts(ctx, registry.New(store.Client()), log)
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		return errors.New("no accounts to run")
	}

	ledger, err := signlog.NewStore(app.cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	transport, err := NewTransport(app.cfg)
	if err != nil {
		return err
	}

	workers := make([]*worker.Worker, 0, len(creds))
	sessions := make([]*model.Session, 0, len(creds))
	for idx, cred := range creds {
		session := NewSession(idx, cred, app.cfg)

		base, err := adhttp.NewClient(adhttp.Options{
			Transport:  transport,
			RetryDelay: adhttp.DefaultRetryDelay,
		}, session)
		if err != nil {
			return err
		}

		orchestrator := login.New(LoginOptions(app.cfg), base, browser.Chrome{}, session)
		manager := auth.NewManager(store, binder, orchestrator, base, app.cfg.SessionTTL(), session)

		w, err := worker.New(cred, app.cfg, session, manager, ledger)
		if err != nil {
			return err
		}
		workers = append(workers, w)
		sessions = append(sessions, session)
	}

	var wg sync.WaitGroup
	for idx, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker, session *model.Session) {
			defer wg.Done()
			w.Run(ctx)
			summary := w.Describe()
			log.JustLog(fmt.Sprintf("Worker for account %d stopped: %s", session.AccIdx+1, summary))
			if ctx.Err() != nil {
				ui.SetSpinnerSuccess(*session, "Stopped: "+summary)
			}
		}(w, sessions[idx])
	}
	wg.Wait()
	return nil
}
