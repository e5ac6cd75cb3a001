// Command login performs one interactive login and stores the resulting session, so that
// the bot can start from a warm cache. Browser logins may need a human for the secondary
// verification step.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ohmynofan/netease-music-bot/internal/adapters/browser"
	adhttp "github.com/ohmynofan/netease-music-bot/internal/adapters/http"
	"github.com/ohmynofan/netease-music-bot/internal/app"
	"github.com/ohmynofan/netease-music-bot/internal/app/login"
	"github.com/ohmynofan/netease-music-bot/internal/config"
	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
	"github.com/ohmynofan/netease-music-bot/internal/platform/logger"
	"github.com/ohmynofan/netease-music-bot/internal/storage/registry"
	"github.com/ohmynofan/netease-music-bot/internal/storage/sessionstore"
)

func main() {
	cfg := config.Load()

	phone := flag.String("phone", "", "account phone number")
	password := flag.String("password", "", "account password")
	uid := flag.String("uid", "", "platform uid, if already known")
	taskKey := flag.String("task-key", "", "registry task to bind the uid to")
	method := flag.String("method", cfg.LoginMethod, "login method: api or browser")
	flag.Parse()

	if strings.TrimSpace(*phone) == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "phone and password are required")
		flag.Usage()
		os.Exit(2)
	}
	cfg.LoginMethod = strings.ToLower(strings.TrimSpace(*method))
	if cfg.LoginMethod != config.LoginMethodAPI {
		cfg.LoginMethod = config.LoginMethodBrowser
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	_ = logger.Init(cfg.LogPath)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cred := model.Credential{
		AccountID: strings.TrimSpace(*uid),
		Phone:     strings.TrimSpace(*phone),
		Password:  *password,
		TaskKey:   strings.TrimSpace(*taskKey),
	}
	if err := run(ctx, cfg, cred); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logger.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, cred model.Credential) error {
	store, err := sessionstore.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer store.Close()

	transport, err := app.NewTransport(cfg)
	if err != nil {
		return err
	}
	session := app.NewSession(0, cred, cfg)
	base, err := adhttp.NewClient(adhttp.Options{Transport: transport}, session)
	if err != nil {
		return err
	}

	res, err := login.New(app.LoginOptions(cfg), base, browser.Chrome{}, session).Login(ctx, cred)
	if err != nil {
		return err
	}

	if err := store.Put(ctx, res.Token, cfg.SessionTTL()); err != nil {
		return err
	}
	if res.Profile != nil {
		if err := store.PutMetadata(ctx, res.Token.Owner, res.Profile); err != nil {
			fmt.Fprintf(os.Stderr, "warning: profile snapshot not saved: %v\n", err)
		}
	}
	if cred.TaskKey != "" {
		changed, err := registry.New(store.Client()).BindUID(ctx, cred.TaskKey, res.UID)
		if err != nil {
			return fmt.Errorf("bind uid to %s: %w", cred.TaskKey, err)
		}
		if changed {
			fmt.Printf("bound uid %s to task %s\n", res.UID, cred.TaskKey)
		}
	}

	fmt.Printf("logged in via %s as uid %s (session valid until %s)\n",
		res.Method, res.UID, res.Token.ExpiresAt.Format("2006-01-02 15:04"))
	return nil
}
