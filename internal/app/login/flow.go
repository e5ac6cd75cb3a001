package login

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ohmynofan/netease-music-bot/internal/adapters/browser"
	"github.com/ohmynofan/netease-music-bot/internal/adapters/captcha"
	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
	"github.com/ohmynofan/netease-music-bot/pkg/utils"
)

var (
	selOtherModes    = browser.Text("选择其他登录模式")
	selTerms         = browser.CSS("#j-official-terms")
	selPhoneLogin    = browser.Selector{CSS: "a", Text: "手机号登录/注册"}
	selPasswordTab   = browser.Text("密码登录")
	selPhoneInput    = browser.CSS("input[placeholder='请输入手机号']")
	selPasswordInput = browser.CSS("input[placeholder='请输入密码']")
	selSubmit        = browser.Selector{CSS: "a:has(div)", Text: "登录", Exact: true}
)

func (o *Orchestrator) loginBrowser(ctx context.Context, cred model.Credential) (outcome, error) {
	if o.browser == nil {
		return outcome{}, fmt.Errorf("browser login requested but no browser is configured")
	}

	dir := o.profileDir(cred)
	release, err := profileLocks.acquire(ctx, dir)
	if err != nil {
		return outcome{}, fmt.Errorf("wait for profile %s: %w", dir, err)
	}
	defer release()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return outcome{}, fmt.Errorf("prepare profile directory: %w", err)
	}

	page, err := o.browser.Open(ctx, browser.Profile{
		Dir:       dir,
		Headless:  o.opts.Headless,
		UserAgent: o.opts.UserAgent,
		Proxy:     o.opts.Proxy,
	})
	if err != nil {
		return outcome{}, fmt.Errorf("open browser: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			o.Log.JustLog(fmt.Sprintf("Closing browser failed: %v", err))
		}
	}()

	o.Log.Log(fmt.Sprintf("Opening login page for %s", utils.MaskPhone(cred.Phone)))
	if err := page.Navigate(ctx, o.opts.LoginURL); err != nil {
		return outcome{}, fmt.Errorf("navigate: %w", err)
	}

	if err := o.fillForm(ctx, page, cred, true); err != nil {
		return outcome{}, err
	}
	widget := newYidunWidget(page, o.client.Download, o.opts.Timings.ImageWait)
	if err := o.solveCaptcha(ctx, widget, page); err != nil {
		return outcome{}, err
	}

	if err := o.handleBounce(ctx, page, widget, cred); err != nil {
		return outcome{}, err
	}

	state, err := o.secondaryVerification(ctx, page)
	if err != nil {
		return outcome{}, err
	}
	if state == SecondaryTimedOut {
		return outcome{}, fmt.Errorf("%w after %s", ErrSecurityCheckTimedOut, o.opts.Timings.SecondaryWait)
	}

	cookie, err := o.waitCookies(ctx, page)
	if err != nil {
		return outcome{}, err
	}
	return outcome{cookie: cookie}, nil
}

// fillForm walks to the password tab and submits the credentials. When full is false the
// page is already on the password tab.
func (o *Orchestrator) fillForm(ctx context.Context, page browser.Page, cred model.Credential, full bool) error {
	t := o.opts.Timings
	if full {
		if _, err := browser.ClickFirst(ctx, page, selOtherModes, t.Find); err != nil {
			return err
		}
		o.Log.JustLog("Switched to other login modes")
		if _, err := browser.CheckFirst(ctx, page, selTerms, t.Find); err != nil {
			return err
		}
		if _, err := browser.ClickFirst(ctx, page, selPhoneLogin, t.Find); err != nil {
			return err
		}
		if _, err := browser.ClickFirst(ctx, page, selPasswordTab, t.PasswordTab); err != nil {
			return err
		}
		if err := o.pause(ctx); err != nil {
			return err
		}
	}

	if _, err := browser.FillFirst(ctx, page, selPhoneInput, cred.Phone, t.Find); err != nil {
		return err
	}
	if err := o.pause(ctx); err != nil {
		return err
	}
	if _, err := browser.FillFirst(ctx, page, selPasswordInput, cred.Password, t.Find); err != nil {
		return err
	}
	if err := o.pause(ctx); err != nil {
		return err
	}
	if _, err := browser.ClickFirst(ctx, page, selSubmit, t.Find); err != nil {
		return err
	}
	o.setState(StateFormFilled)
	o.Log.Log("Credentials submitted")
	return nil
}

func (o *Orchestrator) solveCaptcha(ctx context.Context, w captcha.Widget, page browser.Page) error {
	o.setState(StateCaptchaPending)
	solved, err := o.solver.Run(ctx, w, page.Pointer())
	if err != nil {
		return err
	}
	if !solved {
		o.Log.JustLog("No slider captcha this time")
	}
	return nil
}

// handleBounce refills the form when the page falls back to the password tab after the
// captcha. The number of rounds is bounded.
func (o *Orchestrator) handleBounce(ctx context.Context, page browser.Page, w *yidunWidget, cred model.Credential) error {
	t := o.opts.Timings
	for round := 1; round <= o.opts.BounceLimit; round++ {
		if err := sleepCtx(ctx, t.BounceSettle); err != nil {
			return err
		}
		clicked, err := browser.TryClick(ctx, page, selPasswordTab, t.BounceProbe)
		if err != nil {
			return err
		}
		if !clicked {
			return nil
		}

		o.Log.Log(fmt.Sprintf("Password tab came back, refilling the form (%d/%d)", round, o.opts.BounceLimit))
		if err := o.pause(ctx); err != nil {
			return err
		}
		if err := o.fillForm(ctx, page, cred, false); err != nil {
			return err
		}

		present, err := w.Present(ctx)
		if err != nil {
			return err
		}
		if present {
			if err := o.solveCaptcha(ctx, w, page); err != nil {
				return err
			}
		}
	}
	return nil
}

// waitCookies polls the profile's cookies until a session cookie shows up.
func (o *Orchestrator) waitCookies(ctx context.Context, page browser.Page) (string, error) {
	t := o.opts.Timings
	var cookie string
	err := utils.Poll(ctx, t.CookiePoll, t.CookieWait, func(ctx context.Context) (bool, error) {
		cookies, err := page.Cookies(ctx, cookieDomain)
		if err != nil {
			o.Log.JustLog(fmt.Sprintf("Reading cookies failed: %v", err))
			return false, nil
		}
		var pairs []string
		ready := false
		for _, c := range cookies {
			if c.Name == "" {
				continue
			}
			pairs = append(pairs, c.Name+"="+c.Value)
			if (c.Name == "MUSIC_U" || c.Name == "__csrf") && c.Value != "" {
				ready = true
			}
		}
		if ready {
			cookie = strings.Join(pairs, "; ")
		}
		return ready, nil
	})
	if errors.Is(err, utils.ErrPollTimeout) {
		return "", fmt.Errorf("no MUSIC_U or __csrf cookie after %s", t.CookieWait)
	}
	if err != nil {
		return "", err
	}
	o.Log.Log("Session cookies captured")
	return cookie, nil
}
