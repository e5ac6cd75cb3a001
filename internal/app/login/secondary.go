package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/ohmynofan/netease-music-bot/internal/adapters/browser"
	"github.com/ohmynofan/netease-music-bot/pkg/utils"
)

const (
	scanApplyPath = "/weapi/login/origin-device/scan-apply/start"
	scanURIPrefix = "orpheus://rnpage?component=rn-account-verify&isTheme=true&immersiveMode=true&route=confirmOldDevice&pollingToken="
	qrServiceURL  = "https://api.pwmqr.com/qrcode/create/?url="
)

var (
	selSecurityModal = browser.CSS(".mrc-modal-container")
	selScanOption    = browser.Selector{CSS: ".mjZhxAab", Text: "原设备扫码验证"}
	selConfirmOption = browser.Selector{CSS: ".mjZhxAab", Text: "原设备确认"}
)

// ErrSecurityCheckTimedOut ends a login whose security check was not completed in time.
var ErrSecurityCheckTimedOut = errors.New("security check not completed in time")

type scanApplyResponse struct {
	Data struct {
		PollingToken string `json:"pollingToken"`
	} `json:"data"`
}

// ScanQRURL returns a QR image link for the original-device scan of pollingToken.
func ScanQRURL(pollingToken string) string {
	return qrServiceURL + url.QueryEscape(scanURIPrefix+pollingToken)
}

// secondaryVerification handles the security check that may follow the captcha. It
// prefers the original-device scan, falls back to original-device confirm, and then waits
// for the modal to close. A timeout is reported as SecondaryTimedOut, not as an error.
func (o *Orchestrator) secondaryVerification(ctx context.Context, page browser.Page) (SecondaryState, error) {
	t := o.opts.Timings

	_, err := browser.FindFirst(ctx, page, selSecurityModal, browser.FindOptions{Interval: t.SecondaryPoll / 4, Timeout: t.SecondaryDetect})
	if errors.Is(err, browser.ErrNotFound) {
		o.setSecondary(SecondaryNone)
		return SecondaryNone, nil
	}
	if err != nil {
		return SecondaryNone, err
	}

	o.setState(StateSecurityCheckPending)
	o.Log.Log("Login security check detected")

	state, err := o.chooseVerification(ctx, page)
	if err != nil {
		return state, err
	}
	o.setSecondary(state)
	if state == SecondaryResolved {
		return state, nil
	}

	o.Log.Log(fmt.Sprintf("Waiting up to %s for the security check to be completed", t.SecondaryWait))
	err = utils.Poll(ctx, t.SecondaryPoll, t.SecondaryWait, func(ctx context.Context) (bool, error) {
		open, err := browser.Exists(ctx, page, selSecurityModal)
		return !open, err
	})
	switch {
	case err == nil:
		o.Log.Log("Security check completed")
		state = SecondaryResolved
	case errors.Is(err, utils.ErrPollTimeout):
		state = SecondaryTimedOut
	default:
		return state, err
	}
	o.setSecondary(state)
	return state, nil
}

func (o *Orchestrator) chooseVerification(ctx context.Context, page browser.Page) (SecondaryState, error) {
	t := o.opts.Timings

	scope, err := browser.FindFirst(ctx, page, selScanOption, browser.FindOptions{Timeout: t.SecondaryPoll})
	if err == nil {
		o.Log.Log("Requesting original-device scan verification")
		clicked := false
		scanCtx, cancel := context.WithTimeout(ctx, t.ScanApply)
		body, err := page.WaitResponse(scanCtx, scanApplyPath, func(ctx context.Context) error {
			clicked = true
			return scope.Click(ctx, selScanOption)
		})
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return SecondaryNone, ctxErr
			}
			o.Log.JustLog(fmt.Sprintf("Scan apply response not captured: %v", err))
			if !clicked {
				if err := scope.Click(ctx, selScanOption); err != nil {
					return SecondaryNone, err
				}
			}
			return SecondaryPendingScan, nil
		}

		var apply scanApplyResponse
		if err := json.Unmarshal(body, &apply); err != nil || apply.Data.PollingToken == "" {
			o.Log.JustLog(fmt.Sprintf("No pollingToken in scan apply response: %s", utils.Truncate(string(body), 200)))
			return SecondaryPendingScan, nil
		}
		o.Log.Log("Scan this QR code with the logged-in phone: " + ScanQRURL(apply.Data.PollingToken))
		return SecondaryPendingScan, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return SecondaryNone, ctxErr
	}

	scope, err = browser.FindFirst(ctx, page, selConfirmOption, browser.FindOptions{Timeout: t.SecondaryPoll})
	if err == nil {
		o.Log.Log("Requesting original-device confirmation")
		if err := scope.Click(ctx, selConfirmOption); err != nil {
			return SecondaryNone, err
		}
		if err := sleepCtx(ctx, t.ConfirmSettle); err != nil {
			return SecondaryNone, err
		}
		open, err := browser.Exists(ctx, page, selSecurityModal)
		if err != nil {
			return SecondaryNone, err
		}
		if !open {
			o.Log.Log("Original-device confirmation accepted")
			return SecondaryResolved, nil
		}
		return SecondaryPendingConfirm, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return SecondaryNone, ctxErr
	}

	o.Log.Log("No automatic verification option, complete the security check manually (sms, device confirm, scan or WeChat)")
	return SecondaryPendingConfirm, nil
}
