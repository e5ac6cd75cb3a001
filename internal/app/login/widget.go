package login

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ohmynofan/netease-music-bot/internal/adapters/browser"
	"github.com/ohmynofan/netease-music-bot/internal/adapters/captcha"
	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
	"github.com/ohmynofan/netease-music-bot/pkg/utils"
)

var (
	selYidunModal   = browser.CSS(".yidun_modal__body, .yidun.yidun-custom")
	selYidunBg      = browser.CSS("img.yidun_bg-img")
	selYidunPiece   = browser.CSS("img.yidun_jigsaw")
	selYidunSlider  = browser.CSS(".yidun_slider__icon")
	selYidunRefresh = browser.CSS(".yidun_refresh")
	selYidunSMS     = browser.CSS(".yidun_smsbox, .yidun_voice")
)

var errSMSChallenge = errors.New("captcha switched to sms or voice verification")

// yidunWidget exposes the yidun slider on a page to the captcha solver.
type yidunWidget struct {
	page      browser.Page
	download  func(ctx context.Context, url string) ([]byte, error)
	imageWait time.Duration
}

func newYidunWidget(page browser.Page, download func(context.Context, string) ([]byte, error), imageWait time.Duration) *yidunWidget {
	return &yidunWidget{page: page, download: download, imageWait: imageWait}
}

func (w *yidunWidget) Present(ctx context.Context) (bool, error) {
	return browser.Exists(ctx, w.page, selYidunModal)
}

func (w *yidunWidget) Images(ctx context.Context) (captcha.Challenge, error) {
	sms, err := browser.Exists(ctx, w.page, selYidunSMS)
	if err != nil {
		return captcha.Challenge{}, err
	}
	if sms {
		return captcha.Challenge{}, model.Fatal(errSMSChallenge)
	}

	bg, err := w.image(ctx, selYidunBg, 120)
	if err != nil {
		return captcha.Challenge{}, fmt.Errorf("background: %w", err)
	}
	piece, err := w.image(ctx, selYidunPiece, 40)
	if err != nil {
		return captcha.Challenge{}, fmt.Errorf("piece: %w", err)
	}
	return captcha.Challenge{Background: bg, Piece: piece}, nil
}

// image waits until the real picture replaced the placeholder, then downloads its source.
func (w *yidunWidget) image(ctx context.Context, sel browser.Selector, minWidth int) ([]byte, error) {
	var scope browser.Scope
	err := utils.Poll(ctx, 200*time.Millisecond, w.imageWait, func(ctx context.Context) (bool, error) {
		found, err := browser.FindFirst(ctx, w.page, sel, browser.FindOptions{Timeout: 200 * time.Millisecond})
		if err != nil {
			return false, err
		}
		complete, err := found.Prop(ctx, sel, "complete")
		if err != nil || complete != "true" {
			return false, err
		}
		raw, err := found.Prop(ctx, sel, "naturalWidth")
		if err != nil {
			return false, err
		}
		width, _ := strconv.Atoi(raw)
		if width <= minWidth {
			return false, nil
		}
		scope = found
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	src, err := scope.Attr(ctx, sel, "src")
	if err != nil {
		return nil, err
	}
	if src == "" {
		return nil, fmt.Errorf("%s has no src", sel)
	}
	return w.download(ctx, src)
}

func (w *yidunWidget) Handle(ctx context.Context) (captcha.Box, error) {
	scope, err := browser.FindFirst(ctx, w.page, selYidunSlider, browser.FindOptions{Visible: true, Timeout: 5 * time.Second})
	if err != nil {
		return captcha.Box{}, err
	}
	box, err := scope.Box(ctx, selYidunSlider)
	if err != nil {
		return captcha.Box{}, err
	}
	return captcha.Box{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func (w *yidunWidget) Refresh(ctx context.Context) error {
	_, err := browser.ClickFirst(ctx, w.page, selYidunRefresh, 3*time.Second)
	return err
}

func (w *yidunWidget) Solved(ctx context.Context) (bool, error) {
	present, err := browser.Exists(ctx, w.page, selYidunSlider)
	return !present, err
}
