package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmynofan/netease-music-bot/internal/adapters/browser"
	"github.com/ohmynofan/netease-music-bot/internal/adapters/browser/browsertest"
)

func TestFindFirstScansFramesInOrder(t *testing.T) {
	page := browsertest.NewPage()
	page.Add(1, &browsertest.Element{Class: ".mrc-modal-container"})
	page.Add(2, &browsertest.Element{Class: ".mrc-modal-container"})

	scope, err := browser.FindFirst(context.Background(), page, browser.CSS(".mrc-modal-container"), browser.FindOptions{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "frame-1", scope.Name())
}

func TestFindFirstWaitsForLateFrames(t *testing.T) {
	page := browsertest.NewPage()
	go func() {
		time.Sleep(30 * time.Millisecond)
		page.Add(1, &browsertest.Element{Text: "密码登录"})
	}()

	scope, err := browser.FindFirst(context.Background(), page, browser.Text("密码登录"), browser.FindOptions{
		Visible:  true,
		Interval: 5 * time.Millisecond,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "frame-1", scope.Name())
}

func TestFindFirstVisibleSkipsHiddenElements(t *testing.T) {
	page := browsertest.NewPage()
	page.Add(0, &browsertest.Element{Class: "a", Text: "登录", Hidden: true})

	_, err := browser.FindFirst(context.Background(), page, browser.Selector{CSS: "a", Text: "登录"}, browser.FindOptions{
		Visible: true,
		Timeout: 30 * time.Millisecond,
	})
	assert.True(t, errors.Is(err, browser.ErrNotFound))

	ok, err := browser.Exists(context.Background(), page, browser.Selector{CSS: "a", Text: "登录"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryClickMissingElementIsNotAnError(t *testing.T) {
	page := browsertest.NewPage()
	clicked, err := browser.TryClick(context.Background(), page, browser.Text("密码登录"), 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, clicked)
}

func TestClickFillCheckHelpers(t *testing.T) {
	page := browsertest.NewPage()
	input := &browsertest.Element{Class: "input[placeholder='请输入手机号']"}
	terms := &browsertest.Element{Class: "#j-official-terms", Hidden: true}
	page.Add(0, input, terms, &browsertest.Element{Text: "选择其他登录模式"})

	_, err := browser.ClickFirst(context.Background(), page, browser.Text("选择其他登录模式"), 50*time.Millisecond)
	require.NoError(t, err)
	_, err = browser.FillFirst(context.Background(), page, browser.CSS("input[placeholder='请输入手机号']"), "13800000000", 50*time.Millisecond)
	require.NoError(t, err)
	_, err = browser.CheckFirst(context.Background(), page, browser.CSS("#j-official-terms"), 50*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, "13800000000", input.Value)
	assert.True(t, terms.Checked)
	assert.Equal(t, []string{"text=选择其他登录模式"}, page.Clicks)
}

func TestSelectorString(t *testing.T) {
	assert.Equal(t, ".x", browser.CSS(".x").String())
	assert.Equal(t, "text=y", browser.Text("y").String())
	assert.Equal(t, "a >> text=z", browser.Selector{CSS: "a", Text: "z"}.String())
}
