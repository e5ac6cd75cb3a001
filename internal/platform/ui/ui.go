package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
)

var (
	multi    *pterm.MultiPrinter
	spinners = make(map[int]*pterm.SpinnerPrinter)
	mu       sync.Mutex
)

func StartUISystem() {
	m, _ := pterm.DefaultMultiPrinter.Start()
	mu.Lock()
	multi = m
	mu.Unlock()
}

// Active reports whether the status board is running.
func Active() bool {
	mu.Lock()
	defer mu.Unlock()
	return multi != nil
}

func StopUISystem() {
	mu.Lock()
	defer mu.Unlock()
	if multi != nil {
		_, _ = multi.Stop()
		multi = nil
	}
}

// UpdateStatus redraws the account's card. Without a started board it does nothing,
// which keeps tests and the login CLI quiet.
func UpdateStatus(session model.Session, status string, remainingDelay time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	updateLocked(session, status, remainingDelay)
}

func updateLocked(session model.Session, status string, remainingDelay time.Duration) {
	if multi == nil {
		return
	}
	content := Render(session, status, remainingDelay)

	if spinner, ok := spinners[session.AccIdx]; ok {
		spinner.UpdateText(content)
		return
	}
	spinner, _ := pterm.DefaultSpinner.
		WithWriter(multi.NewWriter()).
		WithRemoveWhenDone(false).
		Start(content)
	spinners[session.AccIdx] = spinner
}

// Render builds the card text for one account.
func Render(session model.Session, status string, remainingDelay time.Duration) string {
	missions := "-"
	if session.MissionsTotal > 0 {
		missions = fmt.Sprintf("%d/%d", session.MissionsDone, session.MissionsTotal)
	}

	return fmt.Sprintf(`
=============== Account %d ================
UID           : %s
Phone         : %s
Login         : %s

Session       : %s
Daily Checkin : %s
Missions      : %s - %s
Share         : %s

Next Run : %s
Status   : %s
Delay    : %s
===========================================`,
		session.AccIdx+1,
		defaultString(session.UID, "unknown"),
		maskPhone(session.Phone),
		defaultString(session.LoginMethod, "-"),
		defaultString(session.SessionStatus, "WAITING"),
		defaultString(session.CheckinStatus, "WAITING"),
		missions,
		defaultString(session.MissionStatus, "WAITING"),
		defaultString(session.ShareStatus, "WAITING"),
		defaultString(session.NextRun, "-"),
		status,
		FormatDelay(remainingDelay))
}

func SetSpinnerSuccess(session model.Session, finalMessage string) {
	mu.Lock()
	defer mu.Unlock()
	if spinner, ok := spinners[session.AccIdx]; ok {
		updateLocked(session, finalMessage, 0)
		spinner.Success()
	}
}

func SetSpinnerError(session model.Session, finalMessage string) {
	mu.Lock()
	defer mu.Unlock()
	if spinner, ok := spinners[session.AccIdx]; ok {
		updateLocked(session, finalMessage, 0)
		spinner.Fail()
	}
}

func FormatDelay(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d H %02d M %02d S", h, m, s)
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func maskPhone(phone string) string {
	if len(phone) < 7 {
		return defaultString(phone, "-")
	}
	return phone[:3] + "****" + phone[len(phone)-4:]
}
