package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ohmynofan/netease-music-bot/internal/app/auth"
	"github.com/ohmynofan/netease-music-bot/internal/config"
	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
	"github.com/ohmynofan/netease-music-bot/internal/platform/logger"
	"github.com/ohmynofan/netease-music-bot/internal/platform/ui"
	"github.com/ohmynofan/netease-music-bot/internal/storage/signlog"
	"github.com/ohmynofan/netease-music-bot/pkg/utils"
)

const (
	statusWaiting    = "WAITING"
	statusInProgress = "IN PROGRESS"
	statusDone       = "DONE"
	statusFailed     = "FAILED"
	statusSkipped    = "SKIPPED"

	errorRetryDelay = 60 * time.Second
	nextRunLayout   = "2006-01-02 15:04 MST"
)

type Worker struct {
	cred    model.Credential
	cfg     config.Config
	session *model.Session
	doer    Doer
	tasks   *Tasks
	store   *signlog.Store
	loc     *time.Location
	now     func() time.Time
	log     *logger.ClassLogger
}

func New(cred model.Credential, cfg config.Config, session *model.Session, doer Doer, store *signlog.Store) (*Worker, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	session.CheckinStatus = statusWaiting
	session.MissionStatus = statusWaiting
	session.ShareStatus = statusWaiting

	return &Worker{
		cred:    cred,
		cfg:     cfg,
		session: session,
		doer:    doer,
		tasks:   NewTasks(doer, cred, session),
		store:   store,
		loc:     loc,
		now:     time.Now,
		log:     logger.NewNamed(fmt.Sprintf("Operation - Account %d", session.AccIdx+1), session),
	}, nil
}

// ledgerKey identifies the account in the run ledger. The task key survives uid changes.
func (w *Worker) ledgerKey() string {
	if w.cred.TaskKey != "" {
		return w.cred.TaskKey
	}
	return w.cred.Phone
}

// handleError decides how the loop continues after a failed cycle.
func handleError(w *Worker, err error) (shouldStop bool, retryAfter time.Duration) {
	switch {
	case model.IsFatal(err) || errors.Is(err, model.ErrCodec):
		w.log.Log(fmt.Sprintf("FATAL: %v. Worker for account %d will stop.", err, w.session.AccIdx+1), 0)
		return true, 0
	case auth.IsTerminal(err):
		w.log.Log(fmt.Sprintf("%v, skipping account until the next run", err), 0)
		return false, 0
	default:
		w.log.Log(fmt.Sprintf("%v, retrying after %s", err, errorRetryDelay), 0)
		return false, errorRetryDelay
	}
}

// Run executes a cycle at every SEND_TIME until ctx ends.
func (w *Worker) Run(ctx context.Context) {
	hour, minute, err := config.ParseClock(w.cfg.SendTime)
	if err != nil {
		w.log.Log(fmt.Sprintf("FATAL: %v", err), 0)
		return
	}

	if !w.cfg.RunOnStart {
		if err := w.waitUntil(ctx, NextRun(w.now(), w.loc, hour, minute)); err != nil {
			return
		}
	}

	for {
		if err := w.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			stop, retry := handleError(w, err)
			if stop {
				ui.SetSpinnerError(*w.session, err.Error())
				return
			}
			if retry > 0 {
				if err := w.countdown(ctx, "Retrying after error", retry); err != nil {
					return
				}
				continue
			}
		}

		if err := w.waitUntil(ctx, NextRun(w.now(), w.loc, hour, minute)); err != nil {
			return
		}
	}
}

func (w *Worker) waitUntil(ctx context.Context, next time.Time) error {
	w.session.NextRun = next.Format(nextRunLayout)
	return w.countdown(ctx, "Account processing complete, waiting for the next run", next.Sub(w.now()))
}

// countdown sleeps for d while the status card shows the remaining time.
func (w *Worker) countdown(ctx context.Context, msg string, d time.Duration) error {
	w.log.JustLog(fmt.Sprintf("%s (%s)", msg, ui.FormatDelay(d)))
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		ui.UpdateStatus(*w.session, msg, remaining)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle authenticates the account and runs every task not yet recorded for today.
func (w *Worker) RunCycle(ctx context.Context) error {
	cycleID := uuid.NewString()[:8]
	today := w.now().In(w.loc)
	w.log.Log(fmt.Sprintf("Cycle %s started for %s", cycleID, utils.MaskPhone(w.cred.Phone)))

	status, err := w.store.DailyStatus(w.ledgerKey(), today)
	if err != nil {
		w.log.Log(fmt.Sprintf("Warning: failed checking run ledger: %v", err))
	}

	if _, err := w.doer.Client(ctx, w.cred); err != nil {
		return err
	}

	if err := w.checkin(ctx, today, status); err != nil {
		return err
	}
	if err := w.missions(ctx, today, status); err != nil {
		return err
	}
	if err := w.share(ctx, today, status); err != nil {
		return err
	}

	w.log.Log(fmt.Sprintf("Cycle %s finished", cycleID))
	return nil
}

func (w *Worker) checkin(ctx context.Context, today time.Time, status signlog.Status) error {
	if status.CheckinDone {
		w.session.CheckinStatus = statusDone
		return nil
	}

	w.session.CheckinStatus = statusInProgress
	done, res, err := w.tasks.DailyCheckin(ctx)
	if err != nil {
		w.session.CheckinStatus = statusFailed
		return err
	}
	if !done {
		w.session.CheckinStatus = statusFailed
		w.log.Log(fmt.Sprintf("Daily check-in failed: code %d %s", res.Code, utils.Truncate(string(res.Raw), 100)))
		return nil
	}

	if err := w.store.MarkCheckin(w.ledgerKey(), today); err != nil {
		w.log.Log(fmt.Sprintf("Warning: failed to record check-in: %v", err))
	}
	w.session.CheckinStatus = statusDone
	w.log.Log(fmt.Sprintf("Daily check-in done (code %d)", res.Code))
	return nil
}

func (w *Worker) missions(ctx context.Context, today time.Time, status signlog.Status) error {
	if status.MissionsDone {
		w.session.MissionStatus = statusDone
		w.session.MissionsDone, w.session.MissionsTotal = status.MissionsClaimed, status.MissionsTotal
		return nil
	}

	w.session.MissionStatus = statusInProgress
	missions, err := w.tasks.Missions(ctx)
	if err != nil {
		if auth.IsTerminal(err) || ctx.Err() != nil {
			return err
		}
		w.session.MissionStatus = statusFailed
		w.log.Log(fmt.Sprintf("Failed to list musician missions: %v", err))
		return nil
	}

	total, claimed := 0, 0
	for _, m := range missions {
		if !m.Claimable() {
			continue
		}
		total++
		w.log.Log(fmt.Sprintf("Claiming %s (userMissionId=%s, period=%s)", m.Description, m.UserMissionID, m.Period))
		res, err := w.tasks.ClaimMission(ctx, m)
		if err != nil {
			return err
		}
		if res.OK() {
			claimed++
		} else {
			w.log.Log(fmt.Sprintf("Claim rejected: code %d %s", res.Code, utils.Truncate(string(res.Raw), 100)))
		}
		w.session.MissionsDone, w.session.MissionsTotal = claimed, total
	}

	if err := w.store.SetMissionProgress(w.ledgerKey(), today, claimed, total); err != nil {
		w.log.Log(fmt.Sprintf("Warning: failed to record missions: %v", err))
	}
	w.session.MissionsDone, w.session.MissionsTotal = claimed, total
	if claimed >= total {
		w.session.MissionStatus = statusDone
	} else {
		w.session.MissionStatus = statusFailed
	}
	return nil
}

func (w *Worker) share(ctx context.Context, today time.Time, status signlog.Status) error {
	if status.ShareDone {
		if status.ShareEventID != "" && !status.ShareDeleted {
			w.log.Log(fmt.Sprintf("Removing leftover share %s", status.ShareEventID))
			w.deleteShare(ctx, today, status.ShareEventID)
		}
		w.session.ShareStatus = statusDone
		return nil
	}

	allowed, reason, err := w.store.ShareAllowed(w.ledgerKey(), today, w.cfg.ExecutionIntervalDays, w.cfg.MaxMonthlySends)
	if err != nil {
		w.log.Log(fmt.Sprintf("Warning: failed checking share gate: %v", err))
		allowed = false
		reason = "ledger unavailable"
	}
	if !allowed {
		w.session.ShareStatus = fmt.Sprintf("%s (%s)", statusSkipped, reason)
		w.log.JustLog("Share skipped: " + reason)
		return nil
	}

	w.session.ShareStatus = statusInProgress
	songID := w.tasks.RandomSong(ctx)
	eventID, res, err := w.tasks.ShareSong(ctx, songID)
	if err != nil {
		w.session.ShareStatus = statusFailed
		return err
	}
	if !res.OK() {
		w.session.ShareStatus = statusFailed
		w.log.Log(fmt.Sprintf("Share failed: code %d %s", res.Code, utils.Truncate(string(res.Raw), 100)))
		return nil
	}

	if err := w.store.MarkShare(w.ledgerKey(), today, eventID); err != nil {
		w.log.Log(fmt.Sprintf("Warning: failed to record share: %v", err))
	}
	w.log.Log(fmt.Sprintf("Shared song %s (event %s)", songID, eventID))

	if eventID != "" {
		if err := w.countdown(ctx, "Waiting before deleting the share", w.cfg.ShareDeleteDelay()); err != nil {
			return err
		}
		w.deleteShare(ctx, today, eventID)
	}
	w.session.ShareStatus = statusDone
	return nil
}

func (w *Worker) deleteShare(ctx context.Context, today time.Time, eventID string) {
	res, err := w.tasks.DeleteEvent(ctx, eventID)
	if err != nil {
		w.log.Log(fmt.Sprintf("Deleting share %s failed: %v", eventID, err))
		return
	}
	if !res.OK() {
		w.log.Log(fmt.Sprintf("Deleting share %s rejected: code %d", eventID, res.Code))
		return
	}
	if err := w.store.MarkShareDeleted(w.ledgerKey(), today); err != nil {
		w.log.Log(fmt.Sprintf("Warning: failed to record share deletion: %v", err))
	}
	w.log.Log(fmt.Sprintf("Share %s deleted", eventID))
}

// Describe is the one-line summary shown when a worker stops.
func (w *Worker) Describe() string {
	parts := []string{
		"checkin=" + w.session.CheckinStatus,
		fmt.Sprintf("missions=%d/%d", w.session.MissionsDone, w.session.MissionsTotal),
		"share=" + w.session.ShareStatus,
	}
	return strings.Join(parts, " ")
}
