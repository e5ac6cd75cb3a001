package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	adhttp "github.com/ohmynofan/netease-music-bot/internal/adapters/http"
	"github.com/ohmynofan/netease-music-bot/internal/app/auth"
	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
	"github.com/ohmynofan/netease-music-bot/internal/platform/logger"
)

const (
	dailyTaskPath     = "/weapi/point/dailyTask"
	missionListPath   = "/weapi/nmusician/workbench/mission/cycle/list"
	missionRewardPath = "/weapi/nmusician/workbench/mission/reward/obtain/new"
	sharePath         = "/weapi/share/friends/resource"
	eventDeletePath   = "/weapi/event/delete"

	songPoolURL    = "https://music.163.com/api/v6/playlist/detail?id=3778678&n=100"
	fallbackSongID = "2123990711"

	shareMessageLayout = "2006年01月02日15:04:05"
	shareGreeting      = "早上好"

	// codeAlreadyCheckedIn is returned by the daily check-in when today's point was taken.
	codeAlreadyCheckedIn = -2
)

// Doer runs platform calls on behalf of an account.
type Doer interface {
	Client(ctx context.Context, cred model.Credential) (*adhttp.Client, error)
	Do(ctx context.Context, cred model.Credential, call auth.Call) (*adhttp.Response, error)
}

// Mission is one musician cycle mission.
type Mission struct {
	UserMissionID json.Number `json:"userMissionId"`
	Period        json.Number `json:"period"`
	Description   string      `json:"description"`
}

// Claimable reports whether the mission is a check-in mission with everything needed to claim it.
func (m Mission) Claimable() bool {
	return strings.Contains(m.Description, "签到") && isSet(m.UserMissionID) && isSet(m.Period)
}

func isSet(n json.Number) bool {
	s := n.String()
	return s != "" && s != "0"
}

type missionListResponse struct {
	Data struct {
		List []Mission `json:"list"`
	} `json:"data"`
}

type playlistResponse struct {
	Playlist struct {
		Tracks []struct {
			ID json.Number `json:"id"`
		} `json:"tracks"`
	} `json:"playlist"`
}

type shareResponse struct {
	Event struct {
		ID json.Number `json:"id"`
	} `json:"event"`
}

// Tasks holds the reward endpoints of one account.
type Tasks struct {
	doer     Doer
	cred     model.Credential
	songPool string
	now      func() time.Time
	pick     func(n int) int
	Log      *logger.ClassLogger
}

func NewTasks(doer Doer, cred model.Credential, session *model.Session) *Tasks {
	t := &Tasks{
		doer:     doer,
		cred:     cred,
		songPool: songPoolURL,
		now:      time.Now,
		pick:     rand.IntN,
	}
	t.Log = logger.NewLogger(t, session)
	return t
}

func (t *Tasks) post(ctx context.Context, path string, payload any) (*adhttp.Response, error) {
	return t.doer.Do(ctx, t.cred, func(ctx context.Context, c *adhttp.Client) (*adhttp.Response, error) {
		return c.Call(ctx, http.MethodPost, path, payload, true)
	})
}

// postCSRF posts to path with the session's csrf token in the query string.
func (t *Tasks) postCSRF(ctx context.Context, path string, payload any) (*adhttp.Response, error) {
	return t.doer.Do(ctx, t.cred, func(ctx context.Context, c *adhttp.Client) (*adhttp.Response, error) {
		return c.Call(ctx, http.MethodPost, path+"?csrf_token="+c.CSRFToken(), payload, true)
	})
}

// DailyCheckin claims the web check-in point. It reports done for a fresh check-in and
// for one that was already taken today.
func (t *Tasks) DailyCheckin(ctx context.Context) (bool, *adhttp.Response, error) {
	res, err := t.post(ctx, dailyTaskPath, map[string]any{"type": 1})
	if err != nil {
		return false, nil, err
	}
	return res.OK() || res.Code == codeAlreadyCheckedIn, res, nil
}

func (t *Tasks) Missions(ctx context.Context) ([]Mission, error) {
	res, err := t.post(ctx, missionListPath, map[string]any{"actionType": 102, "platform": 200})
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	var out missionListResponse
	if err := res.Decode(&out); err != nil {
		return nil, err
	}
	return out.Data.List, nil
}

func (t *Tasks) ClaimMission(ctx context.Context, m Mission) (*adhttp.Response, error) {
	return t.post(ctx, missionRewardPath, map[string]any{
		"userMissionId": m.UserMissionID,
		"period":        m.Period,
	})
}

// RandomSong picks a track from the public song pool, falling back to a fixed id.
func (t *Tasks) RandomSong(ctx context.Context) string {
	res, err := t.doer.Do(ctx, t.cred, func(ctx context.Context, c *adhttp.Client) (*adhttp.Response, error) {
		return c.Call(ctx, http.MethodGet, t.songPool, nil, false)
	})
	if err != nil || !res.OK() {
		t.Log.JustLog("Song pool unavailable, using the fallback song")
		return fallbackSongID
	}

	var pool playlistResponse
	if err := res.Decode(&pool); err != nil {
		return fallbackSongID
	}
	var ids []string
	for _, track := range pool.Playlist.Tracks {
		if id := track.ID.String(); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return fallbackSongID
	}
	return ids[t.pick(len(ids))]
}

func (t *Tasks) ShareMessage() string {
	return t.now().Format(shareMessageLayout) + shareGreeting
}

// ShareSong posts a song share and returns the created event id, which may be empty.
func (t *Tasks) ShareSong(ctx context.Context, songID string) (string, *adhttp.Response, error) {
	res, err := t.postCSRF(ctx, sharePath, map[string]any{
		"id":   songID,
		"type": "song",
		"msg":  t.ShareMessage(),
	})
	if err != nil {
		return "", nil, err
	}
	if !res.OK() {
		return "", res, nil
	}
	var out shareResponse
	if err := res.Decode(&out); err != nil {
		return "", res, nil
	}
	return out.Event.ID.String(), res, nil
}

func (t *Tasks) DeleteEvent(ctx context.Context, eventID string) (*adhttp.Response, error) {
	return t.postCSRF(ctx, eventDeletePath, map[string]any{"id": eventID})
}
