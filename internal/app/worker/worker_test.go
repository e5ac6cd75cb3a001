package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adhttp "github.com/ohmynofan/netease-music-bot/internal/adapters/http"
	"github.com/ohmynofan/netease-music-bot/internal/app/auth"
	"github.com/ohmynofan/netease-music-bot/internal/config"
	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
	"github.com/ohmynofan/netease-music-bot/internal/storage/signlog"
)

type fakeDoer struct {
	client    *adhttp.Client
	clientErr error
}

func (f *fakeDoer) Client(context.Context, model.Credential) (*adhttp.Client, error) {
	return f.client, f.clientErr
}

func (f *fakeDoer) Do(ctx context.Context, _ model.Credential, call auth.Call) (*adhttp.Response, error) {
	return call(ctx, f.client)
}

type fakePlatform struct {
	mu        sync.Mutex
	requests  []string
	responses map[string]string
}

func (p *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.requests = append(p.requests, r.URL.RequestURI())
	body, ok := p.responses[r.URL.Path]
	p.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte(body))
}

func (p *fakePlatform) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

func happyResponses() map[string]string {
	return map[string]string{
		dailyTaskPath: `{"code":200,"point":2}`,
		missionListPath: `{"code":200,"data":{"list":[
			{"userMissionId":111,"period":1,"description":"音乐人每日签到"},
			{"userMissionId":222,"period":7,"description":"连续签到7天"},
			{"userMissionId":333,"period":1,"description":"发布动态"}
		]}}`,
		missionRewardPath:        `{"code":200}`,
		"/api/v6/playlist/detail": `{"code":200,"playlist":{"tracks":[{"id":1},{"id":2}]}}`,
		sharePath:                `{"code":200,"event":{"id":9001}}`,
		eventDeletePath:          `{"code":200}`,
	}
}

type harness struct {
	platform *fakePlatform
	store    *signlog.Store
	worker   *Worker
	session  *model.Session
	doer     *fakeDoer
}

var testNow = time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC) // 09:30 in Shanghai

func newHarness(t *testing.T, responses map[string]string) *harness {
	t.Helper()
	p := &fakePlatform{responses: responses}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)

	client, err := adhttp.NewClient(adhttp.Options{BaseURL: srv.URL, Cookie: "MUSIC_U=m; __csrf=tok", MaxAttempts: 1}, nil)
	require.NoError(t, err)

	store, err := signlog.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Config{
		Timezone:              "Asia/Shanghai",
		SendTime:              "09:30",
		ExecutionIntervalDays: 7,
		MaxMonthlySends:       4,
	}
	session := &model.Session{Phone: "13800000000"}
	doer := &fakeDoer{client: client}
	w, err := New(model.Credential{AccountID: "777", Phone: "13800000000", TaskKey: "acct-1"}, cfg, session, doer, store)
	require.NoError(t, err)
	w.now = func() time.Time { return testNow }
	w.tasks.now = w.now
	w.tasks.songPool = srv.URL + "/api/v6/playlist/detail?id=3778678&n=100"
	w.tasks.pick = func(n int) int { return n - 1 }

	return &harness{platform: p, store: store, worker: w, session: session, doer: doer}
}

func TestRunCycleCompletesEveryTask(t *testing.T) {
	h := newHarness(t, happyResponses())
	require.NoError(t, h.worker.RunCycle(context.Background()))

	assert.Equal(t, []string{
		dailyTaskPath,
		missionListPath,
		missionRewardPath,
		missionRewardPath,
		"/api/v6/playlist/detail?id=3778678&n=100",
		sharePath + "?csrf_token=tok",
		eventDeletePath + "?csrf_token=tok",
	}, h.platform.seen())

	day := testNow.In(h.worker.loc)
	st, err := h.store.DailyStatus("acct-1", day)
	require.NoError(t, err)
	assert.True(t, st.CheckinDone)
	assert.True(t, st.MissionsDone)
	assert.Equal(t, 2, st.MissionsClaimed)
	assert.Equal(t, 2, st.MissionsTotal)
	assert.True(t, st.ShareDone)
	assert.Equal(t, "9001", st.ShareEventID)
	assert.True(t, st.ShareDeleted)

	assert.Equal(t, statusDone, h.session.CheckinStatus)
	assert.Equal(t, statusDone, h.session.MissionStatus)
	assert.Equal(t, statusDone, h.session.ShareStatus)
	assert.Equal(t, 2, h.session.MissionsDone)
	assert.Equal(t, 2, h.session.MissionsTotal)
}

func TestRunCycleSkipsRecordedTasks(t *testing.T) {
	h := newHarness(t, happyResponses())
	require.NoError(t, h.worker.RunCycle(context.Background()))
	first := len(h.platform.seen())

	require.NoError(t, h.worker.RunCycle(context.Background()))
	assert.Len(t, h.platform.seen(), first)
	assert.Equal(t, statusDone, h.session.ShareStatus)
}

func TestRunCycleAlreadyCheckedIn(t *testing.T) {
	responses := happyResponses()
	responses[dailyTaskPath] = `{"code":-2,"msg":"重复签到"}`
	h := newHarness(t, responses)
	require.NoError(t, h.worker.RunCycle(context.Background()))

	st, err := h.store.DailyStatus("acct-1", testNow.In(h.worker.loc))
	require.NoError(t, err)
	assert.True(t, st.CheckinDone)
}

func TestRunCycleRespectsShareGate(t *testing.T) {
	h := newHarness(t, happyResponses())
	lastWeek := testNow.In(h.worker.loc).AddDate(0, 0, -3)
	require.NoError(t, h.store.MarkShare("acct-1", lastWeek, "1"))

	require.NoError(t, h.worker.RunCycle(context.Background()))
	for _, req := range h.platform.seen() {
		assert.NotContains(t, req, sharePath)
	}
	assert.Contains(t, h.session.ShareStatus, statusSkipped)
}

func TestRunCycleFailedClaimLeavesMissionsOpen(t *testing.T) {
	responses := happyResponses()
	responses[missionRewardPath] = `{"code":400,"msg":"already claimed"}`
	h := newHarness(t, responses)
	require.NoError(t, h.worker.RunCycle(context.Background()))

	st, err := h.store.DailyStatus("acct-1", testNow.In(h.worker.loc))
	require.NoError(t, err)
	assert.False(t, st.MissionsDone)
	assert.Equal(t, 0, st.MissionsClaimed)
	assert.Equal(t, 2, st.MissionsTotal)
	assert.Equal(t, statusFailed, h.session.MissionStatus)
}

func TestRunCycleStopsWhenLoginFails(t *testing.T) {
	h := newHarness(t, happyResponses())
	h.doer.clientErr = model.ErrLoginFailed

	err := h.worker.RunCycle(context.Background())
	assert.True(t, errors.Is(err, model.ErrLoginFailed))
	assert.Empty(t, h.platform.seen())
}

func TestRandomSongFallsBack(t *testing.T) {
	responses := happyResponses()
	delete(responses, "/api/v6/playlist/detail")
	h := newHarness(t, responses)
	assert.Equal(t, fallbackSongID, h.worker.tasks.RandomSong(context.Background()))

	h2 := newHarness(t, happyResponses())
	assert.Equal(t, "2", h2.worker.tasks.RandomSong(context.Background()))
}

func TestShareMessage(t *testing.T) {
	h := newHarness(t, happyResponses())
	local := time.Date(2026, 3, 10, 9, 30, 5, 0, time.FixedZone("CST", 8*3600))
	h.worker.tasks.now = func() time.Time { return local }
	assert.Equal(t, "2026年03月10日09:30:05早上好", h.worker.tasks.ShareMessage())
}

func TestMissionClaimable(t *testing.T) {
	assert.True(t, Mission{UserMissionID: "1", Period: "1", Description: "每日签到"}.Claimable())
	assert.False(t, Mission{UserMissionID: "1", Period: "1", Description: "发布动态"}.Claimable())
	assert.False(t, Mission{UserMissionID: "", Period: "1", Description: "签到"}.Claimable())
	assert.False(t, Mission{UserMissionID: "1", Period: "0", Description: "签到"}.Claimable())
}

func TestNextRun(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	before := time.Date(2026, 3, 10, 8, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 30, 0, 0, loc), NextRun(before, loc, 9, 30))

	exact := time.Date(2026, 3, 10, 9, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 30, 0, 0, loc), NextRun(exact, loc, 9, 30))

	utc := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC) // 07:00 on April 1st in Shanghai
	assert.Equal(t, time.Date(2026, 4, 1, 9, 30, 0, 0, loc), NextRun(utc, loc, 9, 30))
}

func TestHandleError(t *testing.T) {
	h := newHarness(t, happyResponses())

	stop, retry := handleError(h.worker, model.Fatal(errors.New("invalid account input")))
	assert.True(t, stop)
	assert.Zero(t, retry)

	stop, retry = handleError(h.worker, model.ErrLoginFailed)
	assert.False(t, stop)
	assert.Zero(t, retry)

	stop, retry = handleError(h.worker, model.ErrStoreOperationFailed)
	assert.False(t, stop)
	assert.Equal(t, errorRetryDelay, retry)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, happyResponses())
	h.worker.cfg.RunOnStart = true
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.worker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(h.platform.seen()) >= 7 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	assert.NotEmpty(t, h.session.NextRun)
}
