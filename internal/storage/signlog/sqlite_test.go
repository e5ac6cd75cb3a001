package signlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shanghai = time.FixedZone("CST", 8*3600)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, shanghai)
}

func TestDailyStatusEmpty(t *testing.T) {
	s := newTestStore(t)
	st, err := s.DailyStatus("123", day(2025, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, Status{}, st)
}

func TestMarksAccumulatePerDay(t *testing.T) {
	s := newTestStore(t)
	d := day(2025, 3, 1)

	require.NoError(t, s.MarkCheckin("123", d))
	require.NoError(t, s.SetMissionProgress("123", d, 1, 2))

	st, err := s.DailyStatus("123", d)
	require.NoError(t, err)
	assert.True(t, st.CheckinDone)
	assert.False(t, st.MissionsDone)
	assert.Equal(t, 1, st.MissionsClaimed)
	assert.Equal(t, 2, st.MissionsTotal)

	require.NoError(t, s.SetMissionProgress("123", d, 2, 2))
	require.NoError(t, s.MarkShare("123", d, "evt-1"))
	require.NoError(t, s.MarkShareDeleted("123", d))

	st, err = s.DailyStatus("123", d)
	require.NoError(t, err)
	assert.True(t, st.CheckinDone)
	assert.True(t, st.MissionsDone)
	assert.True(t, st.ShareDone)
	assert.True(t, st.ShareDeleted)
	assert.Equal(t, "evt-1", st.ShareEventID)

	other, err := s.DailyStatus("123", day(2025, 3, 2))
	require.NoError(t, err)
	assert.False(t, other.CheckinDone)
}

func TestNoMissionsCountsAsDone(t *testing.T) {
	s := newTestStore(t)
	d := day(2025, 3, 1)
	require.NoError(t, s.SetMissionProgress("123", d, 0, 0))

	st, err := s.DailyStatus("123", d)
	require.NoError(t, err)
	assert.True(t, st.MissionsDone)
}

func TestShareAllowedIntervalGate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MarkShare("123", day(2025, 3, 1), "e"))

	ok, reason, err := s.ShareAllowed("123", day(2025, 3, 5), 7, 4)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "4/7")

	ok, _, err = s.ShareAllowed("123", day(2025, 3, 8), 7, 4)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = s.ShareAllowed("456", day(2025, 3, 2), 7, 4)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestShareAllowedMonthlyGate(t *testing.T) {
	s := newTestStore(t)
	for _, d := range []int{1, 2, 3} {
		require.NoError(t, s.MarkShare("123", day(2025, 3, d), "e"))
	}

	ok, reason, err := s.ShareAllowed("123", day(2025, 3, 20), 0, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "3/3")

	ok, _, err = s.ShareAllowed("123", day(2025, 4, 1), 0, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.MarkCheckin("123", day(2025, 3, 1)))
	require.NoError(t, s.Close())

	s, err = NewStore(path)
	require.NoError(t, err)
	defer s.Close()

	st, err := s.DailyStatus("123", day(2025, 3, 1))
	require.NoError(t, err)
	assert.True(t, st.CheckinDone)
}
