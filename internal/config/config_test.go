package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"REDIS_URL", "LOGIN_METHOD", "HTTP_CLIENT", "SEND_TIME", "TIMEZONE", "RUN_ON_START", "SESSION_TTL_DAYS"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	assert.Equal(t, "redis://localhost:6379/5", cfg.RedisURL)
	assert.Equal(t, LoginMethodBrowser, cfg.LoginMethod)
	assert.Equal(t, HTTPClientStd, cfg.HTTPClient)
	assert.Equal(t, "09:30", cfg.SendTime)
	assert.Equal(t, "Asia/Shanghai", cfg.Timezone)
	assert.True(t, cfg.RunOnStart)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionTTL())
	assert.Equal(t, 300*time.Second, cfg.LoginTimeout())
	assert.Equal(t, 10*time.Second, cfg.ShareDeleteDelay())
	assert.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("LOGIN_METHOD", "API")
	t.Setenv("HTTP_CLIENT", "tls")
	t.Setenv("SEND_TIME", "07:05")
	t.Setenv("RUN_ON_START", "false")
	t.Setenv("MAX_MONTHLY_SENDS", "2")
	t.Setenv("EXECUTION_INTERVAL_DAYS", "-3")

	cfg := FromEnv()
	assert.Equal(t, LoginMethodAPI, cfg.LoginMethod)
	assert.Equal(t, HTTPClientTLS, cfg.HTTPClient)
	assert.Equal(t, "07:05", cfg.SendTime)
	assert.False(t, cfg.RunOnStart)
	assert.Equal(t, 2, cfg.MaxMonthlySends)
	assert.Equal(t, 7, cfg.ExecutionIntervalDays)
}

func TestUnknownValuesFallBack(t *testing.T) {
	t.Setenv("LOGIN_METHOD", "carrier-pigeon")
	t.Setenv("SEND_TIME", "25:99")

	cfg := FromEnv()
	assert.Equal(t, LoginMethodBrowser, cfg.LoginMethod)
	assert.Equal(t, "09:30", cfg.SendTime)
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := FromEnv()
	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("23:45")
	require.NoError(t, err)
	assert.Equal(t, 23, h)
	assert.Equal(t, 45, m)

	_, _, err = ParseClock("noon")
	assert.Error(t, err)
}

func TestLoadAccounts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"phone":" 13800000001 ","password":"pw1"},
		{"uid":"998877","phone":"13800000002","password":"pw2","task_key":"task-2"}
	]`), 0o600))

	accounts, err := Config{AccountsPath: path}.LoadAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, "13800000001", accounts[0].Phone)
	assert.Equal(t, "13800000001", accounts[0].TaskKey)
	assert.False(t, accounts[0].KnownUID())

	assert.Equal(t, "998877", accounts[1].AccountID)
	assert.Equal(t, "task-2", accounts[1].TaskKey)
	assert.True(t, accounts[1].KnownUID())
}

func TestLoadAccountsRejectsIncompleteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"phone":"138"}]`), 0o600))

	_, err := Config{AccountsPath: path}.LoadAccounts()
	assert.Error(t, err)
}

func TestLoadAccountsMissingFile(t *testing.T) {
	_, err := Config{AccountsPath: filepath.Join(t.TempDir(), "nope.json")}.LoadAccounts()
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
