package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
)

const (
	LoginMethodAPI     = "api"
	LoginMethodBrowser = "browser"

	HTTPClientStd = "std"
	HTTPClientTLS = "tls"

	defaultSendTime = "09:30"
)

type Config struct {
	RedisURL       string
	LoginMethod    string
	ProfileBaseDir string
	ProfilePerUser bool
	Headless       bool
	HTTPClient     string
	Proxy          string

	SendTime string
	Timezone string

	ExecutionIntervalDays int
	MaxMonthlySends       int
	SessionTTLDays        int
	LoginTimeoutSeconds   int
	ShareDeleteDelaySecs  int
	RunOnStart            bool

	AccountsPath string
	LedgerPath   string
	LogPath      string
}

func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using default values")
	}
	return FromEnv()
}

// FromEnv reads the process environment without touching .env files.
func FromEnv() Config {
	loginMethod := strings.ToLower(strings.TrimSpace(os.Getenv("LOGIN_METHOD")))
	if loginMethod != LoginMethodAPI {
		loginMethod = LoginMethodBrowser
	}

	httpClient := strings.ToLower(strings.TrimSpace(os.Getenv("HTTP_CLIENT")))
	if httpClient != HTTPClientTLS {
		httpClient = HTTPClientStd
	}

	sendTime := strings.TrimSpace(os.Getenv("SEND_TIME"))
	if _, _, err := ParseClock(sendTime); err != nil {
		sendTime = defaultSendTime
	}

	return Config{
		RedisURL:       stringWithDefault(os.Getenv("REDIS_URL"), "redis://localhost:6379/5"),
		LoginMethod:    loginMethod,
		ProfileBaseDir: stringWithDefault(os.Getenv("PROFILE_BASEDIR"), "data/profiles"),
		ProfilePerUser: parseBoolWithDefault(os.Getenv("PROFILE_PER_USER"), true),
		Headless:       parseBoolWithDefault(os.Getenv("HEADLESS"), false),
		HTTPClient:     httpClient,
		Proxy:          strings.TrimSpace(os.Getenv("PROXY")),

		SendTime: sendTime,
		Timezone: stringWithDefault(os.Getenv("TIMEZONE"), "Asia/Shanghai"),

		ExecutionIntervalDays: parseIntWithDefault(os.Getenv("EXECUTION_INTERVAL_DAYS"), 7),
		MaxMonthlySends:       parseIntWithDefault(os.Getenv("MAX_MONTHLY_SENDS"), 4),
		SessionTTLDays:        parseIntWithDefault(os.Getenv("SESSION_TTL_DAYS"), 7),
		LoginTimeoutSeconds:   parseIntWithDefault(os.Getenv("LOGIN_TIMEOUT_SECONDS"), 300),
		ShareDeleteDelaySecs:  parseIntWithDefault(os.Getenv("SHARE_DELETE_DELAY_SECONDS"), 10),
		RunOnStart:            parseBoolWithDefault(os.Getenv("RUN_ON_START"), true),

		AccountsPath: stringWithDefault(os.Getenv("ACCOUNTS_PATH"), "configs/accounts.json"),
		LedgerPath:   stringWithDefault(os.Getenv("LEDGER_PATH"), "data/netease.db"),
		LogPath:      stringWithDefault(os.Getenv("LOG_PATH"), "logs/app.log"),
	}
}

func stringWithDefault(value, defaultVal string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	return value
}

func parseIntWithDefault(value string, defaultVal int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(value); err == nil && v >= 0 {
		return v
	}
	return defaultVal
}

func parseBoolWithDefault(value string, defaultVal bool) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	if v, err := strconv.ParseBool(value); err == nil {
		return v
	}
	return defaultVal
}

// ParseClock parses "HH:MM".
func ParseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q, expected HH:MM", value)
	}
	return t.Hour(), t.Minute(), nil
}

func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLDays) * 24 * time.Hour
}

func (c Config) LoginTimeout() time.Duration {
	return time.Duration(c.LoginTimeoutSeconds) * time.Second
}

func (c Config) ShareDeleteDelay() time.Duration {
	return time.Duration(c.ShareDeleteDelaySecs) * time.Second
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.RedisURL) == "" {
		return errors.New("REDIS_URL is required")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.SessionTTLDays == 0 {
		return errors.New("SESSION_TTL_DAYS must be positive")
	}
	if c.LoginTimeoutSeconds == 0 {
		return errors.New("LOGIN_TIMEOUT_SECONDS must be positive")
	}
	if c.LoginMethod == LoginMethodBrowser && strings.TrimSpace(c.ProfileBaseDir) == "" {
		return errors.New("PROFILE_BASEDIR is required for browser login")
	}
	return nil
}

// LoadAccounts reads the accounts file. A missing file returns os.ErrNotExist so the
// caller can fall back to the registry.
func (c Config) LoadAccounts() ([]model.Credential, error) {
	b, err := os.ReadFile(c.AccountsPath)
	if err != nil {
		return nil, err
	}

	var accounts []model.Credential
	if err := json.Unmarshal(b, &accounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accounts: %w", err)
	}

	for idx := range accounts {
		acc := &accounts[idx]
		acc.Phone = strings.TrimSpace(acc.Phone)
		acc.AccountID = strings.TrimSpace(acc.AccountID)
		if acc.Phone == "" || acc.Password == "" {
			return nil, fmt.Errorf("invalid account input: phone and password required at index %d", idx)
		}
		if acc.TaskKey == "" {
			acc.TaskKey = acc.Phone
		}
	}
	return accounts, nil
}
