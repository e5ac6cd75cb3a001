package signlog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

// Status is one account's progress for one day.
type Status struct {
	CheckinDone     bool
	MissionsDone    bool
	MissionsClaimed int
	MissionsTotal   int
	ShareDone       bool
	ShareEventID    string
	ShareDeleted    bool
}

// Store is the run ledger. Days are taken in the location of the time passed in, so
// callers should pass times already converted to the scheduling timezone.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// workers write concurrently; one connection serialises them instead of failing with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	createStmt := `CREATE TABLE IF NOT EXISTS sign_logs (
        account TEXT NOT NULL,
        signed_date TEXT NOT NULL,
        checkin_done INTEGER NOT NULL DEFAULT 0,
        missions_done INTEGER NOT NULL DEFAULT 0,
        missions_claimed INTEGER NOT NULL DEFAULT 0,
        missions_total INTEGER NOT NULL DEFAULT 0,
        share_done INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY(account, signed_date)
    )`
	if _, err := s.db.Exec(createStmt); err != nil {
		return err
	}
	return s.ensureColumns()
}

func (s *Store) ensureColumns() error {
	columns := map[string]bool{}
	rows, err := s.db.Query(`PRAGMA table_info(sign_logs)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		columns[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	alterStatements := []string{}
	addColumn := func(name, definition string) {
		if !columns[name] {
			alterStatements = append(alterStatements, definition)
		}
	}

	addColumn("share_event_id", `ALTER TABLE sign_logs ADD COLUMN share_event_id TEXT`)
	addColumn("share_deleted", `ALTER TABLE sign_logs ADD COLUMN share_deleted INTEGER NOT NULL DEFAULT 0`)

	for _, stmt := range alterStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DailyStatus(account string, day time.Time) (Status, error) {
	var st Status
	var checkin, missions, share, deleted int
	var eventID sql.NullString

	err := s.db.QueryRow(`SELECT checkin_done, missions_done, missions_claimed, missions_total, share_done, share_event_id, share_deleted
    FROM sign_logs WHERE account = ? AND signed_date = ?`, normalizeAccount(account), day.Format(dateLayout)).
		Scan(&checkin, &missions, &st.MissionsClaimed, &st.MissionsTotal, &share, &eventID, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}

	st.CheckinDone = checkin == 1
	st.MissionsDone = missions == 1
	st.ShareDone = share == 1
	st.ShareDeleted = deleted == 1
	if eventID.Valid {
		st.ShareEventID = eventID.String
	}
	return st, nil
}

func (s *Store) MarkCheckin(account string, day time.Time) error {
	_, err := s.db.Exec(`INSERT INTO sign_logs(account, signed_date, checkin_done)
    VALUES(?, ?, 1)
    ON CONFLICT(account, signed_date) DO UPDATE SET checkin_done = 1`, normalizeAccount(account), day.Format(dateLayout))
	return err
}

// SetMissionProgress records claimed/total check-in missions. The day is done once every
// mission is claimed, or when there is nothing to claim.
func (s *Store) SetMissionProgress(account string, day time.Time, claimed, total int) error {
	done := 0
	if claimed >= total {
		done = 1
	}

	_, err := s.db.Exec(`INSERT INTO sign_logs(account, signed_date, missions_claimed, missions_total, missions_done)
    VALUES(?, ?, ?, ?, ?)
    ON CONFLICT(account, signed_date) DO UPDATE SET
        missions_claimed = excluded.missions_claimed,
        missions_total = excluded.missions_total,
        missions_done = excluded.missions_done`, normalizeAccount(account), day.Format(dateLayout), claimed, total, done)
	return err
}

func (s *Store) MarkShare(account string, day time.Time, eventID string) error {
	_, err := s.db.Exec(`INSERT INTO sign_logs(account, signed_date, share_done, share_event_id)
    VALUES(?, ?, 1, ?)
    ON CONFLICT(account, signed_date) DO UPDATE SET share_done = 1, share_event_id = excluded.share_event_id`,
		normalizeAccount(account), day.Format(dateLayout), eventID)
	return err
}

func (s *Store) MarkShareDeleted(account string, day time.Time) error {
	_, err := s.db.Exec(`UPDATE sign_logs SET share_deleted = 1 WHERE account = ? AND signed_date = ?`,
		normalizeAccount(account), day.Format(dateLayout))
	return err
}

// ShareAllowed applies the share gate: at least intervalDays since the last share and
// fewer than maxMonthly shares in day's calendar month. Zero disables either limit.
func (s *Store) ShareAllowed(account string, day time.Time, intervalDays, maxMonthly int) (bool, string, error) {
	acc := normalizeAccount(account)

	if intervalDays > 0 {
		var last sql.NullString
		err := s.db.QueryRow(`SELECT MAX(signed_date) FROM sign_logs WHERE account = ? AND share_done = 1 AND signed_date <= ?`,
			acc, day.Format(dateLayout)).Scan(&last)
		if err != nil {
			return false, "", err
		}
		if last.Valid && last.String != "" {
			lastDay, err := time.ParseInLocation(dateLayout, last.String, day.Location())
			if err != nil {
				return false, "", fmt.Errorf("invalid ledger date %q: %w", last.String, err)
			}
			today := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
			elapsed := int(today.Sub(lastDay).Hours() / 24)
			if elapsed < intervalDays {
				return false, fmt.Sprintf("last share %s, %d/%d days elapsed", last.String, elapsed, intervalDays), nil
			}
		}
	}

	if maxMonthly > 0 {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM sign_logs WHERE account = ? AND share_done = 1 AND substr(signed_date, 1, 7) = ?`,
			acc, day.Format(monthLayout)).Scan(&count)
		if err != nil {
			return false, "", err
		}
		if count >= maxMonthly {
			return false, fmt.Sprintf("monthly limit reached (%d/%d)", count, maxMonthly), nil
		}
	}

	return true, "", nil
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
