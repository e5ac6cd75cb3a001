package model

// Session is the per-account view shared by the worker, the logger and the status board.
type Session struct {
	AccIdx        int
	UID           string
	Phone         string
	LoginMethod   string
	SessionStatus string
	CheckinStatus string
	MissionStatus string
	ShareStatus   string
	MissionsDone  int
	MissionsTotal int
	NextRun       string
}

func (s *Session) LoggingSession() *Session {
	if s == nil {
		return nil
	}
	return s
}
