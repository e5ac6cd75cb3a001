package http

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// cookieSet is the client's own jar. Cookies are keyed by name only because every call
// targets the same site, and insertion order is kept so exports stay stable.
type cookieSet struct {
	mu     sync.Mutex
	names  []string
	values map[string]string
}

func newCookieSet(raw string) *cookieSet {
	s := &cookieSet{values: make(map[string]string)}
	s.parse(raw)
	return s
}

// parse reads a "k=v; k2=v2" string, the format stored in the session store.
func (s *cookieSet) parse(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		name, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s.setLocked(name, strings.TrimSpace(value))
	}
}

// merge applies Set-Cookie headers. Deletions remove the cookie from the set.
func (s *cookieSet) merge(header http.Header) {
	cookies := (&http.Response{Header: header}).Cookies()
	if len(cookies) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, c := range cookies {
		if shouldDelete(c, now) {
			s.deleteLocked(c.Name)
			continue
		}
		s.setLocked(c.Name, c.Value)
	}
}

func (s *cookieSet) get(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[name]
}

func (s *cookieSet) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[name]
	return ok
}

func (s *cookieSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

func (s *cookieSet) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := make([]string, 0, len(s.names))
	for _, name := range s.names {
		parts = append(parts, name+"="+s.values[name])
	}
	return strings.Join(parts, "; ")
}

func (s *cookieSet) setLocked(name, value string) {
	if _, ok := s.values[name]; !ok {
		s.names = append(s.names, name)
	}
	s.values[name] = value
}

func (s *cookieSet) deleteLocked(name string) {
	if _, ok := s.values[name]; !ok {
		return
	}
	delete(s.values, name)
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i], s.names[i+1:]...)
			break
		}
	}
}

func shouldDelete(c *http.Cookie, now time.Time) bool {
	if c.MaxAge < 0 {
		return true
	}
	if !c.Expires.IsZero() && c.Expires.Before(now) {
		return true
	}
	return false
}
