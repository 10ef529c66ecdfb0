package asp

import "maps"

// Session holds the per-visitor values of the legacy Session object. The
// host loads it before a run and persists it afterwards when Dirty.
type Session struct {
	id        string
	values    map[string]string
	timeout   int
	dirty     bool
	abandoned bool
}

// NewSession returns a session with the given id, values and timeout in
// minutes. values is copied.
func NewSession(id string, values map[string]string, timeout int) *Session {
	v := make(map[string]string, len(values))
	maps.Copy(v, values)
	return &Session{id: id, values: v, timeout: timeout}
}

func (s *Session) Get(key string) string {
	return s.values[key]
}

func (s *Session) Set(key, value string) {
	s.values[key] = value
	s.dirty = true
}

func (s *Session) Remove(key string) {
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// Abandon drops every value. The host deletes the session cookie.
func (s *Session) Abandon() {
	s.values = make(map[string]string)
	s.abandoned = true
	s.dirty = true
}

func (s *Session) SessionID() string { return s.id }

// Timeout returns the session lifetime in minutes.
func (s *Session) Timeout() int { return s.timeout }

func (s *Session) SetTimeout(minutes int) error {
	if minutes <= 0 {
		return invalidArgument("Session.Timeout: %d", minutes)
	}
	s.timeout = minutes
	s.dirty = true
	return nil
}

// Values returns a copy of the stored values.
func (s *Session) Values() map[string]string {
	return maps.Clone(s.values)
}

func (s *Session) Dirty() bool     { return s.dirty }
func (s *Session) Abandoned() bool { return s.abandoned }
