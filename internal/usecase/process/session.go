package process

import (
	"os"
	"sync"
)

// Session is the process-wide state shared by every invocation: the working
// directory that blocking commands start in. Last writer wins.
type Session struct {
	mu  sync.RWMutex
	cwd string
}

// NewSession creates a Session rooted at dir, or at the current working
// directory when dir is empty.
func NewSession(dir string) *Session {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = "."
		}
		dir = wd
	}
	return &Session{cwd: dir}
}

// Cwd returns the current working directory.
func (s *Session) Cwd() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cwd
}

// SetCwd replaces the current working directory.
func (s *Session) SetCwd(dir string) {
	s.mu.Lock()
	s.cwd = dir
	s.mu.Unlock()
}
