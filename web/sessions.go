package web

import (
	"sync"
	"time"

	"github.com/ShoshinNikita/filepreview/pkg/rlog"
	"github.com/ShoshinNikita/filepreview/session"
	"github.com/google/uuid"
)

// sessionRegistry keeps sessions created via API. Sessions that weren't accessed for ttl
// are closed by the janitor.
type sessionRegistry struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionEntry

	stopJanitor chan struct{}
	janitorDone chan struct{}
}

type sessionEntry struct {
	session    *session.Session
	lastAccess time.Time
}

func newSessionRegistry(ttl time.Duration) *sessionRegistry {
	return &sessionRegistry{
		ttl:      ttl,
		sessions: make(map[string]*sessionEntry),
	}
}

func (reg *sessionRegistry) Add(s *session.Session) (id string) {
	id = uuid.NewString()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.sessions[id] = &sessionEntry{
		session:    s,
		lastAccess: time.Now(),
	}
	return id
}

// Get returns the session and updates its last access time.
func (reg *sessionRegistry) Get(id string) (*session.Session, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	entry, ok := reg.sessions[id]
	if !ok {
		return nil, false
	}
	entry.lastAccess = time.Now()
	return entry.session, true
}

// Delete removes and closes the session.
func (reg *sessionRegistry) Delete(id string) bool {
	reg.mu.Lock()
	entry, ok := reg.sessions[id]
	delete(reg.sessions, id)
	reg.mu.Unlock()

	if ok {
		entry.session.Close()
	}
	return ok
}

func (reg *sessionRegistry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	return len(reg.sessions)
}

// Purge closes sessions that were accessed before now-ttl.
func (reg *sessionRegistry) Purge(now time.Time) (purged int) {
	var expired []*session.Session

	reg.mu.Lock()
	for id, entry := range reg.sessions {
		if now.Sub(entry.lastAccess) > reg.ttl {
			expired = append(expired, entry.session)
			delete(reg.sessions, id)
		}
	}
	reg.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	return len(expired)
}

// StartJanitor starts a goroutine that purges expired sessions every frequency.
func (reg *sessionRegistry) StartJanitor(frequency time.Duration) {
	reg.stopJanitor = make(chan struct{})
	reg.janitorDone = make(chan struct{})

	go func() {
		defer close(reg.janitorDone)

		rlog.Debugf("purge expired sessions every %s", frequency)

		ticker := time.NewTicker(frequency)
		defer ticker.Stop()

		for {
			select {
			case <-reg.stopJanitor:
				return
			case now := <-ticker.C:
				if n := reg.Purge(now); n > 0 {
					rlog.Debugf("%d expired session(s) were closed", n)
				}
			}
		}
	}()
}

// Close stops the janitor and closes all sessions.
func (reg *sessionRegistry) Close() {
	if reg.stopJanitor != nil {
		close(reg.stopJanitor)
		<-reg.janitorDone
		reg.stopJanitor = nil
	}

	reg.mu.Lock()
	sessions := reg.sessions
	reg.sessions = make(map[string]*sessionEntry)
	reg.mu.Unlock()

	for _, entry := range sessions {
		entry.session.Close()
	}
}
