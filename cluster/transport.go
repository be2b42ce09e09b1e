package cluster

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/subchen/go-trylock/v2"
)

const sessionTableTimeout = 100 * time.Millisecond

// sessionTable caches live sessions keyed by service locator. Transport
// goroutines may race with the poll thread on eviction, so access goes
// through a try-lock with a timeout instead of blocking indefinitely.
type sessionTable struct {
	m   map[string]Session
	mu  trylock.TryLocker
	log *log.Entry
}

func newSessionTable(logger *log.Logger) *sessionTable {
	return &sessionTable{
		m:   make(map[string]Session),
		mu:  trylock.New(),
		log: logger.WithField("component", "sessiontable"),
	}
}

func (t *sessionTable) get(locator string) (Session, bool, error) {
	if ok := t.mu.RTryLockTimeout(sessionTableTimeout); !ok {
		return nil, false, errors.New("session table is locked")
	}
	defer t.mu.RUnlock()
	s, ok := t.m[locator]
	return s, ok, nil
}

func (t *sessionTable) put(locator string, s Session) error {
	if ok := t.mu.TryLockTimeout(sessionTableTimeout); !ok {
		return errors.New("session table is locked")
	}
	defer t.mu.Unlock()
	t.m[locator] = s
	return nil
}

func (t *sessionTable) del(locator string) (Session, error) {
	if ok := t.mu.TryLockTimeout(sessionTableTimeout); !ok {
		return nil, fmt.Errorf("session table is locked on %s", locator)
	}
	defer t.mu.Unlock()
	s := t.m[locator]
	delete(t.m, locator)
	return s, nil
}

// Dialer opens a new session to the given service locator.
type Dialer func(locator string) (Session, error)

// TransportManager hands out sessions to masters and caches them by
// service locator. Flushing a session evicts it so the next request
// opens a fresh connection.
type TransportManager struct {
	sessions *sessionTable
	dial     Dialer
	log      *log.Entry
}

// NewTransportManager creates a transport manager dialing real TCP
// sessions.
func NewTransportManager(logger *log.Logger) *TransportManager {
	return NewTransportManagerWithDialer(logger, func(locator string) (Session, error) {
		return dialTCP(logger, locator)
	})
}

// NewTransportManagerWithDialer creates a transport manager with a custom
// dialer. Tests substitute in-memory sessions this way.
func NewTransportManagerWithDialer(logger *log.Logger, dial Dialer) *TransportManager {
	return &TransportManager{
		sessions: newSessionTable(logger),
		dial:     dial,
		log:      logger.WithField("component", "transport"),
	}
}

// GetSession returns the cached session for locator, dialing one if none
// is cached.
func (tm *TransportManager) GetSession(locator string) (Session, error) {
	if s, ok, err := tm.sessions.get(locator); err != nil {
		return nil, err
	} else if ok {
		return s, nil
	}

	s, err := tm.dial(locator)
	if err != nil {
		return nil, err
	}
	if err := tm.sessions.put(locator, s); err != nil {
		return nil, err
	}
	tm.log.Infof("opened session to %s", locator)
	return s, nil
}

// FlushSession discards the cached session for locator, closing its
// connection if it owns one. Requests already in flight on the session
// report their own failures.
func (tm *TransportManager) FlushSession(locator string) {
	s, err := tm.sessions.del(locator)
	if err != nil {
		tm.log.Warnf("unable to flush session: %s", err)
		return
	}
	if s == nil {
		return
	}
	if ts, ok := s.(*tcpSession); ok {
		ts.close()
	}
	tm.log.Infof("flushed session to %s", locator)
}
