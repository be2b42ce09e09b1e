// Package lease manages the client's lease: a time-bounded identity whose
// id is attached to prepare and decision RPCs so masters can fence
// transactions of clients that have gone away.
package lease

import (
	"encoding/binary"
	"time"

	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"

	"github.com/stormspirit/RAMCloud/wire"
)

const (
	// DefaultTerm is how long a freshly issued or renewed lease is valid.
	DefaultTerm = 30 * time.Second

	// renewLead is how far before expiration GetLease starts renewing.
	renewLead = DefaultTerm / 2
)

// Manager issues and renews the client lease. All access happens on the
// client's poll thread.
type Manager struct {
	leaseID    uint64
	expiration time.Time
	term       time.Duration
	now        func() time.Time
	log        *log.Entry
}

// NewManager creates a lease manager. The first lease id is derived from
// a fresh xid so concurrent clients on one host do not collide.
func NewManager(logger *log.Logger) *Manager {
	id := xid.New()
	return &Manager{
		// xid bytes 4..11 cover the machine, pid and counter parts.
		leaseID: binary.BigEndian.Uint64(id.Bytes()[4:]),
		term:    DefaultTerm,
		now:     time.Now,
		log:     logger.WithField("component", "lease"),
	}
}

// GetLease returns a lease valid for the near future, renewing or
// reissuing as needed. Renewal keeps the lease id; only a lease that
// fully expired gets a new identity.
func (m *Manager) GetLease() wire.Lease {
	now := m.now()
	switch {
	case m.expiration.IsZero():
		m.expiration = now.Add(m.term)
		m.log.Infof("issued lease %d", m.leaseID)
	case now.After(m.expiration):
		m.leaseID++
		m.expiration = now.Add(m.term)
		m.log.Warnf("lease expired, reissued as %d", m.leaseID)
	case m.expiration.Sub(now) < renewLead:
		m.expiration = now.Add(m.term)
	}
	return wire.Lease{
		LeaseID:    m.leaseID,
		Expiration: uint64(m.expiration.UnixNano()),
		Timestamp:  uint64(now.UnixNano()),
	}
}
