package cluster

import (
	"fmt"

	"github.com/jinzhu/copier"
	log "github.com/sirupsen/logrus"

	"github.com/stormspirit/RAMCloud/wire"
)

// Tablet is one contiguous range of a table's key-hash space owned by a
// single master.
type Tablet struct {
	TableID        uint64
	StartKeyHash   uint64
	EndKeyHash     uint64
	ServiceLocator string
}

// TabletSource supplies the authoritative tablet map for a table. The
// finder refetches from the source whenever its cache for a table has
// been flushed.
type TabletSource interface {
	TabletMap(tableID uint64) ([]Tablet, error)
}

// Finder resolves keys to sessions on the masters owning them. It caches
// tablet maps per table; a stale map shows up as STATUS_UNKNOWN_TABLET
// from the wrongly-addressed master, at which point the task flushes the
// table here and the next lookup refetches.
type Finder struct {
	source    TabletSource
	transport *TransportManager
	tablets   map[uint64][]Tablet
	log       *log.Entry
}

// NewFinder creates a finder backed by the given source and transport.
func NewFinder(logger *log.Logger, source TabletSource, transport *TransportManager) *Finder {
	return &Finder{
		source:    source,
		transport: transport,
		tablets:   make(map[uint64][]Tablet),
		log:       logger.WithField("component", "objectfinder"),
	}
}

// Lookup returns a session to the master owning keyHash of tableID.
// An unknown table is fatal to the calling transaction.
func (f *Finder) Lookup(tableID, keyHash uint64) (Session, error) {
	tablets, ok := f.tablets[tableID]
	if !ok {
		fetched, err := f.source.TabletMap(tableID)
		if err != nil {
			return nil, err
		}
		if len(fetched) == 0 {
			return nil, wire.NewStatusError(wire.StatusTableDoesntExist)
		}
		// Keep a private copy; the cache must not alias source state that
		// may change underneath it.
		if err := copier.Copy(&tablets, &fetched); err != nil {
			return nil, fmt.Errorf("unable to copy tablet map: %s", err)
		}
		f.tablets[tableID] = tablets
		f.log.Debugf("fetched tablet map for table %d (%d tablets)", tableID, len(tablets))
	}

	for i := range tablets {
		t := &tablets[i]
		if keyHash >= t.StartKeyHash && keyHash <= t.EndKeyHash {
			return f.transport.GetSession(t.ServiceLocator)
		}
	}
	return nil, wire.NewStatusError(wire.StatusTableDoesntExist)
}

// Flush drops the cached tablet map for tableID so the next lookup
// refetches from the source.
func (f *Finder) Flush(tableID uint64) {
	delete(f.tablets, tableID)
	f.log.Debugf("flushed tablet map for table %d", tableID)
}
