package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/Xzeius/decentralised-marketspace/internal/session"
)

// Snapshot is one authoritative catalog state.
type Snapshot struct {
	Items      []Item
	Failed     int
	Access     session.AccessContext
	Generation uint64
	UpdatedAt  time.Time
}

// Syncer produces catalog items; *Pipeline is the production Syncer.
type Syncer interface {
	Sync(ctx context.Context, ac session.AccessContext) ([]Item, int, error)
}

// Store holds the latest catalog snapshot. Refreshes may overlap; a result is
// applied only if no refresh started after it has already been applied, so
// the snapshot never moves backwards and every snapshot comes from exactly
// one enumeration.
type Store struct {
	syncer  Syncer
	metrics *Metrics

	mu       sync.Mutex
	started  uint64
	applied  uint64
	snapshot Snapshot
	updates  chan Snapshot
}

var _ session.Refresher = (*Store)(nil)

// NewStore creates an empty store.
func NewStore(syncer Syncer, metrics *Metrics) *Store {
	return &Store{
		syncer:  syncer,
		metrics: metrics,
		updates: make(chan Snapshot, 1),
	}
}

// Prepare reserves the next generation for a sync under ac and returns the
// function that runs it. The result of a later Prepare always wins over an
// earlier one, whatever order they run in, and Reset invalidates every
// prepared sync.
func (s *Store) Prepare(ac session.AccessContext) func(ctx context.Context) error {
	s.mu.Lock()
	s.started++
	gen := s.started
	s.mu.Unlock()

	return func(ctx context.Context) error {
		return s.run(ctx, ac, gen)
	}
}

// Resync runs a sync under ac and applies the result if it is still the
// newest. The previous snapshot stays visible until then. A superseded
// result is dropped silently.
func (s *Store) Resync(ctx context.Context, ac session.AccessContext) error {
	return s.Prepare(ac)(ctx)
}

func (s *Store) run(ctx context.Context, ac session.AccessContext, gen uint64) error {
	items, failed, err := s.syncer.Sync(ctx, ac)
	if err != nil {
		log.Warnf("sync %d under %s failed: %v", gen, ac, err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen <= s.applied {
		log.Debugf("discarding sync %d, %d already applied", gen, s.applied)
		s.metrics.staleDiscarded()
		return nil
	}
	s.applied = gen
	s.snapshot = Snapshot{
		Items:      items,
		Failed:     failed,
		Access:     ac,
		Generation: gen,
		UpdatedAt:  time.Now(),
	}
	s.metrics.setItems(len(items))
	s.publishLocked()
	log.Infof("catalog now has %d items (sync %d, %d dropped)", len(items), gen, failed)
	return nil
}

// Reset drops the snapshot and invalidates every refresh already in flight.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = s.started
	s.snapshot = Snapshot{Generation: s.applied}
	s.metrics.setItems(0)
	s.publishLocked()
	log.Info("catalog reset")
}

// Snapshot returns the current snapshot. The Items slice must not be
// modified.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Updates delivers each new snapshot. A slow reader only sees the latest.
func (s *Store) Updates() <-chan Snapshot {
	return s.updates
}

func (s *Store) publishLocked() {
	select {
	case <-s.updates:
	default:
	}
	s.updates <- s.snapshot
}
