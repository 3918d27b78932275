package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("session")

// Provider is the wallet: it knows the connected accounts and the chain the
// wallet is pointed at.
type Provider interface {
	Accounts(ctx context.Context) ([]Identity, error)
	ChainID(ctx context.Context) (uint64, error)
}

// Refresher is told when identity-dependent state must be rebuilt.
type Refresher interface {
	// Prepare reserves a rebuild under ac and returns the function that
	// runs it. Rebuilds are ordered by Prepare, not by when they run.
	Prepare(ac AccessContext) func(ctx context.Context) error
	// Resync prepares and runs a rebuild under ac. Already-held state
	// stays visible until the new result lands.
	Resync(ctx context.Context, ac AccessContext) error
	// Reset drops all held state and invalidates in-flight rebuilds.
	Reset()
}

// EventKind identifies a wallet notification.
type EventKind int

const (
	EventAccountsChanged EventKind = iota
	EventChainChanged
)

func (k EventKind) String() string {
	switch k {
	case EventAccountsChanged:
		return "accounts-changed"
	case EventChainChanged:
		return "chain-changed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a wallet notification.
type Event struct {
	Kind     EventKind
	Accounts []Identity
	ChainID  uint64
}

// DefaultEventBuffer is the event channel capacity used when none is given.
const DefaultEventBuffer = 16

// Reactor consumes wallet events on a single goroutine, owns the current
// AccessContext, and drives catalog refreshes.
type Reactor struct {
	selector  Selector
	provider  Provider
	refresher Refresher
	events    chan Event

	mu      sync.RWMutex
	state   State
	current AccessContext
	subs    map[int]chan AccessContext
	nextSub int

	inflight sync.WaitGroup
}

// NewReactor creates a reactor. buffer bounds the event channel; values
// below one use DefaultEventBuffer.
func NewReactor(selector Selector, provider Provider, refresher Refresher, buffer int) *Reactor {
	if buffer < 1 {
		buffer = DefaultEventBuffer
	}
	return &Reactor{
		selector:  selector,
		provider:  provider,
		refresher: refresher,
		events:    make(chan Event, buffer),
		current:   selector.Select(State{}),
		subs:      make(map[int]chan AccessContext),
	}
}

// Notify queues an event, blocking while the buffer is full.
func (r *Reactor) Notify(ctx context.Context, ev Event) error {
	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current returns the AccessContext as of now.
func (r *Reactor) Current() AccessContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// State returns the last observed session state.
func (r *Reactor) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Subscribe returns a channel that receives every new AccessContext. A slow
// subscriber only sees the latest value. The returned func unsubscribes.
func (r *Reactor) Subscribe() (<-chan AccessContext, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan AccessContext, 1)
	ch <- r.current
	r.subs[id] = ch

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(ch)
		}
	}
}

// Run loads the initial session, triggers the first sync, and then handles
// events until ctx is cancelled. It waits for in-flight refreshes before
// returning.
func (r *Reactor) Run(ctx context.Context) error {
	defer r.inflight.Wait()

	r.reload(ctx)
	r.resync(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.events:
			r.handle(ctx, ev)
		}
	}
}

func (r *Reactor) handle(ctx context.Context, ev Event) {
	log.Debugf("session event %s", ev.Kind)

	switch ev.Kind {
	case EventAccountsChanged:
		st := r.State()
		if len(ev.Accounts) > 0 && !ev.Accounts[0].IsZero() {
			st.Connected = true
			st.Identity = ev.Accounts[0]
			log.Infof("wallet account is now %s", st.Identity.Short())
		} else {
			st.Connected = false
			st.Identity = ""
			log.Info("wallet disconnected, falling back to anonymous reads")
		}
		r.apply(st)
		r.resync(ctx)

	case EventChainChanged:
		// State read on the old chain is unsafe to keep; rebuild everything.
		log.Warnf("wallet switched to chain %d, reloading session and catalog", ev.ChainID)
		if r.refresher != nil {
			r.refresher.Reset()
		}
		st := r.State()
		st.ChainID = ev.ChainID
		r.apply(st)
		r.reload(ctx)
		r.resync(ctx)

	default:
		log.Warnf("ignoring unknown session event %d", int(ev.Kind))
	}
}

// reload re-queries the provider for the full session state.
func (r *Reactor) reload(ctx context.Context) {
	if r.provider == nil {
		r.apply(State{})
		return
	}

	st := r.State()
	accounts, err := r.provider.Accounts(ctx)
	if err != nil {
		log.Warnf("reading wallet accounts: %v", err)
		accounts = nil
	}
	if len(accounts) > 0 && !accounts[0].IsZero() {
		st.Connected = true
		st.Identity = accounts[0]
	} else {
		st.Connected = false
		st.Identity = ""
	}

	chainID, err := r.provider.ChainID(ctx)
	if err != nil {
		log.Warnf("reading wallet chain: %v", err)
	} else {
		st.ChainID = chainID
	}

	r.apply(st)
}

func (r *Reactor) apply(st State) {
	ac := r.selector.Select(st)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = st
	if ac == r.current {
		return
	}
	r.current = ac
	log.Infof("access context is now %s", ac)

	for _, ch := range r.subs {
		select {
		case ch <- ac:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ac
		}
	}
}

func (r *Reactor) resync(ctx context.Context) {
	if r.refresher == nil {
		return
	}
	ac := r.Current()
	// Reserved here, on the event goroutine, so event order decides
	// which result wins.
	run := r.refresher.Prepare(ac)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		if err := run(ctx); err != nil {
			log.Warnf("catalog resync under %s failed: %v", ac, err)
		}
	}()
}

// Poller turns provider polling into reactor events, for wallets that do not
// push notifications.
type Poller struct {
	provider Provider
	interval time.Duration
}

// NewPoller polls provider every interval (minimum one second).
func NewPoller(provider Provider, interval time.Duration) *Poller {
	if interval < time.Second {
		interval = time.Second
	}
	return &Poller{provider: provider, interval: interval}
}

// Run polls until ctx is cancelled. The first observation is the baseline
// and produces no event.
func (p *Poller) Run(ctx context.Context, notify func(context.Context, Event) error) error {
	var (
		lastAccounts []Identity
		lastChain    uint64
		baseline     bool
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		accounts, accErr := p.provider.Accounts(ctx)
		chainID, chainErr := p.provider.ChainID(ctx)

		switch {
		case accErr != nil || chainErr != nil:
			log.Debugf("wallet poll failed: accounts=%v chain=%v", accErr, chainErr)
		case !baseline:
			lastAccounts, lastChain, baseline = accounts, chainID, true
		default:
			if chainID != lastChain {
				lastChain = chainID
				if err := notify(ctx, Event{Kind: EventChainChanged, ChainID: chainID}); err != nil {
					return err
				}
			}
			if !sameAccounts(accounts, lastAccounts) {
				lastAccounts = accounts
				if err := notify(ctx, Event{Kind: EventAccountsChanged, Accounts: accounts}); err != nil {
					return err
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sameAccounts(a, b []Identity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
