package fanout

import (
	"sync"
	"sync/atomic"
)

const noSlot int32 = -1

// slot is one arena entry. It is on the active list while id != 0 and on the
// free list otherwise.
type slot struct {
	id      uint64
	handler Handler
	prev    int32
	next    int32
}

// ledger holds the dynamically registered handlers of one Subscription.
//
// Slots live in an arena and are addressed by index, so a Registration never
// aliases memory that was reused: the (slot, id) pair is checked under the
// lock and a recycled slot always carries a new id. Dispatch reads an
// immutable snapshot that is rebuilt lazily after a mutation, so registration
// churn never races a traversal.
type ledger struct {
	mu     sync.Mutex
	slots  []slot
	active int32
	free   int32
	nextID uint64
	count  int

	// snapshot is nil after a mutation until the next read rebuilds it.
	snapshot atomic.Pointer[[]Handler]
}

func newLedger() *ledger {
	l := &ledger{active: noSlot, free: noSlot, nextID: 1}
	empty := []Handler{}
	l.snapshot.Store(&empty)
	return l
}

// register links h at the head of the active list.
func (l *ledger) register(h Handler) Registration {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.free
	if idx != noSlot {
		l.free = l.slots[idx].next
	} else {
		l.slots = append(l.slots, slot{})
		idx = int32(len(l.slots) - 1)
	}

	s := &l.slots[idx]
	s.id = l.nextID
	l.nextID++
	s.handler = h
	s.prev = noSlot
	s.next = l.active
	if l.active != noSlot {
		l.slots[l.active].prev = idx
	}
	l.active = idx
	l.count++
	l.snapshot.Store(nil)

	return Registration{ledger: l, id: s.id, slot: idx}
}

// unregister removes the registration (id, idx). It returns false when the
// slot no longer holds that registration.
func (l *ledger) unregister(id uint64, idx int32) bool {
	if id == 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if idx < 0 || int(idx) >= len(l.slots) || l.slots[idx].id != id {
		return false
	}

	s := &l.slots[idx]
	if s.prev == noSlot {
		l.active = s.next
	} else {
		l.slots[s.prev].next = s.next
	}
	if s.next != noSlot {
		l.slots[s.next].prev = s.prev
	}
	l.recycle(idx)
	l.count--
	l.snapshot.Store(nil)
	return true
}

// unregisterAll detaches the whole active list and returns how many
// registrations were removed.
func (l *ledger) unregisterAll() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for idx := l.active; idx != noSlot; {
		next := l.slots[idx].next
		l.recycle(idx)
		idx = next
		n++
	}
	l.active = noSlot
	l.count = 0
	l.snapshot.Store(nil)
	return n
}

// recycle clears a slot and pushes it on the free list. Caller holds mu.
func (l *ledger) recycle(idx int32) {
	s := &l.slots[idx]
	s.id = 0
	s.handler = nil
	s.prev = noSlot
	s.next = l.free
	l.free = idx
}

// handlers returns the active handlers, most recently registered first. The
// returned slice is shared and must not be modified.
func (l *ledger) handlers() []Handler {
	if p := l.snapshot.Load(); p != nil {
		return *p
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if p := l.snapshot.Load(); p != nil {
		return *p
	}
	hs := make([]Handler, 0, l.count)
	for idx := l.active; idx != noSlot; idx = l.slots[idx].next {
		hs = append(hs, l.slots[idx].handler)
	}
	l.snapshot.Store(&hs)
	return hs
}

func (l *ledger) isActive(id uint64, idx int32) bool {
	if id == 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return idx >= 0 && int(idx) < len(l.slots) && l.slots[idx].id == id
}

func (l *ledger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Registration is the token returned by Subscription.AddHandler. It is a
// small comparable value; copies refer to the same registration.
//
// Unregister is safe to call any number of times from any goroutine. Once the
// handler is gone, or its slot has been reused by a later registration, it is
// a no-op. The zero Registration is valid and does nothing.
type Registration struct {
	ledger *ledger
	id     uint64
	slot   int32
}

// ID returns the ledger-local id, or 0 for the zero Registration.
func (r Registration) ID() uint64 { return r.id }

// Active reports whether the handler is still registered.
func (r Registration) Active() bool {
	return r.ledger != nil && r.ledger.isActive(r.id, r.slot)
}

// Unregister removes the handler. It returns true only for the call that
// actually removed it.
func (r Registration) Unregister() bool {
	if r.ledger == nil {
		return false
	}
	return r.ledger.unregister(r.id, r.slot)
}

// PluginRegistration aggregates the registrations of one plugin across
// several subscriptions.
type PluginRegistration struct {
	mu   sync.Mutex
	regs []Registration
}

func newPluginRegistration(regs []Registration) *PluginRegistration {
	return &PluginRegistration{regs: regs}
}

// Len returns the number of registrations not yet released.
func (p *PluginRegistration) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.regs)
}

// Unregister releases every registration and returns how many handlers were
// actually removed. Subsequent calls return 0.
func (p *PluginRegistration) Unregister() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	regs := p.regs
	p.regs = nil
	p.mu.Unlock()

	n := 0
	for _, r := range regs {
		if r.Unregister() {
			n++
		}
	}
	return n
}
