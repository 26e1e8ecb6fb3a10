package ipserver

import (
	"math/bits"

	"github.com/backkem/hap/pkg/accessory"
)

// eventSet is the event subscription state of one session. Every entry is
// keyed by (aid, iid) and carries a pending flag.
type eventSet interface {
	// subscribe adds the characteristic. It returns false when the set is
	// full.
	subscribe(aid, iid uint64) bool
	unsubscribe(aid, iid uint64)
	isSubscribed(aid, iid uint64) bool

	// setPending flags a subscribed characteristic and reports whether it
	// is subscribed.
	setPending(aid, iid uint64) bool
	clearPending(aid, iid uint64)
	hasPending() bool

	// eachSubscribed and eachPending visit entries in a stable order.
	eachSubscribed(fn func(aid, iid uint64))
	eachPending(fn func(aid, iid uint64))

	len() int
	numPending() int
	reset()
}

func newEventSet(storage EventStorage, capacity int, db *accessory.Database) eventSet {
	if storage == EventStorageBitset {
		return newBitsetEventSet(db)
	}
	return &arrayEventSet{entries: make([]eventEntry, 0, capacity)}
}

type eventEntry struct {
	aid, iid uint64
	pending  bool
}

// arrayEventSet holds up to cap(entries) subscriptions.
type arrayEventSet struct {
	entries []eventEntry
}

func (a *arrayEventSet) find(aid, iid uint64) int {
	for i, e := range a.entries {
		if e.aid == aid && e.iid == iid {
			return i
		}
	}
	return -1
}

func (a *arrayEventSet) subscribe(aid, iid uint64) bool {
	if a.find(aid, iid) >= 0 {
		return true
	}
	if len(a.entries) == cap(a.entries) {
		return false
	}
	a.entries = append(a.entries, eventEntry{aid: aid, iid: iid})
	return true
}

func (a *arrayEventSet) unsubscribe(aid, iid uint64) {
	i := a.find(aid, iid)
	if i < 0 {
		return
	}
	a.entries = append(a.entries[:i], a.entries[i+1:]...)
}

func (a *arrayEventSet) isSubscribed(aid, iid uint64) bool { return a.find(aid, iid) >= 0 }

func (a *arrayEventSet) setPending(aid, iid uint64) bool {
	i := a.find(aid, iid)
	if i < 0 {
		return false
	}
	a.entries[i].pending = true
	return true
}

func (a *arrayEventSet) clearPending(aid, iid uint64) {
	if i := a.find(aid, iid); i >= 0 {
		a.entries[i].pending = false
	}
}

func (a *arrayEventSet) hasPending() bool { return a.numPending() > 0 }

func (a *arrayEventSet) eachSubscribed(fn func(aid, iid uint64)) {
	for _, e := range a.entries {
		fn(e.aid, e.iid)
	}
}

func (a *arrayEventSet) eachPending(fn func(aid, iid uint64)) {
	for _, e := range a.entries {
		if e.pending {
			fn(e.aid, e.iid)
		}
	}
}

func (a *arrayEventSet) len() int { return len(a.entries) }

func (a *arrayEventSet) numPending() int {
	n := 0
	for _, e := range a.entries {
		if e.pending {
			n++
		}
	}
	return n
}

func (a *arrayEventSet) reset() { a.entries = a.entries[:0] }

// bitsetEventSet indexes subscriptions by the database's dense enumeration
// of event-capable characteristics.
type bitsetEventSet struct {
	db         *accessory.Database
	subscribed []uint64
	pending    []uint64
}

func newBitsetEventSet(db *accessory.Database) *bitsetEventSet {
	words := (db.NumEventCharacteristics() + 63) / 64
	return &bitsetEventSet{
		db:         db,
		subscribed: make([]uint64, words),
		pending:    make([]uint64, words),
	}
}

func bit(i int) (word int, mask uint64) { return i / 64, 1 << (uint(i) % 64) }

func (b *bitsetEventSet) subscribe(aid, iid uint64) bool {
	i, ok := b.db.EventIndex(aid, iid)
	if !ok {
		return false
	}
	w, m := bit(i)
	b.subscribed[w] |= m
	return true
}

func (b *bitsetEventSet) unsubscribe(aid, iid uint64) {
	if i, ok := b.db.EventIndex(aid, iid); ok {
		w, m := bit(i)
		b.subscribed[w] &^= m
		b.pending[w] &^= m
	}
}

func (b *bitsetEventSet) isSubscribed(aid, iid uint64) bool {
	i, ok := b.db.EventIndex(aid, iid)
	if !ok {
		return false
	}
	w, m := bit(i)
	return b.subscribed[w]&m != 0
}

func (b *bitsetEventSet) setPending(aid, iid uint64) bool {
	i, ok := b.db.EventIndex(aid, iid)
	if !ok {
		return false
	}
	w, m := bit(i)
	if b.subscribed[w]&m == 0 {
		return false
	}
	b.pending[w] |= m
	return true
}

func (b *bitsetEventSet) clearPending(aid, iid uint64) {
	if i, ok := b.db.EventIndex(aid, iid); ok {
		w, m := bit(i)
		b.pending[w] &^= m
	}
}

func (b *bitsetEventSet) hasPending() bool {
	for _, w := range b.pending {
		if w != 0 {
			return true
		}
	}
	return false
}

func (b *bitsetEventSet) each(set []uint64, fn func(aid, iid uint64)) {
	for w, word := range set {
		for word != 0 {
			i := w*64 + bits.TrailingZeros64(word)
			word &= word - 1
			fn(b.db.EventAt(i))
		}
	}
}

func (b *bitsetEventSet) eachSubscribed(fn func(aid, iid uint64)) { b.each(b.subscribed, fn) }
func (b *bitsetEventSet) eachPending(fn func(aid, iid uint64))    { b.each(b.pending, fn) }

func count(set []uint64) int {
	n := 0
	for _, w := range set {
		n += bits.OnesCount64(w)
	}
	return n
}

func (b *bitsetEventSet) len() int        { return count(b.subscribed) }
func (b *bitsetEventSet) numPending() int { return count(b.pending) }

func (b *bitsetEventSet) reset() {
	clear(b.subscribed)
	clear(b.pending)
}
