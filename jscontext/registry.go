package jscontext

import (
	"sync"
	"weak"
)

// realmRegistry tracks the realms of a context using weak pointers, so
// the embedder decides their lifetime. A ring of ids is walked a batch at
// a time to drop collected or dying realms.
type realmRegistry struct {
	data map[uint64]weak.Pointer[Realm]

	// ring holds ids in creation order, 0 marks a removed slot
	ring []uint64

	// head is the scavenger's cursor into ring
	head int

	nextID uint64
	mu     sync.RWMutex

	// scavengeMu serializes scavenge passes
	scavengeMu sync.Mutex
}

func newRealmRegistry() *realmRegistry {
	return &realmRegistry{
		data:   make(map[uint64]weak.Pointer[Realm]),
		ring:   make([]uint64, 0, 16),
		nextID: 1,
	}
}

// add assigns r its id and registers it.
func (x *realmRegistry) add(r *Realm) {
	wp := weak.Make(r)

	x.mu.Lock()
	defer x.mu.Unlock()

	r.id = x.nextID
	x.nextID++

	x.data[r.id] = wp
	x.ring = append(x.ring, r.id)
}

func (x *realmRegistry) get(id uint64) *Realm {
	x.mu.RLock()
	wp, ok := x.data[id]
	x.mu.RUnlock()
	if !ok {
		return nil
	}
	return wp.Value()
}

func (x *realmRegistry) len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.data)
}

// Scavenge checks up to batchSize ring slots, removing realms that were
// collected or are dying. Returns the number removed.
func (x *realmRegistry) Scavenge(batchSize int) int {
	x.scavengeMu.Lock()
	defer x.scavengeMu.Unlock()

	if batchSize <= 0 {
		return 0
	}

	type item struct {
		wp  weak.Pointer[Realm]
		id  uint64
		idx int
	}

	x.mu.RLock()
	ringLen := len(x.ring)
	if ringLen == 0 {
		x.mu.RUnlock()
		return 0
	}
	start := x.head
	end := min(start+batchSize, ringLen)
	items := make([]item, 0, end-start)
	for i := start; i < end; i++ {
		id := x.ring[i]
		if id == 0 {
			continue
		}
		if wp, ok := x.data[id]; ok {
			items = append(items, item{wp: wp, id: id, idx: i})
		}
	}
	nextHead := end
	if nextHead >= ringLen {
		nextHead = 0
	}
	x.mu.RUnlock()

	cycleCompleted := nextHead == 0

	// checked outside the lock
	remove := items[:0]
	for _, it := range items {
		if r := it.wp.Value(); r == nil || r.IsDying() {
			remove = append(remove, it)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for _, it := range remove {
		delete(x.data, it.id)
		if it.idx < len(x.ring) && x.ring[it.idx] == it.id {
			x.ring[it.idx] = 0
		}
	}
	x.head = nextHead

	// compact when the load factor drops below 25%
	if cycleCompleted && len(x.ring) > 64 && len(x.data)*4 < len(x.ring) {
		x.compactAndRenew()
	}

	return len(remove)
}

// compactAndRenew drops removed slots from the ring and rebuilds the map,
// since delete does not shrink it. Must be called with mu held.
func (x *realmRegistry) compactAndRenew() {
	ring := make([]uint64, 0, len(x.data))
	data := make(map[uint64]weak.Pointer[Realm], len(x.data))
	for _, id := range x.ring {
		if id == 0 {
			continue
		}
		if wp, ok := x.data[id]; ok {
			ring = append(ring, id)
			data[id] = wp
		}
	}
	x.ring = ring
	x.data = data
	x.head = 0
}

// markAllDying marks every live realm as dying, and empties the registry.
func (x *realmRegistry) markAllDying() {
	x.mu.Lock()
	data := x.data
	x.data = make(map[uint64]weak.Pointer[Realm])
	x.ring = x.ring[:0]
	x.head = 0
	x.mu.Unlock()

	for _, wp := range data {
		if r := wp.Value(); r != nil {
			r.MarkDying()
		}
	}
}
