package fragment

import (
	"container/list"
	"fmt"
	"time"
)

// DefaultCapacity bounds the number of fragment groups tracked at once
// (spec.md Design Notes #4, §9 Open Questions). Oldest incomplete group is
// evicted on overflow.
const DefaultCapacity = 64

// DefaultTimeout is how long an incomplete group is kept before it is
// dropped (spec.md §5: "enforce a per-group reassembly timeout (drop group
// if incomplete after, e.g., 5 s)").
const DefaultTimeout = 5 * time.Second

type group struct {
	total    uint32
	pieces   map[uint32][]byte
	received int
	deadline time.Time
	elem     *list.Element // position in the LRU list, keyed by GroupID
}

// Assembler reassembles fragments into complete messages, bounded to a
// fixed number of in-flight groups with a per-group timeout. Not safe for
// concurrent use; callers serialize access the way Connection serializes
// its receive path.
type Assembler struct {
	capacity int
	timeout  time.Duration
	groups   map[uint16]*group
	lru      *list.List // front = most recently touched
}

// NewAssembler builds a reassembly table with the given group capacity and
// per-group timeout.
func NewAssembler(capacity int, timeout time.Duration) *Assembler {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Assembler{
		capacity: capacity,
		timeout:  timeout,
		groups:   make(map[uint16]*group),
		lru:      list.New(),
	}
}

// Insert adds one fragment and reports whether its group is now complete.
// On completion, payload holds the fragments concatenated in index order
// and the group is removed from the table. An error indicates a
// malformed/inconsistent fragment (total mismatch), which callers should
// treat as a protocol violation and drop.
func (a *Assembler) Insert(f Fragment, now time.Time) (payload []byte, done bool, err error) {
	if f.Total == 0 || f.Index >= f.Total {
		return nil, false, fmt.Errorf("fragment: invalid index %d/%d for group %d", f.Index, f.Total, f.GroupID)
	}

	g, ok := a.groups[f.GroupID]
	if ok {
		if g.total != f.Total {
			return nil, false, fmt.Errorf("fragment: group %d total changed %d -> %d", f.GroupID, g.total, f.Total)
		}
		a.lru.MoveToFront(g.elem)
	} else {
		g = &group{total: f.Total, pieces: make(map[uint32][]byte, f.Total)}
		g.elem = a.lru.PushFront(f.GroupID)
		a.groups[f.GroupID] = g
		a.evictOverflow(f.GroupID)
	}
	g.deadline = now.Add(a.timeout)

	if _, dup := g.pieces[f.Index]; !dup {
		g.pieces[f.Index] = f.Payload
		g.received++
	}

	if uint32(g.received) < g.total {
		return nil, false, nil
	}

	out := make([]byte, 0, estimateSize(g))
	for i := uint32(0); i < g.total; i++ {
		out = append(out, g.pieces[i]...)
	}
	a.remove(f.GroupID)
	return out, true, nil
}

// Prune drops groups whose reassembly timeout has elapsed and returns their
// group ids, for callers that want to log or count the drop.
func (a *Assembler) Prune(now time.Time) []uint16 {
	var evicted []uint16
	for id, g := range a.groups {
		if now.After(g.deadline) {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		a.remove(id)
	}
	return evicted
}

// Len reports the number of groups currently in flight.
func (a *Assembler) Len() int {
	return len(a.groups)
}

func (a *Assembler) evictOverflow(justInserted uint16) {
	for len(a.groups) > a.capacity {
		back := a.lru.Back()
		if back == nil {
			return
		}
		id := back.Value.(uint16)
		if id == justInserted && len(a.groups) <= 1 {
			return
		}
		a.remove(id)
	}
}

func (a *Assembler) remove(id uint16) {
	g, ok := a.groups[id]
	if !ok {
		return
	}
	a.lru.Remove(g.elem)
	delete(a.groups, id)
}

func estimateSize(g *group) int {
	n := 0
	for _, p := range g.pieces {
		n += len(p)
	}
	return n
}
