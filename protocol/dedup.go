package protocol

import "github.com/mpgameserver/mpgscore/seqnum"

// dedupCapacity is the LRU size for message-level duplicate suppression
// (spec.md §9 Open Question: strengthened from best-effort to a 1024-entry
// LRU keyed on msg_seq).
const dedupCapacity = 1024

// dedupSet tracks recently-seen message sequence numbers so a message
// delivered in a retried packet is never handed to the application twice.
// Not safe for concurrent use; Connection serializes access to it.
type dedupSet struct {
	capacity int
	seen     map[seqnum.SeqNum]int // seq -> ring slot
	ring     []seqnum.SeqNum
	next     int
}

func newDedupSet(capacity int) *dedupSet {
	if capacity <= 0 {
		capacity = dedupCapacity
	}
	return &dedupSet{
		capacity: capacity,
		seen:     make(map[seqnum.SeqNum]int, capacity),
		ring:     make([]seqnum.SeqNum, 0, capacity),
	}
}

// Insert reports whether s had not been seen before, and records it. Once
// the set is at capacity, the oldest entry is evicted to make room.
func (d *dedupSet) Insert(s seqnum.SeqNum) bool {
	if _, dup := d.seen[s]; dup {
		return false
	}

	if len(d.ring) < d.capacity {
		d.ring = append(d.ring, s)
		d.seen[s] = len(d.ring) - 1
	} else {
		evicted := d.ring[d.next]
		delete(d.seen, evicted)
		d.ring[d.next] = s
		d.seen[s] = d.next
		d.next = (d.next + 1) % d.capacity
	}
	return true
}

// Contains reports whether s is currently tracked.
func (d *dedupSet) Contains(s seqnum.SeqNum) bool {
	_, ok := d.seen[s]
	return ok
}
