package seqnum

// Width is the number of SeqNums tracked by a BitField's received-history
// window.
const Width = 32

// InsertResult describes the outcome of inserting a SeqNum into a BitField.
type InsertResult int

const (
	// Inserted means s was new and is now marked received.
	Inserted InsertResult = iota
	// Duplicate means s was already within the window and already marked.
	Duplicate
	// TooOld means s is older than the window's trailing edge; it can no
	// longer be represented and is dropped for ack-bookkeeping purposes.
	TooOld
)

// BitField is a ring of Width bits keyed by SeqNum, tracking which of the
// most recent Width SeqNums preceding (and including) the head have been
// received. Bit 0 always corresponds to the head SeqNum itself.
type BitField struct {
	head SeqNum
	bits uint32
	set  bool
}

// NewBitField returns an empty BitField.
func NewBitField() *BitField {
	return &BitField{}
}

// Head returns the most recent SeqNum inserted, or Invalid if nothing has
// been inserted yet.
func (b *BitField) Head() SeqNum {
	return b.head
}

// Insert marks s as received, shifting the window forward if s is newer than
// the current head. Bits shifted out of the window represent packets that
// were never received and are permanently lost for ack purposes.
func (b *BitField) Insert(s SeqNum) InsertResult {
	if !b.set {
		b.head = s
		b.bits = 1
		b.set = true
		return Inserted
	}

	d := Diff(s, b.head)
	switch {
	case d == 0:
		return Duplicate
	case d > 0:
		// s is newer than head: shift the window forward by d and set head.
		if d >= Width {
			b.bits = 0
		} else {
			b.bits <<= uint(d)
		}
		b.bits |= 1
		b.head = s
		return Inserted
	default:
		// s is older than head: d is negative, "age" is -d slots behind head.
		age := -d
		if age >= Width {
			return TooOld
		}
		mask := uint32(1) << uint(age)
		if b.bits&mask != 0 {
			return Duplicate
		}
		b.bits |= mask
		return Inserted
	}
}

// Contains reports whether s is within the current window and marked
// received.
func (b *BitField) Contains(s SeqNum) bool {
	if !b.set {
		return false
	}
	d := Diff(s, b.head)
	if d > 0 {
		return false
	}
	age := -d
	if age >= Width {
		return false
	}
	return b.bits&(uint32(1)<<uint(age)) != 0
}

// State is an opaque snapshot of a BitField's internal window, used to
// revert a tentative Insert when a packet that looked new turns out to fail
// authentication (spec.md §4.5 step 2: "insert into BitField tentatively
// but revert on decrypt failure").
type State struct {
	head SeqNum
	bits uint32
	set  bool
}

// Snapshot captures the current window so it can be restored later.
func (b *BitField) Snapshot() State {
	return State{head: b.head, bits: b.bits, set: b.set}
}

// Restore reverts the window to a previously captured State.
func (b *BitField) Restore(s State) {
	b.head = s.head
	b.bits = s.bits
	b.set = s.set
}

// SnapshotRelativeTo returns the 32-bit ack_bits field for an outbound header
// whose ack field is set to `ack`: bit i (1..31) set means ack-i was
// received. Bit 0 (the ack value itself) is implied by the header's ack
// field and is not repeated in the snapshot returned here, so the wire
// ack_bits field describes the 31 SeqNums preceding ack.
func (b *BitField) SnapshotRelativeTo(ack SeqNum) uint32 {
	if !b.set {
		return 0
	}
	shift := Diff(b.head, ack)
	if shift < 0 {
		// ack is newer than anything we've recorded; nothing to report.
		return 0
	}
	shifted := b.bits >> uint(shift)
	// bit 0 of `shifted` now corresponds to `ack`; the wire format only
	// carries bits 1..31 (the 31 SeqNums preceding ack), so mask bit 0 out.
	return shifted &^ 1
}
