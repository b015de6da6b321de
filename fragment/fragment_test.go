package fragment

import (
	"bytes"
	"math/rand"
	"testing"
	"time"
)

func TestSplitReassembleRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 5, 1434, 1435, 64 * 1024}
	for _, size := range sizes {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}

		frags, err := Split(payload, 7, 1434)
		if err != nil {
			t.Fatalf("size %d: Split: %v", size, err)
		}

		asm := NewAssembler(DefaultCapacity, DefaultTimeout)
		now := time.Unix(0, 0)
		var got []byte
		for _, f := range frags {
			out, done, err := asm.Insert(f, now)
			if err != nil {
				t.Fatalf("size %d: Insert: %v", size, err)
			}
			if done {
				got = out
			}
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("size %d: reassembled mismatch (got %d bytes, want %d)", size, len(got), len(payload))
		}
	}
}

func TestReassembleOutOfOrder(t *testing.T) {
	payload := bytes.Repeat([]byte("xyz123"), 1000)
	frags, err := Split(payload, 1, 50)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	shuffled := append([]Fragment(nil), frags...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	asm := NewAssembler(DefaultCapacity, DefaultTimeout)
	now := time.Unix(0, 0)
	var got []byte
	for _, f := range shuffled {
		out, done, err := asm.Insert(f, now)
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if done {
			got = out
		}
	}
	if !bytes.Equal(got, payload) {
		t.Error("out-of-order reassembly did not reproduce the original payload")
	}
}

func TestAssemblerTimeoutEviction(t *testing.T) {
	asm := NewAssembler(DefaultCapacity, time.Second)
	start := time.Unix(0, 0)

	_, done, err := asm.Insert(Fragment{GroupID: 3, Index: 0, Total: 2, Payload: []byte("a")}, start)
	if err != nil || done {
		t.Fatalf("unexpected result inserting first fragment: done=%v err=%v", done, err)
	}
	if asm.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", asm.Len())
	}

	evicted := asm.Prune(start.Add(2 * time.Second))
	if len(evicted) != 1 || evicted[0] != 3 {
		t.Errorf("Prune evicted %v, want [3]", evicted)
	}
	if asm.Len() != 0 {
		t.Errorf("Len() after prune = %d, want 0", asm.Len())
	}
}

func TestAssemblerCapacityEviction(t *testing.T) {
	asm := NewAssembler(2, DefaultTimeout)
	now := time.Unix(0, 0)

	asm.Insert(Fragment{GroupID: 1, Index: 0, Total: 2, Payload: []byte("a")}, now)
	asm.Insert(Fragment{GroupID: 2, Index: 0, Total: 2, Payload: []byte("b")}, now)
	asm.Insert(Fragment{GroupID: 3, Index: 0, Total: 2, Payload: []byte("c")}, now)

	if asm.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", asm.Len())
	}
	if _, ok := asm.groups[1]; ok {
		t.Error("oldest group 1 should have been evicted to make room for group 3")
	}
}

func TestInsertRejectsTotalMismatch(t *testing.T) {
	asm := NewAssembler(DefaultCapacity, DefaultTimeout)
	now := time.Unix(0, 0)
	if _, _, err := asm.Insert(Fragment{GroupID: 1, Index: 0, Total: 2, Payload: []byte("a")}, now); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, _, err := asm.Insert(Fragment{GroupID: 1, Index: 1, Total: 3, Payload: []byte("b")}, now); err == nil {
		t.Error("expected error for a fragment total that changed mid-group")
	}
}

func TestInsertRejectsInvalidIndex(t *testing.T) {
	asm := NewAssembler(DefaultCapacity, DefaultTimeout)
	now := time.Unix(0, 0)
	if _, _, err := asm.Insert(Fragment{GroupID: 1, Index: 5, Total: 3, Payload: []byte("a")}, now); err == nil {
		t.Error("expected error for an out-of-range fragment index")
	}
}

func TestDuplicateFragmentDoesNotDoubleCount(t *testing.T) {
	asm := NewAssembler(DefaultCapacity, DefaultTimeout)
	now := time.Unix(0, 0)
	f := Fragment{GroupID: 9, Index: 0, Total: 2, Payload: []byte("a")}
	asm.Insert(f, now)
	if _, done, err := asm.Insert(f, now); err != nil || done {
		t.Fatalf("duplicate insert: done=%v err=%v", done, err)
	}
	out, done, err := asm.Insert(Fragment{GroupID: 9, Index: 1, Total: 2, Payload: []byte("b")}, now)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !done || string(out) != "ab" {
		t.Errorf("got done=%v out=%q, want done=true out=\"ab\"", done, out)
	}
}
